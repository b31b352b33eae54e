package extract

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/JakeFAU/personsearch/internal/crawler"
)

// SelectorKind enumerates the supported selector forms.
type SelectorKind int

// Supported selector forms.
const (
	ByClass SelectorKind = iota + 1
	ByID
	ByTag
	ByAttributePresence
)

func (k SelectorKind) String() string {
	switch k {
	case ByClass:
		return "class"
	case ByID:
		return "id"
	case ByTag:
		return "tag"
	case ByAttributePresence:
		return "attribute"
	default:
		return "unknown"
	}
}

// Selector is a restricted CSS selector: ".class", "#id", "tag", "[attr]" or
// "tag[attr]". It implements goquery.Matcher.
type Selector struct {
	Kind SelectorKind
	// Tag restricts ByAttributePresence to one element name; empty matches any.
	Tag string
	// Name is the class, id, tag or attribute name depending on Kind.
	Name string
}

// ParseSelector converts selector text into a Selector.
func ParseSelector(raw string) (Selector, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Selector{}, fmt.Errorf("%w: empty selector", crawler.ErrInvalidSelector)
	}

	var sel Selector
	switch {
	case strings.HasPrefix(s, "."):
		sel = Selector{Kind: ByClass, Name: s[1:]}
	case strings.HasPrefix(s, "#"):
		sel = Selector{Kind: ByID, Name: s[1:]}
	case strings.HasSuffix(s, "]"):
		open := strings.IndexByte(s, '[')
		if open < 0 {
			return Selector{}, fmt.Errorf("%w: %q", crawler.ErrInvalidSelector, raw)
		}
		sel = Selector{
			Kind: ByAttributePresence,
			Tag:  strings.ToLower(s[:open]),
			Name: strings.ToLower(strings.TrimSpace(s[open+1 : len(s)-1])),
		}
		if sel.Tag != "" && !validName(sel.Tag) {
			return Selector{}, fmt.Errorf("%w: %q", crawler.ErrInvalidSelector, raw)
		}
	default:
		sel = Selector{Kind: ByTag, Name: strings.ToLower(s)}
	}
	if !validName(sel.Name) {
		return Selector{}, fmt.Errorf("%w: %q", crawler.ErrInvalidSelector, raw)
	}
	return sel, nil
}

// MustParseSelector is ParseSelector for literals known to be valid.
func MustParseSelector(raw string) Selector {
	sel, err := ParseSelector(raw)
	if err != nil {
		panic(err)
	}
	return sel
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

func (s Selector) String() string {
	switch s.Kind {
	case ByClass:
		return "." + s.Name
	case ByID:
		return "#" + s.Name
	case ByAttributePresence:
		return s.Tag + "[" + s.Name + "]"
	default:
		return s.Name
	}
}

// Match reports whether n itself satisfies the selector.
func (s Selector) Match(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	switch s.Kind {
	case ByClass:
		value, ok := attr(n, "class")
		if !ok {
			return false
		}
		for _, class := range strings.Fields(value) {
			if class == s.Name {
				return true
			}
		}
		return false
	case ByID:
		value, ok := attr(n, "id")
		return ok && value == s.Name
	case ByTag:
		return n.Data == s.Name
	case ByAttributePresence:
		if s.Tag != "" && n.Data != s.Tag {
			return false
		}
		_, ok := attr(n, s.Name)
		return ok
	default:
		return false
	}
}

// MatchAll returns n and its descendants that match, in document order.
func (s Selector) MatchAll(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if s.Match(node) {
			out = append(out, node)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// Filter keeps the nodes that match.
func (s Selector) Filter(nodes []*html.Node) []*html.Node {
	out := make([]*html.Node, 0, len(nodes))
	for _, n := range nodes {
		if s.Match(n) {
			out = append(out, n)
		}
	}
	return out
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
