package extract

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/personsearch/internal/crawler"
)

// Plan is a Target with its selectors parsed.
type Plan struct {
	target crawler.Target
	item   Selector
	fields []fieldPlan
}

type fieldPlan struct {
	name string
	sel  Selector
}

// Target returns the Target the plan was compiled from.
func (p *Plan) Target() crawler.Target {
	return p.target
}

// Compile validates every selector of target.
func Compile(target crawler.Target) (*Plan, error) {
	item, err := ParseSelector(target.ItemSelector)
	if err != nil {
		return nil, fmt.Errorf("target %q item selector: %w", target.Name, err)
	}
	if len(target.Fields) == 0 {
		return nil, fmt.Errorf("target %q: %w: no fields declared", target.Name, crawler.ErrInvalidSelector)
	}
	plan := &Plan{target: target, item: item}
	for _, name := range slices.Sorted(maps.Keys(target.Fields)) {
		sel, err := ParseSelector(target.Fields[name])
		if err != nil {
			return nil, fmt.Errorf("target %q field %q: %w", target.Name, name, err)
		}
		plan.fields = append(plan.fields, fieldPlan{name: name, sel: sel})
	}
	return plan, nil
}

// Extractor applies compiled plans to page bodies.
type Extractor struct {
	normalizeWhitespace bool
}

// New returns an Extractor. normalizeWhitespace collapses whitespace runs in
// every field value.
func New(normalizeWhitespace bool) *Extractor {
	return &Extractor{normalizeWhitespace: normalizeWhitespace}
}

// Extract parses body and returns the Records for each item node in document
// order. Items whose fields are all empty are skipped. The sequence can be
// ranged over any number of times and yields fresh Records each time.
func (e *Extractor) Extract(body string, plan *Plan) (iter.Seq[crawler.Record], error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s page: %w", plan.target.Name, err)
	}
	items := doc.FindMatcher(plan.item)
	return func(yield func(crawler.Record) bool) {
		for i := range items.Nodes {
			rec, ok := e.record(items.Eq(i), plan)
			if !ok {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}, nil
}

func (e *Extractor) record(node *goquery.Selection, plan *Plan) (crawler.Record, bool) {
	rec := crawler.Record{
		Source: plan.target.Name,
		Fields: make(map[string]string, len(plan.fields)),
	}
	populated := false
	for _, f := range plan.fields {
		value, text := resolve(node, f.sel)
		if text && e.normalizeWhitespace {
			value = normalizeSpace(value)
		}
		value = CSVSafe(value)
		if value != "" {
			populated = true
		}
		rec.Fields[f.name] = value
	}
	return rec, populated
}

// resolve finds the first descendant of node matching sel and returns its
// href, else its src, else its trimmed visible text. text reports which:
// attribute values are returned verbatim.
func resolve(node *goquery.Selection, sel Selector) (value string, text bool) {
	found := node.FindMatcher(sel).First()
	if found.Length() == 0 {
		return "", false
	}
	if href, ok := found.Attr("href"); ok {
		return href, false
	}
	if src, ok := found.Attr("src"); ok {
		return src, false
	}
	return strings.TrimSpace(visibleText(found.Get(0))), true
}

func visibleText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			b.WriteString(node.Data)
			return
		case html.ElementNode:
			switch node.Data {
			case "script", "style", "template", "noscript":
				return
			}
		case html.CommentNode:
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
