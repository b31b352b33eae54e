package pipeline

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/personsearch/internal/crawler"
)

// DefaultMaxQueryLength bounds a query, in runes, when no limit is configured.
const DefaultMaxQueryLength = 200

// QueryPlaceholder marks where a URL template receives the query.
const QueryPlaceholder = "{query}"

// SanitizeQuery replaces control characters with spaces, trims, and truncates
// to maxLen runes. An empty result is ErrInvalidQuery.
func SanitizeQuery(query string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxQueryLength
	}
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, query)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "", fmt.Errorf("%w: query is empty", crawler.ErrInvalidQuery)
	}
	if runes := []rune(cleaned); len(runes) > maxLen {
		cleaned = strings.TrimRight(string(runes[:maxLen]), " ")
	}
	return cleaned, nil
}

// BuildURL substitutes query into template. A placeholder inside the query
// string receives the escaped value directly; anywhere else the placeholder is
// dropped and q=<query> is appended.
func BuildURL(template, query string) (string, error) {
	idx := strings.Index(template, QueryPlaceholder)
	if idx < 0 {
		return "", fmt.Errorf("%w: %q has no %s placeholder", crawler.ErrInvalidTemplate, template, QueryPlaceholder)
	}
	escaped := url.QueryEscape(query)

	var built string
	if q := strings.IndexByte(template, '?'); q >= 0 && q < idx {
		built = strings.ReplaceAll(template, QueryPlaceholder, escaped)
	} else {
		base := strings.ReplaceAll(template, QueryPlaceholder, "")
		param := url.Values{"q": {query}}.Encode()
		switch {
		case strings.HasSuffix(base, "?"), strings.HasSuffix(base, "&"):
			built = base + param
		case strings.Contains(base, "?"):
			built = base + "&" + param
		default:
			built = base + "?" + param
		}
	}

	parsed, err := url.Parse(built)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: %q is not an absolute URL", crawler.ErrInvalidTemplate, template)
	}
	return built, nil
}
