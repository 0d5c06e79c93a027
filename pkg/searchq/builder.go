// Package searchq constructs arXiv API search_query strings.
package searchq

import (
	"fmt"
	"strings"
)

// QueryBuilder constructs safe arXiv search_query strings.
// All methods are pure functions with no side effects.
// Zero value is ready to use.
type QueryBuilder struct{}

// SearchParams defines inputs for a paper search.
type SearchParams struct {
	Topic      string
	Categories []string
	Keywords   []string
}

// BuildSearchQuery returns an arXiv search_query for a research topic,
// optionally restricted to subject categories and extra abstract keywords.
func (b QueryBuilder) BuildSearchQuery(p SearchParams) string {
	parts := []string{b.buildTopicTerm(p.Topic)}

	if kf := b.buildKeywordTerm(p.Keywords); kf != "" {
		parts = append(parts, kf)
	}
	if cf := b.buildCategoryTerm(p.Categories); cf != "" {
		parts = append(parts, cf)
	}

	return strings.Join(parts, " AND ")
}

func (b QueryBuilder) buildTopicTerm(topic string) string {
	return fmt.Sprintf(`all:%q`, sanitize(topic))
}

func (b QueryBuilder) buildKeywordTerm(keywords []string) string {
	if len(keywords) == 0 {
		return ""
	}
	terms := make([]string, len(keywords))
	for i, k := range keywords {
		terms[i] = fmt.Sprintf(`abs:%q`, sanitize(k))
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}

func (b QueryBuilder) buildCategoryTerm(categories []string) string {
	if len(categories) == 0 {
		return ""
	}
	terms := make([]string, len(categories))
	for i, c := range categories {
		terms[i] = "cat:" + sanitize(c)
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}

// sanitize strips the quote characters that would break out of a quoted
// term in the arXiv query grammar.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '"' || r == '\'' {
			return -1
		}
		return r
	}, s)
}
