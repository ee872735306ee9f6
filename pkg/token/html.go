package token

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagRe    = regexp.MustCompile(`(?is)<\s*/?\s*([a-zA-Z][a-zA-Z0-9]*)\b[^>]*>`)
	attrRe   = regexp.MustCompile(`(?is)\b(href|src)\s*=\s*("([^"]*)"|'([^']*)'|([^\s>]+))`)
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
)

// htmlTags returns the lowercased tag names found in body, in document
// order (spec.md §4.2: "HTML tags in body" -> html.tag).
func htmlTags(body string) []string {
	matches := tagRe.FindAllStringSubmatch(body, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, strings.ToLower(m[1]))
	}
	return tags
}

// htmlAttrLinks returns every href/src attribute value found in body, in
// document order, for URL extraction from markup (spec.md §4.2).
func htmlAttrLinks(body string) []string {
	matches := attrRe.FindAllStringSubmatch(body, -1)
	links := make([]string, 0, len(matches))
	for _, m := range matches {
		for _, v := range m[3:] {
			if v != "" {
				links = append(links, v)
				break
			}
		}
	}
	return links
}

// stripHTML removes comments and tags, leaving plain text for word
// splitting. Entities are resolved first so "&amp;lt;" does not reappear
// as a tag after unescaping (spec.md §4.2: "HTML entities resolved before
// tokenizing").
func stripHTML(body string) string {
	body = html.UnescapeString(body)
	body = commentRe.ReplaceAllString(body, " ")
	body = tagRe.ReplaceAllString(body, " ")
	return body
}
