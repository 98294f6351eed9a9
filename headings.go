package pagedoc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// headingPattern matches h1-h6 tags.
// Captures: 1=level, 2=attributes, 3=inner HTML (may contain inline tags).
var headingPattern = regexp.MustCompile(`(?is)<h([1-6])([^>]*)>(.*?)</h[1-6]>`)

// idAttrPattern extracts an id attribute from a tag's attribute string.
var idAttrPattern = regexp.MustCompile(`(?i)\bid="([^"]*)"`)

// htmlTagPattern matches HTML tags for stripping from heading text.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// tocNavPattern matches a previously injected TOC section so measurement
// passes can run on content-only HTML.
var tocNavPattern = regexp.MustCompile(`(?is)<nav class="toc">.*?</nav>`)

// stripHTMLTags removes HTML tags from a string and trims whitespace.
func stripHTMLTags(s string) string {
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(s, ""))
}

// slugPattern keeps characters allowed in generated heading ids.
var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugify derives an anchor id from heading text.
func slugify(text string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(text), "-"), "-")
	if slug == "" {
		slug = "heading"
	}
	return slug
}

// ExtractHeadings parses HTML and returns all headings in document order.
// Headings without an id get a deterministic slug fallback; duplicate ids
// are disambiguated by appending -2, -3, ... in encounter order.
func ExtractHeadings(htmlContent string) []Heading {
	matches := headingPattern.FindAllStringSubmatch(htmlContent, -1)
	if len(matches) == 0 {
		return nil
	}

	used := make(map[string]bool, len(matches))
	headings := make([]Heading, 0, len(matches))
	for _, m := range matches {
		level, _ := strconv.Atoi(m[1])
		text := stripHTMLTags(m[3])

		id := ""
		if idm := idAttrPattern.FindStringSubmatch(m[2]); idm != nil {
			id = idm[1]
		}
		if id == "" {
			id = slugify(text)
		}

		// Suffix until the candidate is genuinely unused: counting base-id
		// occurrences alone would let a generated -N collide with a literal
		// id appearing elsewhere in the document.
		if used[id] {
			base := id
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s-%d", base, n)
				if !used[candidate] {
					id = candidate
					break
				}
			}
		}
		used[id] = true

		headings = append(headings, Heading{Level: level, Text: text, ID: id})
	}
	return headings
}

// FilterHeadings returns headings with level <= maxDepth, preserving order.
func FilterHeadings(headings []Heading, maxDepth int) []Heading {
	out := make([]Heading, 0, len(headings))
	for _, h := range headings {
		if h.Level <= maxDepth {
			out = append(out, h)
		}
	}
	return out
}

// EnsureHeadingIDs rewrites htmlContent so every heading element carries the
// id assigned by ExtractHeadings. The measurement script locates elements by
// id, so the ids in the DOM must match the heading list exactly. Elements
// are matched to the list by level and text, never by position: the list may
// be depth-filtered, and an element that is not on it must keep its own
// markup rather than absorb the next listed heading's id.
func EnsureHeadingIDs(htmlContent string, headings []Heading) string {
	i := 0
	return headingPattern.ReplaceAllStringFunc(htmlContent, func(match string) string {
		if i >= len(headings) {
			return match
		}

		m := headingPattern.FindStringSubmatch(match)
		level, _ := strconv.Atoi(m[1])
		h := headings[i]
		if h.Level != level || h.Text != stripHTMLTags(m[3]) {
			return match
		}
		i++

		attrs := m[2]
		if idm := idAttrPattern.FindStringSubmatch(attrs); idm != nil {
			if idm[1] == h.ID {
				return match
			}
			attrs = idAttrPattern.ReplaceAllString(attrs, fmt.Sprintf(`id="%s"`, h.ID))
		} else {
			attrs = fmt.Sprintf(` id="%s"`, h.ID) + attrs
		}
		return fmt.Sprintf("<h%s%s>%s</h%s>", m[1], attrs, m[3], m[1])
	})
}

// StripTOC removes any injected TOC section, returning content-only HTML for
// the measurement pass.
func StripTOC(htmlContent string) string {
	return tocNavPattern.ReplaceAllString(htmlContent, "")
}
