package pagedoc

import (
	"html"
	"strconv"
	"strings"
)

// defaultTOCTitle is used when TOCOptions.Title is empty.
const defaultTOCTitle = "Table of Contents"

// numberingState tracks hierarchical numbering for TOC entries.
// Supports normalization (first heading becomes level 1) and gap skipping.
type numberingState struct {
	counters     [6]int // counters[0] = level 1 count, etc.
	minLevelSeen int    // for normalization (0 = not set)
	lastLevel    int    // for tracking parent relationships
}

// next returns the next number string and effective depth for the given
// heading level, handling normalization and gap skipping.
func (n *numberingState) next(level int) (numStr string, effectiveDepth int) {
	if n.minLevelSeen == 0 {
		n.minLevelSeen = level
	}

	// Effective depth is 1-based and normalized to the shallowest heading.
	effectiveDepth = level - n.minLevelSeen + 1
	if effectiveDepth < 1 {
		effectiveDepth = 1
	}

	// Gap skipping: a jump like H1 -> H3 nests as a direct child.
	if n.lastLevel > 0 && effectiveDepth > n.lastLevel+1 {
		effectiveDepth = n.lastLevel + 1
	}

	for i := effectiveDepth; i < 6; i++ {
		n.counters[i] = 0
	}
	n.counters[effectiveDepth-1]++
	n.lastLevel = effectiveDepth

	var parts []string
	for i := 0; i < effectiveDepth; i++ {
		parts = append(parts, strconv.Itoa(n.counters[i]))
	}
	return strings.Join(parts, ".") + ".", effectiveDepth
}

// GenerateTOC creates TOC HTML for the given headings. When pages is
// non-nil, each entry that has a page number gets a trailing page-number
// span; headings missing from the map render without one (the degraded
// form used when measurement fails or an entry went unmatched).
func GenerateTOC(headings []Heading, pages map[string]int, opts *TOCOptions) string {
	if len(headings) == 0 {
		return ""
	}

	title := defaultTOCTitle
	if opts != nil && opts.Title != "" {
		title = opts.Title
	}

	var buf strings.Builder
	buf.WriteString(`<nav class="toc">`)
	buf.WriteString(`<h2 class="toc-title">`)
	buf.WriteString(html.EscapeString(title))
	buf.WriteString(`</h2>`)
	buf.WriteString(`<ol class="toc-list">`)

	numbering := &numberingState{}
	current := 0 // depth of the currently open <li>, 0 before the first entry

	for _, h := range headings {
		num, effectiveDepth := numbering.next(h.Level)

		switch {
		case current == 0:
			// First entry goes straight into the outer list.
		case effectiveDepth > current:
			// Gap skipping caps descent to one level, so a single nested
			// list inside the open <li> is always enough.
			buf.WriteString(`<ol>`)
		case effectiveDepth == current:
			buf.WriteString(`</li>`)
		default:
			buf.WriteString(`</li>`)
			for i := current; i > effectiveDepth; i-- {
				buf.WriteString(`</ol></li>`)
			}
		}
		current = effectiveDepth

		buf.WriteString(`<li class="toc-entry"><a href="#`)
		buf.WriteString(html.EscapeString(h.ID))
		buf.WriteString(`"><span class="toc-text">`)
		buf.WriteString(num)
		buf.WriteString(` `)
		buf.WriteString(html.EscapeString(h.Text))
		buf.WriteString(`</span>`)

		if pages != nil {
			if page, ok := pages[h.ID]; ok {
				buf.WriteString(`<span class="toc-page">`)
				buf.WriteString(strconv.Itoa(page))
				buf.WriteString(`</span>`)
			}
		}
		buf.WriteString(`</a>`)
	}

	if current > 0 {
		buf.WriteString(`</li>`)
		for i := current; i > 1; i-- {
			buf.WriteString(`</ol></li>`)
		}
	}
	buf.WriteString(`</ol></nav>`)
	return buf.String()
}

// InjectTOC inserts TOC HTML at the front of the document body.
// Tries after <body>; falls back to prepending.
func InjectTOC(htmlContent, tocHTML string) string {
	if tocHTML == "" {
		return htmlContent
	}

	lowerHTML := strings.ToLower(htmlContent)
	if idx := strings.Index(lowerHTML, "<body"); idx != -1 {
		if closeIdx := strings.Index(htmlContent[idx:], ">"); closeIdx != -1 {
			insertPos := idx + closeIdx + 1
			return htmlContent[:insertPos] + tocHTML + htmlContent[insertPos:]
		}
	}
	return tocHTML + htmlContent
}
