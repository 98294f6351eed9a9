package pagedoc

import (
	"fmt"
	"strings"
)

// tocCSS styles generated TOC markup. The page-number spans are floated
// right with dotted leaders; these rules apply identically during the
// measurement pass and final output, since the TOC's own page count depends
// on them.
const tocCSS = `
/* Table of contents */
nav.toc { break-after: page; page-break-after: always; }
nav.toc .toc-title { margin-bottom: 0.5em; }
nav.toc ol { list-style: none; padding-left: 1.2em; margin: 0; }
nav.toc > ol { padding-left: 0; }
nav.toc li { margin: 0.2em 0; }
nav.toc a { text-decoration: none; color: inherit; display: block; overflow: hidden; }
nav.toc .toc-text { float: left; }
nav.toc .toc-page { float: right; }
nav.toc .toc-entry { clear: both; }
`

// InjectCSS inserts a <style> block into HTML content.
// Tries </head> first, then <body>, then prepends to the HTML.
// CSS content is sanitized so it cannot break out of the style block.
func InjectCSS(htmlContent, cssContent string) string {
	if cssContent == "" {
		return htmlContent
	}

	styleBlock := "<style>" + sanitizeCSS(cssContent) + "</style>"
	lowerHTML := strings.ToLower(htmlContent)

	if idx := strings.Index(lowerHTML, "</head>"); idx != -1 {
		return htmlContent[:idx] + styleBlock + htmlContent[idx:]
	}
	if idx := strings.Index(lowerHTML, "<body"); idx != -1 {
		if closeIdx := strings.Index(htmlContent[idx:], ">"); closeIdx != -1 {
			insertPos := idx + closeIdx + 1
			return htmlContent[:insertPos] + styleBlock + htmlContent[insertPos:]
		}
	}
	return styleBlock + htmlContent
}

// sanitizeCSS escapes sequences that could close the <style> block early.
func sanitizeCSS(css string) string {
	return strings.ReplaceAll(css, "</", `<\/`)
}

// buildPageBreaksCSS generates CSS for page-break control.
// Heading keep-with-next rules are always active; breaks before H1/H2 and
// orphan/widow counts are configurable. Both rendering passes must carry
// these rules or measured page boundaries drift from final output.
func buildPageBreaksCSS(pb *PageBreaks) string {
	var buf strings.Builder

	buf.WriteString(`
/* Page breaks: prevent a heading alone at a page bottom */
h1, h2, h3, h4, h5, h6 {
  break-after: avoid;
  page-break-after: avoid;
  break-inside: avoid;
  page-break-inside: avoid;
}
`)

	orphans := DefaultOrphans
	widows := DefaultWidows
	if pb != nil {
		if pb.Orphans > 0 {
			orphans = pb.Orphans
		}
		if pb.Widows > 0 {
			widows = pb.Widows
		}
	}

	buf.WriteString(fmt.Sprintf(`
/* Page breaks: orphan/widow control */
p, li, dd, dt, blockquote {
  orphans: %d;
  widows: %d;
}
`, orphans, widows))

	if pb != nil && pb.BeforeH1 {
		buf.WriteString(`
/* Page breaks: before H1 */
h1 { break-before: page; page-break-before: always; }
body > h1:first-child { break-before: auto; page-break-before: auto; }
`)
	}
	if pb != nil && pb.BeforeH2 {
		buf.WriteString(`
/* Page breaks: before H2 */
h2 { break-before: page; page-break-before: always; }
`)
	}

	return buf.String()
}

// documentCSS assembles the full stylesheet for one request: page-break
// rules first, then TOC styling, then user CSS last so it can override.
func documentCSS(pctx *ProcessingContext) string {
	css := buildPageBreaksCSS(pctx.PageBreaks) + tocCSS
	if pctx.CSS != "" {
		css += "\n" + pctx.CSS
	}
	return css
}

// standaloneDocument wraps an HTML fragment in a complete HTML5 document
// when it is not one already. Measurement passes must load real documents,
// not fragments.
func standaloneDocument(content, title string) string {
	if strings.Contains(strings.ToLower(content), "<html") {
		return content
	}
	if title == "" {
		title = "Document"
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
%s
</body>
</html>`, title, content)
}
