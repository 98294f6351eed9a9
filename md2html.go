package pagedoc

import (
	"bytes"
	"context"
	"fmt"
	stdhtml "html"
	"regexp"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	highlighting "github.com/yuin/goldmark-highlighting/v2"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// diagramFencePattern matches fenced diagram blocks in raw Markdown.
var diagramFencePattern = regexp.MustCompile("(?ms)^```(mermaid|plantuml|dot|graphviz)[ \t]*\n(.*?)\n?```[ \t]*$")

// defaultCodeStyle is the Chroma style for highlighted code blocks.
const defaultCodeStyle = "github"

// MarkdownConverter converts Markdown to an HTML fragment ready for the
// processing pipeline. Heading anchors are auto-generated so the TOC and the
// measurement pass share stable ids with the DOM.
type MarkdownConverter struct {
	md goldmark.Markdown
}

// NewMarkdownConverter creates a converter with GFM extensions and syntax
// highlighting. Diagram fences (mermaid, plantuml, dot) come out as
// language-tagged code blocks, which is exactly what the diagram processor
// matches on.
func NewMarkdownConverter() *MarkdownConverter {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,      // Tables, strikethrough, autolinks, task lists
			extension.Footnote, // [^1] footnotes
			highlighting.NewHighlighting(
				highlighting.WithStyle(defaultCodeStyle),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(false), // inline styles survive CSS injection
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithXHTML(),  // Self-closing tags
			html.WithUnsafe(), // Protected diagram fences pass through as raw HTML
		),
	)
	return &MarkdownConverter{md: md}
}

// protectDiagramFences rewrites diagram fences into raw HTML code blocks
// before conversion. The syntax highlighter would otherwise replace them
// with styled markup and lose the language class the diagram stage keys on.
func protectDiagramFences(markdown string) string {
	return diagramFencePattern.ReplaceAllStringFunc(markdown, func(match string) string {
		m := diagramFencePattern.FindStringSubmatch(match)
		return fmt.Sprintf("\n<pre><code class=\"language-%s\">%s</code></pre>\n", m[1], stdhtml.EscapeString(m[2]))
	})
}

// ToHTML converts Markdown content to an HTML fragment.
// Supports context cancellation via goroutine + select pattern since
// Goldmark doesn't natively support context.
func (c *MarkdownConverter) ToHTML(ctx context.Context, content string) (string, error) {
	if content == "" {
		return "", ErrEmptyContent
	}
	// Fast path: check context before starting
	if err := ctx.Err(); err != nil {
		return "", err
	}

	type result struct {
		html string
		err  error
	}

	done := make(chan result, 1)

	go func() {
		var buf bytes.Buffer
		if err := c.md.Convert([]byte(protectDiagramFences(content)), &buf); err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrHTMLConversion, err)}
			return
		}
		done <- result{html: buf.String()}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.html, r.err
	}
}
