package pagedoc

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMarkdownToHTML(t *testing.T) {
	c := NewMarkdownConverter()
	ctx := context.Background()

	tests := []struct {
		name     string
		markdown string
		contains []string
	}{
		{
			name:     "headings get auto ids",
			markdown: "# Getting Started\n\nbody text",
			contains: []string{`<h1 id="getting-started">Getting Started</h1>`},
		},
		{
			name:     "gfm table",
			markdown: "| a | b |\n|---|---|\n| 1 | 2 |",
			contains: []string{"<table>", "<td>1</td>"},
		},
		{
			name:     "fenced code keeps language class",
			markdown: "```mermaid\ngraph TD; A-->B\n```",
			contains: []string{"language-mermaid"},
		},
		{
			name:     "footnotes",
			markdown: "text[^1]\n\n[^1]: the note",
			contains: []string{"footnote"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ToHTML(ctx, tt.markdown)
			if err != nil {
				t.Fatalf("ToHTML: %v", err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("output missing %q:\n%s", want, got)
				}
			}
		})
	}
}

func TestMarkdownToHTMLEmptyInput(t *testing.T) {
	c := NewMarkdownConverter()
	_, err := c.ToHTML(context.Background(), "")
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("got %v, want ErrEmptyContent", err)
	}
}

func TestMarkdownToHTMLCancelledContext(t *testing.T) {
	c := NewMarkdownConverter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ToHTML(ctx, "# heading")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestMarkdownToHTMLProducesExtractableHeadings(t *testing.T) {
	c := NewMarkdownConverter()

	got, err := c.ToHTML(context.Background(), "# One\n\n## Two\n\n## Two\n")
	if err != nil {
		t.Fatal(err)
	}

	headings := ExtractHeadings(got)
	if len(headings) != 3 {
		t.Fatalf("extracted %d headings, want 3", len(headings))
	}
	if headings[0].ID != "one" {
		t.Errorf("first id = %q, want one", headings[0].ID)
	}
	// Goldmark's own dedup produces distinct ids for duplicate headings, so
	// extraction must not collapse them.
	if headings[1].ID == headings[2].ID {
		t.Errorf("duplicate heading ids not distinct: %q", headings[1].ID)
	}
}
