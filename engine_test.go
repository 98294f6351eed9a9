package pagedoc

import (
	"math"
	"os"
	"strings"
	"testing"
)

func TestBuildPrintOptions(t *testing.T) {
	opts := buildPrintOptions(ExportOptions{
		Page: &PageSettings{
			Size:    PageSizeA4,
			Margins: Margins{Top: "1in", Right: "1in", Bottom: "1in", Left: "1in"},
		},
	})

	wantWidth := 210.0 / 25.4 // A4 width in inches
	if math.Abs(*opts.PaperWidth-wantWidth) > 0.01 {
		t.Errorf("PaperWidth = %f, want %f", *opts.PaperWidth, wantWidth)
	}
	if math.Abs(*opts.MarginTop-1) > 0.001 {
		t.Errorf("MarginTop = %f, want 1 inch", *opts.MarginTop)
	}
	if opts.DisplayHeaderFooter {
		t.Error("header/footer enabled without request")
	}
	if !opts.PrintBackground {
		t.Error("backgrounds must print")
	}
}

func TestBuildPrintOptionsHeaderFooter(t *testing.T) {
	opts := buildPrintOptions(ExportOptions{
		Page:                &PageSettings{ShowPageNumbers: true},
		DisplayHeaderFooter: true,
		FooterHTML:          `<span class="pageNumber"></span>`,
	})

	if !opts.DisplayHeaderFooter {
		t.Fatal("DisplayHeaderFooter not set")
	}
	// An empty header template becomes an empty span, not an empty string;
	// the engine renders its default clutter otherwise.
	if opts.HeaderTemplate != "<span></span>" {
		t.Errorf("HeaderTemplate = %q", opts.HeaderTemplate)
	}
	if !strings.Contains(opts.FooterTemplate, "pageNumber") {
		t.Errorf("FooterTemplate = %q", opts.FooterTemplate)
	}

	// Page-number allowance folds into the printed margins.
	plain := buildPrintOptions(ExportOptions{Page: &PageSettings{}})
	if *opts.MarginTop <= *plain.MarginTop {
		t.Errorf("header allowance missing: %f <= %f", *opts.MarginTop, *plain.MarginTop)
	}
}

func TestWriteTempFile(t *testing.T) {
	path, cleanup, err := writeTempFile("<p>hello</p>", "html")
	if err != nil {
		t.Fatalf("writeTempFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading temp file: %v", err)
	}
	if string(data) != "<p>hello</p>" {
		t.Errorf("content = %q", data)
	}
	if !strings.HasSuffix(path, ".html") {
		t.Errorf("extension missing: %s", path)
	}

	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("cleanup did not remove the file")
	}
}
