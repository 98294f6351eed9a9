package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

// commonFlags holds flags shared across modes.
type commonFlags struct {
	config  string
	quiet   bool
	verbose bool
}

// pageFlags holds page layout flags.
type pageFlags struct {
	size        string
	orientation string
	margin      string
	pageNumbers bool
}

// tocFlags holds table of contents flags.
type tocFlags struct {
	enabled     bool
	title       string
	maxDepth    int
	pageNumbers bool
}

// renderFlags holds rendering-path flags.
type renderFlags struct {
	twoStage string // "auto", "on", "off"
	accurate bool
	workers  int
}

// diagramFlags holds diagram backend flags.
type diagramFlags struct {
	server   string
	plantuml string
}

// outputFlags holds output mode flags.
type outputFlags struct {
	output   string
	html     bool // write HTML alongside the PDF
	htmlOnly bool // write HTML only, skip PDF
}

// cliFlags holds all flags for one invocation.
type cliFlags struct {
	common  commonFlags
	page    pageFlags
	toc     tocFlags
	render  renderFlags
	diagram diagramFlags
	out     outputFlags
	style   string
	doctor  bool
	version bool
}

// addCommonFlags adds common flags to a FlagSet.
func addCommonFlags(fs *flag.FlagSet, f *commonFlags) {
	fs.StringVarP(&f.config, "config", "c", "", "config file name or path")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "only show errors")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "show detailed timing")
}

// addPageFlags adds page layout flags to a FlagSet.
func addPageFlags(fs *flag.FlagSet, f *pageFlags) {
	fs.StringVarP(&f.size, "page-size", "p", "", "page size: letter, a4, legal")
	fs.StringVar(&f.orientation, "orientation", "", "page orientation: portrait, landscape")
	fs.StringVar(&f.margin, "margin", "", "page margin as CSS length (e.g., 2cm, 0.5in)")
	fs.BoolVar(&f.pageNumbers, "page-numbers", false, "show page numbers in the footer")
}

// addTOCFlags adds TOC flags to a FlagSet.
func addTOCFlags(fs *flag.FlagSet, f *tocFlags) {
	fs.BoolVar(&f.enabled, "toc", false, "generate a table of contents")
	fs.StringVar(&f.title, "toc-title", "", "table of contents heading")
	fs.IntVar(&f.maxDepth, "toc-max-depth", 0, "max heading depth for TOC (1-6, default: 3)")
	fs.BoolVar(&f.pageNumbers, "toc-page-numbers", false, "show measured page numbers in the TOC")
}

// addRenderFlags adds rendering-path flags to a FlagSet.
func addRenderFlags(fs *flag.FlagSet, f *renderFlags) {
	fs.StringVar(&f.twoStage, "two-stage", "", "two-stage rendering: auto, on, off")
	fs.BoolVar(&f.accurate, "accurate-numbers", false, "pre-render for accurate page numbers")
	fs.IntVarP(&f.workers, "workers", "w", 0, "max render engines (0 = auto)")
}

// addDiagramFlags adds diagram backend flags to a FlagSet.
func addDiagramFlags(fs *flag.FlagSet, f *diagramFlags) {
	fs.StringVar(&f.server, "diagram-server", "", "remote diagram rendering service URL")
	fs.StringVar(&f.plantuml, "plantuml", "", "local plantuml executable")
}

// addOutputFlags adds output mode flags to a FlagSet.
func addOutputFlags(fs *flag.FlagSet, f *outputFlags) {
	fs.StringVarP(&f.output, "output", "o", "", "output file (default: input with .pdf extension)")
	fs.BoolVar(&f.html, "html", false, "output HTML alongside PDF")
	fs.BoolVar(&f.htmlOnly, "html-only", false, "output HTML only, skip PDF")
}

// parseFlags parses all flags and returns positional args.
func parseFlags(args []string) (*cliFlags, []string, error) {
	fs := flag.NewFlagSet("pagedoc", flag.ContinueOnError)
	f := &cliFlags{}

	addCommonFlags(fs, &f.common)
	addPageFlags(fs, &f.page)
	addTOCFlags(fs, &f.toc)
	addRenderFlags(fs, &f.render)
	addDiagramFlags(fs, &f.diagram)
	addOutputFlags(fs, &f.out)
	fs.StringVar(&f.style, "style", "", "CSS file appended after built-in rules")
	fs.BoolVar(&f.doctor, "doctor", false, "check the environment and exit")
	fs.BoolVar(&f.version, "version", false, "print the version and exit")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: pagedoc [flags] <input.md>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args[1:]); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}
