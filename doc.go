// Package pagedoc converts HTML documents into paginated PDF output with an
// accurate, page-numbered table of contents.
//
// Page boundaries are only known after a real layout pass inside a headless
// browser, and inserting the TOC shifts every page number by however many
// pages the TOC itself occupies. The package resolves that circular
// dependency by rendering twice: a measurement pass discovers real page
// boundaries and the TOC's own page count, then a final pass assembles the
// document with reconciled page numbers.
//
// The main entry point is Orchestrator.Render:
//
//	orch := pagedoc.NewOrchestrator()
//	defer orch.Close()
//
//	result, err := orch.Render(ctx, htmlContent, &pagedoc.ProcessingContext{
//	    TOC:  &pagedoc.TOCOptions{Enabled: true, IncludePageNumbers: true},
//	    Page: pagedoc.DefaultPageSettings(),
//	})
//
// Internal failures degrade the output (a TOC without page numbers, content
// passed through unmodified) and surface as warnings in the result metadata
// rather than as errors.
package pagedoc
