package pagedoc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/charmbracelet/log"
	"github.com/samber/lo"
)

// Measurement retry policy: transient engine failures (crash, timeout,
// navigation failure) are retried with linear backoff before the caller
// degrades to a TOC without page numbers.
const (
	defaultMeasureAttempts = 3
	measureBackoffStep     = time.Second
)

// largeTOCHeadingThreshold triggers the extra-page correction. Documents
// with very large TOCs showed header/footer interaction rounding errors in
// practice; the +1 page is an empirically observed correction factor, not a
// derived formula.
const largeTOCHeadingThreshold = 200

// PaginationResult is the reconciled outcome of the 3-stage algorithm.
type PaginationResult struct {
	PageNumbers      map[string]int // heading id -> final (TOC-shifted) page number
	TOCPageCount     int
	ContentPageCount int
	Positions        []ElementPosition
	Warnings         []string
}

// PaginationCalculator resolves the TOC/page-number circular dependency by
// physically rendering twice: the TOC shifts every content page number by
// the number of pages the TOC occupies, but the TOC's own page count
// depends on the numbers it displays. Engine-side text reflow cannot be
// replicated analytically, so both measurements come from real renders.
type PaginationCalculator struct {
	pool        *EnginePool
	logger      *log.Logger
	maxAttempts uint
	loadTimeout time.Duration
}

// NewPaginationCalculator creates a calculator backed by the given pool.
func NewPaginationCalculator(pool *EnginePool, logger *log.Logger) *PaginationCalculator {
	if logger == nil {
		logger = nopLogger
	}
	return &PaginationCalculator{
		pool:        pool,
		logger:      logger.With("component", "pagination"),
		maxAttempts: defaultMeasureAttempts,
	}
}

// Calculate runs all three stages and returns the final heading-id ->
// page-number map. On error the caller must fall back to a TOC without page
// numbers; partial results are never returned.
func (c *PaginationCalculator) Calculate(ctx context.Context, contentHTML string, headings []Heading, pctx *ProcessingContext) (*PaginationResult, error) {
	start := time.Now()

	// Stage 1: measure real content page numbers on TOC-free HTML.
	measured, err := c.MeasureContentPages(ctx, contentHTML, headings, pctx)
	if err != nil {
		return nil, fmt.Errorf("%w: measuring content pages: %v", ErrMeasurement, err)
	}

	// Stage 2: measure how many pages the TOC itself occupies. The
	// candidate uses unadjusted page numbers: the shift only changes which
	// digits are printed, not the line count.
	candidate := GenerateTOC(headings, measured.HeadingPages, pctx.TOC)
	tocPages, warnings, err := c.MeasureTOCPages(ctx, candidate, len(headings), pctx)
	if err != nil {
		return nil, fmt.Errorf("%w: measuring TOC pages: %v", ErrMeasurement, err)
	}

	// Stage 3: reconcile. TOC occupies pages 1..tocPages, so content page N
	// becomes tocPages+N.
	adjusted := AdjustPageNumbers(measured.HeadingPages, tocPages)

	missing := lo.Filter(headings, func(h Heading, _ int) bool {
		_, ok := adjusted[h.ID]
		return !ok
	})
	for _, h := range missing {
		warnings = append(warnings, fmt.Sprintf("no measured page for heading %q (%s); entry will render without a page number", h.Text, h.ID))
	}

	c.logger.Debug("pagination calculated",
		"headings", len(headings),
		"contentPages", measured.ContentPageCount,
		"tocPages", tocPages,
		"duration", time.Since(start).Round(time.Millisecond))

	return &PaginationResult{
		PageNumbers:      adjusted,
		TOCPageCount:     tocPages,
		ContentPageCount: measured.ContentPageCount,
		Positions:        measured.Positions,
		Warnings:         warnings,
	}, nil
}

// measurement mirrors the JSON shape produced by the in-engine script.
type measurement struct {
	Positions []struct {
		ID   string  `json:"id"`
		Top  float64 `json:"top"`
		Page int     `json:"page"`
		Type string  `json:"type"`
	} `json:"positions"`
	ScrollHeight float64 `json:"scrollHeight"`
}

// MeasureContentPages is stage 1: load the content-only HTML with the exact
// final page geometry and read every heading's rendered offset.
func (c *PaginationCalculator) MeasureContentPages(ctx context.Context, contentHTML string, headings []Heading, pctx *ProcessingContext) (*RealPageNumbers, error) {
	g := Geometry(pctx.Page)

	doc := StripTOC(contentHTML)
	doc = EnsureHeadingIDs(doc, headings)
	doc = InjectCSS(standaloneDocument(doc, pctx.Title), documentCSS(pctx))

	ids := lo.Map(headings, func(h Heading, _ int) string { return h.ID })
	script := measurementScript(g, ids)

	var m measurement
	err := c.withEngine(ctx, func(engine RenderEngine) error {
		if err := engine.Load(ctx, doc, c.loadOptions(g)); err != nil {
			return err
		}
		m = measurement{}
		return engine.Evaluate(ctx, script, &m)
	})
	if err != nil {
		return nil, err
	}

	result := &RealPageNumbers{
		HeadingPages:     make(map[string]int, len(m.Positions)),
		ContentPageCount: TotalPages(m.ScrollHeight, g),
	}
	for _, pos := range m.Positions {
		page := pos.Page
		if page < 1 {
			page = 1
		}
		result.HeadingPages[pos.ID] = page
		result.Positions = append(result.Positions, ElementPosition{
			ID:          pos.ID,
			PageNumber:  page,
			OffsetTop:   pos.Top,
			ElementType: pos.Type,
		})
	}
	return result, nil
}

// MeasureTOCPages is stage 2: render the candidate TOC alone with identical
// page geometry and take the page count from an actual paginated export.
// The export is authoritative; a scroll-height estimate cross-checks it, and
// on disagreement beyond one page the larger value wins. Underestimating
// TOC pages corrupts every subsequent offset, so errors skew upward.
func (c *PaginationCalculator) MeasureTOCPages(ctx context.Context, tocHTML string, headingCount int, pctx *ProcessingContext) (int, []string, error) {
	g := Geometry(pctx.Page)
	page := pctx.Page.withDefaults()

	doc := InjectCSS(standaloneDocument(tocHTML, "Table of Contents"), documentCSS(pctx))

	var (
		exported int
		expected int
	)
	err := c.withEngine(ctx, func(engine RenderEngine) error {
		if err := engine.Load(ctx, doc, c.loadOptions(g)); err != nil {
			return err
		}

		pdf, err := engine.ExportPDF(ctx, ExportOptions{
			Page:                page,
			DisplayHeaderFooter: page.ShowPageNumbers || page.HeaderTemplate != "" || page.FooterTemplate != "",
			HeaderHTML:          page.HeaderTemplate,
			FooterHTML:          page.FooterTemplate,
		})
		if err != nil {
			return err
		}
		exported = CountPDFPages(pdf)

		var m measurement
		if err := engine.Evaluate(ctx, scrollHeightScript, &m); err != nil {
			return err
		}
		expected = TotalPages(m.ScrollHeight, g)
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	var warnings []string
	tocPages := exported
	if diff := exported - expected; diff > 1 || diff < -1 {
		tocPages = max(exported, expected)
		w := fmt.Sprintf("TOC page-count estimates disagree (export=%d, scroll=%d); using %d", exported, expected, tocPages)
		warnings = append(warnings, w)
		c.logger.Warn("TOC page-count estimates disagree", "export", exported, "scroll", expected, "using", tocPages)
	}

	if headingCount > largeTOCHeadingThreshold {
		tocPages++
		warnings = append(warnings, fmt.Sprintf("added one TOC page for %d headings (empirical correction above %d)", headingCount, largeTOCHeadingThreshold))
	}

	if tocPages < 1 {
		tocPages = 1
	}
	return tocPages, warnings, nil
}

// AdjustPageNumbers is stage 3's core: shift every measured page number by
// the TOC's page count. The key set is preserved exactly.
func AdjustPageNumbers(headingPages map[string]int, tocPageCount int) map[string]int {
	adjusted := make(map[string]int, len(headingPages))
	for id, page := range headingPages {
		adjusted[id] = page + tocPageCount
	}
	return adjusted
}

// withEngine runs fn with a leased engine, retrying transient failures with
// linear backoff. The handle is released before every retry and on every
// exit path; leaking one would permanently shrink pool capacity.
func (c *PaginationCalculator) withEngine(ctx context.Context, fn func(RenderEngine) error) error {
	attempt := 0
	return retry.Do(
		func() error {
			attempt++
			h, err := c.pool.Acquire(ctx)
			if err != nil {
				return err
			}
			defer c.pool.Release(h)

			if err := fn(h.Engine()); err != nil {
				c.logger.Warn("measurement attempt failed", "attempt", attempt, "error", err)
				return err
			}
			return nil
		},
		retry.Attempts(c.maxAttempts),
		retry.Context(ctx),
		retry.DelayType(linearBackoff),
		retry.LastErrorOnly(true),
	)
}

// linearBackoff waits attempt*measureBackoffStep between tries.
func linearBackoff(n uint, _ error, _ *retry.Config) time.Duration {
	return time.Duration(n+1) * measureBackoffStep
}

func (c *PaginationCalculator) loadOptions(g PageGeometry) LoadOptions {
	return LoadOptions{
		Timeout:        c.loadTimeout,
		ViewportWidth:  int(g.Width),
		ViewportHeight: int(g.Height),
	}
}

// scrollHeightScript reads the document's total scroll height.
const scrollHeightScript = `() => {
	return { positions: [], scrollHeight: document.documentElement.scrollHeight };
}`

// measurementScript builds the in-engine measurement function. The page
// formula, floor(max(0, top - marginTop) / effectiveHeight) + 1, is
// serialized from the same constants MarginCalculator uses so both sides of
// the engine boundary agree on rounding.
func measurementScript(g PageGeometry, ids []string) string {
	idsJSON, _ := json.Marshal(ids)
	return fmt.Sprintf(`() => {
	const marginTop = %.6f;
	const pageHeight = %.6f;
	const ids = %s;
	const positions = [];
	for (const id of ids) {
		const el = document.getElementById(id);
		if (!el) { continue; }
		const top = el.getBoundingClientRect().top + window.scrollY;
		const page = pageHeight > 0 ? Math.floor(Math.max(0, top - marginTop) / pageHeight) + 1 : 1;
		positions.push({ id: id, top: top, page: page, type: el.tagName.toLowerCase() });
	}
	return { positions: positions, scrollHeight: document.documentElement.scrollHeight };
}`, g.MarginTop, g.EffectiveHeight, string(idsJSON))
}
