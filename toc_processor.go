package pagedoc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
)

// tocCacheTTL bounds how long processed TOC HTML stays cached.
const tocCacheTTL = 15 * time.Minute

// cachedTOC is the envelope stored in the content cache. The page-number map
// and details must survive a cache hit alongside the HTML, or cached requests
// would show numbers in the rendered TOC while reporting none.
type cachedTOC struct {
	HTML        string            `json:"html"`
	PageNumbers map[string]int    `json:"pageNumbers,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

// TOCProcessor generates the table of contents. It is the processor that
// drives the pagination algorithm: with page numbers requested it performs
// the full measure/measure/adjust cycle through the render-engine pool, and
// on any failure it degrades to a TOC without page numbers instead of
// failing the conversion.
type TOCProcessor struct {
	calc   *PaginationCalculator
	pool   *EnginePool
	logger *log.Logger
	cache  ContentCache
}

// Compile-time interface check.
var _ ContentProcessor = (*TOCProcessor)(nil)

// NewTOCProcessor creates a TOC processor backed by the given pool.
func NewTOCProcessor(pool *EnginePool, logger *log.Logger) *TOCProcessor {
	if logger == nil {
		logger = nopLogger
	}
	return &TOCProcessor{
		calc:   NewPaginationCalculator(pool, logger),
		pool:   pool,
		logger: logger.With("component", "toc"),
	}
}

// Type returns the processor tag.
func (p *TOCProcessor) Type() string { return "toc" }

// SetCache installs a content cache.
func (p *TOCProcessor) SetCache(cache ContentCache) { p.cache = cache }

// Detect reports 1 when a TOC is requested and the content has headings.
func (p *TOCProcessor) Detect(content string, pctx *ProcessingContext) float64 {
	if pctx.TOC == nil || !pctx.TOC.Enabled {
		return 0
	}
	if len(pctx.Headings) > 0 || len(ExtractHeadings(content)) > 0 {
		return 1
	}
	return 0
}

// Process injects a TOC into the content. Every heading id appearing in the
// final page-number map corresponds to a heading present in the document's
// heading list, and all page numbers are >= 1.
func (p *TOCProcessor) Process(ctx context.Context, content string, pctx *ProcessingContext) (*ProcessedContent, error) {
	start := time.Now()
	meta := ProcessingMetadata{Type: p.Type(), Details: map[string]string{}}

	headings := pctx.Headings
	if len(headings) == 0 {
		headings = ExtractHeadings(content)
	}
	headings = FilterHeadings(headings, pctx.TOC.depth())
	if len(headings) == 0 {
		meta.Duration = time.Since(start)
		return &ProcessedContent{HTML: content, Metadata: meta}, nil
	}

	// The DOM must carry the ids the heading list uses, both for in-engine
	// measurement and for the final anchor links.
	content = EnsureHeadingIDs(content, headings)

	key := CacheKey(p.Type(), content, pctx)
	if p.cache != nil {
		if cached, ok := p.cache.Get(ctx, key); ok {
			var entry cachedTOC
			// An undecodable entry counts as a miss and gets overwritten.
			if err := json.Unmarshal([]byte(cached), &entry); err == nil && entry.HTML != "" {
				meta.CacheHits++
				for k, v := range entry.Details {
					meta.Details[k] = v
				}
				meta.Duration = time.Since(start)
				return &ProcessedContent{HTML: entry.HTML, PageNumbers: entry.PageNumbers, Metadata: meta}, nil
			}
		}
		meta.CacheMisses++
	}

	var pages map[string]int

	if pctx.TOC.IncludePageNumbers {
		result, err := p.calc.Calculate(ctx, content, headings, pctx)
		if err != nil {
			// Degrade: headings only, no page numbers. The conversion
			// itself must not fail on measurement problems.
			p.logger.Warn("pagination failed, falling back to TOC without page numbers", "error", err)
			meta.Warnings = append(meta.Warnings, fmt.Sprintf("accurate page numbers unavailable: %v", err))
		} else {
			pages = result.PageNumbers
			meta.Warnings = append(meta.Warnings, result.Warnings...)
			meta.Details["tocPageCount"] = strconv.Itoa(result.TOCPageCount)
			meta.Details["contentPageCount"] = strconv.Itoa(result.ContentPageCount)
		}
	}

	tocHTML := GenerateTOC(headings, pages, pctx.TOC)
	finalHTML := InjectTOC(content, tocHTML)

	if p.cache != nil {
		if raw, err := json.Marshal(cachedTOC{HTML: finalHTML, PageNumbers: pages, Details: meta.Details}); err == nil {
			p.cache.Set(ctx, key, string(raw), tocCacheTTL)
		}
	}

	meta.Duration = time.Since(start)
	return &ProcessedContent{HTML: finalHTML, PageNumbers: pages, Metadata: meta}, nil
}

// Dimensions reports the TOC's own page count from processing metadata.
func (p *TOCProcessor) Dimensions(_ context.Context, processed *ProcessedContent, pctx *ProcessingContext) (*ContentDimensions, error) {
	dims := &ContentDimensions{PageCount: 1}
	if processed == nil {
		return dims, nil
	}
	if v, ok := processed.Metadata.Details["tocPageCount"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			dims.PageCount = n
		}
	}
	g := Geometry(pctx.Page)
	dims.Width = g.EffectiveWidth
	dims.Height = float64(dims.PageCount) * g.EffectiveHeight
	return dims, nil
}

// ValidateEnvironment checks that a render engine can be leased.
func (p *TOCProcessor) ValidateEnvironment(_ context.Context) *EnvironmentReport {
	report := &EnvironmentReport{IsSupported: true}
	if p.pool == nil {
		report.IsSupported = false
		report.Issues = append(report.Issues, "no render engine pool configured")
		report.Recommendations = append(report.Recommendations, "construct the processor through NewOrchestrator or pass a pool to NewTOCProcessor")
		return report
	}
	if stats := p.pool.Stats(); stats.MaxInstances < 1 {
		report.IsSupported = false
		report.Issues = append(report.Issues, "render engine pool has zero capacity")
	}
	if os.Getenv("ROD_BROWSER_BIN") == "" {
		report.Recommendations = append(report.Recommendations, "set ROD_BROWSER_BIN to a pre-installed Chrome/Chromium to skip the first-run download")
	}
	return report
}
