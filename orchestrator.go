package pagedoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Orchestrator coordinates one conversion request end to end: decide whether
// the two-stage path is warranted, run content processors in their fixed
// order, and aggregate warnings, cache statistics and timings into a single
// result. A failing processor degrades the result instead of failing it;
// Render returns an error only for invalid input or a cancelled context.
type Orchestrator struct {
	logger    *log.Logger
	pool      *EnginePool
	cache     ContentCache
	detector  *ContentDetector
	registry  *ProcessorRegistry
	closeOnce sync.Once
	closeErr  error
}

// Option configures an Orchestrator.
type Option func(*orchestratorConfig)

type orchestratorConfig struct {
	logger     *log.Logger
	pool       *EnginePool
	poolCfg    PoolConfig
	factory    EngineFactory
	cache      ContentCache
	diagram    DiagramConfig
	extraProcs []ContentProcessor
}

// WithLogger sets the structured logger used by all components.
func WithLogger(logger *log.Logger) Option {
	return func(c *orchestratorConfig) { c.logger = logger }
}

// WithPool supplies an externally managed engine pool. The orchestrator will
// not close it.
func WithPool(pool *EnginePool) Option {
	return func(c *orchestratorConfig) { c.pool = pool }
}

// WithPoolConfig tunes the pool the orchestrator creates. Ignored when
// WithPool is also given.
func WithPoolConfig(cfg PoolConfig) Option {
	return func(c *orchestratorConfig) { c.poolCfg = cfg }
}

// WithEngineFactory overrides how render engines are created.
func WithEngineFactory(factory EngineFactory) Option {
	return func(c *orchestratorConfig) { c.factory = factory }
}

// WithCache installs a content cache shared by all processors.
func WithCache(cache ContentCache) Option {
	return func(c *orchestratorConfig) { c.cache = cache }
}

// WithDiagramConfig configures the diagram processor's backends.
func WithDiagramConfig(cfg DiagramConfig) Option {
	return func(c *orchestratorConfig) { c.diagram = cfg }
}

// WithProcessor registers an additional processor after the built-in ones,
// or replaces a built-in sharing its type tag.
func WithProcessor(p ContentProcessor) Option {
	return func(c *orchestratorConfig) { c.extraProcs = append(c.extraProcs, p) }
}

// NewOrchestrator builds an orchestrator with the default processor chain
// (diagrams first, then TOC) around a render-engine pool.
func NewOrchestrator(opts ...Option) *Orchestrator {
	cfg := &orchestratorConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = defaultLogger()
	}

	pool := cfg.pool
	owned := false
	if pool == nil {
		pc := cfg.poolCfg
		if pc.Factory == nil {
			pc.Factory = cfg.factory
		}
		if pc.Factory == nil {
			pc.Factory = NewRodEngineFactory(0)
		}
		if pc.Logger == nil {
			pc.Logger = logger
		}
		pool = NewEnginePool(pc)
		owned = true
	}

	procs := []ContentProcessor{
		NewDiagramProcessor(cfg.diagram, logger),
		NewTOCProcessor(pool, logger),
	}
	procs = append(procs, cfg.extraProcs...)

	registry := NewProcessorRegistry(procs...)
	if cfg.cache != nil {
		for _, p := range registry.All() {
			p.SetCache(cfg.cache)
		}
	}

	o := &Orchestrator{
		logger:   logger.With("component", "orchestrator"),
		pool:     pool,
		cache:    cfg.cache,
		detector: NewContentDetector(logger),
		registry: registry,
	}
	if !owned {
		// Externally managed pool: Close becomes a no-op for it.
		o.closeOnce.Do(func() {})
	}
	return o
}

// Registry exposes the processor chain, mainly for environment validation.
func (o *Orchestrator) Registry() *ProcessorRegistry { return o.registry }

// Pool exposes the underlying engine pool for stats and final export.
func (o *Orchestrator) Pool() *EnginePool { return o.pool }

// Render processes content through the full pipeline and returns the final
// HTML plus everything measured along the way. No panic escapes: a panicking
// detector falls back to single-stage, a panicking processor is skipped with
// a warning, and the original content survives worst case untouched.
func (o *Orchestrator) Render(ctx context.Context, content string, pctx *ProcessingContext) (*RenderingResult, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	if pctx == nil {
		return nil, ErrNilContext
	}
	if err := pctx.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &RenderingResult{HTML: content}

	decision := o.detect(content, pctx, result)
	result.UsedTwoStageRendering = decision.UseTwoStage

	epctx := o.effectiveContext(pctx, decision, result)

	current := content
	for _, p := range o.registry.All() {
		if p.Detect(current, epctx) <= 0 {
			continue
		}

		procStart := time.Now()
		processed, err := o.safeProcess(ctx, p, current, epctx)
		elapsed := time.Since(procStart)

		if err != nil {
			// Content continues through the chain unchanged.
			o.logger.Warn("processor failed, content passed through", "type", p.Type(), "error", err)
			result.Metadata.Warnings = append(result.Metadata.Warnings, fmt.Sprintf("%s processing skipped: %v", p.Type(), err))
			continue
		}

		current = processed.HTML
		result.Metadata.ProcessedContentTypes = append(result.Metadata.ProcessedContentTypes, p.Type())
		result.Metadata.Warnings = append(result.Metadata.Warnings, processed.Metadata.Warnings...)
		result.Metadata.CacheHits += processed.Metadata.CacheHits
		result.Metadata.CacheMisses += processed.Metadata.CacheMisses

		// The TOC processor's measurement passes are the pre-render cost.
		if p.Type() == "toc" && decision.UseTwoStage {
			result.Performance.PreRender += elapsed
		}

		if len(processed.PageNumbers) > 0 {
			result.PageNumbers = processed.PageNumbers
		}
	}

	result.HTML = current
	result.Performance.Total = time.Since(start)
	result.Performance.FinalRender = result.Performance.Total - result.Performance.PreRender

	o.logger.Info("render complete",
		"twoStage", result.UsedTwoStageRendering,
		"processors", result.Metadata.ProcessedContentTypes,
		"warnings", len(result.Metadata.Warnings),
		"duration", result.Performance.Total.Round(time.Millisecond))
	return result, nil
}

// detect runs the two-stage decision with panic containment. A detector
// failure means single-stage rendering, never a failed request.
func (o *Orchestrator) detect(content string, pctx *ProcessingContext, result *RenderingResult) (dec *DetectionDecision) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("content detection panicked, using single-stage rendering", "panic", r)
			result.Metadata.Warnings = append(result.Metadata.Warnings, fmt.Sprintf("content detection failed: %v", r))
			dec = &DetectionDecision{Reasons: []string{"detection failed"}, Priority: priorityLow}
		}
	}()
	return o.detector.Detect(content, pctx)
}

// effectiveContext derives the per-request context the processors see. When
// the two-stage path is off, page-number measurement is disabled so the TOC
// renders without numbers instead of guessing them.
func (o *Orchestrator) effectiveContext(pctx *ProcessingContext, dec *DetectionDecision, result *RenderingResult) *ProcessingContext {
	if dec.UseTwoStage || pctx.TOC == nil || !pctx.TOC.IncludePageNumbers {
		return pctx
	}
	out := pctx.Clone(false)
	toc := *pctx.TOC
	toc.IncludePageNumbers = false
	out.TOC = &toc
	result.Metadata.Warnings = append(result.Metadata.Warnings, "TOC page numbers omitted: two-stage rendering not selected")
	return out
}

// safeProcess invokes one processor with panic containment.
func (o *Orchestrator) safeProcess(ctx context.Context, p ContentProcessor, content string, pctx *ProcessingContext) (processed *ProcessedContent, err error) {
	defer func() {
		if r := recover(); r != nil {
			processed = nil
			err = fmt.Errorf("processor %s panicked: %v", p.Type(), r)
		}
	}()
	return p.Process(ctx, content, pctx)
}

// ExportPDF renders processed HTML to PDF bytes with the same page geometry
// the measurement passes used. Call it with the HTML a successful Render
// returned; exporting unprocessed content yields a PDF whose TOC page
// numbers were never measured.
func (o *Orchestrator) ExportPDF(ctx context.Context, html string, pctx *ProcessingContext) ([]byte, error) {
	if html == "" {
		return nil, ErrEmptyContent
	}
	if pctx == nil {
		return nil, ErrNilContext
	}
	if err := pctx.Validate(); err != nil {
		return nil, err
	}

	page := pctx.Page.withDefaults()
	g := Geometry(pctx.Page)
	doc := InjectCSS(standaloneDocument(html, pctx.Title), documentCSS(pctx))

	h, err := o.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer o.pool.Release(h)

	engine := h.Engine()
	if err := engine.Load(ctx, doc, LoadOptions{ViewportWidth: int(g.Width), ViewportHeight: int(g.Height)}); err != nil {
		return nil, err
	}
	return engine.ExportPDF(ctx, ExportOptions{
		Page:                page,
		DisplayHeaderFooter: page.ShowPageNumbers || page.HeaderTemplate != "" || page.FooterTemplate != "",
		HeaderHTML:          page.HeaderTemplate,
		FooterHTML:          page.FooterTemplate,
	})
}

// ValidateEnvironment aggregates every processor's environment report.
func (o *Orchestrator) ValidateEnvironment(ctx context.Context) *EnvironmentReport {
	report := &EnvironmentReport{IsSupported: true}
	for _, p := range o.registry.All() {
		pr := p.ValidateEnvironment(ctx)
		if pr == nil {
			continue
		}
		if !pr.IsSupported {
			report.IsSupported = false
		}
		report.Issues = append(report.Issues, pr.Issues...)
		report.Recommendations = append(report.Recommendations, pr.Recommendations...)
	}
	return report
}

// Close shuts down the engine pool the orchestrator owns. Pools supplied via
// WithPool stay open; their owner closes them. Safe to call more than once.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.closeErr = o.pool.CloseAll()
	})
	return o.closeErr
}
