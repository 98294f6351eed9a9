package pagedoc

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// panicProcessor always panics in Process; used to verify containment.
type panicProcessor struct{}

func (panicProcessor) Type() string                                   { return "panic" }
func (panicProcessor) Detect(string, *ProcessingContext) float64      { return 1 }
func (panicProcessor) SetCache(ContentCache)                          {}
func (panicProcessor) ValidateEnvironment(context.Context) *EnvironmentReport {
	return &EnvironmentReport{IsSupported: true}
}
func (panicProcessor) Dimensions(context.Context, *ProcessedContent, *ProcessingContext) (*ContentDimensions, error) {
	return nil, nil
}
func (panicProcessor) Process(context.Context, string, *ProcessingContext) (*ProcessedContent, error) {
	panic("processor exploded")
}

// newFakeOrchestrator builds an orchestrator whose pool creates fakeEngines.
func newFakeOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *fakeFactory) {
	t.Helper()
	ff := &fakeFactory{}
	opts = append([]Option{
		WithEngineFactory(ff.factory),
		WithPoolConfig(PoolConfig{MaxInstances: 1}),
	}, opts...)
	o := NewOrchestrator(opts...)
	t.Cleanup(func() { _ = o.Close() })
	return o, ff
}

func TestRenderValidation(t *testing.T) {
	o, _ := newFakeOrchestrator(t)
	ctx := context.Background()

	_, err := o.Render(ctx, "", &ProcessingContext{})
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = o.Render(ctx, "<p>x</p>", nil)
	assert.ErrorIs(t, err, ErrNilContext)

	_, err = o.Render(ctx, "<p>x</p>", &ProcessingContext{Page: &PageSettings{Size: "tabloid"}})
	assert.ErrorIs(t, err, ErrInvalidPageSize)
}

func TestRenderPlainContentSingleStage(t *testing.T) {
	o, ff := newFakeOrchestrator(t)

	result, err := o.Render(context.Background(), "<p>plain paragraph</p>", &ProcessingContext{})
	require.NoError(t, err)

	assert.Equal(t, "<p>plain paragraph</p>", result.HTML)
	assert.False(t, result.UsedTwoStageRendering)
	assert.Empty(t, result.Metadata.ProcessedContentTypes)
	assert.Empty(t, ff.engines, "plain content must not start an engine")
	assert.Greater(t, result.Performance.Total.Nanoseconds(), int64(0))
}

func TestRenderTOCWithoutTwoStageOmitsPageNumbers(t *testing.T) {
	o, ff := newFakeOrchestrator(t)

	// Page numbers requested, but no footer and no accuracy opt-in: the
	// detector keeps single-stage, so the TOC renders without numbers.
	pctx := &ProcessingContext{
		Page: &PageSettings{},
		TOC:  &TOCOptions{Enabled: true, IncludePageNumbers: true},
	}
	result, err := o.Render(context.Background(), "<body><h1>Intro</h1></body>", pctx)
	require.NoError(t, err)

	assert.False(t, result.UsedTwoStageRendering)
	assert.Contains(t, result.HTML, `<nav class="toc">`)
	assert.NotContains(t, result.HTML, "toc-page")
	assert.Empty(t, ff.engines)

	found := false
	for _, w := range result.Metadata.Warnings {
		if strings.Contains(w, "page numbers omitted") {
			found = true
		}
	}
	assert.True(t, found, "expected an omission warning, got %v", result.Metadata.Warnings)

	// The caller's options must not be mutated by the internal override.
	assert.True(t, pctx.TOC.IncludePageNumbers)
}

func TestRenderTwoStageEndToEnd(t *testing.T) {
	o, ff := newFakeOrchestrator(t)

	// Pre-create the pooled engine so its responses can be wired up.
	h, err := o.Pool().Acquire(context.Background())
	require.NoError(t, err)
	o.Pool().Release(h)

	engine := ff.engines[0]
	engine.pdf = []byte("<< /Type /Page >>")
	engine.evalFn = func(script string, out any) error {
		if strings.Contains(script, "getElementById") {
			return evalInto(out, measurementPayload(500,
				map[string]any{"id": "intro", "top": 0.0, "page": 1, "type": "h1"},
			))
		}
		return evalInto(out, measurementPayload(100))
	}

	pctx := &ProcessingContext{
		Page: &PageSettings{ShowPageNumbers: true},
		TOC:  &TOCOptions{Enabled: true, IncludePageNumbers: true},
	}
	result, err := o.Render(context.Background(), `<body><h1 id="intro">Intro</h1></body>`, pctx)
	require.NoError(t, err)

	assert.True(t, result.UsedTwoStageRendering)
	assert.Equal(t, 2, result.PageNumbers["intro"], "content page 1 shifted by 1 TOC page")
	assert.Contains(t, result.HTML, `<span class="toc-page">2</span>`)
	assert.Contains(t, result.Metadata.ProcessedContentTypes, "toc")
	assert.Greater(t, result.Performance.PreRender.Nanoseconds(), int64(0))
}

func TestRenderContainsProcessorPanic(t *testing.T) {
	o, _ := newFakeOrchestrator(t, WithProcessor(panicProcessor{}))

	result, err := o.Render(context.Background(), "<p>survives</p>", &ProcessingContext{})
	require.NoError(t, err, "a panicking processor must not fail the request")

	assert.Equal(t, "<p>survives</p>", result.HTML)
	found := false
	for _, w := range result.Metadata.Warnings {
		if strings.Contains(w, "panic") {
			found = true
		}
	}
	assert.True(t, found, "expected a panic warning, got %v", result.Metadata.Warnings)
}

func TestRenderCancelledContext(t *testing.T) {
	o, _ := newFakeOrchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Render(ctx, "<p>x</p>", &ProcessingContext{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExportPDF(t *testing.T) {
	o, ff := newFakeOrchestrator(t)

	h, err := o.Pool().Acquire(context.Background())
	require.NoError(t, err)
	o.Pool().Release(h)
	ff.engines[0].pdf = []byte("%PDF-1.7 fake")

	pdf, err := o.ExportPDF(context.Background(), "<h1>Doc</h1>", &ProcessingContext{})
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 fake"), pdf)
	assert.Equal(t, 1, ff.engines[0].exports)

	_, err = o.ExportPDF(context.Background(), "", &ProcessingContext{})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestOrchestratorCloseIdempotent(t *testing.T) {
	o, ff := newFakeOrchestrator(t)

	h, err := o.Pool().Acquire(context.Background())
	require.NoError(t, err)
	o.Pool().Release(h)

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
	assert.True(t, ff.engines[0].isClosed())
}

func TestOrchestratorExternalPoolStaysOpen(t *testing.T) {
	ff := &fakeFactory{}
	pool := NewEnginePool(PoolConfig{MaxInstances: 1, Factory: ff.factory})
	defer func() { _ = pool.CloseAll() }()

	o := NewOrchestrator(WithPool(pool))
	require.NoError(t, o.Close())

	// The externally supplied pool must still accept acquires.
	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(h)
}

func TestValidateEnvironmentAggregates(t *testing.T) {
	o, _ := newFakeOrchestrator(t)

	report := o.ValidateEnvironment(context.Background())
	require.NotNil(t, report)
	// The fake-backed pool has capacity, so the TOC processor is satisfied;
	// diagram backends may emit recommendations but not unsupported status.
	assert.True(t, report.IsSupported)
}
