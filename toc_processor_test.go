package pagedoc

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTOCProcessorWithFakes(t *testing.T) (*TOCProcessor, *fakeFactory, *EnginePool) {
	t.Helper()
	ff := &fakeFactory{}
	pool := NewEnginePool(PoolConfig{MaxInstances: 1, Factory: ff.factory})
	t.Cleanup(func() { _ = pool.CloseAll() })

	p := NewTOCProcessor(pool, nil)
	p.calc.maxAttempts = 1
	return p, ff, pool
}

func TestTOCProcessorDetect(t *testing.T) {
	p, _, _ := newTOCProcessorWithFakes(t)

	if got := p.Detect("<h1>X</h1>", &ProcessingContext{}); got != 0 {
		t.Errorf("no TOC requested: Detect = %f, want 0", got)
	}
	if got := p.Detect("<h1>X</h1>", &ProcessingContext{TOC: &TOCOptions{Enabled: true}}); got != 1 {
		t.Errorf("TOC with headings: Detect = %f, want 1", got)
	}
	if got := p.Detect("<p>no headings</p>", &ProcessingContext{TOC: &TOCOptions{Enabled: true}}); got != 0 {
		t.Errorf("TOC without headings: Detect = %f, want 0", got)
	}
}

func TestTOCProcessorWithoutPageNumbers(t *testing.T) {
	p, _, _ := newTOCProcessorWithFakes(t)

	pctx := &ProcessingContext{
		Page: DefaultPageSettings(),
		TOC:  &TOCOptions{Enabled: true},
	}
	got, err := p.Process(context.Background(), "<body><h1>Intro</h1></body>", pctx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if !strings.Contains(got.HTML, `<nav class="toc">`) {
		t.Errorf("TOC not injected: %s", got.HTML)
	}
	if strings.Contains(got.HTML, "toc-page") {
		t.Errorf("page spans present without page numbers: %s", got.HTML)
	}
	if got.PageNumbers != nil {
		t.Errorf("unexpected page numbers: %v", got.PageNumbers)
	}
}

func TestTOCProcessorWithMeasuredPageNumbers(t *testing.T) {
	p, ff, pool := newTOCProcessorWithFakes(t)

	// Pre-create the engine so its fake responses can be wired up.
	h, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	pool.Release(h)

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
		Page: DefaultPageSettings(),
		TOC:  &TOCOptions{Enabled: true, IncludePageNumbers: true},
	}
	got, err := p.Process(context.Background(), `<body><h1 id="intro">Intro</h1></body>`, pctx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Content page 1 shifted by one TOC page.
	if got.PageNumbers["intro"] != 2 {
		t.Errorf("PageNumbers[intro] = %d, want 2", got.PageNumbers["intro"])
	}
	if !strings.Contains(got.HTML, `<span class="toc-page">2</span>`) {
		t.Errorf("measured page number not rendered: %s", got.HTML)
	}
	if got.Metadata.Details["tocPageCount"] != "1" {
		t.Errorf("tocPageCount = %q, want 1", got.Metadata.Details["tocPageCount"])
	}
}

func TestTOCProcessorDegradesWhenMeasurementFails(t *testing.T) {
	p, ff, pool := newTOCProcessorWithFakes(t)

	h, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	pool.Release(h)
	ff.engines[0].loadErr = errors.New("browser crashed")

	pctx := &ProcessingContext{
		Page: DefaultPageSettings(),
		TOC:  &TOCOptions{Enabled: true, IncludePageNumbers: true},
	}
	got, err := p.Process(context.Background(), "<body><h1>Intro</h1></body>", pctx)
	if err != nil {
		t.Fatalf("measurement failure must not fail the conversion: %v", err)
	}

	// Degraded form: TOC present, no page numbers, warning recorded.
	if !strings.Contains(got.HTML, `<nav class="toc">`) {
		t.Errorf("TOC missing from degraded output: %s", got.HTML)
	}
	if strings.Contains(got.HTML, "toc-page") {
		t.Errorf("degraded TOC should not carry page numbers: %s", got.HTML)
	}
	if got.PageNumbers != nil {
		t.Errorf("unexpected page numbers after failure: %v", got.PageNumbers)
	}
	if len(got.Metadata.Warnings) == 0 {
		t.Error("expected a warning describing the fallback")
	}
}

func TestTOCProcessorRespectsMaxDepth(t *testing.T) {
	p, _, _ := newTOCProcessorWithFakes(t)

	pctx := &ProcessingContext{
		Page: DefaultPageSettings(),
		TOC:  &TOCOptions{Enabled: true, MaxDepth: 1},
	}
	html := "<body><h1>Top</h1><h2>Deep</h2></body>"
	got, err := p.Process(context.Background(), html, pctx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if !strings.Contains(got.HTML, `href="#top"`) {
		t.Errorf("H1 entry missing: %s", got.HTML)
	}
	if strings.Contains(got.HTML, `href="#deep"`) {
		t.Errorf("H2 should be filtered at depth 1: %s", got.HTML)
	}
}

func TestTOCProcessorCacheHit(t *testing.T) {
	p, _, _ := newTOCProcessorWithFakes(t)
	cache := NewMemoryCache()
	p.SetCache(cache)

	pctx := &ProcessingContext{
		Page: DefaultPageSettings(),
		TOC:  &TOCOptions{Enabled: true},
	}
	html := "<body><h1>Intro</h1></body>"

	first, err := p.Process(context.Background(), html, pctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Process(context.Background(), html, pctx)
	if err != nil {
		t.Fatal(err)
	}

	if second.HTML != first.HTML {
		t.Error("cache hit returned different HTML")
	}
	if second.Metadata.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", second.Metadata.CacheHits)
	}
}

func TestTOCProcessorCacheHitKeepsPageNumbers(t *testing.T) {
	p, ff, pool := newTOCProcessorWithFakes(t)
	p.SetCache(NewMemoryCache())

	h, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	pool.Release(h)

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
		Page: DefaultPageSettings(),
		TOC:  &TOCOptions{Enabled: true, IncludePageNumbers: true},
	}
	html := `<body><h1 id="intro">Intro</h1></body>`

	first, err := p.Process(context.Background(), html, pctx)
	if err != nil {
		t.Fatal(err)
	}
	loadsAfterFirst := func() int {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return engine.loads
	}()

	second, err := p.Process(context.Background(), html, pctx)
	if err != nil {
		t.Fatal(err)
	}

	if second.Metadata.CacheHits != 1 {
		t.Fatalf("CacheHits = %d, want 1", second.Metadata.CacheHits)
	}
	// The measured map and details must survive the hit, not just the HTML.
	if second.PageNumbers["intro"] != first.PageNumbers["intro"] {
		t.Errorf("PageNumbers lost on cache hit: first=%v second=%v", first.PageNumbers, second.PageNumbers)
	}
	if second.Metadata.Details["tocPageCount"] != first.Metadata.Details["tocPageCount"] {
		t.Errorf("tocPageCount lost on cache hit: %v", second.Metadata.Details)
	}
	if got := func() int {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return engine.loads
	}(); got != loadsAfterFirst {
		t.Errorf("cache hit still measured: loads %d -> %d", loadsAfterFirst, got)
	}
}
