package pagedoc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Default timeouts for render-engine round trips.
const (
	defaultNavigationTimeout = 60 * time.Second
	defaultEvaluateTimeout   = 15 * time.Second
)

// LoadOptions controls how content is loaded into a render engine.
type LoadOptions struct {
	Timeout        time.Duration // navigation timeout (0 = default)
	ViewportWidth  int           // 0 = leave as-is
	ViewportHeight int
}

// ExportOptions controls paginated PDF export.
type ExportOptions struct {
	Page                *PageSettings
	DisplayHeaderFooter bool
	HeaderHTML          string
	FooterHTML          string
}

// RenderEngine is one leased instance of the external rendering engine.
// The DOM crosses into the engine only through Evaluate; everything else is
// opaque navigation and export.
type RenderEngine interface {
	// Load replaces the engine's current document with htmlContent and waits
	// for it to finish loading.
	Load(ctx context.Context, htmlContent string, opts LoadOptions) error

	// Evaluate runs a script (a JS function expression) in the current
	// document and decodes its JSON-serializable result into out.
	Evaluate(ctx context.Context, script string, out any) error

	// ExportPDF renders the current document to a paginated PDF.
	ExportPDF(ctx context.Context, opts ExportOptions) ([]byte, error)

	Close() error
}

// EngineFactory creates render engines for the pool.
type EngineFactory func() (RenderEngine, error)

// Compile-time interface check.
var _ RenderEngine = (*rodEngine)(nil)

// rodEngine drives one headless Chrome instance via go-rod.
// The browser is launched lazily on first Load; rod downloads Chromium on
// first run if none is found.
type rodEngine struct {
	browser *rod.Browser
	page    *rod.Page
	timeout time.Duration
}

// NewRodEngineFactory returns an EngineFactory producing go-rod engines with
// the given default navigation timeout.
func NewRodEngineFactory(timeout time.Duration) EngineFactory {
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	return func() (RenderEngine, error) {
		return &rodEngine{timeout: timeout}, nil
	}
}

// ensureBrowser lazily launches and connects to the browser.
func (e *rodEngine) ensureBrowser() error {
	if e.browser != nil {
		return nil
	}

	l := launcher.New()

	// Use a pre-installed browser if specified (Docker/containerized environments)
	if bin := os.Getenv("ROD_BROWSER_BIN"); bin != "" {
		l = l.Bin(bin)
	}

	// NoSandbox required for CI and containerized environments
	if os.Getenv("CI") == "true" || os.Getenv("ROD_BROWSER_BIN") != "" {
		l = l.NoSandbox(true)
	}

	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}
	e.browser = browser
	return nil
}

// Load writes htmlContent to a temp file and navigates the engine to it.
func (e *rodEngine) Load(ctx context.Context, htmlContent string, opts LoadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.ensureBrowser(); err != nil {
		return err
	}

	// One document per engine at a time; drop the previous page.
	if e.page != nil {
		_ = e.page.Close()
		e.page = nil
	}

	tmpPath, cleanup, err := writeTempFile(htmlContent, "html")
	if err != nil {
		return err
	}
	defer cleanup()

	page, err := e.browser.Page(proto.TargetCreateTarget{URL: "file://" + tmpPath})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPageCreate, err)
	}

	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.ViewportWidth,
			Height:            opts.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			_ = page.Close()
			return fmt.Errorf("%w: setting viewport: %v", ErrPageCreate, err)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
		if timeout <= 0 {
			_ = page.Close()
			return context.DeadlineExceeded
		}
	}

	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		_ = page.Close()
		return fmt.Errorf("%w: %v", ErrPageLoad, err)
	}

	e.page = page
	return nil
}

// Evaluate runs script in the loaded document and decodes the result into out.
func (e *rodEngine) Evaluate(ctx context.Context, script string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.page == nil {
		return fmt.Errorf("%w: no document loaded", ErrEvaluate)
	}

	obj, err := e.page.Timeout(defaultEvaluateTimeout).Eval(script)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEvaluate, err)
	}
	if out == nil {
		return nil
	}

	data, err := json.Marshal(obj.Value.Val())
	if err != nil {
		return fmt.Errorf("%w: encoding result: %v", ErrEvaluate, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decoding result: %v", ErrEvaluate, err)
	}
	return nil
}

// ExportPDF renders the loaded document to a paginated PDF via the engine's
// print pipeline.
func (e *rodEngine) ExportPDF(ctx context.Context, opts ExportOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.page == nil {
		return nil, fmt.Errorf("%w: no document loaded", ErrPDFExport)
	}

	reader, err := e.page.PDF(buildPrintOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDFExport, err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading PDF stream: %v", ErrPDFExport, err)
	}
	return data, nil
}

// Close releases the browser and all its pages.
func (e *rodEngine) Close() error {
	e.page = nil
	if e.browser != nil {
		err := e.browser.Close()
		e.browser = nil
		return err
	}
	return nil
}

// buildPrintOptions translates page geometry into engine print options.
// Paper and margin values are in inches on the wire.
func buildPrintOptions(opts ExportOptions) *proto.PagePrintToPDF {
	g := Geometry(opts.Page)

	printOpts := &proto.PagePrintToPDF{
		PaperWidth:      floatPtr(g.Width / pxPerInch),
		PaperHeight:     floatPtr(g.Height / pxPerInch),
		MarginTop:       floatPtr((g.MarginTop + g.HeaderHeight) / pxPerInch),
		MarginBottom:    floatPtr((g.MarginBottom + g.FooterHeight) / pxPerInch),
		MarginLeft:      floatPtr(g.MarginLeft / pxPerInch),
		MarginRight:     floatPtr(g.MarginRight / pxPerInch),
		PrintBackground: true,
	}

	if opts.DisplayHeaderFooter {
		printOpts.DisplayHeaderFooter = true
		printOpts.HeaderTemplate = orEmptySpan(opts.HeaderHTML)
		printOpts.FooterTemplate = orEmptySpan(opts.FooterHTML)
	}
	return printOpts
}

func orEmptySpan(s string) string {
	if s == "" {
		return "<span></span>"
	}
	return s
}

// floatPtr returns a pointer to a float64 value.
func floatPtr(v float64) *float64 {
	return &v
}

// writeTempFile writes content to a temp file with the given extension and
// returns its path plus a cleanup function.
func writeTempFile(content, ext string) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "pagedoc-*."+ext)
	if err != nil {
		return "", nil, fmt.Errorf("creating temp file: %w", err)
	}
	path = f.Name()
	cleanup = func() { _ = os.Remove(path) }

	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("closing temp file: %w", err)
	}
	return path, cleanup, nil
}
