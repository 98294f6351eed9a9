package pagedoc

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/charmbracelet/log"
	"github.com/goccy/go-graphviz"
)

// Diagram rendering defaults.
const (
	defaultDiagramTimeout = 30 * time.Second
	defaultPlantUMLBinary = "plantuml"
	diagramCacheTTL       = 24 * time.Hour
	remoteRenderAttempts  = 2
)

// fencePattern matches highlighted diagram code blocks in generated HTML.
// Captures: 1=kind, 2=escaped source.
var fencePattern = regexp.MustCompile(`(?is)<pre[^>]*><code[^>]*class="[^"]*language-(mermaid|plantuml|dot|graphviz)[^"]*"[^>]*>(.*?)</code></pre>`)

// DiagramConfig configures diagram rendering backends.
type DiagramConfig struct {
	// ServerURL is the base URL of a remote rendering service exposing
	// kroki-style POST {base}/{kind}/svg endpoints. Empty disables the
	// remote fallback.
	ServerURL string

	// PlantUMLBinary is the local executable tried before the remote
	// service. Empty defaults to "plantuml".
	PlantUMLBinary string

	// Timeout bounds each local invocation and each remote request,
	// independent of the pagination pool's timeouts.
	Timeout time.Duration
}

// CommandRunner abstracts subprocess execution to enable testing without
// real binaries.
type CommandRunner interface {
	Run(ctx context.Context, stdin string, name string, args ...string) (stdout []byte, stderr string, err error)
}

// execRunner implements CommandRunner using os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin string, name string, args ...string) ([]byte, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

// DiagramProcessor renders fenced diagram sources (mermaid, plantuml,
// dot/graphviz) to inline SVG so page-layout measurement sees final sizes.
// DOT renders in-process; PlantUML tries a local executable first, then the
// remote service; Mermaid is remote-only.
type DiagramProcessor struct {
	cfg    DiagramConfig
	runner CommandRunner
	client *http.Client
	logger *log.Logger
	cache  ContentCache
}

// Compile-time interface check.
var _ ContentProcessor = (*DiagramProcessor)(nil)

// NewDiagramProcessor creates a diagram processor.
func NewDiagramProcessor(cfg DiagramConfig, logger *log.Logger) *DiagramProcessor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDiagramTimeout
	}
	if cfg.PlantUMLBinary == "" {
		cfg.PlantUMLBinary = defaultPlantUMLBinary
	}
	if logger == nil {
		logger = nopLogger
	}
	return &DiagramProcessor{
		cfg:    cfg,
		runner: execRunner{},
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "diagram"),
	}
}

// Type returns the processor tag.
func (p *DiagramProcessor) Type() string { return "diagram" }

// SetCache installs a content cache.
func (p *DiagramProcessor) SetCache(cache ContentCache) { p.cache = cache }

// Detect reports 1 when diagram fences are present.
func (p *DiagramProcessor) Detect(content string, _ *ProcessingContext) float64 {
	if fencePattern.MatchString(content) {
		return 1
	}
	return 0
}

// Process replaces every diagram fence with rendered SVG. A diagram that
// fails to render is left as its original code block and recorded as a
// warning; one bad diagram never fails the request.
func (p *DiagramProcessor) Process(ctx context.Context, content string, _ *ProcessingContext) (*ProcessedContent, error) {
	start := time.Now()
	meta := ProcessingMetadata{Type: p.Type(), Details: map[string]string{}}

	rendered := 0
	out := fencePattern.ReplaceAllStringFunc(content, func(match string) string {
		m := fencePattern.FindStringSubmatch(match)
		kind := strings.ToLower(m[1])
		source := strings.TrimSpace(html.UnescapeString(m[2]))

		key := CacheKey("diagram-"+kind, source, nil)
		if p.cache != nil {
			if svg, ok := p.cache.Get(ctx, key); ok {
				meta.CacheHits++
				rendered++
				return wrapDiagram(kind, svg)
			}
			meta.CacheMisses++
		}

		svg, err := p.render(ctx, kind, source)
		if err != nil {
			meta.Warnings = append(meta.Warnings, fmt.Sprintf("%s diagram left unrendered: %v", kind, err))
			return match
		}

		if p.cache != nil {
			p.cache.Set(ctx, key, svg, diagramCacheTTL)
		}
		rendered++
		return wrapDiagram(kind, svg)
	})

	meta.Details["diagramsRendered"] = strconv.Itoa(rendered)
	meta.Duration = time.Since(start)
	return &ProcessedContent{HTML: out, Metadata: meta}, nil
}

// render dispatches to the backend for one diagram kind.
func (p *DiagramProcessor) render(ctx context.Context, kind, source string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	switch kind {
	case "dot", "graphviz":
		return p.renderDOT(ctx, source)
	case "plantuml":
		svg, err := p.renderPlantUMLLocal(ctx, source)
		if err == nil {
			return svg, nil
		}
		p.logger.Debug("local plantuml failed, trying remote", "error", err)
		return p.renderRemote(ctx, "plantuml", source)
	case "mermaid":
		return p.renderRemote(ctx, "mermaid", source)
	default:
		return "", fmt.Errorf("%w: unknown diagram kind %q", ErrDiagramRender, kind)
	}
}

// renderDOT renders Graphviz DOT in-process.
func (p *DiagramProcessor) renderDOT(ctx context.Context, source string) (string, error) {
	g, err := graphviz.New(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: initializing graphviz: %v", ErrDiagramRender, err)
	}
	defer g.Close()

	graph, err := graphviz.ParseBytes([]byte(source))
	if err != nil {
		return "", fmt.Errorf("%w: parsing dot source: %v", ErrDiagramRender, err)
	}
	defer func() { _ = graph.Close() }()

	var buf bytes.Buffer
	if err := g.Render(ctx, graph, graphviz.SVG, &buf); err != nil {
		return "", fmt.Errorf("%w: rendering dot: %v", ErrDiagramRender, err)
	}
	return buf.String(), nil
}

// renderPlantUMLLocal pipes source through the local PlantUML executable.
func (p *DiagramProcessor) renderPlantUMLLocal(ctx context.Context, source string) (string, error) {
	stdout, stderr, err := p.runner.Run(ctx, source, p.cfg.PlantUMLBinary, "-tsvg", "-pipe")
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v (%s)", ErrDiagramRender, p.cfg.PlantUMLBinary, err, strings.TrimSpace(stderr))
	}
	return string(stdout), nil
}

// renderRemote posts source to the configured rendering service with its
// own small retry budget, independent of the pagination retry policy.
func (p *DiagramProcessor) renderRemote(ctx context.Context, kind, source string) (string, error) {
	if p.cfg.ServerURL == "" {
		return "", fmt.Errorf("%w: no diagram server configured for %s", ErrDiagramNoBackend, kind)
	}
	url := strings.TrimRight(p.cfg.ServerURL, "/") + "/" + kind + "/svg"

	var svg string
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(source))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "text/plain")

			resp, err := p.client.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("diagram server returned %s", resp.Status)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			svg = string(body)
			return nil
		},
		retry.Attempts(remoteRenderAttempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %s via %s: %v", ErrDiagramRender, kind, url, err)
	}
	return svg, nil
}

// wrapDiagram embeds rendered SVG in a figure so CSS can size and
// page-break it as a unit.
func wrapDiagram(kind, svg string) string {
	return fmt.Sprintf(`<figure class="diagram diagram-%s">%s</figure>`, kind, svg)
}

// Dimensions reports how many diagrams the processed content contains.
func (p *DiagramProcessor) Dimensions(_ context.Context, processed *ProcessedContent, _ *ProcessingContext) (*ContentDimensions, error) {
	dims := &ContentDimensions{}
	if processed == nil {
		return dims, nil
	}
	if v, ok := processed.Metadata.Details["diagramsRendered"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			dims.PageCount = 0
			dims.Positions = make([]ElementPosition, 0, n)
		}
	}
	return dims, nil
}

// ValidateEnvironment reports which diagram backends are usable.
func (p *DiagramProcessor) ValidateEnvironment(_ context.Context) *EnvironmentReport {
	report := &EnvironmentReport{IsSupported: true}

	if _, err := exec.LookPath(p.cfg.PlantUMLBinary); err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("local %s executable not found", p.cfg.PlantUMLBinary))
		if p.cfg.ServerURL == "" {
			report.Recommendations = append(report.Recommendations, "install plantuml or configure a diagram server URL")
		}
	}
	if p.cfg.ServerURL == "" {
		report.Recommendations = append(report.Recommendations, "mermaid diagrams require a diagram server URL")
	}
	return report
}
