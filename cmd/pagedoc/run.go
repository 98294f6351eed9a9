package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/pagedoc/pagedoc"
	"github.com/pagedoc/pagedoc/internal/config"
)

// run executes one conversion request end to end.
func run(flags *cliFlags, args []string) error {
	cfg := config.DefaultConfig()
	if flags.common.config != "" {
		loaded, err := config.LoadConfig(flags.common.config)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	logger := newLogger(flags, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := buildCache(cfg)
	if err != nil {
		return err
	}

	orch := pagedoc.NewOrchestrator(
		pagedoc.WithLogger(logger),
		pagedoc.WithCache(cache),
		pagedoc.WithPoolConfig(pagedoc.PoolConfig{
			MaxInstances:   pagedoc.ResolvePoolSize(pickInt(flags.render.workers, cfg.Pool.MaxInstances)),
			AcquireTimeout: time.Duration(cfg.Pool.AcquireTimeout) * time.Second,
			IdleTimeout:    time.Duration(cfg.Pool.IdleTimeout) * time.Second,
			Logger:         logger,
		}),
		pagedoc.WithDiagramConfig(pagedoc.DiagramConfig{
			ServerURL:      pickString(flags.diagram.server, cfg.Diagram.ServerURL),
			PlantUMLBinary: pickString(flags.diagram.plantuml, cfg.Diagram.PlantUMLBinary),
			Timeout:        time.Duration(cfg.Diagram.Timeout) * time.Second,
		}),
	)
	defer func() {
		if err := orch.Close(); err != nil {
			logger.Warn("closing engine pool", "error", err)
		}
	}()

	if flags.doctor {
		return doctor(ctx, orch)
	}

	if len(args) != 1 {
		return fmt.Errorf("expected exactly one input file, got %d", len(args))
	}
	inputPath := args[0]

	pctx, err := buildProcessingContext(flags, cfg, inputPath)
	if err != nil {
		return err
	}

	markdown, err := os.ReadFile(inputPath) // #nosec G304 -- input path is user-provided
	if err != nil {
		return fmt.Errorf("reading %s: %w", inputPath, err)
	}

	htmlFragment, err := pagedoc.NewMarkdownConverter().ToHTML(ctx, string(markdown))
	if err != nil {
		return err
	}

	result, err := orch.Render(ctx, htmlFragment, pctx)
	if err != nil {
		return err
	}
	for _, w := range result.Metadata.Warnings {
		logger.Warn(w)
	}
	if flags.common.verbose {
		logger.Info("timings",
			"total", result.Performance.Total.Round(time.Millisecond),
			"preRender", result.Performance.PreRender.Round(time.Millisecond),
			"twoStage", result.UsedTwoStageRendering)
	}

	return writeOutputs(ctx, orch, flags, inputPath, result, pctx)
}

// writeOutputs writes the HTML and/or PDF artifacts next to the input.
func writeOutputs(ctx context.Context, orch *pagedoc.Orchestrator, flags *cliFlags, inputPath string, result *pagedoc.RenderingResult, pctx *pagedoc.ProcessingContext) error {
	pdfPath := flags.out.output
	if pdfPath == "" {
		pdfPath = strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".pdf"
	}

	if flags.out.html || flags.out.htmlOnly {
		htmlPath := strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + ".html"
		if err := os.WriteFile(htmlPath, []byte(result.HTML), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", htmlPath, err)
		}
		fmt.Printf("Created %s\n", htmlPath)
	}
	if flags.out.htmlOnly {
		return nil
	}

	pdf, err := orch.ExportPDF(ctx, result.HTML, pctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(pdfPath, pdf, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", pdfPath, err)
	}
	fmt.Printf("Created %s\n", pdfPath)
	return nil
}

// doctor prints the aggregated environment report.
func doctor(ctx context.Context, orch *pagedoc.Orchestrator) error {
	report := orch.ValidateEnvironment(ctx)
	for _, issue := range report.Issues {
		fmt.Printf("issue: %s\n", issue)
	}
	for _, rec := range report.Recommendations {
		fmt.Printf("hint:  %s\n", rec)
	}
	if !report.IsSupported {
		return fmt.Errorf("environment is not usable")
	}
	fmt.Println("environment ok")
	return nil
}

// buildProcessingContext merges config-file values with flag overrides.
// Flags win over config, config wins over defaults.
func buildProcessingContext(flags *cliFlags, cfg *config.Config, inputPath string) (*pagedoc.ProcessingContext, error) {
	margins := pagedoc.DefaultMargins()
	if m := cfg.Page.Margins; m.Top != "" || m.Right != "" || m.Bottom != "" || m.Left != "" {
		margins = pagedoc.Margins{Top: m.Top, Right: m.Right, Bottom: m.Bottom, Left: m.Left}
	}
	if flags.page.margin != "" {
		margins = pagedoc.Margins{
			Top:    flags.page.margin,
			Right:  flags.page.margin,
			Bottom: flags.page.margin,
			Left:   flags.page.margin,
		}
	}

	page := &pagedoc.PageSettings{
		Size:            pickString(flags.page.size, cfg.Page.Size),
		Orientation:     pickString(flags.page.orientation, cfg.Page.Orientation),
		Margins:         margins,
		ShowPageNumbers: flags.page.pageNumbers || cfg.Page.ShowPageNumbers,
		HeaderTemplate:  cfg.Page.HeaderTemplate,
		FooterTemplate:  cfg.Page.FooterTemplate,
	}

	var toc *pagedoc.TOCOptions
	if flags.toc.enabled || cfg.TOC.Enabled {
		toc = &pagedoc.TOCOptions{
			Enabled:            true,
			Title:              pickString(flags.toc.title, cfg.TOC.Title),
			MaxDepth:           pickInt(flags.toc.maxDepth, cfg.TOC.MaxDepth),
			IncludePageNumbers: flags.toc.pageNumbers || cfg.TOC.PageNumbers,
		}
	}

	pageBreaks := &pagedoc.PageBreaks{
		BeforeH1: cfg.PageBreaks.BeforeH1,
		BeforeH2: cfg.PageBreaks.BeforeH2,
		Orphans:  cfg.PageBreaks.Orphans,
		Widows:   cfg.PageBreaks.Widows,
	}

	css, err := readStyle(pickString(flags.style, cfg.CSS.File))
	if err != nil {
		return nil, err
	}

	twoStage, err := parseTwoStage(pickString(flags.render.twoStage, cfg.Render.TwoStage))
	if err != nil {
		return nil, err
	}

	pctx := &pagedoc.ProcessingContext{
		SourcePath:      inputPath,
		Title:           strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath)),
		Page:            page,
		TOC:             toc,
		PageBreaks:      pageBreaks,
		CSS:             css,
		TwoStage:        twoStage,
		AccurateNumbers: flags.render.accurate || cfg.Render.AccurateNumbers,
	}
	if err := pctx.Validate(); err != nil {
		return nil, err
	}
	return pctx, nil
}

// parseTwoStage maps the config/flag string to a mode.
func parseTwoStage(s string) (pagedoc.TwoStageMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return pagedoc.TwoStageAuto, nil
	case "on":
		return pagedoc.TwoStageForceOn, nil
	case "off":
		return pagedoc.TwoStageForceOff, nil
	default:
		return pagedoc.TwoStageAuto, fmt.Errorf("invalid two-stage mode %q (must be auto, on, or off)", s)
	}
}

// buildCache constructs the configured cache backend.
func buildCache(cfg *config.Config) (pagedoc.ContentCache, error) {
	switch strings.ToLower(cfg.Cache.Backend) {
	case "", "memory":
		return pagedoc.NewMemoryCache(), nil
	case "redis":
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("cache.redisURL: %w", err)
		}
		return pagedoc.NewRedisCache(redis.NewClient(opts), cfg.Cache.Prefix), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// readStyle loads the optional user stylesheet.
func readStyle(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- style path is user-provided
	if err != nil {
		return "", fmt.Errorf("reading stylesheet %s: %w", path, err)
	}
	return string(data), nil
}

// newLogger builds the CLI logger. Verbosity flags override the config level.
func newLogger(flags *cliFlags, cfg *config.Config) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})
	switch {
	case flags.common.quiet:
		logger.SetLevel(log.ErrorLevel)
	case flags.common.verbose:
		logger.SetLevel(log.DebugLevel)
	default:
		if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil && cfg.Log.Level != "" {
			logger.SetLevel(lvl)
		} else {
			logger.SetLevel(log.InfoLevel)
		}
	}
	return logger
}

// pickString returns override when set, otherwise base.
func pickString(override, base string) string {
	if override != "" {
		return override
	}
	return base
}

// pickInt returns override when set, otherwise base.
func pickInt(override, base int) int {
	if override != 0 {
		return override
	}
	return base
}
