package pagedoc

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
)

// complexityThreshold is the combined image/table/code-block count above
// which a document is considered layout-complex enough to pre-render.
const complexityThreshold = 10

// impactVetoThreshold vetoes auto-selected two-stage rendering when the
// estimated slowdown exceeds this percentage, unless a force flag or a
// high-priority reason is present.
const impactVetoThreshold = 60

// Detection priorities.
const (
	priorityLow    = "low"
	priorityNormal = "normal"
	priorityHigh   = "high"
)

// Patterns marking content that only reaches its final size after rendering.
var (
	imgPattern      = regexp.MustCompile(`(?i)<img\b|!\[`)
	tablePattern    = regexp.MustCompile(`(?i)<table\b|(?m)^\s*\|.+\|\s*$`)
	codePattern     = regexp.MustCompile("(?i)<pre\\b|```")
	diagramPattern  = regexp.MustCompile("(?is)<(?:pre|code)[^>]*class=\"[^\"]*language-(?:mermaid|plantuml|dot|graphviz)[^\"]*\"|```(?:mermaid|plantuml|dot|graphviz)")
	mermaidDivHint  = `<div class="mermaid"`
	headingsPattern = regexp.MustCompile(`(?i)<h[1-6][^>]*>|(?m)^#{1,6}\s`)
)

// DetectionDecision is the outcome of the two-stage necessity check.
type DetectionDecision struct {
	UseTwoStage        bool
	Reasons            []string
	ComplexityScore    int
	EstimatedImpactPct int // heuristic slowdown from pre-rendering
	Priority           string
}

// ContentDetector decides whether a request warrants the two-stage path and
// estimates its performance cost.
type ContentDetector struct {
	logger *log.Logger
}

// NewContentDetector creates a detector.
func NewContentDetector(logger *log.Logger) *ContentDetector {
	if logger == nil {
		logger = nopLogger
	}
	return &ContentDetector{logger: logger.With("component", "detector")}
}

// Detect applies the decision logic: force flags take precedence, then
// auto-detection (TOC page numbers, dynamic diagrams, header/footer shifts,
// complexity score), then the performance-impact veto.
func (d *ContentDetector) Detect(content string, pctx *ProcessingContext) *DetectionDecision {
	dec := &DetectionDecision{Priority: priorityNormal}
	dec.ComplexityScore = complexityScore(content)
	dec.EstimatedImpactPct = estimateImpact(content, dec.ComplexityScore)

	switch pctx.TwoStage {
	case TwoStageForceOn:
		dec.UseTwoStage = true
		dec.Reasons = append(dec.Reasons, "two-stage rendering force-enabled")
		return dec
	case TwoStageForceOff:
		dec.Reasons = append(dec.Reasons, "two-stage rendering force-disabled")
		return dec
	}

	page := pctx.Page.withDefaults()
	if pctx.TOC != nil && pctx.TOC.Enabled && pctx.TOC.IncludePageNumbers {
		if page.ShowPageNumbers || page.HeaderTemplate != "" || page.FooterTemplate != "" {
			dec.UseTwoStage = true
			dec.Priority = priorityHigh
			dec.Reasons = append(dec.Reasons, "TOC with page numbers requested")
		} else if pctx.AccurateNumbers {
			dec.UseTwoStage = true
			dec.Priority = priorityHigh
			dec.Reasons = append(dec.Reasons, "accurate page numbers requested without header/footer")
		} else {
			dec.Reasons = append(dec.Reasons, "TOC page numbers without header/footer; set AccurateNumbers to pre-render")
		}
	}

	if hasDynamicDiagrams(content) {
		dec.UseTwoStage = true
		dec.Reasons = append(dec.Reasons, "dynamic diagrams present")
	}

	if page.HeaderTemplate != "" || page.FooterTemplate != "" {
		dec.UseTwoStage = true
		dec.Reasons = append(dec.Reasons, "custom header/footer shifts content margins")
	}

	if dec.ComplexityScore > complexityThreshold {
		dec.UseTwoStage = true
		dec.Reasons = append(dec.Reasons, "complex layout")
	}

	// Performance veto: pre-rendering doubles engine round trips; skip it
	// for expensive documents unless something important demands accuracy.
	if dec.UseTwoStage && dec.Priority != priorityHigh && dec.EstimatedImpactPct > impactVetoThreshold {
		dec.UseTwoStage = false
		dec.Reasons = append(dec.Reasons, "two-stage skipped: estimated performance impact too high")
	}

	d.logger.Debug("two-stage decision",
		"useTwoStage", dec.UseTwoStage,
		"complexity", dec.ComplexityScore,
		"impactPct", dec.EstimatedImpactPct,
		"priority", dec.Priority)
	return dec
}

// hasDynamicDiagrams reports whether content contains diagram sources that
// must be rendered before page layout is meaningful.
func hasDynamicDiagrams(content string) bool {
	return diagramPattern.MatchString(content) || strings.Contains(content, mermaidDivHint)
}

// complexityScore counts layout-sensitive elements.
func complexityScore(content string) int {
	score := len(imgPattern.FindAllStringIndex(content, -1))
	score += len(tablePattern.FindAllStringIndex(content, -1))
	score += len(codePattern.FindAllStringIndex(content, -1)) / 2 // open+close fences
	return score
}

// estimateImpact produces a rough slowdown percentage for the pre-render
// pass: a fixed base cost plus a per-element and per-heading share.
func estimateImpact(content string, complexity int) int {
	headings := len(headingsPattern.FindAllStringIndex(content, -1))
	impact := 25 + complexity*2 + headings/10
	if impact > 100 {
		impact = 100
	}
	return impact
}
