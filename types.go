package pagedoc

import (
	"fmt"
	"strings"
	"time"
)

// Page size constants.
const (
	PageSizeLetter = "letter"
	PageSizeA4     = "a4"
	PageSizeLegal  = "legal"
)

// Orientation constants.
const (
	OrientationPortrait  = "portrait"
	OrientationLandscape = "landscape"
)

// TOC depth bounds.
const (
	MinTOCDepth     = 1
	MaxTOCDepth     = 6
	DefaultTOCDepth = 3
)

// Orphan/widow defaults for page-break control.
const (
	DefaultOrphans = 3
	DefaultWidows  = 3
	MaxOrphans     = 10
	MaxWidows      = 10
)

// Margins holds per-side page margins as CSS length strings ("2cm", "0.5in").
type Margins struct {
	Top    string
	Right  string
	Bottom string
	Left   string
}

// DefaultMargins returns 2cm margins on all sides.
func DefaultMargins() Margins {
	return Margins{Top: "2cm", Right: "2cm", Bottom: "2cm", Left: "2cm"}
}

// PageSettings configures PDF page geometry.
type PageSettings struct {
	Size            string  // "letter", "a4", "legal"
	Orientation     string  // "portrait", "landscape"
	Margins         Margins // per-side margins with units
	ShowPageNumbers bool    // enables the header/footer allowance
	HeaderTemplate  string  // custom header HTML (overrides the nominal allowance)
	FooterTemplate  string  // custom footer HTML (overrides the nominal allowance)
}

// DefaultPageSettings returns A4 portrait with 2cm margins.
func DefaultPageSettings() *PageSettings {
	return &PageSettings{
		Size:        PageSizeA4,
		Orientation: OrientationPortrait,
		Margins:     DefaultMargins(),
	}
}

// Validate checks that page settings are valid.
// Returns nil if p is nil (nil means use defaults).
func (p *PageSettings) Validate() error {
	if p == nil {
		return nil
	}
	switch strings.ToLower(p.Size) {
	case "", PageSizeLetter, PageSizeA4, PageSizeLegal:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPageSize, p.Size)
	}
	switch strings.ToLower(p.Orientation) {
	case "", OrientationPortrait, OrientationLandscape:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOrientation, p.Orientation)
	}
	return nil
}

// withDefaults returns p with zero fields replaced by defaults.
// Never mutates the receiver.
func (p *PageSettings) withDefaults() *PageSettings {
	out := PageSettings{}
	if p != nil {
		out = *p
	}
	if out.Size == "" {
		out.Size = PageSizeA4
	}
	if out.Orientation == "" {
		out.Orientation = OrientationPortrait
	}
	if out.Margins == (Margins{}) {
		out.Margins = DefaultMargins()
	}
	return &out
}

// TOCOptions configures table-of-contents generation.
type TOCOptions struct {
	Enabled            bool
	Title              string
	MaxDepth           int // heading levels to include, 1-6 (0 = default)
	IncludePageNumbers bool
}

// Validate checks that TOC options are valid.
// Returns nil if t is nil (nil means no TOC).
func (t *TOCOptions) Validate() error {
	if t == nil {
		return nil
	}
	if t.MaxDepth != 0 && (t.MaxDepth < MinTOCDepth || t.MaxDepth > MaxTOCDepth) {
		return fmt.Errorf("%w: %d (must be between %d and %d)", ErrInvalidTOCDepth, t.MaxDepth, MinTOCDepth, MaxTOCDepth)
	}
	return nil
}

// depth returns the effective max depth.
func (t *TOCOptions) depth() int {
	if t == nil || t.MaxDepth == 0 {
		return DefaultTOCDepth
	}
	return t.MaxDepth
}

// PageBreaks configures page-break CSS generation.
type PageBreaks struct {
	BeforeH1 bool
	BeforeH2 bool
	Orphans  int // 0 = default
	Widows   int // 0 = default
}

// Validate checks that page-break settings are valid.
func (pb *PageBreaks) Validate() error {
	if pb == nil {
		return nil
	}
	if pb.Orphans < 0 || pb.Orphans > MaxOrphans {
		return fmt.Errorf("%w: %d", ErrInvalidOrphans, pb.Orphans)
	}
	if pb.Widows < 0 || pb.Widows > MaxWidows {
		return fmt.Errorf("%w: %d", ErrInvalidWidows, pb.Widows)
	}
	return nil
}

// TwoStageMode selects the rendering path.
type TwoStageMode int

// Two-stage path selection: auto-detect by default, with explicit overrides
// that take precedence over detection.
const (
	TwoStageAuto TwoStageMode = iota
	TwoStageForceOn
	TwoStageForceOff
)

// Heading is one document heading with a stable anchor id.
// IDs are unique within a document; collisions are resolved deterministically
// by appending -2, -3, ... in encounter order.
type Heading struct {
	Level int    // 1-6
	Text  string
	ID    string
}

// ProcessingContext is the immutable per-request configuration bundle.
// Created once per conversion request and only shallow-copied with overrides
// for sub-passes (see Clone).
type ProcessingContext struct {
	SourcePath      string
	Title           string
	Language        string
	Page            *PageSettings
	TOC             *TOCOptions
	PageBreaks      *PageBreaks
	CSS             string // extra user CSS, applied to measurement and final passes alike
	Headings        []Heading
	TwoStage        TwoStageMode
	AccurateNumbers bool // opt into two-stage for page numbers without header/footer
	IsPreRender     bool // marks a measurement sub-pass
}

// Validate checks that the context and its nested options are valid.
func (c *ProcessingContext) Validate() error {
	if c == nil {
		return ErrNilContext
	}
	if err := c.Page.Validate(); err != nil {
		return err
	}
	if err := c.TOC.Validate(); err != nil {
		return err
	}
	return c.PageBreaks.Validate()
}

// Clone returns a shallow copy with the pre-render flag set as given.
func (c *ProcessingContext) Clone(preRender bool) *ProcessingContext {
	out := *c
	out.IsPreRender = preRender
	return &out
}

// ElementPosition records where one element landed during measurement.
type ElementPosition struct {
	ID          string
	PageNumber  int
	OffsetTop   float64
	ElementType string
}

// RealPageNumbers is the product of one measurement pass: true page numbers
// for every heading plus the total content page count, before the TOC offset
// is applied.
type RealPageNumbers struct {
	HeadingPages     map[string]int
	ContentPageCount int
	Positions        []ElementPosition
}

// ProcessingMetadata describes one processor invocation.
type ProcessingMetadata struct {
	Type        string
	Duration    time.Duration
	Warnings    []string
	CacheHits   int
	CacheMisses int
	Details     map[string]string
}

// ProcessedContent is the immutable value returned by every processor.
type ProcessedContent struct {
	HTML        string
	PageNumbers map[string]int // final heading-id -> page number map, when produced
	Metadata    ProcessingMetadata
}

// ContentDimensions reports the rendered size of processed content.
type ContentDimensions struct {
	PageCount int
	Width     float64
	Height    float64
	Positions []ElementPosition
}

// EnvironmentReport is the result of a processor environment check.
type EnvironmentReport struct {
	IsSupported     bool
	Issues          []string
	Recommendations []string
}

// RenderTimings aggregates per-stage durations for one request.
type RenderTimings struct {
	Total       time.Duration
	PreRender   time.Duration
	FinalRender time.Duration
}

// ResultMetadata aggregates processor metadata across one request.
type ResultMetadata struct {
	ProcessedContentTypes []string
	Warnings              []string
	CacheHits             int
	CacheMisses           int
}

// RenderingResult is the terminal artifact of one conversion request.
// PageNumbers, when present, maps heading ids to 1-based final page numbers.
type RenderingResult struct {
	HTML                  string
	UsedTwoStageRendering bool
	Performance           RenderTimings
	PageNumbers           map[string]int
	Metadata              ResultMetadata
}
