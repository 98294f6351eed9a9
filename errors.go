package pagedoc

import "errors"

// Sentinel errors for library operations.
var (
	ErrEmptyContent   = errors.New("content cannot be empty")
	ErrNilContext     = errors.New("processing context cannot be nil")
	ErrHTMLConversion = errors.New("markdown to HTML conversion failed")

	// Render-engine errors.
	ErrBrowserConnect   = errors.New("failed to connect to browser")
	ErrPageCreate       = errors.New("failed to create browser page")
	ErrPageLoad         = errors.New("failed to load page")
	ErrEvaluate         = errors.New("script evaluation failed")
	ErrPDFExport        = errors.New("PDF export failed")
	ErrEngineClosed     = errors.New("render engine is closed")
	ErrMeasurement      = errors.New("page measurement failed")
	ErrDiagramRender    = errors.New("diagram rendering failed")
	ErrDiagramNoBackend = errors.New("no diagram rendering backend available")

	// Pool errors.
	ErrPoolExhausted = errors.New("render engine pool exhausted")
	ErrPoolClosed    = errors.New("render engine pool is closed")

	// Option validation errors.
	ErrInvalidPageSize    = errors.New("invalid page size")
	ErrInvalidOrientation = errors.New("invalid orientation")
	ErrInvalidTOCDepth    = errors.New("invalid TOC depth")
	ErrInvalidOrphans     = errors.New("invalid orphans value")
	ErrInvalidWidows      = errors.New("invalid widows value")
)
