package pagedoc

import "context"

// ContentProcessor is one pluggable content transformer (diagrams, TOC).
// Processors are registered in an ordered registry rather than discovered:
// diagram processors must run before the TOC processor because page-layout
// measurement is only meaningful once embedded content has its final size.
type ContentProcessor interface {
	// Type returns the processor's content-type tag ("diagram", "toc").
	Type() string

	// Detect reports a confidence in [0,1] that this processor has work to
	// do for the given content.
	Detect(content string, pctx *ProcessingContext) float64

	// Process transforms the content. Implementations must degrade rather
	// than fail where possible; returned errors become warnings upstream.
	Process(ctx context.Context, content string, pctx *ProcessingContext) (*ProcessedContent, error)

	// Dimensions reports the rendered size of previously processed content.
	Dimensions(ctx context.Context, processed *ProcessedContent, pctx *ProcessingContext) (*ContentDimensions, error)

	// ValidateEnvironment checks whether the processor's external
	// collaborators (browser, diagram backends) are usable.
	ValidateEnvironment(ctx context.Context) *EnvironmentReport

	// SetCache installs a content cache. A nil cache disables caching.
	SetCache(cache ContentCache)
}

// ProcessorRegistry holds processors in their fixed execution order.
type ProcessorRegistry struct {
	ordered []ContentProcessor
}

// NewProcessorRegistry creates a registry with the given processors in
// execution order.
func NewProcessorRegistry(processors ...ContentProcessor) *ProcessorRegistry {
	r := &ProcessorRegistry{}
	for _, p := range processors {
		r.Register(p)
	}
	return r
}

// Register appends a processor, replacing any existing processor with the
// same type tag in place (order is preserved).
func (r *ProcessorRegistry) Register(p ContentProcessor) {
	if p == nil {
		return
	}
	for i, existing := range r.ordered {
		if existing.Type() == p.Type() {
			r.ordered[i] = p
			return
		}
	}
	r.ordered = append(r.ordered, p)
}

// ByType returns the processor registered under the given tag, or nil.
func (r *ProcessorRegistry) ByType(tag string) ContentProcessor {
	for _, p := range r.ordered {
		if p.Type() == tag {
			return p
		}
	}
	return nil
}

// All returns processors in execution order.
func (r *ProcessorRegistry) All() []ContentProcessor {
	return r.ordered
}
