package pagedoc

import (
	"math"
	"strconv"
	"strings"
)

// Unit conversion factors into CSS pixels (96 dpi).
const (
	pxPerInch = 96.0
	pxPerCm   = pxPerInch / 2.54
	pxPerMm   = pxPerCm / 10
	pxPerPt   = pxPerInch / 72
)

// headerFooterAllowancePx is the nominal vertical space reserved for a
// header or footer when page numbers are shown (~1cm each).
const headerFooterAllowancePx = pxPerCm

// pageSizePx maps named page sizes to their portrait dimensions in pixels.
var pageSizePx = map[string]struct{ w, h float64 }{
	PageSizeA4:     {210 * pxPerMm, 297 * pxPerMm},
	PageSizeLetter: {8.5 * pxPerInch, 11 * pxPerInch},
	PageSizeLegal:  {8.5 * pxPerInch, 14 * pxPerInch},
}

// ParseLength converts a CSS length string ("2cm", "0.5in", "12pt") to
// pixels. Bare numbers and unrecognized units are treated as pixels (the
// latter with a logged warning); unparsable numeric text yields 0.
func ParseLength(s string) float64 {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0
	}

	// Split trailing unit letters from the numeric part.
	i := len(s)
	for i > 0 {
		c := s[i-1]
		if c >= '0' && c <= '9' || c == '.' {
			break
		}
		i--
	}
	numPart, unit := s[:i], strings.TrimSpace(s[i:])

	value, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0
	}

	switch unit {
	case "cm":
		return value * pxPerCm
	case "mm":
		return value * pxPerMm
	case "in":
		return value * pxPerInch
	case "pt":
		return value * pxPerPt
	case "", "px":
		return value
	default:
		defaultLogger().Warn("unrecognized length unit, treating as px", "unit", unit, "value", s)
		return value
	}
}

// PageGeometry is the resolved pixel geometry of one page, including the
// usable content area after margins and header/footer allowances.
type PageGeometry struct {
	Width        float64
	Height       float64
	MarginTop    float64
	MarginRight  float64
	MarginBottom float64
	MarginLeft   float64
	HeaderHeight float64
	FooterHeight float64

	// EffectiveWidth and EffectiveHeight are the usable content dimensions
	// per page. Page-number correctness depends on both the Go side and the
	// in-engine measurement script agreeing on EffectiveHeight.
	EffectiveWidth  float64
	EffectiveHeight float64
}

// HeaderFooterSpace returns the vertical space reserved for headers and
// footers. The nominal allowance applies only when page numbers are shown;
// custom template heights take precedence when positive.
func HeaderFooterSpace(hasPageNumbers bool, customHeaderPx, customFooterPx float64) (header, footer float64) {
	if customHeaderPx > 0 {
		header = customHeaderPx
	} else if hasPageNumbers {
		header = headerFooterAllowancePx
	}
	if customFooterPx > 0 {
		footer = customFooterPx
	} else if hasPageNumbers {
		footer = headerFooterAllowancePx
	}
	return header, footer
}

// Geometry resolves page settings into pixel geometry.
// Nil settings resolve to defaults.
func Geometry(p *PageSettings) PageGeometry {
	p = p.withDefaults()

	size, ok := pageSizePx[strings.ToLower(p.Size)]
	if !ok {
		size = pageSizePx[PageSizeA4]
	}
	w, h := size.w, size.h
	if strings.EqualFold(p.Orientation, OrientationLandscape) {
		w, h = h, w
	}

	var customHeader, customFooter float64
	if p.HeaderTemplate != "" {
		customHeader = headerFooterAllowancePx
	}
	if p.FooterTemplate != "" {
		customFooter = headerFooterAllowancePx
	}
	header, footer := HeaderFooterSpace(p.ShowPageNumbers, customHeader, customFooter)

	g := PageGeometry{
		Width:        w,
		Height:       h,
		MarginTop:    ParseLength(p.Margins.Top),
		MarginRight:  ParseLength(p.Margins.Right),
		MarginBottom: ParseLength(p.Margins.Bottom),
		MarginLeft:   ParseLength(p.Margins.Left),
		HeaderHeight: header,
		FooterHeight: footer,
	}
	g.EffectiveWidth = g.Width - g.MarginLeft - g.MarginRight
	g.EffectiveHeight = g.Height - g.MarginTop - g.MarginBottom - g.HeaderHeight - g.FooterHeight
	return g
}

// PageNumberFromOffset converts an absolute vertical pixel offset into a
// 1-based page number. The formula must match the in-engine measurement
// script byte-for-byte (same rounding direction):
//
//	floor(max(0, offsetTop - marginTop) / effectiveHeight) + 1
func PageNumberFromOffset(offsetTop float64, g PageGeometry) int {
	if g.EffectiveHeight <= 0 {
		return 1
	}
	page := int(math.Floor(math.Max(0, offsetTop-g.MarginTop)/g.EffectiveHeight)) + 1
	if page < 1 {
		return 1
	}
	return page
}

// TotalPages converts a total content height into a page count.
// Empty content still occupies one page; a degenerate effective height
// (zero or negative) also yields one page rather than dividing by zero.
func TotalPages(contentHeightPx float64, g PageGeometry) int {
	if g.EffectiveHeight <= 0 {
		return 1
	}
	pages := int(math.Ceil(contentHeightPx / g.EffectiveHeight))
	if pages < 1 {
		return 1
	}
	return pages
}
