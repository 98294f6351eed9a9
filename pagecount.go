package pagedoc

import "bytes"

// Binary markers for PDF page-count extraction. Scanning is byte-oriented
// and must tolerate arbitrary binary content between markers (PDF streams
// are not valid UTF-8).
var (
	typeMarker  = []byte("/Type")
	pageMarker  = []byte("/Page")
	pagesMarker = []byte("/Pages")
	countMarker = []byte("/Count")
)

// CountPDFPages extracts the page count from a PDF-like binary.
//
// Primary method: count `/Type /Page` object markers. If none are found,
// fall back to the `/Count N` entry of the `/Type /Pages` tree node. If
// neither pattern matches, default to 1. Only the page count is needed, so
// a full format parser is deliberately out of scope.
func CountPDFPages(data []byte) int {
	if n := countPageObjects(data); n > 0 {
		return n
	}
	if n := pagesTreeCount(data); n > 0 {
		return n
	}
	return 1
}

// countPageObjects counts occurrences of "/Type" followed by optional
// whitespace and "/Page" that is not "/Pages".
func countPageObjects(data []byte) int {
	count := 0
	for i := 0; ; {
		j := bytes.Index(data[i:], typeMarker)
		if j < 0 {
			break
		}
		pos := i + j + len(typeMarker)
		pos = skipPDFWhitespace(data, pos)
		if bytes.HasPrefix(data[pos:], pageMarker) && !bytes.HasPrefix(data[pos:], pagesMarker) {
			count++
		}
		i += j + len(typeMarker)
	}
	return count
}

// pagesTreeCount finds a "/Type /Pages" node and returns its "/Count" value.
func pagesTreeCount(data []byte) int {
	for i := 0; ; {
		j := bytes.Index(data[i:], typeMarker)
		if j < 0 {
			return 0
		}
		pos := i + j + len(typeMarker)
		pos = skipPDFWhitespace(data, pos)
		if bytes.HasPrefix(data[pos:], pagesMarker) {
			if n := parseCountAfter(data, pos+len(pagesMarker)); n > 0 {
				return n
			}
		}
		i += j + len(typeMarker)
	}
}

// parseCountAfter scans forward from pos for a "/Count N" entry within the
// same dictionary (bounded by the closing ">>").
func parseCountAfter(data []byte, pos int) int {
	end := bytes.Index(data[pos:], []byte(">>"))
	var region []byte
	if end < 0 {
		region = data[pos:]
	} else {
		region = data[pos : pos+end]
	}

	k := bytes.Index(region, countMarker)
	if k < 0 {
		return 0
	}
	p := skipPDFWhitespace(region, k+len(countMarker))

	n := 0
	digits := false
	for p < len(region) && region[p] >= '0' && region[p] <= '9' {
		n = n*10 + int(region[p]-'0')
		digits = true
		p++
	}
	if !digits {
		return 0
	}
	return n
}

// skipPDFWhitespace advances past PDF whitespace characters.
func skipPDFWhitespace(data []byte, pos int) int {
	for pos < len(data) {
		switch data[pos] {
		case ' ', '\t', '\r', '\n', '\f', 0x00:
			pos++
		default:
			return pos
		}
	}
	return pos
}
