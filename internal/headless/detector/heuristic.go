// Package detector decides when a plain fetch should be re-rendered in a
// headless browser.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

const defaultThreshold = 2048

// Heuristic promotes pages that look like client-rendered shells.
type Heuristic struct {
	// BodyLengthThreshold is the size under which script-heavy pages are
	// considered shells.
	BodyLengthThreshold int
}

var _ crawler.HeadlessDetector = (*Heuristic)(nil)

// NewHeuristic creates a new detector. A threshold of zero uses 2 KiB.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var shellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"></div>`),
	[]byte(`id="app"></div>`),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
}

var noscriptHints = [][]byte{
	[]byte("enable javascript"),
	[]byte("requires javascript"),
	[]byte("javascript is disabled"),
}

// ShouldPromote reports whether probe, a successful HTML response, looks
// like it needs JavaScript to produce its content.
func (h *Heuristic) ShouldPromote(probe crawler.FetchResponse) bool {
	if probe.StatusCode != http.StatusOK {
		return false
	}
	if ct := strings.ToLower(probe.ContentType()); ct != "" && !strings.Contains(ct, "html") {
		return false
	}
	body := probe.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	lower := bytes.ToLower(body)
	if noscript := bytes.Index(lower, []byte("<noscript")); noscript >= 0 {
		for _, hint := range noscriptHints {
			if bytes.Contains(lower[noscript:], hint) {
				return true
			}
		}
	}
	return len(body) < h.BodyLengthThreshold && scriptShare(lower) >= 25
}

// scriptShare returns the percentage of lower covered by <script> elements.
// An unterminated tag covers the rest of the document.
func scriptShare(lower []byte) int {
	total := len(lower)
	if total == 0 {
		return 0
	}
	var (
		openTag  = []byte("<script")
		closeTag = []byte("</script>")
		covered  int
		pos      int
	)
	for pos < total {
		rel := bytes.Index(lower[pos:], openTag)
		if rel < 0 {
			break
		}
		start := pos + rel
		end := total
		if closeRel := bytes.Index(lower[start:], closeTag); closeRel >= 0 {
			end = start + closeRel + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
