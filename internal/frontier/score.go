package frontier

import "math"

// Weights are the coefficients of the priority score.
type Weights struct {
	Depth   float64
	Sitemap float64
	Inlinks float64
}

// DefaultWeights favors shallow pages, then sitemap priority, then inlinks.
func DefaultWeights() Weights {
	return Weights{Depth: 1, Sitemap: 1, Inlinks: 0.25}
}

// Score computes
//
//	w_depth/(1+depth) + w_sitemap*sitemapPriority + w_inlinks*ln(1+inlinks)
func (w Weights) Score(depth int, sitemapPriority float64, inlinks int) float64 {
	if depth < 0 {
		depth = 0
	}
	if inlinks < 0 {
		inlinks = 0
	}
	return w.Depth/float64(1+depth) + w.Sitemap*sitemapPriority + w.Inlinks*math.Log1p(float64(inlinks))
}

// Less orders entries for claiming: higher score first, then shallower, then
// older.
func Less(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	return a.ID < b.ID
}
