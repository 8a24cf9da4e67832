// Package hybrid chooses between the plain and headless fetch backends.
package hybrid

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Modes.
const (
	ModePlain    = "colly"
	ModeHeadless = "headless"
	ModeAuto     = "auto"
)

// Fetcher routes requests to a backend. In auto mode every URL is fetched
// plainly first and re-rendered headless when the detector asks for it.
type Fetcher struct {
	mode     string
	plain    crawler.Fetcher
	headless crawler.Fetcher
	detector crawler.HeadlessDetector
	logger   *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New validates the combination of mode and backends.
func New(mode string, plain, headless crawler.Fetcher, detector crawler.HeadlessDetector, logger *zap.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch mode {
	case ModePlain:
		if plain == nil {
			return nil, errors.New("plain fetcher is required")
		}
	case ModeHeadless:
		if headless == nil {
			return nil, errors.New("headless fetcher is required")
		}
	case ModeAuto:
		if plain == nil || headless == nil || detector == nil {
			return nil, errors.New("auto mode needs plain and headless fetchers and a detector")
		}
	default:
		return nil, fmt.Errorf("unknown fetch mode %q", mode)
	}
	return &Fetcher{mode: mode, plain: plain, headless: headless, detector: detector, logger: logger}, nil
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.mode == ModeHeadless || (request.UseHeadless && f.headless != nil) {
		return f.headless.Fetch(ctx, request)
	}
	resp, err := f.plain.Fetch(ctx, request)
	if err != nil || f.mode != ModeAuto || !f.detector.ShouldPromote(resp) {
		return resp, err
	}

	promoted, herr := f.headless.Fetch(ctx, request)
	if herr != nil {
		f.logger.Warn("headless promotion failed", zap.String("url", request.URL), zap.Error(herr))
		return resp, nil
	}
	f.logger.Debug("headless promotion applied", zap.String("url", request.URL))
	return promoted, nil
}
