package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// ErrUnavailable is returned when no browser backend is configured.
var ErrUnavailable = errors.New("headless fetcher not configured")

// Noop stands in when headless rendering is disabled.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrUnavailable.
func (Noop) Fetch(_ context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{URL: request.URL}, ErrUnavailable
}
