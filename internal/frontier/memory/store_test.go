package memory

import (
	"testing"

	"github.com/JakeFAU/frontier-crawler/internal/clock/fake"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/frontier/frontiertest"
)

func TestStoreConformance(t *testing.T) {
	t.Parallel()

	frontiertest.Run(t, func(_ *testing.T, opts frontier.Options, clock *fake.Clock) frontier.Store {
		return NewStore(opts, clock)
	})
}
