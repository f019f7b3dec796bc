package utility

import (
	"context"
	"time"

	"github.com/raterudder/loadshift/pkg/types"
)

// Provider defines the interface for fetching energy prices.
type Provider interface {
	// GetPrices returns every price slot overlapping [start, end), sorted by
	// start time.
	GetPrices(ctx context.Context, start, end time.Time) ([]types.Price, error)
}
