package insights

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/larder-app/larder/internal/stock"
)

// DefaultExpiringWindowDays matches the classifier's expiry warning window.
const DefaultExpiringWindowDays = int(stock.ExpiryWarningWindow / (24 * time.Hour))

// SummarySource produces the aggregate read model.
type SummarySource interface {
	BuildSummary(ctx context.Context, expiringWindowDays int) (Summary, error)
}

// Service serves cached stock summaries. Concurrent cache misses for the same
// key collapse into a single database load.
type Service struct {
	source SummarySource
	cache  *Cache
	group  singleflight.Group
}

// NewService constructs the insights service.
func NewService(source SummarySource, cache *Cache) *Service {
	return &Service{source: source, cache: cache}
}

// Summary returns the aggregated view, served from cache when fresh.
func (s *Service) Summary(ctx context.Context, expiringWindowDays int) (Summary, error) {
	if expiringWindowDays <= 0 {
		expiringWindowDays = DefaultExpiringWindowDays
	}

	key, err := s.cache.BuildKey(ctx, keySummary(), strconv.Itoa(expiringWindowDays))
	if err != nil {
		return Summary{}, err
	}

	var out Summary
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
		value, err, _ := s.singleflightBuild(ctx, key, func(ctx context.Context) (interface{}, error) {
			return s.source.BuildSummary(ctx, expiringWindowDays)
		})
		return value, err
	})
	if err != nil {
		return Summary{}, err
	}
	return out, nil
}

func (s *Service) singleflightBuild(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error, bool) {
	resultChan := s.group.DoChan(key, func() (interface{}, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}
