package insights

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls   int
	summary Summary
	err     error
}

func (f *fakeSource) BuildSummary(ctx context.Context, expiringWindowDays int) (Summary, error) {
	f.calls++
	if f.err != nil {
		return Summary{}, f.err
	}
	out := f.summary
	out.ExpiringWindowD = expiringWindowDays
	return out, nil
}

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestSummaryCachesUntilBump(t *testing.T) {
	cache, _ := testCache(t)
	source := &fakeSource{summary: Summary{
		TotalRecords: 3,
		TotalValue:   120.5,
		StatusCounts: map[string]int{"IN_STOCK": 2, "LOW_STOCK": 1},
		OpenAlerts:   map[string]int{"WARNING": 1},
	}}
	svc := NewService(source, cache)
	ctx := context.Background()

	first, err := svc.Summary(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 3, first.TotalRecords)
	require.Equal(t, DefaultExpiringWindowDays, first.ExpiringWindowD)
	require.Equal(t, 1, source.calls)

	second, err := svc.Summary(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, source.calls, "second read is served from cache")

	require.NoError(t, cache.Bump(ctx))
	_, err = svc.Summary(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 2, source.calls, "bump forces a rebuild")
}

func TestSummaryWindowIsPartOfKey(t *testing.T) {
	cache, _ := testCache(t)
	source := &fakeSource{summary: Summary{TotalRecords: 1}}
	svc := NewService(source, cache)
	ctx := context.Background()

	seven, err := svc.Summary(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 7, seven.ExpiringWindowD)

	thirty, err := svc.Summary(ctx, 30)
	require.NoError(t, err)
	require.Equal(t, 30, thirty.ExpiringWindowD)
	require.Equal(t, 2, source.calls, "different windows cache independently")
}

func TestSummaryWithoutRedis(t *testing.T) {
	source := &fakeSource{summary: Summary{TotalRecords: 5}}
	svc := NewService(source, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := svc.Summary(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, 5, got.TotalRecords)
	}
	require.Equal(t, 2, source.calls, "nil cache degrades to pass-through loads")
}

func TestCacheVersioning(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	ver, err := cache.Version(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, ver, "version initialises to one")

	key1, err := cache.BuildKey(ctx, "insights", "summary")
	require.NoError(t, err)

	require.NoError(t, cache.Bump(ctx))
	key2, err := cache.BuildKey(ctx, "insights", "summary")
	require.NoError(t, err)
	require.NotEqual(t, key1, key2, "bump rotates every derived key")
}
