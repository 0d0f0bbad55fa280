// SPDX-License-Identifier: MIT

package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/voxmill/settled/internal/cache"
	"github.com/voxmill/settled/internal/config"
)

func testRules() config.Pricing {
	return config.Pricing{
		DownloadPointsPerMinute: 2,
		DownloadMinimumPoints:   1,
		ASRPointsPerMinute:      5,
		ASRMinimumPoints:        1,
		ModelMultipliers:        map[string]float64{"large-v3": 1.5},
		DefaultModels:           map[string]string{"asr": "base"},
	}
}

func newTestService(t *testing.T, rules config.Pricing) *Service {
	t.Helper()
	c := cache.NewMemory(time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	return NewService(&StaticSource{Pricing: rules}, c, time.Minute, zerolog.Nop())
}

func TestDownloadCostRoundsMinutesUp(t *testing.T) {
	svc := newTestService(t, testRules())
	ctx := context.Background()

	cases := []struct {
		seconds float64
		want    int64
	}{
		{59, 2},   // under a minute still bills one
		{60, 2},   // exact minute
		{61, 4},   // partial second minute rounds up
		{600, 20}, // ten minutes
	}
	for _, tc := range cases {
		cost, err := svc.DownloadCost(ctx, tc.seconds)
		require.NoError(t, err)
		require.Equal(t, tc.want, cost.Points, "seconds=%v", tc.seconds)
	}
}

func TestDownloadCostMinimumFloor(t *testing.T) {
	rules := testRules()
	rules.DownloadMinimumPoints = 3
	svc := newTestService(t, rules)

	cost, err := svc.DownloadCost(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(3), cost.Points)
}

func TestASRCostAppliesModelMultiplier(t *testing.T) {
	svc := newTestService(t, testRules())
	ctx := context.Background()

	base, err := svc.ASRCost(ctx, "base", 120)
	require.NoError(t, err)
	require.Equal(t, int64(10), base.Points)

	large, err := svc.ASRCost(ctx, "large-v3", 120)
	require.NoError(t, err)
	require.Equal(t, int64(15), large.Points)
	require.Contains(t, large.Rule, "large-v3")
}

func TestASRCostUnknownModelUsesBaseRate(t *testing.T) {
	svc := newTestService(t, testRules())

	cost, err := svc.ASRCost(context.Background(), "no-such-model", 60)
	require.NoError(t, err)
	require.Equal(t, int64(5), cost.Points)
}

func TestDefaultModel(t *testing.T) {
	svc := newTestService(t, testRules())
	ctx := context.Background()

	model, err := svc.DefaultModel(ctx, "asr")
	require.NoError(t, err)
	require.Equal(t, "base", model)

	_, err = svc.DefaultModel(ctx, "tts")
	require.Error(t, err)
}

func TestInvalidateRefreshesRules(t *testing.T) {
	src := &StaticSource{Pricing: testRules()}
	c := cache.NewMemory(time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	svc := NewService(src, c, time.Minute, zerolog.Nop())
	ctx := context.Background()

	cost, err := svc.DownloadCost(ctx, 60)
	require.NoError(t, err)
	require.Equal(t, int64(2), cost.Points)

	// New rules only take effect after invalidation.
	src.Pricing.DownloadPointsPerMinute = 10
	cost, err = svc.DownloadCost(ctx, 60)
	require.NoError(t, err)
	require.Equal(t, int64(2), cost.Points)

	svc.Invalidate()
	cost, err = svc.DownloadCost(ctx, 60)
	require.NoError(t, err)
	require.Equal(t, int64(10), cost.Points)
}
