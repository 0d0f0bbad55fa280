// SPDX-License-Identifier: MIT

// Package pricing turns job durations into point costs using the active
// pricing rules.
package pricing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxmill/settled/internal/cache"
	"github.com/voxmill/settled/internal/config"
)

// Cost is the outcome of a cost calculation. Rule names the pricing rule
// applied, for the ledger metadata audit trail.
type Cost struct {
	Points int64
	Rule   string
}

// Calculator is the cost interface the settlement handlers consume.
type Calculator interface {
	DownloadCost(ctx context.Context, durationSeconds float64) (Cost, error)
	ASRCost(ctx context.Context, modelID string, durationSeconds float64) (Cost, error)
	DefaultModel(ctx context.Context, kind string) (string, error)
}

// Source yields the current pricing rules. In this deployment rules come
// from configuration; a database-backed source satisfies the same
// interface.
type Source interface {
	Rules(ctx context.Context) (config.Pricing, error)
}

// StaticSource serves a fixed rule set.
type StaticSource struct {
	Pricing config.Pricing
}

// Rules implements Source.
func (s *StaticSource) Rules(context.Context) (config.Pricing, error) {
	return s.Pricing, nil
}

const rulesCacheKey = "pricing:rules"

// Service is the cached Calculator implementation. The cache is injected
// and shared; Invalidate is called whenever an operator changes rules so
// stale prices never outlive the TTL.
type Service struct {
	source Source
	cache  cache.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewService builds a Service around source with the given cache and TTL.
func NewService(source Source, c cache.Cache, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{source: source, cache: c, ttl: ttl, logger: logger}
}

// Invalidate drops the cached rules; the next lookup re-reads the source.
func (s *Service) Invalidate() {
	s.cache.Invalidate(rulesCacheKey)
}

func (s *Service) rules(ctx context.Context) (config.Pricing, error) {
	if v, ok := s.cache.Get(rulesCacheKey); ok {
		if rules, ok := v.(config.Pricing); ok {
			return rules, nil
		}
		// A foreign value under our key (possible with a shared Redis
		// cache) is treated as a miss.
		s.cache.Invalidate(rulesCacheKey)
	}

	rules, err := s.source.Rules(ctx)
	if err != nil {
		return config.Pricing{}, fmt.Errorf("load pricing rules: %w", err)
	}
	s.cache.Set(rulesCacheKey, rules, s.ttl)
	return rules, nil
}

// DownloadCost prices a download by its resolved media duration.
func (s *Service) DownloadCost(ctx context.Context, durationSeconds float64) (Cost, error) {
	rules, err := s.rules(ctx)
	if err != nil {
		return Cost{}, err
	}
	points := perMinute(durationSeconds, rules.DownloadPointsPerMinute)
	if points < rules.DownloadMinimumPoints {
		points = rules.DownloadMinimumPoints
	}
	return Cost{
		Points: points,
		Rule:   fmt.Sprintf("download:ppm=%d,min=%d", rules.DownloadPointsPerMinute, rules.DownloadMinimumPoints),
	}, nil
}

// ASRCost prices a transcription by model and audio duration.
func (s *Service) ASRCost(ctx context.Context, modelID string, durationSeconds float64) (Cost, error) {
	rules, err := s.rules(ctx)
	if err != nil {
		return Cost{}, err
	}
	multiplier := 1.0
	if m, ok := rules.ModelMultipliers[modelID]; ok && m > 0 {
		multiplier = m
	}
	points := int64(math.Ceil(float64(perMinute(durationSeconds, rules.ASRPointsPerMinute)) * multiplier))
	if points < rules.ASRMinimumPoints {
		points = rules.ASRMinimumPoints
	}
	return Cost{
		Points: points,
		Rule:   fmt.Sprintf("asr:ppm=%d,model=%s,x%.2f", rules.ASRPointsPerMinute, modelID, multiplier),
	}, nil
}

// DefaultModel resolves the default model for a capability kind.
func (s *Service) DefaultModel(ctx context.Context, kind string) (string, error) {
	rules, err := s.rules(ctx)
	if err != nil {
		return "", err
	}
	model, ok := rules.DefaultModels[kind]
	if !ok {
		return "", fmt.Errorf("no default model configured for kind %q", kind)
	}
	return model, nil
}

// perMinute converts a duration into points, rounding partial minutes up.
func perMinute(durationSeconds float64, pointsPerMinute int64) int64 {
	if durationSeconds <= 0 || pointsPerMinute <= 0 {
		return 0
	}
	minutes := math.Ceil(durationSeconds / 60)
	return int64(minutes) * pointsPerMinute
}

var _ Calculator = (*Service)(nil)
