package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/adeline-api/internal/dto"
	"github.com/noah-isme/adeline-api/internal/observability"
)

// reportCache stores rendered placement reports. A nil client disables caching.
type reportCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func newReportCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) reportCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return reportCache{client: client, ttl: ttl, logger: logger}
}

func reportCacheKey(assessmentID string) string {
	return fmt.Sprintf("assessment:report:%s", assessmentID)
}

func (c reportCache) fetch(ctx context.Context, assessmentID string) (dto.PlacementReportResponse, bool) {
	if c.client == nil {
		return dto.PlacementReportResponse{}, false
	}

	cached, err := c.client.Get(ctx, reportCacheKey(assessmentID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Msg("failed to read report cache")
		}
		observability.ReportCache().WithLabelValues("miss").Inc()
		return dto.PlacementReportResponse{}, false
	}

	var report dto.PlacementReportResponse
	if err := json.Unmarshal([]byte(cached), &report); err != nil {
		c.logger.Warn().Err(err).Msg("discarding malformed report cache entry")
		observability.ReportCache().WithLabelValues("miss").Inc()
		return dto.PlacementReportResponse{}, false
	}

	observability.ReportCache().WithLabelValues("hit").Inc()
	return report, true
}

func (c reportCache) write(ctx context.Context, report dto.PlacementReportResponse) {
	if c.client == nil {
		return
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, reportCacheKey(report.AssessmentID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to store report cache")
	}
}

func (c reportCache) invalidate(ctx context.Context, assessmentIDs ...string) {
	if c.client == nil || len(assessmentIDs) == 0 {
		return
	}

	keys := make([]string, 0, len(assessmentIDs))
	for _, id := range assessmentIDs {
		keys = append(keys, reportCacheKey(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to invalidate report cache")
	}
}
