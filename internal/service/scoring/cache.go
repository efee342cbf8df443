package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/acme/outbound-message-automation/internal/domain"
)

// AnalysisCache caches recent analyses in Redis keyed by template hash and
// lead. A hit means the same body was scored for the same lead within the
// validity window, so the result is reused instead of being recomputed.
type AnalysisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAnalysisCache constructs a cache over the shared Redis client.
func NewAnalysisCache(client *redis.Client, ttl time.Duration) *AnalysisCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &AnalysisCache{client: client, ttl: ttl}
}

// Get returns the cached analysis, or nil on a miss.
func (c *AnalysisCache) Get(ctx context.Context, templateHash string, leadID uuid.UUID) (*domain.MessageAnalysis, error) {
	raw, err := c.client.Get(ctx, c.key(templateHash, leadID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analysis cache: get: %w", err)
	}

	var analysis domain.MessageAnalysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return nil, fmt.Errorf("analysis cache: unmarshal: %w", err)
	}
	return &analysis, nil
}

// Set stores an analysis with the configured TTL.
func (c *AnalysisCache) Set(ctx context.Context, templateHash string, leadID uuid.UUID, analysis *domain.MessageAnalysis) error {
	raw, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("analysis cache: marshal: %w", err)
	}

	if err := c.client.Set(ctx, c.key(templateHash, leadID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("analysis cache: set: %w", err)
	}
	return nil
}

func (c *AnalysisCache) key(templateHash string, leadID uuid.UUID) string {
	return fmt.Sprintf("automation:analysis:%s:%s", templateHash, leadID.String())
}
