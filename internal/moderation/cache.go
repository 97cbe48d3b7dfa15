package moderation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "chatrelay:moderation:"

// CachedClassifier memoizes verdicts in Redis. Cache failures fall through to
// the wrapped classifier; classifier errors are never cached.
type CachedClassifier struct {
	next   Classifier
	cache  redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedClassifier(next Classifier, cache redis.Cmdable, ttl time.Duration, logger *zap.Logger) *CachedClassifier {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedClassifier{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	key := cacheKey(text)

	if verdict, ok := c.lookup(ctx, key); ok {
		return verdict, nil
	}

	verdict, err := c.next.Classify(ctx, text)
	if err != nil {
		return Verdict{}, err
	}

	c.store(ctx, key, verdict)
	return verdict, nil
}

func (c *CachedClassifier) lookup(ctx context.Context, key string) (Verdict, bool) {
	raw, err := c.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("moderation cache read failed", zap.Error(err))
		}
		return Verdict{}, false
	}

	var verdict Verdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		c.logger.Debug("moderation cache entry corrupt", zap.String("key", key), zap.Error(err))
		return Verdict{}, false
	}
	return verdict, true
}

func (c *CachedClassifier) store(ctx context.Context, key string, verdict Verdict) {
	raw, err := json.Marshal(verdict)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Debug("moderation cache write failed", zap.Error(err))
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
