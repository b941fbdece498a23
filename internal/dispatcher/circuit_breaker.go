package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// CircuitBreaker suspends rendering of documents whose pages keep failing.
// State lives in redis so every instance sees the same breaker.
type CircuitBreaker struct {
	redis       *redis.Client
	threshold   int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
}

// NewCircuitBreaker opens a breaker after threshold consecutive failures.
func NewCircuitBreaker(redisClient *redis.Client, threshold int, baseBackoff, maxBackoff time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &CircuitBreaker{
		redis:       redisClient,
		threshold:   threshold,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		now:         time.Now,
	}
}

func (cb *CircuitBreaker) key(docID string) string { return fmt.Sprintf("cb:render:%s", docID) }

// Failure records a failed render and opens the breaker once the threshold
// is reached. Each reopening doubles the cooldown up to maxBackoff.
func (cb *CircuitBreaker) Failure(ctx context.Context, docID string) {
	key := cb.key(docID)
	failures, err := cb.redis.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		log.Warn().Err(err).Str("doc", docID).Msg("circuit breaker update failed")
		return
	}
	cb.redis.Expire(ctx, key, 10*time.Minute)
	if int(failures) < cb.threshold {
		return
	}

	backoff := cb.baseBackoff
	for i := cb.threshold; i < int(failures); i++ {
		backoff *= 2
		if backoff > cb.maxBackoff {
			backoff = cb.maxBackoff
			break
		}
	}
	retryAt := cb.now().Add(backoff)
	cb.redis.HSet(ctx, key, map[string]interface{}{
		"state":    "open",
		"retry_at": retryAt.Unix(),
	})

	log.Warn().
		Str("doc", docID).
		Dur("cooldown", backoff).
		Int64("failures", failures).
		Time("retry_at", retryAt).
		Msg("render circuit breaker OPENED")
}

// Allow returns a *BreakerOpenError while the breaker is cooling down. After
// the cooldown one probe render is let through (half-open).
func (cb *CircuitBreaker) Allow(ctx context.Context, docID string) error {
	key := cb.key(docID)
	res, err := cb.redis.HMGet(ctx, key, "state", "retry_at").Result()
	if err != nil || len(res) < 2 {
		return nil
	}
	state, _ := res[0].(string)
	if state != "open" {
		return nil
	}
	retryAtStr, _ := res[1].(string)
	retryAt, _ := strconv.ParseInt(retryAtStr, 10, 64)
	if cb.now().Unix() >= retryAt {
		cb.redis.HSet(ctx, key, "state", "half_open")
		log.Info().Str("doc", docID).Msg("render circuit breaker moved to HALF-OPEN")
		return nil
	}
	return &BreakerOpenError{Key: docID, RetryAt: time.Unix(retryAt, 0)}
}

// Success resets the breaker.
func (cb *CircuitBreaker) Success(ctx context.Context, docID string) {
	key := cb.key(docID)
	n, _ := cb.redis.Exists(ctx, key).Result()
	if n == 0 {
		return
	}
	cb.redis.Del(ctx, key)
	log.Info().Str("doc", docID).Msg("render circuit breaker CLOSED (reset)")
}
