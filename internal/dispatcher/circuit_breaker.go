package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/imagetext/internal/metrics"
)

// CircuitBreaker keeps per provider:model breaker state in Redis so every
// worker instance sees the same cooldowns.
type CircuitBreaker struct {
	redis       *redis.Client
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func NewCircuitBreaker(redisClient *redis.Client, baseBackoff, maxBackoff time.Duration) *CircuitBreaker {
	if baseBackoff <= 0 {
		baseBackoff = 30 * time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Minute
	}
	return &CircuitBreaker{redis: redisClient, baseBackoff: baseBackoff, maxBackoff: maxBackoff}
}

func breakerKey(provider, model string) string {
	return fmt.Sprintf("cb:%s:%s", provider, model)
}

// Open opens the breaker, doubling the cooldown per consecutive failure up
// to the maximum.
func (cb *CircuitBreaker) Open(ctx context.Context, provider, model string) {
	key := breakerKey(provider, model)

	failuresStr, _ := cb.redis.HGet(ctx, key, "failures").Result()
	failures, _ := strconv.Atoi(failuresStr)
	failures++

	backoff := cb.baseBackoff
	for i := 1; i < failures; i++ {
		backoff *= 2
		if backoff > cb.maxBackoff {
			backoff = cb.maxBackoff
			break
		}
	}

	retryAt := time.Now().Add(backoff).Unix()
	cb.redis.HSet(ctx, key, map[string]interface{}{
		"state":     "open",
		"retry_at":  retryAt,
		"failures":  failures,
		"opened_at": time.Now().Unix(),
	})
	cb.redis.Expire(ctx, key, 10*time.Minute)
	metrics.BreakerOpened(provider, model)

	log.Warn().
		Str("provider", provider).
		Str("model", model).
		Dur("cooldown", backoff).
		Int("failures", failures).
		Msg("circuit breaker opened")
}

// IsOpen checks the breaker; an expired cooldown moves it to half-open and
// lets one probe request through.
func (cb *CircuitBreaker) IsOpen(ctx context.Context, provider, model string) bool {
	key := breakerKey(provider, model)

	state, err := cb.redis.HGet(ctx, key, "state").Result()
	if err != nil || state != "open" {
		return false
	}

	retryAtStr, _ := cb.redis.HGet(ctx, key, "retry_at").Result()
	retryAt, _ := strconv.ParseInt(retryAtStr, 10, 64)
	if time.Now().Unix() >= retryAt {
		cb.redis.HSet(ctx, key, "state", "half_open")
		log.Info().Str("provider", provider).Str("model", model).Msg("circuit breaker half-open")
		return false
	}
	return true
}

// Close resets the breaker after a successful call.
func (cb *CircuitBreaker) Close(ctx context.Context, provider, model string) {
	key := breakerKey(provider, model)
	state, _ := cb.redis.HGet(ctx, key, "state").Result()
	if state == "" || state == "closed" {
		return
	}
	cb.redis.Del(ctx, key)
	metrics.BreakerClosed(provider, model)
	log.Info().Str("provider", provider).Str("model", model).Msg("circuit breaker closed")
}
