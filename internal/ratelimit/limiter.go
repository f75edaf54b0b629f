package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/order-service/internal/auth"
)

// Counter increments the hit count of key inside the current window and returns the new count.
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("ratelimit: redis pipeline failed: %w", err)
	}
	return incr.Val(), nil
}

// Limiter is a fixed-window limiter keyed by caller.
type Limiter struct {
	counter Counter
	limit   int64
	window  time.Duration
	prefix  string
}

func New(counter Counter, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{
		counter: counter,
		limit:   int64(limit),
		window:  window,
		prefix:  prefix,
	}
}

// Allow reports whether key is still under its limit. Counter failures let the request through.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	windowStart := time.Now().Truncate(l.window).Unix()
	count, err := l.counter.Hit(ctx, fmt.Sprintf("ratelimit:%s:%s:%d", l.prefix, key, windowStart), l.window)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("ratelimit: counter unavailable, allowing request")
		return true
	}
	return count <= l.limit
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := callerKey(r)
		if !l.Allow(r.Context(), key) {
			log.Warn().Str("key", key).Str("path", r.URL.Path).Msg("ratelimit: request rejected")
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Too many requests, please try again later"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		return "user:" + p.UserID.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
