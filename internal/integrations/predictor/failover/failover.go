package failover

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/QueueDesk/internal/integrations/predictor"
	"github.com/BearBump/QueueDesk/internal/models"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Client — обёртка "делегат с подстраховкой": каждый вызов идёт во внешний
// предиктор под строгим таймаутом, любая ошибка или превышение лимита
// молча переводит вызов на локальную формулу. Наружу деградация не видна.
type Client struct {
	remote predictor.Client
	local  predictor.Client

	timeout time.Duration

	rl             RateLimiter
	limitPerMinute int64
}

func New(remote, local predictor.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{remote: remote, local: local, timeout: timeout}
}

// WithRateLimit ограничивает обращения к внешнему предиктору; сверх лимита
// сразу работает локальная формула, без сетевого вызова.
func (c *Client) WithRateLimit(rl RateLimiter, perMinute int64) *Client {
	if rl != nil && perMinute > 0 {
		c.rl = rl
		c.limitPerMinute = perMinute
	}
	return c
}

func (c *Client) remoteAllowed(ctx context.Context) bool {
	if c.remote == nil {
		return false
	}
	if c.rl == nil {
		return true
	}
	key := fmt.Sprintf("rl:predictor:%s", time.Now().UTC().Format("200601021504"))
	allowed, n, err := c.rl.Allow(ctx, key, c.limitPerMinute, 70*time.Second)
	if err != nil {
		slog.Warn("predictor rate limiter unavailable", "error", err.Error())
		return true
	}
	if !allowed {
		slog.Warn("predictor call budget exhausted, using local formula", "count", n)
	}
	return allowed
}

func (c *Client) Score(ctx context.Context, in predictor.ScoreInput) (int, error) {
	if c.remoteAllowed(ctx) {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		score, err := c.remote.Score(rctx, in)
		cancel()
		if err == nil {
			return predictor.ClampScore(score), nil
		}
		slog.Warn("predictor score failed, using local formula", "error", err.Error())
	}
	return c.local.Score(ctx, in)
}

func (c *Client) PredictWait(ctx context.Context, position int, avgServiceMinutes float64) (float64, error) {
	if c.remoteAllowed(ctx) {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		minutes, err := c.remote.PredictWait(rctx, position, avgServiceMinutes)
		cancel()
		if err == nil {
			return minutes, nil
		}
		slog.Warn("predictor wait failed, using local formula", "error", err.Error())
	}
	return c.local.PredictWait(ctx, position, avgServiceMinutes)
}

func (c *Client) PredictCompletion(ctx context.Context, from time.Time, position int, avgServiceMinutes float64) (time.Time, error) {
	if c.remoteAllowed(ctx) {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		at, err := c.remote.PredictCompletion(rctx, from, position, avgServiceMinutes)
		cancel()
		if err == nil {
			return at, nil
		}
		slog.Warn("predictor completion failed, using local formula", "error", err.Error())
	}
	return c.local.PredictCompletion(ctx, from, position, avgServiceMinutes)
}

func (c *Client) Optimize(ctx context.Context, tickets []*models.Ticket) ([]*models.Ticket, error) {
	if c.remoteAllowed(ctx) {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		out, err := c.remote.Optimize(rctx, tickets)
		cancel()
		if err == nil {
			return out, nil
		}
		slog.Warn("predictor optimize failed, using canonical order", "error", err.Error())
	}
	return c.local.Optimize(ctx, tickets)
}

var _ predictor.Client = (*Client)(nil)
