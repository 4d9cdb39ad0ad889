package failover

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/QueueDesk/internal/integrations/predictor"
	"github.com/BearBump/QueueDesk/internal/integrations/predictor/local"
	"github.com/BearBump/QueueDesk/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type stubRemote struct {
	score int
	wait  float64
	at    time.Time
	err   error
	delay time.Duration
	calls int
}

func (s *stubRemote) Score(ctx context.Context, in predictor.ScoreInput) (int, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.score, s.err
}

func (s *stubRemote) PredictWait(ctx context.Context, position int, avg float64) (float64, error) {
	s.calls++
	return s.wait, s.err
}

func (s *stubRemote) PredictCompletion(ctx context.Context, from time.Time, position int, avg float64) (time.Time, error) {
	s.calls++
	return s.at, s.err
}

func (s *stubRemote) Optimize(ctx context.Context, tickets []*models.Ticket) ([]*models.Ticket, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	// remote намеренно отвечает обратным порядком, чтобы отличить от fallback
	out := make([]*models.Ticket, 0, len(tickets))
	for i := len(tickets) - 1; i >= 0; i-- {
		out = append(out, tickets[i])
	}
	return out, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	return false, limit + 1, nil
}

func TestScore_RemotePreferred(t *testing.T) {
	r := &stubRemote{score: 120}
	c := New(r, local.New(), time.Second)

	got, err := c.Score(context.Background(), predictor.ScoreInput{Age: 30})
	require.NoError(t, err)
	require.Equal(t, 120, got)
	require.Equal(t, 1, r.calls)
}

func TestScore_FallsBackOnError(t *testing.T) {
	r := &stubRemote{err: errors.New("down")}
	c := New(r, local.New(), time.Second)

	got, err := c.Score(context.Background(), predictor.ScoreInput{Age: 70, Urgent: true, WaitingCount: 3})
	require.NoError(t, err)
	require.Equal(t, 136, got)
}

func TestScore_FallsBackOnTimeout(t *testing.T) {
	r := &stubRemote{score: 120, delay: 200 * time.Millisecond}
	c := New(r, local.New(), 20*time.Millisecond)

	got, err := c.Score(context.Background(), predictor.ScoreInput{Age: 70, Urgent: true, WaitingCount: 3})
	require.NoError(t, err)
	require.Equal(t, 136, got)
}

func TestScore_RateLimitSkipsRemote(t *testing.T) {
	r := &stubRemote{score: 120}
	c := New(r, local.New(), time.Second).WithRateLimit(denyLimiter{}, 1)

	got, err := c.Score(context.Background(), predictor.ScoreInput{Age: 65})
	require.NoError(t, err)
	require.Equal(t, 30, got)
	require.Zero(t, r.calls)
}

func TestScore_NilRemoteUsesLocal(t *testing.T) {
	c := New(nil, local.New(), time.Second)
	got, err := c.Score(context.Background(), predictor.ScoreInput{Age: 65})
	require.NoError(t, err)
	require.Equal(t, 30, got)
}

func TestPredictWait_FallsBack(t *testing.T) {
	r := &stubRemote{err: errors.New("down")}
	c := New(r, local.New(), time.Second)

	got, err := c.PredictWait(context.Background(), 3, 5)
	require.NoError(t, err)
	require.Equal(t, 15.0, got)
}

func TestOptimize_FallsBackToCanonicalOrder(t *testing.T) {
	base := time.Now().UTC()
	tickets := []*models.Ticket{
		{Number: 1, Score: 55, CreatedAt: base},
		{Number: 2, Score: 136, CreatedAt: base.Add(time.Minute)},
	}

	r := &stubRemote{err: errors.New("down")}
	c := New(r, local.New(), time.Second)

	out, err := c.Optimize(context.Background(), tickets)
	require.NoError(t, err)
	require.Equal(t, uint64(2), out[0].Number)
	require.Equal(t, uint64(1), out[1].Number)
}
