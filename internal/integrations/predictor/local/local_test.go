package local

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/QueueDesk/internal/integrations/predictor"
	"github.com/BearBump/QueueDesk/internal/models"
	"github.com/stretchr/testify/require"
)

func TestScore_Deterministic(t *testing.T) {
	c := New()
	ctx := context.Background()

	// 100 (urgent) + 30 (age>=65) + 3*2 = 136
	in := predictor.ScoreInput{Age: 70, Urgent: true, WaitingCount: 3, Class: models.TicketClassRegular}
	first, err := c.Score(ctx, in)
	require.NoError(t, err)
	require.Equal(t, 136, first)

	for i := 0; i < 10; i++ {
		got, err := c.Score(ctx, in)
		require.NoError(t, err)
		require.Equal(t, first, got)
	}
}

func TestScore_Components(t *testing.T) {
	c := New()
	ctx := context.Background()

	cases := []struct {
		name string
		in   predictor.ScoreInput
		want int
	}{
		{"plain adult", predictor.ScoreInput{Age: 30}, 0},
		{"senior", predictor.ScoreInput{Age: 65}, 30},
		{"age 50", predictor.ScoreInput{Age: 50}, 15},
		{"child", predictor.ScoreInput{Age: 5}, 25},
		{"urgent child", predictor.ScoreInput{Age: 5, Urgent: true}, 125},
		{"priority class", predictor.ScoreInput{Age: 30, Class: models.TicketClassPriority}, 40},
		{"wait factor capped", predictor.ScoreInput{Age: 30, WaitingCount: 100}, 50},
		{"everything clamps to 200", predictor.ScoreInput{Age: 70, Urgent: true, WaitingCount: 100, Class: models.TicketClassPriority}, 200},
	}
	for _, tc := range cases {
		got, err := c.Score(ctx, tc.in)
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, got, tc.name)
	}
}

func TestPredictWait_RoundsToOneDecimal(t *testing.T) {
	c := New()
	got, err := c.PredictWait(context.Background(), 3, 4.44)
	require.NoError(t, err)
	require.Equal(t, 13.3, got)

	got, err = c.PredictWait(context.Background(), 0, 5)
	require.NoError(t, err)
	require.Equal(t, 0.0, got)
}

func TestPredictCompletion(t *testing.T) {
	c := New()
	from := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	got, err := c.PredictCompletion(context.Background(), from, 4, 5)
	require.NoError(t, err)
	require.Equal(t, from.Add(20*time.Minute), got)
}

func TestOptimize_CanonicalOrder(t *testing.T) {
	c := New()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	tickets := []*models.Ticket{
		{Number: 1, Score: 55, CreatedAt: base},
		{Number: 2, Score: 136, CreatedAt: base.Add(time.Minute)},
		{Number: 3, Score: 55, CreatedAt: base.Add(-time.Minute)},
	}

	out, err := c.Optimize(context.Background(), tickets)
	require.NoError(t, err)
	require.Equal(t, uint64(2), out[0].Number)
	require.Equal(t, uint64(3), out[1].Number) // равный score, создан раньше
	require.Equal(t, uint64(1), out[2].Number)

	// Исходный срез не переставляется.
	require.Equal(t, uint64(1), tickets[0].Number)
}
