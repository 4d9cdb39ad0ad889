package local

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/BearBump/QueueDesk/internal/integrations/predictor"
	"github.com/BearBump/QueueDesk/internal/models"
)

// Client — детерминированный локальный предиктор. Это пол корректности
// системы: когда внешний сервис лежит, очередь продолжает работать на нём.
type Client struct{}

func New() *Client { return &Client{} }

func (c *Client) Score(ctx context.Context, in predictor.ScoreInput) (int, error) {
	score := 0

	if in.Urgent {
		score += 100
	}

	switch {
	case in.Age >= 65:
		score += 30
	case in.Age >= 50:
		score += 15
	}
	if in.Age <= 10 {
		score += 25
	}

	// Чем длиннее очередь в момент выдачи, тем выше вклад, но не больше 50.
	waitFactor := in.WaitingCount * 2
	if waitFactor > 50 {
		waitFactor = 50
	}
	score += int(waitFactor)

	if in.Class == models.TicketClassPriority {
		score += 40
	}

	return predictor.ClampScore(score), nil
}

func (c *Client) PredictWait(ctx context.Context, position int, avgServiceMinutes float64) (float64, error) {
	return math.Round(float64(position)*avgServiceMinutes*10) / 10, nil
}

func (c *Client) PredictCompletion(ctx context.Context, from time.Time, position int, avgServiceMinutes float64) (time.Time, error) {
	minutes := float64(position) * avgServiceMinutes
	return from.Add(time.Duration(minutes * float64(time.Minute))), nil
}

// Optimize возвращает канонический порядок: score по убыванию,
// при равенстве — раньше созданные первыми.
func (c *Client) Optimize(ctx context.Context, tickets []*models.Ticket) ([]*models.Ticket, error) {
	out := make([]*models.Ticket, len(tickets))
	copy(out, tickets)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
