package predictor

import (
	"context"
	"time"

	"github.com/BearBump/QueueDesk/internal/models"
)

// ScoreInput — всё, что влияет на приоритет талона в момент выдачи.
type ScoreInput struct {
	Age          int
	Urgent       bool
	WaitingCount int64
	Class        string
}

// Client — контракт предиктора. Реализации: aihttp (внешний сервис),
// local (детерминированный fallback), failover (таймаут + переключение).
type Client interface {
	Score(ctx context.Context, in ScoreInput) (int, error)
	PredictWait(ctx context.Context, position int, avgServiceMinutes float64) (float64, error)
	PredictCompletion(ctx context.Context, from time.Time, position int, avgServiceMinutes float64) (time.Time, error)
	Optimize(ctx context.Context, tickets []*models.Ticket) ([]*models.Ticket, error)
}

// ClampScore прижимает оценку к допустимому диапазону, откуда бы она ни пришла.
func ClampScore(score int) int {
	if score < models.ScoreMin {
		return models.ScoreMin
	}
	if score > models.ScoreMax {
		return models.ScoreMax
	}
	return score
}
