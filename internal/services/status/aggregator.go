package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/QueueDesk/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	GetStatus(ctx context.Context) (*models.QueueStatus, error)
	SaveStatus(ctx context.Context, st *models.QueueStatus) error
	DeleteStatus(ctx context.Context) error
	CountWaiting(ctx context.Context) (int64, error)
	CurrentCalled(ctx context.Context) (*models.Ticket, error)
	CountCompletedSince(ctx context.Context, since time.Time) (int64, error)
	CountCompleted(ctx context.Context) (int64, error)
}

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

const statusCacheKey = "queue:status"

const hourlyLoadRetention = 7 * 24 * time.Hour

// Aggregator владеет единственным статусом очереди. Пишет только он;
// читатели ходят через кэш и терпят отставание максимум на один цикл.
type Aggregator struct {
	mu    sync.Mutex
	repo  Repository
	cache BytesCache
	ttl   time.Duration

	// Подменяется в тестах.
	now func() time.Time
}

func New(repo Repository, cache BytesCache, ttl time.Duration) *Aggregator {
	return &Aggregator{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Status никогда не падает из-за отсутствия записи: хранилище лениво
// создаёт дефолтную строку при первом чтении.
func (a *Aggregator) Status(ctx context.Context) (*models.QueueStatus, error) {
	if a.cache != nil && a.ttl > 0 {
		if b, ok, err := a.cache.Get(ctx, statusCacheKey); err == nil && ok {
			var st models.QueueStatus
			if json.Unmarshal(b, &st) == nil {
				return &st, nil
			}
		}
	}

	st, err := a.repo.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	a.cacheStatus(ctx, st)
	return st, nil
}

// Recompute пересчитывает агрегаты после каждой мутации очереди:
// waiting_count, текущий талон, served за сегодня и за всё время,
// плюс инкремент часовой корзины нагрузки с обрезкой хвоста старше недели.
func (a *Aggregator) Recompute(ctx context.Context) (*models.QueueStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, err := a.repo.GetStatus(ctx)
	if err != nil {
		return nil, err
	}

	waiting, err := a.repo.CountWaiting(ctx)
	if err != nil {
		return nil, err
	}
	current, err := a.repo.CurrentCalled(ctx)
	if err != nil {
		return nil, err
	}

	now := a.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	servedToday, err := a.repo.CountCompletedSince(ctx, midnight)
	if err != nil {
		return nil, err
	}
	servedAll, err := a.repo.CountCompleted(ctx)
	if err != nil {
		return nil, err
	}

	st.WaitingCount = waiting
	st.ServedToday = servedToday
	st.ServedAllTime = servedAll
	st.CurrentTicket = current
	if current != nil {
		st.CurrentTicketNumber = current.Number
	} else {
		st.CurrentTicketNumber = 0
	}
	st.HourlyLoad = bumpHourlyLoad(st.HourlyLoad, now)
	st.LastUpdated = now.UTC()

	if err := a.repo.SaveStatus(ctx, st); err != nil {
		return nil, err
	}
	a.cacheStatus(ctx, st)
	return st, nil
}

// ObserveService вмешивает свежий интервал обслуживания в скользящее
// среднее: 70% нового наблюдения, 30% истории, с прижатием к [1,60].
func (a *Aggregator) ObserveService(ctx context.Context, minutes float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, err := a.repo.GetStatus(ctx)
	if err != nil {
		return err
	}
	st.AvgServiceMinutes = clampAvg(0.7*minutes + 0.3*st.AvgServiceMinutes)
	st.LastUpdated = a.now().UTC()
	if err := a.repo.SaveStatus(ctx, st); err != nil {
		return err
	}
	a.cacheStatus(ctx, st)
	return nil
}

// SetAvgService — явная ручка оператора.
func (a *Aggregator) SetAvgService(ctx context.Context, minutes float64) error {
	if minutes < models.AvgServiceMin || minutes > models.AvgServiceMax {
		return models.NewValidationError("avg_service_minutes", "must be between 1 and 60")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st, err := a.repo.GetStatus(ctx)
	if err != nil {
		return err
	}
	st.AvgServiceMinutes = minutes
	st.LastUpdated = a.now().UTC()
	if err := a.repo.SaveStatus(ctx, st); err != nil {
		return err
	}
	a.cacheStatus(ctx, st)
	return nil
}

// Reset сносит строку статуса целиком: новая эпоха начинается с дефолтов.
func (a *Aggregator) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.repo.DeleteStatus(ctx); err != nil {
		return err
	}
	if a.cache != nil {
		if err := a.cache.Del(ctx, statusCacheKey); err != nil {
			slog.Warn("drop status cache", "error", err.Error())
		}
	}
	return nil
}

func (a *Aggregator) cacheStatus(ctx context.Context, st *models.QueueStatus) {
	if a.cache == nil || a.ttl <= 0 {
		return
	}
	b, err := json.Marshal(st)
	if err != nil {
		slog.Error("marshal status for cache", "error", errors.Wrap(err, "marshal status").Error())
		return
	}
	if err := a.cache.Set(ctx, statusCacheKey, b, a.ttl); err != nil {
		slog.Warn("cache status", "error", err.Error())
	}
}

func bumpHourlyLoad(load []models.HourlyLoad, now time.Time) []models.HourlyLoad {
	hour := now.Hour()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	bumped := false
	out := load[:0]
	cutoff := now.Add(-hourlyLoadRetention)
	for i := range load {
		b := load[i]
		if b.Date.Before(cutoff) {
			continue
		}
		bd := b.Date
		if b.Hour == hour && bd.Year() == today.Year() && bd.YearDay() == today.YearDay() {
			b.Count++
			bumped = true
		}
		out = append(out, b)
	}
	if !bumped {
		out = append(out, models.HourlyLoad{Hour: hour, Count: 1, Date: today})
	}
	return out
}

func clampAvg(v float64) float64 {
	if v < models.AvgServiceMin {
		return models.AvgServiceMin
	}
	if v > models.AvgServiceMax {
		return models.AvgServiceMax
	}
	return v
}
