package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/QueueDesk/internal/broker/messages"
	"github.com/BearBump/QueueDesk/internal/integrations/predictor"
	"github.com/BearBump/QueueDesk/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateTicket(ctx context.Context, t *models.Ticket) (*models.Ticket, error)
	GetTicketByNumber(ctx context.Context, number uint64) (*models.Ticket, error)
	ListWaiting(ctx context.Context, limit int) ([]*models.Ticket, error)
	CountWaiting(ctx context.Context) (int64, error)
	CurrentCalled(ctx context.Context) (*models.Ticket, error)
	WaitingPosition(ctx context.Context, score int, createdAt time.Time) (int64, error)
	TransitionTicket(ctx context.Context, number uint64, from, to string, calledAt, completedAt *time.Time) (*models.Ticket, error)
	CancelActive(ctx context.Context, now time.Time) ([]*models.Ticket, error)
	QueryHistory(ctx context.Context, f models.HistoryFilter) (*models.HistoryPage, error)
}

type Aggregator interface {
	Status(ctx context.Context) (*models.QueueStatus, error)
	Recompute(ctx context.Context) (*models.QueueStatus, error)
	ObserveService(ctx context.Context, minutes float64) error
	Reset(ctx context.Context) error
}

type Archiver interface {
	Archive(t *models.Ticket)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

const conflictRetries = 3

const upcomingPreview = 5

// Service — единственная точка мутаций очереди. Мьютекс сериализует
// выдачу номеров и последовательность "прочитал-решил-записал" в
// call_next/reset; вызовы предиктора выполняются до захвата мьютекса
// и никогда не держат его на время сетевого ожидания.
type Service struct {
	repo      Repository
	agg       Aggregator
	arch      Archiver
	predictor predictor.Client
	producer  Producer
	topic     string

	mu sync.Mutex

	// Подменяется в тестах.
	now func() time.Time
}

func New(repo Repository, agg Aggregator, arch Archiver, p predictor.Client, producer Producer, topic string) *Service {
	return &Service{
		repo:      repo,
		agg:       agg,
		arch:      arch,
		predictor: p,
		producer:  producer,
		topic:     topic,
		now:       time.Now,
	}
}

// CreateTicket выдаёт новый талон: валидация, оценка приоритета,
// монотонный номер. Score считается один раз и больше не меняется.
func (s *Service) CreateTicket(ctx context.Context, in models.TicketCreateInput) (*models.Ticket, error) {
	if in.Age < models.AgeMin || in.Age > models.AgeMax {
		return nil, models.NewValidationError("age", "must be between 0 and 150")
	}
	if in.Class == "" {
		in.Class = models.TicketClassRegular
	}
	if !models.ValidTicketClass(in.Class) {
		return nil, models.NewValidationError("class", "must be regular or priority")
	}
	if in.HolderName == "" {
		in.HolderName = "Guest"
	}

	waiting, err := s.repo.CountWaiting(ctx)
	if err != nil {
		return nil, err
	}
	st, err := s.agg.Status(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()

	// Предиктор fallback-ready: ошибки делегата гасятся внутри failover,
	// сюда приходит либо его ответ, либо детерминированная формула.
	score, err := s.predictor.Score(ctx, predictor.ScoreInput{
		Age: in.Age, Urgent: in.Urgent, WaitingCount: waiting, Class: in.Class,
	})
	if err != nil {
		return nil, errors.Wrap(err, "score ticket")
	}
	waitMinutes, err := s.predictor.PredictWait(ctx, int(waiting), st.AvgServiceMinutes)
	if err != nil {
		return nil, errors.Wrap(err, "predict wait")
	}
	completionAt, err := s.predictor.PredictCompletion(ctx, now, int(waiting), st.AvgServiceMinutes)
	if err != nil {
		return nil, errors.Wrap(err, "predict completion")
	}

	s.mu.Lock()
	t, err := s.repo.CreateTicket(ctx, &models.Ticket{
		SubjectID:             in.SubjectID,
		HolderName:            in.HolderName,
		Age:                   in.Age,
		Urgent:                in.Urgent,
		Class:                 in.Class,
		Score:                 score,
		PredictedWaitMinutes:  waitMinutes,
		PredictedCompletionAt: &completionAt,
		CreatedAt:             now,
	})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	st, err = s.agg.Recompute(ctx)
	if err != nil {
		slog.Error("recompute status after create", "error", err.Error())
		st = &models.QueueStatus{WaitingCount: waiting + 1}
	}
	s.emit(messages.QueueEvent{
		Type:         messages.EventTicketCreated,
		TicketNumber: t.Number,
		Score:        t.Score,
		WaitingCount: st.WaitingCount,
	})
	return t, nil
}

// CallNext: текущий вызванный талон атомарно завершается, затем выбирается
// лучший из ожидающих. Пустая очередь — не ошибка: (nil, nil) и сигнал
// queue_emptied наружу.
func (s *Service) CallNext(ctx context.Context) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		next, err := s.callNextOnce(ctx)
		if errors.Is(err, models.ErrConflict) {
			lastErr = err
			continue
		}
		return next, err
	}
	return nil, errors.Wrap(lastErr, "call next: retries exhausted")
}

func (s *Service) callNextOnce(ctx context.Context) (*models.Ticket, error) {
	now := s.now().UTC()

	current, err := s.repo.CurrentCalled(ctx)
	if err != nil {
		return nil, err
	}
	if current != nil {
		completedAt := now
		done, err := s.repo.TransitionTicket(ctx, current.Number, models.TicketStateCalled, models.TicketStateCompleted, nil, &completedAt)
		if err != nil {
			return nil, err
		}
		s.arch.Archive(done)
		current = done
	}

	waiting, err := s.repo.ListWaiting(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(waiting) == 0 {
		st, err := s.agg.Recompute(ctx)
		if err != nil {
			return nil, err
		}
		s.emit(messages.QueueEvent{
			Type:         messages.EventQueueEmptied,
			WaitingCount: st.WaitingCount,
		})
		return nil, nil
	}

	calledAt := now
	next, err := s.repo.TransitionTicket(ctx, waiting[0].Number, models.TicketStateWaiting, models.TicketStateCalled, &calledAt, nil)
	if err != nil {
		return nil, err
	}

	// Интервал между двумя последними called_at — наблюдение времени
	// обслуживания для скользящего среднего.
	if current != nil && current.CalledAt != nil {
		observed := calledAt.Sub(*current.CalledAt).Minutes()
		if err := s.agg.ObserveService(ctx, observed); err != nil {
			slog.Error("observe service interval", "error", err.Error())
		}
	}

	st, err := s.agg.Recompute(ctx)
	if err != nil {
		slog.Error("recompute status after call", "error", err.Error())
		st = &models.QueueStatus{}
	}
	s.emit(messages.QueueEvent{
		Type:         messages.EventTicketCalled,
		TicketNumber: next.Number,
		Score:        next.Score,
		WaitingCount: st.WaitingCount,
	})
	return next, nil
}

// CancelTicket валиден только для ожидающего талона. Чужой subject_id
// получает NotFound, как и несуществующий номер.
func (s *Service) CancelTicket(ctx context.Context, number uint64, subjectID string) (*models.Ticket, error) {
	for attempt := 0; attempt < conflictRetries; attempt++ {
		t, err := s.repo.GetTicketByNumber(ctx, number)
		if err != nil {
			return nil, err
		}
		if subjectID != "" && t.SubjectID != subjectID {
			return nil, models.ErrNotFound
		}
		if t.State != models.TicketStateWaiting {
			return nil, errors.Wrapf(models.ErrInvalidState, "cannot cancel ticket that is %s", t.State)
		}

		s.mu.Lock()
		completedAt := s.now().UTC()
		cancelled, err := s.repo.TransitionTicket(ctx, number, models.TicketStateWaiting, models.TicketStateCancelled, nil, &completedAt)
		s.mu.Unlock()
		if errors.Is(err, models.ErrConflict) {
			// Состояние уехало между читкой и апдейтом: перечитаем и решим заново.
			continue
		}
		if err != nil {
			return nil, err
		}

		s.arch.Archive(cancelled)
		st, err := s.agg.Recompute(ctx)
		if err != nil {
			slog.Error("recompute status after cancel", "error", err.Error())
			st = &models.QueueStatus{}
		}
		s.emit(messages.QueueEvent{
			Type:         messages.EventTicketCancelled,
			TicketNumber: cancelled.Number,
			WaitingCount: st.WaitingCount,
		})
		return cancelled, nil
	}
	return nil, errors.Wrap(models.ErrConflict, "cancel ticket: retries exhausted")
}

// Reset гасит все активные талоны и начинает новую эпоху. Нумерация
// талонов продолжается, статус пересоздаётся с дефолтами.
func (s *Service) Reset(ctx context.Context) (int64, error) {
	s.mu.Lock()
	cancelled, err := s.repo.CancelActive(ctx, s.now().UTC())
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	for _, t := range cancelled {
		s.arch.Archive(t)
	}

	if err := s.agg.Reset(ctx); err != nil {
		return 0, err
	}
	if _, err := s.agg.Recompute(ctx); err != nil {
		slog.Error("recompute status after reset", "error", err.Error())
	}

	s.emit(messages.QueueEvent{
		Type:          messages.EventQueueReset,
		AffectedCount: int64(len(cancelled)),
	})
	return int64(len(cancelled)), nil
}

// StatusView — статус очереди плюс превью ближайших талонов в advisory
// порядке от предиктора (при его недоступности — канонический порядок).
type StatusView struct {
	*models.QueueStatus
	Upcoming []*models.Ticket `json:"upcoming_tickets"`
}

func (s *Service) Status(ctx context.Context) (*StatusView, error) {
	st, err := s.agg.Status(ctx)
	if err != nil {
		return nil, err
	}

	upcoming, err := s.repo.ListWaiting(ctx, upcomingPreview)
	if err != nil {
		return nil, err
	}
	if len(upcoming) > 1 {
		if optimized, err := s.predictor.Optimize(ctx, upcoming); err == nil {
			upcoming = optimized
		}
	}
	if upcoming == nil {
		upcoming = []*models.Ticket{}
	}

	return &StatusView{QueueStatus: st, Upcoming: upcoming}, nil
}

type WaitEstimate struct {
	TicketNumber     uint64     `json:"ticket_number"`
	State            string     `json:"state"`
	Position         int64      `json:"position"`
	EstimatedMinutes float64    `json:"estimated_minutes"`
	EstimatedAt      *time.Time `json:"estimated_completion,omitempty"`
}

// EstimateWait — позиция по каноническому порядку и прогноз ожидания.
// Для талона не в состоянии waiting позиция и минуты нулевые.
func (s *Service) EstimateWait(ctx context.Context, number uint64) (*WaitEstimate, error) {
	t, err := s.repo.GetTicketByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if t.State != models.TicketStateWaiting {
		return &WaitEstimate{TicketNumber: t.Number, State: t.State}, nil
	}

	pos, err := s.repo.WaitingPosition(ctx, t.Score, t.CreatedAt)
	if err != nil {
		return nil, err
	}
	st, err := s.agg.Status(ctx)
	if err != nil {
		return nil, err
	}

	minutes, err := s.predictor.PredictWait(ctx, int(pos), st.AvgServiceMinutes)
	if err != nil {
		return nil, errors.Wrap(err, "predict wait")
	}
	at := s.now().UTC().Add(time.Duration(minutes * float64(time.Minute)))
	return &WaitEstimate{
		TicketNumber:     t.Number,
		State:            t.State,
		Position:         pos,
		EstimatedMinutes: minutes,
		EstimatedAt:      &at,
	}, nil
}

// TicketDetails — талон плюс живой контекст очереди вокруг него.
type TicketDetails struct {
	*models.Ticket
	Position            int64   `json:"position_ahead"`
	EstimatedMinutes    float64 `json:"current_estimated_wait"`
	CurrentTicketNumber uint64  `json:"current_ticket_number"`
	TotalWaiting        int64   `json:"total_waiting"`
}

func (s *Service) TicketDetails(ctx context.Context, number uint64) (*TicketDetails, error) {
	t, err := s.repo.GetTicketByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	d := &TicketDetails{Ticket: t}

	st, err := s.agg.Status(ctx)
	if err != nil {
		return nil, err
	}
	d.CurrentTicketNumber = st.CurrentTicketNumber
	d.TotalWaiting = st.WaitingCount

	if t.State == models.TicketStateWaiting {
		pos, err := s.repo.WaitingPosition(ctx, t.Score, t.CreatedAt)
		if err != nil {
			return nil, err
		}
		minutes, err := s.predictor.PredictWait(ctx, int(pos), st.AvgServiceMinutes)
		if err != nil {
			return nil, errors.Wrap(err, "predict wait")
		}
		d.Position = pos
		d.EstimatedMinutes = minutes
	}
	return d, nil
}

func (s *Service) QueryHistory(ctx context.Context, f models.HistoryFilter) (*models.HistoryPage, error) {
	return s.repo.QueryHistory(ctx, f)
}

// emit шлёт событие наблюдателям не блокируя коммит: at-most-once,
// ошибка публикации только логируется.
func (s *Service) emit(ev messages.QueueEvent) {
	if s.producer == nil {
		return
	}
	ev.EmittedAt = time.Now().UTC()
	b, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal queue event", "type", ev.Type, "error", err.Error())
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		key := []byte(fmt.Sprintf("%d", ev.TicketNumber))
		if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
			slog.Warn("publish queue event", "type", ev.Type, "error", err.Error())
		}
	}()
}
