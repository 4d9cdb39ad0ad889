package archiver

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/BearBump/QueueDesk/internal/models"
)

type Repository interface {
	InsertHistory(ctx context.Context, rec *models.HistoryRecord) error
}

// Archiver пишет терминальные талоны в историю вне основного пути:
// переход завершается сразу, запись уезжает через буфер и ретраится сама.
// Ошибка архивации никогда не откатывает и не валит переход.
type Archiver struct {
	repo Repository

	queue    chan *models.HistoryRecord
	attempts int

	totalArchived atomic.Int64
	totalRetries  atomic.Int64
	totalDropped  atomic.Int64
}

func New(repo Repository, queueSize, attempts int) *Archiver {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if attempts <= 0 {
		attempts = 5
	}
	return &Archiver{
		repo:     repo,
		queue:    make(chan *models.HistoryRecord, queueSize),
		attempts: attempts,
	}
}

// BuildRecord снимает терминальный снапшот талона. Минуты считаются от
// фактических меток: талон, который так и не вызвали, получает нули.
func BuildRecord(t *models.Ticket, now time.Time) *models.HistoryRecord {
	completedAt := now
	if t.CompletedAt != nil {
		completedAt = *t.CompletedAt
	}

	var waitingMinutes float64
	if t.CalledAt != nil {
		waitingMinutes = t.CalledAt.Sub(t.CreatedAt).Minutes()
	}
	var serviceMinutes float64
	if t.CalledAt != nil && t.CompletedAt != nil && t.State == models.TicketStateCompleted {
		serviceMinutes = t.CompletedAt.Sub(*t.CalledAt).Minutes()
	}

	return &models.HistoryRecord{
		TicketNumber:   t.Number,
		SubjectID:      t.SubjectID,
		HolderName:     t.HolderName,
		Age:            t.Age,
		Urgent:         t.Urgent,
		Class:          t.Class,
		Score:          t.Score,
		State:          t.State,
		WaitingMinutes: round2(waitingMinutes),
		ServiceMinutes: round2(serviceMinutes),
		CreatedAt:      t.CreatedAt,
		CalledAt:       t.CalledAt,
		CompletedAt:    completedAt,
		ArchivedAt:     now,
	}
}

// Archive не блокирует вызывающего: при переполненном буфере запись
// теряется с ошибкой в логе, но переход талона остаётся успешным.
func (a *Archiver) Archive(t *models.Ticket) {
	rec := BuildRecord(t, time.Now().UTC())
	select {
	case a.queue <- rec:
	default:
		a.totalDropped.Add(1)
		slog.Error("archiver queue full, record dropped", "ticket_number", rec.TicketNumber)
	}
}

func (a *Archiver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-a.queue:
			a.persist(ctx, rec)
		}
	}
}

func (a *Archiver) persist(ctx context.Context, rec *models.HistoryRecord) {
	var lastErr error
	for i := 0; i < a.attempts; i++ {
		if err := a.repo.InsertHistory(ctx, rec); err == nil {
			a.totalArchived.Add(1)
			return
		} else {
			lastErr = err
			a.totalRetries.Add(1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(150*(i+1)) * time.Millisecond):
			}
		}
	}
	a.totalDropped.Add(1)
	slog.Error("archive history record", "ticket_number", rec.TicketNumber, "error", lastErr.Error())
}

type Stats struct {
	Archived int64 `json:"archived"`
	Retries  int64 `json:"retries"`
	Dropped  int64 `json:"dropped"`
	Pending  int   `json:"pending"`
}

func (a *Archiver) Stats() Stats {
	return Stats{
		Archived: a.totalArchived.Load(),
		Retries:  a.totalRetries.Load(),
		Dropped:  a.totalDropped.Load(),
		Pending:  len(a.queue),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
