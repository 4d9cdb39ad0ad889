package pgqueue

import (
	"context"
	"time"

	"github.com/BearBump/QueueDesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const ticketColumns = `
  number, subject_id, holder_name, age, urgent, class, score, state,
  predicted_wait_minutes, predicted_completion_at,
  called_at, completed_at, created_at`

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var t models.Ticket
	if err := row.Scan(
		&t.Number, &t.SubjectID, &t.HolderName, &t.Age, &t.Urgent, &t.Class, &t.Score, &t.State,
		&t.PredictedWaitMinutes, &t.PredictedCompletionAt,
		&t.CalledAt, &t.CompletedAt, &t.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTicket выдаёт следующий номер из счётчика и вставляет талон одной
// транзакцией. Блокировка строки счётчика сериализует выдачу номеров:
// два конкурентных create никогда не получат один номер.
func (s *Storage) CreateTicket(ctx context.Context, t *models.Ticket) (*models.Ticket, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var number uint64
	err = tx.QueryRow(ctx, `
UPDATE ticket_seq SET last_number = last_number + 1 WHERE id = 1
RETURNING last_number
`).Scan(&number)
	if err != nil {
		return nil, errors.Wrap(err, "next ticket number")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO tickets (
  number, subject_id, holder_name, age, urgent, class, score, state,
  predicted_wait_minutes, predicted_completion_at, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, number, t.SubjectID, t.HolderName, t.Age, t.Urgent, t.Class, t.Score, models.TicketStateWaiting,
		t.PredictedWaitMinutes, t.PredictedCompletionAt, t.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert ticket")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	out := *t
	out.Number = number
	out.State = models.TicketStateWaiting
	return &out, nil
}

func (s *Storage) GetTicketByNumber(ctx context.Context, number uint64) (*models.Ticket, error) {
	t, err := scanTicket(s.db.QueryRow(ctx, `
SELECT `+ticketColumns+`
FROM tickets
WHERE number = $1
`, number))
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select ticket")
	}
	return t, nil
}

// ListWaiting возвращает ожидающих в каноническом порядке:
// score по убыванию, при равенстве — раньше созданные первыми.
func (s *Storage) ListWaiting(ctx context.Context, limit int) ([]*models.Ticket, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT `+ticketColumns+`
FROM tickets
WHERE state = $1
ORDER BY score DESC, created_at ASC
LIMIT $2
`, models.TicketStateWaiting, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select waiting")
	}
	defer rows.Close()

	var out []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan waiting")
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CountWaiting(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE state = $1`, models.TicketStateWaiting).Scan(&n)
	return n, errors.Wrap(err, "count waiting")
}

// CurrentCalled возвращает вызванный сейчас талон или nil. Инвариант
// "не больше одного called" держит диспетчер, хранилище его не навязывает.
func (s *Storage) CurrentCalled(ctx context.Context) (*models.Ticket, error) {
	t, err := scanTicket(s.db.QueryRow(ctx, `
SELECT `+ticketColumns+`
FROM tickets
WHERE state = $1
ORDER BY called_at DESC
LIMIT 1
`, models.TicketStateCalled))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select called")
	}
	return t, nil
}

// WaitingPosition — сколько человек впереди: у кого score выше, плюс
// созданные раньше с тем же score.
func (s *Storage) WaitingPosition(ctx context.Context, score int, createdAt time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
SELECT COUNT(*)
FROM tickets
WHERE state = $1
  AND (score > $2 OR (score = $2 AND created_at < $3))
`, models.TicketStateWaiting, score, createdAt).Scan(&n)
	return n, errors.Wrap(err, "waiting position")
}

// TransitionTicket переводит талон из from в to условным апдейтом.
// Ноль затронутых строк значит, что состояние поменял кто-то другой:
// это ErrConflict, диспетчер перечитает и решит заново.
func (s *Storage) TransitionTicket(ctx context.Context, number uint64, from, to string, calledAt, completedAt *time.Time) (*models.Ticket, error) {
	t, err := scanTicket(s.db.QueryRow(ctx, `
UPDATE tickets
SET state = $3,
    called_at = COALESCE($4, called_at),
    completed_at = COALESCE($5, completed_at)
WHERE number = $1 AND state = $2
RETURNING `+ticketColumns, number, from, to, calledAt, completedAt))
	if err == pgx.ErrNoRows {
		return nil, models.ErrConflict
	}
	if err != nil {
		return nil, errors.Wrap(err, "transition ticket")
	}
	return t, nil
}

// CancelActive гасит все активные талоны (reset очереди) и возвращает их
// для архивации. Номера не сбрасываются.
func (s *Storage) CancelActive(ctx context.Context, now time.Time) ([]*models.Ticket, error) {
	rows, err := s.db.Query(ctx, `
UPDATE tickets
SET state = $1, completed_at = $2
WHERE state IN ($3, $4)
RETURNING `+ticketColumns, models.TicketStateCancelled, now, models.TicketStateWaiting, models.TicketStateCalled)
	if err != nil {
		return nil, errors.Wrap(err, "cancel active")
	}
	defer rows.Close()

	var out []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan cancelled")
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CountCompletedSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
SELECT COUNT(*) FROM tickets WHERE state = $1 AND completed_at >= $2
`, models.TicketStateCompleted, since).Scan(&n)
	return n, errors.Wrap(err, "count completed since")
}

func (s *Storage) CountCompleted(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE state = $1`, models.TicketStateCompleted).Scan(&n)
	return n, errors.Wrap(err, "count completed")
}
