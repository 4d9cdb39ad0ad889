package pgqueue

import (
	"context"
	"fmt"
	"strings"

	"github.com/BearBump/QueueDesk/internal/models"
	"github.com/pkg/errors"
)

// InsertHistory пишет запись ровно один раз: повторная вставка того же
// талона (ретрай архиватора) тихо проглатывается уникальным индексом.
func (s *Storage) InsertHistory(ctx context.Context, rec *models.HistoryRecord) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO queue_history (
  ticket_number, subject_id, holder_name, age, urgent, class, score, state,
  waiting_minutes, service_minutes, created_at, called_at, completed_at, archived_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (ticket_number) DO NOTHING
`, rec.TicketNumber, rec.SubjectID, rec.HolderName, rec.Age, rec.Urgent, rec.Class, rec.Score, rec.State,
		rec.WaitingMinutes, rec.ServiceMinutes, rec.CreatedAt, rec.CalledAt, rec.CompletedAt, rec.ArchivedAt)
	return errors.Wrap(err, "insert history")
}

func historyWhere(f models.HistoryFilter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.From != nil {
		add("archived_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("archived_at <= $%d", *f.To)
	}
	if f.State != "" {
		add("state = $%d", f.State)
	}
	if f.Class != "" {
		add("class = $%d", f.Class)
	}
	if f.SubjectID != "" {
		add("subject_id = $%d", f.SubjectID)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (s *Storage) QueryHistory(ctx context.Context, f models.HistoryFilter) (*models.HistoryPage, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 20
	}

	where, args := historyWhere(f)

	page := &models.HistoryPage{
		Records: []*models.HistoryRecord{},
		Page:    f.Page,
		Limit:   f.Limit,
	}

	// Сводка и total одним проходом.
	err := s.db.QueryRow(ctx, `
SELECT COUNT(*),
       COALESCE(AVG(waiting_minutes), 0),
       COALESCE(AVG(service_minutes), 0),
       COALESCE(SUM(CASE WHEN urgent THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN class = 'priority' THEN 1 ELSE 0 END), 0)
FROM queue_history
`+where, args...).Scan(
		&page.Summary.Total,
		&page.Summary.AvgWaitingMinutes,
		&page.Summary.AvgServiceMinutes,
		&page.Summary.Urgent,
		&page.Summary.Priority,
	)
	if err != nil {
		return nil, errors.Wrap(err, "history summary")
	}
	page.Total = page.Summary.Total
	page.Pages = (page.Total + int64(f.Limit) - 1) / int64(f.Limit)

	limitArgs := append(append([]any{}, args...), f.Limit, (f.Page-1)*f.Limit)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
SELECT id, ticket_number, subject_id, holder_name, age, urgent, class, score, state,
       waiting_minutes, service_minutes, created_at, called_at, completed_at, archived_at
FROM queue_history
%s
ORDER BY archived_at DESC
LIMIT $%d OFFSET $%d
`, where, len(args)+1, len(args)+2), limitArgs...)
	if err != nil {
		return nil, errors.Wrap(err, "select history")
	}
	defer rows.Close()

	for rows.Next() {
		var r models.HistoryRecord
		if err := rows.Scan(
			&r.ID, &r.TicketNumber, &r.SubjectID, &r.HolderName, &r.Age, &r.Urgent, &r.Class, &r.Score, &r.State,
			&r.WaitingMinutes, &r.ServiceMinutes, &r.CreatedAt, &r.CalledAt, &r.CompletedAt, &r.ArchivedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan history")
		}
		page.Records = append(page.Records, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return page, nil
}
