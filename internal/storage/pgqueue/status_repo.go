package pgqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/QueueDesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Статус очереди — одна строка с фиксированным id. Ленивая инициализация:
// при первом чтении строка создаётся с дефолтами.
const statusRowID = 1

func defaultStatus(now time.Time) *models.QueueStatus {
	return &models.QueueStatus{
		AvgServiceMinutes: models.AvgServiceDefault,
		HourlyLoad:        []models.HourlyLoad{},
		LastUpdated:       now,
	}
}

func (s *Storage) GetStatus(ctx context.Context) (*models.QueueStatus, error) {
	var st models.QueueStatus
	var loadJSON []byte
	err := s.db.QueryRow(ctx, `
SELECT current_ticket_number, waiting_count, served_today, served_all_time,
       avg_service_minutes, hourly_load, last_updated
FROM queue_status
WHERE id = $1
`, statusRowID).Scan(
		&st.CurrentTicketNumber, &st.WaitingCount, &st.ServedToday, &st.ServedAllTime,
		&st.AvgServiceMinutes, &loadJSON, &st.LastUpdated,
	)
	if err == pgx.ErrNoRows {
		def := defaultStatus(time.Now().UTC())
		if err := s.SaveStatus(ctx, def); err != nil {
			return nil, err
		}
		return def, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select status")
	}

	if len(loadJSON) > 0 {
		if err := json.Unmarshal(loadJSON, &st.HourlyLoad); err != nil {
			return nil, errors.Wrap(err, "unmarshal hourly load")
		}
	}
	if st.HourlyLoad == nil {
		st.HourlyLoad = []models.HourlyLoad{}
	}
	return &st, nil
}

func (s *Storage) SaveStatus(ctx context.Context, st *models.QueueStatus) error {
	load := st.HourlyLoad
	if load == nil {
		load = []models.HourlyLoad{}
	}
	loadJSON, err := json.Marshal(load)
	if err != nil {
		return errors.Wrap(err, "marshal hourly load")
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO queue_status (
  id, current_ticket_number, waiting_count, served_today, served_all_time,
  avg_service_minutes, hourly_load, last_updated
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  current_ticket_number = EXCLUDED.current_ticket_number,
  waiting_count = EXCLUDED.waiting_count,
  served_today = EXCLUDED.served_today,
  served_all_time = EXCLUDED.served_all_time,
  avg_service_minutes = EXCLUDED.avg_service_minutes,
  hourly_load = EXCLUDED.hourly_load,
  last_updated = EXCLUDED.last_updated
`, statusRowID, st.CurrentTicketNumber, st.WaitingCount, st.ServedToday, st.ServedAllTime,
		st.AvgServiceMinutes, loadJSON, st.LastUpdated)
	return errors.Wrap(err, "upsert status")
}

// DeleteStatus используется только при reset очереди: следующая читка
// лениво создаст свежую строку с дефолтами.
func (s *Storage) DeleteStatus(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM queue_status WHERE id = $1`, statusRowID)
	return errors.Wrap(err, "delete status")
}
