package pgqueue

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		// Счётчик номеров. Номера монотонные и никогда не переиспользуются,
		// в том числе через reset очереди.
		`
CREATE TABLE IF NOT EXISTS ticket_seq (
  id INT PRIMARY KEY,
  last_number BIGINT NOT NULL
)`,
		`INSERT INTO ticket_seq (id, last_number) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
		`
CREATE TABLE IF NOT EXISTS tickets (
  number BIGINT PRIMARY KEY,
  subject_id TEXT NOT NULL DEFAULT '',
  holder_name TEXT NOT NULL DEFAULT 'Guest',
  age INT NOT NULL,
  urgent BOOLEAN NOT NULL DEFAULT FALSE,
  class TEXT NOT NULL,
  score INT NOT NULL,
  state TEXT NOT NULL,
  predicted_wait_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
  predicted_completion_at TIMESTAMPTZ NULL,
  called_at TIMESTAMPTZ NULL,
  completed_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		// Канонический порядок выборки ожидающих.
		`CREATE INDEX IF NOT EXISTS idx_tickets_state_score_created ON tickets(state, score DESC, created_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_subject_state ON tickets(subject_id, state)`,
		`
CREATE TABLE IF NOT EXISTS queue_status (
  id INT PRIMARY KEY,
  current_ticket_number BIGINT NOT NULL DEFAULT 0,
  waiting_count BIGINT NOT NULL DEFAULT 0,
  served_today BIGINT NOT NULL DEFAULT 0,
  served_all_time BIGINT NOT NULL DEFAULT 0,
  avg_service_minutes DOUBLE PRECISION NOT NULL DEFAULT 5,
  hourly_load JSONB NOT NULL DEFAULT '[]',
  last_updated TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS queue_history (
  id BIGSERIAL PRIMARY KEY,
  ticket_number BIGINT NOT NULL,
  subject_id TEXT NOT NULL DEFAULT '',
  holder_name TEXT NOT NULL DEFAULT '',
  age INT NOT NULL,
  urgent BOOLEAN NOT NULL,
  class TEXT NOT NULL,
  score INT NOT NULL,
  state TEXT NOT NULL,
  waiting_minutes DOUBLE PRECISION NOT NULL,
  service_minutes DOUBLE PRECISION NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  called_at TIMESTAMPTZ NULL,
  completed_at TIMESTAMPTZ NOT NULL,
  archived_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_history_archived_at ON queue_history(archived_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_history_subject ON queue_history(subject_id, archived_at DESC)`,
		// Один и тот же талон не должен попадать в историю дважды.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_queue_history_ticket ON queue_history(ticket_number)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
