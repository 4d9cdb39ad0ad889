package messages

import "time"

// Типы событий очереди. Доставка at-most-once, наблюдатели не участвуют
// в корректности ядра.
const (
	EventTicketCreated   = "ticket_created"
	EventTicketCalled    = "ticket_called"
	EventTicketCancelled = "ticket_cancelled"
	EventQueueEmptied    = "queue_emptied"
	EventQueueReset      = "queue_reset"
)

type QueueEvent struct {
	Type          string    `json:"type"`
	TicketNumber  uint64    `json:"ticket_number,omitempty"`
	Score         int       `json:"score,omitempty"`
	WaitingCount  int64     `json:"waiting_count"`
	AffectedCount int64     `json:"affected_count,omitempty"`
	EmittedAt     time.Time `json:"emitted_at"`
}
