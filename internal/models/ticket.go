package models

import "time"

// Состояния талона. Терминальные: COMPLETED и CANCELLED.
const (
	TicketStateWaiting   = "waiting"
	TicketStateCalled    = "called"
	TicketStateCompleted = "completed"
	TicketStateCancelled = "cancelled"
)

const (
	TicketClassRegular  = "regular"
	TicketClassPriority = "priority"
)

const (
	ScoreMin = 0
	ScoreMax = 200

	AgeMin = 0
	AgeMax = 150

	// avg_service_minutes держим в этих границах при любом обновлении.
	AvgServiceMin     = 1.0
	AvgServiceMax     = 60.0
	AvgServiceDefault = 5.0
)

type Ticket struct {
	Number                uint64     `json:"number"`
	SubjectID             string     `json:"subject_id,omitempty"`
	HolderName            string     `json:"holder_name"`
	Age                   int        `json:"age"`
	Urgent                bool       `json:"urgent"`
	Class                 string     `json:"class"`
	Score                 int        `json:"score"`
	State                 string     `json:"state"`
	PredictedWaitMinutes  float64    `json:"predicted_wait_minutes"`
	PredictedCompletionAt *time.Time `json:"predicted_completion_at,omitempty"`
	CalledAt              *time.Time `json:"called_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Terminal reports whether no further transitions are possible.
func (t *Ticket) Terminal() bool {
	return t.State == TicketStateCompleted || t.State == TicketStateCancelled
}

type TicketCreateInput struct {
	SubjectID  string
	HolderName string
	Age        int
	Urgent     bool
	Class      string
}

type QueueStatus struct {
	CurrentTicketNumber uint64       `json:"current_ticket_number"`
	CurrentTicket       *Ticket      `json:"current_ticket,omitempty"`
	WaitingCount        int64        `json:"waiting_count"`
	ServedToday         int64        `json:"served_today"`
	ServedAllTime       int64        `json:"served_all_time"`
	AvgServiceMinutes   float64      `json:"avg_service_minutes"`
	HourlyLoad          []HourlyLoad `json:"hourly_load"`
	LastUpdated         time.Time    `json:"last_updated"`
}

// HourlyLoad — одна корзина нагрузки: сколько мутаций очереди пришлось на час.
type HourlyLoad struct {
	Hour  int       `json:"hour"`
	Count int64     `json:"count"`
	Date  time.Time `json:"date"`
}

type HistoryRecord struct {
	ID             uint64     `json:"id"`
	TicketNumber   uint64     `json:"ticket_number"`
	SubjectID      string     `json:"subject_id,omitempty"`
	HolderName     string     `json:"holder_name"`
	Age            int        `json:"age"`
	Urgent         bool       `json:"urgent"`
	Class          string     `json:"class"`
	Score          int        `json:"score"`
	State          string     `json:"state"`
	WaitingMinutes float64    `json:"waiting_minutes"`
	ServiceMinutes float64    `json:"service_minutes"`
	CreatedAt      time.Time  `json:"created_at"`
	CalledAt       *time.Time `json:"called_at,omitempty"`
	CompletedAt    time.Time  `json:"completed_at"`
	ArchivedAt     time.Time  `json:"archived_at"`
}

type HistoryFilter struct {
	From      *time.Time
	To        *time.Time
	State     string
	Class     string
	SubjectID string

	Page  int
	Limit int
}

type HistorySummary struct {
	Total             int64   `json:"total"`
	AvgWaitingMinutes float64 `json:"avg_waiting_minutes"`
	AvgServiceMinutes float64 `json:"avg_service_minutes"`
	Urgent            int64   `json:"urgent"`
	Priority          int64   `json:"priority"`
}

type HistoryPage struct {
	Records []*HistoryRecord `json:"records"`
	Summary HistorySummary   `json:"summary"`
	Page    int              `json:"page"`
	Limit   int              `json:"limit"`
	Total   int64            `json:"total"`
	Pages   int64            `json:"pages"`
}

// ValidTicketClass проверяет, что класс талона из известного набора.
func ValidTicketClass(class string) bool {
	return class == TicketClassRegular || class == TicketClassPriority
}
