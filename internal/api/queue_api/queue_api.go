package queue_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/QueueDesk/internal/models"
	"github.com/BearBump/QueueDesk/internal/services/dispatch"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// Dispatcher — всё, что API нужно от диспетчера очереди.
type Dispatcher interface {
	CreateTicket(ctx context.Context, in models.TicketCreateInput) (*models.Ticket, error)
	CallNext(ctx context.Context) (*models.Ticket, error)
	CancelTicket(ctx context.Context, number uint64, subjectID string) (*models.Ticket, error)
	Reset(ctx context.Context) (int64, error)
	Status(ctx context.Context) (*dispatch.StatusView, error)
	EstimateWait(ctx context.Context, number uint64) (*dispatch.WaitEstimate, error)
	TicketDetails(ctx context.Context, number uint64) (*dispatch.TicketDetails, error)
	QueryHistory(ctx context.Context, f models.HistoryFilter) (*models.HistoryPage, error)
}

type Settings interface {
	SetAvgService(ctx context.Context, minutes float64) error
}

type QueueAPI struct {
	svc      Dispatcher
	settings Settings
}

func New(svc Dispatcher, settings Settings) *QueueAPI {
	return &QueueAPI{svc: svc, settings: settings}
}

// Routes монтирует все маршруты очереди на роутер.
func (a *QueueAPI) Routes(r chi.Router) {
	r.Post("/api/tickets", a.createTicket)
	r.Get("/api/tickets/{number}", a.ticketDetails)
	r.Put("/api/tickets/{number}/cancel", a.cancelTicket)
	r.Get("/api/queue/status", a.queueStatus)
	r.Get("/api/queue/estimate/{number}", a.estimateWait)

	r.Put("/api/admin/queue/next", a.callNext)
	r.Post("/api/admin/queue/reset", a.resetQueue)
	r.Get("/api/admin/queue/history", a.queryHistory)
	r.Put("/api/admin/settings", a.updateSettings)
}

type createTicketRequest struct {
	HolderName string `json:"holder_name"`
	Age        int    `json:"age"`
	Urgent     bool   `json:"urgent"`
	Class      string `json:"class"`
}

func (a *QueueAPI) createTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body", "invalid json"))
		return
	}

	t, err := a.svc.CreateTicket(r.Context(), models.TicketCreateInput{
		SubjectID:  r.Header.Get("X-Subject-ID"),
		HolderName: req.HolderName,
		Age:        req.Age,
		Urgent:     req.Urgent,
		Class:      req.Class,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, t)
}

func (a *QueueAPI) ticketDetails(w http.ResponseWriter, r *http.Request) {
	number, ok := ticketNumber(w, r)
	if !ok {
		return
	}
	d, err := a.svc.TicketDetails(r.Context(), number)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, d)
}

func (a *QueueAPI) cancelTicket(w http.ResponseWriter, r *http.Request) {
	number, ok := ticketNumber(w, r)
	if !ok {
		return
	}
	t, err := a.svc.CancelTicket(r.Context(), number, r.Header.Get("X-Subject-ID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, t)
}

func (a *QueueAPI) queueStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, st)
}

func (a *QueueAPI) estimateWait(w http.ResponseWriter, r *http.Request) {
	number, ok := ticketNumber(w, r)
	if !ok {
		return
	}
	est, err := a.svc.EstimateWait(r.Context(), number)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, est)
}

func (a *QueueAPI) callNext(w http.ResponseWriter, r *http.Request) {
	t, err := a.svc.CallNext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	// Пустая очередь — штатный ответ, не ошибка.
	if t == nil {
		writeData(w, http.StatusOK, map[string]any{"queue_empty": true})
		return
	}
	writeData(w, http.StatusOK, t)
}

func (a *QueueAPI) resetQueue(w http.ResponseWriter, r *http.Request) {
	affected, err := a.svc.Reset(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"affected_count": affected})
}

func (a *QueueAPI) queryHistory(w http.ResponseWriter, r *http.Request) {
	f, err := historyFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := a.svc.QueryHistory(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

type settingsRequest struct {
	AvgServiceMinutes float64 `json:"avg_service_minutes"`
}

func (a *QueueAPI) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body", "invalid json"))
		return
	}
	if err := a.settings.SetAvgService(r.Context(), req.AvgServiceMinutes); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"avg_service_minutes": req.AvgServiceMinutes})
}

func historyFilter(r *http.Request) (models.HistoryFilter, error) {
	q := r.URL.Query()
	var f models.HistoryFilter

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, models.NewValidationError("from", "must be RFC3339 timestamp")
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, models.NewValidationError("to", "must be RFC3339 timestamp")
		}
		f.To = &t
	}
	if v := q.Get("state"); v != "" {
		if v != models.TicketStateCompleted && v != models.TicketStateCancelled {
			return f, models.NewValidationError("state", "must be completed or cancelled")
		}
		f.State = v
	}
	if v := q.Get("class"); v != "" {
		if !models.ValidTicketClass(v) {
			return f, models.NewValidationError("class", "must be regular or priority")
		}
		f.Class = v
	}
	f.SubjectID = q.Get("subject_id")

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, models.NewValidationError("page", "must be a positive integer")
		}
		f.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, models.NewValidationError("limit", "must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

func ticketNumber(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "number")
	number, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || number == 0 {
		writeError(w, models.NewValidationError("number", "must be a positive ticket number"))
		return 0, false
	}
	return number, true
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case models.IsValidation(err):
		code = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidState):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		slog.Error("queue api request failed", "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: err.Error()})
}
