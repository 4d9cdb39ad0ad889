package aihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/QueueDesk/internal/integrations/predictor"
	"github.com/BearBump/QueueDesk/internal/models"
	"github.com/pkg/errors"
)

// Client ходит во внешний сервис предсказаний по его родному JSON-протоколу.
// Ответам не доверяем: score всё равно прижимается к [0,200] на выходе.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) post(ctx context.Context, path string, reqBody, respBody any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = path

	b, err := json.Marshal(reqBody)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("predictor http %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}

type priorityResp struct {
	PriorityScore *int `json:"priority_score"`
}

func (c *Client) Score(ctx context.Context, in predictor.ScoreInput) (int, error) {
	req := map[string]any{
		"age":          in.Age,
		"emergency":    in.Urgent,
		"waiting_time": in.WaitingCount,
		"token_type":   in.Class,
	}
	var r priorityResp
	if err := c.post(ctx, "/priority", req, &r); err != nil {
		return 0, err
	}
	if r.PriorityScore == nil {
		return 0, errors.New("predictor: priority_score missing")
	}
	return predictor.ClampScore(*r.PriorityScore), nil
}

type waitResp struct {
	EstimatedWait *float64 `json:"estimated_wait"`
}

func (c *Client) PredictWait(ctx context.Context, position int, avgServiceMinutes float64) (float64, error) {
	req := map[string]any{
		"patients_before":  position,
		"avg_service_time": avgServiceMinutes,
		"use_current_time": true,
	}
	var r waitResp
	if err := c.post(ctx, "/predict-wait", req, &r); err != nil {
		return 0, err
	}
	if r.EstimatedWait == nil || *r.EstimatedWait < 0 {
		return 0, errors.New("predictor: estimated_wait missing or negative")
	}
	return *r.EstimatedWait, nil
}

type completionResp struct {
	CompletionTime string `json:"completion_time"`
}

func (c *Client) PredictCompletion(ctx context.Context, from time.Time, position int, avgServiceMinutes float64) (time.Time, error) {
	req := map[string]any{
		"token_time":       from.UTC().Format(time.RFC3339),
		"position":         position,
		"avg_service_time": avgServiceMinutes,
	}
	var r completionResp
	if err := c.post(ctx, "/predict-completion", req, &r); err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, r.CompletionTime)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parse completion_time")
	}
	return t.UTC(), nil
}

type optimizeTicket struct {
	TicketNumber   uint64  `json:"token_number"`
	Priority       int     `json:"priority"`
	Age            int     `json:"age"`
	Emergency      bool    `json:"emergency"`
	WaitingMinutes float64 `json:"waiting_time"`
}

type optimizeResp struct {
	Queue []optimizeTicket `json:"queue"`
}

// Optimize — советчик по порядку выдачи; ответ сопоставляется с талонами
// по номеру. Потерянный или лишний номер в ответе считаем мусором.
func (c *Client) Optimize(ctx context.Context, tickets []*models.Ticket) ([]*models.Ticket, error) {
	now := time.Now().UTC()
	in := make([]optimizeTicket, 0, len(tickets))
	byNumber := make(map[uint64]*models.Ticket, len(tickets))
	for _, t := range tickets {
		in = append(in, optimizeTicket{
			TicketNumber:   t.Number,
			Priority:       t.Score,
			Age:            t.Age,
			Emergency:      t.Urgent,
			WaitingMinutes: now.Sub(t.CreatedAt).Minutes(),
		})
		byNumber[t.Number] = t
	}

	var r optimizeResp
	if err := c.post(ctx, "/optimize", map[string]any{"tokens": in}, &r); err != nil {
		return nil, err
	}
	if len(r.Queue) != len(tickets) {
		return nil, fmt.Errorf("predictor: optimize returned %d tickets, want %d", len(r.Queue), len(tickets))
	}

	out := make([]*models.Ticket, 0, len(r.Queue))
	for _, ot := range r.Queue {
		t, ok := byNumber[ot.TicketNumber]
		if !ok {
			return nil, fmt.Errorf("predictor: optimize returned unknown ticket %d", ot.TicketNumber)
		}
		delete(byNumber, ot.TicketNumber)
		out = append(out, t)
	}
	return out, nil
}
