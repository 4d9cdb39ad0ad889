package main

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/BearBump/QueueDesk/internal/api/queue_api"
	"github.com/BearBump/QueueDesk/internal/models"
	"github.com/BearBump/QueueDesk/internal/services/dispatch"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct{}

func (f *fakeDispatcher) CreateTicket(ctx context.Context, in models.TicketCreateInput) (*models.Ticket, error) {
	return &models.Ticket{Number: 1, State: models.TicketStateWaiting}, nil
}
func (f *fakeDispatcher) CallNext(ctx context.Context) (*models.Ticket, error) { return nil, nil }
func (f *fakeDispatcher) CancelTicket(ctx context.Context, number uint64, subjectID string) (*models.Ticket, error) {
	return nil, models.ErrNotFound
}
func (f *fakeDispatcher) Reset(ctx context.Context) (int64, error) { return 0, nil }
func (f *fakeDispatcher) Status(ctx context.Context) (*dispatch.StatusView, error) {
	return &dispatch.StatusView{
		QueueStatus: &models.QueueStatus{AvgServiceMinutes: models.AvgServiceDefault},
		Upcoming:    []*models.Ticket{},
	}, nil
}
func (f *fakeDispatcher) EstimateWait(ctx context.Context, number uint64) (*dispatch.WaitEstimate, error) {
	return nil, models.ErrNotFound
}
func (f *fakeDispatcher) TicketDetails(ctx context.Context, number uint64) (*dispatch.TicketDetails, error) {
	return nil, models.ErrNotFound
}
func (f *fakeDispatcher) QueryHistory(ctx context.Context, filter models.HistoryFilter) (*models.HistoryPage, error) {
	return &models.HistoryPage{}, nil
}

type fakeSettings struct{}

func (s *fakeSettings) SetAvgService(ctx context.Context, minutes float64) error { return nil }

func TestRunQueueAPI_ServesRoutes(t *testing.T) {
	api := queue_api.New(&fakeDispatcher{}, &fakeSettings{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := queueAPIOpts{
		httpAddr: "127.0.0.1:0",
		onListen: func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runQueueAPI(ctx, opts, api, nil) }()

	addr := <-addrCh

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, string(body), `"ok"`)

	resp, err = http.Get("http://" + addr + "/api/queue/status")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, string(body), `"success":true`)

	cancel()
	select {
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting server to stop")
	case err := <-errCh:
		// main воспринимает context.Canceled как чистое завершение
		require.ErrorIs(t, err, context.Canceled)
	}
}
