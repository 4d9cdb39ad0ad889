package archiver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/QueueDesk/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu       sync.Mutex
	recs     []*models.HistoryRecord
	failN    int
	inserted int
}

func (f *fakeRepo) InsertHistory(ctx context.Context, rec *models.HistoryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted++
	if f.inserted <= f.failN {
		return errors.New("pg down")
	}
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeRepo) records() []*models.HistoryRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.HistoryRecord, len(f.recs))
	copy(out, f.recs)
	return out
}

func TestBuildRecord_CompletedTicket(t *testing.T) {
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	called := created.Add(3*time.Minute + 15*time.Second)
	completed := called.Add(4*time.Minute + 30*time.Second)

	rec := BuildRecord(&models.Ticket{
		Number: 7, Age: 70, Urgent: true, Class: models.TicketClassRegular, Score: 136,
		State:     models.TicketStateCompleted,
		CreatedAt: created, CalledAt: &called, CompletedAt: &completed,
	}, completed)

	require.Equal(t, uint64(7), rec.TicketNumber)
	require.Equal(t, 3.25, rec.WaitingMinutes)
	require.Equal(t, 4.5, rec.ServiceMinutes)
	require.Equal(t, completed, rec.CompletedAt)
}

func TestBuildRecord_CancelledNeverCalled(t *testing.T) {
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	now := created.Add(10 * time.Minute)

	rec := BuildRecord(&models.Ticket{
		Number: 8, Age: 30, Class: models.TicketClassRegular, Score: 55,
		State:     models.TicketStateCancelled,
		CreatedAt: created,
	}, now)

	require.Zero(t, rec.WaitingMinutes)
	require.Zero(t, rec.ServiceMinutes)
	require.Equal(t, now, rec.CompletedAt)
}

func TestArchiver_RunPersists(t *testing.T) {
	repo := &fakeRepo{}
	a := New(repo, 16, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()

	now := time.Now().UTC()
	a.Archive(&models.Ticket{Number: 1, State: models.TicketStateCancelled, CreatedAt: now})

	require.Eventually(t, func() bool {
		return len(repo.records()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	require.Equal(t, int64(1), a.Stats().Archived)
}

func TestArchiver_RetriesThenSucceeds(t *testing.T) {
	repo := &fakeRepo{failN: 2}
	a := New(repo, 16, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	a.Archive(&models.Ticket{Number: 2, State: models.TicketStateCancelled, CreatedAt: time.Now().UTC()})

	require.Eventually(t, func() bool {
		return len(repo.records()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, int64(2), a.Stats().Retries)
}

func TestArchiver_FullQueueDropsWithoutBlocking(t *testing.T) {
	repo := &fakeRepo{}
	a := New(repo, 1, 1)

	now := time.Now().UTC()
	// Run не запущен: второй Archive упирается в полный буфер и не виснет.
	a.Archive(&models.Ticket{Number: 1, State: models.TicketStateCancelled, CreatedAt: now})
	a.Archive(&models.Ticket{Number: 2, State: models.TicketStateCancelled, CreatedAt: now})

	st := a.Stats()
	require.Equal(t, int64(1), st.Dropped)
	require.Equal(t, 1, st.Pending)
}
