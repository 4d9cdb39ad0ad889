package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/BearBump/QueueDesk/internal/broker/messages"
	"github.com/pkg/errors"
)

// notifier — потребитель queue.events: пишет табло-лог и копит счётчики
// по типам событий для /stats.
type notifier struct {
	mu        sync.Mutex
	counts    map[string]uint64
	lastEvent *messages.QueueEvent
}

func newNotifier() *notifier {
	return &notifier{counts: make(map[string]uint64)}
}

func (n *notifier) handle(_key, value []byte) error {
	var ev messages.QueueEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return errors.Wrap(err, "unmarshal queue event")
	}

	switch ev.Type {
	case messages.EventTicketCalled:
		slog.Info("now serving", "ticket", ev.TicketNumber, "waiting", ev.WaitingCount)
	case messages.EventTicketCreated:
		slog.Info("ticket issued", "ticket", ev.TicketNumber, "score", ev.Score, "waiting", ev.WaitingCount)
	case messages.EventTicketCancelled:
		slog.Info("ticket cancelled", "ticket", ev.TicketNumber, "waiting", ev.WaitingCount)
	case messages.EventQueueEmptied:
		slog.Info("queue is empty")
	case messages.EventQueueReset:
		slog.Info("queue reset", "affected", ev.AffectedCount)
	default:
		slog.Warn("unknown queue event", "type", ev.Type)
	}

	n.mu.Lock()
	n.counts[ev.Type]++
	n.lastEvent = &ev
	n.mu.Unlock()
	return nil
}

type notifierStats struct {
	Counts    map[string]uint64    `json:"counts"`
	LastEvent *messages.QueueEvent `json:"last_event,omitempty"`
}

func (n *notifier) Stats() notifierStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	counts := make(map[string]uint64, len(n.counts))
	for k, v := range n.counts {
		counts[k] = v
	}
	return notifierStats{Counts: counts, LastEvent: n.lastEvent}
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runQueueNotifier(ctx context.Context, opts notifierHTTPOpts, consumer kafkaConsumer, n *notifier) error {
	consumeErr := make(chan error, 1)
	go func() {
		slog.Info("queue events consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		consumeErr <- consumer.Consume(ctx, n.handle)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runNotifierHTTPServer(ctx, opts, n)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-consumeErr:
		return err
	case err := <-httpErr:
		return err
	}
}
