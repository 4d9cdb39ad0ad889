package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/QueueDesk/internal/api/queue_api"
	"github.com/BearBump/QueueDesk/internal/services/archiver"
	"github.com/go-chi/chi/v5"
)

type queueAPIOpts struct {
	httpAddr string

	onListen func(httpAddr string)
}

func runQueueAPI(ctx context.Context, opts queueAPIOpts, api *queue_api.QueueAPI, arch *archiver.Archiver) error {
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if arch == nil {
			_, _ = w.Write([]byte(`{"error":"archiver not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(arch.Stats())
	})

	api.Routes(r)

	// Архиватор живёт рядом с API: один процесс владеет очередью записи истории.
	archErr := make(chan error, 1)
	if arch != nil {
		go func() { archErr <- arch.Run(ctx) }()
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(lis) }()

	slog.Info("queue API listening", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-archErr:
		return err
	case err := <-serveErr:
		return err
	}
}
