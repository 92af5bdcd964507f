package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	serverReadTimeout     = 10 * time.Second
	serverShutdownTimeout = 5 * time.Second
)

// metricsServer serves /metrics and /healthz on the worker's listen address.
type metricsServer struct {
	srv    *http.Server
	logger *slog.Logger
}

func newMetricsServer(addr string, metrics *Metrics, logger *slog.Logger) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	return &metricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: serverReadTimeout,
		},
		logger: logger,
	}
}

// start serves until shutdown. Listen failures are reported on the returned
// channel so the worker can abort instead of running blind.
func (s *metricsServer) start() <-chan error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("metrics listener started", slog.String("addr", s.srv.Addr))

		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("worker: metrics listener: %w", err)
		}

		close(errCh)
	}()

	return errCh
}

func (s *metricsServer) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("worker: stopping metrics listener: %w", err)
	}

	return nil
}
