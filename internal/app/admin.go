package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"entryproc/internal/config"
	"entryproc/internal/fsprobe"
	"entryproc/internal/pipeline"
	"entryproc/internal/scanner"
)

// adminServer exposes the operator-facing HTTP surface: health, metrics,
// per-stage stats, and a manual scan trigger.
type adminServer struct {
	server *http.Server
	logger *logrus.Logger
}

func newAdminServer(cfg config.ServerConfig, logger *logrus.Logger, scheduler *pipeline.Scheduler, sc *scanner.Scanner, probe *fsprobe.Local) *adminServer {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(scheduler.Stats())
	}).Methods(http.MethodGet)

	router.HandleFunc("/scan", func(w http.ResponseWriter, r *http.Request) {
		if err := scheduler.RunScanSweep(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("scan sweep triggered\n"))
	}).Methods(http.MethodPost)

	return &adminServer{
		server: &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: router},
		logger: logger,
	}
}

func (s *adminServer) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("starting admin HTTP server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("admin server error")
		}
	}()
	return nil
}

func (s *adminServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
