package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seekwell/apply-cli/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP status server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		var (
			mu         sync.RWMutex
			lastReport *model.Report
		)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		}))

		r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/api/run", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Criteria model.SearchCriteria `json:"criteria"`
				Profile  model.Profile        `json:"profile"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}

			go func() {
				report, err := e.Controller.Run(ctx, body.Criteria, body.Profile)
				if err != nil {
					zap.L().Error("serve: run failed", zap.Error(err))
				}
				if report != nil {
					mu.Lock()
					lastReport = report
					mu.Unlock()
				}
			}()
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		})

		r.Get("/api/report", func(w http.ResponseWriter, req *http.Request) {
			mu.RLock()
			report := lastReport
			mu.RUnlock()
			if report == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run has completed"})
				return
			}
			writeJSON(w, http.StatusOK, report)
		})

		r.Get("/api/scheduler", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, e.Scheduler.Stats())
		})

		r.Get("/api/errors", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, e.Recovery.History().Stats())
		})

		r.Get("/api/bridge", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, e.Bridge.Stats())
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
