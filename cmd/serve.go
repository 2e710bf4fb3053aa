package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/pipeline"
	"github.com/sells-group/terms-cli/internal/resilience"
	"github.com/sells-group/terms-cli/internal/store"
	"github.com/sells-group/terms-cli/internal/validate"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for runs, reviews, and exports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
			var opts model.RunOptions
			if err := json.NewDecoder(req.Body).Decode(&opts); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			run, err := env.Orchestrator.Start(opts)
			if err != nil {
				var conflict *resilience.ConcurrentRunConflictError
				if errors.As(err, &conflict) {
					writeError(w, http.StatusConflict, err.Error())
					return
				}
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, run)
		})

		r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
			runs, err := env.Store.ListRuns(req.Context(), store.RunFilter{Limit: 50})
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, runs)
		})

		r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
			run, err := env.Store.GetRun(req.Context(), chi.URLParam(req, "id"))
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, run)
		})

		r.Post("/runs/cancel", func(w http.ResponseWriter, req *http.Request) {
			if err := env.Orchestrator.Cancel(); err != nil {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
		})

		r.Get("/reviews", func(w http.ResponseWriter, req *http.Request) {
			items, err := env.Review.Pending(req.Context(), 200, 0)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, items)
		})

		r.Post("/reviews/{id}/decision", func(w http.ResponseWriter, req *http.Request) {
			var d validate.Decision
			if err := json.NewDecoder(req.Body).Decode(&d); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			item, err := env.Review.Decide(req.Context(), chi.URLParam(req, "id"), d)
			if err != nil {
				var double *resilience.DoubleDecisionError
				switch {
				case errors.As(err, &double):
					writeError(w, http.StatusConflict, err.Error())
				case errors.Is(err, store.ErrNotFound):
					writeError(w, http.StatusNotFound, "review item not found")
				default:
					writeError(w, http.StatusBadRequest, err.Error())
				}
				return
			}
			writeJSON(w, http.StatusOK, item)
		})

		r.Post("/export", func(w http.ResponseWriter, req *http.Request) {
			batch, err := pipeline.WriteBatch(req.Context(), env.Store, cfg.Pipeline.ExportDir)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, batch)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
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
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
