package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/permit-cli/internal/health"
	"github.com/sells-group/permit-cli/internal/model"
	"github.com/sells-group/permit-cli/internal/permitsync"
)

var (
	servePort     int
	serveSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin HTTP server",
	Long:  "Serves health queries and on-demand cycle triggers. With --schedule the cron scheduler runs in the same process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initCycle(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if serveSchedule {
			sched, err := newScheduler(env.Engine)
			if err != nil {
				return err
			}
			go func() { _ = sched.Run(ctx) }()
		}
		startChecker(ctx, env)

		router := buildRouter(ctx, env.Engine, env.Tracker, env.Engine.Registry().IDs)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
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

// cycleRunner runs acquisition cycles.
type cycleRunner interface {
	RunCycle(ctx context.Context, opts permitsync.RunOpts) (*model.Summary, error)
}

// healthChecker answers health queries.
type healthChecker interface {
	CheckHealth(ctx context.Context, source string) (health.Status, error)
}

// buildRouter wires the admin routes. Cycles run on baseCtx so a dropped
// client connection does not abort a cycle halfway.
func buildRouter(baseCtx context.Context, runner cycleRunner, checker healthChecker, sourceIDs func() []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		ids := sourceIDs()
		statuses := make([]health.Status, 0, len(ids))
		unhealthy := 0
		for _, id := range ids {
			st, err := checker.CheckHealth(req.Context(), id)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if !st.Healthy {
				unhealthy++
			}
			statuses = append(statuses, st)
		}
		status := "ok"
		if unhealthy > 0 {
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    status,
			"unhealthy": unhealthy,
			"sources":   statuses,
		})
	})

	r.Get("/sources/{id}/health", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if !slices.Contains(sourceIDs(), id) {
			writeError(w, http.StatusNotFound, eris.Errorf("unknown source %q", id))
			return
		}
		st, err := checker.CheckHealth(req.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	r.Post("/cycles", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Sources []string `json:"sources"`
		}
		if req.ContentLength > 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
				return
			}
		}
		runCycle(baseCtx, w, runner, body.Sources)
	})

	r.Post("/cycles/{source}", func(w http.ResponseWriter, req *http.Request) {
		runCycle(baseCtx, w, runner, []string{chi.URLParam(req, "source")})
	})

	return r
}

func runCycle(ctx context.Context, w http.ResponseWriter, runner cycleRunner, sources []string) {
	summary, err := runner.RunCycle(ctx, permitsync.RunOpts{Sources: sources})
	if err != nil {
		code := http.StatusInternalServerError
		if eris.Is(err, permitsync.ErrUnknownSource) {
			code = http.StatusNotFound
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", false, "also run the cron scheduler")
	rootCmd.AddCommand(serveCmd)
}
