package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"

	"surgetrader/src/auth"
	"surgetrader/src/handler"
	"surgetrader/src/model"
	"surgetrader/src/repository"
)

type StateSource interface {
	Snapshot() *model.Snapshot
}

type CommandQueue interface {
	PendingCommands() []model.Command
	Enqueue(ctx context.Context, cmd model.Command) (model.Command, error)
}

type TradeJournal interface {
	Search(ctx context.Context, options repository.TradeSearchOptions) ([]model.HistoryEntry, error)
	Summary(ctx context.Context) (repository.TradeSummary, error)
}

// Deps wires the dashboard to the engine. Trades is nil when no database is configured.
type Deps struct {
	State        StateSource
	Queue        CommandQueue
	Trades       TradeJournal
	User         string
	PasswordHash string
	PushInterval time.Duration
}

func NewRouter(deps Deps) http.Handler {
	if deps.PushInterval <= 0 {
		deps.PushInterval = 3 * time.Second
	}

	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", handler.GetStateHandler(deps.State, deps.Queue))
		r.Get("/ws", handler.StreamStateHandler(deps.State, deps.Queue, deps.PushInterval))
		if deps.Trades != nil {
			r.Get("/trades", handler.SearchTradesHandler(deps.Trades))
			r.Get("/trades/summary", handler.TradeSummaryHandler(deps.Trades))
		}

		// Operator routes
		r.With(auth.BasicAuth(deps.User, deps.PasswordHash)).
			Post("/commands", handler.EnqueueCommandHandler(deps.Queue))
	})

	if deps.PasswordHash == "" {
		logger.Warn("DASHBOARD_PASSWORD_HASH is empty, command submission is disabled")
	}
	return r
}

// StartServer serves h until ctx is cancelled and then shuts down gracefully.
func StartServer(ctx context.Context, config *Config, h http.Handler) error {
	addr := ":" + config.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server crashed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
