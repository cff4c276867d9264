package trader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"surgetrader/src/connectors"
	"surgetrader/src/controller"
	"surgetrader/src/database"
	"surgetrader/src/engine"
	"surgetrader/src/events"
	"surgetrader/src/model"
	"surgetrader/src/repository"
	"surgetrader/src/security"
	"surgetrader/src/server"
	"surgetrader/src/storage"
	"surgetrader/src/strategy"
)

type Runner struct{}

// Start wires the engine and the dashboard and blocks until SIGINT or SIGTERM.
func (t *Runner) Start() error {
	config := GetConfig()
	engineConfig := engine.GetConfig()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	params, err := strategy.LoadParams(engineConfig.StrategyFile)
	if err != nil {
		logrus.WithError(err).Error("Failed to load strategy parameters")
		return fmt.Errorf("%w: %v", model.ErrConfiguration, err)
	}

	exchangeConfig := connectors.GetConfig()
	if !engineConfig.DryRun && (exchangeConfig.APIKey == "" || exchangeConfig.APISecret == "") {
		return fmt.Errorf("%w: BINANCE_API_KEY and BINANCE_API_SECRET are required when DRY_RUN=false", model.ErrConfiguration)
	}

	// Initialize the journal database (optional)
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to main database")
		return err
	}

	backend, err := storage.NewBackend(storage.GetConfig())
	if err != nil {
		return err
	}
	store := storage.NewStateStore(backend)

	publisher := events.NewPublisher(events.GetConfig(), engineConfig.DryRun)
	defer func() {
		if err := publisher.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close event publisher")
		}
	}()

	deps := engine.Deps{
		Exchange:    connectors.NewBinanceFuturesClient(exchangeConfig),
		Store:       store,
		Events:      publisher,
		ServiceName: controller.GetConfig().ServiceName,
	}
	trades := repository.NewTradeHistoryRepository()
	if trades != nil {
		deps.Journal = trades
	}
	if exceptions := repository.NewExceptionRepository(); exceptions != nil {
		deps.Exceptions = exceptions
	}

	eng, err := engine.New(engineConfig, params, deps)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"dryRun":     engineConfig.DryRun,
		"loopPeriod": engineConfig.LoopPeriod,
		"leverage":   params.Leverage,
		"maxPos":     params.MaxPositions,
	}).Info("Starting surge trading engine")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return eng.Stop()
	})

	if config.EnableDashboard {
		serverConfig := server.GetConfig()
		securityConfig := security.GetConfig()
		serverDeps := server.Deps{
			State:        eng,
			Queue:        store,
			User:         securityConfig.DashboardUser,
			PasswordHash: securityConfig.DashboardPasswordHash,
			PushInterval: serverConfig.PushInterval,
		}
		if trades != nil {
			serverDeps.Trades = trades
		}
		router := server.NewRouter(serverDeps)
		g.Go(func() error {
			return server.StartServer(gctx, serverConfig, router)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Error("Engine stopped with error")
		return err
	}
	logrus.Info("Engine shut down")
	return nil
}
