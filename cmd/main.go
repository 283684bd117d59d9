// Command investbot runs the binary-options trading robot behind a JSON API.
//
// Usage:
//
//	investbot --config config.yaml
//	investbot --setup (interactive wizard)
//	investbot (defaults plus environment)
//
// Optional environment variables:
//
//	INVESTBOT_BROKER_URL, DATABASE_DSN, TELEGRAM_TOKEN
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vadiminshakov/investbot/config"
	"github.com/vadiminshakov/investbot/internal/broker"
	"github.com/vadiminshakov/investbot/internal/events"
	"github.com/vadiminshakov/investbot/internal/notify"
	"github.com/vadiminshakov/investbot/internal/robot"
	"github.com/vadiminshakov/investbot/internal/session"
	"github.com/vadiminshakov/investbot/internal/setup"
	"github.com/vadiminshakov/investbot/internal/storage/balancesnapshots"
	"github.com/vadiminshakov/investbot/internal/storage/filekv"
	"github.com/vadiminshakov/investbot/internal/storage/journal"
	"github.com/vadiminshakov/investbot/internal/storage/pgkv"
	"github.com/vadiminshakov/investbot/internal/web"
	"github.com/vadiminshakov/investbot/pkg/retrier"
	"github.com/vadiminshakov/investbot/pkg/tracing"
)

func main() {
	flags := config.ParseFlags()

	path := flags.Path
	if flags.Setup {
		generated, err := setup.RunTUI()
		if err != nil {
			log.Fatal(err)
		}
		path = generated
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("investbot stopped", zap.Error(err))
	}
	logger.Info("investbot stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	_, closeTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Host:        cfg.Tracing.AgentHost,
		Port:        cfg.Tracing.AgentPort,
	}, logger)
	if err != nil {
		return err
	}
	defer closeTracer()

	kv, closeKV, err := openKV(ctx, cfg.Session, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	client := broker.New(cfg.Broker.BaseURL, logger,
		broker.WithUserAgent(cfg.Broker.UserAgent),
		broker.WithTimeouts(cfg.Broker.ReadTimeout, cfg.Broker.WriteTimeout),
		broker.WithSimulatedFills(cfg.Broker.SimulateFills),
		broker.WithDefaultBalance(cfg.Broker.DefaultBalance, cfg.Broker.DefaultCurrency),
	)

	store, err := session.New(kv, client, logger)
	if err != nil {
		return err
	}
	client.Attach(store)

	trades, err := journal.NewWALStore(cfg.Journal.Dir)
	if err != nil {
		return errors.Wrap(err, "open trade journal")
	}
	defer func() {
		if err := trades.Close(); err != nil {
			logger.Error("failed to close trade journal", zap.Error(err))
		}
	}()

	snapshots, err := balancesnapshots.NewWALStore(cfg.Journal.BalanceDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := snapshots.Close(); err != nil {
			logger.Error("failed to close balance history", zap.Error(err))
		}
	}()
	feed := events.NewBalanceBroadcaster(64)

	var notifier robot.Notifier = notify.Nop{}
	var telegram *notify.Telegram
	if cfg.Telegram.Enabled() {
		telegram, err = notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			return err
		}
		notifier = telegram
	}

	bot := robot.New(client, trades, notifier, logger, cfg.Robot.Timings())
	if err := bot.Restore(); err != nil {
		return err
	}
	if err := bot.Configure(cfg.Robot.Configuration()); err != nil {
		return err
	}
	bot.OnBalance(events.NewBalanceRecorder(snapshots, feed, logger).Observe)
	defer func() {
		bot.Stop()
		bot.Wait()
	}()

	if telegram != nil {
		go telegram.Listen(ctx, bot)
	}

	if store.IsAuthenticated() {
		go func() {
			primeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if _, _, err := bot.Prime(primeCtx); err != nil {
				logger.Warn("failed to prime account data", zap.Error(err))
			}
		}()
	}

	server := web.NewServer(cfg.Server.Addr, store, bot, logger, web.WithBalanceHistory(snapshots, feed))
	if cfg.Server.Domain != "" {
		return server.StartWithAutoTLS(ctx, cfg.Server.Domain, cfg.Server.CertDir)
	}
	return server.Start(ctx)
}

// openKV selects the credential backend.
func openKV(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (session.KV, func(), error) {
	switch cfg.Backend {
	case config.SessionBackendPostgres:
		r := retrier.New(
			retrier.WithMaxRetries(5),
			retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
				logger.Warn("postgres not ready, retrying",
					zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
			}),
		)
		kv, err := pgkv.Open(ctx, cfg.DSN, r, logger)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	default:
		kv, err := filekv.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() {}, nil
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", level)
		}
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
