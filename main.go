package main

import (
	"Vizier/ai"
	"Vizier/bot"
	"Vizier/core"
	"Vizier/lib/sl"
	"Vizier/storage"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// Platform is a chat platform connection feeding the router
type Platform interface {
	Start(ctx context.Context) error
}

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	flag.Parse()

	conf := core.MustLoad(*configPath)
	log := setupLogger(conf.Env)
	log.With(
		slog.String("config", *configPath),
		slog.String("env", conf.Env),
		slog.String("platform", conf.Platform),
		sl.Secret(conf.ReplicateApiToken),
	).Info("starting vizier bot")

	var ledger storage.UsageStorage
	if conf.Mongo.Enabled {
		mongoURI := fmt.Sprintf("mongodb://%s:%s@%s:%s",
			conf.Mongo.User, conf.Mongo.Password,
			conf.Mongo.Host, conf.Mongo.Port)
		var err error
		ledger, err = storage.NewMongoStorage(mongoURI, conf.Mongo.Database, log)
		if err != nil {
			log.With(
				slog.String("db", conf.Mongo.Database),
				slog.String("user", conf.Mongo.User),
				slog.String("host", conf.Mongo.Host),
			).Error("falling back to memory", sl.Err(err))
			ledger = storage.NewMemoryStorage()
		} else {
			log.Info("using MongoDB storage")
		}
	} else {
		ledger = storage.NewMemoryStorage()
		log.Info("using in-memory storage")
	}

	httpClient := ai.NewHTTPClient()
	replicate, err := ai.NewReplicate(conf, httpClient, log)
	if err != nil {
		log.Error("creating model client", sl.Err(err))
		os.Exit(1)
	}
	gateway := ai.NewGateway(conf, replicate, log)
	pipeline := bot.NewPipeline(conf, gateway, ai.NewDecoder(httpClient, log), ledger, log)
	router := bot.NewRouter(pipeline, log)

	platform, err := newPlatform(conf, router, log)
	if err != nil {
		log.Error("creating platform", sl.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	log.Info("bot started")

	if err = platform.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("bot stopped with error", sl.Err(err))
	}

	// cancelled workflows still record their outcome before storage closes
	router.Drain()

	logUsage(log, ledger, started)
	if err = ledger.Close(); err != nil {
		log.Error("error closing storage", sl.Err(err))
	}

	log.Info("shutdown complete")
}

func newPlatform(conf *core.Config, router *bot.Router, log *slog.Logger) (Platform, error) {
	switch conf.Platform {
	case core.PlatformTelegram:
		return bot.NewTgBot(conf, router, log)
	default:
		return bot.NewDiscord(conf, router, log), nil
	}
}

func logUsage(log *slog.Logger, ledger storage.UsageStorage, since time.Time) {
	usage, err := ledger.Summary(since)
	if err != nil {
		log.Error("reading usage", sl.Err(err))
		return
	}
	for _, u := range usage {
		log.With(
			slog.String("workflow", u.Workflow),
			slog.Int("total", u.Total),
			slog.Any("outcomes", u.Outcomes),
		).Info("usage since start")
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
