// Package bootstrap wires a configured engine from config.Config. Both the
// server and earnctl go through it so they run the same stack.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/umbra/earnings-engine/config"
	"github.com/umbra/earnings-engine/engine"
	"github.com/umbra/earnings-engine/events"
	"github.com/umbra/earnings-engine/factory"
	"github.com/umbra/earnings-engine/store/postgres"
	redisstore "github.com/umbra/earnings-engine/store/redis"
	"github.com/umbra/earnings-engine/store/sqlite"
	"go.uber.org/zap"
)

// Store is what both database backends provide.
type Store interface {
	engine.Store
	Reset(ctx context.Context) error
	Close() error
}

// App is a wired engine plus everything that must be closed with it.
type App struct {
	Engine *engine.Engine
	Store  Store

	closers []func() error
	log     *zap.Logger
}

// New opens the store, the optional Redis locker and AMQP publisher, and
// builds the engine. Reference data from REFERENCE_DATA_FILE is applied
// when set.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{log: logger}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Store = st
	app.closers = append(app.closers, st.Close)

	var locker engine.Locker
	if cfg.RedisURL != "" {
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		locker = redisstore.NewLocker(client, "umbra:lock:", 30*time.Second, logger)
		logger.Info("using redis locks")
	}

	publishers := events.Multi{events.NewLogPublisher(logger)}
	if cfg.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.ExternalCallTimeout, logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, pub.Close)
		publishers = append(publishers, pub)
		logger.Info("publishing events to amqp", zap.String("exchange", cfg.AMQPExchange))
	}

	cal, err := cfg.Calendar()
	if err != nil {
		return nil, err
	}
	conv, err := cfg.Converter()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	app.Engine = engine.New(engine.Deps{
		Store:     st,
		Locker:    locker,
		Publisher: publishers,
		Converter: conv,
		Calendar:  cal,
		Logger:    logger,
		Options:   opts,
	})

	if cfg.ReferenceDataFile != "" {
		ref, err := factory.LoadReferenceFile(cfg.ReferenceDataFile)
		if err != nil {
			return nil, err
		}
		if err := ref.Apply(ctx, app.Engine); err != nil {
			return nil, fmt.Errorf("apply %s: %w", cfg.ReferenceDataFile, err)
		}
		logger.Info("reference data loaded", zap.String("file", cfg.ReferenceDataFile))
	}

	ok = true
	return app, nil
}

func openStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		return postgres.New(ctx, cfg.DatabaseURL)
	default:
		return sqlite.New(cfg.DBPath)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.log != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
