package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goran-ethernal/ChainReducer/internal/common"
	"github.com/goran-ethernal/ChainReducer/internal/db"
	"github.com/goran-ethernal/ChainReducer/internal/driver"
	"github.com/goran-ethernal/ChainReducer/internal/eventlog"
	"github.com/goran-ethernal/ChainReducer/internal/family"
	"github.com/goran-ethernal/ChainReducer/internal/family/item"
	"github.com/goran-ethernal/ChainReducer/internal/family/order"
	"github.com/goran-ethernal/ChainReducer/internal/family/ownership"
	"github.com/goran-ethernal/ChainReducer/internal/family/token"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/internal/notify"
	"github.com/goran-ethernal/ChainReducer/internal/reindex"
	"github.com/goran-ethernal/ChainReducer/internal/reorg"
	"github.com/goran-ethernal/ChainReducer/internal/store"
	"github.com/goran-ethernal/ChainReducer/pkg/config"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
)

// app holds everything the commands share: the database, the event log,
// the reindex queue and one driver per enabled family.
type app struct {
	cfg *config.Config
	log *logger.Logger

	db         *sql.DB
	maint      db.Maintenance
	events     *eventlog.Log
	queue      *reindex.Queue
	dispatcher *driver.Dispatcher

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg: cfg,
		log: logger.NewComponentLoggerFromConfig(common.ComponentDriver, cfg.Logging),
	}
	if err := a.init(ctx); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	var err error
	a.db, err = db.Open(cfg.Database,
		logger.NewComponentLoggerFromConfig(common.ComponentEventLog, cfg.Logging),
		eventlog.Migrations, store.Migrations, reindex.Migrations, reorg.Migrations,
	)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)

	a.maint = db.NewMaintenanceCoordinator(
		cfg.Database.Path,
		a.db,
		cfg.Maintenance,
		logger.NewComponentLoggerFromConfig(common.ComponentMaintenance, cfg.Logging),
	)
	if err := a.maint.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}
	a.closers = append(a.closers, a.maint.Stop)

	a.events = eventlog.New(a.db, a.maint,
		logger.NewComponentLoggerFromConfig(common.ComponentEventLog, cfg.Logging))
	a.queue = reindex.New(a.db, a.maint,
		logger.NewComponentLoggerFromConfig(common.ComponentReindex, cfg.Logging))

	var evaler store.RedisEvaler
	if cfg.Store.Backend == config.StoreBackendRedis {
		client := store.NewGoRedisEvaler(cfg.Store.Redis)
		if err := client.Ping(ctx); err != nil {
			return errors.Join(
				fmt.Errorf("failed to connect to redis at %s: %w", cfg.Store.Redis.Addr, err),
				client.Close(),
			)
		}
		a.closers = append(a.closers, client.Close)
		evaler = client
	}

	sinks, err := a.notifySinks()
	if err != nil {
		return err
	}

	var updaters []driver.Updater
	add := func(u driver.Updater, err error) error {
		if err != nil {
			return err
		}
		if u != nil {
			updaters = append(updaters, u)
		}
		return nil
	}

	fams := &cfg.Families
	if err := add(newDriver(a, evaler, sinks, family.Item, &fams.Item,
		item.NewChain, item.NewCodec(), item.Payloads)); err != nil {
		return err
	}
	if err := add(newDriver(a, evaler, sinks, family.Ownership, &fams.Ownership,
		ownership.NewChain, ownership.NewCodec(), item.Payloads)); err != nil {
		return err
	}
	if err := add(newDriver(a, evaler, sinks, family.Token, &fams.Token,
		token.NewChain, token.NewCodec(), token.Payloads)); err != nil {
		return err
	}
	if err := add(newDriver(a, evaler, sinks, family.Order, &fams.Order,
		order.NewChain, order.NewCodec(), order.Payloads)); err != nil {
		return err
	}

	a.dispatcher = driver.NewDispatcher(a.log, updaters...)
	return nil
}

// notifySinks builds the configured notification sinks.
func (a *app) notifySinks() ([]notify.Sink, error) {
	cfg := a.cfg.Notifier
	if cfg == nil {
		return nil, nil
	}

	log := logger.NewComponentLoggerFromConfig(common.ComponentNotifier, a.cfg.Logging)
	var sinks []notify.Sink
	if cfg.Log {
		sinks = append(sinks, notify.NewLogSink(log))
	}
	if cfg.MQTT != nil {
		pub, err := notify.NewMQTTPublisher(*cfg.MQTT, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		sinks = append(sinks, notify.NewMQTTSink(pub, cfg.MQTT.TopicPrefix))
	}
	return sinks, nil
}

// newDriver wires the driver of one family. A disabled family yields nil.
func newDriver[S reduce.State[S], P reduce.Payload](
	a *app,
	evaler store.RedisEvaler,
	sinks []notify.Sink,
	name string,
	fc *config.FamilyConfig,
	newChain func(reduce.WindowConfig, *logger.Logger) *reduce.Chain[S, P],
	codec *reduce.Codec[S, P],
	payloads *reduce.PayloadCodec[P],
) (driver.Updater, error) {
	if !fc.IsEnabled() {
		a.log.Infow("family disabled", "family", name)
		return nil, nil
	}

	backend, err := store.New(a.cfg.Store, a.db, evaler, name, codec, a.maint,
		logger.NewComponentLoggerFromConfig(common.ComponentEntityStore, a.cfg.Logging))
	if err != nil {
		return nil, err
	}

	params := driver.Params[S, P]{
		Chain:   newChain(fc.Window(), logger.NewComponentLoggerFromConfig(common.ComponentDriver, a.cfg.Logging)),
		Codec:   codec,
		Source:  eventlog.NewSource(a.events, name, payloads),
		Store:   backend,
		Reindex: a.queue,
	}
	if len(sinks) > 0 {
		params.Notifier = notify.New[S, P](name,
			logger.NewComponentLoggerFromConfig(common.ComponentNotifier, a.cfg.Logging), sinks...)
	}

	return driver.New(params, a.cfg.Reducer,
		logger.NewComponentLoggerFromConfig(common.ComponentDriver, a.cfg.Logging)), nil
}

// updater returns the driver of family or an error naming the enabled ones.
func (a *app) updater(name string) (driver.Updater, error) {
	u, ok := a.dispatcher.Updater(name)
	if !ok {
		return nil, fmt.Errorf("unknown or disabled family %q (enabled: %v)", name, a.dispatcher.Families())
	}
	return u, nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
