// Package store holds the entity store backends: SQLite, Redis and memory.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goran-ethernal/ChainReducer/internal/db"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/pkg/config"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
)

// Backend is an EntityStore that can also enumerate its ids.
type Backend[S reduce.State[S], P reduce.Payload] interface {
	reduce.EntityStore[S, P]
	IDs(ctx context.Context) ([]string, error)
}

// Archive is implemented by backends that keep evicted events.
type Archive[P reduce.Payload] interface {
	Archived(ctx context.Context, id string) ([]reduce.Event[P], error)
}

// New builds the backend selected by cfg for one family. evaler is only
// used by the redis backend.
func New[S reduce.State[S], P reduce.Payload](
	cfg config.StoreConfig,
	database *sql.DB,
	evaler RedisEvaler,
	family string,
	codec *reduce.Codec[S, P],
	maint db.Maintenance,
	log *logger.Logger,
) (Backend[S, P], error) {
	switch cfg.Backend {
	case config.StoreBackendSQLite, "":
		if database == nil {
			return nil, fmt.Errorf("sqlite store for %s needs a database", family)
		}
		return NewSQLite(database, family, codec, cfg.ShouldArchive(), maint, log), nil
	case config.StoreBackendRedis:
		if evaler == nil {
			return nil, fmt.Errorf("redis store for %s needs a client", family)
		}
		return NewRedis(evaler, cfg.Redis.KeyPrefix, family, codec, log), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
