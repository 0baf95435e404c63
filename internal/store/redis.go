package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	internalcommon "github.com/goran-ethernal/ChainReducer/internal/common"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/internal/metrics"
	"github.com/goran-ethernal/ChainReducer/pkg/config"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	redis "github.com/redis/go-redis/v9"
)

const redisMetricsDB = "redis_store"

// RedisEvaler is the part of a Redis client the store needs. Every
// operation is a Lua script so reads and conditional writes stay atomic.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// GoRedisEvaler implements RedisEvaler on top of go-redis.
type GoRedisEvaler struct{ c *redis.Client }

// NewGoRedisEvaler connects to the Redis server described by cfg.
func NewGoRedisEvaler(cfg config.RedisConfig) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

// Ping checks the connection.
func (g *GoRedisEvaler) Ping(ctx context.Context) error {
	return g.c.Ping(ctx).Err()
}

// Close closes the underlying client.
func (g *GoRedisEvaler) Close() error {
	return g.c.Close()
}

// Each entity is a hash with "version" and "document" fields. Replies are
// arrays so a missing entity is an empty array rather than a nil reply.
const (
	redisGetScript = `
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
  return {}
end
return {v, redis.call('HGET', KEYS[1], 'document')}
`

	redisCreateScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1], 'version', '0', 'document', ARGV[1])
  redis.call('SADD', KEYS[2], ARGV[2])
end
return {redis.call('HGET', KEYS[1], 'version'), redis.call('HGET', KEYS[1], 'document')}
`

	// returns 1 when written, 0 on a version mismatch
	redisSaveScript = `
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
  v = '0'
end
if v ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'document', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
return 1
`

	redisIDsScript = `
return redis.call('SMEMBERS', KEYS[1])
`
)

// Redis stores the entities of one family in Redis under
// <prefix>:<family>:<id>, with version checks done server side.
type Redis[S reduce.State[S], P reduce.Payload] struct {
	client RedisEvaler
	prefix string
	family string
	codec  *reduce.Codec[S, P]
	log    *logger.Logger
}

// NewRedis creates a Redis-backed store for family.
func NewRedis[S reduce.State[S], P reduce.Payload](
	client RedisEvaler,
	keyPrefix string,
	family string,
	codec *reduce.Codec[S, P],
	log *logger.Logger,
) *Redis[S, P] {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Redis[S, P]{
		client: client,
		prefix: keyPrefix,
		family: family,
		codec:  codec,
		log:    log.WithComponent(internalcommon.ComponentEntityStore),
	}
}

func (r *Redis[S, P]) key(id string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, r.family, id)
}

func (r *Redis[S, P]) indexKey() string {
	return fmt.Sprintf("%s:%s:ids", r.prefix, r.family)
}

func (r *Redis[S, P]) Get(ctx context.Context, id string) (reduce.Entity[S, P], error) {
	start := time.Now()
	metrics.DBQueryInc(redisMetricsDB, "get")
	defer func() { metrics.DBQueryDuration(redisMetricsDB, "get", time.Since(start)) }()

	reply, err := r.client.Eval(ctx, redisGetScript, []string{r.key(id)})
	if err != nil {
		metrics.DBErrorsInc(redisMetricsDB, "get")
		return reduce.Entity[S, P]{}, fmt.Errorf("failed to get %s %s: %w", r.family, id, err)
	}
	return r.decodeReply(id, reply)
}

func (r *Redis[S, P]) CreateIfAbsent(ctx context.Context, id string) (reduce.Entity[S, P], error) {
	doc, err := r.codec.Encode(r.codec.NewEntity(id))
	if err != nil {
		return reduce.Entity[S, P]{}, err
	}

	metrics.DBQueryInc(redisMetricsDB, "create")
	reply, err := r.client.Eval(ctx, redisCreateScript, []string{r.key(id), r.indexKey()}, string(doc), id)
	if err != nil {
		metrics.DBErrorsInc(redisMetricsDB, "create")
		return reduce.Entity[S, P]{}, fmt.Errorf("failed to create %s %s: %w", r.family, id, err)
	}
	return r.decodeReply(id, reply)
}

func (r *Redis[S, P]) Save(ctx context.Context, ent reduce.Entity[S, P]) (reduce.Entity[S, P], error) {
	start := time.Now()
	metrics.DBQueryInc(redisMetricsDB, "save")
	defer func() { metrics.DBQueryDuration(redisMetricsDB, "save", time.Since(start)) }()

	saved := ent.Clone()
	saved.Version = ent.Version + 1
	saved.Evicted = nil

	doc, err := r.codec.Encode(saved)
	if err != nil {
		return reduce.Entity[S, P]{}, err
	}

	reply, err := r.client.Eval(ctx, redisSaveScript, []string{r.key(ent.ID), r.indexKey()},
		strconv.FormatUint(ent.Version, 10), strconv.FormatUint(saved.Version, 10), string(doc), ent.ID)
	if err != nil {
		metrics.DBErrorsInc(redisMetricsDB, "save")
		return reduce.Entity[S, P]{}, fmt.Errorf("failed to save %s %s: %w", r.family, ent.ID, err)
	}

	written, ok := reply.(int64)
	if !ok {
		return reduce.Entity[S, P]{}, fmt.Errorf("unexpected save reply %T", reply)
	}
	if written == 0 {
		return reduce.Entity[S, P]{}, reduce.ErrWriteConflict
	}

	if len(ent.Evicted) > 0 {
		r.log.Debugw("evicted events are not archived by the redis store",
			"family", r.family, "id", ent.ID, "count", len(ent.Evicted))
	}
	return saved, nil
}

// IDs returns the ids stored for the family, in no particular order.
func (r *Redis[S, P]) IDs(ctx context.Context) ([]string, error) {
	reply, err := r.client.Eval(ctx, redisIDsScript, []string{r.indexKey()})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", r.family, err)
	}
	items, ok := reply.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected ids reply %T", reply)
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected id %T", item)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Redis[S, P]) decodeReply(id string, reply interface{}) (reduce.Entity[S, P], error) {
	fields, ok := reply.([]interface{})
	if !ok {
		return reduce.Entity[S, P]{}, fmt.Errorf("unexpected reply %T for %s %s", reply, r.family, id)
	}
	if len(fields) == 0 {
		return reduce.Entity[S, P]{}, reduce.ErrNotFound
	}
	if len(fields) != 2 { //nolint:mnd
		return reduce.Entity[S, P]{}, fmt.Errorf("unexpected reply length %d for %s %s", len(fields), r.family, id)
	}

	versionText, ok1 := fields[0].(string)
	doc, ok2 := fields[1].(string)
	if !ok1 || !ok2 {
		return reduce.Entity[S, P]{}, fmt.Errorf("unexpected reply fields for %s %s", r.family, id)
	}
	version, err := strconv.ParseUint(versionText, 10, 64)
	if err != nil {
		return reduce.Entity[S, P]{}, fmt.Errorf("invalid version %q for %s %s: %w", versionText, r.family, id, err)
	}

	ent, err := r.codec.Decode([]byte(doc))
	if err != nil {
		return reduce.Entity[S, P]{}, fmt.Errorf("failed to decode %s %s: %w", r.family, id, err)
	}
	ent.ID = id
	ent.Version = version
	return ent, nil
}
