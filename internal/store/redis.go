package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/PratikDhanave/incident-bot/internal/models"
)

// redisGrace keeps an expired record readable for a while after its logical
// expiry before redis reclaims the key.
const redisGrace = time.Hour

// acquireScript performs the conditional write server-side so the check and
// the set cannot interleave with another client.
var acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, rec = pcall(cjson.decode, cur)
	if ok and type(rec) == 'table' then
		local exp = tonumber(rec['expiration_time'])
		if exp and exp > tonumber(ARGV[2]) then
			return 0
		end
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// RedisStore keeps each record as a JSON string under its key.
type RedisStore struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func (r *RedisStore) Get(ctx context.Context, key string) (models.Record, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Record{}, ErrNotFound
	}
	if err != nil {
		return models.Record{}, wrapUnavailable(err)
	}
	var rec models.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.Record{}, errors.Wrapf(err, "decode record %q", key)
	}
	return rec, nil
}

func (r *RedisStore) PutIfAbsentOrExpired(ctx context.Context, rec models.Record, now time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	ok, err := acquireScript.Run(ctx, r.rdb, []string{rec.Key},
		string(payload), now.Unix(), r.retention(rec, now).Milliseconds()).Int()
	if err != nil {
		return wrapUnavailable(err)
	}
	if ok == 0 {
		return ErrConflict
	}
	return nil
}

func (r *RedisStore) Put(ctx context.Context, rec models.Record) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	if err := r.rdb.Set(ctx, rec.Key, payload, r.retention(rec, r.now())).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return wrapUnavailable(r.rdb.Ping(ctx).Err())
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

func (r *RedisStore) retention(rec models.Record, now time.Time) time.Duration {
	d := rec.Expiry().Sub(now) + redisGrace
	if d < redisGrace {
		d = redisGrace
	}
	return d
}
