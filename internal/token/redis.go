package token

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	appErr "runbox/pkg/errors"

	"github.com/redis/go-redis/v9"
)

const (
	entriesKey      = "runbox:entries"
	expiryKey       = "runbox:expiry"
	workspacePrefix = "runbox:ws:"
)

// RedisConfig holds connection settings for the Redis-backed registry.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RedisRegistry stores entries in Redis so multiple instances can share one
// token space. Entries live in a hash, expiries in a sorted set keyed by
// unix time, and each workspace keeps a set of its tokens.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry connects and pings the Redis server.
func NewRedisRegistry(cfg RedisConfig) (*RedisRegistry, error) {
	if cfg.Addr == "" {
		return nil, appErr.Newf(appErr.RegistryError, "redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, appErr.Wrapf(err, appErr.RegistryError, "ping redis failed")
	}
	return &RedisRegistry{client: client}, nil
}

// NewRedisRegistryFromClient wraps an existing client (used by tests).
func NewRedisRegistryFromClient(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// Close releases the underlying connection pool.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func (r *RedisRegistry) Mint(ctx context.Context, entry Entry, ttl time.Duration) (Entry, error) {
	tok, err := NewToken()
	if err != nil {
		return Entry{}, err
	}
	entry.Token = tok
	entry.ExpiresAt = time.Now().Add(ttl)

	payload, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, appErr.Wrapf(err, appErr.RegistryError, "marshal entry failed")
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, entriesKey, tok, payload)
	pipe.ZAdd(ctx, expiryKey, redis.Z{Score: float64(entry.ExpiresAt.Unix()), Member: tok})
	pipe.SAdd(ctx, workspacePrefix+entry.WorkspaceID, tok)
	if _, err := pipe.Exec(ctx); err != nil {
		return Entry{}, appErr.Wrapf(err, appErr.RegistryError, "record entry failed")
	}
	return entry, nil
}

func (r *RedisRegistry) Resolve(ctx context.Context, tok string) (Entry, error) {
	payload, err := r.client.HGet(ctx, entriesKey, tok).Result()
	if err == redis.Nil {
		return Entry{}, appErr.New(appErr.TokenNotFound)
	}
	if err != nil {
		return Entry{}, appErr.Wrapf(err, appErr.RegistryError, "resolve token failed")
	}
	var entry Entry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return Entry{}, appErr.Wrapf(err, appErr.RegistryError, "unmarshal entry failed")
	}
	if entry.Expired(time.Now()) {
		return Entry{}, appErr.New(appErr.TokenExpired)
	}
	return entry, nil
}

func (r *RedisRegistry) RevokeWorkspace(ctx context.Context, workspaceID string) ([]Entry, error) {
	setKey := workspacePrefix + workspaceID
	toks, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RegistryError, "list workspace tokens failed")
	}
	revoked, err := r.fetchEntries(ctx, toks)
	if err != nil {
		return nil, err
	}
	pipe := r.client.TxPipeline()
	for _, tok := range toks {
		pipe.HDel(ctx, entriesKey, tok)
		pipe.ZRem(ctx, expiryKey, tok)
	}
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, appErr.Wrapf(err, appErr.RegistryError, "revoke workspace failed")
	}
	return revoked, nil
}

func (r *RedisRegistry) WorkspaceEntries(ctx context.Context, workspaceID string) ([]Entry, error) {
	toks, err := r.client.SMembers(ctx, workspacePrefix+workspaceID).Result()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RegistryError, "list workspace tokens failed")
	}
	entries, err := r.fetchEntries(ctx, toks)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	live := entries[:0]
	for _, entry := range entries {
		if !entry.Expired(now) {
			live = append(live, entry)
		}
	}
	return live, nil
}

func (r *RedisRegistry) Sweep(ctx context.Context, now time.Time) ([]Entry, error) {
	toks, err := r.client.ZRangeByScore(ctx, expiryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: formatUnix(now),
	}).Result()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RegistryError, "list expired tokens failed")
	}
	expired, err := r.fetchEntries(ctx, toks)
	if err != nil {
		return nil, err
	}
	pipe := r.client.TxPipeline()
	for _, entry := range expired {
		pipe.HDel(ctx, entriesKey, entry.Token)
		pipe.ZRem(ctx, expiryKey, entry.Token)
		pipe.SRem(ctx, workspacePrefix+entry.WorkspaceID, entry.Token)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, appErr.Wrapf(err, appErr.RegistryError, "sweep expired tokens failed")
	}
	return expired, nil
}

func (r *RedisRegistry) Live(ctx context.Context) (int, error) {
	n, err := r.client.ZCount(ctx, expiryKey, "("+formatUnix(time.Now()), "+inf").Result()
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.RegistryError, "count live tokens failed")
	}
	return int(n), nil
}

func (r *RedisRegistry) fetchEntries(ctx context.Context, toks []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(toks))
	for _, tok := range toks {
		payload, err := r.client.HGet(ctx, entriesKey, tok).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.RegistryError, "fetch entry failed")
		}
		var entry Entry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, appErr.Wrapf(err, appErr.RegistryError, "unmarshal entry failed")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func formatUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
