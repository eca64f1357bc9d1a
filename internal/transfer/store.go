package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
)

// DirectoryStore guarda los tokens en el Directory.
type DirectoryStore struct {
	dir repository.Directory
}

func NewDirectoryStore(dir repository.Directory) *DirectoryStore {
	return &DirectoryStore{dir: dir}
}

func (s *DirectoryStore) Put(ctx context.Context, t repository.TransferToken) error {
	return s.dir.CreateSessionTransferToken(ctx, t)
}

func (s *DirectoryStore) Take(ctx context.Context, token string) (*repository.TransferToken, error) {
	return s.dir.ConsumeSessionTransferToken(ctx, token)
}

// RedisStore guarda los tokens en Redis: SET NX EX al emitir, GETDEL al canjear
// y un tombstone corto para distinguir reuso de token desconocido. Requiere Redis >= 6.2.
type RedisStore struct {
	client       rdb.UniversalClient
	prefix       string
	grace        time.Duration
	tombstoneTTL time.Duration
}

func NewRedisStore(client rdb.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "crossauth:xfer:"
	}
	return &RedisStore{client: client, prefix: prefix, grace: time.Minute, tombstoneTTL: 10 * time.Minute}
}

type redisToken struct {
	UserID       string `json:"uid"`
	TenantID     string `json:"tid"`
	TargetDomain string `json:"dom"`
	CallbackPath string `json:"cb"`
	Context      string `json:"ctx"`
	ExpiresAt    int64  `json:"exp"`
	CreatedAt    int64  `json:"iat"`
}

func (s *RedisStore) Put(ctx context.Context, t repository.TransferToken) error {
	b, err := json.Marshal(redisToken{
		UserID:       t.UserID,
		TenantID:     t.TenantID,
		TargetDomain: t.TargetDomain,
		CallbackPath: t.CallbackPath,
		Context:      string(t.Context),
		ExpiresAt:    t.ExpiresAt.UnixMilli(),
		CreatedAt:    t.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return err
	}
	// la key sobrevive un poco al vencimiento para poder reportar "expired"
	ttl := t.ExpiresAt.Sub(t.CreatedAt) + s.grace
	ok, err := s.client.SetNX(ctx, s.key(t.Token), b, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return repository.ErrConflict
	}
	return nil
}

// takeScript: GETDEL + tombstone en un solo paso; -1 si ya fue usado.
var takeScript = rdb.NewScript(`
local v = redis.call('GETDEL', KEYS[1])
if v then
	redis.call('SET', KEYS[2], '1', 'EX', ARGV[1])
	return v
end
if redis.call('EXISTS', KEYS[2]) == 1 then
	return -1
end
return false
`)

func (s *RedisStore) Take(ctx context.Context, token string) (*repository.TransferToken, error) {
	res, err := takeScript.Run(ctx, s.client,
		[]string{s.key(token), s.tombstone(token)},
		int(s.tombstoneTTL/time.Second),
	).Result()
	if errors.Is(err, rdb.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis take: %w", err)
	}
	raw, ok := res.(string)
	if !ok {
		return nil, repository.ErrAlreadyConsumed
	}

	var rt redisToken
	if err := json.Unmarshal([]byte(raw), &rt); err != nil {
		return nil, fmt.Errorf("redis token decode: %w", err)
	}
	return &repository.TransferToken{
		Token:        token,
		UserID:       rt.UserID,
		TenantID:     rt.TenantID,
		TargetDomain: rt.TargetDomain,
		CallbackPath: rt.CallbackPath,
		Context:      repository.AuthContext(rt.Context),
		ExpiresAt:    time.UnixMilli(rt.ExpiresAt),
		CreatedAt:    time.UnixMilli(rt.CreatedAt),
	}, nil
}

// key y tombstone comparten hash tag para caer en el mismo slot de Redis Cluster.
func (s *RedisStore) key(token string) string { return s.prefix + "{" + token + "}" }

func (s *RedisStore) tombstone(token string) string { return s.prefix + "used:{" + token + "}" }
