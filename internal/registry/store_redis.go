package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisDocKey = "duel:users"

// RedisStore keeps the whole registry document as a single JSON value. The
// one-key layout preserves the full-load/full-rewrite contract while letting
// deployments share state across restarts.
type RedisStore struct {
	rdb *redis.Client
	key string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, key: redisDocKey}, nil
}

func (s *RedisStore) Load(ctx context.Context) (Document, error) {
	raw, err := s.rdb.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return make(Document), nil
	}
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode registry document: %w", err)
	}
	if doc == nil {
		doc = make(Document)
	}
	return doc, nil
}

func (s *RedisStore) Save(ctx context.Context, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key, raw, 0).Err()
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
