package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const redisPrefix = "kestrel:model:"

// saveScript allocates the next version and publishes the artifact and its
// metadata in one step.
var saveScript = redis.NewScript(`
	local v = redis.call('INCR', KEYS[1])
	redis.call('SET', ARGV[2] .. v, ARGV[1])
	redis.call('HSET', KEYS[2], 'version', v, 'size', string.len(ARGV[1]), 'created_at', ARGV[4])
	redis.call('SADD', KEYS[3], ARGV[3])
	return v
`)

// RedisStore implements domain.ModelStore using Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Save stores the artifact as the next version of name.
func (s *RedisStore) Save(ctx context.Context, name string, artifact []byte) (int64, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	if err := checkArtifact(artifact); err != nil {
		return 0, err
	}

	keys := []string{s.seqKey(name), s.latestKey(name), s.indexKey()}
	version, err := saveScript.Run(ctx, s.client, keys,
		artifact, s.artifactPrefix(name), name, time.Now().UTC().UnixMilli(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to save artifact: %w", err)
	}
	return version, nil
}

// Load returns the highest version stored under name.
func (s *RedisStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	version, err := s.client.HGet(ctx, s.latestKey(name), "version").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.artifactPrefix(name)+version).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// List returns the latest version of every artifact, sorted by name.
func (s *RedisStore) List(ctx context.Context) ([]domain.ArtifactInfo, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]domain.ArtifactInfo, 0, len(names))
	for _, name := range names {
		meta, err := s.client.HGetAll(ctx, s.latestKey(name)).Result()
		if err != nil {
			return nil, err
		}
		if len(meta) == 0 {
			continue
		}

		version, _ := strconv.ParseInt(meta["version"], 10, 64)
		size, _ := strconv.Atoi(meta["size"])
		createdMs, _ := strconv.ParseInt(meta["created_at"], 10, 64)

		out = append(out, domain.ArtifactInfo{
			Name:      name,
			Version:   version,
			Size:      size,
			CreatedAt: time.UnixMilli(createdMs).UTC(),
		})
	}
	return out, nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) seqKey(name string) string         { return redisPrefix + name + ":seq" }
func (s *RedisStore) latestKey(name string) string      { return redisPrefix + name + ":latest" }
func (s *RedisStore) artifactPrefix(name string) string { return redisPrefix + name + ":v:" }
func (s *RedisStore) indexKey() string                  { return redisPrefix + "index" }
