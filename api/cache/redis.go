package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	constants "multisource-digest/api/constants"
	models "multisource-digest/api/models"
)

// RedisStore keeps each entry as a JSON value and indexes keys by timestamp
// in a sorted set for eviction.
type RedisStore struct {
	rdb *redis.Client
}

// OpenRedis connects using a redis:// or rediss:// URL.
func OpenRedis(ctx context.Context, url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}
	constants.Logger.Info("Connected to Redis", "addr", opt.Addr)
	return NewRedisStore(rdb), nil
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func redisKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return constants.RedisKeyPrefix + hex.EncodeToString(sum[:])
}

func (s *RedisStore) Get(ctx context.Context, prompt string) (models.CacheEntry, bool, error) {
	data, err := s.rdb.Get(ctx, redisKey(prompt)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, err
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("decode entry: %w", err)
	}
	if entry.Prompt != prompt {
		return models.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (s *RedisStore) Put(ctx context.Context, entry models.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	key := redisKey(entry.Prompt)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, data, 0)
		p.ZAdd(ctx, constants.RedisIndexKey, redis.Z{Score: float64(entry.Timestamp), Member: key})
		return nil
	})
	return err
}

func (s *RedisStore) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	keys, err := s.rdb.ZRangeByScore(ctx, constants.RedisIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan index: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	var del *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, keys...)
		p.ZRem(ctx, constants.RedisIndexKey, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return del.Val(), nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
