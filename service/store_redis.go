package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/model"
)

const (
	batchKeyPrefix  = "batch:status:"
	maxWatchRetries = 10
)

// RedisBatchStore shares batch records between several server instances.
// Completed records expire after ttl when ttl > 0; running ones never do.
type RedisBatchStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBatchStore(ctx context.Context, cfg *config.StoreConfig) (*RedisBatchStore, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	slog.Info("batch store initialized", "backend", "redis", "addr", cfg.RedisAddr, "ttl", cfg.BatchTTL)
	return NewRedisBatchStoreWithClient(client, cfg.BatchTTL), nil
}

func NewRedisBatchStoreWithClient(client *redis.Client, ttl time.Duration) *RedisBatchStore {
	return &RedisBatchStore{client: client, ttl: ttl}
}

func batchKey(id string) string {
	return batchKeyPrefix + id
}

// expiry is the key TTL to use for rec; 0 keeps the key forever.
func (s *RedisBatchStore) expiry(rec *model.BatchRecord) time.Duration {
	if rec.Done() {
		return s.ttl
	}
	return 0
}

func (s *RedisBatchStore) Create(ctx context.Context, rec *model.BatchRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, batchKey(rec.BatchID), data, s.expiry(rec)).Result()
	if err != nil {
		return fmt.Errorf("create batch %s: %w", rec.BatchID, err)
	}
	if !ok {
		return fmt.Errorf("batch %s already exists", rec.BatchID)
	}
	return nil
}

func (s *RedisBatchStore) Update(ctx context.Context, id string, fn func(*model.BatchRecord)) (*model.BatchRecord, error) {
	key := batchKey(id)
	var updated *model.BatchRecord

	txf := func(tx *redis.Tx) error {
		rec, err := getRecord(ctx, tx, key, id)
		if err != nil {
			return err
		}
		fn(rec)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.expiry(rec))
			return nil
		})
		if err == nil {
			updated = rec
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update batch %s: too many concurrent writers", id)
}

func (s *RedisBatchStore) Get(ctx context.Context, id string) (*model.BatchRecord, error) {
	return getRecord(ctx, s.client, batchKey(id), id)
}

func (s *RedisBatchStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, batchKey(id)).Err()
}

// PruneCompleted removes completed batches that finished before the cutoff.
func (s *RedisBatchStore) PruneCompleted(ctx context.Context, before time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, batchKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		rec, err := getRecord(ctx, s.client, key, key)
		if err != nil {
			continue
		}
		if rec.Done() && rec.CompletedAt != nil && rec.CompletedAt.Before(before) {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, iter.Err()
}

func (s *RedisBatchStore) Count(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, batchKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

func (s *RedisBatchStore) Close() error {
	return s.client.Close()
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getRecord(ctx context.Context, c stringGetter, key, id string) (*model.BatchRecord, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var rec model.BatchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", id, err)
	}
	return rec.Clone(), nil
}
