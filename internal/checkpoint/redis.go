package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps cursors in redis so restarts resume where the last
// successful persist left off.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// RedisConfig carries the connection settings for the cursor store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore dials redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return &RedisStore{client: client, logger: logger}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, process string, chainID uint64, vammAddress string) (Cursor, bool, error) {
	value, err := s.client.Get(ctx, CursorKey(process, chainID, vammAddress)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Cursor{}, false, nil
		}
		return Cursor{}, false, fmt.Errorf("get cursor: %w", err)
	}

	block, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return Cursor{}, false, fmt.Errorf("parse cursor %q: %w", value, err)
	}
	return Cursor{BlockNumber: block}, true, nil
}

func (s *RedisStore) Set(ctx context.Context, process string, chainID uint64, vammAddress string, blockNumber uint64) error {
	key := CursorKey(process, chainID, vammAddress)
	if err := s.client.Set(ctx, key, strconv.FormatUint(blockNumber, 10), 0).Err(); err != nil {
		return fmt.Errorf("set cursor %s: %w", key, err)
	}
	return nil
}
