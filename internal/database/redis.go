package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ticketlane/insights/internal/config"
	"github.com/ticketlane/insights/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisDB wraps the Redis client backing the cache and presence layers.
type RedisDB struct {
	Client *redis.Client
	logger *zap.Logger
}

// NewRedisDB creates a new Redis client connection.
func NewRedisDB(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: 100,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
	)

	return &RedisDB{
		Client: client,
		logger: logger,
	}, nil
}

// WithMetrics installs a latency hook on the client. Presence sweeps and
// cache reads dominate the command mix; the per-command histogram is what
// separates them.
func (r *RedisDB) WithMetrics(m *metrics.Metrics) *RedisDB {
	if m != nil {
		r.Client.AddHook(latencyHook{metrics: m})
	}
	return r
}

type latencyHook struct {
	metrics *metrics.Metrics
}

func (h latencyHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h latencyHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		started := time.Now()
		err := next(ctx, cmd)
		h.metrics.RedisLatency.WithLabelValues(cmd.Name()).Observe(time.Since(started).Seconds())
		return err
	}
}

func (h latencyHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		started := time.Now()
		err := next(ctx, cmds)
		h.metrics.RedisLatency.WithLabelValues("pipeline").Observe(time.Since(started).Seconds())
		return err
	}
}

// Close closes the Redis connection.
func (r *RedisDB) Close() error {
	if r.Client != nil {
		r.logger.Info("Redis connection closed")
		return r.Client.Close()
	}
	return nil
}

// Health checks if Redis is reachable.
func (r *RedisDB) Health(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}
