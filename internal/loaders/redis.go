package loaders

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

// RedisOptions selects the server. URL wins over the discrete fields.
type RedisOptions struct {
	URL      string
	Host     string
	Port     string
	Password string
	DB       int

	// BufferTTL is refreshed on every append so abandoned buffers expire.
	BufferTTL time.Duration
}

// RedisClient is the keyed list store behind message aggregation.
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClient(opts RedisOptions) (*RedisClient, error) {
	var ro *redis.Options
	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		ro = parsed
	} else {
		ro = &redis.Options{
			Addr:     net.JoinHostPort(opts.Host, opts.Port),
			Password: opts.Password,
			DB:       opts.DB,
		}
	}

	client := redis.NewClient(ro)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", ro.Addr, err)
	}

	utils.Zlog.Info("Connected to Redis", zap.String("addr", ro.Addr), zap.Int("db", ro.DB))
	return NewRedisClientFrom(client, opts.BufferTTL), nil
}

// NewRedisClientFrom wraps an existing client without pinging it.
func NewRedisClientFrom(client *redis.Client, ttl time.Duration) *RedisClient {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisClient{client: client, ttl: ttl}
}

// Append pushes value to the tail of the list at key and refreshes its expiry.
func (r *RedisClient) Append(ctx context.Context, key, value string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, value)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

// ReadRange returns list elements start..end inclusive; end -1 reads to the tail.
func (r *RedisClient) ReadRange(ctx context.Context, key string, start, end int64) ([]string, error) {
	values, err := r.client.LRange(ctx, key, start, end).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return values, nil
}

func (r *RedisClient) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (r *RedisClient) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

// SetString and GetString back the connectivity round trip on /test/redis.
func (r *RedisClient) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// GetString returns ErrNotFound for a missing key.
func (r *RedisClient) GetString(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
