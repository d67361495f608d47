package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hunter-swarm/backend/internal/queue"
	"github.com/hunter-swarm/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

var _ queue.Store = (*Client)(nil)

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis queue store initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrStoreUnavailable, err)
	}
	return nil
}

func (c *Client) Push(ctx context.Context, queueName string, payload []byte) error {
	err := c.client.RPush(ctx, queueKey(queueName), payload).Err()
	if err != nil {
		return fmt.Errorf("%w: push to %s: %v", queue.ErrStoreUnavailable, queueName, err)
	}
	return nil
}

func (c *Client) Move(ctx context.Context, from, to string) ([]byte, error) {
	payload, err := c.client.LMove(ctx, queueKey(from), queueKey(to), "LEFT", "RIGHT").Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: move %s -> %s: %v", queue.ErrStoreUnavailable, from, to, err)
	}
	return payload, nil
}

func (c *Client) Ack(ctx context.Context, queueName string, payload []byte) error {
	err := c.client.LRem(ctx, queueKey(queueName), 1, payload).Err()
	if err != nil {
		return fmt.Errorf("%w: ack on %s: %v", queue.ErrStoreUnavailable, queueName, err)
	}
	return nil
}

func (c *Client) Depth(ctx context.Context, queueName string) (int64, error) {
	depth, err := c.client.LLen(ctx, queueKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: depth of %s: %v", queue.ErrStoreUnavailable, queueName, err)
	}
	return depth, nil
}

func (c *Client) SetAdd(ctx context.Context, set, member string) error {
	err := c.client.SAdd(ctx, setKey(set), member).Err()
	if err != nil {
		return fmt.Errorf("%w: sadd %s: %v", queue.ErrStoreUnavailable, set, err)
	}
	return nil
}

func (c *Client) SetRemove(ctx context.Context, set, member string) error {
	err := c.client.SRem(ctx, setKey(set), member).Err()
	if err != nil {
		return fmt.Errorf("%w: srem %s: %v", queue.ErrStoreUnavailable, set, err)
	}
	return nil
}

func (c *Client) SetContains(ctx context.Context, set, member string) (bool, error) {
	ok, err := c.client.SIsMember(ctx, setKey(set), member).Result()
	if err != nil {
		return false, fmt.Errorf("%w: sismember %s: %v", queue.ErrStoreUnavailable, set, err)
	}
	return ok, nil
}

func (c *Client) SetMembers(ctx context.Context, set string) ([]string, error) {
	members, err := c.client.SMembers(ctx, setKey(set)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: smembers %s: %v", queue.ErrStoreUnavailable, set, err)
	}
	return members, nil
}

func (c *Client) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	claimed, err := c.client.SetNX(ctx, markKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", queue.ErrStoreUnavailable, key, err)
	}
	return claimed, nil
}

func (c *Client) Incr(ctx context.Context, counter string, ttl time.Duration) (int64, error) {
	val, err := c.client.Incr(ctx, counterKey(counter)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incr %s: %v", queue.ErrStoreUnavailable, counter, err)
	}
	if val == 1 && ttl > 0 {
		if err := c.client.Expire(ctx, counterKey(counter), ttl).Err(); err != nil {
			logger.Warn("Failed to set counter TTL", zap.String("counter", counter), zap.Error(err))
		}
	}
	return val, nil
}

func (c *Client) Counter(ctx context.Context, counter string) (int64, error) {
	val, err := c.client.Get(ctx, counterKey(counter)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get %s: %v", queue.ErrStoreUnavailable, counter, err)
	}
	return val, nil
}

func (c *Client) CacheSet(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	err = c.client.Set(ctx, cacheKey(key), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", queue.ErrStoreUnavailable, key, err)
	}
	return nil
}

func (c *Client) CacheGet(ctx context.Context, key string, value interface{}) (bool, error) {
	data, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %v", queue.ErrStoreUnavailable, key, err)
	}

	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

func queueKey(name string) string   { return "queue:" + name }
func setKey(name string) string     { return "set:" + name }
func markKey(name string) string    { return "mark:" + name }
func counterKey(name string) string { return "counter:" + name }
func cacheKey(name string) string   { return "cache:" + name }
