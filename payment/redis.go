package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/tutorhub/tutorhub-go-sdk/logger"
)

// RedisMailbox is a Mailbox shared across processes: values are plain keys
// with a TTL, and every Set is also published on a channel named after the
// key so watchers in other processes wake up.
type RedisMailbox struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisMailbox wraps a connected client. Keys are namespaced with prefix.
func NewRedisMailbox(client *redis.Client, prefix string, ttl time.Duration, log *logger.Logger) *RedisMailbox {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisMailbox{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		log:    logger.OrNop(log).Named("mailbox"),
	}
}

// NewRedisClient builds a client from an address and checks it responds.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (m *RedisMailbox) key(k string) string     { return m.prefix + k }
func (m *RedisMailbox) channel(k string) string { return m.prefix + "notify:" + k }

// Get implements Mailbox.
func (m *RedisMailbox) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := m.client.Get(ctx, m.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set implements Mailbox. The value is stored with the TTL and published
// in one transaction.
func (m *RedisMailbox) Set(ctx context.Context, key, value string) error {
	_, err := m.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, m.key(key), value, m.ttl)
		p.Publish(ctx, m.channel(key), value)
		return nil
	})
	return err
}

// Delete implements Mailbox.
func (m *RedisMailbox) Delete(ctx context.Context, key string) error {
	return m.client.Del(ctx, m.key(key)).Err()
}

// Watch implements Mailbox. It returns once the subscription is confirmed.
func (m *RedisMailbox) Watch(ctx context.Context, key string) (<-chan string, error) {
	sub := m.client.Subscribe(ctx, m.channel(key))
	// Wait for the subscription to be confirmed so no Set is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	out := make(chan string, 8)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					m.log.Warn("mailbox subscription closed", zap.String("key", key))
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
