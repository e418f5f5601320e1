package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix = "idem:order:"
	idempotencyKeyTTL    = 24 * time.Hour
	confirmedChannel     = "orders:confirmed"
)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

func (r *RedisAdapter) PublishConfirmed(ctx context.Context, orderID int64) error {
	return r.client.Publish(ctx, confirmedChannel, strconv.FormatInt(orderID, 10)).Err()
}

func (r *RedisAdapter) SubscribeConfirmed(ctx context.Context) (<-chan int64, error) {
	sub := r.client.Subscribe(ctx, confirmedChannel)
	// wait for the subscription ack so no publish after return is missed
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan int64, 16)
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
					return
				}
				id, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					continue
				}
				select {
				case out <- id:
				default:
					// a nudge is already pending; the poll will pick this order up too
				}
			}
		}
	}()
	return out, nil
}
