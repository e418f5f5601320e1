package port

import "context"

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key whose request failed so the client may retry
	ReleaseIdempotency(ctx context.Context, key string) error

	// PublishConfirmed announces that an order entered PAYMENT_CONFIRMED
	PublishConfirmed(ctx context.Context, orderID int64) error

	// SubscribeConfirmed delivers announced order ids until ctx is done
	SubscribeConfirmed(ctx context.Context) (<-chan int64, error)
}
