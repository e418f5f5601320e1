package port

import (
	"context"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
)

type EventPublisher interface {
	// Publish is called after commit; failures must not undo the change
	Publish(ctx context.Context, event domain.OrderEvent) error
	Close() error
}
