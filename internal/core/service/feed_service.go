package service

import (
	"context"
	"sync"
	"time"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/logger"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/port"
)

// FeedSink delivers one order to a connected kitchen or serving display.
type FeedSink interface {
	Send(ctx context.Context, order domain.Order) error
}

// FeedService streams newly confirmed orders to staff displays.
type FeedService struct {
	db       port.DatabaseRepository
	cache    port.CacheRepository
	interval time.Duration
	log      *logger.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

func NewFeedService(db port.DatabaseRepository, cache port.CacheRepository, interval time.Duration, log *logger.Logger) *FeedService {
	return &FeedService{
		db:       db,
		cache:    cache,
		interval: interval,
		log:      log,
		closed:   make(chan struct{}),
	}
}

// Close ends every open stream and makes later Stream calls return at once.
// Call it before shutting down the servers; feed connections never go idle.
func (s *FeedService) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Stream sends every PAYMENT_CONFIRMED order with an id above the connection's
// watermark, oldest first, until ctx is done, the service is closed or the sink
// fails. Each call starts from watermark zero, so a new connection receives the
// whole confirmed backlog.
func (s *FeedService) Stream(ctx context.Context, sink FeedSink) error {
	requestID := logger.RequestID(ctx)

	select {
	case <-s.closed:
		return nil
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	nudges, err := s.cache.SubscribeConfirmed(ctx)
	if err != nil {
		s.log.Warn("feed_stream", "confirmation signal unavailable, polling only", requestID, err, nil)
		nudges = nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var watermark int64
	for {
		orders, err := s.db.ListOrders(ctx, port.OrderQuery{
			Statuses: []domain.OrderStatus{domain.OrderStatusPaymentConfirmed},
			AfterID:  watermark,
		})
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			s.log.Error("feed_stream", "failed to poll confirmed orders", requestID, err, nil)
		}

		for _, order := range orders {
			if err := sink.Send(ctx, order); err != nil {
				return err
			}
			watermark = order.ID
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case _, ok := <-nudges:
			if !ok {
				nudges = nil
			}
		}
	}
}
