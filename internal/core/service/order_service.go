package service

import (
	"context"
	"fmt"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/logger"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/port"
)

type OrderService struct {
	db     port.DatabaseRepository
	cache  port.CacheRepository
	events port.EventPublisher
	log    *logger.Logger
}

func NewOrderService(db port.DatabaseRepository, cache port.CacheRepository, events port.EventPublisher, log *logger.Logger) *OrderService {
	return &OrderService{
		db:     db,
		cache:  cache,
		events: events,
		log:    log,
	}
}

// ServeResult reports the outcome of marking one line item served.
type ServeResult struct {
	OrderID      int64
	ItemID       int64
	OrderStatus  domain.OrderStatus
	CompletedNow bool
}

// OrderPage is one page of the cashier's order list, newest first.
type OrderPage struct {
	Orders []domain.Order
	Page   int
	Size   int
	Total  int
}

// Submit places a customer order in AWAITING_PAYMENT and reserves its stock.
func (s *OrderService) Submit(ctx context.Context, in PlaceOrderInput) (*domain.Order, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" {
		key := fmt.Sprintf("%d:%s", in.TableID, in.IdempotencyKey)
		ok, err := s.cache.SetIdempotency(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}

		order, err := s.place(ctx, in, domain.OrderStatusAwaitingPayment)
		if err != nil {
			if relErr := s.cache.ReleaseIdempotency(ctx, key); relErr != nil {
				s.log.Warn("submit_order", "failed to release idempotency key", logger.RequestID(ctx), relErr, map[string]any{"key": key})
			}
			return nil, err
		}
		return order, nil
	}

	return s.place(ctx, in, domain.OrderStatusAwaitingPayment)
}

// CreateManual places a cashier order that was paid out of band.
func (s *OrderService) CreateManual(ctx context.Context, in PlaceOrderInput) (*domain.Order, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return s.place(ctx, in, domain.OrderStatusPaymentConfirmed)
}

func (s *OrderService) place(ctx context.Context, in PlaceOrderInput, status domain.OrderStatus) (*domain.Order, error) {
	var created *domain.Order
	err := s.db.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.LockTable(ctx, in.TableID); err != nil {
			return err
		}

		qty := requestedQuantities(in.Items)
		menus, err := lockMenus(ctx, tx, qty)
		if err != nil {
			return err
		}

		order := &domain.Order{
			TableID:       in.TableID,
			DepositorName: in.DepositorName,
			Status:        status,
			Items:         menus.buildItems(in.Items),
		}
		order.Recalculate()

		if err := menus.reserve(ctx, tx, qty, checkReservable); err != nil {
			return err
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.SetTableOccupied(ctx, in.TableID, true); err != nil {
			return err
		}

		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("place_order", "order created", logger.RequestID(ctx), map[string]any{
		"order_id": created.ID,
		"table_id": created.TableID,
		"status":   created.Status,
		"total":    created.TotalAmount.String(),
	})
	s.publish(ctx, created, "")
	if status == domain.OrderStatusPaymentConfirmed {
		s.signalConfirmed(ctx, created.ID)
	}
	return created, nil
}

// ConfirmPayment moves an AWAITING_PAYMENT order to PAYMENT_CONFIRMED.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID int64) (*domain.Order, error) {
	if err := validateID("order_id", orderID); err != nil {
		return nil, err
	}

	var confirmed *domain.Order
	err := s.db.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := domain.CheckTransition(order.Status, domain.OrderStatusPaymentConfirmed); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, orderID, domain.OrderStatusPaymentConfirmed); err != nil {
			return err
		}

		order.Status = domain.OrderStatusPaymentConfirmed
		confirmed = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, confirmed, domain.OrderStatusAwaitingPayment)
	s.signalConfirmed(ctx, confirmed.ID)
	return confirmed, nil
}

// MarkItemServed flags one line item and completes the order when it was the last one.
func (s *OrderService) MarkItemServed(ctx context.Context, itemID int64) (*ServeResult, error) {
	if err := validateID("order_detail_id", itemID); err != nil {
		return nil, err
	}

	var (
		result    *ServeResult
		completed *domain.Order
	)
	err := s.db.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		result, completed = nil, nil

		item, err := tx.FindOrderItem(ctx, itemID)
		if err != nil {
			return err
		}

		// the order lock serializes every serve on this order
		order, err := tx.LockOrder(ctx, item.OrderID)
		if err != nil {
			return err
		}

		current, ok := findItem(order.Items, itemID)
		if !ok {
			return fmt.Errorf("%w: order item %d", domain.ErrNotFound, itemID)
		}
		if current.Served {
			result = &ServeResult{OrderID: order.ID, ItemID: itemID, OrderStatus: order.Status}
			return nil
		}
		if order.Status != domain.OrderStatusPaymentConfirmed {
			return fmt.Errorf("%w: order %d is %s", domain.ErrInvalidState, order.ID, order.Status)
		}

		if err := tx.MarkItemServed(ctx, itemID); err != nil {
			return err
		}
		remaining, err := tx.CountUnservedItems(ctx, order.ID)
		if err != nil {
			return err
		}

		result = &ServeResult{OrderID: order.ID, ItemID: itemID, OrderStatus: order.Status}
		if remaining > 0 {
			return nil
		}

		if err := domain.CheckTransition(order.Status, domain.OrderStatusCompleted); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCompleted); err != nil {
			return err
		}
		order.Status = domain.OrderStatusCompleted
		result.OrderStatus = order.Status
		result.CompletedNow = true
		completed = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	if completed != nil {
		s.log.Info("serve_item", "order completed", logger.RequestID(ctx), map[string]any{"order_id": completed.ID})
		s.publish(ctx, completed, domain.OrderStatusPaymentConfirmed)
	}
	return result, nil
}

// CompleteOrder marks every item served and completes the order. Repeating it is harmless.
func (s *OrderService) CompleteOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	if err := validateID("order_id", orderID); err != nil {
		return nil, err
	}

	var (
		order     *domain.Order
		changedBy domain.OrderStatus
	)
	err := s.db.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		changedBy = ""

		switch order.Status {
		case domain.OrderStatusCompleted:
		case domain.OrderStatusPaymentConfirmed:
			changedBy = order.Status
		default:
			return fmt.Errorf("%w: cannot complete order %d in %s", domain.ErrInvalidState, orderID, order.Status)
		}

		if err := tx.MarkAllItemsServed(ctx, orderID); err != nil {
			return err
		}
		if changedBy != "" {
			if err := tx.UpdateOrderStatus(ctx, orderID, domain.OrderStatusCompleted); err != nil {
				return err
			}
		}

		order.Status = domain.OrderStatusCompleted
		for i := range order.Items {
			order.Items[i].Served = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changedBy != "" {
		s.publish(ctx, order, changedBy)
	}
	return order, nil
}

// Cancel cancels an open order and returns its reserved stock.
func (s *OrderService) Cancel(ctx context.Context, orderID int64) (*domain.Order, error) {
	if err := validateID("order_id", orderID); err != nil {
		return nil, err
	}

	var (
		order *domain.Order
		from  domain.OrderStatus
	)
	err := s.db.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status

		if err := domain.CheckTransition(order.Status, domain.OrderStatusCancelled); err != nil {
			return err
		}

		reserved := order.Reservations()
		menus, err := lockMenus(ctx, tx, reserved)
		if err != nil {
			return err
		}
		if err := menus.release(ctx, tx, reserved); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, orderID, domain.OrderStatusCancelled); err != nil {
			return err
		}

		order.Status = domain.OrderStatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("cancel_order", "order cancelled", logger.RequestID(ctx), map[string]any{"order_id": orderID, "from": from})
	s.publish(ctx, order, from)
	return order, nil
}

// EditItems replaces an open order's items at current menu prices. The status is kept.
func (s *OrderService) EditItems(ctx context.Context, orderID int64, items []domain.ItemRequest) (*domain.Order, error) {
	if err := validateID("order_id", orderID); err != nil {
		return nil, err
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}

	var edited *domain.Order
	err := s.db.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return fmt.Errorf("%w: order %d is %s", domain.ErrInvalidState, orderID, order.Status)
		}

		reserved := order.Reservations()
		requested := requestedQuantities(items)
		menus, err := lockMenus(ctx, tx, reserved, requested)
		if err != nil {
			return err
		}

		if err := menus.release(ctx, tx, reserved); err != nil {
			return err
		}
		if err := menus.reserve(ctx, tx, requested, checkStock); err != nil {
			return err
		}

		order.Items = menus.buildItems(items)
		order.Recalculate()
		if err := tx.ReplaceOrderItems(ctx, order); err != nil {
			return err
		}

		edited = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("edit_order", "order items replaced", logger.RequestID(ctx), map[string]any{
		"order_id": orderID,
		"items":    len(edited.Items),
		"total":    edited.TotalAmount.String(),
	})
	return edited, nil
}

// OverrideStatus sets any status without transition checks. Stock follows the move
// into or out of CANCELLED.
func (s *OrderService) OverrideStatus(ctx context.Context, orderID int64, target string) (*domain.Order, error) {
	if err := validateID("order_id", orderID); err != nil {
		return nil, err
	}
	status, err := domain.ParseOrderStatus(target)
	if err != nil {
		return nil, err
	}

	var (
		order *domain.Order
		from  domain.OrderStatus
	)
	err = s.db.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status
		if from == status {
			return nil
		}

		if status == domain.OrderStatusCancelled || from == domain.OrderStatusCancelled {
			reserved := order.Reservations()
			menus, err := lockMenus(ctx, tx, reserved)
			if err != nil {
				return err
			}
			if status == domain.OrderStatusCancelled {
				err = menus.release(ctx, tx, reserved)
			} else {
				err = menus.reserve(ctx, tx, reserved, checkStock)
			}
			if err != nil {
				return err
			}
		}

		if err := tx.UpdateOrderStatus(ctx, orderID, status); err != nil {
			return err
		}
		order.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	if from == status {
		return order, nil
	}

	s.log.Warn("override_status", "order status overridden", logger.RequestID(ctx), nil, map[string]any{
		"order_id": orderID,
		"from":     from,
		"to":       status,
	})
	s.publish(ctx, order, from)
	if status == domain.OrderStatusPaymentConfirmed {
		s.signalConfirmed(ctx, orderID)
	}
	return order, nil
}

// PaymentInfo returns the order with its items for the customer's payment screen.
func (s *OrderService) PaymentInfo(ctx context.Context, orderID int64) (*domain.Order, error) {
	if err := validateID("order_id", orderID); err != nil {
		return nil, err
	}
	return s.db.GetOrder(ctx, orderID)
}

func (s *OrderService) ListOrders(ctx context.Context, page, size int) (*OrderPage, error) {
	page, size, err := normalizePage(page, size)
	if err != nil {
		return nil, err
	}

	total, err := s.db.CountOrders(ctx, port.OrderQuery{})
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	orders, err := s.db.ListOrders(ctx, port.OrderQuery{
		NewestFirst: true,
		Limit:       size,
		Offset:      (page - 1) * size,
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	return &OrderPage{Orders: orders, Page: page, Size: size, Total: total}, nil
}

// ServingQueue lists confirmed orders that still have unserved items, oldest first.
func (s *OrderService) ServingQueue(ctx context.Context) ([]domain.Order, error) {
	orders, err := s.db.ListOrders(ctx, port.OrderQuery{
		Statuses: []domain.OrderStatus{domain.OrderStatusPaymentConfirmed},
	})
	if err != nil {
		return nil, fmt.Errorf("list confirmed orders: %w", err)
	}

	queue := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if len(o.UnservedItems()) > 0 {
			queue = append(queue, o)
		}
	}
	return queue, nil
}

// KitchenQueue is ServingQueue with only the items still to be prepared.
func (s *OrderService) KitchenQueue(ctx context.Context) ([]domain.Order, error) {
	queue, err := s.ServingQueue(ctx)
	if err != nil {
		return nil, err
	}
	for i := range queue {
		queue[i].Items = queue[i].UnservedItems()
	}
	return queue, nil
}

// publish sends a lifecycle event after commit. Failures are only logged.
func (s *OrderService) publish(ctx context.Context, order *domain.Order, from domain.OrderStatus) {
	if err := s.events.Publish(ctx, domain.NewOrderEvent(order, from)); err != nil {
		s.log.Warn("publish_event", "failed to publish order event", logger.RequestID(ctx), err, map[string]any{
			"order_id": order.ID,
			"to":       order.Status,
		})
	}
}

func (s *OrderService) signalConfirmed(ctx context.Context, orderID int64) {
	if err := s.cache.PublishConfirmed(ctx, orderID); err != nil {
		s.log.Warn("signal_confirmed", "failed to signal confirmation", logger.RequestID(ctx), err, map[string]any{"order_id": orderID})
	}
}

func findItem(items []domain.OrderItem, id int64) (domain.OrderItem, bool) {
	for _, item := range items {
		if item.ID == id {
			return item, true
		}
	}
	return domain.OrderItem{}, false
}
