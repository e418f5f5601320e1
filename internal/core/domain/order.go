package domain

import (
	"fmt"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusAwaitingPayment  OrderStatus = "AWAITING_PAYMENT"
	OrderStatusPaymentConfirmed OrderStatus = "PAYMENT_CONFIRMED"
	OrderStatusCompleted        OrderStatus = "COMPLETED"
	OrderStatusCancelled        OrderStatus = "CANCELLED"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusAwaitingPayment,
	OrderStatusPaymentConfirmed,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusAwaitingPayment:  {OrderStatusPaymentConfirmed, OrderStatusCancelled},
	OrderStatusPaymentConfirmed: {OrderStatusCompleted, OrderStatusCancelled},
}

// ParseOrderStatus accepts only the four known status values.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.TrimSpace(s))
	if !status.Valid() {
		return "", ValidationError{Field: "status", Message: fmt.Sprintf("unknown order status %q", s)}
	}
	return status, nil
}

func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// CheckTransition returns an ErrInvalidState error when from -> to is not a legal move.
func CheckTransition(from, to OrderStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: cannot move order from %s to %s", ErrInvalidState, from, to)
	}
	return nil
}

type Order struct {
	ID            int64
	TableID       int64
	DepositorName string
	TotalAmount   Money
	Status        OrderStatus
	Items         []OrderItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type OrderItem struct {
	ID        int64
	OrderID   int64
	MenuID    int64
	MenuName  string
	Quantity  int
	UnitPrice Money // frozen copy of the menu price at write time
	Subtotal  Money
	Served    bool
	CreatedAt time.Time
}

// ItemRequest is one (menu, quantity) pair of a submitted or edited order.
type ItemRequest struct {
	MenuID   int64
	Quantity int
}

// NewOrderItem snapshots the menu price for a new line item.
func NewOrderItem(menu Menu, qty int) OrderItem {
	return OrderItem{
		MenuID:    menu.ID,
		MenuName:  menu.Name,
		Quantity:  qty,
		UnitPrice: menu.Price,
		Subtotal:  menu.Price.Mul(qty),
	}
}

// Recalculate sets TotalAmount to the sum of the line item subtotals.
func (o *Order) Recalculate() {
	var total Money
	for _, item := range o.Items {
		total += item.Subtotal
	}
	o.TotalAmount = total
}

func (o *Order) UnservedItems() []OrderItem {
	var unserved []OrderItem
	for _, item := range o.Items {
		if !item.Served {
			unserved = append(unserved, item)
		}
	}
	return unserved
}

// MenuSummary renders the first two item names, e.g. "Bulgogi, Cola +2 more".
func (o *Order) MenuSummary() string {
	names := make([]string, 0, 2)
	for i, item := range o.Items {
		if i == 2 {
			break
		}
		names = append(names, item.MenuName)
	}
	summary := strings.Join(names, ", ")
	if extra := len(o.Items) - len(names); extra > 0 {
		summary = fmt.Sprintf("%s +%d more", summary, extra)
	}
	return summary
}

// Reservations sums quantities per menu, used to reserve or release stock.
func (o *Order) Reservations() map[int64]int {
	qty := make(map[int64]int, len(o.Items))
	for _, item := range o.Items {
		qty[item.MenuID] += item.Quantity
	}
	return qty
}

// OrderEvent describes a committed lifecycle change. From is empty for new orders.
type OrderEvent struct {
	OrderID    int64
	TableID    int64
	From       OrderStatus
	To         OrderStatus
	Total      Money
	OccurredAt time.Time
}

func NewOrderEvent(order *Order, from OrderStatus) OrderEvent {
	return OrderEvent{
		OrderID:    order.ID,
		TableID:    order.TableID,
		From:       from,
		To:         order.Status,
		Total:      order.TotalAmount,
		OccurredAt: time.Now().UTC(),
	}
}
