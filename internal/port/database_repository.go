package port

import (
	"context"
	"time"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
)

// OrderQuery filters ListOrders. Zero values mean "no filter".
type OrderQuery struct {
	TableID      int64
	Statuses     []domain.OrderStatus
	CreatedAfter time.Time
	AfterID      int64
	// NewestFirst orders by creation time descending; otherwise by id ascending.
	NewestFirst bool
	Limit       int
	Offset      int
}

type DatabaseRepository interface {
	GetTable(ctx context.Context, id int64) (*domain.Table, error)
	ListTables(ctx context.Context) ([]domain.Table, error)

	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListMenus(ctx context.Context, availableOnly bool) ([]domain.Menu, error)
	GetMenu(ctx context.Context, id int64) (*domain.Menu, error)

	// GetOrder and ListOrders return orders with their line items loaded
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	ListOrders(ctx context.Context, q OrderQuery) ([]domain.Order, error)
	CountOrders(ctx context.Context, q OrderQuery) (int, error)

	// Atomic runs fn in one transaction; any error rolls every write back
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Ping(ctx context.Context) error
}

// Tx is the write side of a transaction. Lock* methods hold the row until commit.
// Callers lock in the order table -> order -> menus (ascending id).
type Tx interface {
	LockTable(ctx context.Context, id int64) (*domain.Table, error)
	LockOrder(ctx context.Context, id int64) (*domain.Order, error)
	LockMenu(ctx context.Context, id int64) (*domain.Menu, error)
	FindOrderItem(ctx context.Context, id int64) (*domain.OrderItem, error)

	// CreateOrder inserts the order and its items, filling ids and timestamps
	CreateOrder(ctx context.Context, order *domain.Order) error
	// ReplaceOrderItems deletes existing items, inserts order.Items and persists the total
	ReplaceOrderItems(ctx context.Context, order *domain.Order) error
	UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error
	MarkItemServed(ctx context.Context, itemID int64) error
	MarkAllItemsServed(ctx context.Context, orderID int64) error
	CountUnservedItems(ctx context.Context, orderID int64) (int, error)

	// AdjustStock adds delta to a tracked stock counter; untracked menus are left alone
	AdjustStock(ctx context.Context, menuID int64, delta int) error
	SetMenuStock(ctx context.Context, menuID int64, stock *int) error
	SetMenuAvailability(ctx context.Context, menuID int64, available bool) error

	SetTableOccupied(ctx context.Context, id int64, occupied bool) error
	// ResetTable frees the table and starts a new session at the current time
	ResetTable(ctx context.Context, id int64) (*domain.Table, error)
}
