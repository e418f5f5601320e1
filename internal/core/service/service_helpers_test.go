package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/adapter/storage"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/logger"
)

// Mock EventPublisher
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) transitions() []domain.OrderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.OrderStatus, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.To)
	}
	return out
}

type testEnv struct {
	db     *storage.MemoryAdapter
	cache  *storage.LocalCache
	events *recordingPublisher

	orders *OrderService
	tables *TableService
	menus  *MenuService
	feed   *FeedService

	bulgogi  domain.Menu // tracked, stock 10
	cola     domain.Menu // untracked
	pancake  domain.Menu // tracked, stock 1
	disabled domain.Menu // not available
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := storage.NewMemoryAdapter(5)
	cache := storage.NewLocalCache()
	events := &recordingPublisher{}
	log := logger.Discard()

	stock := func(n int) *int { return &n }
	mains := db.AddCategory("Mains", 1)
	drinks := db.AddCategory("Drinks", 2)

	return &testEnv{
		db:     db,
		cache:  cache,
		events: events,

		orders: NewOrderService(db, cache, events, log),
		tables: NewTableService(db, log),
		menus:  NewMenuService(db, log),
		feed:   NewFeedService(db, cache, 10*time.Millisecond, log),

		bulgogi:  db.AddMenu(domain.Menu{CategoryID: mains.ID, Name: "Bulgogi", Price: 1500000, Available: true, Stock: stock(10)}),
		cola:     db.AddMenu(domain.Menu{CategoryID: drinks.ID, Name: "Cola", Price: 200000, Available: true}),
		pancake:  db.AddMenu(domain.Menu{CategoryID: mains.ID, Name: "Seafood Pancake", Price: 1800000, Available: true, Stock: stock(1)}),
		disabled: db.AddMenu(domain.Menu{CategoryID: mains.ID, Name: "Sold Out Special", Price: 2500000, Available: false}),
	}
}

func (e *testEnv) submit(t *testing.T, tableID int64, items ...domain.ItemRequest) *domain.Order {
	t.Helper()

	order, err := e.orders.Submit(context.Background(), PlaceOrderInput{
		TableID:       tableID,
		DepositorName: "Kim",
		Items:         items,
	})
	require.NoError(t, err)
	return order
}

func (e *testEnv) confirmed(t *testing.T, tableID int64, items ...domain.ItemRequest) *domain.Order {
	t.Helper()

	order := e.submit(t, tableID, items...)
	confirmed, err := e.orders.ConfirmPayment(context.Background(), order.ID)
	require.NoError(t, err)
	return confirmed
}

func (e *testEnv) stockOf(t *testing.T, menuID int64) int {
	t.Helper()

	menu, err := e.db.GetMenu(context.Background(), menuID)
	require.NoError(t, err)
	require.NotNil(t, menu.Stock)
	return *menu.Stock
}

func item(menu domain.Menu, qty int) domain.ItemRequest {
	return domain.ItemRequest{MenuID: menu.ID, Quantity: qty}
}
