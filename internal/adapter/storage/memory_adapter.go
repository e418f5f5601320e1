package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/port"
)

// MemoryAdapter keeps every row in process. Transactions run one at a time
// against a copy of the state that replaces the original only on success.
type MemoryAdapter struct {
	mu    sync.RWMutex
	state *memoryState
	last  time.Time
}

type memoryState struct {
	nextID     map[string]int64
	tables     map[int64]domain.Table
	categories []domain.Category
	menus      map[int64]domain.Menu
	orders     map[int64]domain.Order
}

// NewMemoryAdapter provisions tables 1..tableCount with an empty menu.
func NewMemoryAdapter(tableCount int) *MemoryAdapter {
	m := &MemoryAdapter{
		state: &memoryState{
			nextID: make(map[string]int64),
			tables: make(map[int64]domain.Table),
			menus:  make(map[int64]domain.Menu),
			orders: make(map[int64]domain.Order),
		},
	}

	now := m.tick()
	for id := int64(1); id <= int64(tableCount); id++ {
		m.state.tables[id] = domain.Table{ID: id, SessionStartedAt: now, UpdatedAt: now}
	}
	return m
}

// AddCategory inserts a category and returns it with its id.
func (m *MemoryAdapter) AddCategory(name string, displayOrder int) domain.Category {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := domain.Category{ID: m.state.id("category"), Name: name, DisplayOrder: displayOrder}
	m.state.categories = append(m.state.categories, c)
	return c
}

// AddMenu inserts a menu item and returns it with its id and timestamps.
func (m *MemoryAdapter) AddMenu(menu domain.Menu) domain.Menu {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.tick()
	menu.ID = m.state.id("menu")
	menu.Stock = cloneStock(menu.Stock)
	menu.CreatedAt = now
	menu.UpdatedAt = now
	m.state.menus[menu.ID] = menu
	return cloneMenu(menu)
}

// SeedDemoMenu fills an empty store with a small pub menu for local runs.
func (m *MemoryAdapter) SeedDemoMenu() {
	stock := func(n int) *int { return &n }

	mains := m.AddCategory("Mains", 1)
	sides := m.AddCategory("Sides", 2)
	drinks := m.AddCategory("Drinks", 3)

	m.AddMenu(domain.Menu{CategoryID: mains.ID, Name: "Bulgogi", Price: 1500000, Available: true, BestSeller: true, Stock: stock(30)})
	m.AddMenu(domain.Menu{CategoryID: mains.ID, Name: "Kimchi Stew", Price: 1200000, Available: true})
	m.AddMenu(domain.Menu{CategoryID: sides.ID, Name: "Seafood Pancake", Price: 1800000, Available: true, Stock: stock(10)})
	m.AddMenu(domain.Menu{CategoryID: sides.ID, Name: "Fries", Price: 600000, Available: true})
	m.AddMenu(domain.Menu{CategoryID: drinks.ID, Name: "Cola", Price: 200000, Available: true})
	m.AddMenu(domain.Menu{CategoryID: drinks.ID, Name: "Soju", Price: 500000, Available: true, Stock: stock(48)})
}

func (m *MemoryAdapter) Ping(context.Context) error {
	return nil
}

func (m *MemoryAdapter) Atomic(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{state: m.state.clone(), clock: m.tick}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.state = tx.state
	return nil
}

// tick returns a strictly increasing timestamp with database precision. Callers hold mu.
func (m *MemoryAdapter) tick() time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(m.last) {
		now = m.last.Add(time.Microsecond)
	}
	m.last = now
	return now
}

func (m *MemoryAdapter) GetTable(_ context.Context, id int64) (*domain.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.table(id)
}

func (m *MemoryAdapter) ListTables(context.Context) ([]domain.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tables := make([]domain.Table, 0, len(m.state.tables))
	for _, t := range m.state.tables {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })
	return tables, nil
}

func (m *MemoryAdapter) ListCategories(context.Context) ([]domain.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	categories := append([]domain.Category(nil), m.state.categories...)
	sort.SliceStable(categories, func(i, j int) bool {
		if categories[i].DisplayOrder != categories[j].DisplayOrder {
			return categories[i].DisplayOrder < categories[j].DisplayOrder
		}
		return categories[i].ID < categories[j].ID
	})
	return categories, nil
}

func (m *MemoryAdapter) ListMenus(_ context.Context, availableOnly bool) ([]domain.Menu, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var menus []domain.Menu
	for _, menu := range m.state.menus {
		if availableOnly && !menu.Available {
			continue
		}
		menus = append(menus, cloneMenu(menu))
	}
	sort.Slice(menus, func(i, j int) bool {
		if menus[i].CategoryID != menus[j].CategoryID {
			return menus[i].CategoryID < menus[j].CategoryID
		}
		return menus[i].ID < menus[j].ID
	})
	return menus, nil
}

func (m *MemoryAdapter) GetMenu(_ context.Context, id int64) (*domain.Menu, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.menu(id)
}

func (m *MemoryAdapter) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.order(id)
}

func (m *MemoryAdapter) ListOrders(_ context.Context, q port.OrderQuery) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := m.state.filterOrders(q)
	if q.NewestFirst {
		sort.Slice(orders, func(i, j int) bool {
			if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
				return orders[i].CreatedAt.After(orders[j].CreatedAt)
			}
			return orders[i].ID > orders[j].ID
		})
	} else {
		sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	}

	if q.Limit > 0 {
		if q.Offset >= len(orders) {
			return nil, nil
		}
		end := min(q.Offset+q.Limit, len(orders))
		orders = orders[q.Offset:end]
	}
	return orders, nil
}

func (m *MemoryAdapter) CountOrders(_ context.Context, q port.OrderQuery) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.state.filterOrders(q)), nil
}

type memoryTx struct {
	state *memoryState
	clock func() time.Time
}

func (t *memoryTx) LockTable(_ context.Context, id int64) (*domain.Table, error) {
	return t.state.table(id)
}

func (t *memoryTx) LockOrder(_ context.Context, id int64) (*domain.Order, error) {
	return t.state.order(id)
}

func (t *memoryTx) LockMenu(_ context.Context, id int64) (*domain.Menu, error) {
	return t.state.menu(id)
}

func (t *memoryTx) FindOrderItem(_ context.Context, id int64) (*domain.OrderItem, error) {
	for _, o := range t.state.orders {
		for _, item := range o.Items {
			if item.ID == id {
				item.MenuName = t.state.menus[item.MenuID].Name
				return &item, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: order item %d", domain.ErrNotFound, id)
}

func (t *memoryTx) CreateOrder(_ context.Context, order *domain.Order) error {
	if _, ok := t.state.tables[order.TableID]; !ok {
		return fmt.Errorf("%w: table %d", domain.ErrNotFound, order.TableID)
	}

	now := t.clock()
	order.ID = t.state.id("order")
	order.CreatedAt = now
	order.UpdatedAt = now
	if err := t.assignItems(order, now); err != nil {
		return err
	}

	t.state.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (t *memoryTx) ReplaceOrderItems(_ context.Context, order *domain.Order) error {
	stored, ok := t.state.orders[order.ID]
	if !ok {
		return fmt.Errorf("%w: order %d", domain.ErrNotFound, order.ID)
	}

	now := t.clock()
	if err := t.assignItems(order, now); err != nil {
		return err
	}

	stored.Items = cloneItems(order.Items)
	stored.TotalAmount = order.TotalAmount
	stored.UpdatedAt = now
	order.UpdatedAt = now
	t.state.orders[order.ID] = stored
	return nil
}

func (t *memoryTx) assignItems(order *domain.Order, now time.Time) error {
	for i := range order.Items {
		item := &order.Items[i]
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
		}
		if _, ok := t.state.menus[item.MenuID]; !ok {
			return fmt.Errorf("%w: menu %d", domain.ErrNotFound, item.MenuID)
		}
		item.ID = t.state.id("order_item")
		item.OrderID = order.ID
		item.CreatedAt = now
	}
	return nil
}

func (t *memoryTx) UpdateOrderStatus(_ context.Context, id int64, status domain.OrderStatus) error {
	return t.updateOrder(id, func(o *domain.Order) { o.Status = status })
}

func (t *memoryTx) MarkItemServed(_ context.Context, itemID int64) error {
	for id, o := range t.state.orders {
		for i := range o.Items {
			if o.Items[i].ID == itemID {
				o.Items[i].Served = true
				t.state.orders[id] = o
				return nil
			}
		}
	}
	return nil
}

func (t *memoryTx) MarkAllItemsServed(_ context.Context, orderID int64) error {
	return t.updateOrder(orderID, func(o *domain.Order) {
		for i := range o.Items {
			o.Items[i].Served = true
		}
	})
}

func (t *memoryTx) CountUnservedItems(_ context.Context, orderID int64) (int, error) {
	o, ok := t.state.orders[orderID]
	if !ok {
		return 0, fmt.Errorf("%w: order %d", domain.ErrNotFound, orderID)
	}
	return len(o.UnservedItems()), nil
}

func (t *memoryTx) AdjustStock(_ context.Context, menuID int64, delta int) error {
	menu, ok := t.state.menus[menuID]
	if !ok || menu.Stock == nil {
		return nil
	}

	stock := *menu.Stock + delta
	menu.Stock = &stock
	menu.UpdatedAt = t.clock()
	t.state.menus[menuID] = menu
	return nil
}

func (t *memoryTx) SetMenuStock(_ context.Context, menuID int64, stock *int) error {
	return t.updateMenu(menuID, func(m *domain.Menu) { m.Stock = cloneStock(stock) })
}

func (t *memoryTx) SetMenuAvailability(_ context.Context, menuID int64, available bool) error {
	return t.updateMenu(menuID, func(m *domain.Menu) { m.Available = available })
}

func (t *memoryTx) SetTableOccupied(_ context.Context, id int64, occupied bool) error {
	table, ok := t.state.tables[id]
	if !ok {
		return nil
	}
	table.Occupied = occupied
	table.UpdatedAt = t.clock()
	t.state.tables[id] = table
	return nil
}

func (t *memoryTx) ResetTable(_ context.Context, id int64) (*domain.Table, error) {
	table, ok := t.state.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: table %d", domain.ErrNotFound, id)
	}

	now := t.clock()
	table.Occupied = false
	table.SessionStartedAt = now
	table.UpdatedAt = now
	t.state.tables[id] = table
	return &table, nil
}

func (t *memoryTx) updateOrder(id int64, fn func(o *domain.Order)) error {
	o, ok := t.state.orders[id]
	if !ok {
		return nil
	}
	fn(&o)
	o.UpdatedAt = t.clock()
	t.state.orders[id] = o
	return nil
}

func (t *memoryTx) updateMenu(id int64, fn func(m *domain.Menu)) error {
	menu, ok := t.state.menus[id]
	if !ok {
		return nil
	}
	fn(&menu)
	menu.UpdatedAt = t.clock()
	t.state.menus[id] = menu
	return nil
}

func (s *memoryState) id(kind string) int64 {
	s.nextID[kind]++
	return s.nextID[kind]
}

func (s *memoryState) table(id int64) (*domain.Table, error) {
	t, ok := s.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: table %d", domain.ErrNotFound, id)
	}
	return &t, nil
}

func (s *memoryState) menu(id int64) (*domain.Menu, error) {
	menu, ok := s.menus[id]
	if !ok {
		return nil, fmt.Errorf("%w: menu %d", domain.ErrNotFound, id)
	}
	menu = cloneMenu(menu)
	return &menu, nil
}

func (s *memoryState) order(id int64) (*domain.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", domain.ErrNotFound, id)
	}
	o = s.withMenuNames(o)
	return &o, nil
}

// withMenuNames copies the order and fills item names from the current menu rows.
func (s *memoryState) withMenuNames(o domain.Order) domain.Order {
	o = cloneOrder(o)
	for i := range o.Items {
		o.Items[i].MenuName = s.menus[o.Items[i].MenuID].Name
	}
	return o
}

func (s *memoryState) filterOrders(q port.OrderQuery) []domain.Order {
	var orders []domain.Order
	for _, o := range s.orders {
		if q.TableID != 0 && o.TableID != q.TableID {
			continue
		}
		if len(q.Statuses) > 0 && !containsStatus(q.Statuses, o.Status) {
			continue
		}
		if !q.CreatedAfter.IsZero() && !o.CreatedAt.After(q.CreatedAfter) {
			continue
		}
		if q.AfterID > 0 && o.ID <= q.AfterID {
			continue
		}
		orders = append(orders, s.withMenuNames(o))
	}
	return orders
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		nextID:     make(map[string]int64, len(s.nextID)),
		tables:     make(map[int64]domain.Table, len(s.tables)),
		categories: append([]domain.Category(nil), s.categories...),
		menus:      make(map[int64]domain.Menu, len(s.menus)),
		orders:     make(map[int64]domain.Order, len(s.orders)),
	}
	for k, v := range s.nextID {
		c.nextID[k] = v
	}
	for k, v := range s.tables {
		c.tables[k] = v
	}
	for k, v := range s.menus {
		c.menus[k] = cloneMenu(v)
	}
	for k, v := range s.orders {
		c.orders[k] = cloneOrder(v)
	}
	return c
}

func containsStatus(statuses []domain.OrderStatus, s domain.OrderStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func cloneStock(stock *int) *int {
	if stock == nil {
		return nil
	}
	v := *stock
	return &v
}

func cloneMenu(m domain.Menu) domain.Menu {
	m.Stock = cloneStock(m.Stock)
	return m
}

func cloneItems(items []domain.OrderItem) []domain.OrderItem {
	return append([]domain.OrderItem(nil), items...)
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = cloneItems(o.Items)
	return o
}
