package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/port"
)

const (
	maxTxAttempts = 3

	mysqlErrDeadlock        = 1213
	mysqlErrLockWaitTimeout = 1205
)

const (
	selectTableSQL = `SELECT table_id, is_occupied, session_started_at, updated_at FROM store_tables`

	selectMenuSQL = `
		SELECT menu_id, category_id, menu_name, COALESCE(description, ''), price, COALESCE(image_url, ''),
		       is_available, is_best_seller, stock_quantity, created_at, updated_at
		FROM menus`

	selectOrderSQL = `
		SELECT order_id, table_id, depositor_name, total_amount, order_status, created_at, updated_at
		FROM orders`

	selectItemSQL = `
		SELECT d.order_detail_id, d.order_id, d.menu_id, m.menu_name, d.quantity, d.unit_price,
		       d.subtotal, d.is_served, d.created_at
		FROM order_details d
		JOIN menus m ON m.menu_id = d.menu_id`
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQLAdapter) Atomic(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = m.runTx(ctx, fn)
		if !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxTxAttempts, err)
}

func (m *MySQLAdapter) runTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	// READ COMMITTED so reads made after a row lock see what the previous holder committed.
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrDeadlock || myErr.Number == mysqlErrLockWaitTimeout
	}
	return false
}

func (m *MySQLAdapter) GetTable(ctx context.Context, id int64) (*domain.Table, error) {
	return getTable(ctx, m.db, id, false)
}

func (m *MySQLAdapter) ListTables(ctx context.Context) ([]domain.Table, error) {
	rows, err := m.db.QueryContext(ctx, selectTableSQL+` ORDER BY table_id`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []domain.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, *t)
	}
	return tables, rows.Err()
}

func (m *MySQLAdapter) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT category_id, category_name, display_order
		FROM categories ORDER BY display_order, category_id`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var categories []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.DisplayOrder); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (m *MySQLAdapter) ListMenus(ctx context.Context, availableOnly bool) ([]domain.Menu, error) {
	query := selectMenuSQL
	if availableOnly {
		query += ` WHERE is_available = 1`
	}
	query += ` ORDER BY category_id, menu_id`

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query menus: %w", err)
	}
	defer rows.Close()

	var menus []domain.Menu
	for rows.Next() {
		menu, err := scanMenu(rows)
		if err != nil {
			return nil, fmt.Errorf("scan menu: %w", err)
		}
		menus = append(menus, *menu)
	}
	return menus, rows.Err()
}

func (m *MySQLAdapter) GetMenu(ctx context.Context, id int64) (*domain.Menu, error) {
	return getMenu(ctx, m.db, id, false)
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return getOrder(ctx, m.db, id, false)
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, q port.OrderQuery) ([]domain.Order, error) {
	where, args := orderFilter(q)

	query := selectOrderSQL + where
	if q.NewestFirst {
		query += ` ORDER BY created_at DESC, order_id DESC`
	} else {
		query += ` ORDER BY order_id ASC`
	}
	if q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := attachItems(ctx, m.db, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (m *MySQLAdapter) CountOrders(ctx context.Context, q port.OrderQuery) (int, error) {
	where, args := orderFilter(q)

	var count int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

func orderFilter(q port.OrderQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if q.TableID != 0 {
		conds = append(conds, "table_id = ?")
		args = append(args, q.TableID)
	}
	if len(q.Statuses) > 0 {
		conds = append(conds, "order_status IN ("+placeholders(len(q.Statuses))+")")
		for _, s := range q.Statuses {
			args = append(args, string(s))
		}
	}
	if !q.CreatedAfter.IsZero() {
		conds = append(conds, "created_at > ?")
		args = append(args, q.CreatedAfter.UTC())
	}
	if q.AfterID > 0 {
		conds = append(conds, "order_id > ?")
		args = append(args, q.AfterID)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) LockTable(ctx context.Context, id int64) (*domain.Table, error) {
	return getTable(ctx, t.tx, id, true)
}

func (t *mysqlTx) LockOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *mysqlTx) LockMenu(ctx context.Context, id int64) (*domain.Menu, error) {
	return getMenu(ctx, t.tx, id, true)
}

func (t *mysqlTx) FindOrderItem(ctx context.Context, id int64) (*domain.OrderItem, error) {
	item, err := scanItem(t.tx.QueryRowContext(ctx, selectItemSQL+` WHERE d.order_detail_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order item %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query order item: %w", err)
	}
	return item, nil
}

func (t *mysqlTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	now, err := t.now(ctx)
	if err != nil {
		return err
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (table_id, depositor_name, total_amount, order_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		order.TableID, order.DepositorName, order.TotalAmount, string(order.Status), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	order.ID = id
	order.CreatedAt = now
	order.UpdatedAt = now

	return t.insertItems(ctx, order, now)
}

func (t *mysqlTx) ReplaceOrderItems(ctx context.Context, order *domain.Order) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM order_details WHERE order_id = ?`, order.ID); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}

	now, err := t.now(ctx)
	if err != nil {
		return err
	}
	if err := t.insertItems(ctx, order, now); err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx, `UPDATE orders SET total_amount = ? WHERE order_id = ?`,
		order.TotalAmount, order.ID); err != nil {
		return fmt.Errorf("update order total: %w", err)
	}
	order.UpdatedAt = now
	return nil
}

func (t *mysqlTx) insertItems(ctx context.Context, order *domain.Order, now time.Time) error {
	for i := range order.Items {
		item := &order.Items[i]
		result, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_details (order_id, menu_id, quantity, unit_price, subtotal, is_served, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			order.ID, item.MenuID, item.Quantity, item.UnitPrice, item.Subtotal, item.Served, now,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
		item.ID = id
		item.OrderID = order.ID
		item.CreatedAt = now
	}
	return nil
}

func (t *mysqlTx) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	return t.exec(ctx, "update order status", `UPDATE orders SET order_status = ? WHERE order_id = ?`, string(status), id)
}

func (t *mysqlTx) MarkItemServed(ctx context.Context, itemID int64) error {
	return t.exec(ctx, "mark item served", `UPDATE order_details SET is_served = 1 WHERE order_detail_id = ?`, itemID)
}

func (t *mysqlTx) MarkAllItemsServed(ctx context.Context, orderID int64) error {
	return t.exec(ctx, "mark order served", `UPDATE order_details SET is_served = 1 WHERE order_id = ?`, orderID)
}

func (t *mysqlTx) CountUnservedItems(ctx context.Context, orderID int64) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM order_details WHERE order_id = ? AND is_served = 0`, orderID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unserved items: %w", err)
	}
	return count, nil
}

func (t *mysqlTx) AdjustStock(ctx context.Context, menuID int64, delta int) error {
	return t.exec(ctx, "adjust stock", `
		UPDATE menus SET stock_quantity = stock_quantity + ?
		WHERE menu_id = ? AND stock_quantity IS NOT NULL`, delta, menuID)
}

func (t *mysqlTx) SetMenuStock(ctx context.Context, menuID int64, stock *int) error {
	var value sql.NullInt64
	if stock != nil {
		value = sql.NullInt64{Int64: int64(*stock), Valid: true}
	}
	return t.exec(ctx, "set stock", `UPDATE menus SET stock_quantity = ? WHERE menu_id = ?`, value, menuID)
}

func (t *mysqlTx) SetMenuAvailability(ctx context.Context, menuID int64, available bool) error {
	return t.exec(ctx, "set availability", `UPDATE menus SET is_available = ? WHERE menu_id = ?`, available, menuID)
}

func (t *mysqlTx) SetTableOccupied(ctx context.Context, id int64, occupied bool) error {
	return t.exec(ctx, "set table occupied", `UPDATE store_tables SET is_occupied = ? WHERE table_id = ?`, occupied, id)
}

func (t *mysqlTx) ResetTable(ctx context.Context, id int64) (*domain.Table, error) {
	table, err := t.LockTable(ctx, id)
	if err != nil {
		return nil, err
	}

	now, err := t.now(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.exec(ctx, "reset table",
		`UPDATE store_tables SET is_occupied = 0, session_started_at = ? WHERE table_id = ?`, now, id); err != nil {
		return nil, err
	}

	table.Occupied = false
	table.SessionStartedAt = now
	table.UpdatedAt = now
	return table, nil
}

func (t *mysqlTx) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// now reads the database clock so session boundaries and order timestamps share one source.
func (t *mysqlTx) now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := t.tx.QueryRowContext(ctx, `SELECT CURRENT_TIMESTAMP(6)`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("read database clock: %w", err)
	}
	return now.UTC(), nil
}

func getTable(ctx context.Context, q querier, id int64, lock bool) (*domain.Table, error) {
	query := selectTableSQL + ` WHERE table_id = ?`
	if lock {
		query += ` FOR UPDATE`
	}

	table, err := scanTable(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: table %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query table: %w", err)
	}
	return table, nil
}

func getMenu(ctx context.Context, q querier, id int64, lock bool) (*domain.Menu, error) {
	query := selectMenuSQL + ` WHERE menu_id = ?`
	if lock {
		query += ` FOR UPDATE`
	}

	menu, err := scanMenu(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: menu %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query menu: %w", err)
	}
	return menu, nil
}

func getOrder(ctx context.Context, q querier, id int64, lock bool) (*domain.Order, error) {
	query := selectOrderSQL + ` WHERE order_id = ?`
	if lock {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	orders := []domain.Order{*order}
	if err := attachItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// attachItems loads the line items of every order with a single query.
func attachItems(ctx context.Context, q querier, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	index := make(map[int64]int, len(orders))
	args := make([]any, 0, len(orders))
	for i, o := range orders {
		index[o.ID] = i
		args = append(args, o.ID)
	}

	rows, err := q.QueryContext(ctx,
		selectItemSQL+` WHERE d.order_id IN (`+placeholders(len(args))+`) ORDER BY d.order_detail_id`, args...)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		i := index[item.OrderID]
		orders[i].Items = append(orders[i].Items, *item)
	}
	return rows.Err()
}

func scanTable(s scanner) (*domain.Table, error) {
	var t domain.Table
	if err := s.Scan(&t.ID, &t.Occupied, &t.SessionStartedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanMenu(s scanner) (*domain.Menu, error) {
	var (
		m     domain.Menu
		stock sql.NullInt64
	)
	err := s.Scan(&m.ID, &m.CategoryID, &m.Name, &m.Description, &m.Price, &m.ImageURL,
		&m.Available, &m.BestSeller, &stock, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if stock.Valid {
		v := int(stock.Int64)
		m.Stock = &v
	}
	return &m, nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	err := s.Scan(&o.ID, &o.TableID, &o.DepositorName, &o.TotalAmount, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func scanItem(s scanner) (*domain.OrderItem, error) {
	var it domain.OrderItem
	err := s.Scan(&it.ID, &it.OrderID, &it.MenuID, &it.MenuName, &it.Quantity, &it.UnitPrice,
		&it.Subtotal, &it.Served, &it.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}
