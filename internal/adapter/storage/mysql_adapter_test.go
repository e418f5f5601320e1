package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/go-sql-driver/mysql"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/port"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/capybara_test?parseTime=true&loc=UTC"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	return db
}

// setupMySQL migrates the schema and inserts one category with a tracked menu item.
func setupMySQL(t *testing.T) (*MySQLAdapter, *sql.DB, domain.Menu) {
	t.Helper()

	db := getMySQLDB(t)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	if err := adapter.Migrate(ctx, 3); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	res, err := db.ExecContext(ctx, `INSERT INTO categories (category_name, display_order) VALUES ('Test', 99)`)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	catID, _ := res.LastInsertId()

	res, err = db.ExecContext(ctx, `
		INSERT INTO menus (category_id, menu_name, price, is_available, stock_quantity)
		VALUES (?, 'Test Bulgogi', 15000.00, 1, 10)`, catID)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	menuID, _ := res.LastInsertId()

	t.Cleanup(func() {
		db.ExecContext(ctx, `DELETE FROM orders WHERE order_id IN (SELECT order_id FROM order_details WHERE menu_id = ?)`, menuID)
		db.ExecContext(ctx, `DELETE FROM menus WHERE menu_id = ?`, menuID)
		db.ExecContext(ctx, `DELETE FROM categories WHERE category_id = ?`, catID)
	})

	menu, err := adapter.GetMenu(ctx, menuID)
	if err != nil {
		t.Fatalf("GetMenu failed: %v", err)
	}
	return adapter, db, *menu
}

func TestMigrate_ProvisionsTables(t *testing.T) {
	adapter, _, _ := setupMySQL(t)

	tables, err := adapter.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if len(tables) < 3 || tables[0].ID != 1 {
		t.Errorf("expected tables 1..3 to exist, got %+v", tables)
	}
}

func TestCreateOrder_Success(t *testing.T) {
	adapter, db, menu := setupMySQL(t)
	ctx := context.Background()

	order := &domain.Order{
		TableID:       1,
		DepositorName: "Kim",
		Status:        domain.OrderStatusAwaitingPayment,
		Items:         []domain.OrderItem{domain.NewOrderItem(menu, 2)},
	}
	order.Recalculate()

	err := adapter.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		return tx.AdjustStock(ctx, menu.ID, -2)
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	got, err := adapter.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.TotalAmount != 3000000 {
		t.Errorf("expected total 30000.00, got %s", got.TotalAmount)
	}
	if len(got.Items) != 1 || got.Items[0].MenuName != "Test Bulgogi" {
		t.Errorf("unexpected items: %+v", got.Items)
	}
	if !got.CreatedAt.Equal(order.CreatedAt) {
		t.Errorf("expected created_at %s, got %s", order.CreatedAt, got.CreatedAt)
	}

	// Verify stock decremented
	var stock int
	db.QueryRowContext(ctx, `SELECT stock_quantity FROM menus WHERE menu_id = ?`, menu.ID).Scan(&stock)
	if stock != 8 {
		t.Errorf("expected stock 8, got %d", stock)
	}
}

func TestAtomic_RollsBack(t *testing.T) {
	adapter, _, menu := setupMySQL(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := adapter.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		if err := tx.AdjustStock(ctx, menu.ID, -5); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := adapter.GetMenu(ctx, menu.ID)
	if *got.Stock != 10 {
		t.Errorf("expected stock 10 after rollback, got %d", *got.Stock)
	}
}

func TestLockOrder_ServesItemOnce(t *testing.T) {
	adapter, _, menu := setupMySQL(t)
	ctx := context.Background()

	order := &domain.Order{
		TableID:       1,
		DepositorName: "Lee",
		Status:        domain.OrderStatusPaymentConfirmed,
		Items:         []domain.OrderItem{domain.NewOrderItem(menu, 1)},
	}
	order.Recalculate()
	if err := adapter.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.CreateOrder(ctx, order)
	}); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	itemID := order.Items[0].ID

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		completions int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := adapter.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
				o, err := tx.LockOrder(ctx, order.ID)
				if err != nil {
					return err
				}
				if o.Status != domain.OrderStatusPaymentConfirmed {
					return nil
				}
				if err := tx.MarkItemServed(ctx, itemID); err != nil {
					return err
				}
				n, err := tx.CountUnservedItems(ctx, order.ID)
				if err != nil || n > 0 {
					return err
				}
				mu.Lock()
				completions++
				mu.Unlock()
				return tx.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCompleted)
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if completions != 1 {
		t.Errorf("expected exactly 1 completion, got %d", completions)
	}
}

func TestResetTable_NewSession(t *testing.T) {
	adapter, _, _ := setupMySQL(t)
	ctx := context.Background()

	var table *domain.Table
	err := adapter.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		if err := tx.SetTableOccupied(ctx, 3, true); err != nil {
			return err
		}
		var err error
		table, err = tx.ResetTable(ctx, 3)
		return err
	})
	if err != nil {
		t.Fatalf("ResetTable failed: %v", err)
	}

	got, _ := adapter.GetTable(ctx, 3)
	if got.Occupied {
		t.Error("expected table to be free after reset")
	}
	if !got.SessionStartedAt.Equal(table.SessionStartedAt) {
		t.Errorf("expected session start %s, got %s", table.SessionStartedAt, got.SessionStartedAt)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	adapter, _, _ := setupMySQL(t)

	_, err := adapter.GetOrder(context.Background(), -1)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	if !isRetryable(&mysql.MySQLError{Number: mysqlErrDeadlock}) {
		t.Error("deadlock should be retried")
	}
	if isRetryable(&mysql.MySQLError{Number: 1062}) {
		t.Error("duplicate key should not be retried")
	}
	if isRetryable(errors.New("other")) {
		t.Error("plain errors should not be retried")
	}
}

func TestOrderFilter(t *testing.T) {
	where, args := orderFilter(port.OrderQuery{
		TableID:  3,
		Statuses: []domain.OrderStatus{domain.OrderStatusAwaitingPayment, domain.OrderStatusPaymentConfirmed},
		AfterID:  10,
	})

	want := " WHERE table_id = ? AND order_status IN (?, ?) AND order_id > ?"
	if where != want {
		t.Errorf("expected %q, got %q", want, where)
	}
	if len(args) != 4 {
		t.Errorf("expected 4 args, got %d", len(args))
	}
}
