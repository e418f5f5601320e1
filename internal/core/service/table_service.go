package service

import (
	"context"
	"fmt"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/logger"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/port"
)

// sessionTotalStatuses are the statuses summed in the cashier's table overview.
var sessionTotalStatuses = []domain.OrderStatus{
	domain.OrderStatusAwaitingPayment,
	domain.OrderStatusPaymentConfirmed,
	domain.OrderStatusCompleted,
}

var activeStatuses = []domain.OrderStatus{
	domain.OrderStatusAwaitingPayment,
	domain.OrderStatusPaymentConfirmed,
}

type TableService struct {
	db  port.DatabaseRepository
	log *logger.Logger
}

func NewTableService(db port.DatabaseRepository, log *logger.Logger) *TableService {
	return &TableService{db: db, log: log}
}

// TableStatus summarizes a table's current session.
type TableStatus struct {
	Table  domain.Table
	Totals map[domain.OrderStatus]domain.Money
	// Latest is the newest order of the session; nil for a free table.
	Latest *domain.Order
}

// CategoryMenus is one category of the customer menu with its orderable items.
type CategoryMenus struct {
	Category domain.Category
	Menus    []domain.Menu
}

type CustomerMenu struct {
	Table        domain.Table
	Categories   []CategoryMenus
	ActiveOrders []domain.Order
}

func (s *TableService) TableStatuses(ctx context.Context) ([]TableStatus, error) {
	tables, err := s.db.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	statuses := make([]TableStatus, 0, len(tables))
	for _, table := range tables {
		orders, err := s.db.ListOrders(ctx, port.OrderQuery{
			TableID:      table.ID,
			Statuses:     sessionTotalStatuses,
			CreatedAfter: table.SessionStartedAt,
			NewestFirst:  true,
		})
		if err != nil {
			return nil, fmt.Errorf("list orders of table %d: %w", table.ID, err)
		}

		status := TableStatus{Table: table, Totals: make(map[domain.OrderStatus]domain.Money, len(sessionTotalStatuses))}
		for _, st := range sessionTotalStatuses {
			status.Totals[st] = 0
		}
		for _, o := range orders {
			status.Totals[o.Status] += o.TotalAmount
		}
		if table.Occupied && len(orders) > 0 {
			latest := orders[0]
			status.Latest = &latest
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (s *TableService) Table(ctx context.Context, tableID int64) (*domain.Table, error) {
	if err := validateID("table_id", tableID); err != nil {
		return nil, err
	}
	return s.db.GetTable(ctx, tableID)
}

// TableHistory returns every order ever placed at the table, newest first.
func (s *TableService) TableHistory(ctx context.Context, tableID int64) ([]domain.Order, error) {
	if err := validateID("table_id", tableID); err != nil {
		return nil, err
	}
	if _, err := s.db.GetTable(ctx, tableID); err != nil {
		return nil, err
	}

	orders, err := s.db.ListOrders(ctx, port.OrderQuery{TableID: tableID, NewestFirst: true})
	if err != nil {
		return nil, fmt.Errorf("list orders of table %d: %w", tableID, err)
	}
	return orders, nil
}

// CustomerMenu returns the orderable menu and the table's open orders of this visit.
func (s *TableService) CustomerMenu(ctx context.Context, tableID int64) (*CustomerMenu, error) {
	if err := validateID("table_id", tableID); err != nil {
		return nil, err
	}

	table, err := s.db.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}

	categories, err := s.db.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	menus, err := s.db.ListMenus(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list menus: %w", err)
	}

	byCategory := make(map[int64][]domain.Menu, len(categories))
	for _, m := range menus {
		byCategory[m.CategoryID] = append(byCategory[m.CategoryID], m)
	}

	view := &CustomerMenu{Table: *table}
	for _, c := range categories {
		view.Categories = append(view.Categories, CategoryMenus{Category: c, Menus: byCategory[c.ID]})
	}

	view.ActiveOrders, err = s.db.ListOrders(ctx, port.OrderQuery{
		TableID:      tableID,
		Statuses:     activeStatuses,
		CreatedAfter: table.SessionStartedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	return view, nil
}

// Reset frees the table and starts a new session. Existing orders are kept.
func (s *TableService) Reset(ctx context.Context, tableID int64) (*domain.Table, error) {
	if err := validateID("table_id", tableID); err != nil {
		return nil, err
	}

	var table *domain.Table
	err := s.db.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		table, err = tx.ResetTable(ctx, tableID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("reset_table", "table reset", logger.RequestID(ctx), map[string]any{
		"table_id":      tableID,
		"session_start": table.SessionStartedAt,
	})
	return table, nil
}
