package service

import (
	"context"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/logger"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/port"
)

type MenuService struct {
	db  port.DatabaseRepository
	log *logger.Logger
}

func NewMenuService(db port.DatabaseRepository, log *logger.Logger) *MenuService {
	return &MenuService{db: db, log: log}
}

// UpdateStock sets the stock counter. A nil stock stops tracking the item.
func (s *MenuService) UpdateStock(ctx context.Context, menuID int64, stock *int) (*domain.Menu, error) {
	if err := validateID("menu_id", menuID); err != nil {
		return nil, err
	}
	if stock != nil && *stock < 0 {
		return nil, domain.ValidationError{Field: "stock", Message: "must not be negative"}
	}

	menu, err := s.update(ctx, menuID, func(ctx context.Context, tx port.Tx, m *domain.Menu) error {
		m.Stock = stock
		return tx.SetMenuStock(ctx, menuID, stock)
	})
	if err != nil {
		return nil, err
	}

	fields := map[string]any{"menu_id": menuID, "tracked": menu.Tracked()}
	if menu.Tracked() {
		fields["stock"] = *menu.Stock
	}
	s.log.Info("update_stock", "menu stock updated", logger.RequestID(ctx), fields)
	return menu, nil
}

// SetAvailability enables or disables ordering of a menu item.
func (s *MenuService) SetAvailability(ctx context.Context, menuID int64, available bool) (*domain.Menu, error) {
	if err := validateID("menu_id", menuID); err != nil {
		return nil, err
	}

	menu, err := s.update(ctx, menuID, func(ctx context.Context, tx port.Tx, m *domain.Menu) error {
		m.Available = available
		return tx.SetMenuAvailability(ctx, menuID, available)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("set_availability", "menu availability changed", logger.RequestID(ctx), map[string]any{
		"menu_id":   menuID,
		"available": available,
	})
	return menu, nil
}

func (s *MenuService) update(ctx context.Context, menuID int64, fn func(ctx context.Context, tx port.Tx, m *domain.Menu) error) (*domain.Menu, error) {
	var updated *domain.Menu
	err := s.db.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		menu, err := tx.LockMenu(ctx, menuID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, menu); err != nil {
			return err
		}
		updated = menu
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
