package service

import (
	"context"
	"sort"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/port"
)

// lockedMenus holds menu rows locked by the current transaction.
type lockedMenus map[int64]*domain.Menu

// lockMenus locks every distinct menu id in ascending order.
func lockMenus(ctx context.Context, tx port.Tx, ids ...map[int64]int) (lockedMenus, error) {
	seen := make(map[int64]struct{})
	for _, set := range ids {
		for id := range set {
			seen[id] = struct{}{}
		}
	}

	sorted := make([]int64, 0, len(seen))
	for id := range seen {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	menus := make(lockedMenus, len(sorted))
	for _, id := range sorted {
		menu, err := tx.LockMenu(ctx, id)
		if err != nil {
			return nil, err
		}
		menus[id] = menu
	}
	return menus, nil
}

// reserve checks every quantity first, then takes it off tracked stock.
func (m lockedMenus) reserve(ctx context.Context, tx port.Tx, qty map[int64]int, check func(domain.Menu, int) error) error {
	for _, id := range sortedKeys(qty) {
		if err := check(*m[id], qty[id]); err != nil {
			return err
		}
	}
	return m.adjust(ctx, tx, qty, -1)
}

// release puts quantities back onto tracked stock.
func (m lockedMenus) release(ctx context.Context, tx port.Tx, qty map[int64]int) error {
	return m.adjust(ctx, tx, qty, 1)
}

func (m lockedMenus) adjust(ctx context.Context, tx port.Tx, qty map[int64]int, sign int) error {
	for _, id := range sortedKeys(qty) {
		menu := m[id]
		if !menu.Tracked() {
			continue
		}
		delta := sign * qty[id]
		if err := tx.AdjustStock(ctx, id, delta); err != nil {
			return err
		}
		stock := *menu.Stock + delta
		menu.Stock = &stock
	}
	return nil
}

func sortedKeys(qty map[int64]int) []int64 {
	keys := make([]int64, 0, len(qty))
	for id := range qty {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func requestedQuantities(items []domain.ItemRequest) map[int64]int {
	qty := make(map[int64]int, len(items))
	for _, item := range items {
		qty[item.MenuID] += item.Quantity
	}
	return qty
}

func (m lockedMenus) buildItems(items []domain.ItemRequest) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.NewOrderItem(*m[item.MenuID], item.Quantity))
	}
	return out
}

func checkReservable(menu domain.Menu, qty int) error { return menu.CheckReservable(qty) }

func checkStock(menu domain.Menu, qty int) error { return menu.CheckStock(qty) }
