package domain

import (
	"fmt"
	"time"
)

type Category struct {
	ID           int64
	Name         string
	DisplayOrder int
}

type Menu struct {
	ID          int64
	CategoryID  int64
	Name        string
	Description string
	Price       Money
	ImageURL    string
	Available   bool
	BestSeller  bool
	Stock       *int // nil when the item is not stock-tracked
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (m Menu) Tracked() bool {
	return m.Stock != nil
}

// CheckReservable reports ErrUnavailable when qty cannot be ordered right now.
func (m Menu) CheckReservable(qty int) error {
	if !m.Available {
		return fmt.Errorf("%w: menu %d (%s) is not available", ErrUnavailable, m.ID, m.Name)
	}
	return m.CheckStock(qty)
}

// CheckStock ignores the availability flag; staff edits may reference disabled items.
func (m Menu) CheckStock(qty int) error {
	if m.Tracked() && *m.Stock < qty {
		return fmt.Errorf("%w: menu %d (%s) has %d left, %d requested", ErrUnavailable, m.ID, m.Name, *m.Stock, qty)
	}
	return nil
}
