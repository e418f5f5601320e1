package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/domain"
)

const (
	maxDepositorNameLen = 50
	maxItemQuantity     = 99

	defaultPageSize = 20
	maxPageSize     = 100
)

// PlaceOrderInput is a customer submission or a cashier's manual order.
type PlaceOrderInput struct {
	TableID       int64
	DepositorName string
	Items         []domain.ItemRequest
	// IdempotencyKey is optional; a repeated key is rejected for 24 hours.
	IdempotencyKey string
}

func (in *PlaceOrderInput) Validate() error {
	in.DepositorName = strings.TrimSpace(in.DepositorName)

	if in.TableID <= 0 {
		return domain.ValidationError{Field: "table_id", Message: "must be a positive table number"}
	}
	if in.DepositorName == "" {
		return domain.ValidationError{Field: "depositor_name", Message: "is required"}
	}
	if utf8.RuneCountInString(in.DepositorName) > maxDepositorNameLen {
		return domain.ValidationError{
			Field:   "depositor_name",
			Message: fmt.Sprintf("must be at most %d characters", maxDepositorNameLen),
		}
	}
	return validateItems(in.Items)
}

func validateItems(items []domain.ItemRequest) error {
	if len(items) == 0 {
		return domain.ValidationError{Field: "items", Message: "at least one item is required"}
	}
	for i, item := range items {
		if item.MenuID <= 0 {
			return domain.ValidationError{Field: fmt.Sprintf("items[%d].menu_id", i), Message: "is required"}
		}
		if item.Quantity <= 0 || item.Quantity > maxItemQuantity {
			return domain.ValidationError{
				Field:   fmt.Sprintf("items[%d].quantity", i),
				Message: fmt.Sprintf("must be between 1 and %d", maxItemQuantity),
			}
		}
	}
	return nil
}

func validateID(field string, id int64) error {
	if id <= 0 {
		return domain.ValidationError{Field: field, Message: "must be a positive id"}
	}
	return nil
}

// normalizePage applies defaults to page and size and rejects nonsense values.
func normalizePage(page, size int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if size == 0 {
		size = defaultPageSize
	}
	if page < 1 {
		return 0, 0, domain.ValidationError{Field: "page", Message: "must be at least 1"}
	}
	if size < 1 || size > maxPageSize {
		return 0, 0, domain.ValidationError{Field: "size", Message: fmt.Sprintf("must be between 1 and %d", maxPageSize)}
	}
	return page, size, nil
}
