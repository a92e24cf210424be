package model

import "strings"

// ValidateLineItem checks a candidate line item's structural invariants and
// returns one message per violation. An empty result means the item is
// valid. Pure: no side effects, safe to call before and after confirmation.
func ValidateLineItem(item CartLineItem) []string {
	var errs []string

	if item.Product.ID == "" {
		errs = append(errs, "product id is required")
	}
	if strings.TrimSpace(item.Product.Name) == "" {
		errs = append(errs, "product name is required")
	}
	if item.Quantity <= 0 {
		errs = append(errs, "quantity must be at least 1")
	}
	if item.Quantity > MaxQuantity {
		errs = append(errs, "quantity cannot exceed 100")
	}
	if item.Product.Price < 0 {
		errs = append(errs, "price cannot be negative")
	}

	return errs
}
