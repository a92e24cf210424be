package model

import "time"

const (
	// MinQuantity is the smallest quantity a line item may hold; below it
	// the item is removed instead.
	MinQuantity = 1
	// MaxQuantity is the largest quantity a single line item may hold.
	MaxQuantity = 100
)

// CartLineItem is a product plus the quantity and options chosen for it.
// Identity is (product id, normalized option set), not the product id alone.
type CartLineItem struct {
	Product         Product          `json:"product"`
	Quantity        int              `json:"quantity"`
	SelectedOptions []SelectedOption `json:"selected_options,omitempty"`
}

// Key returns the identity key for this line item.
func (i CartLineItem) Key() string {
	return ItemKey(i.Product.ID, i.SelectedOptions)
}

// UnitPrice is the product price plus all selected option deltas.
func (i CartLineItem) UnitPrice() float64 {
	price := i.Product.Price
	for _, opt := range i.SelectedOptions {
		price += opt.PriceDelta
	}
	return price
}

// Subtotal is UnitPrice multiplied by quantity.
func (i CartLineItem) Subtotal() float64 {
	return i.UnitPrice() * float64(i.Quantity)
}

// Clone returns a copy whose option slice does not alias the original.
func (i CartLineItem) Clone() CartLineItem {
	out := i
	if i.SelectedOptions != nil {
		out.SelectedOptions = make([]SelectedOption, len(i.SelectedOptions))
		copy(out.SelectedOptions, i.SelectedOptions)
	}
	return out
}

// CloneItems deep-copies a line item slice.
func CloneItems(items []CartLineItem) []CartLineItem {
	if items == nil {
		return nil
	}
	out := make([]CartLineItem, len(items))
	for idx, item := range items {
		out[idx] = item.Clone()
	}
	return out
}

// CartState is the aggregate the engine owns. ItemCount and TotalPrice are
// caches recomputed after every mutation, never stored authoritatively.
type CartState struct {
	Items      []CartLineItem `json:"items"`
	Version    int64          `json:"version"`
	LastSynced *time.Time     `json:"last_synced,omitempty"`
	IsDirty    bool           `json:"is_dirty"`
	ItemCount  int            `json:"item_count"`
	TotalPrice float64        `json:"total_price"`
}

// Recompute refreshes the derived ItemCount and TotalPrice caches.
func (s *CartState) Recompute() {
	count := 0
	total := 0.0
	for _, item := range s.Items {
		count += item.Quantity
		total += item.Subtotal()
	}
	s.ItemCount = count
	s.TotalPrice = total
}

// Clone returns a deep copy safe to hand to callers.
func (s CartState) Clone() CartState {
	out := s
	out.Items = CloneItems(s.Items)
	if s.LastSynced != nil {
		ts := *s.LastSynced
		out.LastSynced = &ts
	}
	return out
}

// FindByKey returns the index of the item with the given identity key, or -1.
func (s CartState) FindByKey(key string) int {
	for idx, item := range s.Items {
		if item.Key() == key {
			return idx
		}
	}
	return -1
}

// RemoteCart is the authoritative cart as the server reports it.
type RemoteCart struct {
	Items   []CartLineItem `json:"items"`
	Version int64          `json:"version"`
}
