package model

// OptionChoice is one selectable value inside an option group.
type OptionChoice struct {
	Name       string  `json:"name"`
	PriceDelta float64 `json:"price_delta"`
}

// OptionGroup is an ordered group of selectable options on a product.
type OptionGroup struct {
	Name     string         `json:"name"`
	Required bool           `json:"required"`
	Choices  []OptionChoice `json:"choices"`
}

// Product is the catalog-level description of an item. The engine never
// mutates it; the catalog owns it.
type Product struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Price           float64       `json:"price"`
	Category        string        `json:"category"`
	ImageURL        string        `json:"image_url"`
	Description     string        `json:"description"`
	Rating          float64       `json:"rating"`
	PrepTimeMinutes int           `json:"prep_time_minutes"`
	OptionGroups    []OptionGroup `json:"option_groups,omitempty"`
	Ingredients     []string      `json:"ingredients,omitempty"`
	DietaryTags     []string      `json:"dietary_tags,omitempty"`
}

// SelectedOption is a chosen option on a cart line item.
type SelectedOption struct {
	Name       string  `json:"name"`
	PriceDelta float64 `json:"price_delta"`
}
