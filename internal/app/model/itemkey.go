package model

import (
	"sort"
	"strings"
)

// ItemKey derives the stable identity for a (product, selected options)
// pair. Option order must not matter, so names are sorted before joining;
// two requests with equal option sets always collapse to the same key.
func ItemKey(productID string, options []SelectedOption) string {
	if len(options) == 0 {
		return productID
	}

	names := make([]string, len(options))
	for idx, opt := range options {
		names[idx] = opt.Name
	}
	sort.Strings(names)

	return productID + "::" + strings.Join(names, ",")
}
