package product

import (
	"strings"
	"time"
)

// Product is a single catalog entry. SKU holds the case-folded key used for
// uniqueness; the casing supplied in the source file is not preserved.
type Product struct {
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Active         bool      `json:"active"`
	LastModifiedAt time.Time `json:"last_modified_at"`
}

// FoldSKU normalizes a stock-keeping identifier into the catalog key.
func FoldSKU(sku string) string {
	return strings.ToLower(strings.TrimSpace(sku))
}
