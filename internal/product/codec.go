package product

import (
	"fmt"
	"strings"
)

// Codec maps raw source rows onto Products using the column layout declared
// by the header row. Column matching is case-insensitive and "desc" is
// accepted as a synonym for "description".
type Codec struct {
	skuIdx  int
	nameIdx int
	descIdx int
}

var ErrMissingColumn = fmt.Errorf("required column missing")

// NewCodec resolves column positions from the header row. The header must
// contain "sku" and "name" columns; "description"/"desc" is optional.
func NewCodec(header []string) (*Codec, error) {
	c := &Codec{skuIdx: -1, nameIdx: -1, descIdx: -1}

	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "sku":
			c.skuIdx = i
		case "name":
			c.nameIdx = i
		case "description", "desc":
			c.descIdx = i
		}
	}

	if c.skuIdx < 0 {
		return nil, fmt.Errorf("%w: sku", ErrMissingColumn)
	}
	if c.nameIdx < 0 {
		return nil, fmt.Errorf("%w: name", ErrMissingColumn)
	}

	return c, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// Decode converts one data row into a Product. A row missing a required
// field returns an error; callers treat this as a row-level failure, not a
// fatal one.
func (c *Codec) Decode(row []string) (Product, error) {
	sku := FoldSKU(cell(row, c.skuIdx))
	name := cell(row, c.nameIdx)

	if sku == "" {
		return Product{}, fmt.Errorf("row missing required field sku")
	}
	if name == "" {
		return Product{}, fmt.Errorf("row missing required field name (sku %q)", sku)
	}

	return Product{
		SKU:         sku,
		Name:        name,
		Description: cell(row, c.descIdx),
		Active:      true,
	}, nil
}
