package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/turbolytics/stockroom/internal/product"
)

func TestDedup(t *testing.T) {
	t.Run("empty and single pass through", func(t *testing.T) {
		assert.Empty(t, Dedup(nil))

		one := []product.Product{{SKU: "a1", Name: "X"}}
		assert.Equal(t, one, Dedup(one))
	})

	t.Run("last occurrence wins", func(t *testing.T) {
		out := Dedup([]product.Product{
			{SKU: "a1", Name: "X"},
			{SKU: "b2", Name: "Z"},
			{SKU: "a1", Name: "Y"},
		})

		assert.Equal(t, []product.Product{
			{SKU: "a1", Name: "Y"},
			{SKU: "b2", Name: "Z"},
		}, out)
	})

	t.Run("keys are already folded by the codec", func(t *testing.T) {
		// rows {sku:"abc"} then {sku:"ABC"} decode to the same folded key
		out := Dedup([]product.Product{
			{SKU: "abc", Name: "first"},
			{SKU: "abc", Name: "second"},
		})

		assert.Len(t, out, 1)
		assert.Equal(t, "second", out[0].Name)
	})
}
