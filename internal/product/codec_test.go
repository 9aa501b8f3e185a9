package product

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodec(t *testing.T) {
	t.Run("resolves columns case insensitively", func(t *testing.T) {
		c, err := NewCodec([]string{"SKU", "Name", "Description"})
		require.NoError(t, err)
		assert.Equal(t, 0, c.skuIdx)
		assert.Equal(t, 1, c.nameIdx)
		assert.Equal(t, 2, c.descIdx)
	})

	t.Run("accepts desc synonym", func(t *testing.T) {
		c, err := NewCodec([]string{"sku", "name", "desc"})
		require.NoError(t, err)
		assert.Equal(t, 2, c.descIdx)
	})

	t.Run("missing sku column", func(t *testing.T) {
		_, err := NewCodec([]string{"name", "description"})
		assert.ErrorIs(t, err, ErrMissingColumn)
	})

	t.Run("missing name column", func(t *testing.T) {
		_, err := NewCodec([]string{"sku"})
		assert.ErrorIs(t, err, ErrMissingColumn)
	})
}

func TestCodecDecode(t *testing.T) {
	c, err := NewCodec([]string{"sku", "name", "description"})
	require.NoError(t, err)

	t.Run("folds sku", func(t *testing.T) {
		p, err := c.Decode([]string{"  ABC-123 ", "Widget", "a widget"})
		require.NoError(t, err)
		assert.Equal(t, "abc-123", p.SKU)
		assert.Equal(t, "Widget", p.Name)
		assert.Equal(t, "a widget", p.Description)
		assert.True(t, p.Active)
	})

	t.Run("missing sku", func(t *testing.T) {
		_, err := c.Decode([]string{"", "Widget", ""})
		assert.Error(t, err)
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := c.Decode([]string{"abc", "  ", ""})
		assert.Error(t, err)
	})

	t.Run("short row", func(t *testing.T) {
		p, err := c.Decode([]string{"abc", "Widget"})
		require.NoError(t, err)
		assert.Equal(t, "", p.Description)
	})
}

func TestFoldSKU(t *testing.T) {
	assert.Equal(t, "abc", FoldSKU(" ABC "))
	assert.Equal(t, "a1-b2", FoldSKU("A1-B2"))
}
