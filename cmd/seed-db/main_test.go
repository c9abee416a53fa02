package main

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleCoupons(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	codes := make(map[string]bool)
	for _, n := range sampleCoupons(now) {
		require.NoError(t, n.Validate(), n.Code)
		c := n.Coupon()
		assert.False(t, codes[c.Code], "duplicate code %s", c.Code)
		codes[c.Code] = true
		assert.True(t, c.Active)
		assert.Zero(t, c.UsageCount)
	}
}

func TestSeedProductsFile(t *testing.T) {
	data, err := os.ReadFile("../../db/seed/products.json")
	require.NoError(t, err)

	var products []productJSON
	require.NoError(t, json.Unmarshal(data, &products))
	require.NotEmpty(t, products)

	ids := make(map[string]bool)
	for _, p := range products {
		assert.NotEmpty(t, p.ID)
		assert.NotEmpty(t, p.Name)
		assert.False(t, p.Price.IsNegative(), p.ID)
		assert.GreaterOrEqual(t, p.Stock, 0, p.ID)
		assert.False(t, ids[p.ID], "duplicate id %s", p.ID)
		ids[p.ID] = true
	}
}
