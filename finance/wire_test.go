package finance_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-ledger/finance"
)

func TestWire_TransactionRoundTrip(t *testing.T) {
	// GIVEN: A transaction with sub-second timestamps and no category
	at := time.Date(2025, 6, 1, 12, 30, 45, 123456789, time.UTC)
	tx := finance.Transaction{
		ID:          "6f1c2a8e-5b0d-4c1e-9a7f-2d3b4c5e6f70",
		Amount:      dec("100.50"),
		Description: "paycheck",
		Type:        finance.TypeIncome,
		WalletID:    "a1b2c3d4-0000-4000-8000-000000000001",
		Date:        at,
		Status:      finance.StatusPending,
		CreatedAt:   at,
		UpdatedAt:   at.Add(time.Minute),
	}

	// WHEN: Converting to wire, through JSON, and back
	raw, err := json.Marshal(tx.Wire())
	require.NoError(t, err)
	var wire finance.WireTransaction
	require.NoError(t, json.Unmarshal(raw, &wire))
	back, err := wire.Native()
	require.NoError(t, err)

	// THEN: Every field survives
	assert.Equal(t, tx.ID, back.ID)
	assert.True(t, tx.Amount.Equal(back.Amount))
	assert.Equal(t, tx.Description, back.Description)
	assert.Equal(t, tx.Type, back.Type)
	assert.Equal(t, tx.Status, back.Status)
	assert.Empty(t, back.CategoryID)
	assert.Equal(t, tx.WalletID, back.WalletID)
	assert.True(t, tx.Date.Equal(back.Date))
	assert.True(t, tx.CreatedAt.Equal(back.CreatedAt))
	assert.True(t, tx.UpdatedAt.Equal(back.UpdatedAt))
}

func TestWire_TransactionShape(t *testing.T) {
	tx := finance.Transaction{
		Amount: dec("7"),
		Date:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600)),
	}

	raw, err := json.Marshal(tx.Wire())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "7", m["amount"])
	assert.Nil(t, m["categoryId"])
	assert.Nil(t, m["walletId"])
	assert.Equal(t, "2025-01-02T02:04:05Z", m["date"])
}

func TestWire_WalletAndCategoryRoundTrip(t *testing.T) {
	at := time.Date(2025, 2, 3, 4, 5, 6, 7, time.UTC)
	w := finance.Wallet{ID: "w", Name: "Main", Balance: dec("-30.25"), CreatedAt: at, UpdatedAt: at}
	c := finance.Category{ID: "c", Name: "Food", DefaultType: finance.TypeExpense, Color: "#fff", IsDefault: true, CreatedAt: at, UpdatedAt: at}

	wb, err := w.Wire().Native()
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(wb.Balance))
	assert.True(t, w.CreatedAt.Equal(wb.CreatedAt))
	assert.Equal(t, w.Name, wb.Name)

	cb, err := c.Wire().Native()
	require.NoError(t, err)
	assert.Equal(t, c, cb)
}

func TestWire_Native_RejectsGarbage(t *testing.T) {
	_, err := finance.WireTransaction{Amount: "ten", Date: "yesterday", CreatedAt: "x", UpdatedAt: "x"}.Native()

	var verr *finance.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 4)
}

func TestParseTime_DateOnly(t *testing.T) {
	got, err := finance.ParseTime("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), got)
}
