/*
wire.go - Wire representations of the finance entities

PURPOSE:
  Converts native entities (decimal amounts, time.Time, empty-string
  "no reference") to JSON-safe shapes and back:

    ids          -> string, absent reference -> null
    timestamps   -> RFC 3339 with nanoseconds, always UTC
    money        -> decimal string ("100.50"), never a float

  Converting native -> wire -> native yields equal field values.
*/
package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// WireTime is the timestamp layout on the wire.
const WireTime = time.RFC3339Nano

type WireWallet struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Balance   string `json:"balance"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type WireCategory struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DefaultType string `json:"defaultType"`
	Color       string `json:"color"`
	Icon        string `json:"icon,omitempty"`
	IsDefault   bool   `json:"isDefault"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type WireTransaction struct {
	ID          string  `json:"id"`
	Amount      string  `json:"amount"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	CategoryID  *string `json:"categoryId"`
	WalletID    *string `json:"walletId"`
	Date        string  `json:"date"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

type WireKeywordMapping struct {
	ID         string `json:"id"`
	Keyword    string `json:"keyword"`
	CategoryID string `json:"categoryId"`
	CreatedAt  string `json:"createdAt"`
}

// =============================================================================
// NATIVE -> WIRE
// =============================================================================

func (w Wallet) Wire() WireWallet {
	return WireWallet{
		ID:        w.ID,
		Name:      w.Name,
		Balance:   w.Balance.String(),
		CreatedAt: FormatTime(w.CreatedAt),
		UpdatedAt: FormatTime(w.UpdatedAt),
	}
}

func (c Category) Wire() WireCategory {
	return WireCategory{
		ID:          c.ID,
		Name:        c.Name,
		DefaultType: string(c.DefaultType),
		Color:       c.Color,
		Icon:        c.Icon,
		IsDefault:   c.IsDefault,
		CreatedAt:   FormatTime(c.CreatedAt),
		UpdatedAt:   FormatTime(c.UpdatedAt),
	}
}

func (tx Transaction) Wire() WireTransaction {
	return WireTransaction{
		ID:          tx.ID,
		Amount:      tx.Amount.String(),
		Description: tx.Description,
		Type:        string(tx.Type),
		CategoryID:  optionalID(tx.CategoryID),
		WalletID:    optionalID(tx.WalletID),
		Date:        FormatTime(tx.Date),
		Status:      string(tx.Status),
		CreatedAt:   FormatTime(tx.CreatedAt),
		UpdatedAt:   FormatTime(tx.UpdatedAt),
	}
}

func (m KeywordMapping) Wire() WireKeywordMapping {
	return WireKeywordMapping{
		ID:         m.ID,
		Keyword:    m.Keyword,
		CategoryID: m.CategoryID,
		CreatedAt:  FormatTime(m.CreatedAt),
	}
}

// =============================================================================
// WIRE -> NATIVE
// =============================================================================

func (w WireWallet) Native() (Wallet, error) {
	v := &ValidationError{}
	out := Wallet{
		ID:        w.ID,
		Name:      w.Name,
		Balance:   parseWireDecimal(v, "balance", w.Balance),
		CreatedAt: parseWireTime(v, "createdAt", w.CreatedAt),
		UpdatedAt: parseWireTime(v, "updatedAt", w.UpdatedAt),
	}
	return out, v.orNil()
}

func (c WireCategory) Native() (Category, error) {
	v := &ValidationError{}
	out := Category{
		ID:          c.ID,
		Name:        c.Name,
		DefaultType: TxType(c.DefaultType),
		Color:       c.Color,
		Icon:        c.Icon,
		IsDefault:   c.IsDefault,
		CreatedAt:   parseWireTime(v, "createdAt", c.CreatedAt),
		UpdatedAt:   parseWireTime(v, "updatedAt", c.UpdatedAt),
	}
	return out, v.orNil()
}

func (t WireTransaction) Native() (Transaction, error) {
	v := &ValidationError{}
	out := Transaction{
		ID:          t.ID,
		Amount:      parseWireDecimal(v, "amount", t.Amount),
		Description: t.Description,
		Type:        TxType(t.Type),
		CategoryID:  derefID(t.CategoryID),
		WalletID:    derefID(t.WalletID),
		Date:        parseWireTime(v, "date", t.Date),
		Status:      TxStatus(t.Status),
		CreatedAt:   parseWireTime(v, "createdAt", t.CreatedAt),
		UpdatedAt:   parseWireTime(v, "updatedAt", t.UpdatedAt),
	}
	return out, v.orNil()
}

func (m WireKeywordMapping) Native() (KeywordMapping, error) {
	v := &ValidationError{}
	out := KeywordMapping{
		ID:         m.ID,
		Keyword:    m.Keyword,
		CategoryID: m.CategoryID,
		CreatedAt:  parseWireTime(v, "createdAt", m.CreatedAt),
	}
	return out, v.orNil()
}

// =============================================================================
// HELPERS
// =============================================================================

// FormatTime renders t in the wire layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(WireTime)
}

// ParseTime accepts the wire layout, plain RFC 3339 and a bare YYYY-MM-DD
// date (midnight UTC).
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseWireTime(v *ValidationError, field, s string) time.Time {
	t, err := ParseTime(s)
	if err != nil {
		v.add(field, "must be an RFC 3339 timestamp")
	}
	return t
}

func parseWireDecimal(v *ValidationError, field, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		v.add(field, "must be a decimal number")
	}
	return d
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func derefID(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
