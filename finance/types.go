/*
Package finance provides the wallet/transaction consistency core.

PURPOSE:
  Users record income and expense transactions against wallets and
  categories. Each wallet caches a running balance. This package is the
  only code that mutates that balance, and it does so as a side effect of
  transaction create/update/delete.

KEY CONCEPTS IN THIS FILE (types.go):
  - Wallet:         An account with a cached running balance
  - Category:       A classification label (income or expense)
  - Transaction:    A single money movement affecting zero or one wallet
  - KeywordMapping: keyword -> category lookup used by the assistant
  - Delta:          The signed contribution of a transaction to its wallet

CRITICAL INVARIANT:
  For every wallet w:
    w.Balance == SUM(Delta(t)) for t in transactions where t.WalletID == w.ID
  where Delta(t) = +Amount for income, -Amount for expense.

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal, never float64, for money
  2. Canonical ids: internal code only handles UUID ids; names are resolved
     once at the boundary (see resolver.go)
  3. Weak references: a transaction references a wallet/category by id;
     deleting the transaction never deletes either

SEE ALSO:
  - ledger.go:   Transaction lifecycle (the balance protocol)
  - resolver.go: Name-or-id normalization
  - store.go:    Entity store interface
  - wire.go:     Wire (JSON-safe) representations
*/
package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMS
// =============================================================================

// TxType is the direction of a transaction.
type TxType string

const (
	TypeExpense TxType = "expense"
	TypeIncome  TxType = "income"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	return t == TypeExpense || t == TypeIncome
}

// TxStatus is the lifecycle status of a transaction. It does not affect
// the balance contribution.
type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusCompleted TxStatus = "completed"
	StatusCancelled TxStatus = "cancelled"
)

func (s TxStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// =============================================================================
// LIMITS & DEFAULTS
// =============================================================================

const (
	MaxNameLength        = 50
	MaxDescriptionLength = 200

	DefaultCategoryColor = "#6b7280"
	DefaultWalletName    = "default wallet"
)

// =============================================================================
// ENTITIES
// =============================================================================

type Wallet struct {
	ID        string
	Name      string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Category struct {
	ID          string
	Name        string
	DefaultType TxType
	Color       string
	Icon        string
	IsDefault   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transaction is a recorded money movement. WalletID and CategoryID are
// empty when the transaction has no wallet or category.
type Transaction struct {
	ID          string
	Amount      decimal.Decimal
	Description string
	Type        TxType
	CategoryID  string
	WalletID    string
	Date        time.Time
	Status      TxStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Delta returns the signed contribution of tx to its wallet balance.
func (tx Transaction) Delta() decimal.Decimal {
	return SignedAmount(tx.Amount, tx.Type)
}

// SignedAmount applies the sign rule: +amount for income, -amount otherwise.
func SignedAmount(amount decimal.Decimal, t TxType) decimal.Decimal {
	if t == TypeIncome {
		return amount
	}
	return amount.Neg()
}

type KeywordMapping struct {
	ID         string
	Keyword    string
	CategoryID string
	CreatedAt  time.Time
}

// =============================================================================
// FILTERS
// =============================================================================

// TransactionFilter selects transactions. Zero-valued fields match anything.
type TransactionFilter struct {
	WalletID   string
	CategoryID string
	Type       TxType
	Status     TxStatus
	From       *time.Time // inclusive, on Date
	To         *time.Time // inclusive, on Date
}

// Matches reports whether tx satisfies the filter.
func (f TransactionFilter) Matches(tx Transaction) bool {
	if f.WalletID != "" && tx.WalletID != f.WalletID {
		return false
	}
	if f.CategoryID != "" && tx.CategoryID != f.CategoryID {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if f.From != nil && tx.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.Date.After(*f.To) {
		return false
	}
	return true
}

type KeywordFilter struct {
	CategoryID string
}
