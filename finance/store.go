/*
store.go - Entity store interface

PURPOSE:
  Defines the boundary between the finance core and persistence. One
  collection per entity kind (wallets, categories, transactions, keyword
  mappings), addressed by opaque string ids.

OPERATION SET (per collection):
  Get*          point lookup by id           (nil, nil when absent)
  Find*ByName   point lookup by unique name  (nil, nil when absent)
  List*         filtered scan
  Insert*       insert; ErrDuplicateName on a unique-name violation
  Update*       set fields; reports whether a document matched
  Delete*       delete; reports whether a document was deleted
  Count*        count matching documents
  IncrementWalletBalance  atomic balance += delta

ATOMICITY:
  A Store is not required to support multi-document transactions. Stores
  that can, implement TxStore and the Ledger then runs every mutation
  inside WithTx (all-or-nothing). IncrementWalletBalance must be atomic
  on its own in every implementation.

IMPLEMENTATIONS:
  - finance/store/memory.go: in-memory, for tests and `STORE=memory`
  - store/sqlite:            SQLite with embedded migrations
*/
package finance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the entity store consumed by the Ledger and the Resolver.
type Store interface {
	WalletStore
	CategoryStore
	TransactionStore
	KeywordStore
}

type WalletStore interface {
	GetWallet(ctx context.Context, id string) (*Wallet, error)
	FindWalletByName(ctx context.Context, name string) (*Wallet, error)
	// ListWallets returns wallets ordered by CreatedAt, then ID.
	ListWallets(ctx context.Context) ([]Wallet, error)
	InsertWallet(ctx context.Context, w Wallet) error
	// UpdateWallet sets Name and UpdatedAt. Balance is never written here.
	UpdateWallet(ctx context.Context, w Wallet) (bool, error)
	IncrementWalletBalance(ctx context.Context, id string, delta decimal.Decimal, at time.Time) (bool, error)
	DeleteWallet(ctx context.Context, id string) (bool, error)
}

type CategoryStore interface {
	GetCategory(ctx context.Context, id string) (*Category, error)
	FindCategoryByName(ctx context.Context, name string) (*Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	InsertCategory(ctx context.Context, c Category) error
	UpdateCategory(ctx context.Context, c Category) (bool, error)
	DeleteCategory(ctx context.Context, id string) (bool, error)
}

type TransactionStore interface {
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	// ListTransactions returns matches ordered by Date descending, then CreatedAt descending.
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)
	InsertTransaction(ctx context.Context, tx Transaction) error
	UpdateTransaction(ctx context.Context, tx Transaction) (bool, error)
	DeleteTransaction(ctx context.Context, id string) (bool, error)
	CountTransactions(ctx context.Context, f TransactionFilter) (int, error)
}

type KeywordStore interface {
	ListKeywordMappings(ctx context.Context) ([]KeywordMapping, error)
	InsertKeywordMapping(ctx context.Context, m KeywordMapping) error
	DeleteKeywordMapping(ctx context.Context, id string) (bool, error)
	CountKeywordMappings(ctx context.Context, f KeywordFilter) (int, error)
}

// TxStore is a Store that can run a function atomically.
// If fn returns an error, every write made through the passed Store is
// rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// runAtomic runs fn inside WithTx when s supports it, otherwise directly.
func runAtomic(ctx context.Context, s Store, fn func(Store) error) error {
	if ts, ok := s.(TxStore); ok {
		return ts.WithTx(ctx, fn)
	}
	return fn(s)
}
