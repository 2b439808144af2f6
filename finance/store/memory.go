// Package store provides in-memory finance.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/finance-ledger/finance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every collection in maps guarded by one RWMutex. It does not
// implement finance.TxStore; use TxMemory for all-or-nothing mutations.
type Memory struct {
	mu   sync.RWMutex
	data *collections
}

func NewMemory() *Memory {
	return &Memory{data: newCollections()}
}

func (m *Memory) GetWallet(ctx context.Context, id string) (*finance.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetWallet(ctx, id)
}

func (m *Memory) FindWalletByName(ctx context.Context, name string) (*finance.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.FindWalletByName(ctx, name)
}

func (m *Memory) ListWallets(ctx context.Context) ([]finance.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListWallets(ctx)
}

func (m *Memory) InsertWallet(ctx context.Context, w finance.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertWallet(ctx, w)
}

func (m *Memory) UpdateWallet(ctx context.Context, w finance.Wallet) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateWallet(ctx, w)
}

func (m *Memory) IncrementWalletBalance(ctx context.Context, id string, delta decimal.Decimal, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.IncrementWalletBalance(ctx, id, delta, at)
}

func (m *Memory) DeleteWallet(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteWallet(ctx, id)
}

func (m *Memory) GetCategory(ctx context.Context, id string) (*finance.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetCategory(ctx, id)
}

func (m *Memory) FindCategoryByName(ctx context.Context, name string) (*finance.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.FindCategoryByName(ctx, name)
}

func (m *Memory) ListCategories(ctx context.Context) ([]finance.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListCategories(ctx)
}

func (m *Memory) InsertCategory(ctx context.Context, c finance.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertCategory(ctx, c)
}

func (m *Memory) UpdateCategory(ctx context.Context, c finance.Category) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateCategory(ctx, c)
}

func (m *Memory) DeleteCategory(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteCategory(ctx, id)
}

func (m *Memory) GetTransaction(ctx context.Context, id string) (*finance.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetTransaction(ctx, id)
}

func (m *Memory) ListTransactions(ctx context.Context, f finance.TransactionFilter) ([]finance.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListTransactions(ctx, f)
}

func (m *Memory) InsertTransaction(ctx context.Context, tx finance.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertTransaction(ctx, tx)
}

func (m *Memory) UpdateTransaction(ctx context.Context, tx finance.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateTransaction(ctx, tx)
}

func (m *Memory) DeleteTransaction(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteTransaction(ctx, id)
}

func (m *Memory) CountTransactions(ctx context.Context, f finance.TransactionFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.CountTransactions(ctx, f)
}

func (m *Memory) ListKeywordMappings(ctx context.Context) ([]finance.KeywordMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListKeywordMappings(ctx)
}

func (m *Memory) InsertKeywordMapping(ctx context.Context, km finance.KeywordMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertKeywordMapping(ctx, km)
}

func (m *Memory) DeleteKeywordMapping(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteKeywordMapping(ctx, id)
}

func (m *Memory) CountKeywordMappings(ctx context.Context, f finance.KeywordFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.CountKeywordMappings(ctx, f)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// fn runs with the store write-locked, so it must only use the Store it is
// given.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(finance.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.data.clone()
	if err := fn(tm.data); err != nil {
		tm.data = snapshot
		return err
	}
	return nil
}

// =============================================================================
// COLLECTIONS - unlocked state shared by Memory and the WithTx view
// =============================================================================

type collections struct {
	wallets      map[string]finance.Wallet
	categories   map[string]finance.Category
	transactions map[string]finance.Transaction
	keywords     map[string]finance.KeywordMapping
}

func newCollections() *collections {
	return &collections{
		wallets:      make(map[string]finance.Wallet),
		categories:   make(map[string]finance.Category),
		transactions: make(map[string]finance.Transaction),
		keywords:     make(map[string]finance.KeywordMapping),
	}
}

func (c *collections) clone() *collections {
	out := newCollections()
	for k, v := range c.wallets {
		out.wallets[k] = v
	}
	for k, v := range c.categories {
		out.categories[k] = v
	}
	for k, v := range c.transactions {
		out.transactions[k] = v
	}
	for k, v := range c.keywords {
		out.keywords[k] = v
	}
	return out
}

// --- wallets ---

func (c *collections) GetWallet(_ context.Context, id string) (*finance.Wallet, error) {
	w, ok := c.wallets[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (c *collections) FindWalletByName(_ context.Context, name string) (*finance.Wallet, error) {
	for _, w := range c.wallets {
		if w.Name == name {
			return &w, nil
		}
	}
	return nil, nil
}

func (c *collections) ListWallets(_ context.Context) ([]finance.Wallet, error) {
	out := make([]finance.Wallet, 0, len(c.wallets))
	for _, w := range c.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		return createdBefore(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID)
	})
	return out, nil
}

func (c *collections) InsertWallet(_ context.Context, w finance.Wallet) error {
	for _, existing := range c.wallets {
		if existing.Name == w.Name {
			return finance.ErrDuplicateName
		}
	}
	c.wallets[w.ID] = w
	return nil
}

func (c *collections) UpdateWallet(_ context.Context, w finance.Wallet) (bool, error) {
	current, ok := c.wallets[w.ID]
	if !ok {
		return false, nil
	}
	for id, existing := range c.wallets {
		if id != w.ID && existing.Name == w.Name {
			return false, finance.ErrDuplicateName
		}
	}
	current.Name = w.Name
	current.UpdatedAt = w.UpdatedAt
	c.wallets[w.ID] = current
	return true, nil
}

func (c *collections) IncrementWalletBalance(_ context.Context, id string, delta decimal.Decimal, at time.Time) (bool, error) {
	w, ok := c.wallets[id]
	if !ok {
		return false, nil
	}
	w.Balance = w.Balance.Add(delta)
	w.UpdatedAt = at
	c.wallets[id] = w
	return true, nil
}

func (c *collections) DeleteWallet(_ context.Context, id string) (bool, error) {
	if _, ok := c.wallets[id]; !ok {
		return false, nil
	}
	delete(c.wallets, id)
	return true, nil
}

// --- categories ---

func (c *collections) GetCategory(_ context.Context, id string) (*finance.Category, error) {
	cat, ok := c.categories[id]
	if !ok {
		return nil, nil
	}
	return &cat, nil
}

func (c *collections) FindCategoryByName(_ context.Context, name string) (*finance.Category, error) {
	for _, cat := range c.categories {
		if cat.Name == name {
			return &cat, nil
		}
	}
	return nil, nil
}

func (c *collections) ListCategories(_ context.Context) ([]finance.Category, error) {
	out := make([]finance.Category, 0, len(c.categories))
	for _, cat := range c.categories {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool {
		return createdBefore(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID)
	})
	return out, nil
}

func (c *collections) InsertCategory(_ context.Context, cat finance.Category) error {
	for _, existing := range c.categories {
		if existing.Name == cat.Name {
			return finance.ErrDuplicateName
		}
	}
	c.categories[cat.ID] = cat
	return nil
}

func (c *collections) UpdateCategory(_ context.Context, cat finance.Category) (bool, error) {
	current, ok := c.categories[cat.ID]
	if !ok {
		return false, nil
	}
	for id, existing := range c.categories {
		if id != cat.ID && existing.Name == cat.Name {
			return false, finance.ErrDuplicateName
		}
	}
	cat.CreatedAt = current.CreatedAt
	c.categories[cat.ID] = cat
	return true, nil
}

func (c *collections) DeleteCategory(_ context.Context, id string) (bool, error) {
	if _, ok := c.categories[id]; !ok {
		return false, nil
	}
	delete(c.categories, id)
	return true, nil
}

// --- transactions ---

func (c *collections) GetTransaction(_ context.Context, id string) (*finance.Transaction, error) {
	tx, ok := c.transactions[id]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (c *collections) ListTransactions(_ context.Context, f finance.TransactionFilter) ([]finance.Transaction, error) {
	var out []finance.Transaction
	for _, tx := range c.transactions {
		if f.Matches(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return out, nil
}

func (c *collections) InsertTransaction(_ context.Context, tx finance.Transaction) error {
	c.transactions[tx.ID] = tx
	return nil
}

func (c *collections) UpdateTransaction(_ context.Context, tx finance.Transaction) (bool, error) {
	current, ok := c.transactions[tx.ID]
	if !ok {
		return false, nil
	}
	tx.CreatedAt = current.CreatedAt
	c.transactions[tx.ID] = tx
	return true, nil
}

func (c *collections) DeleteTransaction(_ context.Context, id string) (bool, error) {
	if _, ok := c.transactions[id]; !ok {
		return false, nil
	}
	delete(c.transactions, id)
	return true, nil
}

func (c *collections) CountTransactions(_ context.Context, f finance.TransactionFilter) (int, error) {
	n := 0
	for _, tx := range c.transactions {
		if f.Matches(tx) {
			n++
		}
	}
	return n, nil
}

// --- keyword mappings ---

func (c *collections) ListKeywordMappings(_ context.Context) ([]finance.KeywordMapping, error) {
	out := make([]finance.KeywordMapping, 0, len(c.keywords))
	for _, km := range c.keywords {
		out = append(out, km)
	}
	sort.Slice(out, func(i, j int) bool {
		return createdBefore(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID)
	})
	return out, nil
}

func (c *collections) InsertKeywordMapping(_ context.Context, km finance.KeywordMapping) error {
	for _, existing := range c.keywords {
		if existing.Keyword == km.Keyword {
			return finance.ErrDuplicateKeyword
		}
	}
	c.keywords[km.ID] = km
	return nil
}

func (c *collections) DeleteKeywordMapping(_ context.Context, id string) (bool, error) {
	if _, ok := c.keywords[id]; !ok {
		return false, nil
	}
	delete(c.keywords, id)
	return true, nil
}

func (c *collections) CountKeywordMappings(_ context.Context, f finance.KeywordFilter) (int, error) {
	n := 0
	for _, km := range c.keywords {
		if f.CategoryID == "" || km.CategoryID == f.CategoryID {
			n++
		}
	}
	return n, nil
}

func createdBefore(a time.Time, aID string, b time.Time, bID string) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return aID < bID
}
