/*
Package sqlite provides a SQLite-backed implementation of finance.TxStore.

PURPOSE:
  Persists wallets, categories, transactions and keyword mappings. Every
  Ledger mutation runs inside WithTx, so a transaction document and its
  wallet increment commit or roll back together.

KEY TABLES:
  wallets:          name UNIQUE, balance as a decimal string
  categories:       name UNIQUE
  transactions:     nullable wallet/category references (foreign keys on)
  keyword_mappings: keyword UNIQUE

MONEY & TIME:
  Decimals are stored as TEXT and never pass through float64. Timestamps
  are fixed-width UTC strings (nanosecond precision), so lexical order is
  chronological order and the date filters compare plain strings.

CONCURRENCY:
  The pool is capped at one connection. Writers are serialized by SQLite
  anyway, and ":memory:" databases only exist per connection. Balance
  increments are read-modify-write inside a database transaction.

MIGRATION:
  Schema is versioned under migrations/ and applied on New() with
  golang-migrate (embedded iofs source).

USAGE:
  store, err := sqlite.New("./data/finance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := finance.NewLedger(store)

SEE ALSO:
  - finance/store.go: Interface definitions
  - finance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/finance-ledger/finance"
)

// timeLayout is RFC 3339 with a fixed nine-digit fraction.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements finance.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
}

var _ finance.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{queries: queries{q: db}, db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IncrementWalletBalance runs the read-modify-write in its own transaction
// when called outside WithTx.
func (s *Store) IncrementWalletBalance(ctx context.Context, id string, delta decimal.Decimal, at time.Time) (bool, error) {
	var matched bool
	err := s.WithTx(ctx, func(st finance.Store) error {
		var err error
		matched, err = st.IncrementWalletBalance(ctx, id, delta, at)
		return err
	})
	return matched, err
}

// =============================================================================
// TRANSACTIONAL STORE (finance.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store finance.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - shared by the root store and the WithTx view
// =============================================================================

type queries struct {
	q querier
}

// --- wallets ---

const walletColumns = `id, name, balance, created_at, updated_at`

func (qs queries) GetWallet(ctx context.Context, id string) (*finance.Wallet, error) {
	return qs.getWallet(ctx, "SELECT "+walletColumns+" FROM wallets WHERE id = ?", id)
}

func (qs queries) FindWalletByName(ctx context.Context, name string) (*finance.Wallet, error) {
	return qs.getWallet(ctx, "SELECT "+walletColumns+" FROM wallets WHERE name = ?", name)
}

func (qs queries) getWallet(ctx context.Context, query string, arg string) (*finance.Wallet, error) {
	w, err := scanWallet(qs.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (qs queries) ListWallets(ctx context.Context) ([]finance.Wallet, error) {
	rows, err := qs.q.QueryContext(ctx, "SELECT "+walletColumns+" FROM wallets ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []finance.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func (qs queries) InsertWallet(ctx context.Context, w finance.Wallet) error {
	_, err := qs.q.ExecContext(ctx,
		"INSERT INTO wallets ("+walletColumns+") VALUES (?, ?, ?, ?, ?)",
		w.ID, w.Name, w.Balance.String(), formatTime(w.CreatedAt), formatTime(w.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return finance.ErrDuplicateName
	}
	return err
}

func (qs queries) UpdateWallet(ctx context.Context, w finance.Wallet) (bool, error) {
	res, err := qs.q.ExecContext(ctx,
		"UPDATE wallets SET name = ?, updated_at = ? WHERE id = ?",
		w.Name, formatTime(w.UpdatedAt), w.ID,
	)
	if isUniqueConstraintError(err) {
		return false, finance.ErrDuplicateName
	}
	return affected(res, err)
}

func (qs queries) IncrementWalletBalance(ctx context.Context, id string, delta decimal.Decimal, at time.Time) (bool, error) {
	var balance string
	err := qs.q.QueryRowContext(ctx, "SELECT balance FROM wallets WHERE id = ?", id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	current, err := decimal.NewFromString(balance)
	if err != nil {
		return false, fmt.Errorf("wallet %s has a corrupt balance %q: %w", id, balance, err)
	}

	res, err := qs.q.ExecContext(ctx,
		"UPDATE wallets SET balance = ?, updated_at = ? WHERE id = ?",
		current.Add(delta).String(), formatTime(at), id,
	)
	return affected(res, err)
}

func (qs queries) DeleteWallet(ctx context.Context, id string) (bool, error) {
	return affected(qs.q.ExecContext(ctx, "DELETE FROM wallets WHERE id = ?", id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (finance.Wallet, error) {
	var (
		w                    finance.Wallet
		balance              string
		createdAt, updatedAt string
	)
	if err := row.Scan(&w.ID, &w.Name, &balance, &createdAt, &updatedAt); err != nil {
		return w, err
	}
	var err error
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return w, fmt.Errorf("wallet %s has a corrupt balance %q: %w", w.ID, balance, err)
	}
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return w, fmt.Errorf("wallet %s: %w", w.ID, err)
	}
	if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return w, fmt.Errorf("wallet %s: %w", w.ID, err)
	}
	return w, nil
}

// --- categories ---

const categoryColumns = `id, name, default_type, color, icon, is_default, created_at, updated_at`

func (qs queries) GetCategory(ctx context.Context, id string) (*finance.Category, error) {
	return qs.getCategory(ctx, "SELECT "+categoryColumns+" FROM categories WHERE id = ?", id)
}

func (qs queries) FindCategoryByName(ctx context.Context, name string) (*finance.Category, error) {
	return qs.getCategory(ctx, "SELECT "+categoryColumns+" FROM categories WHERE name = ?", name)
}

func (qs queries) getCategory(ctx context.Context, query string, arg string) (*finance.Category, error) {
	c, err := scanCategory(qs.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (qs queries) ListCategories(ctx context.Context) ([]finance.Category, error) {
	rows, err := qs.q.QueryContext(ctx, "SELECT "+categoryColumns+" FROM categories ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []finance.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (qs queries) InsertCategory(ctx context.Context, c finance.Category) error {
	_, err := qs.q.ExecContext(ctx,
		"INSERT INTO categories ("+categoryColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.Name, string(c.DefaultType), c.Color, nullString(c.Icon), c.IsDefault,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return finance.ErrDuplicateName
	}
	return err
}

func (qs queries) UpdateCategory(ctx context.Context, c finance.Category) (bool, error) {
	res, err := qs.q.ExecContext(ctx, `
		UPDATE categories
		SET name = ?, default_type = ?, color = ?, icon = ?, is_default = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, string(c.DefaultType), c.Color, nullString(c.Icon), c.IsDefault, formatTime(c.UpdatedAt), c.ID,
	)
	if isUniqueConstraintError(err) {
		return false, finance.ErrDuplicateName
	}
	return affected(res, err)
}

func (qs queries) DeleteCategory(ctx context.Context, id string) (bool, error) {
	return affected(qs.q.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id))
}

func scanCategory(row rowScanner) (finance.Category, error) {
	var (
		c                    finance.Category
		defaultType          string
		icon                 sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.Name, &defaultType, &c.Color, &icon, &c.IsDefault, &createdAt, &updatedAt)
	if err != nil {
		return c, err
	}
	c.DefaultType = finance.TxType(defaultType)
	c.Icon = icon.String
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return c, fmt.Errorf("category %s: %w", c.ID, err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return c, fmt.Errorf("category %s: %w", c.ID, err)
	}
	return c, nil
}

// --- transactions ---

const transactionColumns = `id, amount, description, type, category_id, wallet_id, date, status, created_at, updated_at`

func (qs queries) GetTransaction(ctx context.Context, id string) (*finance.Transaction, error) {
	tx, err := scanTransaction(qs.q.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (qs queries) ListTransactions(ctx context.Context, f finance.TransactionFilter) ([]finance.Transaction, error) {
	where, args := transactionWhere(f)
	rows, err := qs.q.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions"+where+" ORDER BY date DESC, created_at DESC, id DESC",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []finance.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func (qs queries) InsertTransaction(ctx context.Context, tx finance.Transaction) error {
	_, err := qs.q.ExecContext(ctx,
		"INSERT INTO transactions ("+transactionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		tx.ID, tx.Amount.String(), tx.Description, string(tx.Type),
		nullString(tx.CategoryID), nullString(tx.WalletID),
		formatTime(tx.Date), string(tx.Status), formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (qs queries) UpdateTransaction(ctx context.Context, tx finance.Transaction) (bool, error) {
	return affected(qs.q.ExecContext(ctx, `
		UPDATE transactions
		SET amount = ?, description = ?, type = ?, category_id = ?, wallet_id = ?,
		    date = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		tx.Amount.String(), tx.Description, string(tx.Type),
		nullString(tx.CategoryID), nullString(tx.WalletID),
		formatTime(tx.Date), string(tx.Status), formatTime(tx.UpdatedAt), tx.ID,
	))
}

func (qs queries) DeleteTransaction(ctx context.Context, id string) (bool, error) {
	return affected(qs.q.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id))
}

func (qs queries) CountTransactions(ctx context.Context, f finance.TransactionFilter) (int, error) {
	where, args := transactionWhere(f)
	var n int
	err := qs.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions"+where, args...).Scan(&n)
	return n, err
}

func transactionWhere(f finance.TransactionFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.WalletID != "" {
		conds = append(conds, "wallet_id = ?")
		args = append(args, f.WalletID)
	}
	if f.CategoryID != "" {
		conds = append(conds, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.From != nil {
		conds = append(conds, "date >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "date <= ?")
		args = append(args, formatTime(*f.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanTransaction(row rowScanner) (finance.Transaction, error) {
	var (
		tx                         finance.Transaction
		amount, txType, status     string
		categoryID, walletID       sql.NullString
		date, createdAt, updatedAt string
	)
	err := row.Scan(&tx.ID, &amount, &tx.Description, &txType, &categoryID, &walletID,
		&date, &status, &createdAt, &updatedAt)
	if err != nil {
		return tx, err
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, fmt.Errorf("transaction %s has a corrupt amount %q: %w", tx.ID, amount, err)
	}
	tx.Type = finance.TxType(txType)
	tx.Status = finance.TxStatus(status)
	tx.CategoryID = categoryID.String
	tx.WalletID = walletID.String
	for _, f := range []struct {
		dst *time.Time
		raw string
	}{{&tx.Date, date}, {&tx.CreatedAt, createdAt}, {&tx.UpdatedAt, updatedAt}} {
		if *f.dst, err = parseTime(f.raw); err != nil {
			return tx, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
	}
	return tx, nil
}

// --- keyword mappings ---

func (qs queries) ListKeywordMappings(ctx context.Context) ([]finance.KeywordMapping, error) {
	rows, err := qs.q.QueryContext(ctx,
		"SELECT id, keyword, category_id, created_at FROM keyword_mappings ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query keyword mappings: %w", err)
	}
	defer rows.Close()

	var mappings []finance.KeywordMapping
	for rows.Next() {
		var (
			m         finance.KeywordMapping
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.Keyword, &m.CategoryID, &createdAt); err != nil {
			return nil, err
		}
		var err error
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("keyword mapping %s: %w", m.ID, err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (qs queries) InsertKeywordMapping(ctx context.Context, m finance.KeywordMapping) error {
	_, err := qs.q.ExecContext(ctx,
		"INSERT INTO keyword_mappings (id, keyword, category_id, created_at) VALUES (?, ?, ?, ?)",
		m.ID, m.Keyword, m.CategoryID, formatTime(m.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return finance.ErrDuplicateKeyword
	}
	return err
}

func (qs queries) DeleteKeywordMapping(ctx context.Context, id string) (bool, error) {
	return affected(qs.q.ExecContext(ctx, "DELETE FROM keyword_mappings WHERE id = ?", id))
}

func (qs queries) CountKeywordMappings(ctx context.Context, f finance.KeywordFilter) (int, error) {
	query := "SELECT COUNT(*) FROM keyword_mappings"
	var args []any
	if f.CategoryID != "" {
		query += " WHERE category_id = ?"
		args = append(args, f.CategoryID)
	}
	var n int
	err := qs.q.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// isUniqueConstraintError reports a UNIQUE index violation. Primary key
// collisions carry a different extended code and are not matched.
func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
