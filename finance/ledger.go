/*
ledger.go - Transaction lifecycle manager

PURPOSE:
  The Ledger is the sole authority for mutating wallet balances. Every
  transaction create/update/delete applies the matching balance delta to
  the referenced wallet(s), keeping:

    wallet.Balance == SUM(Delta(t)) over t with t.WalletID == wallet.ID

STATE MACHINE (per transaction id):
  Nonexistent --Create--> Existing --Update*--> Existing --Delete--> Nonexistent
  Update/Delete on Nonexistent -> NotFound

ORDER OF SIDE EFFECTS:
  1. Validate input               (no writes on failure)
  2. Resolve name references      (may create a category / default wallet)
  3. Lock wallet + category keys  (per-process serialization point)
  4. Inside WithTx when the store supports it:
     a. write the transaction document
     b. apply the wallet increment(s)

  Without WithTx a failure between 4a and 4b leaves a wallet drift that
  Reconcile can detect and repair; it never leaves an orphan balance
  change without a document.

UPDATE DELTAS:
  Old contribution is removed from the old wallet, new contribution added
  to the new wallet. When the wallet is unchanged both steps collapse into
  a single increment of (newDelta - oldDelta), skipped when zero.

SEE ALSO:
  - resolver.go:  Name-or-id normalization
  - wallets.go:   Wallet CRUD + referential integrity guard
  - reconcile.go: Drift detection and repair
*/
package finance

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store    Store
	resolver *Resolver
	events   EventSink
	log      zerolog.Logger
	locks    *keyedLocks
	now      func() time.Time
	newID    func() string
}

type Option func(*ledgerOptions)

type ledgerOptions struct {
	events EventSink
	log    zerolog.Logger
	cache  *ristretto.Cache
	now    func() time.Time
}

// WithEvents publishes lifecycle events to sink after each committed mutation.
func WithEvents(sink EventSink) Option {
	return func(o *ledgerOptions) { o.events = sink }
}

func WithLogger(log zerolog.Logger) Option {
	return func(o *ledgerOptions) { o.log = log }
}

// WithNameCache caches resolver name lookups.
func WithNameCache(cache *ristretto.Cache) Option {
	return func(o *ledgerOptions) { o.cache = cache }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *ledgerOptions) { o.now = now }
}

// NewLedger creates a Ledger over store.
func NewLedger(store Store, opts ...Option) *Ledger {
	o := ledgerOptions{
		events: NopEvents{},
		log:    zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}

	resolver := NewResolver(store, o.cache)
	resolver.now = o.now

	return &Ledger{
		store:    store,
		resolver: resolver,
		events:   o.events,
		log:      o.log,
		locks:    newKeyedLocks(),
		now:      o.now,
		newID:    uuid.NewString,
	}
}

// Resolver exposes the ledger's identifier resolver.
func (l *Ledger) Resolver() *Resolver { return l.resolver }

// =============================================================================
// INPUTS
// =============================================================================

// TransactionInput is a create request. CategoryRef and WalletRef hold
// either a canonical id or a name; empty means no reference.
type TransactionInput struct {
	Amount      decimal.Decimal
	Description string
	Type        TxType
	CategoryRef string
	WalletRef   string
	Date        *time.Time // nil = now
	Status      TxStatus   // "" = completed
}

// TransactionPatch is an update request. Nil fields keep their value;
// an empty ref clears the reference.
type TransactionPatch struct {
	Amount      *decimal.Decimal
	Description *string
	Type        *TxType
	CategoryRef *string
	WalletRef   *string
	Date        *time.Time
	Status      *TxStatus
}

func (p TransactionPatch) validate() error {
	v := &ValidationError{}
	if p.Amount != nil && p.Amount.IsNegative() {
		v.add("amount", "must be greater than or equal to 0")
	}
	if p.Description != nil {
		switch {
		case strings.TrimSpace(*p.Description) == "":
			v.add("description", "must not be empty")
		case utf8.RuneCountInString(*p.Description) > MaxDescriptionLength:
			v.add("description", "must be at most 200 characters")
		}
	}
	if p.Type != nil && !p.Type.Valid() {
		v.add("type", "must be one of expense, income")
	}
	if p.Status != nil && !p.Status.Valid() {
		v.add("status", "must be one of pending, completed, cancelled")
	}
	return v.orNil()
}

// applyScalars returns tx with every non-reference patch field applied.
func (p TransactionPatch) applyScalars(tx Transaction) Transaction {
	if p.Amount != nil {
		tx.Amount = *p.Amount
	}
	if p.Description != nil {
		tx.Description = *p.Description
	}
	if p.Type != nil {
		tx.Type = *p.Type
	}
	if p.Status != nil {
		tx.Status = *p.Status
	}
	if p.Date != nil {
		tx.Date = p.Date.UTC()
	}
	return tx
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// =============================================================================
// CREATE
// =============================================================================

// CreateTransaction records a new transaction and applies its delta.
func (l *Ledger) CreateTransaction(ctx context.Context, in TransactionInput) (*Transaction, error) {
	now := l.now()
	tx := Transaction{
		ID:          l.newID(),
		Amount:      in.Amount,
		Description: in.Description,
		Type:        in.Type,
		Status:      in.Status,
		Date:        now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if tx.Status == "" {
		tx.Status = StatusCompleted
	}
	if in.Date != nil {
		tx.Date = in.Date.UTC()
	}
	if err := validateTransaction(tx); err != nil {
		return nil, err
	}
	// Dangling ids fail before the resolver can create a name it was given.
	if err := l.checkCanonicalRefs(ctx, in.WalletRef, in.CategoryRef); err != nil {
		return nil, l.fail("create transaction", err)
	}

	var err error
	if tx.CategoryID, err = l.resolver.ResolveCategory(ctx, in.CategoryRef, tx.Type); err != nil {
		return nil, l.fail("resolve category", err)
	}
	if tx.WalletID, err = l.resolver.ResolveWallet(ctx, in.WalletRef); err != nil {
		return nil, l.fail("resolve wallet", err)
	}

	unlock := l.locks.lock(walletKey(tx.WalletID), categoryKey(tx.CategoryID))
	defer unlock()

	err = runAtomic(ctx, l.store, func(s Store) error {
		if err := checkRefs(ctx, s, tx.WalletID, tx.CategoryID); err != nil {
			return err
		}
		if err := s.InsertTransaction(ctx, tx); err != nil {
			return upstream("insert transaction", err)
		}
		return applyDelta(ctx, s, tx.WalletID, tx.Delta(), now)
	})
	if err != nil {
		return nil, l.fail("create transaction", err)
	}

	l.log.Debug().
		Str("transaction_id", tx.ID).
		Str("wallet_id", tx.WalletID).
		Str("delta", tx.Delta().String()).
		Msg("transaction created")
	l.publish(ctx, EventTransactionCreated, tx.ID, tx.WalletID)
	return &tx, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateTransaction applies patch to transaction id, moving its balance
// contribution when wallet, amount or type change.
func (l *Ledger) UpdateTransaction(ctx context.Context, id string, p TransactionPatch) (*Transaction, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	// Fail with NotFound before the resolver gets a chance to create anything.
	pre, err := l.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validateTransaction(p.applyScalars(*pre)); err != nil {
		return nil, err
	}
	if err := l.checkCanonicalRefs(ctx, deref(p.WalletRef), deref(p.CategoryRef)); err != nil {
		return nil, l.fail("update transaction", err)
	}

	var newWalletID, newCategoryID string
	if p.WalletRef != nil {
		if newWalletID, err = l.resolver.ResolveWallet(ctx, *p.WalletRef); err != nil {
			return nil, l.fail("resolve wallet", err)
		}
	}
	if p.CategoryRef != nil {
		txType := pre.Type
		if p.Type != nil {
			txType = *p.Type
		}
		if newCategoryID, err = l.resolver.ResolveCategory(ctx, *p.CategoryRef, txType); err != nil {
			return nil, l.fail("resolve category", err)
		}
	}

	current, unlock, err := l.lockTransaction(ctx, id, walletKey(newWalletID), categoryKey(newCategoryID))
	if err != nil {
		return nil, l.fail("update transaction", err)
	}
	defer unlock()

	merged := p.applyScalars(*current)
	if p.WalletRef != nil {
		merged.WalletID = newWalletID
	}
	if p.CategoryRef != nil {
		merged.CategoryID = newCategoryID
	}
	if err := validateTransaction(merged); err != nil {
		return nil, err
	}

	now := l.now()
	merged.UpdatedAt = now

	balanceChanged := merged.WalletID != current.WalletID ||
		!merged.Amount.Equal(current.Amount) ||
		merged.Type != current.Type

	err = runAtomic(ctx, l.store, func(s Store) error {
		var walletRef, categoryRef string
		if merged.WalletID != current.WalletID {
			walletRef = merged.WalletID
		}
		if merged.CategoryID != current.CategoryID {
			categoryRef = merged.CategoryID
		}
		if err := checkRefs(ctx, s, walletRef, categoryRef); err != nil {
			return err
		}

		matched, err := s.UpdateTransaction(ctx, merged)
		if err != nil {
			return upstream("update transaction", err)
		}
		if !matched {
			return &NotFoundError{Kind: KindTransaction, ID: id}
		}
		if !balanceChanged {
			return nil
		}

		oldDelta, newDelta := current.Delta(), merged.Delta()
		if merged.WalletID == current.WalletID {
			return applyDelta(ctx, s, merged.WalletID, newDelta.Sub(oldDelta), now)
		}
		if err := applyDelta(ctx, s, current.WalletID, oldDelta.Neg(), now); err != nil {
			return err
		}
		return applyDelta(ctx, s, merged.WalletID, newDelta, now)
	})
	if err != nil {
		return nil, l.fail("update transaction", err)
	}

	l.log.Debug().
		Str("transaction_id", id).
		Bool("balance_changed", balanceChanged).
		Msg("transaction updated")
	l.publish(ctx, EventTransactionUpdated, id, current.WalletID, merged.WalletID)
	return &merged, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteTransaction removes transaction id and reverses its delta.
func (l *Ledger) DeleteTransaction(ctx context.Context, id string) error {
	current, unlock, err := l.lockTransaction(ctx, id)
	if err != nil {
		return l.fail("delete transaction", err)
	}
	defer unlock()

	err = runAtomic(ctx, l.store, func(s Store) error {
		deleted, err := s.DeleteTransaction(ctx, id)
		if err != nil {
			return upstream("delete transaction", err)
		}
		if !deleted {
			return &NotFoundError{Kind: KindTransaction, ID: id}
		}
		return applyDelta(ctx, s, current.WalletID, current.Delta().Neg(), l.now())
	})
	if err != nil {
		return l.fail("delete transaction", err)
	}

	l.log.Debug().Str("transaction_id", id).Msg("transaction deleted")
	l.publish(ctx, EventTransactionDeleted, id, current.WalletID)
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (l *Ledger) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	tx, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, l.fail("get transaction", upstream("get transaction", err))
	}
	if tx == nil {
		return nil, &NotFoundError{Kind: KindTransaction, ID: id}
	}
	return tx, nil
}

func (l *Ledger) ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error) {
	txs, err := l.store.ListTransactions(ctx, f)
	if err != nil {
		return nil, l.fail("list transactions", upstream("list transactions", err))
	}
	return txs, nil
}

// =============================================================================
// HELPERS
// =============================================================================

const maxLockAttempts = 5

// lockTransaction reads transaction id, locks its wallet and category keys
// plus extra, and returns the record as seen under those locks. If the
// record moved to another wallet or category between the read and the
// lock, it retries.
func (l *Ledger) lockTransaction(ctx context.Context, id string, extra ...string) (*Transaction, func(), error) {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		before, err := l.store.GetTransaction(ctx, id)
		if err != nil {
			return nil, nil, upstream("get transaction", err)
		}
		if before == nil {
			return nil, nil, &NotFoundError{Kind: KindTransaction, ID: id}
		}

		keys := append([]string{walletKey(before.WalletID), categoryKey(before.CategoryID)}, extra...)
		unlock := l.locks.lock(keys...)

		after, err := l.store.GetTransaction(ctx, id)
		if err != nil {
			unlock()
			return nil, nil, upstream("get transaction", err)
		}
		if after == nil {
			unlock()
			return nil, nil, &NotFoundError{Kind: KindTransaction, ID: id}
		}
		if after.WalletID == before.WalletID && after.CategoryID == before.CategoryID {
			return after, unlock, nil
		}
		unlock()
	}
	return nil, nil, &ConflictError{Kind: KindTransaction, Reason: "concurrent modification of " + id}
}

// checkRefs verifies that non-empty wallet and category ids resolve.
// checkCanonicalRefs reports NotFound for refs that are ids of missing
// entities. Names are left to the resolver.
func (l *Ledger) checkCanonicalRefs(ctx context.Context, walletRef, categoryRef string) error {
	if !IsCanonicalID(walletRef) {
		walletRef = ""
	}
	if !IsCanonicalID(categoryRef) {
		categoryRef = ""
	}
	return checkRefs(ctx, l.store, walletRef, categoryRef)
}

func checkRefs(ctx context.Context, s Store, walletID, categoryID string) error {
	if walletID != "" {
		w, err := s.GetWallet(ctx, walletID)
		if err != nil {
			return upstream("get wallet", err)
		}
		if w == nil {
			return &NotFoundError{Kind: KindWallet, ID: walletID}
		}
	}
	if categoryID != "" {
		c, err := s.GetCategory(ctx, categoryID)
		if err != nil {
			return upstream("get category", err)
		}
		if c == nil {
			return &NotFoundError{Kind: KindCategory, ID: categoryID}
		}
	}
	return nil
}

// applyDelta increments wallet walletID by delta. No-op without a wallet
// or with a zero delta.
func applyDelta(ctx context.Context, s Store, walletID string, delta decimal.Decimal, at time.Time) error {
	if walletID == "" || delta.IsZero() {
		return nil
	}
	matched, err := s.IncrementWalletBalance(ctx, walletID, delta, at)
	if err != nil {
		return upstream("increment wallet balance", err)
	}
	if !matched {
		return &NotFoundError{Kind: KindWallet, ID: walletID}
	}
	return nil
}

// fail logs upstream failures and passes err through.
func (l *Ledger) fail(op string, err error) error {
	if IsUpstream(err) {
		l.log.Error().Err(err).Str("operation", op).Msg("store operation failed")
	}
	return err
}

func (l *Ledger) publish(ctx context.Context, t EventType, txID string, walletIDs ...string) {
	ev := Event{Type: t, TransactionID: txID, At: l.now()}
	for _, id := range walletIDs {
		if id != "" && (len(ev.WalletIDs) == 0 || ev.WalletIDs[len(ev.WalletIDs)-1] != id) {
			ev.WalletIDs = append(ev.WalletIDs, id)
		}
	}
	if err := l.events.Publish(ctx, ev); err != nil {
		l.log.Warn().Err(err).Str("event", string(t)).Str("transaction_id", txID).Msg("publish event failed")
	}
}
