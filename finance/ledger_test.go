package finance_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-ledger/finance"
	"github.com/warp/finance-ledger/finance/store"
	"github.com/warp/finance-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type storeFactory struct {
	name string
	new  func(t *testing.T) finance.Store
}

// stores lists every bundled Store; invariant tests run against each.
var stores = []storeFactory{
	{"memory", func(t *testing.T) finance.Store { return store.NewMemory() }},
	{"txmemory", func(t *testing.T) finance.Store { return store.NewTxMemory() }},
	{"sqlite", func(t *testing.T) finance.Store {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}},
}

func forEachStore(t *testing.T, fn func(t *testing.T, ledger *finance.Ledger, s finance.Store)) {
	for _, f := range stores {
		t.Run(f.name, func(t *testing.T) {
			s := f.new(t)
			fn(t, finance.NewLedger(s), s)
		})
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T { return &v }

func createWallet(t *testing.T, ledger *finance.Ledger, name string) *finance.Wallet {
	t.Helper()
	w, err := ledger.CreateWallet(context.Background(), finance.WalletInput{Name: name})
	require.NoError(t, err)
	return w
}

func createTx(t *testing.T, ledger *finance.Ledger, amount string, typ finance.TxType, walletRef string) *finance.Transaction {
	t.Helper()
	tx, err := ledger.CreateTransaction(context.Background(), finance.TransactionInput{
		Amount:      dec(amount),
		Description: "test " + string(typ),
		Type:        typ,
		WalletRef:   walletRef,
	})
	require.NoError(t, err)
	return tx
}

func balanceOf(t *testing.T, ledger *finance.Ledger, id string) decimal.Decimal {
	t.Helper()
	w, err := ledger.GetWallet(context.Background(), id)
	require.NoError(t, err)
	return w.Balance
}

func assertBalance(t *testing.T, ledger *finance.Ledger, id, want string) {
	t.Helper()
	got := balanceOf(t, ledger, id)
	assert.True(t, dec(want).Equal(got), "balance: want %s, got %s", want, got)
}

// assertInvariant checks balance == sum of deltas for every wallet.
func assertInvariant(t *testing.T, ledger *finance.Ledger) {
	t.Helper()
	drifts, err := ledger.Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestLedger_Scenarios(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, _ finance.Store) {
		ctx := context.Background()

		// Scenario A: income of 100 on a fresh wallet
		w := createWallet(t, ledger, "Main")
		assertBalance(t, ledger, w.ID, "0")
		t1 := createTx(t, ledger, "100", finance.TypeIncome, w.ID)
		assertBalance(t, ledger, w.ID, "100")

		// Scenario B: expense of 30
		t2 := createTx(t, ledger, "30", finance.TypeExpense, w.ID)
		assertBalance(t, ledger, w.ID, "70")

		// Scenario C: T1 amount 100 -> 50
		_, err := ledger.UpdateTransaction(ctx, t1.ID, finance.TransactionPatch{Amount: ptr(dec("50"))})
		require.NoError(t, err)
		assertBalance(t, ledger, w.ID, "20")

		// Scenario D: move T2 to a new wallet
		w2 := createWallet(t, ledger, "Savings")
		_, err = ledger.UpdateTransaction(ctx, t2.ID, finance.TransactionPatch{WalletRef: ptr(w2.ID)})
		require.NoError(t, err)
		assertBalance(t, ledger, w.ID, "50")
		assertBalance(t, ledger, w2.ID, "-30")

		// Scenario E: delete T1
		require.NoError(t, ledger.DeleteTransaction(ctx, t1.ID))
		assertBalance(t, ledger, w.ID, "0")

		assertInvariant(t, ledger)
	})
}

func TestLedger_DeleteReferencedCategory_Conflict(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, _ finance.Store) {
		ctx := context.Background()

		// GIVEN: A transaction referencing category "Food"
		w := createWallet(t, ledger, "Main")
		tx, err := ledger.CreateTransaction(ctx, finance.TransactionInput{
			Amount: dec("12"), Description: "lunch", Type: finance.TypeExpense,
			CategoryRef: "Food", WalletRef: w.ID,
		})
		require.NoError(t, err)

		// WHEN: Deleting the category
		err = ledger.DeleteCategory(ctx, tx.CategoryID)

		// THEN: Conflict, category still present
		require.Error(t, err)
		assert.True(t, finance.IsConflict(err))
		c, err := ledger.GetCategory(ctx, tx.CategoryID)
		require.NoError(t, err)
		assert.Equal(t, "Food", c.Name)
	})
}

// =============================================================================
// BOUNDARIES
// =============================================================================

func TestLedger_ZeroAmount_Accepted(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, _ finance.Store) {
		w := createWallet(t, ledger, "Main")
		tx := createTx(t, ledger, "0", finance.TypeExpense, w.ID)
		assert.True(t, tx.Amount.IsZero())
		assertBalance(t, ledger, w.ID, "0")
	})
}

func TestLedger_NegativeAmount_RejectedWithoutWrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, s finance.Store) {
		ctx := context.Background()

		// GIVEN: No wallets or categories exist
		// WHEN: Creating a -1 transaction that names a new category and wallet
		_, err := ledger.CreateTransaction(ctx, finance.TransactionInput{
			Amount: dec("-1"), Description: "bad", Type: finance.TypeExpense,
			CategoryRef: "New", WalletRef: "Nowhere",
		})

		// THEN: Validation error, nothing written (not even by the resolver)
		var verr *finance.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "amount", verr.Fields[0].Field)

		ws, err := s.ListWallets(ctx)
		require.NoError(t, err)
		assert.Empty(t, ws)
		cs, err := s.ListCategories(ctx)
		require.NoError(t, err)
		assert.Empty(t, cs)
		n, err := s.CountTransactions(ctx, finance.TransactionFilter{})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestLedger_Create_ValidationReportsEveryField(t *testing.T) {
	ledger := finance.NewLedger(store.NewMemory())

	_, err := ledger.CreateTransaction(context.Background(), finance.TransactionInput{
		Amount: dec("-5"), Description: " ", Type: "transfer", Status: "done",
	})

	var verr *finance.ValidationError
	require.True(t, errors.As(err, &verr))
	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"amount", "description", "type", "status"}, fields)
}

func TestLedger_Create_Defaults(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	ledger := finance.NewLedger(store.NewMemory(), finance.WithClock(func() time.Time { return now }))

	tx, err := ledger.CreateTransaction(context.Background(), finance.TransactionInput{
		Amount: dec("1"), Description: "coffee", Type: finance.TypeExpense,
	})
	require.NoError(t, err)

	assert.Equal(t, finance.StatusCompleted, tx.Status)
	assert.True(t, now.Equal(tx.Date))
	assert.Empty(t, tx.WalletID)
	assert.Empty(t, tx.CategoryID)
}

func TestLedger_StatusDoesNotAffectBalance(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, _ finance.Store) {
		ctx := context.Background()
		w := createWallet(t, ledger, "Main")
		tx := createTx(t, ledger, "40", finance.TypeExpense, w.ID)

		_, err := ledger.UpdateTransaction(ctx, tx.ID, finance.TransactionPatch{Status: ptr(finance.StatusCancelled)})
		require.NoError(t, err)

		assertBalance(t, ledger, w.ID, "-40")
	})
}

// =============================================================================
// NOT FOUND
// =============================================================================

func TestLedger_DeleteNonexistent_NotFoundNoBalanceChange(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, _ finance.Store) {
		ctx := context.Background()
		w := createWallet(t, ledger, "Main")
		tx := createTx(t, ledger, "10", finance.TypeIncome, w.ID)
		require.NoError(t, ledger.DeleteTransaction(ctx, tx.ID))

		// WHEN: Deleting again
		err := ledger.DeleteTransaction(ctx, tx.ID)

		// THEN: NotFound, balance unchanged
		assert.True(t, finance.IsNotFound(err))
		assertBalance(t, ledger, w.ID, "0")
	})
}

func TestLedger_UpdateNonexistent_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, s finance.Store) {
		_, err := ledger.UpdateTransaction(context.Background(), "6f1c2a8e-5b0d-4c1e-9a7f-2d3b4c5e6f70",
			finance.TransactionPatch{CategoryRef: ptr("Brand new")})

		assert.True(t, finance.IsNotFound(err))
		cs, err := s.ListCategories(context.Background())
		require.NoError(t, err)
		assert.Empty(t, cs, "resolver must not run for a missing transaction")
	})
}

func TestLedger_DanglingWalletID_NotFoundNoWrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, s finance.Store) {
		ctx := context.Background()

		_, err := ledger.CreateTransaction(ctx, finance.TransactionInput{
			Amount: dec("5"), Description: "ghost", Type: finance.TypeIncome,
			WalletRef: "00000000-0000-4000-8000-000000000000",
		})

		var nf *finance.NotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, finance.KindWallet, nf.Kind)
		n, err := s.CountTransactions(ctx, finance.TransactionFilter{})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestLedger_DanglingWalletID_DoesNotCreateNamedCategory(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, s finance.Store) {
		ctx := context.Background()

		// GIVEN: A new category name and a wallet id nothing references
		in := finance.TransactionInput{
			Amount: dec("5"), Description: "ghost", Type: finance.TypeExpense,
			CategoryRef: "Fresh",
			WalletRef:   "00000000-0000-4000-8000-000000000000",
		}

		// WHEN: Creating the transaction
		_, err := ledger.CreateTransaction(ctx, in)

		// THEN: It fails with NotFound and the category was never created
		assert.True(t, finance.IsNotFound(err))
		cs, err := s.ListCategories(ctx)
		require.NoError(t, err)
		assert.Empty(t, cs)
	})
}

func TestLedger_Update_LongDescription_RejectedBeforeResolving(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, s finance.Store) {
		ctx := context.Background()
		w := createWallet(t, ledger, "Main")
		tx := createTx(t, ledger, "25", finance.TypeIncome, w.ID)
		walletsBefore, err := s.ListWallets(ctx)
		require.NoError(t, err)

		// WHEN: An update carries a 201 character description and a new category name
		_, err = ledger.UpdateTransaction(ctx, tx.ID, finance.TransactionPatch{
			Description: ptr(strings.Repeat("x", finance.MaxDescriptionLength+1)),
			CategoryRef: ptr("Brand New Category"),
			WalletRef:   ptr("Brand New Wallet"),
		})

		// THEN: Validation fails and nothing was created
		var ve *finance.ValidationError
		require.True(t, errors.As(err, &ve))
		require.Len(t, ve.Fields, 1)
		assert.Equal(t, "description", ve.Fields[0].Field)
		cs, err := s.ListCategories(ctx)
		require.NoError(t, err)
		assert.Empty(t, cs)
		walletsAfter, err := s.ListWallets(ctx)
		require.NoError(t, err)
		assert.Len(t, walletsAfter, len(walletsBefore))
	})
}

func TestLedger_Update_DanglingWalletID_DoesNotCreateNamedCategory(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, s finance.Store) {
		ctx := context.Background()
		w := createWallet(t, ledger, "Main")
		tx := createTx(t, ledger, "25", finance.TypeIncome, w.ID)

		_, err := ledger.UpdateTransaction(ctx, tx.ID, finance.TransactionPatch{
			CategoryRef: ptr("Fresh"),
			WalletRef:   ptr("00000000-0000-4000-8000-000000000000"),
		})

		assert.True(t, finance.IsNotFound(err))
		cs, err := s.ListCategories(ctx)
		require.NoError(t, err)
		assert.Empty(t, cs)
		assertBalance(t, ledger, w.ID, "25")
	})
}

// =============================================================================
// UPDATE DELTAS
// =============================================================================

func TestLedger_Update_TypeFlip(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, _ finance.Store) {
		w := createWallet(t, ledger, "Main")
		tx := createTx(t, ledger, "25", finance.TypeExpense, w.ID)

		_, err := ledger.UpdateTransaction(context.Background(), tx.ID, finance.TransactionPatch{Type: ptr(finance.TypeIncome)})
		require.NoError(t, err)

		assertBalance(t, ledger, w.ID, "25")
		assertInvariant(t, ledger)
	})
}

func TestLedger_Update_ClearWallet(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, _ finance.Store) {
		w := createWallet(t, ledger, "Main")
		tx := createTx(t, ledger, "25", finance.TypeIncome, w.ID)

		updated, err := ledger.UpdateTransaction(context.Background(), tx.ID, finance.TransactionPatch{WalletRef: ptr("")})
		require.NoError(t, err)

		assert.Empty(t, updated.WalletID)
		assertBalance(t, ledger, w.ID, "0")
	})
}

func TestLedger_Update_DescriptionOnly_KeepsBalance(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, s finance.Store) {
		ctx := context.Background()
		w := createWallet(t, ledger, "Main")
		tx := createTx(t, ledger, "25", finance.TypeIncome, w.ID)

		updated, err := ledger.UpdateTransaction(ctx, tx.ID, finance.TransactionPatch{
			Description: ptr("salary"),
			Date:        ptr(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)),
		})
		require.NoError(t, err)

		assert.Equal(t, "salary", updated.Description)
		stored, err := s.GetTransaction(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, "salary", stored.Description)
		assert.Equal(t, 2024, stored.Date.Year())
		assertBalance(t, ledger, w.ID, "25")
	})
}

// =============================================================================
// ATOMICITY
// =============================================================================

var errInjected = errors.New("injected increment failure")

// failingIncrement fails every balance increment.
type failingIncrement struct {
	finance.Store
}

func (failingIncrement) IncrementWalletBalance(context.Context, string, decimal.Decimal, time.Time) (bool, error) {
	return false, errInjected
}

// failingTxStore hands WithTx callers a view whose increments fail.
type failingTxStore struct {
	*store.TxMemory
	fail bool
}

func (f *failingTxStore) WithTx(ctx context.Context, fn func(finance.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s finance.Store) error {
		if f.fail {
			s = failingIncrement{s}
		}
		return fn(s)
	})
}

func TestLedger_WithTx_RollsBackTransactionOnIncrementFailure(t *testing.T) {
	// GIVEN: A transactional store whose increments will fail
	ctx := context.Background()
	s := &failingTxStore{TxMemory: store.NewTxMemory()}
	ledger := finance.NewLedger(s)
	w := createWallet(t, ledger, "Main")
	s.fail = true

	// WHEN: Creating a transaction
	_, err := ledger.CreateTransaction(ctx, finance.TransactionInput{
		Amount: dec("10"), Description: "x", Type: finance.TypeIncome, WalletRef: w.ID,
	})

	// THEN: Upstream error and no transaction document
	require.Error(t, err)
	assert.True(t, finance.IsUpstream(err))
	assert.ErrorIs(t, err, errInjected)
	n, err := s.CountTransactions(ctx, finance.TransactionFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assertBalance(t, ledger, w.ID, "0")
}

func TestLedger_WithoutTx_DriftIsRepairedByReconcile(t *testing.T) {
	// GIVEN: A non-transactional store whose increments fail
	ctx := context.Background()
	mem := store.NewMemory()
	w := createWallet(t, finance.NewLedger(mem), "Main")
	broken := finance.NewLedger(failingIncrement{mem})

	// WHEN: The transaction write succeeds but the increment does not
	_, err := broken.CreateTransaction(ctx, finance.TransactionInput{
		Amount: dec("10"), Description: "x", Type: finance.TypeIncome, WalletRef: w.ID,
	})
	require.Error(t, err)

	// THEN: Only a balance drift remains, and reconcile repairs it
	ledger := finance.NewLedger(mem)
	drifts, err := ledger.Reconcile(ctx, true)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, w.ID, drifts[0].WalletID)
	assert.True(t, dec("10").Equal(drifts[0].Amount()))
	assert.True(t, drifts[0].Repaired)
	assertBalance(t, ledger, w.ID, "10")
	assertInvariant(t, ledger)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestLedger_ConcurrentMutations_PreserveInvariant(t *testing.T) {
	forEachStore(t, func(t *testing.T, ledger *finance.Ledger, _ finance.Store) {
		ctx := context.Background()
		a := createWallet(t, ledger, "A")
		b := createWallet(t, ledger, "B")

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers*3)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tx, err := ledger.CreateTransaction(ctx, finance.TransactionInput{
					Amount: dec("10"), Description: "c", Type: finance.TypeIncome, WalletRef: a.ID,
				})
				if err != nil {
					errs <- err
					return
				}
				if i%2 == 0 {
					_, err = ledger.UpdateTransaction(ctx, tx.ID, finance.TransactionPatch{WalletRef: ptr(b.ID)})
				} else {
					_, err = ledger.UpdateTransaction(ctx, tx.ID, finance.TransactionPatch{Amount: ptr(dec("3"))})
				}
				if err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		assertBalance(t, ledger, a.ID, "12")
		assertBalance(t, ledger, b.ID, "40")
		assertInvariant(t, ledger)
	})
}

// =============================================================================
// EVENTS
// =============================================================================

type recordingSink struct {
	mu     sync.Mutex
	events []finance.Event
	err    error
}

func (r *recordingSink) Publish(_ context.Context, ev finance.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestLedger_PublishesLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	ledger := finance.NewLedger(store.NewTxMemory(), finance.WithEvents(sink))
	a := createWallet(t, ledger, "A")
	b := createWallet(t, ledger, "B")

	tx := createTx(t, ledger, "5", finance.TypeIncome, a.ID)
	_, err := ledger.UpdateTransaction(ctx, tx.ID, finance.TransactionPatch{WalletRef: ptr(b.ID)})
	require.NoError(t, err)
	require.NoError(t, ledger.DeleteTransaction(ctx, tx.ID))

	require.Len(t, sink.events, 3)
	assert.Equal(t, finance.EventTransactionCreated, sink.events[0].Type)
	assert.Equal(t, []string{a.ID}, sink.events[0].WalletIDs)
	assert.Equal(t, finance.EventTransactionUpdated, sink.events[1].Type)
	assert.Equal(t, []string{a.ID, b.ID}, sink.events[1].WalletIDs)
	assert.Equal(t, finance.EventTransactionDeleted, sink.events[2].Type)
	assert.Equal(t, tx.ID, sink.events[2].TransactionID)
}

func TestLedger_PublishFailure_DoesNotFailMutation(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	ledger := finance.NewLedger(store.NewMemory(), finance.WithEvents(sink))
	w := createWallet(t, ledger, "A")

	createTx(t, ledger, "5", finance.TypeIncome, w.ID)

	assertBalance(t, ledger, w.ID, "5")
	assert.Len(t, sink.events, 1)
}
