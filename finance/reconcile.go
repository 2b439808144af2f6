package finance

import (
	"context"

	"github.com/shopspring/decimal"
)

// Drift is a wallet whose stored balance disagrees with its transactions.
type Drift struct {
	WalletID string
	Stored   decimal.Decimal
	Computed decimal.Decimal
	Repaired bool
}

// Amount is Computed - Stored, the increment that would fix the wallet.
func (d Drift) Amount() decimal.Decimal {
	return d.Computed.Sub(d.Stored)
}

// Reconcile recomputes every wallet balance from its transactions and
// reports the wallets that drifted. With repair set, each drifted wallet is
// corrected by incrementing it with the missing amount.
//
// Each wallet is checked under its own lock, so concurrent mutations on
// other wallets proceed.
func (l *Ledger) Reconcile(ctx context.Context, repair bool) ([]Drift, error) {
	wallets, err := l.ListWallets(ctx)
	if err != nil {
		return nil, err
	}

	var drifts []Drift
	for _, w := range wallets {
		if err := ctx.Err(); err != nil {
			return drifts, err
		}
		d, ok, err := l.reconcileWallet(ctx, w.ID, repair)
		if err != nil {
			return drifts, l.fail("reconcile wallet", err)
		}
		if ok {
			drifts = append(drifts, d)
		}
	}
	return drifts, nil
}

func (l *Ledger) reconcileWallet(ctx context.Context, id string, repair bool) (Drift, bool, error) {
	unlock := l.locks.lock(walletKey(id))
	defer unlock()

	var d Drift
	var drifted bool
	err := runAtomic(ctx, l.store, func(s Store) error {
		w, err := s.GetWallet(ctx, id)
		if err != nil {
			return upstream("get wallet", err)
		}
		if w == nil {
			// Deleted since the listing.
			return nil
		}
		txs, err := s.ListTransactions(ctx, TransactionFilter{WalletID: id})
		if err != nil {
			return upstream("list transactions", err)
		}
		computed := decimal.Zero
		for _, tx := range txs {
			computed = computed.Add(tx.Delta())
		}
		if computed.Equal(w.Balance) {
			return nil
		}

		drifted = true
		d = Drift{WalletID: id, Stored: w.Balance, Computed: computed}
		if !repair {
			return nil
		}
		if err := applyDelta(ctx, s, id, d.Amount(), l.now()); err != nil {
			return err
		}
		d.Repaired = true
		return nil
	})
	if err != nil {
		return Drift{}, false, err
	}

	if drifted {
		l.log.Warn().
			Str("wallet_id", id).
			Str("stored", d.Stored.String()).
			Str("computed", d.Computed.String()).
			Bool("repaired", d.Repaired).
			Msg("wallet balance drift")
		if d.Repaired {
			l.publish(ctx, EventBalanceReconciled, "", id)
		}
	}
	return d, drifted, nil
}
