package finance

import (
	"context"
	"errors"
)

// =============================================================================
// WALLETS
// =============================================================================

type WalletInput struct {
	Name string
}

// CreateWallet creates a wallet with a zero balance.
func (l *Ledger) CreateWallet(ctx context.Context, in WalletInput) (*Wallet, error) {
	now := l.now()
	w := Wallet{ID: l.newID(), Name: in.Name, CreatedAt: now, UpdatedAt: now}
	if err := validateWallet(w); err != nil {
		return nil, err
	}
	if err := l.store.InsertWallet(ctx, w); err != nil {
		if errors.Is(err, ErrDuplicateName) {
			return nil, &ConflictError{Kind: KindWallet, Reason: "name " + w.Name + " already exists"}
		}
		return nil, l.fail("insert wallet", upstream("insert wallet", err))
	}
	return &w, nil
}

// UpdateWallet renames wallet id. The balance is owned by the transaction
// lifecycle and cannot be set here.
func (l *Ledger) UpdateWallet(ctx context.Context, id string, in WalletInput) (*Wallet, error) {
	if err := validateWallet(Wallet{Name: in.Name}); err != nil {
		return nil, err
	}

	unlock := l.locks.lock(walletKey(id))
	defer unlock()

	w, err := l.GetWallet(ctx, id)
	if err != nil {
		return nil, err
	}
	oldName := w.Name
	w.Name = in.Name
	w.UpdatedAt = l.now()

	matched, err := l.store.UpdateWallet(ctx, *w)
	if err != nil {
		if errors.Is(err, ErrDuplicateName) {
			return nil, &ConflictError{Kind: KindWallet, Reason: "name " + w.Name + " already exists"}
		}
		return nil, l.fail("update wallet", upstream("update wallet", err))
	}
	if !matched {
		return nil, &NotFoundError{Kind: KindWallet, ID: id}
	}
	l.resolver.Forget(KindWallet, oldName)
	return w, nil
}

// DeleteWallet deletes wallet id unless a transaction references it.
func (l *Ledger) DeleteWallet(ctx context.Context, id string) error {
	unlock := l.locks.lock(walletKey(id))
	defer unlock()

	w, err := l.GetWallet(ctx, id)
	if err != nil {
		return err
	}

	err = runAtomic(ctx, l.store, func(s Store) error {
		n, err := s.CountTransactions(ctx, TransactionFilter{WalletID: id})
		if err != nil {
			return upstream("count transactions", err)
		}
		if n > 0 {
			return &ConflictError{Kind: KindWallet, Reason: referencedBy(n, "transaction")}
		}
		deleted, err := s.DeleteWallet(ctx, id)
		if err != nil {
			return upstream("delete wallet", err)
		}
		if !deleted {
			return &NotFoundError{Kind: KindWallet, ID: id}
		}
		return nil
	})
	if err != nil {
		return l.fail("delete wallet", err)
	}
	l.resolver.Forget(KindWallet, w.Name)
	return nil
}

func (l *Ledger) GetWallet(ctx context.Context, id string) (*Wallet, error) {
	w, err := l.store.GetWallet(ctx, id)
	if err != nil {
		return nil, l.fail("get wallet", upstream("get wallet", err))
	}
	if w == nil {
		return nil, &NotFoundError{Kind: KindWallet, ID: id}
	}
	return w, nil
}

func (l *Ledger) ListWallets(ctx context.Context) ([]Wallet, error) {
	ws, err := l.store.ListWallets(ctx)
	if err != nil {
		return nil, l.fail("list wallets", upstream("list wallets", err))
	}
	return ws, nil
}
