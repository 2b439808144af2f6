/*
resolver.go - Name-or-id normalization for wallet and category references

PURPOSE:
  Clients may reference a wallet or category either by canonical id or by
  its human-readable name. The Resolver is the single place that turns
  such a reference into a canonical id, so everything downstream only ever
  handles ids.

CONTRACT:
  - Value is a canonical UUID      -> returned unchanged (existence is
                                      checked later by the Ledger)
  - Value matches an entity's name -> that entity's id
  - Unknown category name          -> a new category is created with the
                                      transaction's type as defaultType
  - Unknown wallet name            -> the earliest-created wallet (ties by
                                      id); if none exist, "default wallet"
                                      is created with balance 0
  - Empty value                    -> "" (no reference)

RACES:
  Stores enforce unique names. If an insert loses a race with a concurrent
  identical request it fails with ErrDuplicateName and the Resolver
  re-reads the winner by name.

CACHE:
  Successful name lookups are cached (ristretto). The Ledger calls Forget
  whenever it renames or deletes an entity. A lookup that raced a rename
  can still be remembered after the Forget, so every hit is re-read by id
  and dropped when the entity is gone or no longer carries the name.
*/
package finance

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
)

type Resolver struct {
	store Store
	cache *ristretto.Cache
	now   func() time.Time
	newID func() string
}

// NewResolver creates a resolver over store. cache may be nil.
func NewResolver(store Store, cache *ristretto.Cache) *Resolver {
	return &Resolver{
		store: store,
		cache: cache,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// NewNameCache builds the cache used for name lookups.
func NewNameCache() (*ristretto.Cache, error) {
	return ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
	})
}

// IsCanonicalID reports whether s is a store-assigned id.
func IsCanonicalID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// ResolveCategory returns the canonical category id for ref.
func (r *Resolver) ResolveCategory(ctx context.Context, ref string, txType TxType) (string, error) {
	if ref == "" || IsCanonicalID(ref) {
		return ref, nil
	}
	if id, err := r.cachedCategory(ctx, ref); err != nil || id != "" {
		return id, err
	}

	existing, err := r.store.FindCategoryByName(ctx, ref)
	if err != nil {
		return "", upstream("find category by name", err)
	}
	if existing != nil {
		r.remember(KindCategory, ref, existing.ID)
		return existing.ID, nil
	}

	if !txType.Valid() {
		txType = TypeExpense
	}
	now := r.now()
	c := Category{
		ID:          r.newID(),
		Name:        ref,
		DefaultType: txType,
		Color:       DefaultCategoryColor,
		IsDefault:   false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validateCategory(c); err != nil {
		return "", err
	}
	if err := r.store.InsertCategory(ctx, c); err != nil {
		if !errors.Is(err, ErrDuplicateName) {
			return "", upstream("insert category", err)
		}
		// Lost the race; the winner is there now.
		winner, err := r.store.FindCategoryByName(ctx, ref)
		if err != nil {
			return "", upstream("find category by name", err)
		}
		if winner == nil {
			return "", &ConflictError{Kind: KindCategory, Reason: "name " + ref + " is taken but could not be read"}
		}
		c.ID = winner.ID
	}
	r.remember(KindCategory, ref, c.ID)
	return c.ID, nil
}

// ResolveWallet returns the canonical wallet id for ref.
func (r *Resolver) ResolveWallet(ctx context.Context, ref string) (string, error) {
	if ref == "" || IsCanonicalID(ref) {
		return ref, nil
	}
	if id, err := r.cachedWallet(ctx, ref); err != nil || id != "" {
		return id, err
	}

	existing, err := r.store.FindWalletByName(ctx, ref)
	if err != nil {
		return "", upstream("find wallet by name", err)
	}
	if existing != nil {
		r.remember(KindWallet, ref, existing.ID)
		return existing.ID, nil
	}

	// The fallback wallet depends on what exists right now, so it is not cached.
	return r.fallbackWallet(ctx)
}

func (r *Resolver) fallbackWallet(ctx context.Context) (string, error) {
	wallets, err := r.store.ListWallets(ctx)
	if err != nil {
		return "", upstream("list wallets", err)
	}
	if len(wallets) > 0 {
		return wallets[0].ID, nil
	}

	now := r.now()
	w := Wallet{ID: r.newID(), Name: DefaultWalletName, CreatedAt: now, UpdatedAt: now}
	if err := r.store.InsertWallet(ctx, w); err != nil {
		if !errors.Is(err, ErrDuplicateName) {
			return "", upstream("insert wallet", err)
		}
		winner, err := r.store.FindWalletByName(ctx, DefaultWalletName)
		if err != nil {
			return "", upstream("find wallet by name", err)
		}
		if winner == nil {
			return "", &ConflictError{Kind: KindWallet, Reason: "default wallet is taken but could not be read"}
		}
		return winner.ID, nil
	}
	return w.ID, nil
}

// Forget drops a cached name lookup.
func (r *Resolver) Forget(kind Kind, name string) {
	if r.cache == nil || name == "" {
		return
	}
	r.cache.Del(cacheKey(kind, name))
}

func (r *Resolver) cached(kind Kind, name string) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	v, ok := r.cache.Get(cacheKey(kind, name))
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// cachedCategory returns the cached id for name if that category still
// carries the name. A lookup can be remembered after a concurrent rename
// forgot it, so hits are checked against the store.
func (r *Resolver) cachedCategory(ctx context.Context, name string) (string, error) {
	id, ok := r.cached(KindCategory, name)
	if !ok {
		return "", nil
	}
	c, err := r.store.GetCategory(ctx, id)
	if err != nil {
		return "", upstream("get category", err)
	}
	if c == nil || c.Name != name {
		r.Forget(KindCategory, name)
		return "", nil
	}
	return id, nil
}

func (r *Resolver) cachedWallet(ctx context.Context, name string) (string, error) {
	id, ok := r.cached(KindWallet, name)
	if !ok {
		return "", nil
	}
	w, err := r.store.GetWallet(ctx, id)
	if err != nil {
		return "", upstream("get wallet", err)
	}
	if w == nil || w.Name != name {
		r.Forget(KindWallet, name)
		return "", nil
	}
	return id, nil
}

func (r *Resolver) remember(kind Kind, name, id string) {
	if r.cache == nil {
		return
	}
	r.cache.Set(cacheKey(kind, name), id, 1)
}

func cacheKey(kind Kind, name string) string {
	return string(kind) + ":" + name
}
