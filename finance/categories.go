package finance

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// CATEGORIES
// =============================================================================

type CategoryInput struct {
	Name        string
	DefaultType TxType // "" = expense
	Color       string // "" = DefaultCategoryColor
	Icon        string
	IsDefault   bool
}

type CategoryPatch struct {
	Name        *string
	DefaultType *TxType
	Color       *string
	Icon        *string
	IsDefault   *bool
}

func (l *Ledger) CreateCategory(ctx context.Context, in CategoryInput) (*Category, error) {
	now := l.now()
	c := Category{
		ID:          l.newID(),
		Name:        in.Name,
		DefaultType: in.DefaultType,
		Color:       in.Color,
		Icon:        in.Icon,
		IsDefault:   in.IsDefault,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if c.DefaultType == "" {
		c.DefaultType = TypeExpense
	}
	if c.Color == "" {
		c.Color = DefaultCategoryColor
	}
	if err := validateCategory(c); err != nil {
		return nil, err
	}
	if err := l.store.InsertCategory(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateName) {
			return nil, &ConflictError{Kind: KindCategory, Reason: "name " + c.Name + " already exists"}
		}
		return nil, l.fail("insert category", upstream("insert category", err))
	}
	return &c, nil
}

func (l *Ledger) UpdateCategory(ctx context.Context, id string, p CategoryPatch) (*Category, error) {
	unlock := l.locks.lock(categoryKey(id))
	defer unlock()

	c, err := l.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	oldName := c.Name
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.DefaultType != nil {
		c.DefaultType = *p.DefaultType
	}
	if p.Color != nil {
		c.Color = *p.Color
	}
	if p.Icon != nil {
		c.Icon = *p.Icon
	}
	if p.IsDefault != nil {
		c.IsDefault = *p.IsDefault
	}
	if err := validateCategory(*c); err != nil {
		return nil, err
	}
	c.UpdatedAt = l.now()

	matched, err := l.store.UpdateCategory(ctx, *c)
	if err != nil {
		if errors.Is(err, ErrDuplicateName) {
			return nil, &ConflictError{Kind: KindCategory, Reason: "name " + c.Name + " already exists"}
		}
		return nil, l.fail("update category", upstream("update category", err))
	}
	if !matched {
		return nil, &NotFoundError{Kind: KindCategory, ID: id}
	}
	l.resolver.Forget(KindCategory, oldName)
	return c, nil
}

// DeleteCategory deletes category id unless a transaction or keyword
// mapping references it.
func (l *Ledger) DeleteCategory(ctx context.Context, id string) error {
	unlock := l.locks.lock(categoryKey(id))
	defer unlock()

	c, err := l.GetCategory(ctx, id)
	if err != nil {
		return err
	}

	err = runAtomic(ctx, l.store, func(s Store) error {
		n, err := s.CountTransactions(ctx, TransactionFilter{CategoryID: id})
		if err != nil {
			return upstream("count transactions", err)
		}
		if n > 0 {
			return &ConflictError{Kind: KindCategory, Reason: referencedBy(n, "transaction")}
		}
		k, err := s.CountKeywordMappings(ctx, KeywordFilter{CategoryID: id})
		if err != nil {
			return upstream("count keyword mappings", err)
		}
		if k > 0 {
			return &ConflictError{Kind: KindCategory, Reason: referencedBy(k, "keyword mapping")}
		}
		deleted, err := s.DeleteCategory(ctx, id)
		if err != nil {
			return upstream("delete category", err)
		}
		if !deleted {
			return &NotFoundError{Kind: KindCategory, ID: id}
		}
		return nil
	})
	if err != nil {
		return l.fail("delete category", err)
	}
	l.resolver.Forget(KindCategory, c.Name)
	return nil
}

func (l *Ledger) GetCategory(ctx context.Context, id string) (*Category, error) {
	c, err := l.store.GetCategory(ctx, id)
	if err != nil {
		return nil, l.fail("get category", upstream("get category", err))
	}
	if c == nil {
		return nil, &NotFoundError{Kind: KindCategory, ID: id}
	}
	return c, nil
}

func (l *Ledger) ListCategories(ctx context.Context) ([]Category, error) {
	cs, err := l.store.ListCategories(ctx)
	if err != nil {
		return nil, l.fail("list categories", upstream("list categories", err))
	}
	return cs, nil
}

func referencedBy(n int, what string) string {
	if n == 1 {
		return fmt.Sprintf("referenced by 1 %s", what)
	}
	return fmt.Sprintf("referenced by %d %ss", n, what)
}
