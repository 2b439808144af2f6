package finance

import (
	"context"
	"errors"
	"strings"
)

// =============================================================================
// KEYWORD MAPPINGS
// =============================================================================

// KeywordInput maps a keyword to a category. CategoryRef is an id or a
// name; unknown names create an expense category.
type KeywordInput struct {
	Keyword     string
	CategoryRef string
}

// NormalizeKeyword is the stored form of a keyword.
func NormalizeKeyword(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

func (l *Ledger) CreateKeywordMapping(ctx context.Context, in KeywordInput) (*KeywordMapping, error) {
	m := KeywordMapping{
		ID:        l.newID(),
		Keyword:   NormalizeKeyword(in.Keyword),
		CreatedAt: l.now(),
	}
	v := &ValidationError{}
	validateName(v, "keyword", m.Keyword)
	if strings.TrimSpace(in.CategoryRef) == "" {
		v.add("categoryId", "must not be empty")
	}
	if err := v.orNil(); err != nil {
		return nil, err
	}

	categoryID, err := l.resolver.ResolveCategory(ctx, in.CategoryRef, TypeExpense)
	if err != nil {
		return nil, l.fail("resolve category", err)
	}
	m.CategoryID = categoryID

	// The category lock keeps DeleteCategory's reference count honest.
	unlock := l.locks.lock(categoryKey(categoryID))
	defer unlock()

	err = runAtomic(ctx, l.store, func(s Store) error {
		if err := checkRefs(ctx, s, "", categoryID); err != nil {
			return err
		}
		if err := s.InsertKeywordMapping(ctx, m); err != nil {
			if errors.Is(err, ErrDuplicateKeyword) {
				return &ConflictError{Kind: KindKeyword, Reason: "keyword " + m.Keyword + " already exists"}
			}
			return upstream("insert keyword mapping", err)
		}
		return nil
	})
	if err != nil {
		return nil, l.fail("create keyword mapping", err)
	}
	return &m, nil
}

func (l *Ledger) DeleteKeywordMapping(ctx context.Context, id string) error {
	deleted, err := l.store.DeleteKeywordMapping(ctx, id)
	if err != nil {
		return l.fail("delete keyword mapping", upstream("delete keyword mapping", err))
	}
	if !deleted {
		return &NotFoundError{Kind: KindKeyword, ID: id}
	}
	return nil
}

func (l *Ledger) ListKeywordMappings(ctx context.Context) ([]KeywordMapping, error) {
	ms, err := l.store.ListKeywordMappings(ctx)
	if err != nil {
		return nil, l.fail("list keyword mappings", upstream("list keyword mappings", err))
	}
	return ms, nil
}

// MatchKeyword returns the category of the first mapping whose keyword
// occurs in text (case-insensitive). Longer keywords win over shorter ones
// so "coffee beans" beats "coffee".
func MatchKeyword(mappings []KeywordMapping, text string) (string, bool) {
	text = strings.ToLower(text)
	best := -1
	for i, m := range mappings {
		if m.Keyword == "" || !strings.Contains(text, m.Keyword) {
			continue
		}
		if best < 0 || len(m.Keyword) > len(mappings[best].Keyword) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return mappings[best].CategoryID, true
}
