package finance

import (
	"sort"
	"sync"
)

// keyedLocks serializes mutations per entity key (see walletKey and
// categoryKey). Entries are reference counted and dropped when no holder
// remains.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

func walletKey(id string) string {
	if id == "" {
		return ""
	}
	return "wallet:" + id
}

func categoryKey(id string) string {
	if id == "" {
		return ""
	}
	return "category:" + id
}

// lock acquires the locks for every non-empty key, in sorted order so two
// callers touching the same pair of entities cannot deadlock. The returned
// func releases them.
func (l *keyedLocks) lock(ids ...string) func() {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		uniq = append(uniq, id)
	}
	sort.Strings(uniq)

	held := make([]*keyedLock, 0, len(uniq))
	for _, id := range uniq {
		l.mu.Lock()
		wl, ok := l.locks[id]
		if !ok {
			wl = &keyedLock{}
			l.locks[id] = wl
		}
		wl.refs++
		l.mu.Unlock()

		wl.mu.Lock()
		held = append(held, wl)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.locks, uniq[i])
			}
			l.mu.Unlock()
		}
	}
}
