package reconciler

import (
	"sort"
	"sync"
)

// keyLock hands out one mutex per name. Entries are reference counted and
// dropped once nobody holds or waits on them.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*keyLockEntry)}
}

// Lock acquires every named lock in sorted order and returns a func that
// releases them. Duplicate names are locked once.
func (k *keyLock) Lock(names ...string) func() {
	names = uniqueSorted(names)

	acquired := make([]*keyLockEntry, 0, len(names))
	for _, name := range names {
		k.mu.Lock()
		entry, ok := k.locks[name]
		if !ok {
			entry = &keyLockEntry{}
			k.locks[name] = entry
		}
		entry.refs++
		k.mu.Unlock()

		entry.mu.Lock()
		acquired = append(acquired, entry)
	}

	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].mu.Unlock()
		}
		k.mu.Lock()
		for i, name := range names {
			acquired[i].refs--
			if acquired[i].refs == 0 {
				delete(k.locks, name)
			}
		}
		k.mu.Unlock()
	}
}

// size reports how many names currently have an entry.
func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func uniqueSorted(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
