package resolver

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// defaultIndexSize bounds the known-entity cache. The pending set is
// separate and unbounded; it only ever holds ids first seen during
// the current run.
const defaultIndexSize = 50000

// indexKey identifies an entity in the known-entity index.
type indexKey struct {
	role string
	id   string
}

// knownIndex tracks which entity ids are already persisted (bounded
// LRU, seeded from the repository per run) and which have been queued
// for enrichment during this run. Check-and-mark is atomic so two
// concurrent callers never both decide to enrich the same id.
type knownIndex struct {
	mu      sync.Mutex
	known   *lru.Cache
	pending map[indexKey]struct{}
}

// newKnownIndex creates an empty index with the given cache bound.
func newKnownIndex(size int) (*knownIndex, error) {
	if size <= 0 {
		size = defaultIndexSize
	}

	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	return &knownIndex{
		known:   cache,
		pending: make(map[indexKey]struct{}),
	}, nil
}

// markKnown records an id as persisted.
func (idx *knownIndex) markKnown(key indexKey) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.known.Add(key, struct{}{})
	delete(idx.pending, key)
}

// checkAndMarkPending reports whether the id is new, atomically
// marking it pending so every later check short-circuits to known.
func (idx *knownIndex) checkAndMarkPending(key indexKey) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.known.Contains(key) {
		return false
	}

	if _, queued := idx.pending[key]; queued {
		return false
	}

	idx.pending[key] = struct{}{}

	return true
}
