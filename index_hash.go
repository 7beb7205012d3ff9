package barrel

import (
	"bytes"
	"sort"
	"sync"

	"github.com/zeebo/xxh3"
)

// hashShardCount is the number of independent locks the sharded index
// spreads keys across. A power of two lets shard selection be a mask
// instead of a modulo.
const hashShardCount = 32

// hashIndex is a concurrent, sharded hash map from key to locator.
// Lookups and single-key mutations only ever take one shard's lock, so
// unrelated keys never contend; ascend (and therefore Merge) pays the
// cost of a full sort since no shard knows the others' keys.
type hashIndex struct {
	shards [hashShardCount]hashShard
}

type hashShard struct {
	mu      sync.RWMutex
	entries map[string]locator
}

func newHashIndex() *hashIndex {
	idx := &hashIndex{}
	for i := range idx.shards {
		idx.shards[i].entries = make(map[string]locator)
	}
	return idx
}

func (idx *hashIndex) shardFor(key []byte) *hashShard {
	h := xxh3.Hash(key)
	return &idx.shards[h&(hashShardCount-1)]
}

func (idx *hashIndex) get(key []byte) (locator, bool) {
	s := idx.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.entries[string(key)]
	return loc, ok
}

func (idx *hashIndex) put(key []byte, loc locator) {
	s := idx.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[string(key)] = loc
}

func (idx *hashIndex) delete(key []byte) {
	s := idx.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, string(key))
}

func (idx *hashIndex) len() int {
	n := 0
	for i := range idx.shards {
		idx.shards[i].mu.RLock()
		n += len(idx.shards[i].entries)
		idx.shards[i].mu.RUnlock()
	}
	return n
}

// ascend visits every key in ascending order. Since shards are
// independently locked, this snapshots all entries first (locking one
// shard at a time) and sorts the snapshot rather than holding every
// shard's lock at once.
func (idx *hashIndex) ascend(fn func(key []byte, loc locator) bool) {
	type kv struct {
		key string
		loc locator
	}

	var all []kv
	for i := range idx.shards {
		s := &idx.shards[i]
		s.mu.RLock()
		for k, v := range s.entries {
			all = append(all, kv{key: k, loc: v})
		}
		s.mu.RUnlock()
	}

	sort.Slice(all, func(i, j int) bool {
		return bytes.Compare([]byte(all[i].key), []byte(all[j].key)) < 0
	})

	for _, e := range all {
		if !fn([]byte(e.key), e.loc) {
			return
		}
	}
}
