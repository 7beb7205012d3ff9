package barrel

import "fmt"

// batchEntry is one pending write in a WriteBatch, keyed by user key
// with last-write-wins semantics within the batch.
type batchEntry struct {
	state recordState
	value []byte
}

// WriteBatch groups Put/Delete calls into one atomically-visible unit:
// either every write in the batch is observed after Commit, or (on a
// crash before Commit finishes) none of them are. Writes are buffered
// in memory until Commit; within a batch, the last write to a given key
// wins.
type WriteBatch struct {
	db       *Db
	pending  map[string]batchEntry
	maxNum   int
	sync     bool
	finished bool
}

// BatchOptions configures a WriteBatch.
type BatchOptions struct {
	MaxBatchNum int  // zero means unlimited
	SyncWrites  bool // fsync the active segment when Commit returns
}

// NewBatch opens a new write batch against db.
func (db *Db) NewBatch(opts BatchOptions) *WriteBatch {
	return &WriteBatch{
		db:      db,
		pending: make(map[string]batchEntry),
		maxNum:  opts.MaxBatchNum,
		sync:    opts.SyncWrites,
	}
}

// Put stages a write of key=value for the next Commit.
func (b *WriteBatch) Put(key, value []byte) error {
	if b.finished {
		return fmt.Errorf("%w: batch already committed", ErrUnsupported)
	}
	if err := b.db.validateKV(key, value); err != nil {
		return err
	}
	b.pending[string(key)] = batchEntry{state: stateActive, value: value}
	return nil
}

// Delete stages a removal of key for the next Commit. A key with no
// live entry and nothing staged is a no-op; a key only staged (never
// put to the store) has its staged write withdrawn; a key live in the
// store is staged as a tombstone.
func (b *WriteBatch) Delete(key []byte) error {
	if b.finished {
		return fmt.Errorf("%w: batch already committed", ErrUnsupported)
	}
	if len(key) == 0 {
		return ErrKeyEmpty
	}

	_, live := b.db.idx.get(key)
	if !live {
		delete(b.pending, string(key))
		return nil
	}

	b.pending[string(key)] = batchEntry{state: stateInactive}
	return nil
}

// Commit assigns the batch a sequence number, appends every pending
// write tagged with that sequence, then appends a terminal commit
// marker. Only after the marker is written are the batch's entries
// applied to the index — both Active writes and Inactive tombstones, so
// a deleted key actually disappears from the live index once a batch
// commits (spec.md §4.5, §4.7).
func (b *WriteBatch) Commit() error {
	if b.finished {
		return fmt.Errorf("%w: batch already committed", ErrUnsupported)
	}
	b.finished = true

	if b.maxNum > 0 && len(b.pending) > b.maxNum {
		return ErrBatchTooLarge
	}

	if len(b.pending) == 0 {
		return nil
	}

	db := b.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.opts.readOnly {
		return ErrReadOnly
	}

	db.commitMu.Lock()
	seq := db.nextSeq.Add(1) - 1
	db.commitMu.Unlock()

	locs := make(map[string]locator, len(b.pending))
	for key, entry := range b.pending {
		var value []byte
		if entry.state == stateActive {
			value = entry.value
		}
		loc, err := db.appendLocked(record{
			state: entry.state,
			key:   encodeTxnKey(seq, []byte(key)),
			value: value,
		})
		if err != nil {
			return fmt.Errorf("write batch entry for key %q: %w", key, err)
		}
		locs[key] = loc
	}

	if _, err := db.appendLocked(record{
		state: stateCommitted,
		key:   encodeTxnKey(seq, []byte(committedSentinel)),
	}); err != nil {
		return fmt.Errorf("write batch commit marker: %w", err)
	}

	for key, entry := range b.pending {
		if entry.state == stateInactive {
			db.idx.delete([]byte(key))
			continue
		}
		db.idx.put([]byte(key), locs[key])
	}

	if b.sync {
		if err := db.active.sync(); err != nil {
			return fmt.Errorf("sync after batch commit: %w", err)
		}
	}

	return nil
}
