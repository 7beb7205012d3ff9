package barrel

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// pendingEntry is a not-yet-committed transaction member, buffered
// until its batch's commit marker is seen (or the log ends without
// one, in which case it is simply discarded).
type pendingEntry struct {
	key   []byte
	state recordState
	loc   locator
}

// recover rebuilds db.idx and opens every segment file on disk,
// installing the highest-numbered one as the active segment.
//
// The hint file is loaded first, then every segment is replayed in
// ascending id order on top of it, so a key present in both always
// ends up with the segment scan's (newer) answer (an explicit design
// choice: the hint file is a shortcut, never a source of truth over
// the log itself).
//
// pending buffers transaction members across the ENTIRE scan, not
// per segment: a batch's writes can straddle a segment rotation if
// rotation happens mid-commit, so a segment boundary must never reset it.
func (db *Db) recover() error {
	ids, err := db.listSegmentIDs()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	db.nextFileID.Store(ids[len(ids)-1] + 1)

	if _, err := loadHintFile(db.opts.dirPath, db.idx); err != nil {
		return fmt.Errorf("load hint file: %w", err)
	}

	pending := make(map[uint64][]pendingEntry)

	for i, id := range ids {
		isLast := i == len(ids)-1

		fb, err := openFileBackend(segmentPath(db.opts.dirPath, id))
		if err != nil {
			return fmt.Errorf("open segment %d: %w", id, err)
		}

		sc := newRecordScanner(fb)
		var maxSeq uint64
		for sc.scan() {
			sr := sc.record()

			userKey, seq, derr := decodeTxnKey(sr.key)
			if derr != nil {
				_ = fb.Close()
				return fmt.Errorf("decode key in segment %d at offset %d: %w", id, sr.off, derr)
			}
			if seq > maxSeq {
				maxSeq = seq
			}

			loc := locator{fileID: id, offset: uint64(sr.off), size: uint32(sr.len)}

			switch {
			case sr.state == stateCommitted:
				for _, pe := range pending[seq] {
					applyRecovered(db.idx, pe.key, pe.state, pe.loc)
				}
				delete(pending, seq)
			case seq == 0:
				applyRecovered(db.idx, userKey, sr.state, loc)
			default:
				pending[seq] = append(pending[seq], pendingEntry{key: userKey, state: sr.state, loc: loc})
			}
		}
		if serr := sc.err(); serr != nil {
			_ = fb.Close()
			return fmt.Errorf("scan segment %d: %w", id, serr)
		}

		if maxSeq >= db.nextSeq.Load() {
			db.nextSeq.Store(maxSeq + 1)
		}

		if err := fb.Truncate(sc.end); err != nil {
			_ = fb.Close()
			return fmt.Errorf("truncate segment %d: %w", id, err)
		}

		if isLast && !db.opts.readOnly {
			db.active = newFileHandle(id, fb, sc.end)
			continue
		}
		if err := fb.Close(); err != nil {
			return fmt.Errorf("close segment %d after recovery: %w", id, err)
		}

		mb, err := openMmapBackend(segmentPath(db.opts.dirPath, id))
		if err != nil {
			return fmt.Errorf("mmap segment %d: %w", id, err)
		}
		// a read-only Db never has an active segment; its highest
		// segment just becomes one more closed segment in db.older.
		db.older[id] = newFileHandle(id, mb, sc.end)
	}

	// any batches still pending at end of log never committed; their
	// writes are discarded, matching what a client would have observed
	// (no acknowledgment was ever returned for them).

	return db.checkOrphanedSegments(ids)
}

func applyRecovered(idx index, key []byte, state recordState, loc locator) {
	if state == stateInactive {
		idx.delete(key)
		return
	}
	idx.put(key, loc)
}

func (db *Db) listSegmentIDs() ([]uint32, error) {
	entries, err := os.ReadDir(db.opts.dirPath)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", db.opts.dirPath, err)
	}

	var ids []uint32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, segmentFileSuffix) {
			continue
		}
		base := strings.TrimSuffix(name, segmentFileSuffix)
		n, err := strconv.ParseUint(base, 10, 32)
		if err != nil {
			continue // a .db file whose name is not a segment id
		}
		ids = append(ids, uint32(n))
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// checkOrphanedSegments warns about files in the data directory that
// recover doesn't recognize, the way a crash mid-merge might leave
// behind a stray file. It never fails Open over this; it only logs.
func (db *Db) checkOrphanedSegments(ids []uint32) error {
	entries, err := os.ReadDir(db.opts.dirPath)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}

	expected := mapset.NewSet[string]()
	for _, id := range ids {
		expected.Add(filepath.Base(segmentPath(db.opts.dirPath, id)))
	}
	expected.Add(lockFileName)
	expected.Add(hintFileName)
	expected.Add(mergeFinishedFileName)

	actual := mapset.NewSet[string]()
	for _, e := range entries {
		if !e.IsDir() {
			actual.Add(e.Name())
		}
	}

	if extra := actual.Difference(expected); extra.Cardinality() != 0 {
		log.Printf("barrel: unrecognized files in %q: %v", db.opts.dirPath, extra)
	}

	return nil
}
