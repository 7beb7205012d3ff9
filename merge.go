package barrel

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// mergeDirSuffix names the sibling directory Merge stages its compacted
// output in; the next Open installs it over the live segments.
const mergeDirSuffix = "-merge"

// mergeFinishedFileName holds a single record whose value is the
// ascii-decimal id of the first segment NOT covered by this merge. Merge
// writes it last, and its presence at the next Open is what makes
// installing the compacted output crash-safe: an interrupted merge
// leaves this file absent or unreadable, and its half-written output
// directory is simply discarded.
const mergeFinishedFileName = "merge_finished"

func mergeDirFor(dirPath string) string {
	return dirPath + mergeDirSuffix
}

func newIndexOfKind(kind indexKind) index {
	if kind == indexTree {
		return newTreeIndex()
	}
	return newHashIndex()
}

// Merge rewrites every live record across the closed segments into a
// fresh, compacted log plus a hint file in a sibling directory, then
// writes the merge-finished marker that records what the compacted
// output replaces. Merge never runs on its own; it only runs when a
// caller calls it (spec.md §4.8).
//
// Merge does not itself install the compacted output over the live
// segments: installation happens on the next Open, via
// completePendingMerge (spec.md §4.8, §4.9). This keeps every open
// fileHandle immutable for its whole lifetime (spec.md §5), so a Get
// reading through a handle it looked up under RLock can never race a
// close/munmap of that same handle.
func (db *Db) Merge() (rerr error) {
	db.mu.RLock()
	if db.opts.readOnly {
		db.mu.RUnlock()
		return ErrReadOnly
	}
	if len(db.older) == 0 {
		db.mu.RUnlock()
		return ErrMergeEmpty
	}
	toMerge := make([]*fileHandle, 0, len(db.older))
	for _, fh := range db.older {
		toMerge = append(toMerge, fh)
	}
	activeID := db.active.id
	db.mu.RUnlock()

	sort.Slice(toMerge, func(i, j int) bool { return toMerge[i].id < toMerge[j].id })

	mergeDir := mergeDirFor(db.opts.dirPath)
	if err := os.RemoveAll(mergeDir); err != nil {
		return fmt.Errorf("clear stale merge dir: %w", err)
	}
	if err := os.MkdirAll(mergeDir, 0o755); err != nil {
		return fmt.Errorf("create merge dir: %w", err)
	}
	defer func() {
		if rerr != nil {
			_ = os.RemoveAll(mergeDir)
		}
	}()

	mergeIdx := newHashIndex()

	var out *fileHandle
	var nextID uint32
	rollIfNeeded := func() error {
		if out != nil && out.size() < db.opts.dataFileSize {
			return nil
		}
		if out != nil {
			if err := out.sync(); err != nil {
				return err
			}
			if err := out.close(); err != nil {
				return err
			}
		}
		fb, err := openFileBackend(segmentPath(mergeDir, nextID))
		if err != nil {
			return err
		}
		out = newFileHandle(nextID, fb, 0)
		nextID++
		return nil
	}

	for _, fh := range toMerge {
		sc := newRecordScanner(fh.backend)
		for sc.scan() {
			sr := sc.record()

			userKey, _, err := decodeTxnKey(sr.key)
			if err != nil {
				return fmt.Errorf("decode key in segment %d: %w", fh.id, err)
			}
			if sr.state != stateActive {
				continue // tombstones carry no live value to preserve
			}

			curLoc, ok := db.idx.get(userKey)
			if !ok || curLoc.fileID != fh.id || curLoc.offset != uint64(sr.off) {
				continue // deleted or superseded by a later write
			}

			if err := rollIfNeeded(); err != nil {
				return fmt.Errorf("roll merge segment: %w", err)
			}

			loc, err := out.appendRecord(record{
				state: stateActive,
				key:   encodeTxnKey(0, userKey),
				value: sr.value,
			})
			if err != nil {
				return fmt.Errorf("write merged record for key %q: %w", userKey, err)
			}
			mergeIdx.put(userKey, loc)
		}
		if err := sc.err(); err != nil {
			return fmt.Errorf("scan segment %d during merge: %w", fh.id, err)
		}
	}

	if out != nil {
		if err := out.sync(); err != nil {
			return fmt.Errorf("sync merge output: %w", err)
		}
		if err := out.close(); err != nil {
			return fmt.Errorf("close merge output: %w", err)
		}
	}

	if err := writeHintFile(mergeDir, mergeIdx); err != nil {
		return fmt.Errorf("write merge hint file: %w", err)
	}
	if err := writeMergeFinishedMarker(mergeDir, activeID); err != nil {
		return fmt.Errorf("write merge-finished marker: %w", err)
	}

	return nil
}

func writeMergeFinishedMarker(mergeDir string, firstUnmergedID uint32) error {
	fb, err := openFileBackend(filepath.Join(mergeDir, mergeFinishedFileName))
	if err != nil {
		return err
	}
	defer fb.Close()

	fh := newFileHandle(0, fb, 0)
	_, err = fh.appendRecord(record{
		state: stateCommitted,
		key:   []byte("merge"),
		value: []byte(strconv.FormatUint(uint64(firstUnmergedID), 10)),
	})
	if err != nil {
		return err
	}
	return fh.sync()
}

// readMergeFinishedMarker reports whether mergeDir holds a valid
// merge-finished marker and, if so, the first segment id not covered
// by the merge.
func readMergeFinishedMarker(mergeDir string) (firstUnmergedID uint32, ok bool, err error) {
	path := filepath.Join(mergeDir, mergeFinishedFileName)
	fb, err := openFileBackendReadOnly(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	defer fb.Close()

	sc := newRecordScanner(fb)
	if !sc.scan() {
		return 0, false, sc.err()
	}
	n, err := strconv.ParseUint(string(sc.record().value), 10, 32)
	if err != nil {
		return 0, false, fmt.Errorf("parse merge-finished marker: %w", err)
	}
	return uint32(n), true, nil
}

// installMergeFiles moves a completed merge's segment files and hint
// file from mergeDir into dirPath, first removing the segments being
// superseded (every id below firstUnmergedID). It only touches the
// filesystem; the caller is responsible for refreshing any in-memory
// state that referenced the old files.
func installMergeFiles(dirPath, mergeDir string, firstUnmergedID uint32) error {
	entries, err := os.ReadDir(mergeDir)
	if err != nil {
		return fmt.Errorf("read merge dir: %w", err)
	}

	for id := uint32(0); id < firstUnmergedID; id++ {
		path := segmentPath(dirPath, id)
		if _, err := os.Stat(path); err == nil {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove superseded segment %d: %w", id, err)
			}
		}
	}

	for _, e := range entries {
		if e.IsDir() || e.Name() == mergeFinishedFileName {
			continue
		}
		if err := os.Rename(filepath.Join(mergeDir, e.Name()), filepath.Join(dirPath, e.Name())); err != nil {
			return fmt.Errorf("install %q: %w", e.Name(), err)
		}
	}

	return os.RemoveAll(mergeDir)
}

// completePendingMerge runs at Open, before recover, to finish or
// discard a merge interrupted by a crash (spec.md §4.8, §4.9).
func (db *Db) completePendingMerge() error {
	mergeDir := mergeDirFor(db.opts.dirPath)
	info, err := os.Stat(mergeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat merge dir: %w", err)
	}
	if !info.IsDir() {
		return nil
	}

	firstUnmergedID, ok, err := readMergeFinishedMarker(mergeDir)
	if err != nil || !ok {
		return os.RemoveAll(mergeDir)
	}

	return installMergeFiles(db.opts.dirPath, mergeDir, firstUnmergedID)
}
