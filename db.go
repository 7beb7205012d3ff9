// Package barrel implements the Db type: an embedded, single-process,
// Bitcask-model key-value store.
package barrel

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// lockFileName is the directory-level advisory lock held for a Db's
// entire lifetime, preventing a second process (or a second Open call
// in this process) from touching the same directory concurrently.
const lockFileName = "file.lock"

// segmentFileSuffix names every segment file on disk.
const segmentFileSuffix = ".db"

// Db is a single open instance of a barrel store. All exported methods
// are safe for concurrent use.
type Db struct {
	opts Options

	mu     sync.RWMutex         // guards active, older, and structural changes to segments
	active *fileHandle          // current writable segment
	older  map[uint32]*fileHandle // closed segments, read-only

	idx index

	lockFile *os.File

	nextFileID atomic.Uint32
	nextSeq    atomic.Uint64 // next transaction sequence number
	commitMu   sync.Mutex    // serializes batch commit: sequence assignment + write

	closed bool
}

// Open opens (creating if necessary) the barrel database rooted at
// dirPath, replaying its log and hint file to rebuild the in-memory
// index.
func Open(dirPath string, opts ...Option) (db *Db, err error) {
	o := DefaultOptions(dirPath)
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", dirPath, err)
	}

	db = &Db{
		opts:  o,
		older: make(map[uint32]*fileHandle),
	}
	// sequence 0 marks a non-transactional write, so batches start at 1.
	db.nextSeq.Store(1)

	db.idx = newIndexOfKind(o.indexKind)

	defer func() {
		if err != nil {
			db.closeHandlesOnError()
		}
	}()

	if !o.readOnly {
		db.lockFile, err = acquireDirLock(dirPath)
		if err != nil {
			return nil, err
		}
	}

	if err = db.completePendingMerge(); err != nil {
		return nil, fmt.Errorf("complete pending merge: %w", err)
	}

	if err = db.recover(); err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}

	if db.active == nil && !o.readOnly {
		if err = db.rotateActive(); err != nil {
			return nil, fmt.Errorf("create initial segment: %w", err)
		}
	}

	return db, nil
}

func acquireDirLock(dirPath string) (*os.File, error) {
	path := filepath.Join(dirPath, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrAlreadyInUse
		}
		return nil, fmt.Errorf("flock: %w", err)
	}
	return f, nil
}

func (db *Db) closeHandlesOnError() {
	if db.active != nil {
		_ = db.active.close()
	}
	for _, fh := range db.older {
		_ = fh.close()
	}
	if db.lockFile != nil {
		_ = db.lockFile.Close()
	}
}

func segmentPath(dirPath string, id uint32) string {
	return filepath.Join(dirPath, fmt.Sprintf("%010d%s", id, segmentFileSuffix))
}

func (db *Db) claimNextFileID() uint32 {
	return db.nextFileID.Add(1) - 1
}

// rotateActive closes over the current active segment (moving it to
// older) and opens a fresh one to take its place. Callers must hold
// db.mu for writing.
func (db *Db) rotateActive() error {
	if db.active != nil {
		if err := db.active.sync(); err != nil {
			return fmt.Errorf("sync segment %d before rotation: %w", db.active.id, err)
		}
		db.older[db.active.id] = db.active
	}

	id := db.claimNextFileID()
	fb, err := openFileBackend(segmentPath(db.opts.dirPath, id))
	if err != nil {
		return fmt.Errorf("create segment %d: %w", id, err)
	}
	db.active = newFileHandle(id, fb, 0)
	return nil
}

// Get returns the current value for key, or ErrKeyNotFound if no live
// entry exists.
func (db *Db) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrKeyEmpty
	}

	db.mu.RLock()
	loc, ok := db.idx.get(key)
	if !ok {
		db.mu.RUnlock()
		return nil, ErrKeyNotFound
	}
	fh := db.handleFor(loc.fileID)
	db.mu.RUnlock()

	if fh == nil {
		return nil, fmt.Errorf("%w: segment %d for key %q missing", ErrUnsupported, loc.fileID, key)
	}

	rec, _, err := fh.extractRecord(int64(loc.offset))
	if err != nil {
		return nil, fmt.Errorf("read record for key %q: %w", key, err)
	}
	if rec.state == stateInactive {
		return nil, ErrEntryRemoved
	}

	return rec.value, nil
}

// handleFor returns the fileHandle for a segment id. Callers must hold
// db.mu (read or write).
func (db *Db) handleFor(id uint32) *fileHandle {
	if db.active != nil && db.active.id == id {
		return db.active
	}
	return db.older[id]
}

// Put writes key=value, replacing any current value.
func (db *Db) Put(key, value []byte) error {
	if err := db.validateKV(key, value); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.opts.readOnly {
		return ErrReadOnly
	}

	loc, err := db.appendLocked(record{
		state: stateActive,
		key:   encodeTxnKey(0, key),
		value: value,
	})
	if err != nil {
		return err
	}

	db.idx.put(key, loc)
	return nil
}

// Delete removes key. It is not an error to delete a key that does not
// exist.
func (db *Db) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.opts.readOnly {
		return ErrReadOnly
	}

	if _, ok := db.idx.get(key); !ok {
		return nil
	}

	_, err := db.appendLocked(record{
		state: stateInactive,
		key:   encodeTxnKey(0, key),
		value: nil,
	})
	if err != nil {
		return err
	}

	db.idx.delete(key)
	return nil
}

func (db *Db) validateKV(key, value []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if len(key) > db.opts.maxKeySize {
		return ErrKeyTooLarge
	}
	if len(value) > db.opts.maxValueSize {
		return ErrValueTooLarge
	}
	return nil
}

// appendLocked encodes and appends r to the active segment, rotating
// first if the active segment has reached its size threshold. Callers
// must hold db.mu for writing.
func (db *Db) appendLocked(r record) (locator, error) {
	if db.active.size() >= db.opts.dataFileSize {
		if err := db.rotateActive(); err != nil {
			return locator{}, fmt.Errorf("rotate active segment: %w", err)
		}
	}

	loc, err := db.active.appendRecord(r)
	if err != nil {
		return locator{}, fmt.Errorf("append record: %w", err)
	}

	if db.opts.syncWrites {
		if err := db.active.sync(); err != nil {
			return locator{}, fmt.Errorf("sync active segment: %w", err)
		}
	}

	return loc, nil
}

// Sync flushes the active segment to stable storage.
func (db *Db) Sync() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.active == nil {
		return nil
	}
	return db.active.sync()
}

// Close flushes and releases all resources held by db. Using db after
// Close is undefined.
func (db *Db) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if db.active != nil {
		record(db.active.sync())
		record(db.active.close())
	}
	for _, fh := range db.older {
		record(fh.close())
	}
	if db.lockFile != nil {
		record(unix.Flock(int(db.lockFile.Fd()), unix.LOCK_UN))
		record(db.lockFile.Close())
	}

	return firstErr
}

// Backup copies every file at the top level of the data directory into
// dstDir, which must not already exist, skipping file.lock.
// Subdirectories and their contents are not copied. It is safe to call
// concurrently with reads and writes.
func (db *Db) Backup(dstDir string) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.active != nil {
		if err := db.active.sync(); err != nil {
			return fmt.Errorf("sync active segment before backup: %w", err)
		}
	}

	entries, err := os.ReadDir(db.opts.dirPath)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", db.opts.dirPath, err)
	}

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %q: %w", dstDir, err)
	}

	for _, e := range entries {
		if e.IsDir() || e.Name() == lockFileName {
			continue
		}
		src := filepath.Join(db.opts.dirPath, e.Name())
		dst := filepath.Join(dstDir, e.Name())
		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("read %q: %w", e.Name(), err)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("write %q: %w", e.Name(), err)
		}
	}

	return nil
}
