package barrel

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// S1: put then get returns the value just written.
func TestPutThenGet(t *testing.T) {
	db, _, _ := setupTempDB(t)

	if err := db.Put([]byte("key"), []byte("value")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := db.Get([]byte("key"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("value")) {
		t.Fatalf("Get = %q, want %q", got, "value")
	}
}

// S2: get on a never-written key fails with ErrKeyNotFound.
func TestGetMissingKey(t *testing.T) {
	db, _, _ := setupTempDB(t)

	_, err := db.Get([]byte("nope"))
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}

// S3: delete removes a key so a subsequent get reports not found.
func TestDeleteThenGet(t *testing.T) {
	db, _, _ := setupTempDB(t)

	if err := db.Put([]byte("key"), []byte("value")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Delete([]byte("key")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, err := db.Get([]byte("key"))
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}

// S4: a put that overwrites a key is visible after Close/Open (crash
// recovery replays segments in order, so the last write wins).
func TestReopenRebuildsIndex(t *testing.T) {
	db, path, _ := setupTempDB(t)

	if err := db.Put([]byte("key"), []byte("v1")); err != nil {
		t.Fatalf("Put v1: %v", err)
	}
	if err := db.Put([]byte("key"), []byte("v2")); err != nil {
		t.Fatalf("Put v2: %v", err)
	}
	if err := db.Put([]byte("other"), []byte("x")); err != nil {
		t.Fatalf("Put other: %v", err)
	}
	if err := db.Delete([]byte("other")); err != nil {
		t.Fatalf("Delete other: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get([]byte("key"))
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("Get after reopen = %q, want %q", got, "v2")
	}

	if _, err := reopened.Get([]byte("other")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err = %v, want ErrKeyNotFound for deleted key", err)
	}
}

// S5: a segment rollover still leaves every key reachable.
func TestRolloverAcrossSegments(t *testing.T) {
	db, _, _ := setupTempDB(t, WithDataFileSize(64))

	const n = 50
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		if err := db.Put(key, []byte("value")); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	if len(db.older) == 0 {
		t.Fatalf("expected at least one rollover with a 64-byte segment size")
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		got, err := db.Get(key)
		if err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
		if !bytes.Equal(got, []byte("value")) {
			t.Fatalf("Get %d = %q, want %q", i, got, "value")
		}
	}
}

// S6: a truncated tail record (simulating a crash mid-write) is
// discarded on reopen instead of failing recovery.
func TestRecoveryDiscardsTornTailRecord(t *testing.T) {
	db, path, _ := setupTempDB(t)

	if err := db.Put([]byte("good"), []byte("value")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	activeID := db.active.id
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	segPath := segmentPath(path, activeID)
	f, err := os.OpenFile(segPath, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	if _, err := f.Write([]byte{0x00, 0x03, 0x02, 'b', 'a'}); err != nil {
		t.Fatalf("append torn tail: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close segment: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen after torn tail: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get([]byte("good"))
	if err != nil {
		t.Fatalf("Get after torn-tail recovery: %v", err)
	}
	if !bytes.Equal(got, []byte("value")) {
		t.Fatalf("Get = %q, want %q", got, "value")
	}

	info, err := os.Stat(segPath)
	if err != nil {
		t.Fatalf("stat segment: %v", err)
	}
	if info.Size() != reopened.active.size() {
		t.Fatalf("segment file size %d does not match active handle size %d after truncation",
			info.Size(), reopened.active.size())
	}
}

func TestPutRejectsOversizedKeyAndValue(t *testing.T) {
	db, _, _ := setupTempDB(t, WithMaxKeySize(4), WithMaxValueSize(4))

	if err := db.Put([]byte("toolong"), []byte("ok")); !errors.Is(err, ErrKeyTooLarge) {
		t.Fatalf("err = %v, want ErrKeyTooLarge", err)
	}
	if err := db.Put([]byte("ok"), []byte("toolong")); !errors.Is(err, ErrValueTooLarge) {
		t.Fatalf("err = %v, want ErrValueTooLarge", err)
	}
}

func TestPutRejectsEmptyKey(t *testing.T) {
	db, _, _ := setupTempDB(t)

	if err := db.Put(nil, []byte("v")); !errors.Is(err, ErrKeyEmpty) {
		t.Fatalf("err = %v, want ErrKeyEmpty", err)
	}
}

func TestSecondOpenFailsWithAlreadyInUse(t *testing.T) {
	db, path, _ := setupTempDB(t)
	_ = db

	_, err := Open(path)
	if !errors.Is(err, ErrAlreadyInUse) {
		t.Fatalf("err = %v, want ErrAlreadyInUse", err)
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	db, path, _ := setupTempDB(t)
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ro, err := Open(path, WithReadOnly(true))
	if err != nil {
		t.Fatalf("Open read-only: %v", err)
	}
	defer ro.Close()

	if err := ro.Put([]byte("k2"), []byte("v2")); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("err = %v, want ErrReadOnly", err)
	}

	got, err := ro.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get on read-only db: %v", err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Fatalf("Get = %q, want %q", got, "v")
	}
}

func TestBackup(t *testing.T) {
	db, path, _ := setupTempDB(t)
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	dst := path + "-backup"
	defer os.RemoveAll(dst)

	if err := db.Backup(dst); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	restored, err := Open(dst)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer restored.Close()

	got, err := restored.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get from backup: %v", err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Fatalf("Get = %q, want %q", got, "v")
	}
}

func TestOrderedIndexOption(t *testing.T) {
	db, _, _ := setupTempDB(t, WithOrderedIndex())

	if _, ok := db.idx.(*treeIndex); !ok {
		t.Fatalf("idx = %T, want *treeIndex", db.idx)
	}
}

func segmentDir(t *testing.T, path string) []string {
	t.Helper()
	entries, err := os.ReadDir(path)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, filepath.Base(e.Name()))
	}
	return names
}
