package barrel

import (
	"os"
	"testing"
)

// setupTempDB opens a fresh Db in a throwaway temp directory, registering
// cleanup on tb so tests don't need to remember to Close or remove it.
func setupTempDB(tb testing.TB, opts ...Option) (db *Db, path string, cleanup func()) {
	path, err := os.MkdirTemp("", "barrel_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp: %v", err)
	}

	db, err = Open(path, opts...)
	if err != nil {
		_ = os.RemoveAll(path)
		tb.Fatalf("Open(%q): %v", path, err)
	}

	cleanup = func() {
		_ = db.Close()
		_ = os.RemoveAll(path)
	}
	tb.Cleanup(cleanup)

	return db, path, cleanup
}
