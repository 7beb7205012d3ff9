package barrel

import (
	"fmt"
	"os"
	"path/filepath"
)

// hintFileName is the name Merge writes its hint log under inside the
// rebuilt data directory.
const hintFileName = "hint"

// writeHintFile writes one (user_key, encoded-locator) record per live
// entry, in the order ascend delivers them, reusing the same record
// codec as the data log (state is always stateActive; value is the
// locator's varint-triple encoding). The next Open loads it into the
// index before replaying the segments; the segment replay still runs
// over every segment.
func writeHintFile(dir string, idx index) error {
	path := filepath.Join(dir, hintFileName)
	fb, err := openFileBackend(path)
	if err != nil {
		return fmt.Errorf("create hint file: %w", err)
	}
	defer fb.Close()

	fh := newFileHandle(0, fb, 0)

	var writeErr error
	idx.ascend(func(key []byte, loc locator) bool {
		_, writeErr = fh.appendRecord(record{state: stateActive, key: key, value: loc.encode()})
		return writeErr == nil
	})
	if writeErr != nil {
		return fmt.Errorf("write hint entry: %w", writeErr)
	}

	if err := fh.sync(); err != nil {
		return fmt.Errorf("sync hint file: %w", err)
	}
	return nil
}

// loadHintFile reads a hint file written by writeHintFile and applies
// its entries directly to idx. A missing hint file is not an error: it
// reports found=false and leaves idx untouched.
func loadHintFile(dir string, idx index) (found bool, err error) {
	path := filepath.Join(dir, hintFileName)
	fb, err := openFileBackendReadOnly(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open hint file: %w", err)
	}
	defer fb.Close()

	sc := newRecordScanner(fb)
	for sc.scan() {
		rec := sc.record()
		loc, err := decodeLocator(rec.value)
		if err != nil {
			return false, fmt.Errorf("decode hint locator for key %q: %w", rec.key, err)
		}
		idx.put(rec.key, loc)
	}
	if err := sc.err(); err != nil {
		return false, fmt.Errorf("scan hint file: %w", err)
	}

	return true, nil
}
