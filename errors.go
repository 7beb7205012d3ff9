package barrel

import "errors"

// Sentinel errors returned by Db, Batch and their supporting components.
//
// Most of these correspond to spec.md's "Unsupported" taxonomy: a
// user-level precondition violation or an intentional refusal, as
// opposed to a propagated filesystem error. Callers should use
// errors.Is against these rather than matching error strings.
var (
	// ErrKeyNotFound is returned by Get when no live entry exists for a key.
	ErrKeyNotFound = errors.New("barrel: key not found")

	// ErrEntryRemoved is returned by Get when the indexed record turned
	// out to be a tombstone (should not normally happen: the index is
	// kept free of tombstones, but a record can race a concurrent delete).
	ErrEntryRemoved = errors.New("barrel: entry removed")

	// ErrKeyEmpty is returned by Put/Delete/Get for a zero-length key.
	ErrKeyEmpty = errors.New("barrel: key is empty")

	// ErrKeyTooLarge is returned when a key exceeds the max key size
	// (WithMaxKeySize).
	ErrKeyTooLarge = errors.New("barrel: key exceeds max key size")

	// ErrValueTooLarge is returned when a value exceeds the max value
	// size (WithMaxValueSize).
	ErrValueTooLarge = errors.New("barrel: value exceeds max value size")

	// ErrReadOnly is returned by Put/Delete/batch commit on a read-only Db.
	ErrReadOnly = errors.New("barrel: database is read-only")

	// ErrAlreadyInUse is returned by Open when the directory lock is
	// already held by another open Db.
	ErrAlreadyInUse = errors.New("barrel: database directory already in use")

	// ErrBatchTooLarge is returned by WriteBatch.Commit when the batch
	// holds more pending writes than BatchOptions.MaxBatchNum.
	ErrBatchTooLarge = errors.New("barrel: batch exceeds max batch size")

	// ErrChecksumMismatch is returned when a record's stored CRC does not
	// match the CRC computed over its decoded bytes; this indicates
	// mid-segment corruption, not a clean end-of-log.
	ErrChecksumMismatch = errors.New("barrel: record CRC mismatch")

	// ErrMergeEmpty is returned by Merge when the database has no closed
	// segments to compact.
	ErrMergeEmpty = errors.New("barrel: merge on an empty database")

	// ErrUnsupported is returned for capability mismatches, such as
	// writing or syncing through a read-only memory-mapped backend, or
	// encoding a record whose key and value are both empty.
	ErrUnsupported = errors.New("barrel: unsupported operation")
)
