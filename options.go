package barrel

// Default option values, matching the reference implementation's
// defaults (spec.md §6).
const (
	DefaultMaxKeySize   = 256
	DefaultMaxValueSize = 1024
	DefaultDataFileSize = 1 << 30 // 1 GiB
)

// indexKind selects which index implementation Open builds.
type indexKind int

const (
	// indexHash is the default: a sharded concurrent map, best for
	// point lookups with no ordering requirement.
	indexHash indexKind = iota
	// indexTree keeps keys in sorted order behind a single lock, best
	// when ordered iteration (range scans) dominates.
	indexTree
)

// Options configures Open. The zero value is not usable directly; use
// DefaultOptions and the With* functions, or Open's variadic Option
// arguments.
type Options struct {
	dirPath      string
	maxKeySize   int
	maxValueSize int
	dataFileSize int64
	readOnly     bool
	syncWrites   bool
	indexKind    indexKind
}

// DefaultOptions returns the option set Open falls back to before
// applying the caller's Option values.
func DefaultOptions(dirPath string) Options {
	return Options{
		dirPath:      dirPath,
		maxKeySize:   DefaultMaxKeySize,
		maxValueSize: DefaultMaxValueSize,
		dataFileSize: DefaultDataFileSize,
		readOnly:     false,
		syncWrites:   true,
		indexKind:    indexHash,
	}
}

// Option configures a Db at Open time.
type Option func(*Options)

// WithMaxKeySize overrides the maximum accepted key length.
func WithMaxKeySize(n int) Option {
	return func(o *Options) { o.maxKeySize = n }
}

// WithMaxValueSize overrides the maximum accepted value length.
func WithMaxValueSize(n int) Option {
	return func(o *Options) { o.maxValueSize = n }
}

// WithDataFileSize overrides the size at which the active segment
// rotates to a new one.
func WithDataFileSize(n int64) Option {
	return func(o *Options) { o.dataFileSize = n }
}

// WithReadOnly opens the database without acquiring the directory lock
// or permitting writes; Put, Delete, and Merge all return ErrReadOnly.
func WithReadOnly(b bool) Option {
	return func(o *Options) { o.readOnly = b }
}

// WithSyncWrites controls whether every write syncs the active segment
// before returning.
func WithSyncWrites(b bool) Option {
	return func(o *Options) { o.syncWrites = b }
}

// WithOrderedIndex selects the ordered (sorted-slice) index instead of
// the default sharded hash index. Pick this when range-style access
// patterns dominate over point writes.
func WithOrderedIndex() Option {
	return func(o *Options) { o.indexKind = indexTree }
}
