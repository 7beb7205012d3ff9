package barrel

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// backend is the storage surface a fileHandle reads and writes through.
// There are exactly two variants (spec.md §4.1): a buffered append-only
// file, used for the active segment and for any inactive segment opened
// read-write during recovery/merge, and a read-only memory map, used to
// serve reads from closed segments without holding an open file
// descriptor per segment. ReadAt matches io.ReaderAt so a backend can be
// handed straight to io.NewSectionReader for sequential scanning.
type backend interface {
	ReadAt(buf []byte, off int64) (int, error)
	WriteAt(buf []byte, off int64) (int, error)
	Sync() error
	Truncate(size int64) error
	Close() error
}

// fileBackend is a plain os.File, read and written positionally via
// ReadAt/WriteAt so concurrent readers never race the writer's cursor.
type fileBackend struct {
	file *os.File
}

func openFileBackend(path string) (*fileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	return &fileBackend{file: f}, nil
}

// openFileBackendReadOnly opens an existing file without creating it,
// so a caller can distinguish "file absent" from "file empty" via
// os.IsNotExist. The error is returned unwrapped so os.IsNotExist's
// type switch on *os.PathError still matches it.
func openFileBackendReadOnly(path string) (*fileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return &fileBackend{file: f}, nil
}

func (b *fileBackend) ReadAt(buf []byte, off int64) (int, error) {
	return b.file.ReadAt(buf, off)
}

func (b *fileBackend) WriteAt(buf []byte, off int64) (int, error) {
	return b.file.WriteAt(buf, off)
}

func (b *fileBackend) Sync() error {
	return b.file.Sync()
}

func (b *fileBackend) Truncate(size int64) error {
	if err := b.file.Truncate(size); err != nil {
		return err
	}
	_, err := b.file.Seek(size, 0)
	return err
}

func (b *fileBackend) Close() error {
	return b.file.Close()
}

// mmapBackend is a read-only memory map of a closed segment file. It
// never holds a file descriptor beyond the mmap call itself, trading a
// syscall per reopen for zero descriptors held over the segment's
// lifetime while it sits in the index.
type mmapBackend struct {
	data []byte
}

func openMmapBackend(path string) (*mmapBackend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", path, err)
	}
	if info.Size() == 0 {
		return &mmapBackend{data: nil}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %q: %w", path, err)
	}
	return &mmapBackend{data: data}, nil
}

func (b *mmapBackend) ReadAt(buf []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b.data)) {
		return 0, fmt.Errorf("%w: read offset %d out of range", ErrUnsupported, off)
	}
	n := copy(buf, b.data[off:])
	var err error
	if n < len(buf) {
		err = io.EOF
	}
	return n, err
}

func (b *mmapBackend) WriteAt(buf []byte, off int64) (int, error) {
	return 0, fmt.Errorf("%w: write on memory-mapped segment", ErrUnsupported)
}

func (b *mmapBackend) Sync() error {
	return fmt.Errorf("%w: sync on memory-mapped segment", ErrUnsupported)
}

func (b *mmapBackend) Truncate(size int64) error {
	return fmt.Errorf("%w: truncate on memory-mapped segment", ErrUnsupported)
}

func (b *mmapBackend) Close() error {
	if b.data == nil {
		return nil
	}
	return unix.Munmap(b.data)
}
