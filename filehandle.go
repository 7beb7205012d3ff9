package barrel

import (
	"fmt"
	"io"
	"sync/atomic"
)

// fileHandle binds a segment id to its storage backend and owns the
// atomic write offset new records are appended at. A *fileHandle is
// shared freely: the Db holds one per segment, and reads against it
// never contend with the single writer appending to the active
// segment, since every access carries its own offset.
type fileHandle struct {
	id      uint32
	backend backend
	woff    atomic.Int64 // next write offset; only meaningful for the active segment
}

func newFileHandle(id uint32, b backend, size int64) *fileHandle {
	fh := &fileHandle{id: id, backend: b}
	fh.woff.Store(size)
	return fh
}

// size returns the current extent of the segment, in bytes.
func (fh *fileHandle) size() int64 {
	return fh.woff.Load()
}

// write appends buf at the handle's current write offset and returns
// the offset it landed at.
func (fh *fileHandle) write(buf []byte) (int64, error) {
	off := fh.woff.Add(int64(len(buf))) - int64(len(buf))
	if _, err := fh.backend.WriteAt(buf, off); err != nil {
		return 0, fmt.Errorf("write segment %d at offset %d: %w", fh.id, off, err)
	}
	return off, nil
}

func (fh *fileHandle) sync() error {
	return fh.backend.Sync()
}

func (fh *fileHandle) close() error {
	return fh.backend.Close()
}

// extractRecord reads and decodes the single record at off, verifying
// its checksum. It returns the decoded record and its total encoded
// length on disk.
func (fh *fileHandle) extractRecord(off int64) (record, int64, error) {
	hdr := make([]byte, maxRecordHeaderLen)
	n, err := fh.backend.ReadAt(hdr, off)
	if n == 0 {
		if err == io.EOF {
			return record{}, 0, io.ErrUnexpectedEOF
		}
		return record{}, 0, err
	}
	hdr = hdr[:n]

	ksz, vsz, headerSize, state, err := decodeRecordHeader(hdr)
	if err != nil {
		return record{}, 0, err
	}

	body := make([]byte, ksz+vsz+crcLen)
	if _, err := fh.backend.ReadAt(body, off+int64(headerSize)); err != nil && err != io.EOF {
		return record{}, 0, fmt.Errorf("read record body at %d: %w", off, err)
	}

	rec, err := decodeRecordBody(hdr[:headerSize], body, ksz, vsz, state)
	if err != nil {
		return record{}, 0, err
	}

	return rec, int64(headerSize + len(body)), nil
}

// appendRecord encodes r and appends it to the handle, returning the
// locator describing where it landed.
func (fh *fileHandle) appendRecord(r record) (locator, error) {
	buf, err := encodeRecord(r)
	if err != nil {
		return locator{}, err
	}
	off, err := fh.write(buf)
	if err != nil {
		return locator{}, err
	}
	return locator{fileID: fh.id, offset: uint64(off), size: uint32(len(buf))}, nil
}
