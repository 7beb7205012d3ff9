package barrel

import "encoding/binary"

// locator identifies a single record's position on disk: which segment
// it lives in, the byte offset of its first byte, and its total encoded
// length. Locators are copyable and make up the value side of the
// in-memory index.
type locator struct {
	fileID uint32
	offset uint64
	size   uint32
}

// encode serializes a locator as three unsigned varints, file_id || offset
// || size, the format used for hint file records (spec.md §6).
func (l locator) encode() []byte {
	buf := make([]byte, binary.MaxVarintLen32*2+binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, uint64(l.fileID))
	n += binary.PutUvarint(buf[n:], l.offset)
	n += binary.PutUvarint(buf[n:], uint64(l.size))
	return buf[:n]
}

// decodeLocator parses the varint triple produced by locator.encode.
func decodeLocator(buf []byte) (locator, error) {
	fileID, n := binary.Uvarint(buf)
	if n <= 0 {
		return locator{}, ErrUnsupported
	}
	buf = buf[n:]

	offset, n := binary.Uvarint(buf)
	if n <= 0 {
		return locator{}, ErrUnsupported
	}
	buf = buf[n:]

	size, n := binary.Uvarint(buf)
	if n <= 0 {
		return locator{}, ErrUnsupported
	}

	return locator{fileID: uint32(fileID), offset: offset, size: uint32(size)}, nil
}
