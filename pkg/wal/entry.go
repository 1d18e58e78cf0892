package wal

import (
	"encoding/binary"
	"io"
)

// Header layout constants.
const (
	HeaderSize = 24 // fixed header size in bytes
	WALVersion = 1  // current wire format version

	WALMagic = 0xDEADBEEF
)

// Operation kinds recorded in the log. Every mutating call across every
// primitive, plus branch lifecycle and transaction boundaries, is one of
// these; recovery replay dispatches on EntryType alone.
const (
	EntryBranchCreate uint8 = iota + 1
	EntryBranchDelete
	EntryKVPut
	EntryKVDelete
	EntryStateSet
	EntryEventAppend
	EntryDocSet
	EntryDocDelete
	EntryVectorCreateCollection
	EntryVectorDeleteCollection
	EntryVectorUpsert
	EntryVectorDelete
	EntryTxnBegin
	EntryTxnCommit
	EntryTxnAbort
	EntryGraphAddNode
	EntryGraphAddEdge
)

// WALHeader is the fixed 24-byte header prefixing every entry.
type WALHeader struct {
	Magic      uint32 // 4 bytes
	Version    uint8  // 1 byte
	EntryType  uint8  // 1 byte
	Reserved   uint16 // 2 bytes padding/alignment
	LSN        uint64 // 8 bytes, the log sequence number
	PayloadLen uint32 // 4 bytes
	CRC32      uint32 // 4 bytes, over Payload only
}

// WALEntry is one complete record: header plus opaque payload.
type WALEntry struct {
	Header  WALHeader
	Payload []byte
}

// Encode serializes the header into buf, which must be at least HeaderSize long.
func (h *WALHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.EntryType
	binary.LittleEndian.PutUint16(buf[6:8], h.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], h.LSN)
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[20:24], h.CRC32)
}

// Decode parses a header out of buf.
func (h *WALHeader) Decode(buf []byte) {
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = buf[4]
	h.EntryType = buf[5]
	h.Reserved = binary.LittleEndian.Uint16(buf[6:8])
	h.LSN = binary.LittleEndian.Uint64(buf[8:16])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[16:20])
	h.CRC32 = binary.LittleEndian.Uint32(buf[20:24])
}

// WriteTo writes header then payload to w.
func (e *WALEntry) WriteTo(w io.Writer) (int64, error) {
	var headerBuf [HeaderSize]byte
	e.Header.Encode(headerBuf[:])

	n, err := w.Write(headerBuf[:])
	if err != nil {
		return int64(n), err
	}

	m, err := w.Write(e.Payload)
	return int64(n + m), err
}
