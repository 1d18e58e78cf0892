package wal

import "encoding/binary"

// FrameBranchKeyed serializes a branch id, a string key, and an
// arbitrary payload into a single WAL entry payload. The mutating
// entries of KV, State, Document, Vector and Graph share this shape
// (Event frames its records itself): a fixed branch+key header in front
// of a primitive-specific tail, the same layering idea as WALHeader in
// front of WALEntry.Payload.
func FrameBranchKeyed(branch uint32, key string, tail []byte) []byte {
	buf := make([]byte, 4+2+len(key)+len(tail))
	binary.BigEndian.PutUint32(buf[0:4], branch)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(key)))
	copy(buf[6:6+len(key)], key)
	copy(buf[6+len(key):], tail)
	return buf
}

// UnframeBranchKeyed reverses FrameBranchKeyed.
func UnframeBranchKeyed(buf []byte) (branch uint32, key string, tail []byte) {
	branch = binary.BigEndian.Uint32(buf[0:4])
	keyLen := binary.BigEndian.Uint16(buf[4:6])
	key = string(buf[6 : 6+int(keyLen)])
	tail = buf[6+int(keyLen):]
	return
}

// NewBranchKeyedEntry builds a ready-to-write WALEntry for a branch+key
// mutation, filling in magic/version/CRC so callers only supply the
// opcode, LSN, and framed payload.
func NewBranchKeyedEntry(entryType uint8, lsn uint64, payload []byte) *WALEntry {
	entry := AcquireEntry()
	entry.Header.Magic = WALMagic
	entry.Header.Version = WALVersion
	entry.Header.EntryType = entryType
	entry.Header.LSN = lsn
	entry.Header.PayloadLen = uint32(len(payload))
	entry.Header.CRC32 = CalculateCRC32(payload)
	entry.Payload = append(entry.Payload, payload...)
	return entry
}
