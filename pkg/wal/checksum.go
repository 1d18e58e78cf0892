package wal

import "hash/crc32"

// Castagnoli has hardware acceleration on modern CPUs, same table the
// teacher's heap segment format uses.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// CalculateCRC32 checksums data.
func CalculateCRC32(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// ValidateCRC32 reports whether data's checksum matches expected.
func ValidateCRC32(data []byte, expected uint32) bool {
	return CalculateCRC32(data) == expected
}
