package wal

import (
	"io"
	"os"

	"github.com/strata-db/strata/pkg/errors"
)

// WALReader reads entries from a log file sequentially, used by recovery
// replay (spec.md §4.1). Errors.Corruption from ReadEntry means the
// caller should truncate the file at the reader's current offset and
// stop replaying — everything before is trusted, everything after is
// suspect.
type WALReader struct {
	file   *os.File
	offset int64
}

// NewWALReader opens an existing log file for sequential reading.
func NewWALReader(path string) (*WALReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	return &WALReader{file: f}, nil
}

// Offset returns the byte offset of the next entry to be read — the
// point at which truncation should occur if a subsequent read fails.
func (r *WALReader) Offset() int64 { return r.offset }

// ReadEntry reads the next entry. Returns io.EOF when the log is
// exhausted cleanly at an entry boundary.
func (r *WALReader) ReadEntry() (*WALEntry, error) {
	headerBuf := make([]byte, HeaderSize)
	n, err := io.ReadFull(r.file, headerBuf)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.Wrapf(err, "wal: read header")
	}
	if n != HeaderSize {
		return nil, io.ErrUnexpectedEOF
	}

	var header WALHeader
	header.Decode(headerBuf)

	if header.Magic != WALMagic {
		return nil, errors.Corruption("wal: invalid magic number")
	}

	if header.PayloadLen == 0 {
		r.offset += HeaderSize
		return &WALEntry{Header: header}, nil
	}

	if header.PayloadLen > 1024*1024*1024 { // 1GB sanity ceiling
		return nil, errors.Corruption("wal: implausible payload length")
	}

	entry := AcquireEntry()
	entry.Header = header

	if uint32(cap(entry.Payload)) < header.PayloadLen {
		entry.Payload = make([]byte, header.PayloadLen)
	} else {
		entry.Payload = entry.Payload[:header.PayloadLen]
	}

	n, err = io.ReadFull(r.file, entry.Payload)
	if err != nil {
		ReleaseEntry(entry)
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF // truncated payload tail
		}
		return nil, err
	}

	if !ValidateCRC32(entry.Payload, header.CRC32) {
		ReleaseEntry(entry)
		return nil, errors.Corruption("wal: checksum mismatch")
	}

	r.offset += int64(HeaderSize) + int64(header.PayloadLen)
	return entry, nil
}

// Close releases the underlying file.
func (r *WALReader) Close() error {
	return r.file.Close()
}
