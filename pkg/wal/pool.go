package wal

import "sync"

// Pools that keep WriteEntry/ReadEntry off the GC's hot path.

var (
	entryPool = sync.Pool{
		New: func() interface{} {
			return &WALEntry{
				Payload: make([]byte, 0, 4096),
			}
		},
	}

	bufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 0, 8192)
			return &buf
		},
	}
)

// AcquireEntry takes a WALEntry from the pool.
func AcquireEntry() *WALEntry {
	return entryPool.Get().(*WALEntry)
}

// ReleaseEntry zeroes e and returns it to the pool.
func ReleaseEntry(e *WALEntry) {
	e.Header = WALHeader{}
	e.Payload = e.Payload[:0]
	entryPool.Put(e)
}

// AcquireBuffer takes a scratch byte buffer from the pool.
func AcquireBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// ReleaseBuffer returns buf to the pool.
func ReleaseBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	bufferPool.Put(buf)
}
