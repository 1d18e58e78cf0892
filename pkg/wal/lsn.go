package wal

import "sync/atomic"

// LSNTracker hands out the monotonically increasing log sequence number
// stamped on every WAL entry and carried into version chains across the
// heap and primary indexes. One tracker is shared by the whole engine:
// LSNs are never scoped per branch or per primitive.
type LSNTracker struct {
	current uint64
}

func NewLSNTracker(start uint64) *LSNTracker {
	return &LSNTracker{current: start}
}

// Next allocates and returns the next LSN.
func (lt *LSNTracker) Next() uint64 {
	return atomic.AddUint64(&lt.current, 1)
}

// Current returns the most recently allocated LSN without advancing it.
func (lt *LSNTracker) Current() uint64 {
	return atomic.LoadUint64(&lt.current)
}

// Set forces the tracker to a specific value, used when recovery replay
// determines the log's high-water mark.
func (lt *LSNTracker) Set(val uint64) {
	atomic.StoreUint64(&lt.current, val)
}
