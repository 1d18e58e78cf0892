// Package event implements Strata's Event primitive: an append-only
// log keyed by a monotonically increasing sequence number, with a
// secondary index over event type preserving append order (spec.md §4.5).
package event

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/strata-db/strata/pkg/btree"
	"github.com/strata-db/strata/pkg/errors"
	"github.com/strata-db/strata/pkg/heap"
	"github.com/strata-db/strata/pkg/types"
	"github.com/strata-db/strata/pkg/value"
	"github.com/strata-db/strata/pkg/wal"
)

// Event is one immutable log entry.
type Event struct {
	Seq       uint64
	Type      string
	Payload   value.Value
	Timestamp time.Time
}

// typeSeqKey orders first by event type, then by sequence, so a ranged
// walk bounded to one type visits that type's events in append order.
type typeSeqKey struct {
	Type string
	Seq  int64
}

func (k typeSeqKey) Compare(other types.Comparable) int {
	o := other.(typeSeqKey)
	if k.Type != o.Type {
		if k.Type < o.Type {
			return -1
		}
		return 1
	}
	switch {
	case k.Seq < o.Seq:
		return -1
	case k.Seq > o.Seq:
		return 1
	default:
		return 0
	}
}

// Store is the Event primitive. primary maps (branch, seq) to the heap
// record; byType maps (branch, type, seq) to the same record, giving
// an append-ordered walk scoped to one event type.
type Store struct {
	mu          sync.Mutex // serializes sequence assignment per branch
	seqByBranch map[uint32]uint64

	primary *btree.BPlusTree
	byType  *btree.BPlusTree
	heap    *heap.HeapManager
	w       *wal.WALWriter
	lsn     *wal.LSNTracker
}

func NewStore(t int, h *heap.HeapManager, w *wal.WALWriter, lsn *wal.LSNTracker) *Store {
	return &Store{
		seqByBranch: make(map[uint32]uint64),
		primary:     btree.NewUniqueTree(t),
		byType:      btree.NewUniqueTree(t),
		heap:        h,
		w:           w,
		lsn:         lsn,
	}
}

// Append assigns the next sequence number on branch, persists the
// event, and returns the assigned sequence. A failure before the
// sequence counter advances leaves the number unassigned rather than
// burning it, but once assigned a sequence is never reused even if a
// later operation on the same branch fails.
func (s *Store) Append(branch uint32, eventType string, payload value.Value) (uint64, error) {
	encodedPayload, err := value.Encode(payload)
	if err != nil {
		return 0, errors.InvalidArgumentf("event: encode payload: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.seqByBranch[branch] + 1
	currentLSN := s.lsn.Next()
	record := encodeEvent(eventType, time.Now(), encodedPayload)

	if s.w != nil {
		if err := s.appendWAL(currentLSN, branch, seq, record); err != nil {
			return 0, err
		}
	}

	offset, err := s.heap.Write(record, currentLSN, -1)
	if err != nil {
		return 0, errors.Wrapf(err, "event: heap write")
	}

	primaryKey := types.BranchKey{Branch: branch, Key: types.IntKey(int64(seq))}
	if err := s.primary.Insert(primaryKey, offset); err != nil {
		return 0, errors.Wrapf(err, "event: primary index insert")
	}

	typeKey := types.BranchKey{Branch: branch, Key: typeSeqKey{Type: eventType, Seq: int64(seq)}}
	if err := s.byType.Insert(typeKey, offset); err != nil {
		return 0, errors.Wrapf(err, "event: type index insert")
	}

	s.seqByBranch[branch] = seq
	return seq, nil
}

// Read returns the event at seq on branch.
func (s *Store) Read(branch uint32, seq uint64) (Event, bool, error) {
	offset, ok := s.primary.Get(types.BranchKey{Branch: branch, Key: types.IntKey(int64(seq))})
	if !ok {
		return Event{}, false, nil
	}
	return s.readAt(offset, seq)
}

// ReadByType returns every event of eventType on branch, in the order
// they were appended.
func (s *Store) ReadByType(branch uint32, eventType string) ([]Event, error) {
	cursor := btree.NewCursor(s.byType)
	defer cursor.Close()

	lower := types.BranchKey{Branch: branch, Key: typeSeqKey{Type: eventType, Seq: 0}}
	cursor.Seek(lower)

	var events []Event
	for cursor.Valid() {
		bk, ok := cursor.Key().(types.BranchKey)
		if !ok || bk.Branch != branch {
			break
		}
		tk, ok := bk.Key.(typeSeqKey)
		if !ok || tk.Type != eventType {
			break
		}

		ev, ok, err := s.readAt(cursor.Value(), uint64(tk.Seq))
		if err != nil {
			return nil, err
		}
		if ok {
			events = append(events, ev)
		}

		if !cursor.Next() {
			break
		}
	}
	return events, nil
}

// Len returns the number of events appended to branch.
func (s *Store) Len(branch uint32) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seqByBranch[branch]
}

// ReplayAppend reconstructs one event during WAL recovery: record is
// the still-encoded [typeLen][type][timestamp][payload] tail taken
// verbatim from the WAL payload, written to the heap under lsnValue and
// indexed under both the primary and by-type trees without assigning a
// fresh sequence number (seq is the one the WAL already recorded).
func (s *Store) ReplayAppend(branch uint32, seq uint64, record []byte, lsnValue uint64) error {
	eventType, _, _, err := decodeEvent(record)
	if err != nil {
		return errors.Corruption("event: decode record during replay: " + err.Error())
	}

	offset, err := s.heap.Write(record, lsnValue, -1)
	if err != nil {
		return errors.Wrapf(err, "event: heap write")
	}

	primaryKey := types.BranchKey{Branch: branch, Key: types.IntKey(int64(seq))}
	if err := s.primary.Insert(primaryKey, offset); err != nil {
		return errors.Wrapf(err, "event: primary index insert")
	}

	typeKey := types.BranchKey{Branch: branch, Key: typeSeqKey{Type: eventType, Seq: int64(seq)}}
	if err := s.byType.Insert(typeKey, offset); err != nil {
		return errors.Wrapf(err, "event: type index insert")
	}

	s.mu.Lock()
	if seq > s.seqByBranch[branch] {
		s.seqByBranch[branch] = seq
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) readAt(offset int64, seq uint64) (Event, bool, error) {
	data, header, err := s.heap.Read(offset)
	if err != nil {
		return Event{}, false, err
	}
	if !header.Valid {
		return Event{}, false, nil
	}

	eventType, ts, payload, err := decodeEvent(data)
	if err != nil {
		return Event{}, false, errors.Corruption("event: decode record: " + err.Error())
	}
	return Event{Seq: seq, Type: eventType, Payload: payload, Timestamp: ts}, true, nil
}

func (s *Store) appendWAL(lsnValue uint64, branch uint32, seq uint64, record []byte) error {
	payload := make([]byte, 4+8+len(record))
	binary.BigEndian.PutUint32(payload[0:4], branch)
	binary.BigEndian.PutUint64(payload[4:12], seq)
	copy(payload[12:], record)

	entry := wal.NewBranchKeyedEntry(wal.EntryEventAppend, lsnValue, payload)
	defer wal.ReleaseEntry(entry)
	return s.w.WriteEntry(entry)
}

// encodeEvent lays out a record as [typeLen(2)][type][unixNano(8)][payload].
func encodeEvent(eventType string, ts time.Time, encodedPayload []byte) []byte {
	buf := make([]byte, 2+len(eventType)+8+len(encodedPayload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(eventType)))
	copy(buf[2:2+len(eventType)], eventType)
	off := 2 + len(eventType)
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(ts.UnixNano()))
	copy(buf[off+8:], encodedPayload)
	return buf
}

func decodeEvent(buf []byte) (eventType string, ts time.Time, payload value.Value, err error) {
	typeLen := binary.BigEndian.Uint16(buf[0:2])
	eventType = string(buf[2 : 2+int(typeLen)])
	off := 2 + int(typeLen)
	ts = time.Unix(0, int64(binary.BigEndian.Uint64(buf[off:off+8])))
	payload, err = value.Decode(buf[off+8:])
	return
}

// DecodeEntry reverses appendWAL's framing, used by recovery replay.
// record is the still-encoded event tail, suitable for ReplayAppend
// without a decode/re-encode round trip.
func DecodeEntry(payload []byte) (branch uint32, seq uint64, record []byte) {
	branch = binary.BigEndian.Uint32(payload[0:4])
	seq = binary.BigEndian.Uint64(payload[4:12])
	record = payload[12:]
	return
}
