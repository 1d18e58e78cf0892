package strata

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"

	"github.com/DataDog/zstd"
	"github.com/edsrzf/mmap-go"

	"github.com/strata-db/strata/pkg/errors"
	"github.com/strata-db/strata/pkg/value"
	"github.com/strata-db/strata/pkg/vector"
)

// vectorSnapshotName is the file every collection's entries are
// flattened into on Close, so a restart can restore entries the WAL no
// longer holds. Per spec.md §4.7 this is advisory: the WAL recovery
// already completed by the time this loads, so a missing or truncated
// snapshot only leaves those entries unrestored; it does not replace
// or shorten the WAL replay.
const vectorSnapshotName = "vector.snapshot.zst"

// saveVectorSnapshots flattens every branch's vector collections into
// a single compressed file. Writing through an mmap keeps the large,
// mostly-sequential encode from needing a second full-size copy in the
// Go heap, the same reason the teacher's table scans favor the heap
// manager's own buffered I/O over loading whole files into memory.
func (s *Strata) saveVectorSnapshots() {
	raw, err := s.encodeVectorSnapshot()
	if err != nil {
		s.logger.Warn().Err(err).Msg("vector snapshot encode failed, skipping")
		return
	}
	compressed, err := zstd.Compress(nil, raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("vector snapshot compress failed, skipping")
		return
	}

	path := filepath.Join(s.dataDir, vectorSnapshotName)
	tmpPath := path + ".tmp"
	if err := writeViaMmap(tmpPath, compressed); err != nil {
		s.logger.Warn().Err(err).Msg("vector snapshot write failed, skipping")
		return
	}
	if err := os.Rename(tmpPath, path); err != nil {
		s.logger.Warn().Err(err).Msg("vector snapshot rename failed, skipping")
	}
}

// loadVectorSnapshots rebuilds every collection's ANN index from the
// last snapshot, if one exists. Called after recover() has already
// replayed the WAL against the heap and trees, so every entry the
// snapshot names is restored via RestoreFromSnapshot, which skips
// anything recover() already rebuilt rather than writing it a second
// time: the snapshot only fills in what the WAL itself never had.
func (s *Strata) loadVectorSnapshots() {
	path := filepath.Join(s.dataDir, vectorSnapshotName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("vector snapshot open failed, skipping")
		return
	}
	defer f.Close()

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		s.logger.Warn().Err(err).Msg("vector snapshot mmap failed, skipping")
		return
	}
	defer mapped.Unmap()

	raw, err := zstd.Decompress(nil, mapped)
	if err != nil {
		s.logger.Warn().Err(err).Msg("vector snapshot decompress failed, skipping")
		return
	}

	if err := s.decodeVectorSnapshot(raw); err != nil {
		s.logger.Warn().Err(err).Msg("vector snapshot decode failed, skipping")
	}
}

func writeViaMmap(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if len(data) == 0 {
		return nil
	}
	if err := f.Truncate(int64(len(data))); err != nil {
		return err
	}
	mapped, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		return err
	}
	copy(mapped, data)
	if err := mapped.Flush(); err != nil {
		mapped.Unmap()
		return err
	}
	return mapped.Unmap()
}

func (s *Strata) encodeVectorSnapshot() ([]byte, error) {
	var buf bytes.Buffer

	branches := s.branches.List()
	writeUint32(&buf, uint32(len(branches)))
	for _, name := range branches {
		id, ok := s.branches.IDOf(name)
		if !ok {
			continue
		}
		collections, err := s.vector.ListCollections(id)
		if err != nil {
			return nil, err
		}
		writeUint32(&buf, id)
		writeUint32(&buf, uint32(len(collections)))
		for _, col := range collections {
			writeString(&buf, col.Name)
			writeUint32(&buf, col.Dimension)
			buf.WriteByte(byte(col.Metric))

			entries, err := s.vector.Entries(id, col.Name)
			if err != nil {
				return nil, err
			}
			writeUint32(&buf, uint32(len(entries)))
			for _, e := range entries {
				writeString(&buf, e.Key)
				writeUint32(&buf, uint32(len(e.Embedding)))
				for _, f := range e.Embedding {
					writeUint32(&buf, math.Float32bits(f))
				}
				metaBytes, err := value.Encode(e.Metadata)
				if err != nil {
					return nil, err
				}
				writeString(&buf, string(metaBytes))
			}
		}
	}
	return buf.Bytes(), nil
}

func (s *Strata) decodeVectorSnapshot(raw []byte) error {
	r := bytes.NewReader(raw)

	numBranches, err := readUint32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < numBranches; i++ {
		branchID, err := readUint32(r)
		if err != nil {
			return err
		}
		numCollections, err := readUint32(r)
		if err != nil {
			return err
		}
		for j := uint32(0); j < numCollections; j++ {
			name, err := readString(r)
			if err != nil {
				return err
			}
			dimension, err := readUint32(r)
			if err != nil {
				return err
			}
			metricByte, err := r.ReadByte()
			if err != nil {
				return err
			}
			metric := vector.Metric(metricByte)

			if _, err := s.vector.CreateCollection(branchID, name, dimension, metric); err != nil && errors.KindOf(err) != errors.KindAlreadyExists {
				return err
			}

			numEntries, err := readUint32(r)
			if err != nil {
				return err
			}
			for k := uint32(0); k < numEntries; k++ {
				key, err := readString(r)
				if err != nil {
					return err
				}
				embLen, err := readUint32(r)
				if err != nil {
					return err
				}
				embedding := make([]float32, embLen)
				for e := uint32(0); e < embLen; e++ {
					bits, err := readUint32(r)
					if err != nil {
						return err
					}
					embedding[e] = math.Float32frombits(bits)
				}
				metaRaw, err := readString(r)
				if err != nil {
					return err
				}
				metadata, err := value.Decode([]byte(metaRaw))
				if err != nil {
					return err
				}
				if err := s.vector.RestoreFromSnapshot(branchID, name, key, embedding, metadata); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := r.Read(tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
