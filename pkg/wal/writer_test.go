package wal

import (
	"os"
	"testing"
	"time"
)

func TestWALWriter_StandardBackgroundSync(t *testing.T) {
	tmpFile := "test_wal_standard.log"
	defer os.Remove(tmpFile)

	payload := []byte("some data")
	crc := CalculateCRC32(payload)

	opts := Options{
		Policy:       Standard,
		SyncInterval: 50 * time.Millisecond,
		BufferSize:   1024,
	}

	w, err := NewWALWriter(tmpFile, opts, nil)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}

	entry := AcquireEntry()
	entry.Header = WALHeader{
		Magic:      WALMagic,
		Version:    1,
		EntryType:  EntryKVPut,
		PayloadLen: uint32(len(payload)),
		CRC32:      crc,
		LSN:        1,
	}
	entry.Payload = append(entry.Payload, payload...)

	if err := w.WriteEntry(entry); err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	ReleaseEntry(entry)

	time.Sleep(100 * time.Millisecond)

	info, err := os.Stat(tmpFile)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() == 0 {
		t.Error("File size is 0 after background sync, expected content")
	}

	w.Close()
}

func TestWALWriter_AlwaysSyncsImmediately(t *testing.T) {
	tmpFile := "test_wal_always.log"
	defer os.Remove(tmpFile)

	payload := []byte("12345")
	entrySize := int64(HeaderSize + len(payload))

	w, err := NewWALWriter(tmpFile, Options{Policy: Always, BufferSize: 1024}, nil)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}

	entry := AcquireEntry()
	entry.Header.PayloadLen = uint32(len(payload))
	entry.Payload = append(entry.Payload, payload...)

	if err := w.WriteEntry(entry); err != nil {
		t.Fatalf("WriteEntry failed: %v", err)
	}
	ReleaseEntry(entry)

	info, err := os.Stat(tmpFile)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != entrySize {
		t.Errorf("File size: %d, expected %d (Always must sync every write)", info.Size(), entrySize)
	}

	w.Close()
}

func TestWALWriter_SyncError(t *testing.T) {
	tmpFile := "test_wal_sync_error.log"
	defer os.Remove(tmpFile)

	w, _ := NewWALWriter(tmpFile, Options{Policy: Always}, nil)
	w.file.Close() // Force future syncs to fail

	entry := AcquireEntry()
	entry.Header.Magic = WALMagic
	err := w.WriteEntry(entry)
	if err == nil {
		t.Error("Expected error writing to closed file")
	}
	ReleaseEntry(entry)
}

func TestWALWriter_BackgroundSyncOnClosedFile(t *testing.T) {
	tmpFile := "test_wal_bg_sync.log"
	defer os.Remove(tmpFile)

	w, _ := NewWALWriter(tmpFile, Options{Policy: Standard, SyncInterval: 10 * time.Millisecond}, nil)
	time.Sleep(20 * time.Millisecond)
	w.Close()
}

func TestWALWriter_CloseSyncError(t *testing.T) {
	path := "test_close_sync.log"
	defer os.Remove(path)

	w, _ := NewWALWriter(path, DefaultOptions(), nil)
	entry := AcquireEntry()
	entry.Payload = []byte("data")
	entry.Header.CRC32 = CalculateCRC32(entry.Payload)
	w.WriteEntry(entry)

	w.file.Close() // Force sync error on Close

	err := w.Close()
	if err == nil {
		t.Error("Expected error closing writer with closed file")
	}
}

func TestNewWALWriter_Error(t *testing.T) {
	tmpDir := t.TempDir()
	_, err := NewWALWriter(tmpDir, DefaultOptions(), nil)
	if err == nil {
		t.Error("Expected error opening directory as WAL file")
	}
}

func TestWALWriter_SetPolicy(t *testing.T) {
	tmpFile := "test_wal_setpolicy.log"
	defer os.Remove(tmpFile)

	w, err := NewWALWriter(tmpFile, Options{Policy: Always, SyncInterval: 10 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewWALWriter: %v", err)
	}
	defer w.Close()

	if w.ticker != nil {
		t.Fatal("Always policy should not start a background sync ticker")
	}

	w.SetPolicy(Standard)
	if w.ticker == nil {
		t.Fatal("switching to Standard should start a background sync ticker")
	}

	w.SetPolicy(Always)
	if w.ticker != nil {
		t.Fatal("switching back to Always should stop the background sync ticker")
	}

	// Setting the same policy twice must not panic or double-close done.
	w.SetPolicy(Always)
}
