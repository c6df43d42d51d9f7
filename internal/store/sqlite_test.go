package store

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

// newTestStore creates an in-memory SQLite store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// sampleRecord returns a running transfer record with distinct field values
func sampleRecord(transferID string) *TransferRecord {
	return &TransferRecord{
		TransferID: transferID,
		AssetName:  "x86_64-13.2.0-release-posix-seh-ucrt-rt_v11-rev1.7z",
		URL:        "https://example.com/download/x86_64-13.2.0-release-posix-seh-ucrt-rt_v11-rev1.7z",
		DestPath:   "/downloads/x86_64-13.2.0-release-posix-seh-ucrt-rt_v11-rev1.7z",
		ExtractDir: "/downloads/x86_64-13.2.0-release-posix-seh-ucrt-rt_v11-rev1",
		Status:     "running",
		StartedAt:  time.Now().UTC(),
	}
}

func TestNew(t *testing.T) {
	store, err := New(":memory:", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Expected db to be initialized")
	}

	if store.logger == nil {
		t.Error("Expected logger to be initialized")
	}
}

func TestClose(t *testing.T) {
	store, err := New(":memory:", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = store.Close()
	if err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	// Verify the connection is closed by trying to use it
	_, err = store.ListTransfers("", 0)
	if err == nil {
		t.Error("Expected error when using closed store, but got nil")
	}
}

func TestCreateTransfer(t *testing.T) {
	store := newTestStore(t)

	rec := sampleRecord("t-001")
	if err := store.CreateTransfer(rec); err != nil {
		t.Fatalf("CreateTransfer() failed: %v", err)
	}

	if rec.ID == 0 {
		t.Error("Expected ID to be set after CreateTransfer")
	}

	retrieved, err := store.GetTransfer("t-001")
	if err != nil {
		t.Fatalf("GetTransfer() failed: %v", err)
	}

	if retrieved.AssetName != rec.AssetName {
		t.Errorf("AssetName mismatch: got %q, want %q", retrieved.AssetName, rec.AssetName)
	}
	if retrieved.URL != rec.URL {
		t.Errorf("URL mismatch: got %q, want %q", retrieved.URL, rec.URL)
	}
	if retrieved.ExtractDir != rec.ExtractDir {
		t.Errorf("ExtractDir mismatch: got %q, want %q", retrieved.ExtractDir, rec.ExtractDir)
	}
	if retrieved.Status != "running" {
		t.Errorf("Status mismatch: got %q, want %q", retrieved.Status, "running")
	}
}

func TestCreateTransferDuplicateID(t *testing.T) {
	store := newTestStore(t)

	if err := store.CreateTransfer(sampleRecord("t-dup")); err != nil {
		t.Fatalf("CreateTransfer() failed: %v", err)
	}

	err := store.CreateTransfer(sampleRecord("t-dup"))
	if err == nil {
		t.Error("Expected error on duplicate transfer_id, but got nil")
	}
}

func TestUpdateTransfer(t *testing.T) {
	store := newTestStore(t)

	rec := sampleRecord("t-002")
	if err := store.CreateTransfer(rec); err != nil {
		t.Fatalf("CreateTransfer() failed: %v", err)
	}

	rec.Status = "failed"
	rec.Reason = "network"
	rec.ErrorMessage = "connection reset"
	rec.BytesWritten = 4096
	rec.FinishedAt = time.Now().UTC()

	if err := store.UpdateTransfer(rec); err != nil {
		t.Fatalf("UpdateTransfer() failed: %v", err)
	}

	retrieved, err := store.GetTransfer("t-002")
	if err != nil {
		t.Fatalf("GetTransfer() failed: %v", err)
	}

	if retrieved.Status != "failed" {
		t.Errorf("Status mismatch: got %q, want %q", retrieved.Status, "failed")
	}
	if retrieved.Reason != "network" {
		t.Errorf("Reason mismatch: got %q, want %q", retrieved.Reason, "network")
	}
	if retrieved.ErrorMessage != "connection reset" {
		t.Errorf("ErrorMessage mismatch: got %q, want %q", retrieved.ErrorMessage, "connection reset")
	}
	if retrieved.BytesWritten != 4096 {
		t.Errorf("BytesWritten mismatch: got %d, want 4096", retrieved.BytesWritten)
	}
	if retrieved.FinishedAt.IsZero() {
		t.Error("Expected FinishedAt to be set")
	}
}

func TestUpdateTransferNotFound(t *testing.T) {
	store := newTestStore(t)

	rec := sampleRecord("t-missing")
	rec.ID = 9999

	err := store.UpdateTransfer(rec)
	if err == nil {
		t.Error("Expected error updating nonexistent transfer, but got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected not-found error, got: %v", err)
	}
}

func TestGetTransferNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTransfer("no-such-transfer")
	if err == nil {
		t.Error("Expected error for missing transfer, but got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected not-found error, got: %v", err)
	}
}

func TestListTransfersNewestFirst(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"t-old", "t-mid", "t-new"} {
		rec := sampleRecord(id)
		rec.StartedAt = base.Add(time.Duration(i) * time.Hour)
		if err := store.CreateTransfer(rec); err != nil {
			t.Fatalf("CreateTransfer(%s) failed: %v", id, err)
		}
	}

	records, err := store.ListTransfers("", 0)
	if err != nil {
		t.Fatalf("ListTransfers() failed: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("ListTransfers() returned %d records, want 3", len(records))
	}

	wantOrder := []string{"t-new", "t-mid", "t-old"}
	for i, want := range wantOrder {
		if records[i].TransferID != want {
			t.Errorf("records[%d].TransferID = %q, want %q", i, records[i].TransferID, want)
		}
	}
}

func TestListTransfersLimit(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		rec := sampleRecord("t-limit-" + string(rune('a'+i)))
		if err := store.CreateTransfer(rec); err != nil {
			t.Fatalf("CreateTransfer() failed: %v", err)
		}
	}

	records, err := store.ListTransfers("", 2)
	if err != nil {
		t.Fatalf("ListTransfers() failed: %v", err)
	}

	if len(records) != 2 {
		t.Errorf("ListTransfers(limit=2) returned %d records, want 2", len(records))
	}
}

func TestListTransfersByStatus(t *testing.T) {
	store := newTestStore(t)

	done := sampleRecord("t-done")
	done.Status = "done"
	failed := sampleRecord("t-failed")
	failed.Status = "failed"
	failed.Reason = "cancelled"

	for _, rec := range []*TransferRecord{done, failed, sampleRecord("t-running")} {
		if err := store.CreateTransfer(rec); err != nil {
			t.Fatalf("CreateTransfer() failed: %v", err)
		}
	}

	records, err := store.ListTransfers("failed", 0)
	if err != nil {
		t.Fatalf("ListTransfers() failed: %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("ListTransfers(status=failed) returned %d records, want 1", len(records))
	}
	if records[0].TransferID != "t-failed" {
		t.Errorf("TransferID = %q, want t-failed", records[0].TransferID)
	}
	if records[0].Reason != "cancelled" {
		t.Errorf("Reason = %q, want cancelled", records[0].Reason)
	}
}

func TestCountTransfers(t *testing.T) {
	store := newTestStore(t)

	done := sampleRecord("t-c1")
	done.Status = "done"
	other := sampleRecord("t-c2")
	other.Status = "done"
	failed := sampleRecord("t-c3")
	failed.Status = "failed"

	for _, rec := range []*TransferRecord{done, other, failed} {
		if err := store.CreateTransfer(rec); err != nil {
			t.Fatalf("CreateTransfer() failed: %v", err)
		}
	}

	total, err := store.CountTransfers("")
	if err != nil {
		t.Fatalf("CountTransfers() failed: %v", err)
	}
	if total != 3 {
		t.Errorf("CountTransfers(\"\") = %d, want 3", total)
	}

	doneCount, err := store.CountTransfers("done")
	if err != nil {
		t.Fatalf("CountTransfers(done) failed: %v", err)
	}
	if doneCount != 2 {
		t.Errorf("CountTransfers(done) = %d, want 2", doneCount)
	}
}

func TestSumBytesWritten(t *testing.T) {
	store := newTestStore(t)

	total, err := store.SumBytesWritten()
	if err != nil {
		t.Fatalf("SumBytesWritten() failed: %v", err)
	}
	if total != 0 {
		t.Errorf("SumBytesWritten() on empty store = %d, want 0", total)
	}

	a := sampleRecord("t-s1")
	a.BytesWritten = 1000
	b := sampleRecord("t-s2")
	b.BytesWritten = 2348

	for _, rec := range []*TransferRecord{a, b} {
		if err := store.CreateTransfer(rec); err != nil {
			t.Fatalf("CreateTransfer() failed: %v", err)
		}
	}

	total, err = store.SumBytesWritten()
	if err != nil {
		t.Fatalf("SumBytesWritten() failed: %v", err)
	}
	if total != 3348 {
		t.Errorf("SumBytesWritten() = %d, want 3348", total)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := tempDir + "/mbfetch.db"
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Open, write, close
	store, err := New(dbPath, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := store.CreateTransfer(sampleRecord("t-persist")); err != nil {
		t.Fatalf("CreateTransfer() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	// Reopen: migrations must not re-run, data must survive
	store, err = New(dbPath, logger)
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	defer store.Close()

	rec, err := store.GetTransfer("t-persist")
	if err != nil {
		t.Fatalf("GetTransfer() after reopen failed: %v", err)
	}
	if rec.AssetName == "" {
		t.Error("Expected persisted record to round-trip")
	}
}
