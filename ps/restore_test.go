package ps

import (
	"testing"
	"time"
)

func TestSnapshotIsolation(t *testing.T) {
	persistence, err := NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}

	txn, _ := persistence.BeginTransaction()
	txn.AddWrite("objects/aa/aa1", []byte("{}"))
	txn.Commit(testIdentity, "")

	snap, err := persistence.Snapshot()
	if err != nil {
		t.Fatalf("Failed to take snapshot: %v", err)
	}

	txn, _ = persistence.BeginTransaction()
	txn.AddWrite("objects/bb/bb1", []byte("{}"))
	txn.Commit(testIdentity, "")

	ids, err := snap.ObjectIDs()
	if err != nil {
		t.Fatalf("Failed to list objects: %v", err)
	}
	if len(ids) != 1 || ids[0] != "aa1" {
		t.Errorf("Expected snapshot to see only aa1, got %v", ids)
	}

	latest, _ := persistence.Snapshot()
	ids, _ = latest.ObjectIDs()
	if len(ids) != 2 {
		t.Errorf("Expected 2 objects at HEAD, got %v", ids)
	}
}

func TestSnapshotAtTransaction(t *testing.T) {
	persistence, err := NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}

	txn, _ := persistence.BeginTransaction()
	txn.AddWrite("f", []byte("v1"))
	first, err := txn.Commit(testIdentity, "v1")
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	txn, _ = persistence.BeginTransaction()
	txn.AddWrite("f", []byte("v2"))
	txn.Commit(testIdentity, "v2")

	snap, err := persistence.SnapshotAt(first.Id)
	if err != nil {
		t.Fatalf("Failed to open snapshot: %v", err)
	}
	data, err := snap.ReadFile("f")
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(data) != "v1" {
		t.Errorf("Expected v1, got %s", data)
	}

	history, err := persistence.TransactionsSince(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("Expected 2 transactions, got %d", len(history))
	}
	if history[0].Message != "v2" {
		t.Errorf("Expected newest first, got %q", history[0].Message)
	}
}

func TestEmptySnapshot(t *testing.T) {
	persistence, _ := NewMemoryPersistence()

	snap, err := persistence.Snapshot()
	if err != nil {
		t.Fatalf("Failed to take snapshot: %v", err)
	}
	if snap.Transaction().Id != "" {
		t.Error("Expected empty transaction id for an empty catalog")
	}
	if entries, _ := snap.List(""); len(entries) != 0 {
		t.Errorf("Expected no entries, got %v", entries)
	}
	if _, err := snap.ReadFile("missing"); err == nil {
		t.Error("Expected an error reading from an empty snapshot")
	}
}
