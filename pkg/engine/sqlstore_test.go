package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLStore("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStore_GetPutDelete(t *testing.T) {
	s := newSQLiteStore(t)

	if _, err := s.Get(owner, "heirs"); !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("Expected ErrFieldNotFound, got %v", err)
	}

	if err := s.Put(owner, "heirs", json.RawMessage(`[]`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// Second put upserts rather than failing on the primary key.
	if err := s.Put(owner, "heirs", json.RawMessage(`[{"share":40}]`)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	val, err := s.Get(owner, "heirs")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != `[{"share":40}]` {
		t.Errorf("Expected upserted value, got %s", val)
	}

	if err := s.Delete(owner, "heirs"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(owner, "heirs"); !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("Expected ErrFieldNotFound after delete, got %v", err)
	}
}

func TestSQLStore_Enumeration(t *testing.T) {
	s := newSQLiteStore(t)
	s.Put("p2", "heirs", json.RawMessage(`[]`))
	s.Put("p1", "riddle", json.RawMessage(`{}`))
	s.Put("p1", "heirs", json.RawMessage(`[]`))

	owners, err := s.Owners()
	if err != nil || len(owners) != 2 || owners[0] != "p1" || owners[1] != "p2" {
		t.Fatalf("Expected [p1 p2], got %v, %v", owners, err)
	}

	fields, err := s.Fields("p1")
	if err != nil || len(fields) != 2 || fields[0] != "heirs" {
		t.Fatalf("Expected [heirs riddle], got %v, %v", fields, err)
	}

	dump, err := s.Dump("p1")
	if err != nil || len(dump) != 2 {
		t.Fatalf("Dump mismatch: %v, %v", dump, err)
	}
	if _, err := s.Dump("p9"); !errors.Is(err, ErrOwnerNotFound) {
		t.Errorf("Expected ErrOwnerNotFound, got %v", err)
	}

	if err := s.Purge("p1"); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	owners, _ = s.Owners()
	if len(owners) != 1 {
		t.Errorf("Expected one owner after purge, got %v", owners)
	}
}

func TestOpenSQLStore_UnknownType(t *testing.T) {
	if _, err := OpenSQLStore("oracle", "x"); err == nil {
		t.Fatal("Expected error for unsupported database type")
	}
}

func TestMigrateFileToSQL(t *testing.T) {
	src := NewMemStore(nil, nil)
	src.Put(owner, "heirs", json.RawMessage(`[]`))
	src.Put(owner, "riddle", json.RawMessage(`{"id":"r1"}`))

	dst := newSQLiteStore(t)
	n, err := Migrate(src, dst)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 fields copied, got %d", n)
	}
	val, err := dst.Get(owner, "riddle")
	if err != nil || string(val) != `{"id":"r1"}` {
		t.Errorf("Migrated value mismatch: %s, %v", val, err)
	}
}

func TestExportImport(t *testing.T) {
	src := NewMemStore(nil, nil)
	src.Put(owner, "activities", json.RawMessage(`[{"type":"HeirAddition"}]`))
	src.Put("0x2222222222222222222222222222222222222222", "policy", json.RawMessage(`{}`))

	var buf bytes.Buffer
	if err := Export(&buf, src); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if bytes.Contains(buf.Bytes(), []byte("HeirAddition")) {
		t.Error("Backup should be compressed")
	}

	dst := NewMemStore(nil, nil)
	n, err := Import(&buf, dst)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 fields imported, got %d", n)
	}
	val, _ := dst.Get(owner, "activities")
	if string(val) != `[{"type":"HeirAddition"}]` {
		t.Errorf("Imported value mismatch: %s", val)
	}
}
