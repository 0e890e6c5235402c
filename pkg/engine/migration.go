package engine

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Migrate copies every owner field from src to dst. This works for:
// - file -> SQL (the "Upgrade")
// - remote -> file (the "Backup/Offline")
func Migrate(src, dst Store) (int, error) {
	owners, err := src.Owners()
	if err != nil {
		return 0, fmt.Errorf("failed to list owners: %w", err)
	}

	copied := 0
	for _, owner := range owners {
		data, err := src.Dump(owner)
		if err != nil {
			return copied, fmt.Errorf("failed to dump owner %s: %w", owner, err)
		}
		for field, val := range data {
			if err := dst.Put(owner, field, val); err != nil {
				return copied, fmt.Errorf("failed to put %s/%s in destination: %w", owner, field, err)
			}
			copied++
		}
	}
	return copied, nil
}

// Snapshot is the serialized form of a whole store: [owner][field]value.
type Snapshot map[string]map[string]json.RawMessage

// Export writes a zstd-compressed JSON snapshot of src to w.
func Export(w io.Writer, src Store) error {
	owners, err := src.Owners()
	if err != nil {
		return fmt.Errorf("failed to list owners: %w", err)
	}
	snap := make(Snapshot, len(owners))
	for _, owner := range owners {
		data, err := src.Dump(owner)
		if err != nil {
			return fmt.Errorf("failed to dump owner %s: %w", owner, err)
		}
		snap[owner] = data
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return enc.Close()
}

// Import reads a snapshot written by Export into dst and returns the number
// of fields written.
func Import(r io.Reader, dst Store) (int, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, err
	}
	defer dec.Close()

	var snap Snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}

	n := 0
	for owner, fields := range snap {
		for field, val := range fields {
			if err := dst.Put(owner, field, val); err != nil {
				return n, fmt.Errorf("failed to put %s/%s: %w", owner, field, err)
			}
			n++
		}
	}
	return n, nil
}
