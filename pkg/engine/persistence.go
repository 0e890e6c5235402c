package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/celerix-dev/chronovault/internal/logging"
)

// Persistence handles the disk I/O for the MemStore: one JSON file per owner.
type Persistence struct {
	DataDir string
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Persistence{DataDir: dir}, nil
}

func (p *Persistence) path(owner string) string {
	return filepath.Join(p.DataDir, owner+".json")
}

// SaveOwner writes a single owner's fields to disk atomically. Writers for
// the same owner are serialized by the MemStore.
func (p *Persistence) SaveOwner(owner string, data map[string]json.RawMessage) error {
	if !ValidKey(owner) {
		return ErrInvalidKey
	}
	filePath := p.path(owner)
	tempPath := filePath + ".tmp"

	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(bytes); err != nil {
		_ = f.Close()
		return err
	}
	// A rename without fsync can still surface an empty file after a crash.
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	// Either the old file or the new one survives a power loss, never a torn one.
	return os.Rename(tempPath, filePath)
}

// DeleteOwner removes the owner's file. A missing file is not an error.
func (p *Persistence) DeleteOwner(owner string) error {
	if !ValidKey(owner) {
		return ErrInvalidKey
	}
	err := os.Remove(p.path(owner))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// LoadAll returns all owner data found in the data directory. Unreadable or
// malformed files are skipped with a warning.
func (p *Persistence) LoadAll() (map[string]map[string]json.RawMessage, error) {
	allData := make(map[string]map[string]json.RawMessage)

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		name := file.Name()
		if file.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		owner := strings.TrimSuffix(name, ".json")
		if !ValidKey(owner) {
			logging.Warnf("skipping data file with invalid owner name %s", name)
			continue
		}

		content, err := os.ReadFile(filepath.Join(p.DataDir, name))
		if err != nil {
			logging.Warnf("could not read owner file %s: %v", name, err)
			continue
		}

		var ownerData map[string]json.RawMessage
		if err := json.Unmarshal(content, &ownerData); err != nil {
			logging.Warnf("could not unmarshal owner data from %s: %v", name, err)
			continue
		}
		allData[owner] = ownerData
	}
	return allData, nil
}

// OpenFileStore loads dir and returns a MemStore persisting into it.
func OpenFileStore(dir string) (*MemStore, error) {
	p, err := NewPersistence(dir)
	if err != nil {
		return nil, fmt.Errorf("init persistence: %w", err)
	}
	data, err := p.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dir, err)
	}
	return NewMemStore(data, p), nil
}
