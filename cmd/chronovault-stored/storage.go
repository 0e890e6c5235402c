package main

import (
	"fmt"

	"github.com/celerix-dev/chronovault/internal/config"
	"github.com/celerix-dev/chronovault/pkg/engine"
	"github.com/celerix-dev/chronovault/pkg/sdk"
)

// openStore returns the configured backend and a function releasing it.
func openStore(c config.StorageConfig) (sdk.OwnerStore, func() error, error) {
	noop := func() error { return nil }
	switch c.Backend {
	case "file":
		s, err := engine.OpenFileStore(c.DataDir)
		if err != nil {
			return nil, noop, fmt.Errorf("open file store: %w", err)
		}
		return s, noop, nil
	case "sqlite", "postgres", "mysql":
		s, err := engine.OpenSQLStore(c.Backend, c.DSN)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown storage backend %q", c.Backend)
}
