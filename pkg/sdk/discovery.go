package sdk

import (
	"os"

	"github.com/celerix-dev/chronovault/internal/logging"
	"github.com/celerix-dev/chronovault/pkg/engine"
)

// EnvStoreAddr names the environment variable that points New at a remote
// store daemon.
const EnvStoreAddr = "CHRONOVAULT_STORE_ADDR"

// New picks a store from the environment: the remote daemon at
// CHRONOVAULT_STORE_ADDR when reachable, otherwise an embedded file store
// under dataDir.
func New(dataDir string) (OwnerStore, error) {
	if remoteAddr := os.Getenv(EnvStoreAddr); remoteAddr != "" {
		client, err := Connect(remoteAddr)
		if err == nil {
			return client, nil
		}
		logging.Warnf("remote store %s unreachable, falling back to %s: %v", remoteAddr, dataDir, err)
	}

	return engine.OpenFileStore(dataDir)
}
