package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/chronovault/internal/config"
)

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	s, closeFn, err := openStore(config.StorageConfig{Backend: "file", DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Put("0xabc", "heirs", json.RawMessage(`[]`)))
	require.NoError(t, closeFn())
	require.FileExists(t, filepath.Join(dir, "0xabc.json"))

	s, closeFn, err = openStore(config.StorageConfig{Backend: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, s.Put("0xabc", "heirs", json.RawMessage(`[]`)))
	require.NoError(t, closeFn())

	_, _, err = openStore(config.StorageConfig{Backend: "etcd"})
	require.ErrorContains(t, err, "unknown storage backend")
}

func TestConfigInit(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "chronovault.yaml")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "init", "--path", path})
	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "inactivity_threshold"))

	root = newRootCmd()
	root.SetArgs([]string{"config", "init", "--path", path})
	require.ErrorContains(t, root.Execute(), "already exists")
}

func TestServeRejectsBadConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	chdir(t, t.TempDir())

	root := newRootCmd()
	root.SetArgs([]string{"serve", "--storage.backend", "etcd"})
	require.ErrorContains(t, root.Execute(), "unknown storage backend")
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})
}
