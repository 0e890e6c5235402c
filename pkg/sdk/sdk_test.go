package sdk_test

import (
	"encoding/json"
	"errors"
	"net"
	"testing"

	"github.com/celerix-dev/chronovault/internal/server"
	"github.com/celerix-dev/chronovault/pkg/engine"
	"github.com/celerix-dev/chronovault/pkg/sdk"
)

const owner = "0x1111111111111111111111111111111111111111"

type heir struct {
	Address string `json:"address"`
	Share   int    `json:"share"`
}

func TestGenericGetPut(t *testing.T) {
	ms := engine.NewMemStore(nil, nil)

	want := []heir{{Address: "0xabc", Share: 40}}
	if err := sdk.Put(ms, owner, "heirs", want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := sdk.Get[[]heir](ms, owner, "heirs")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("Expected %v, got %v", want, got)
	}

	if _, err := sdk.Get[[]heir](ms, owner, "missing"); !errors.Is(err, sdk.ErrFieldNotFound) {
		t.Errorf("Expected ErrFieldNotFound, got %v", err)
	}

	fallback, err := sdk.GetOr(ms, owner, "missing", []heir{})
	if err != nil || fallback == nil || len(fallback) != 0 {
		t.Errorf("Expected empty fallback, got %v, %v", fallback, err)
	}
}

func TestOwnerScopeVault(t *testing.T) {
	ms := engine.NewMemStore(nil, nil)
	scope := sdk.Scope(ms, owner)
	masterKey := []byte("thisis32byteslongsecretkey123456")

	v := scope.Vault(masterKey)
	if err := v.Put("secret", "tag-A"); err != nil {
		t.Fatalf("Vault Put failed: %v", err)
	}

	raw, _ := ms.Get(owner, "secret")
	if string(raw) == `"tag-A"` {
		t.Fatal("Vault stored plaintext")
	}

	got, err := v.Get("secret")
	if err != nil || got != "tag-A" {
		t.Errorf("Vault Get = %q, %v", got, err)
	}

	if _, err := scope.Vault([]byte("another32byteslongsecretkey65432")).Get("secret"); err == nil {
		t.Error("Expected decrypt failure with another key")
	}
}

func TestClient_Integration(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	router := server.NewRouter(store)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := listener.Addr().String()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go router.HandleConnection(conn)
		}
	}()
	defer listener.Close()

	t.Setenv(sdk.EnvDisableTLS, "true")

	client, err := sdk.Connect(addr)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	if err := client.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	// Pretty-printed values are compacted for the line protocol.
	if err := client.Put(owner, "policy", json.RawMessage("{\n  \"quorum_threshold\": 2\n}")); err != nil {
		t.Fatalf("Client Put failed: %v", err)
	}
	val, err := client.Get(owner, "policy")
	if err != nil || string(val) != `{"quorum_threshold":2}` {
		t.Errorf("Client Get failed: %s, %v", val, err)
	}

	if _, err := client.Get(owner, "riddle"); !errors.Is(err, sdk.ErrFieldNotFound) {
		t.Errorf("Expected ErrFieldNotFound over the wire, got %v", err)
	}
	if err := client.Put(owner, "riddle", json.RawMessage("{oops")); !errors.Is(err, sdk.ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue, got %v", err)
	}

	// Typed helpers and scopes work against the remote client too.
	if err := sdk.Put(client, owner, "heirs", []heir{{Address: "0xabc", Share: 30}}); err != nil {
		t.Fatalf("Typed Put failed: %v", err)
	}
	v := sdk.Scope(client, owner).Vault([]byte("thisis32byteslongsecretkey123456"))
	if err := v.Put("liveness_tag", "tag-A"); err != nil {
		t.Fatalf("Vault Put failed: %v", err)
	}
	if got, err := v.Get("liveness_tag"); err != nil || got != "tag-A" {
		t.Errorf("Vault Get = %q, %v", got, err)
	}

	owners, err := client.Owners()
	if err != nil || len(owners) != 1 || owners[0] != owner {
		t.Errorf("Owners = %v, %v", owners, err)
	}
	fields, err := client.Fields(owner)
	if err != nil || len(fields) != 3 {
		t.Errorf("Fields = %v, %v", fields, err)
	}
	dump, err := client.Dump(owner)
	if err != nil || len(dump) != 3 {
		t.Errorf("Dump = %v, %v", dump, err)
	}

	if err := client.Delete(owner, "policy"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := client.Purge(owner); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if _, err := client.Dump(owner); !errors.Is(err, sdk.ErrOwnerNotFound) {
		t.Errorf("Expected ErrOwnerNotFound after purge, got %v", err)
	}
}

func TestNew_FallsBackToFileStore(t *testing.T) {
	t.Setenv(sdk.EnvStoreAddr, "127.0.0.1:1")
	t.Setenv(sdk.EnvDisableTLS, "true")
	dir := t.TempDir()

	store, err := sdk.New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := store.(*engine.MemStore); !ok {
		t.Fatalf("Expected embedded MemStore, got %T", store)
	}
	if err := store.Put(owner, "heirs", json.RawMessage(`[]`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
}
