package sdk

import (
	"encoding/json"
	"fmt"

	"github.com/celerix-dev/chronovault/internal/vault"
)

// OwnerScope pins an owner so callers pass only field names.
type OwnerScope struct {
	store OwnerStore
	owner string
}

// Scope returns an OwnerScope over store for owner.
func Scope(store OwnerStore, owner string) *OwnerScope {
	return &OwnerScope{store: store, owner: owner}
}

// Owner returns the pinned owner key.
func (o *OwnerScope) Owner() string { return o.owner }

func (o *OwnerScope) Get(field string) (json.RawMessage, error) {
	return o.store.Get(o.owner, field)
}

func (o *OwnerScope) Put(field string, val json.RawMessage) error {
	return o.store.Put(o.owner, field, val)
}

func (o *OwnerScope) Delete(field string) error {
	return o.store.Delete(o.owner, field)
}

// Vault returns a scope that seals string values with masterKey before they
// reach the store.
func (o *OwnerScope) Vault(masterKey []byte) *VaultScope {
	return &VaultScope{owner: o, masterKey: masterKey}
}

// VaultScope provides client-side encryption for sensitive owner fields.
type VaultScope struct {
	owner     *OwnerScope
	masterKey []byte
}

// Put encrypts plaintext locally and stores the hex ciphertext.
func (v *VaultScope) Put(field, plaintext string) error {
	ciphertext, err := vault.Encrypt(plaintext, v.masterKey)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(ciphertext)
	if err != nil {
		return err
	}
	return v.owner.Put(field, raw)
}

// Get loads and decrypts a field written by Put.
func (v *VaultScope) Get(field string) (string, error) {
	raw, err := v.owner.Get(field)
	if err != nil {
		return "", err
	}
	var ciphertext string
	if err := json.Unmarshal(raw, &ciphertext); err != nil {
		return "", fmt.Errorf("vault data is not a string")
	}
	return vault.Decrypt(ciphertext, v.masterKey)
}
