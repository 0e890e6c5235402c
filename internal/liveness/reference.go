package liveness

import (
	"errors"

	"github.com/celerix-dev/chronovault/internal/apperr"
	"github.com/celerix-dev/chronovault/internal/vault"
	"github.com/celerix-dev/chronovault/pkg/schema"
	"github.com/celerix-dev/chronovault/pkg/sdk"
)

var errNoMasterKey = errors.New("reference is sealed but no master key is configured")

// Profile returns the owner's liveness profile. Owners that never enrolled
// get a locked, empty profile.
func (e *Engine) Profile(owner string) (schema.LivenessProfile, error) {
	p, err := sdk.GetOr(e.store, owner, schema.FieldLiveness, schema.NewLivenessProfile())
	if err != nil {
		return schema.LivenessProfile{}, apperr.Store("load liveness", err)
	}
	return p, nil
}

func (e *Engine) save(owner string, p schema.LivenessProfile) error {
	if err := sdk.Put(e.store, owner, schema.FieldLiveness, p); err != nil {
		return apperr.Store("save liveness", err)
	}
	return nil
}

// SetReference enrolls tag. An enrolled profile must be removed first.
// Enrolling always locks funds.
func (e *Engine) SetReference(owner, tag string) (schema.LivenessProfile, error) {
	if tag == "" {
		return schema.LivenessProfile{}, apperr.InvalidInput("reference tag must not be empty")
	}
	p, err := e.Profile(owner)
	if err != nil {
		return schema.LivenessProfile{}, err
	}
	if p.Enrolled() {
		return schema.LivenessProfile{}, apperr.ReferenceExists()
	}

	stored, sealed := tag, false
	if e.masterKey != nil {
		if stored, err = vault.Encrypt(tag, e.masterKey); err != nil {
			return schema.LivenessProfile{}, err
		}
		sealed = true
	}

	now := e.ledger.Now().UTC()
	p.ReferenceTag = stored
	p.Sealed = sealed
	p.FundsLocked = true
	p.EnrolledAt = &now
	p.VerifiedAt = nil
	if err := e.save(owner, p); err != nil {
		return schema.LivenessProfile{}, err
	}
	return p, nil
}

// RemoveReference clears the enrolled tag. The fund lock is left as is.
func (e *Engine) RemoveReference(owner string) error {
	p, err := e.Profile(owner)
	if err != nil {
		return err
	}
	if !p.Enrolled() {
		return apperr.NoReference()
	}
	p.ReferenceTag = ""
	p.Sealed = false
	p.EnrolledAt = nil
	return e.save(owner, p)
}

// VerifyLiveness compares tag with the enrolled reference in constant time.
// It only reads; Unlock applies the outcome.
func (e *Engine) VerifyLiveness(owner, tag string) (bool, error) {
	if tag == "" {
		return false, apperr.InvalidInput("presented tag must not be empty")
	}
	p, err := e.Profile(owner)
	if err != nil {
		return false, err
	}
	if !p.Enrolled() {
		return false, apperr.NoReference()
	}

	ref := p.ReferenceTag
	if p.Sealed {
		if e.masterKey == nil {
			return false, apperr.Store("unseal reference", errNoMasterKey)
		}
		if ref, err = vault.Decrypt(ref, e.masterKey); err != nil {
			return false, apperr.Store("unseal reference", err)
		}
	}
	return vault.TagEqual(ref, tag), nil
}

// Unlock clears the fund lock after a successful owner verification.
func (e *Engine) Unlock(owner string) (schema.LivenessProfile, error) {
	p, err := e.Profile(owner)
	if err != nil {
		return schema.LivenessProfile{}, err
	}
	now := e.ledger.Now().UTC()
	p.FundsLocked = false
	p.VerifiedAt = &now
	if err := e.save(owner, p); err != nil {
		return schema.LivenessProfile{}, err
	}
	return p, nil
}
