// Package liveness issues and verifies proof-of-life challenges: riddles
// answered against a salted commitment, and biometric-style reference tags
// compared for equality.
//
// The engine does not lock; callers serialize writes per owner.
package liveness

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/celerix-dev/chronovault/internal/apperr"
	"github.com/celerix-dev/chronovault/internal/ledger"
	"github.com/celerix-dev/chronovault/internal/vault"
	"github.com/celerix-dev/chronovault/pkg/schema"
	"github.com/celerix-dev/chronovault/pkg/sdk"
)

// PhraseWords is the number of words in an issued recovery phrase.
const PhraseWords = 6

// IssuedQuestion is the question attached to generated riddles.
const IssuedQuestion = "Enter the recovery phrase issued with this riddle."

var wordlist = []string{
	"amber", "anchor", "arrow", "aspen", "atlas", "badge", "basil", "beacon",
	"birch", "bison", "blaze", "bloom", "cactus", "canyon", "cedar", "cinder",
	"clover", "cobalt", "comet", "coral", "crane", "delta", "dune", "ember",
	"falcon", "fern", "fjord", "flint", "frost", "garnet", "glacier", "granite",
	"harbor", "hazel", "heron", "indigo", "iris", "ivory", "jasper", "juniper",
	"kestrel", "lagoon", "lantern", "larch", "lilac", "lotus", "maple", "meadow",
	"mesa", "nectar", "nimbus", "oasis", "onyx", "orchid", "otter", "pebble",
	"pine", "prairie", "quartz", "raven", "reef", "saffron", "summit", "willow",
}

// Engine owns the "riddle" and "liveness" fields of each owner.
type Engine struct {
	store     sdk.KVStore
	ledger    *ledger.Ledger
	masterKey []byte
}

// New returns an Engine. When masterKey is non-nil, reference tags are
// sealed with it before they are stored.
func New(store sdk.KVStore, l *ledger.Ledger, masterKey []byte) *Engine {
	return &Engine{store: store, ledger: l, masterKey: masterKey}
}

func (e *Engine) riddle(owner string) (schema.Riddle, bool, error) {
	r, err := sdk.GetOr(e.store, owner, schema.FieldRiddle, schema.Riddle{})
	if err != nil {
		return schema.Riddle{}, false, apperr.Store("load riddle", err)
	}
	return r, r.ID != "", nil
}

// ActiveRiddle returns the public view of the owner's riddle.
func (e *Engine) ActiveRiddle(owner string) (schema.PublicRiddle, bool, error) {
	r, ok, err := e.riddle(owner)
	if err != nil || !ok {
		return schema.PublicRiddle{}, false, err
	}
	return r.Public(), true, nil
}

// IssueRiddle generates a riddle whose answer is a fresh recovery phrase.
// The phrase is returned here and never again.
func (e *Engine) IssueRiddle(owner string) (schema.PublicRiddle, string, error) {
	phrase, err := newPhrase()
	if err != nil {
		return schema.PublicRiddle{}, "", err
	}
	r, err := e.CreateRiddle(owner, IssuedQuestion, phrase)
	if err != nil && !apperr.IsPartial(err) {
		return schema.PublicRiddle{}, "", err
	}
	// A partial write still stored the riddle, so the phrase must reach the owner.
	return r, phrase, err
}

// CreateRiddle stores an owner-authored riddle, superseding any prior one.
// Only the salted commitment of answer is persisted.
func (e *Engine) CreateRiddle(owner, question, answer string) (schema.PublicRiddle, error) {
	if strings.TrimSpace(question) == "" {
		return schema.PublicRiddle{}, apperr.InvalidInput("question must not be empty")
	}
	if answer == "" {
		return schema.PublicRiddle{}, apperr.InvalidInput("answer must not be empty")
	}

	salt, err := vault.NewSalt()
	if err != nil {
		return schema.PublicRiddle{}, err
	}
	now := e.ledger.Now().UTC()
	r := schema.Riddle{
		ID:         uuid.NewString(),
		Question:   question,
		Salt:       salt,
		Commitment: vault.Commit(salt, answer),
		CreatedAt:  now,
	}
	if err := sdk.Put(e.store, owner, schema.FieldRiddle, r); err != nil {
		return schema.PublicRiddle{}, apperr.Store("save riddle", err)
	}

	_, err = e.ledger.Record(owner, schema.ActivityEvent{
		Timestamp: now.UnixMilli(),
		Kind:      schema.KindRiddleCreation,
		Completed: true,
		Actor:     owner,
		Detail:    "Created a new riddle",
	})
	if err != nil {
		return r.Public(), apperr.Partial("activity", err)
	}
	return r.Public(), nil
}

// VerifyRiddle reports whether answer opens the commitment of the active
// riddle with the given id. A missing riddle or a stale id is a plain
// false. The riddle stays active afterwards.
func (e *Engine) VerifyRiddle(owner, id, answer string) (bool, error) {
	if id == "" || answer == "" {
		return false, apperr.InvalidInput("riddle id and answer are required")
	}
	r, ok, err := e.riddle(owner)
	if err != nil {
		return false, err
	}
	if !ok || r.ID != id {
		return false, nil
	}
	return vault.CommitmentEqual(r.Salt, answer, r.Commitment), nil
}

func newPhrase() (string, error) {
	words := make([]string, PhraseWords)
	max := big.NewInt(int64(len(wordlist)))
	for i := range words {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("recovery phrase: %w", err)
		}
		words[i] = wordlist[n.Int64()]
	}
	return strings.Join(words, " "), nil
}
