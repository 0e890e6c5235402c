package liveness

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/chronovault/internal/apperr"
	"github.com/celerix-dev/chronovault/internal/ledger"
	"github.com/celerix-dev/chronovault/pkg/engine"
	"github.com/celerix-dev/chronovault/pkg/schema"
)

const owner = "0x1111111111111111111111111111111111111111"

var testKey = []byte("thisis32byteslongsecretkey123456")

func newEngine(key []byte) (*Engine, *engine.MemStore, *ledger.Ledger) {
	store := engine.NewMemStore(nil, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := ledger.New(store, ledger.WithClock(func() time.Time { return now }))
	return New(store, l, key), store, l
}

func TestCreateRiddle_StoresOnlyCommitment(t *testing.T) {
	e, store, l := newEngine(nil)

	pub, err := e.CreateRiddle(owner, "first pet?", "Rex the Dog")
	require.NoError(t, err)
	require.NotEmpty(t, pub.ID)

	raw, err := store.Get(owner, schema.FieldRiddle)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "Rex the Dog")

	active, ok, err := e.ActiveRiddle(owner)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pub, active)

	out, err := json.Marshal(active)
	require.NoError(t, err)
	require.NotContains(t, string(out), "commitment")
	require.NotContains(t, string(out), "salt")

	events, err := l.Events(owner)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, schema.KindRiddleCreation, events[0].Kind)
}

func TestCreateRiddle_RejectsEmpty(t *testing.T) {
	e, store, _ := newEngine(nil)

	_, err := e.CreateRiddle(owner, "  ", "x")
	require.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
	_, err = e.CreateRiddle(owner, "q", "")
	require.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	_, err = store.Get(owner, schema.FieldRiddle)
	require.ErrorIs(t, err, engine.ErrFieldNotFound)
}

func TestVerifyRiddle_RoundTrip(t *testing.T) {
	e, _, _ := newEngine(nil)
	pub, err := e.CreateRiddle(owner, "q", "answer")
	require.NoError(t, err)

	tests := []struct {
		answer string
		want   bool
	}{
		{"answer", true},
		{"answerX", false},
		{"answe", false},
		{"Answer", false},
		{"answer ", false},
	}
	for _, tt := range tests {
		ok, err := e.VerifyRiddle(owner, pub.ID, tt.answer)
		require.NoError(t, err)
		require.Equal(t, tt.want, ok, "answer %q", tt.answer)
	}

	// The riddle is not consumed by a successful verification.
	ok, err := e.VerifyRiddle(owner, pub.ID, "answer")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.VerifyRiddle(owner, "", "answer")
	require.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
	_, err = e.VerifyRiddle(owner, pub.ID, "")
	require.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestVerifyRiddle_SupersededIDFails(t *testing.T) {
	e, _, _ := newEngine(nil)

	ok, err := e.VerifyRiddle(owner, "no-such-riddle", "x")
	require.NoError(t, err)
	require.False(t, ok)

	first, err := e.CreateRiddle(owner, "q1", "same")
	require.NoError(t, err)
	second, err := e.CreateRiddle(owner, "q2", "same")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	ok, err = e.VerifyRiddle(owner, first.ID, "same")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = e.VerifyRiddle(owner, second.ID, "same")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIssueRiddle(t *testing.T) {
	e, _, _ := newEngine(nil)

	pub, phrase, err := e.IssueRiddle(owner)
	require.NoError(t, err)
	require.Equal(t, IssuedQuestion, pub.Question)
	require.Len(t, strings.Fields(phrase), PhraseWords)

	ok, err := e.VerifyRiddle(owner, pub.ID, phrase)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReference_EnrollVerify(t *testing.T) {
	for _, key := range [][]byte{nil, testKey} {
		e, store, _ := newEngine(key)

		_, err := e.VerifyLiveness(owner, "A")
		require.Equal(t, apperr.CodeNoReference, apperr.CodeOf(err))

		p, err := e.SetReference(owner, "A")
		require.NoError(t, err)
		require.True(t, p.FundsLocked)
		require.Equal(t, key != nil, p.Sealed)

		if key != nil {
			raw, err := store.Get(owner, schema.FieldLiveness)
			require.NoError(t, err)
			require.NotContains(t, string(raw), `"reference_tag":"A"`)
		}

		ok, err := e.VerifyLiveness(owner, "A")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = e.VerifyLiveness(owner, "B")
		require.NoError(t, err)
		require.False(t, ok)

		_, err = e.VerifyLiveness(owner, "")
		require.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
	}
}

func TestReference_ConflictAndRemoval(t *testing.T) {
	e, _, _ := newEngine(nil)

	require.Equal(t, apperr.CodeNoReference, apperr.CodeOf(e.RemoveReference(owner)))

	_, err := e.SetReference(owner, "A")
	require.NoError(t, err)
	_, err = e.Unlock(owner)
	require.NoError(t, err)

	_, err = e.SetReference(owner, "B")
	require.Equal(t, apperr.CodeReferenceExists, apperr.CodeOf(err))
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	require.NoError(t, e.RemoveReference(owner))
	p, err := e.Profile(owner)
	require.NoError(t, err)
	require.False(t, p.Enrolled())
	require.False(t, p.FundsLocked, "removal leaves the lock alone")

	// Re-enrolling re-locks.
	p, err = e.SetReference(owner, "B")
	require.NoError(t, err)
	require.True(t, p.FundsLocked)
}

func TestVerifyLiveness_SealedWithoutKey(t *testing.T) {
	e, store, l := newEngine(testKey)
	_, err := e.SetReference(owner, "A")
	require.NoError(t, err)

	keyless := New(store, l, nil)
	_, err = keyless.VerifyLiveness(owner, "A")
	require.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
}
