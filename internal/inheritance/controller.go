// Package inheritance composes the activity ledger, the heir registry and
// the liveness engine into one authoritative vault state per owner. It is
// the only component that declares a release.
//
// Every read-modify-write runs under a per-owner lock. Reads of the derived
// state do not lock; they recompute from the stored inputs each time.
package inheritance

import (
	"fmt"
	"sync"
	"time"

	"github.com/celerix-dev/chronovault/internal/apperr"
	"github.com/celerix-dev/chronovault/internal/heirs"
	"github.com/celerix-dev/chronovault/internal/ledger"
	"github.com/celerix-dev/chronovault/internal/liveness"
	"github.com/celerix-dev/chronovault/internal/logging"
	"github.com/celerix-dev/chronovault/internal/metrics"
	"github.com/celerix-dev/chronovault/internal/ownerlock"
	"github.com/celerix-dev/chronovault/pkg/schema"
	"github.com/celerix-dev/chronovault/pkg/sdk"
)

// maxClockSkew bounds how far ahead of the server clock a reported
// timestamp may be.
const maxClockSkew = 5 * time.Minute

// Publisher receives the verdicts produced by mutations and sweeps. Publish
// must not block the caller; it reports whether v was accepted.
type Publisher interface {
	Publish(schema.Verdict) bool
}

// Options configures a Controller. The zero value of each field falls back
// to a sensible default.
type Options struct {
	Policy    schema.Policy
	MasterKey []byte
	Clock     func() time.Time
	Publisher Publisher
	Metrics   *metrics.Metrics
}

type Controller struct {
	store    sdk.KVStore
	ledger   *ledger.Ledger
	heirs    *heirs.Manager
	liveness *liveness.Engine
	locks    *ownerlock.Locker
	defaults schema.Policy
	pub      Publisher
	metrics  *metrics.Metrics

	// mirrored holds the last state the publisher accepted per owner.
	mirMu    sync.Mutex
	mirrored map[string]schema.State
}

func New(store sdk.KVStore, opts Options) (*Controller, error) {
	if opts.Policy == (schema.Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, apperr.InvalidPolicy(err)
	}

	var lopts []ledger.Option
	if opts.Clock != nil {
		lopts = append(lopts, ledger.WithClock(opts.Clock))
	}
	l := ledger.New(store, lopts...)

	return &Controller{
		store:    store,
		ledger:   l,
		heirs:    heirs.New(store, l),
		liveness: liveness.New(store, l, opts.MasterKey),
		locks:    ownerlock.New(),
		defaults: opts.Policy,
		pub:      opts.Publisher,
		metrics:  opts.Metrics,
		mirrored: make(map[string]schema.State),
	}, nil
}

func canonical(owner string) (string, error) {
	addr, ok := schema.CanonicalAddress(owner)
	if !ok {
		return "", apperr.InvalidAddress(owner)
	}
	return addr, nil
}

// firstErr prefers the primary operation's error over a follow-up one.
func firstErr(primary, followUp error) error {
	if primary != nil {
		return primary
	}
	return followUp
}

// --- Reads ---

func (c *Controller) snapshot(owner string) (Snapshot, error) {
	events, err := c.ledger.Events(owner)
	if err != nil {
		return Snapshot{}, err
	}
	list, err := c.heirs.List(owner)
	if err != nil {
		return Snapshot{}, err
	}
	profile, err := c.liveness.Profile(owner)
	if err != nil {
		return Snapshot{}, err
	}
	policy, err := c.policy(owner)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Events: events, Heirs: list, Profile: profile, Policy: policy}, nil
}

func (c *Controller) evaluate(owner string) (schema.Verdict, Snapshot, error) {
	s, err := c.snapshot(owner)
	if err != nil {
		return schema.Verdict{}, Snapshot{}, err
	}
	v := Derive(owner, s, c.ledger.Now())
	c.metrics.Evaluation(string(v.State))
	return v, s, nil
}

// Verdict derives the current fund-lock verdict for owner.
func (c *Controller) Verdict(owner string) (schema.Verdict, error) {
	owner, err := canonical(owner)
	if err != nil {
		return schema.Verdict{}, err
	}
	v, _, err := c.evaluate(owner)
	return v, err
}

// CurrentState derives the vault state for owner.
func (c *Controller) CurrentState(owner string) (schema.State, error) {
	v, err := c.Verdict(owner)
	return v.State, err
}

func (c *Controller) Activities(owner string) ([]schema.ActivityEvent, error) {
	owner, err := canonical(owner)
	if err != nil {
		return nil, err
	}
	return c.ledger.Events(owner)
}

func (c *Controller) Heirs(owner string) ([]schema.HeirRecord, error) {
	owner, err := canonical(owner)
	if err != nil {
		return nil, err
	}
	return c.heirs.List(owner)
}

// ActiveRiddle returns the public view of the owner's riddle.
func (c *Controller) ActiveRiddle(owner string) (schema.PublicRiddle, bool, error) {
	owner, err := canonical(owner)
	if err != nil {
		return schema.PublicRiddle{}, false, err
	}
	return c.liveness.ActiveRiddle(owner)
}

// Liveness returns the read model of the owner's liveness profile.
func (c *Controller) Liveness(owner string) (schema.LivenessView, error) {
	owner, err := canonical(owner)
	if err != nil {
		return schema.LivenessView{}, err
	}
	p, err := c.liveness.Profile(owner)
	return p.View(), err
}

// --- Settlement ---

// settle derives the verdict after a mutation. When the owner is past the
// deadline with quorum met and no release event exists yet, it records the
// QuorumRelease event. The verdict is then published; unless force is set
// it is only published when the release was just recorded or the state
// differs from the last accepted one. The boolean reports whether this call
// recorded the release.
func (c *Controller) settle(owner string, force bool) (schema.Verdict, bool, error) {
	v, s, err := c.evaluate(owner)
	if err != nil {
		return schema.Verdict{}, false, err
	}

	recorded := false
	if _, done := ledger.ReleaseEvent(s.Events); v.State == schema.StateReleased && !done {
		_, err := c.ledger.Record(owner, schema.ActivityEvent{
			Kind:      schema.KindQuorumRelease,
			Completed: true,
			Detail:    fmt.Sprintf("Quorum reached: %d of %d required heirs approved", v.ApprovedHeirs, v.RequiredApprovals),
		})
		if err != nil {
			return v, false, apperr.Partial("release event", err)
		}
		recorded = true
		c.metrics.Release("quorum")
		logging.With("owner", schema.ShortAddress(owner)).Info("inheritance released", "path", "quorum")
	}

	c.publish(v, force || recorded)
	return v, recorded, nil
}

func (c *Controller) publish(v schema.Verdict, force bool) {
	if c.pub == nil {
		return
	}
	c.mirMu.Lock()
	defer c.mirMu.Unlock()
	if last, ok := c.mirrored[v.Owner]; ok && last == v.State && !force {
		return
	}
	if c.pub.Publish(v) {
		c.mirrored[v.Owner] = v.State
	} else {
		delete(c.mirrored, v.Owner)
	}
}

// Unmirrored forgets that v was accepted, so the next sweep publishes the
// owner's verdict again. Wire it to the publisher's give-up hook.
func (c *Controller) Unmirrored(v schema.Verdict) {
	c.mirMu.Lock()
	defer c.mirMu.Unlock()
	if last, ok := c.mirrored[v.Owner]; ok && last == v.State {
		delete(c.mirrored, v.Owner)
	}
}

// Reconcile settles owner without any other mutation. The sweeper uses it
// to record releases that happen through elapsed time alone. An unchanged
// verdict that the publisher already accepted is not published again.
func (c *Controller) Reconcile(owner string) (schema.Verdict, bool, error) {
	owner, err := canonical(owner)
	if err != nil {
		return schema.Verdict{}, false, err
	}
	unlock := c.locks.Lock(owner)
	defer unlock()
	return c.settle(owner, false)
}

// --- Activity ---

// RecordActivity appends an externally attested event. Completed events
// are only accepted for VoiceVerification; the other owner-attested kinds
// are recorded by the component that performs the check. Release kinds are
// never accepted from outside.
func (c *Controller) RecordActivity(owner string, ev schema.ActivityEvent) (schema.ActivityEvent, schema.Verdict, error) {
	owner, err := canonical(owner)
	if err != nil {
		return ev, schema.Verdict{}, err
	}
	switch {
	case !ev.Kind.Valid():
		return ev, schema.Verdict{}, apperr.InvalidInput("unknown activity type %q", ev.Kind)
	case ev.Kind.Release():
		return ev, schema.Verdict{}, apperr.InvalidInput("release events cannot be recorded directly")
	case ev.Completed && ev.Kind != schema.KindVoiceVerification:
		return ev, schema.Verdict{}, apperr.InvalidInput("completed %s events are recorded by their verifier", ev.Kind)
	}

	if ev.Timestamp > c.ledger.Now().Add(maxClockSkew).UnixMilli() {
		return ev, schema.Verdict{}, apperr.InvalidInput("timestamp is in the future")
	}

	unlock := c.locks.Lock(owner)
	defer unlock()

	if ev.Actor == "" {
		ev.Actor = owner
	}
	stored, err := c.ledger.Record(owner, ev)
	if err != nil {
		return stored, schema.Verdict{}, err
	}
	c.metrics.Activity(string(stored.Kind))
	v, _, err := c.settle(owner, true)
	return stored, v, err
}

// --- Heirs ---

func (c *Controller) AddHeir(owner, heir string, share int) (schema.HeirRecord, schema.Verdict, error) {
	owner, err := canonical(owner)
	if err != nil {
		return schema.HeirRecord{}, schema.Verdict{}, err
	}
	unlock := c.locks.Lock(owner)
	defer unlock()

	rec, err := c.heirs.Add(owner, heir, share)
	if err != nil && !apperr.IsPartial(err) {
		return rec, schema.Verdict{}, err
	}
	c.metrics.Activity(string(schema.KindHeirAddition))
	v, _, serr := c.settle(owner, true)
	return rec, v, firstErr(err, serr)
}

// ApproveHeir approves heir. Approving twice is a no-op.
func (c *Controller) ApproveHeir(owner, heir string) (schema.HeirRecord, schema.Verdict, error) {
	owner, err := canonical(owner)
	if err != nil {
		return schema.HeirRecord{}, schema.Verdict{}, err
	}
	unlock := c.locks.Lock(owner)
	defer unlock()

	rec, changed, err := c.heirs.Approve(owner, heir)
	if err != nil && !apperr.IsPartial(err) {
		return rec, schema.Verdict{}, err
	}
	if changed {
		c.metrics.Activity(string(schema.KindHeirApproval))
	}
	v, _, serr := c.settle(owner, true)
	return rec, v, firstErr(err, serr)
}

// --- Riddles ---

// IssueRiddle generates a riddle and returns its recovery phrase once.
func (c *Controller) IssueRiddle(owner string) (schema.PublicRiddle, string, error) {
	owner, err := canonical(owner)
	if err != nil {
		return schema.PublicRiddle{}, "", err
	}
	unlock := c.locks.Lock(owner)
	defer unlock()

	r, phrase, err := c.liveness.IssueRiddle(owner)
	if err == nil || apperr.IsPartial(err) {
		c.metrics.Activity(string(schema.KindRiddleCreation))
	}
	return r, phrase, err
}

// CreateRiddle stores an owner-authored riddle.
func (c *Controller) CreateRiddle(owner, question, answer string) (schema.PublicRiddle, error) {
	owner, err := canonical(owner)
	if err != nil {
		return schema.PublicRiddle{}, err
	}
	unlock := c.locks.Lock(owner)
	defer unlock()

	r, err := c.liveness.CreateRiddle(owner, question, answer)
	if err == nil || apperr.IsPartial(err) {
		c.metrics.Activity(string(schema.KindRiddleCreation))
	}
	return r, err
}

// VerifyRiddle checks an answer against the owner's riddle.
//
// With an empty claimant (or the owner) a correct answer is an owner check:
// funds unlock and a RiddleVerification event resets the timer. With a
// registered heir as claimant a correct answer releases an overdue vault
// and records HeirRiddleRelease. In a released vault a correct answer is
// reported but changes nothing.
func (c *Controller) VerifyRiddle(owner, id, answer, claimant string) (bool, schema.Verdict, error) {
	owner, err := canonical(owner)
	if err != nil {
		return false, schema.Verdict{}, err
	}
	heirClaim := claimant != ""
	if heirClaim {
		if claimant, err = canonical(claimant); err != nil {
			return false, schema.Verdict{}, err
		}
		heirClaim = claimant != owner
	}

	unlock := c.locks.Lock(owner)
	defer unlock()

	if heirClaim {
		if _, found, err := c.heirs.Find(owner, claimant); err != nil {
			return false, schema.Verdict{}, err
		} else if !found {
			return false, schema.Verdict{}, apperr.HeirNotFound(claimant)
		}
	}

	ok, err := c.liveness.VerifyRiddle(owner, id, answer)
	if err != nil {
		return false, schema.Verdict{}, err
	}
	c.metrics.Verification("riddle", ok)

	pre, _, err := c.evaluate(owner)
	if err != nil {
		return ok, schema.Verdict{}, err
	}
	if !ok || pre.State == schema.StateReleased {
		return ok, pre, nil
	}

	if heirClaim {
		v, err := c.releaseByHeir(owner, claimant, pre)
		return true, v, err
	}

	if _, err := c.liveness.Unlock(owner); err != nil {
		return true, pre, err
	}
	_, err = c.ledger.Record(owner, schema.ActivityEvent{
		Kind:      schema.KindRiddleVerification,
		Completed: true,
		Actor:     owner,
		Detail:    "Owner answered the riddle",
	})
	if err != nil {
		err = apperr.Partial("activity", err)
	} else {
		c.metrics.Activity(string(schema.KindRiddleVerification))
	}
	v, _, serr := c.settle(owner, true)
	return true, v, firstErr(err, serr)
}

// releaseByHeir records the heir riddle release when the vault is overdue.
// Outside Overdue a correct heir answer has no effect.
func (c *Controller) releaseByHeir(owner, heir string, pre schema.Verdict) (schema.Verdict, error) {
	if pre.State != schema.StateOverdue {
		return pre, nil
	}
	_, err := c.ledger.Record(owner, schema.ActivityEvent{
		Kind:      schema.KindHeirRiddleRelease,
		Completed: true,
		Actor:     heir,
		Detail:    fmt.Sprintf("Heir %s answered the owner's riddle", schema.ShortAddress(heir)),
	})
	if err != nil {
		return pre, apperr.Store("record heir release", err)
	}
	c.metrics.Release("heir_riddle")
	logging.With("owner", schema.ShortAddress(owner), "heir", schema.ShortAddress(heir)).
		Info("inheritance released", "path", "heir_riddle")
	v, _, err := c.settle(owner, true)
	return v, err
}

// --- Liveness reference ---

// SetReference enrolls a reference tag and locks funds.
func (c *Controller) SetReference(owner, tag string) (schema.LivenessView, error) {
	owner, err := canonical(owner)
	if err != nil {
		return schema.LivenessView{}, err
	}
	unlock := c.locks.Lock(owner)
	defer unlock()

	p, err := c.liveness.SetReference(owner, tag)
	if err != nil {
		return schema.LivenessView{}, err
	}
	_, _, err = c.settle(owner, true)
	return p.View(), err
}

// RemoveReference clears the enrolled tag once the owner proves knowledge
// of the riddle answer. A wrong proof returns false and changes nothing.
func (c *Controller) RemoveReference(owner, riddleID, answer string) (bool, error) {
	owner, err := canonical(owner)
	if err != nil {
		return false, err
	}
	unlock := c.locks.Lock(owner)
	defer unlock()

	ok, err := c.liveness.VerifyRiddle(owner, riddleID, answer)
	if err != nil {
		return false, err
	}
	c.metrics.Verification("riddle", ok)
	if !ok {
		return false, nil
	}
	if err := c.liveness.RemoveReference(owner); err != nil {
		return false, err
	}
	return true, nil
}

// VerifyLiveness compares tag with the enrolled reference. A match unlocks
// funds and resets the timer unless the vault is released. A mismatch
// changes nothing, in particular it does not re-lock funds.
func (c *Controller) VerifyLiveness(owner, tag string) (bool, schema.Verdict, error) {
	owner, err := canonical(owner)
	if err != nil {
		return false, schema.Verdict{}, err
	}
	unlock := c.locks.Lock(owner)
	defer unlock()

	ok, err := c.liveness.VerifyLiveness(owner, tag)
	if err != nil {
		return false, schema.Verdict{}, err
	}
	c.metrics.Verification("liveness", ok)

	pre, _, err := c.evaluate(owner)
	if err != nil {
		return ok, schema.Verdict{}, err
	}
	if !ok || pre.State == schema.StateReleased {
		return ok, pre, nil
	}

	if _, err := c.liveness.Unlock(owner); err != nil {
		return true, pre, err
	}
	_, err = c.ledger.Record(owner, schema.ActivityEvent{
		Kind:      schema.KindLivenessVerification,
		Completed: true,
		Actor:     owner,
		Detail:    "Liveness check passed",
	})
	if err != nil {
		err = apperr.Partial("activity", err)
	} else {
		c.metrics.Activity(string(schema.KindLivenessVerification))
	}
	v, _, serr := c.settle(owner, true)
	return true, v, firstErr(err, serr)
}

// --- Policy ---

func (c *Controller) policy(owner string) (schema.Policy, error) {
	o, err := sdk.GetOr(c.store, owner, schema.FieldPolicy, schema.PolicyOverride{})
	if err != nil {
		return schema.Policy{}, apperr.Store("load policy", err)
	}
	return o.Apply(c.defaults), nil
}

// Policy returns the effective policy of owner.
func (c *Controller) Policy(owner string) (schema.Policy, error) {
	owner, err := canonical(owner)
	if err != nil {
		return schema.Policy{}, err
	}
	return c.policy(owner)
}

// SetPolicy replaces the owner's override. The merged policy must validate.
func (c *Controller) SetPolicy(owner string, o schema.PolicyOverride) (schema.Policy, error) {
	owner, err := canonical(owner)
	if err != nil {
		return schema.Policy{}, err
	}
	p := o.Apply(c.defaults)
	if err := p.Validate(); err != nil {
		return schema.Policy{}, apperr.InvalidPolicy(err)
	}

	unlock := c.locks.Lock(owner)
	defer unlock()

	if err := sdk.Put(c.store, owner, schema.FieldPolicy, o); err != nil {
		return schema.Policy{}, apperr.Store("save policy", err)
	}
	_, _, err = c.settle(owner, true)
	return p, err
}
