// Package ledger keeps each owner's append-only activity log and answers
// timing questions about it: time since the last proof of life, when the
// next check is due, and the dashboard countdown.
//
// The ledger does not lock. Callers serialize writes per owner.
package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/celerix-dev/chronovault/internal/apperr"
	"github.com/celerix-dev/chronovault/pkg/schema"
	"github.com/celerix-dev/chronovault/pkg/sdk"
)

// Ledger appends activity events to the "activities" field of an owner.
type Ledger struct {
	store sdk.KVStore
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now. Every component built on the ledger reads
// time through it.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(store sdk.KVStore, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger clock's current time.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// raw returns the events in insertion order.
func (l *Ledger) raw(owner string) ([]schema.ActivityEvent, error) {
	events, err := sdk.GetOr(l.store, owner, schema.FieldActivities, []schema.ActivityEvent{})
	if err != nil {
		return nil, apperr.Store("load activities", err)
	}
	return events, nil
}

// Events returns the owner's events ordered by timestamp. Events with equal
// timestamps keep their insertion order.
func (l *Ledger) Events(owner string) ([]schema.ActivityEvent, error) {
	events, err := l.raw(owner)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
	return events, nil
}

// Record appends ev and returns it as stored. A zero timestamp means now.
// An event older than the newest recorded one is kept, flagged OutOfOrder.
func (l *Ledger) Record(owner string, ev schema.ActivityEvent) (schema.ActivityEvent, error) {
	if !ev.Kind.Valid() {
		return ev, apperr.InvalidInput("unknown activity type %q", ev.Kind)
	}
	if ev.Timestamp < 0 {
		return ev, apperr.InvalidInput("timestamp must not be negative")
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = l.now().UnixMilli()
	}

	events, err := l.raw(owner)
	if err != nil {
		return ev, err
	}

	ev.ID = uuid.NewString()
	ev.OutOfOrder = false
	for _, prev := range events {
		if prev.Timestamp > ev.Timestamp {
			ev.OutOfOrder = true
			break
		}
	}

	events = append(events, ev)
	if err := sdk.Put(l.store, owner, schema.FieldActivities, events); err != nil {
		return ev, apperr.Store("save activities", err)
	}
	return ev, nil
}

// TimeSinceLastActivity returns the time elapsed since the owner's last
// proof of life. The boolean is false when there is none.
func (l *Ledger) TimeSinceLastActivity(owner string, now time.Time) (time.Duration, bool, error) {
	events, err := l.raw(owner)
	if err != nil {
		return 0, false, err
	}
	last, ok := LastActivity(events)
	if !ok {
		return 0, false, nil
	}
	return now.Sub(last), true, nil
}

// TimeUntilNextCheck reports when the owner's next proof of life is due
// given the check interval.
func (l *Ledger) TimeUntilNextCheck(owner string, now time.Time, interval, urgentThreshold time.Duration) (schema.NextCheck, error) {
	events, err := l.raw(owner)
	if err != nil {
		return schema.NextCheck{}, err
	}
	last, ok := LastActivity(events)
	return NextCheck(last, ok, now, interval, urgentThreshold), nil
}

// Countdown returns the dashboard breakdown of the time left before the
// inactivity threshold.
func (l *Ledger) Countdown(owner string, now time.Time, threshold time.Duration) (schema.Countdown, error) {
	events, err := l.raw(owner)
	if err != nil {
		return schema.Countdown{}, err
	}
	last, ok := LastActivity(events)
	return Countdown(last, ok, now, threshold), nil
}
