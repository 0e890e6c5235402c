package ledger

import (
	"math"
	"time"

	"github.com/celerix-dev/chronovault/pkg/schema"
)

// LastActivity returns the timestamp of the newest event that proves the
// owner was alive. Heir approvals and release events do not count.
func LastActivity(events []schema.ActivityEvent) (time.Time, bool) {
	var (
		latest int64
		found  bool
	)
	for _, ev := range events {
		if !ev.ResetsTimer() {
			continue
		}
		if !found || ev.Timestamp > latest {
			latest, found = ev.Timestamp, true
		}
	}
	if !found {
		return time.Time{}, false
	}
	return time.UnixMilli(latest), true
}

// ReleaseEvent returns the first recorded release event, if any.
func ReleaseEvent(events []schema.ActivityEvent) (schema.ActivityEvent, bool) {
	for _, ev := range events {
		if ev.Kind.Release() {
			return ev, true
		}
	}
	return schema.ActivityEvent{}, false
}

// NextCheck computes the window ending interval after last. Without any
// proof of life the check is due immediately.
func NextCheck(last time.Time, ok bool, now time.Time, interval, urgentThreshold time.Duration) schema.NextCheck {
	if !ok {
		return schema.NextCheck{Due: now, Remaining: 0, Overdue: true}
	}
	due := last.Add(interval)
	remaining := due.Sub(now)
	return schema.NextCheck{
		Due:       due,
		Remaining: remaining,
		Overdue:   remaining <= 0,
		Urgent:    remaining > 0 && remaining <= urgentThreshold,
	}
}

// Countdown splits the time left before threshold into days, hours and
// minutes. Progress is the elapsed share of threshold in percent, capped
// at 100. Without any proof of life the countdown is spent.
func Countdown(last time.Time, ok bool, now time.Time, threshold time.Duration) schema.Countdown {
	if !ok || threshold <= 0 {
		return schema.Countdown{Progress: 100}
	}
	elapsed := now.Sub(last)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := threshold - elapsed
	if remaining < 0 {
		remaining = 0
	}

	progress := math.Min(100, float64(elapsed)/float64(threshold)*100)
	return schema.Countdown{
		Days:     int(remaining / (24 * time.Hour)),
		Hours:    int(remaining % (24 * time.Hour) / time.Hour),
		Minutes:  int(remaining % time.Hour / time.Minute),
		Progress: progress,
	}
}
