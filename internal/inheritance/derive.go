package inheritance

import (
	"time"

	"github.com/celerix-dev/chronovault/internal/heirs"
	"github.com/celerix-dev/chronovault/internal/ledger"
	"github.com/celerix-dev/chronovault/pkg/schema"
)

// Snapshot is everything the vault state is derived from.
type Snapshot struct {
	Events  []schema.ActivityEvent
	Heirs   []schema.HeirRecord
	Profile schema.LivenessProfile
	Policy  schema.Policy
}

// Derive computes the verdict for one owner at now. It is a pure function
// of the snapshot:
//
//  1. a recorded release event means Released;
//  2. past the inactivity deadline, Released if quorum is met, else Overdue;
//  3. inside the urgent window before the deadline, Warning;
//  4. otherwise Active.
func Derive(owner string, s Snapshot, now time.Time) schema.Verdict {
	last, hasActivity := ledger.LastActivity(s.Events)
	deadline := ledger.NextCheck(last, hasActivity, now, s.Policy.InactivityThreshold, s.Policy.UrgentThreshold)

	v := schema.Verdict{
		Owner:             owner,
		FundsLocked:       s.Profile.FundsLocked,
		ApprovedHeirs:     heirs.Approved(s.Heirs),
		HeirCount:         len(s.Heirs),
		RequiredApprovals: heirs.Required(len(s.Heirs), s.Policy.QuorumThreshold, s.Policy.ClampQuorum),
		Deadline:          deadline.Due,
		NextCheck:         ledger.NextCheck(last, hasActivity, now, s.Policy.CheckInterval, s.Policy.UrgentThreshold),
		Countdown:         ledger.Countdown(last, hasActivity, now, s.Policy.InactivityThreshold),
		EvaluatedAt:       now,
	}
	if hasActivity {
		v.LastActivity = &last
	}

	_, released := ledger.ReleaseEvent(s.Events)
	switch {
	case released:
		v.State = schema.StateReleased
	case deadline.Overdue && heirs.QuorumMet(s.Heirs, s.Policy.QuorumThreshold, s.Policy.ClampQuorum):
		v.State = schema.StateReleased
	case deadline.Overdue:
		v.State = schema.StateOverdue
	case deadline.Urgent:
		v.State = schema.StateWarning
	default:
		v.State = schema.StateActive
	}
	v.ReleaseEligible = v.State == schema.StateReleased
	return v
}
