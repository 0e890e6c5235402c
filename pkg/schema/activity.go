package schema

import "time"

// ActivityKind names the kind of a recorded activity event.
type ActivityKind string

const (
	KindVoiceVerification    ActivityKind = "VoiceVerification"
	KindRiddleVerification   ActivityKind = "RiddleVerification"
	KindRiddleCreation       ActivityKind = "RiddleCreation"
	KindHeirAddition         ActivityKind = "HeirAddition"
	KindHeirApproval         ActivityKind = "HeirApproval"
	KindLivenessVerification ActivityKind = "LivenessVerification"
	KindQuorumRelease        ActivityKind = "QuorumRelease"
	KindHeirRiddleRelease    ActivityKind = "HeirRiddleRelease"
)

var knownKinds = map[ActivityKind]bool{
	KindVoiceVerification:    true,
	KindRiddleVerification:   true,
	KindRiddleCreation:       true,
	KindHeirAddition:         true,
	KindHeirApproval:         true,
	KindLivenessVerification: true,
	KindQuorumRelease:        true,
	KindHeirRiddleRelease:    true,
}

// Valid reports whether k is one of the known kinds.
func (k ActivityKind) Valid() bool {
	return knownKinds[k]
}

// OwnerAttested reports whether an event of this kind proves the owner was
// alive when it was recorded. Only these kinds reset the inactivity timer.
func (k ActivityKind) OwnerAttested() bool {
	switch k {
	case KindVoiceVerification, KindRiddleVerification, KindRiddleCreation,
		KindHeirAddition, KindLivenessVerification:
		return true
	}
	return false
}

// Release reports whether k closes the inheritance cycle.
func (k ActivityKind) Release() bool {
	return k == KindQuorumRelease || k == KindHeirRiddleRelease
}

// ActivityEvent is one immutable entry of an owner's activity log.
// Timestamp is wall-clock milliseconds since the Unix epoch.
type ActivityEvent struct {
	ID         string       `json:"id"`
	Timestamp  int64        `json:"timestamp"`
	Kind       ActivityKind `json:"type"`
	Completed  bool         `json:"completed"`
	Actor      string       `json:"actor,omitempty"`
	Detail     string       `json:"description,omitempty"`
	OutOfOrder bool         `json:"out_of_order,omitempty"`
}

// Time returns the event timestamp as a time.Time.
func (e ActivityEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// ResetsTimer reports whether the event counts as owner proof-of-life.
func (e ActivityEvent) ResetsTimer() bool {
	return e.Completed && e.Kind.OwnerAttested()
}
