package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Field names under which an owner's records are persisted.
const (
	FieldActivities = "activities"
	FieldHeirs      = "heirs"
	FieldRiddle     = "riddle"
	FieldLiveness   = "liveness"
	FieldPolicy     = "policy"
)

// VaultFields lists the fields only the inheritance controller may write.
func VaultFields() []string {
	return []string{FieldActivities, FieldHeirs, FieldRiddle, FieldLiveness, FieldPolicy}
}

// Riddle is the persisted form of an owner's active challenge. Only the
// salted commitment of the answer is kept.
type Riddle struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Salt       string    `json:"salt"`
	Commitment string    `json:"commitment"`
	CreatedAt  time.Time `json:"created_at"`
}

// Public strips the commitment material.
func (r Riddle) Public() PublicRiddle {
	return PublicRiddle{ID: r.ID, Question: r.Question, CreatedAt: r.CreatedAt}
}

// PublicRiddle is what read paths return.
type PublicRiddle struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	CreatedAt time.Time `json:"created_at"`
}

// HeirRecord is a designated heir of one owner.
type HeirRecord struct {
	Address    string     `json:"address"`
	Share      int        `json:"share"`
	Approved   bool       `json:"approved"`
	AddedAt    time.Time  `json:"added_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// LivenessProfile holds the enrolled reference tag and the fund lock.
// ReferenceTag is AES-GCM sealed when Sealed is true.
type LivenessProfile struct {
	ReferenceTag string     `json:"reference_tag,omitempty"`
	Sealed       bool       `json:"sealed,omitempty"`
	FundsLocked  bool       `json:"funds_locked"`
	EnrolledAt   *time.Time `json:"enrolled_at,omitempty"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
}

// NewLivenessProfile returns the profile of an owner that never enrolled.
func NewLivenessProfile() LivenessProfile {
	return LivenessProfile{FundsLocked: true}
}

// Enrolled reports whether a reference tag is present.
func (p LivenessProfile) Enrolled() bool {
	return p.ReferenceTag != ""
}

// LivenessView is the read model of a profile; the tag never leaves the core.
type LivenessView struct {
	Enrolled    bool       `json:"enrolled"`
	FundsLocked bool       `json:"funds_locked"`
	EnrolledAt  *time.Time `json:"enrolled_at,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

// View returns the read model of p.
func (p LivenessProfile) View() LivenessView {
	return LivenessView{
		Enrolled:    p.Enrolled(),
		FundsLocked: p.FundsLocked,
		EnrolledAt:  p.EnrolledAt,
		VerifiedAt:  p.VerifiedAt,
	}
}

// State is the derived vault state.
type State string

const (
	StateActive   State = "Active"
	StateWarning  State = "Warning"
	StateOverdue  State = "Overdue"
	StateReleased State = "Released"
)

// NextCheck describes where an owner stands relative to a deadline.
type NextCheck struct {
	Due       time.Time     `json:"due"`
	Remaining time.Duration `json:"remaining_ns"`
	Overdue   bool          `json:"overdue"`
	Urgent    bool          `json:"urgent"`
}

// Countdown is the days/hours/minutes breakdown of the time left before the
// inactivity threshold, with progress in percent of the threshold elapsed.
type Countdown struct {
	Days     int     `json:"days"`
	Hours    int     `json:"hours"`
	Minutes  int     `json:"minutes"`
	Progress float64 `json:"progress"`
}

// Verdict is the fund-lock decision returned to callers and mirrored to the
// on-chain contract.
type Verdict struct {
	Owner             string     `json:"owner"`
	State             State      `json:"state"`
	FundsLocked       bool       `json:"funds_locked"`
	ReleaseEligible   bool       `json:"release_eligible"`
	ApprovedHeirs     int        `json:"approved_heirs"`
	HeirCount         int        `json:"heir_count"`
	RequiredApprovals int        `json:"required_approvals"`
	LastActivity      *time.Time `json:"last_activity,omitempty"`
	Deadline          time.Time  `json:"deadline"`
	NextCheck         NextCheck  `json:"next_check"`
	Countdown         Countdown  `json:"countdown"`
	EvaluatedAt       time.Time  `json:"evaluated_at"`
}

// Duration is a time.Duration that travels as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"24h\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Policy holds the timing and quorum parameters for one owner.
type Policy struct {
	CheckInterval       time.Duration `json:"check_interval"`
	InactivityThreshold time.Duration `json:"inactivity_threshold"`
	UrgentThreshold     time.Duration `json:"urgent_threshold"`
	QuorumThreshold     int           `json:"quorum_threshold"`
	ClampQuorum         bool          `json:"clamp_quorum"`
}

// MarshalJSON renders durations the same way PolicyOverride accepts them.
func (p Policy) MarshalJSON() ([]byte, error) {
	return json.Marshal(PolicyOverride{
		CheckInterval:       durationPtr(p.CheckInterval),
		InactivityThreshold: durationPtr(p.InactivityThreshold),
		UrgentThreshold:     durationPtr(p.UrgentThreshold),
		QuorumThreshold:     &p.QuorumThreshold,
		ClampQuorum:         &p.ClampQuorum,
	})
}

// UnmarshalJSON accepts the MarshalJSON form.
func (p *Policy) UnmarshalJSON(b []byte) error {
	var o PolicyOverride
	if err := json.Unmarshal(b, &o); err != nil {
		return err
	}
	*p = o.Apply(Policy{})
	return nil
}

func durationPtr(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// PolicyOverride is the per-owner, partially specified policy. Nil fields
// inherit the process defaults.
type PolicyOverride struct {
	CheckInterval       *Duration `json:"check_interval,omitempty"`
	InactivityThreshold *Duration `json:"inactivity_threshold,omitempty"`
	UrgentThreshold     *Duration `json:"urgent_threshold,omitempty"`
	QuorumThreshold     *int      `json:"quorum_threshold,omitempty"`
	ClampQuorum         *bool     `json:"clamp_quorum,omitempty"`
}

// Apply returns base with the non-nil fields of o layered on top.
func (o PolicyOverride) Apply(base Policy) Policy {
	if o.CheckInterval != nil {
		base.CheckInterval = time.Duration(*o.CheckInterval)
	}
	if o.InactivityThreshold != nil {
		base.InactivityThreshold = time.Duration(*o.InactivityThreshold)
	}
	if o.UrgentThreshold != nil {
		base.UrgentThreshold = time.Duration(*o.UrgentThreshold)
	}
	if o.QuorumThreshold != nil {
		base.QuorumThreshold = *o.QuorumThreshold
	}
	if o.ClampQuorum != nil {
		base.ClampQuorum = *o.ClampQuorum
	}
	return base
}

// Validate checks that the policy can drive the state machine.
func (p Policy) Validate() error {
	switch {
	case p.CheckInterval <= 0:
		return fmt.Errorf("check interval must be positive")
	case p.InactivityThreshold <= 0:
		return fmt.Errorf("inactivity threshold must be positive")
	case p.UrgentThreshold < 0:
		return fmt.Errorf("urgent threshold must not be negative")
	case p.UrgentThreshold >= p.InactivityThreshold:
		return fmt.Errorf("urgent threshold must be shorter than the inactivity threshold")
	case p.QuorumThreshold < 1:
		return fmt.Errorf("quorum threshold must be at least 1")
	}
	return nil
}
