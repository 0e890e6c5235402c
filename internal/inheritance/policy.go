package inheritance

import (
	"time"

	"github.com/celerix-dev/chronovault/pkg/schema"
)

// Default policy values.
const (
	DefaultCheckInterval       = 24 * time.Hour
	DefaultInactivityThreshold = 90 * 24 * time.Hour
	DefaultUrgentThreshold     = time.Hour
	DefaultQuorumThreshold     = 3
)

// DefaultPolicy returns the process-wide defaults. Quorum clamps to the heir
// count unless configured otherwise.
func DefaultPolicy() schema.Policy {
	return schema.Policy{
		CheckInterval:       DefaultCheckInterval,
		InactivityThreshold: DefaultInactivityThreshold,
		UrgentThreshold:     DefaultUrgentThreshold,
		QuorumThreshold:     DefaultQuorumThreshold,
		ClampQuorum:         true,
	}
}
