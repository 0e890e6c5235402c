// Package contract forwards vault verdicts to the on-chain escrow contract.
// The contract is the system of record for the funds; this side only
// reports the lock and release decisions it derives.
package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/celerix-dev/chronovault/internal/logging"
	"github.com/celerix-dev/chronovault/pkg/schema"
)

// Mirror delivers one verdict to the contract side.
type Mirror interface {
	Publish(ctx context.Context, v schema.Verdict) error
}

// LogMirror only logs verdicts. It is the default when no relay is configured.
type LogMirror struct{}

func (LogMirror) Publish(_ context.Context, v schema.Verdict) error {
	logging.With("owner", schema.ShortAddress(v.Owner)).Info("verdict",
		"state", v.State,
		"funds_locked", v.FundsLocked,
		"release_eligible", v.ReleaseEligible,
		"approvals", fmt.Sprintf("%d/%d", v.ApprovedHeirs, v.RequiredApprovals),
	)
	return nil
}

// HTTPMirror posts verdicts as JSON to a relay that submits the contract
// transactions.
type HTTPMirror struct {
	URL    string
	Client *http.Client
}

func NewHTTPMirror(url string, timeout time.Duration) *HTTPMirror {
	return &HTTPMirror{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (m *HTTPMirror) Publish(ctx context.Context, v schema.Verdict) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post verdict: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay answered %s", resp.Status)
	}
	return nil
}
