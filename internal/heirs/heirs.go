// Package heirs manages an owner's heir registry and approval bookkeeping.
// Every mutation is mirrored into the activity ledger.
//
// Like the ledger, the manager does not lock; callers serialize per owner.
package heirs

import (
	"fmt"

	"github.com/celerix-dev/chronovault/internal/apperr"
	"github.com/celerix-dev/chronovault/internal/ledger"
	"github.com/celerix-dev/chronovault/pkg/schema"
	"github.com/celerix-dev/chronovault/pkg/sdk"
)

// MaxShare is the total percentage an owner can allocate.
const MaxShare = 100

type Manager struct {
	store  sdk.KVStore
	ledger *ledger.Ledger
}

func New(store sdk.KVStore, l *ledger.Ledger) *Manager {
	return &Manager{store: store, ledger: l}
}

// List returns the heirs in registration order.
func (m *Manager) List(owner string) ([]schema.HeirRecord, error) {
	list, err := sdk.GetOr(m.store, owner, schema.FieldHeirs, []schema.HeirRecord{})
	if err != nil {
		return nil, apperr.Store("load heirs", err)
	}
	return list, nil
}

// Find looks up one heir by canonical address.
func (m *Manager) Find(owner, heir string) (schema.HeirRecord, bool, error) {
	list, err := m.List(owner)
	if err != nil {
		return schema.HeirRecord{}, false, err
	}
	i := indexOf(list, heir)
	if i < 0 {
		return schema.HeirRecord{}, false, nil
	}
	return list[i], true, nil
}

// Add registers heir with share percent. Nothing is written when any check
// fails. If the heir is saved but the HeirAddition event is not, the record
// is returned together with a partial-write error.
func (m *Manager) Add(owner, heir string, share int) (schema.HeirRecord, error) {
	addr, ok := schema.CanonicalAddress(heir)
	if !ok {
		return schema.HeirRecord{}, apperr.InvalidAddress(heir)
	}
	if addr == owner {
		return schema.HeirRecord{}, apperr.InvalidInput("an owner cannot be their own heir")
	}
	if share < 1 || share > MaxShare {
		return schema.HeirRecord{}, apperr.InvalidShare(share)
	}

	list, err := m.List(owner)
	if err != nil {
		return schema.HeirRecord{}, err
	}
	if indexOf(list, addr) >= 0 {
		return schema.HeirRecord{}, apperr.DuplicateHeir(addr)
	}
	if allocated := TotalShare(list); allocated+share > MaxShare {
		return schema.HeirRecord{}, apperr.ShareOverflow(share, allocated)
	}

	now := m.ledger.Now().UTC()
	rec := schema.HeirRecord{Address: addr, Share: share, AddedAt: now}
	list = append(list, rec)
	if err := sdk.Put(m.store, owner, schema.FieldHeirs, list); err != nil {
		return schema.HeirRecord{}, apperr.Store("save heirs", err)
	}

	_, err = m.ledger.Record(owner, schema.ActivityEvent{
		Timestamp: now.UnixMilli(),
		Kind:      schema.KindHeirAddition,
		Completed: true,
		Actor:     owner,
		Detail:    fmt.Sprintf("Added heir %s with %d%% share", schema.ShortAddress(addr), share),
	})
	if err != nil {
		return rec, apperr.Partial("activity", err)
	}
	return rec, nil
}

// Approve marks heir as approved. Approving an approved heir changes
// nothing and records nothing. The boolean reports whether this call
// flipped the flag.
func (m *Manager) Approve(owner, heir string) (schema.HeirRecord, bool, error) {
	addr, ok := schema.CanonicalAddress(heir)
	if !ok {
		return schema.HeirRecord{}, false, apperr.InvalidAddress(heir)
	}

	list, err := m.List(owner)
	if err != nil {
		return schema.HeirRecord{}, false, err
	}
	i := indexOf(list, addr)
	if i < 0 {
		return schema.HeirRecord{}, false, apperr.HeirNotFound(addr)
	}
	if list[i].Approved {
		return list[i], false, nil
	}

	now := m.ledger.Now().UTC()
	list[i].Approved = true
	list[i].ApprovedAt = &now
	if err := sdk.Put(m.store, owner, schema.FieldHeirs, list); err != nil {
		return schema.HeirRecord{}, false, apperr.Store("save heirs", err)
	}

	_, err = m.ledger.Record(owner, schema.ActivityEvent{
		Timestamp: now.UnixMilli(),
		Kind:      schema.KindHeirApproval,
		Completed: true,
		Actor:     addr,
		Detail:    fmt.Sprintf("Heir %s approved release", schema.ShortAddress(addr)),
	})
	if err != nil {
		return list[i], true, apperr.Partial("activity", err)
	}
	return list[i], true, nil
}

// QuorumMet loads the owner's heirs and applies the package-level QuorumMet.
func (m *Manager) QuorumMet(owner string, threshold int, clamp bool) (bool, error) {
	list, err := m.List(owner)
	if err != nil {
		return false, err
	}
	return QuorumMet(list, threshold, clamp), nil
}

// Required returns the number of approvals needed. With clamp set the
// threshold never exceeds the number of heirs.
func Required(heirCount, threshold int, clamp bool) int {
	if clamp && heirCount < threshold {
		return heirCount
	}
	return threshold
}

// Approved counts approved heirs.
func Approved(list []schema.HeirRecord) int {
	n := 0
	for _, h := range list {
		if h.Approved {
			n++
		}
	}
	return n
}

// QuorumMet reports whether enough heirs approved. An owner without heirs
// never meets quorum, clamped or not.
func QuorumMet(list []schema.HeirRecord, threshold int, clamp bool) bool {
	if len(list) == 0 {
		return false
	}
	return Approved(list) >= Required(len(list), threshold, clamp)
}

// TotalShare sums the shares of list.
func TotalShare(list []schema.HeirRecord) int {
	sum := 0
	for _, h := range list {
		sum += h.Share
	}
	return sum
}

func indexOf(list []schema.HeirRecord, addr string) int {
	for i, h := range list {
		if h.Address == addr {
			return i
		}
	}
	return -1
}
