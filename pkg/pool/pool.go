// Package pool implements Component E from spec.md §4.E: a thread-safe
// registry of active leases, at most one Active lease per endpoint at any
// instant, serialized by a single mutex whose critical section never
// performs I/O (spec.md §5).
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bibfleet/fleet/pkg/model"
	"github.com/bibfleet/fleet/pkg/validate"
)

// LeaseState mirrors spec.md §3's Lease.state.
type LeaseState int

const (
	LeaseActive LeaseState = iota
	LeaseReleased
	LeaseExpired
)

// Lease is the pool's proof of exclusive access to an endpoint.
type Lease struct {
	ID        string
	Endpoint  string
	ClientID  string
	CreatedAt time.Time
	ExpiresAt time.Time
	State     LeaseState
	Metadata  model.DeviceMetadata
}

// DefaultLeaseDuration bounds any hung workflow (spec.md §5: "an implicit
// lease duration (default 50 minutes)").
const DefaultLeaseDuration = 50 * time.Minute

// Statistics is the snapshot returned by Pool.Statistics.
type Statistics struct {
	ActiveLeases int
	TotalEndpoints int
}

// Pool keeps endpoint -> Lease. All mutating operations are serialized by
// mu; the critical section only checks/installs map entries, never doing
// I/O (discovery and validation happen before the lock is taken, or on an
// already-fetched snapshot).
type Pool struct {
	mu     sync.Mutex
	leases map[string]*Lease // endpoint -> lease

	discover func() ([]model.PhysicalEndpoint, error)
	now      func() time.Time
}

// New builds a Pool that lists candidate endpoints via discover (normally
// (*discovery.Discovery).Endpoints).
func New(discover func() ([]model.PhysicalEndpoint, error)) *Pool {
	return &Pool{
		leases:   map[string]*Lease{},
		discover: discover,
		now:      time.Now,
	}
}

// isActive reports whether lease is Active and not expired as of now,
// lazily demoting it to Released/Expired on observation (spec.md §4.E:
// "Expiry is lazy").
func isActive(l *Lease, now time.Time) bool {
	if l == nil {
		return false
	}
	if l.State != LeaseActive {
		return false
	}
	if !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt) {
		l.State = LeaseExpired
		return false
	}
	return true
}

// AcquireAny enumerates endpoints from discovery (before taking the lock),
// then, under one lock, discards ones already actively leased, validates
// the remainder against policy, and installs a lease on the first
// validated survivor, so two racing acquisitions for the same endpoint
// can never both succeed (spec.md §4.E, testable property #1 and
// scenario S5).
func (p *Pool) AcquireAny(ctx context.Context, policy validate.PortPolicy, clientID string) (*Lease, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	candidates, err := p.discover()
	if err != nil {
		return nil, false
	}
	if ctx.Err() != nil {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for _, ep := range candidates {
		if isActive(p.leases[ep.Name], now) {
			continue
		}
		verdict := validate.ValidatePort(ep, policy, nil)
		if !verdict.Valid {
			continue
		}
		lease := p.newLeaseLocked(ep, clientID, now)
		return lease, true
	}
	return nil, false
}

// AcquireSpecific behaves like AcquireAny but only considers endpoint,
// still validated against policy so a stale/unplugged endpoint is
// rejected.
func (p *Pool) AcquireSpecific(ctx context.Context, endpoint string, policy validate.PortPolicy, clientID string) (*Lease, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	candidates, err := p.discover()
	if err != nil {
		return nil, false
	}
	if ctx.Err() != nil {
		return nil, false
	}
	var found *model.PhysicalEndpoint
	for i := range candidates {
		if candidates[i].Name == endpoint {
			found = &candidates[i]
			break
		}
	}
	if found == nil {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if isActive(p.leases[endpoint], now) {
		return nil, false
	}
	verdict := validate.ValidatePort(*found, policy, nil)
	if !verdict.Valid {
		return nil, false
	}
	return p.newLeaseLocked(*found, clientID, now), true
}

func (p *Pool) newLeaseLocked(ep model.PhysicalEndpoint, clientID string, now time.Time) *Lease {
	lease := &Lease{
		ID:        uuid.NewString(),
		Endpoint:  ep.Name,
		ClientID:  clientID,
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultLeaseDuration),
		State:     LeaseActive,
		Metadata:  ep.Metadata,
	}
	p.leases[ep.Name] = lease
	return lease
}

// Release releases leaseID iff it is Active and owned by clientID;
// otherwise it returns false without mutating state (spec.md testable
// properties #5, #6). Idempotent: releasing an already-released lease
// returns false.
func (p *Pool) Release(leaseID, clientID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for _, l := range p.leases {
		if l.ID != leaseID {
			continue
		}
		if !isActive(l, now) {
			return false
		}
		if l.ClientID != clientID {
			return false
		}
		l.State = LeaseReleased
		return true
	}
	return false
}

// ReleaseAllFor bulk-releases every Active lease owned by clientID and
// returns the count released (spec.md testable property #7).
func (p *Pool) ReleaseAllFor(clientID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	n := 0
	for _, l := range p.leases {
		if isActive(l, now) && l.ClientID == clientID {
			l.State = LeaseReleased
			n++
		}
	}
	return n
}

// Lookup returns the Active lease on endpoint, if any.
func (p *Pool) Lookup(endpoint string) (*Lease, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.leases[endpoint]
	if !ok || !isActive(l, p.now()) {
		return nil, false
	}
	cp := *l
	return &cp, true
}

// ActiveCount is the number of currently Active leases.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	n := 0
	for _, l := range p.leases {
		if isActive(l, now) {
			n++
		}
	}
	return n
}

// AvailableCount counts discovered endpoints not actively leased that
// pass policy; nil policy accepts any endpoint.
func (p *Pool) AvailableCount(policy *validate.PortPolicy) int {
	candidates, err := p.discover()
	if err != nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	n := 0
	for _, ep := range candidates {
		if isActive(p.leases[ep.Name], now) {
			continue
		}
		if policy != nil {
			if v := validate.ValidatePort(ep, *policy, nil); !v.Valid {
				continue
			}
		}
		n++
	}
	return n
}

// Statistics is a point-in-time snapshot.
func (p *Pool) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	stats := Statistics{TotalEndpoints: len(p.leases)}
	for _, l := range p.leases {
		if isActive(l, now) {
			stats.ActiveLeases++
		}
	}
	return stats
}
