// Package mapper implements Component F from spec.md §4.F: resolving a
// logical Coordinate to the physical endpoint currently backing it, with
// a TTL cache and a reverse index for logging.
package mapper

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bibfleet/fleet/pkg/apperr"
	"github.com/bibfleet/fleet/pkg/discovery"
	"github.com/bibfleet/fleet/pkg/model"
)

// DefaultTTL is how long a resolved mapping is trusted before Discovery is
// consulted again.
const DefaultTTL = 30 * time.Second

// DefaultNegativeBackoff is how long a failed resolution is remembered so
// repeated resolve calls for a dead coordinate don't re-run Discovery on
// every call (spec.md §4.F step 5: "do not cache a negative result beyond
// a short back-off interval").
const DefaultNegativeBackoff = 2 * time.Second

// RuleSource supplies the mapping rules and BIB identity needed to decide
// which logical UUT a chip group represents; normally backed by a loaded
// model.BibConfiguration.
type RuleSource interface {
	MappingRules(bibID string) ([]model.MappingRule, bool)
}

type cacheEntry struct {
	endpoint  string
	expiresAt time.Time
}

type negativeEntry struct {
	expiresAt time.Time
}

// Mapper resolves Coordinates to endpoints, caching both positive and
// negative results.
type Mapper struct {
	mu sync.Mutex

	endpoints func() ([]model.PhysicalEndpoint, error)
	rules     RuleSource

	ttl      time.Duration
	backoff  time.Duration
	now      func() time.Time

	positive map[model.Coordinate]cacheEntry
	negative map[model.Coordinate]negativeEntry
	reverse  map[string]model.Coordinate
}

// New builds a Mapper. endpoints is normally (*discovery.Discovery).Endpoints.
func New(endpoints func() ([]model.PhysicalEndpoint, error), rules RuleSource) *Mapper {
	return &Mapper{
		endpoints: endpoints,
		rules:     rules,
		ttl:       DefaultTTL,
		backoff:   DefaultNegativeBackoff,
		now:       time.Now,
		positive:  map[model.Coordinate]cacheEntry{},
		negative:  map[model.Coordinate]negativeEntry{},
		reverse:   map[string]model.Coordinate{},
	}
}

// WithTTL overrides the positive-cache TTL, returning the same Mapper for
// chaining at construction time.
func (m *Mapper) WithTTL(ttl time.Duration) *Mapper {
	m.ttl = ttl
	return m
}

// WithNegativeBackoff overrides the negative-result back-off.
func (m *Mapper) WithNegativeBackoff(backoff time.Duration) *Mapper {
	m.backoff = backoff
	return m
}

// Resolve implements the five-step algorithm in spec.md §4.F. ctx is
// checked before the Discovery-backed lookup, the step that can actually
// block on platform enumeration/EEPROM reads (spec.md §5).
func (m *Mapper) Resolve(ctx context.Context, bibID, uutID string, port int) (string, error) {
	coord := model.Coordinate{BibID: bibID, UUTID: uutID, Port: port}.Normalize()

	m.mu.Lock()
	now := m.now()
	if entry, ok := m.positive[coord]; ok && now.Before(entry.expiresAt) {
		endpoint := entry.endpoint
		m.mu.Unlock()
		return endpoint, nil
	}
	if entry, ok := m.negative[coord]; ok && now.Before(entry.expiresAt) {
		m.mu.Unlock()
		return "", apperr.New(apperr.ResolutionFailed, "no chip matched within back-off window")
	}
	m.mu.Unlock()

	if ctx.Err() != nil {
		return "", apperr.Wrap(apperr.Cancelled, "resolve "+coord.BibID+"/"+coord.UUTID, ctx.Err())
	}

	endpoint, err := m.resolveFresh(coord)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.negative[coord] = negativeEntry{expiresAt: m.now().Add(m.backoff)}
		return "", err
	}
	m.positive[coord] = cacheEntry{endpoint: endpoint, expiresAt: m.now().Add(m.ttl)}
	m.reverse[endpoint] = coord
	delete(m.negative, coord)
	return endpoint, nil
}

func (m *Mapper) resolveFresh(coord model.Coordinate) (string, error) {
	endpoints, err := m.endpoints()
	if err != nil {
		return "", apperr.Wrap(apperr.ResolutionFailed, "discovery failed", err)
	}

	rules, ok := m.rules.MappingRules(coord.BibID)
	if !ok {
		return "", apperr.New(apperr.ResolutionFailed, "no mapping rules configured for bib "+coord.BibID)
	}

	var targetRule *model.MappingRule
	for i := range rules {
		if strings.EqualFold(rules[i].UUTID, coord.UUTID) {
			targetRule = &rules[i]
			break
		}
	}
	if targetRule == nil {
		return "", apperr.New(apperr.ResolutionFailed, "no mapping rule for uut "+coord.UUTID)
	}

	for _, group := range discovery.Groups(endpoints) {
		if !discovery.MatchesRule(group.Metadata, *targetRule) {
			continue
		}
		channel := coord.Port - 1
		for _, ep := range group.Endpoints {
			if ep.Channel == channel {
				return ep.Name, nil
			}
		}
		return "", apperr.New(apperr.ResolutionFailed, "channel index out of range for matched chip")
	}
	return "", apperr.New(apperr.ResolutionFailed, "no chip matches mapping rule for uut "+coord.UUTID)
}

// ReverseLookup returns the Coordinate last resolved to endpoint, for
// logging.
func (m *Mapper) ReverseLookup(endpoint string) (model.Coordinate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.reverse[endpoint]
	return c, ok
}

// Invalidate drops any cached mapping for coord, forcing the next Resolve
// to consult Discovery again.
func (m *Mapper) Invalidate(bibID, uutID string, port int) {
	coord := model.Coordinate{BibID: bibID, UUTID: uutID, Port: port}.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.positive[coord]; ok {
		delete(m.reverse, entry.endpoint)
	}
	delete(m.positive, coord)
	delete(m.negative, coord)
}
