package pool_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibfleet/fleet/pkg/model"
	"github.com/bibfleet/fleet/pkg/pool"
	"github.com/bibfleet/fleet/pkg/validate"
)

func fixedEndpoints(names ...string) func() ([]model.PhysicalEndpoint, error) {
	return func() ([]model.PhysicalEndpoint, error) {
		eps := make([]model.PhysicalEndpoint, len(names))
		for i, n := range names {
			eps[i] = model.PhysicalEndpoint{Name: n}
		}
		return eps, nil
	}
}

func TestAcquireAnyExcludesAlreadyLeased(t *testing.T) {
	p := pool.New(fixedEndpoints("/dev/ttyUSB0", "/dev/ttyUSB1"))
	policy := validate.PortPolicy{}

	l1, ok := p.AcquireAny(context.Background(), policy, "client-a")
	require.True(t, ok)

	l2, ok := p.AcquireAny(context.Background(), policy, "client-b")
	require.True(t, ok)

	assert.NotEqual(t, l1.Endpoint, l2.Endpoint)

	_, ok = p.AcquireAny(context.Background(), policy, "client-c")
	assert.False(t, ok, "both endpoints already leased")
}

func TestAcquireSpecificRejectsAlreadyLeased(t *testing.T) {
	p := pool.New(fixedEndpoints("/dev/ttyUSB0"))
	policy := validate.PortPolicy{}

	_, ok := p.AcquireSpecific(context.Background(), "/dev/ttyUSB0", policy, "client-a")
	require.True(t, ok)

	_, ok = p.AcquireSpecific(context.Background(), "/dev/ttyUSB0", policy, "client-b")
	assert.False(t, ok)
}

func TestAcquireSpecificUnknownEndpoint(t *testing.T) {
	p := pool.New(fixedEndpoints("/dev/ttyUSB0"))
	_, ok := p.AcquireSpecific(context.Background(), "/dev/ttyUSB9", validate.PortPolicy{}, "client-a")
	assert.False(t, ok)
}

func TestReleaseRequiresOwningClient(t *testing.T) {
	p := pool.New(fixedEndpoints("/dev/ttyUSB0"))
	l, ok := p.AcquireSpecific(context.Background(), "/dev/ttyUSB0", validate.PortPolicy{}, "client-a")
	require.True(t, ok)

	assert.False(t, p.Release(l.ID, "client-b"), "wrong client must not release")
	assert.True(t, p.Release(l.ID, "client-a"))
	assert.False(t, p.Release(l.ID, "client-a"), "second release is a no-op")
}

func TestReleaseAllForClient(t *testing.T) {
	p := pool.New(fixedEndpoints("/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"))
	policy := validate.PortPolicy{}
	_, _ = p.AcquireAny(context.Background(), policy, "client-a")
	_, _ = p.AcquireAny(context.Background(), policy, "client-a")
	_, _ = p.AcquireAny(context.Background(), policy, "client-b")

	assert.Equal(t, 2, p.ReleaseAllFor("client-a"))
	assert.Equal(t, 1, p.ActiveCount())
}

func TestAcquireAnyConcurrentNeverDoubleLeasesOneEndpoint(t *testing.T) {
	p := pool.New(fixedEndpoints("/dev/ttyUSB0"))
	policy := validate.PortPolicy{}

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok := p.AcquireAny(context.Background(), policy, "client")
			results[i] = ok
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one racer must win the single endpoint")
}

func TestLookupReflectsActiveLease(t *testing.T) {
	p := pool.New(fixedEndpoints("/dev/ttyUSB0"))
	_, ok := p.Lookup("/dev/ttyUSB0")
	assert.False(t, ok)

	l, ok := p.AcquireSpecific(context.Background(), "/dev/ttyUSB0", validate.PortPolicy{}, "client-a")
	require.True(t, ok)

	found, ok := p.Lookup("/dev/ttyUSB0")
	require.True(t, ok)
	assert.Equal(t, l.ID, found.ID)

	p.Release(l.ID, "client-a")
	_, ok = p.Lookup("/dev/ttyUSB0")
	assert.False(t, ok)
}

func TestAvailableCountHonorsPolicy(t *testing.T) {
	p := pool.New(func() ([]model.PhysicalEndpoint, error) {
		return []model.PhysicalEndpoint{
			{Name: "/dev/ttyUSB0", Metadata: model.DeviceMetadata{ChipFamily: "quad"}},
			{Name: "/dev/ttyUSB1", Metadata: model.DeviceMetadata{ChipFamily: "dual"}},
		}, nil
	})
	policy := validate.PortPolicy{AllowedChipFamilies: []string{"quad"}, Strict: true}
	assert.Equal(t, 1, p.AvailableCount(&policy))
	assert.Equal(t, 2, p.AvailableCount(nil))
}
