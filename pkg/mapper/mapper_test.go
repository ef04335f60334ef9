package mapper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibfleet/fleet/pkg/mapper"
	"github.com/bibfleet/fleet/pkg/model"
)

type fakeRules map[string][]model.MappingRule

func (f fakeRules) MappingRules(bibID string) ([]model.MappingRule, bool) {
	r, ok := f[bibID]
	return r, ok
}

func quadGroup(base string) []model.PhysicalEndpoint {
	meta := model.DeviceMetadata{ProductDescription: "Quad UART Bridge", GroupKey: base}
	eps := make([]model.PhysicalEndpoint, 4)
	for i := 0; i < 4; i++ {
		eps[i] = model.PhysicalEndpoint{Name: base + string(rune('0'+i)), Channel: i, Metadata: meta}
	}
	return eps
}

func TestResolveMatchesRuleAndChannel(t *testing.T) {
	endpoints := quadGroup("/dev/ttyUSB")
	rules := fakeRules{
		"bib1": {{UUTID: "uut1", ProductDescription: "quad uart"}},
	}
	m := mapper.New(func() ([]model.PhysicalEndpoint, error) { return endpoints, nil }, rules)

	endpoint, err := m.Resolve(context.Background(), "bib1", "uut1", 3)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB2", endpoint) // port 3 -> channel index 2
}

func TestResolveCachesPositiveResult(t *testing.T) {
	endpoints := quadGroup("/dev/ttyUSB")
	calls := 0
	rules := fakeRules{"bib1": {{UUTID: "uut1", ProductDescription: "quad uart"}}}
	m := mapper.New(func() ([]model.PhysicalEndpoint, error) {
		calls++
		return endpoints, nil
	}, rules)

	_, err := m.Resolve(context.Background(), "bib1", "uut1", 1)
	require.NoError(t, err)
	_, err = m.Resolve(context.Background(), "BIB1", "UUT1", 1) // case-insensitive coordinate
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "second resolve should hit the cache, not re-run discovery")
}

func TestResolveNoMatchingRuleIsResolutionFailed(t *testing.T) {
	rules := fakeRules{"bib1": {{UUTID: "other-uut", ProductDescription: "quad uart"}}}
	m := mapper.New(func() ([]model.PhysicalEndpoint, error) { return quadGroup("/dev/ttyUSB"), nil }, rules)

	_, err := m.Resolve(context.Background(), "bib1", "uut1", 1)
	require.Error(t, err)
}

func TestResolveChannelOutOfRange(t *testing.T) {
	rules := fakeRules{"bib1": {{UUTID: "uut1", ProductDescription: "quad uart"}}}
	m := mapper.New(func() ([]model.PhysicalEndpoint, error) { return quadGroup("/dev/ttyUSB"), nil }, rules)

	_, err := m.Resolve(context.Background(), "bib1", "uut1", 9)
	require.Error(t, err)
}

func TestResolveNegativeResultIsBackedOff(t *testing.T) {
	calls := 0
	rules := fakeRules{"bib1": {{UUTID: "uut1", ProductDescription: "does-not-exist"}}}
	m := mapper.New(func() ([]model.PhysicalEndpoint, error) {
		calls++
		return quadGroup("/dev/ttyUSB"), nil
	}, rules).WithNegativeBackoff(50 * time.Millisecond)

	_, err := m.Resolve(context.Background(), "bib1", "uut1", 1)
	require.Error(t, err)
	_, err = m.Resolve(context.Background(), "bib1", "uut1", 1)
	require.Error(t, err)
	assert.Equal(t, 1, calls, "a failed resolution must not re-run discovery within the back-off window")
}

func TestReverseLookup(t *testing.T) {
	rules := fakeRules{"bib1": {{UUTID: "uut1", ProductDescription: "quad uart"}}}
	m := mapper.New(func() ([]model.PhysicalEndpoint, error) { return quadGroup("/dev/ttyUSB"), nil }, rules)

	endpoint, err := m.Resolve(context.Background(), "bib1", "uut1", 1)
	require.NoError(t, err)

	coord, ok := m.ReverseLookup(endpoint)
	require.True(t, ok)
	assert.Equal(t, "uut1", coord.UUTID)
}
