package discovery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibfleet/fleet/pkg/discovery"
	"github.com/bibfleet/fleet/pkg/discovery/discoverytest"
	"github.com/bibfleet/fleet/pkg/model"
)

func TestEndpointsGroupsByGroupKeyAndAssignsChannels(t *testing.T) {
	src := discoverytest.NewFakeSource()
	chip := model.DeviceMetadata{VendorID: "0403", ProductID: "6011", Serial: "AB123", GroupKey: "0403:6011:AB123"}
	src.AddEndpoint("/dev/ttyUSB3", chip)
	src.AddEndpoint("/dev/ttyUSB1", chip)
	src.AddEndpoint("/dev/ttyUSB2", chip)
	src.AddEndpoint("/dev/ttyUSB0", chip)

	d := discovery.New(src, src)
	endpoints, err := d.Endpoints()
	require.NoError(t, err)
	require.Len(t, endpoints, 4)

	byName := map[string]int{}
	for _, ep := range endpoints {
		byName[ep.Name] = ep.Channel
	}
	assert.Equal(t, 0, byName["/dev/ttyUSB0"])
	assert.Equal(t, 1, byName["/dev/ttyUSB1"])
	assert.Equal(t, 2, byName["/dev/ttyUSB2"])
	assert.Equal(t, 3, byName["/dev/ttyUSB3"])
}

func TestGroupingIsIdempotent(t *testing.T) {
	src := discoverytest.NewFakeSource()
	chipA := model.DeviceMetadata{GroupKey: "chipA"}
	chipB := model.DeviceMetadata{GroupKey: "chipB"}
	src.AddEndpoint("/dev/ttyUSB0", chipA)
	src.AddEndpoint("/dev/ttyUSB1", chipA)
	src.AddEndpoint("/dev/ttyACM0", chipB)

	d := discovery.New(src, src)
	first, err := d.Endpoints()
	require.NoError(t, err)

	second := discovery.GroupAndAssignChannels(first)
	assert.Equal(t, first, second)
}

func TestMetadataErrorMarksPartialWithoutAbortingEnumeration(t *testing.T) {
	src := discoverytest.NewFakeSource()
	src.AddEndpoint("/dev/ttyUSB0", model.DeviceMetadata{GroupKey: "ok"})
	src.AddEndpoint("/dev/ttyUSB1", model.DeviceMetadata{})
	src.FailMetadata("/dev/ttyUSB1", assertErr("enrichment failed"))

	d := discovery.New(src, src)
	endpoints, err := d.Endpoints()
	require.NoError(t, err)
	require.Len(t, endpoints, 2)

	var found bool
	for _, ep := range endpoints {
		if ep.Name == "/dev/ttyUSB1" {
			found = true
			assert.True(t, ep.Metadata.Partial)
			assert.Error(t, ep.Metadata.EnrichError)
		}
	}
	assert.True(t, found)
}

func TestFallbackGroupKeyStripsChannelSuffix(t *testing.T) {
	src := discoverytest.NewFakeSource()
	src.AddEndpoint("/dev/ttyUSB0", model.DeviceMetadata{})
	src.AddEndpoint("/dev/ttyUSB1", model.DeviceMetadata{})

	d := discovery.New(src, src)
	endpoints, err := d.Endpoints()
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.Equal(t, endpoints[0].Metadata.GroupKey, endpoints[1].Metadata.GroupKey)
}

func TestMatchesRuleSubstringVsExact(t *testing.T) {
	meta := model.DeviceMetadata{ProductDescription: "Demo Quad Bridge", Manufacturer: "Acme Corp", Serial: "XYZ"}

	assert.True(t, discovery.MatchesRule(meta, model.MappingRule{ProductDescription: "quad bridge"}))
	assert.False(t, discovery.MatchesRule(meta, model.MappingRule{ProductDescription: "quad bridge", Exact: true}))
	assert.True(t, discovery.MatchesRule(meta, model.MappingRule{ProductDescription: "Demo Quad Bridge", Exact: true}))
	assert.False(t, discovery.MatchesRule(meta, model.MappingRule{Serial: "other"}))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
