// Package discovery implements Component A from spec.md §4.A: producing
// the current set of PhysicalEndpoints, enriched with DeviceMetadata read
// from an EEPROM-style collaborator, grouped deterministically by
// physical chip.
package discovery

import (
	"sort"
	"strings"

	"github.com/bibfleet/fleet/pkg/model"
)

// Enumerator lists the OS-visible serial endpoints (spec.md §6's device
// enumeration collaborator).
type Enumerator interface {
	ListEndpoints() ([]string, error)
}

// MetadataReader reads EEPROM/product-description metadata for one
// endpoint. Errors are caught by Discover and recorded on that
// endpoint's metadata rather than aborting enumeration (spec.md §4.A).
type MetadataReader interface {
	ReadMetadata(endpoint string) (model.DeviceMetadata, error)
}

// Discovery produces the current endpoint set on demand.
type Discovery struct {
	enumerator Enumerator
	reader     MetadataReader
}

func New(enumerator Enumerator, reader MetadataReader) *Discovery {
	return &Discovery{enumerator: enumerator, reader: reader}
}

// Endpoints returns every currently enumerated PhysicalEndpoint, each
// enriched with DeviceMetadata (partial, with EnrichError set, if
// metadata reading failed for that one endpoint).
func (d *Discovery) Endpoints() ([]model.PhysicalEndpoint, error) {
	names, err := d.enumerator.ListEndpoints()
	if err != nil {
		return nil, err
	}
	endpoints := make([]model.PhysicalEndpoint, 0, len(names))
	for _, name := range names {
		meta, err := d.reader.ReadMetadata(name)
		if err != nil {
			meta.Partial = true
			meta.EnrichError = err
		}
		if meta.GroupKey == "" {
			meta.GroupKey = fallbackGroupKey(name, meta)
		}
		endpoints = append(endpoints, model.PhysicalEndpoint{Name: name, Metadata: meta})
	}
	return GroupAndAssignChannels(endpoints), nil
}

// fallbackGroupKey is used when enrichment did not set one explicitly:
// vendor+product+serial when all known, else the endpoint's base
// identifier with any trailing channel-index suffix stripped (spec.md
// §4.A: "for non-enriched devices use the base identifier with any
// channel suffix stripped").
func fallbackGroupKey(name string, meta model.DeviceMetadata) string {
	if meta.VendorID != "" && meta.ProductID != "" && meta.Serial != "" {
		return meta.VendorID + ":" + meta.ProductID + ":" + meta.Serial
	}
	return stripChannelSuffix(name)
}

// stripChannelSuffix removes a trailing digit run that usually encodes
// the channel/interface index of a multi-port adapter (e.g. ttyUSB3 ->
// ttyUSB for a device whose siblings are ttyUSB0..3 sharing one chip).
// The whole trailing digit run is removed, so ttyUSB1 and ttyUSB12 both
// map to ttyUSB; a name without trailing digits is returned unchanged.
func stripChannelSuffix(name string) string {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i == len(name) {
		return name
	}
	return name[:i]
}

// GroupAndAssignChannels partitions endpoints by GroupKey and assigns
// each a zero-based Channel index ordered by endpoint name within its
// group (spec.md §4.A: "sorted by channel index"). Grouping is
// deterministic and idempotent: calling it again on its own output
// reproduces the same partition and channel numbers.
func GroupAndAssignChannels(endpoints []model.PhysicalEndpoint) []model.PhysicalEndpoint {
	groups := map[string][]model.PhysicalEndpoint{}
	for _, ep := range endpoints {
		groups[ep.Metadata.GroupKey] = append(groups[ep.Metadata.GroupKey], ep)
	}

	out := make([]model.PhysicalEndpoint, 0, len(endpoints))
	for _, key := range sortedKeys(groups) {
		members := groups[key]
		sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
		for i := range members {
			members[i].Channel = i
		}
		out = append(out, members...)
	}
	return out
}

func sortedKeys(groups map[string][]model.PhysicalEndpoint) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Groups returns endpoints partitioned into DeviceGroups, one per chip.
func Groups(endpoints []model.PhysicalEndpoint) []model.DeviceGroup {
	assigned := GroupAndAssignChannels(endpoints)
	byKey := map[string]*model.DeviceGroup{}
	var order []string
	for _, ep := range assigned {
		g, ok := byKey[ep.Metadata.GroupKey]
		if !ok {
			g = &model.DeviceGroup{GroupKey: ep.Metadata.GroupKey, Metadata: ep.Metadata}
			byKey[ep.Metadata.GroupKey] = g
			order = append(order, ep.Metadata.GroupKey)
		}
		g.Endpoints = append(g.Endpoints, ep)
	}
	out := make([]model.DeviceGroup, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

// matchesRule reports whether meta satisfies rule, used by pkg/mapper
// when deciding which logical UUT a chip group represents.
func matchesRule(meta model.DeviceMetadata, rule model.MappingRule) bool {
	if rule.ProductDescription != "" {
		if rule.Exact {
			if !strings.EqualFold(meta.ProductDescription, rule.ProductDescription) {
				return false
			}
		} else if !strings.Contains(strings.ToLower(meta.ProductDescription), strings.ToLower(rule.ProductDescription)) {
			return false
		}
	}
	if rule.Manufacturer != "" && !strings.Contains(strings.ToLower(meta.Manufacturer), strings.ToLower(rule.Manufacturer)) {
		return false
	}
	if rule.Serial != "" && !strings.EqualFold(meta.Serial, rule.Serial) {
		return false
	}
	return true
}

// MatchesRule exports matchesRule for pkg/mapper.
func MatchesRule(meta model.DeviceMetadata, rule model.MappingRule) bool {
	return matchesRule(meta, rule)
}
