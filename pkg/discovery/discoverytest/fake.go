// Package discoverytest provides an in-memory discovery.Enumerator and
// discovery.MetadataReader for tests, and for hosts that want to simulate
// a fixture farm without physical hardware.
package discoverytest

import (
	"sync"

	"github.com/bibfleet/fleet/pkg/model"
)

// FakeSource is both an Enumerator and a MetadataReader over a
// caller-populated endpoint list.
type FakeSource struct {
	mu        sync.Mutex
	endpoints map[string]model.DeviceMetadata
	order     []string
	readErr   map[string]error
}

func NewFakeSource() *FakeSource {
	return &FakeSource{endpoints: map[string]model.DeviceMetadata{}, readErr: map[string]error{}}
}

// AddEndpoint registers one endpoint with its metadata.
func (f *FakeSource) AddEndpoint(name string, meta model.DeviceMetadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.endpoints[name]; !exists {
		f.order = append(f.order, name)
	}
	f.endpoints[name] = meta
}

// FailMetadata makes ReadMetadata return err for name.
func (f *FakeSource) FailMetadata(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr[name] = err
}

// RemoveEndpoint simulates unplugging a device.
func (f *FakeSource) RemoveEndpoint(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.endpoints, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

func (f *FakeSource) ListEndpoints() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out, nil
}

func (f *FakeSource) ReadMetadata(endpoint string) (model.DeviceMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.readErr[endpoint]; ok {
		return model.DeviceMetadata{}, err
	}
	return f.endpoints[endpoint], nil
}
