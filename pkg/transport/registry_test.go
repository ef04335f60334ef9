package transport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibfleet/fleet/pkg/apperr"
	"github.com/bibfleet/fleet/pkg/model"
	"github.com/bibfleet/fleet/pkg/transport"
	"github.com/bibfleet/fleet/pkg/transport/transporttest"
)

func TestRegistryOpenDispatchesByLowerCasedProtocol(t *testing.T) {
	fake := transporttest.NewHandler()
	r := transport.NewRegistry()
	r.Register("RS232", fake)

	sess, err := r.Open(context.Background(), "/dev/ttyUSB0", model.PortConfiguration{Protocol: "rs232"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", sess.Endpoint())
	assert.Equal(t, []string{"/dev/ttyUSB0"}, fake.Opened)
}

func TestRegistryOpenUnsupportedProtocolIsReportedAtOpenTime(t *testing.T) {
	r := transport.NewRegistry()
	_, err := r.Open(context.Background(), "/dev/ttyUSB0", model.PortConfiguration{Protocol: "modbus"})
	require.Error(t, err)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperr.UnsupportedProtocol, kind)
}

func TestRegistryOpenWrapsHandlerErrorAsSessionOpenFailed(t *testing.T) {
	fake := transporttest.NewHandler()
	fake.OpenErr["/dev/ttyUSB0"] = assertErr("no such device")
	r := transport.NewRegistry()
	r.Register("rs232", fake)

	_, err := r.Open(context.Background(), "/dev/ttyUSB0", model.PortConfiguration{Protocol: "rs232"})
	require.Error(t, err)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperr.SessionOpenFailed, kind)
}

func TestDefaultRegistryHasRS232AndSPI(t *testing.T) {
	_, err := transport.DefaultRegistry.Open(context.Background(), "/dev/ttyUSB0", model.PortConfiguration{Protocol: "unknownproto"})
	require.Error(t, err)
	kind, _ := apperr.KindOf(err)
	assert.Equal(t, apperr.UnsupportedProtocol, kind)

	// A registered protocol reaches its handler, which fails to open a
	// path that does not exist: SessionOpenFailed, not UnsupportedProtocol.
	for _, proto := range []string{"rs232", "spi"} {
		_, err := transport.DefaultRegistry.Open(context.Background(), "/nonexistent/fleet-endpoint", model.PortConfiguration{Protocol: proto, Speed: 9600, DataPattern: "n81"})
		require.Error(t, err)
		kind, _ := apperr.KindOf(err)
		assert.Equal(t, apperr.SessionOpenFailed, kind, proto)
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
