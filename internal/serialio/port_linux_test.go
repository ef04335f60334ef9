package serial_test

import (
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serial "github.com/bibfleet/fleet/internal/serialio"
)

// openPTYPort opens the slave half of a kernel PTY pair through
// OpenWithSettings, standing in for a real RS232 endpoint without
// physical hardware (DESIGN.md: creack/pty is the pack-wide stand-in for
// a serial device under test). The returned master is the far end a test
// writes to / reads from to simulate the other side of the wire.
func openPTYPort(t *testing.T, settings serial.Settings) (*serial.Port, *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close() })

	name := slave.Name()
	slave.Close()

	port, err := serial.OpenWithSettings(name, settings)
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })
	return port, master
}

func TestOpenWithSettingsRoundTripsOverPTY(t *testing.T) {
	settings := serial.Settings{Speed: 9600, DataPattern: "n81", ReadTimeout: time.Second}
	port, master := openPTYPort(t, settings)

	n, err := master.Write([]byte("PONG\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 64)
	n, err = port.ReadTimeout(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "PONG\n", string(buf[:n]))
}

func TestOpenWithSettingsWriteIsVisibleToMaster(t *testing.T) {
	settings := serial.Settings{Speed: 9600, DataPattern: "n81", ReadTimeout: time.Second}
	port, master := openPTYPort(t, settings)

	n, err := port.Write([]byte("PING"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 64)
	n, err = master.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "PING", string(buf[:n]))
}

func TestOpenWithSettingsRejectsInvalidDataPattern(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	defer master.Close()
	name := slave.Name()
	slave.Close()

	_, err = serial.OpenWithSettings(name, serial.Settings{Speed: 9600, DataPattern: "xyz"})
	assert.Error(t, err)
}

func TestOpenWithSettingsReadTimesOutWithoutData(t *testing.T) {
	port, _ := openPTYPort(t, serial.Settings{Speed: 9600, DataPattern: "n81", ReadTimeout: 50 * time.Millisecond})
	buf := make([]byte, 64)
	_, err := port.ReadTimeout(buf, 50*time.Millisecond)
	assert.Error(t, err)
}
