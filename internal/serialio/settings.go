package serial

import (
	"fmt"
	"strings"
	"time"
)

// Handshake selects flow control when configuring a Port for line
// discipline use (as opposed to raw ioctl/termios access).
type Handshake int

const (
	HandshakeNone Handshake = iota
	HandshakeRTSCTS
	HandshakeXONXOFF
)

// Settings is the subset of PortConfiguration relevant to opening and
// configuring a termios-backed serial line, translated by the caller from
// the domain model so this package stays free of any dependency on it.
type Settings struct {
	Speed       int // bit/s
	DataPattern string // e.g. "n81" = no parity, 8 data bits, 1 stop bit
	Handshake   Handshake
	ReadTimeout time.Duration // <0 disables the read timeout
}

// standardSpeeds mirrors the CBAUD table in port_linux.go; custom speeds
// fall back to Termios2.SetCustomSpeed (BOTHER).
var standardSpeeds = map[int]CFlag{
	50: B50, 75: B75, 110: B110, 134: B134, 150: B150, 200: B200,
	300: B300, 600: B600, 1200: B1200, 1800: B1800, 2400: B2400,
	4800: B4800, 9600: B9600, 19200: B19200, 38400: B38400,
	57600: B57600, 115200: B115200, 230400: B230400, 460800: B460800,
	500000: B500000, 576000: B576000, 921600: B921600, 1000000: B1000000,
	1152000: B1152000, 1500000: B1500000, 2000000: B2000000,
	2500000: B2500000, 3000000: B3000000, 3500000: B3500000, 4000000: B4000000,
}

// parseDataPattern turns "n81"-style strings into a CFlag character-size /
// parity / stop-bit mask.
func parseDataPattern(pattern string) (CFlag, error) {
	if len(pattern) != 3 {
		return 0, fmt.Errorf("serial: invalid data pattern %q", pattern)
	}
	var cflag CFlag
	switch pattern[0] {
	case 'n', 'N':
	case 'e', 'E':
		cflag |= PARENB
	case 'o', 'O':
		cflag |= PARENB | PARODD
	default:
		return 0, fmt.Errorf("serial: invalid parity %q", pattern[0:1])
	}
	switch pattern[1] {
	case '5':
		cflag |= CS5
	case '6':
		cflag |= CS6
	case '7':
		cflag |= CS7
	case '8':
		cflag |= CS8
	default:
		return 0, fmt.Errorf("serial: invalid data bits %q", pattern[1:2])
	}
	switch pattern[2] {
	case '1':
	case '2':
		cflag |= CSTOPB
	default:
		return 0, fmt.Errorf("serial: invalid stop bits %q", pattern[2:3])
	}
	return cflag, nil
}

// OpenWithSettings opens name in raw mode and applies Settings via
// termios, using Termios2/BOTHER for speeds outside the fixed CBAUD table.
func OpenWithSettings(name string, settings Settings) (*Port, error) {
	opts := NewOptions()
	if settings.ReadTimeout >= 0 {
		opts.SetReadTimeout(settings.ReadTimeout)
	}
	port, err := Open(name, opts)
	if err != nil {
		return nil, err
	}

	dataFlags, err := parseDataPattern(strings.ToLower(settings.DataPattern))
	if err != nil {
		port.Close()
		return nil, err
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return nil, err
	}
	attrs.MakeRaw()
	attrs.Cflag &= ^(CSIZE | PARENB | PARODD | CSTOPB)
	attrs.Cflag |= dataFlags
	attrs.Cflag |= CREAD | CLOCAL

	switch settings.Handshake {
	case HandshakeRTSCTS:
		attrs.Cflag |= CRTSCTS
	case HandshakeXONXOFF:
		attrs.Iflag |= IXON | IXOFF
	}

	if speed, ok := standardSpeeds[settings.Speed]; ok {
		attrs.SetSpeed(speed)
	} else {
		attrs.SetCustomSpeed(uint32(settings.Speed))
	}

	if err := port.SetAttr2(TCSANOW, attrs); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}
