package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bibfleet/fleet/pkg/apperr"
	"github.com/bibfleet/fleet/pkg/model"
	serial "github.com/bibfleet/fleet/internal/serialio"
)

func toSerialHandshake(h model.Handshake) serial.Handshake {
	switch h {
	case model.HandshakeRTSCTS:
		return serial.HandshakeRTSCTS
	case model.HandshakeXONXOFF:
		return serial.HandshakeXONXOFF
	default:
		return serial.HandshakeNone
	}
}

// openRS232 is the rs232 Handler, backed by internal/serialio's
// termios/ioctl Port (adapted from Daedaluz-goserial).
func openRS232(ctx context.Context, endpoint string, cfg model.PortConfiguration) (Session, error) {
	settings := serial.Settings{
		Speed:       cfg.Speed,
		DataPattern: cfg.DataPattern,
		Handshake:   toSerialHandshake(cfg.Handshake),
		ReadTimeout: cfg.ReadTimeout,
	}
	port, err := serial.OpenWithSettings(endpoint, settings)
	if err != nil {
		return nil, classifyOpenErr(err)
	}
	return &rs232Session{
		id:       uuid.NewString(),
		endpoint: endpoint,
		port:     port,
		state:    StateOpen,
		settle:   SettleDelay(cfg),
	}, nil
}

// classifyOpenErr wraps every open/termios/ioctl failure as
// SessionOpenFailed, keeping the underlying error as the cause; access
// denied, not found and misconfiguration are not told apart by kind.
func classifyOpenErr(err error) error {
	return apperr.Wrap(apperr.SessionOpenFailed, "open rs232 endpoint", err)
}

type rs232Session struct {
	mu       sync.Mutex
	id       string
	endpoint string
	port     *serial.Port
	state    State
	settle   time.Duration
}

func (s *rs232Session) ID() string       { return s.id }
func (s *rs232Session) Endpoint() string { return s.endpoint }
func (s *rs232Session) Protocol() string { return "rs232" }

func (s *rs232Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *rs232Session) Execute(ctx context.Context, cmd model.ProtocolCommand) model.CommandOutcome {
	started := time.Now()
	outcome := model.CommandOutcome{Command: cmd.Literal, StartedAt: started}

	s.mu.Lock()
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open {
		outcome.Err = apperr.New(apperr.CommandExecutionError, "session not open")
		outcome.Verdict = model.LevelExecutionError
		outcome.FinishedAt = time.Now()
		outcome.Duration = outcome.FinishedAt.Sub(started)
		return outcome
	}

	timeout := cmd.Timeout
	retries := cmd.Retries
	if retries < 0 {
		retries = 0
	}

	var resp []byte
	var execErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			execErr = ctx.Err()
			break
		}
		resp, execErr = s.roundTrip(cmd.Literal, timeout)
		if execErr == nil {
			break
		}
	}

	outcome.ResponseBytes = resp
	outcome.FinishedAt = time.Now()
	outcome.Duration = outcome.FinishedAt.Sub(started)

	if execErr != nil {
		outcome.Err = apperr.Wrap(apperr.CommandExecutionError, "execute "+cmd.Literal, execErr)
		outcome.Verdict = model.LevelExecutionError
		time.Sleep(s.settle)
		return outcome
	}

	outcome.Verdict = classify(resp, cmd)
	time.Sleep(s.settle)
	return outcome
}

func (s *rs232Session) roundTrip(command string, timeout time.Duration) ([]byte, error) {
	s.port.SetReadTimeout(timeout)
	if _, err := s.port.Write([]byte(command)); err != nil {
		return nil, err
	}
	buf := make([]byte, 4096)
	n, err := s.port.ReadTimeout(buf, timeout)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (s *rs232Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosing
	err := s.port.Close()
	s.state = StateClosed
	return err
}
