package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bibfleet/fleet/internal/serialio/spi"
	"github.com/bibfleet/fleet/pkg/apperr"
	"github.com/bibfleet/fleet/pkg/model"
)

// openSPI is a second, independently registrable Handler — it exists to
// demonstrate that the registry in spec.md §4.C is genuinely extensible
// beyond rs232, not to be reachable from any shipped BIB configuration.
func openSPI(ctx context.Context, endpoint string, cfg model.PortConfiguration) (Session, error) {
	dev, err := spi.Open(endpoint, &spi.Config{
		Mode:  0,
		Bits:  8,
		Speed: uint32(cfg.Speed),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.SessionOpenFailed, "open spi endpoint", err)
	}
	return &spiSession{id: uuid.NewString(), endpoint: endpoint, dev: dev, state: StateOpen, settle: SettleDelay(cfg)}, nil
}

type spiSession struct {
	mu       sync.Mutex
	id       string
	endpoint string
	dev      *spi.Device
	state    State
	settle   time.Duration
}

func (s *spiSession) ID() string       { return s.id }
func (s *spiSession) Endpoint() string { return s.endpoint }
func (s *spiSession) Protocol() string { return "spi" }

func (s *spiSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *spiSession) Execute(ctx context.Context, cmd model.ProtocolCommand) model.CommandOutcome {
	started := time.Now()
	outcome := model.CommandOutcome{Command: cmd.Literal, StartedAt: started}

	resp, err := s.dev.Tx([]byte(cmd.Literal))
	outcome.ResponseBytes = resp
	outcome.FinishedAt = time.Now()
	outcome.Duration = outcome.FinishedAt.Sub(started)

	if err != nil {
		outcome.Err = apperr.Wrap(apperr.CommandExecutionError, "spi transceive", err)
		outcome.Verdict = model.LevelExecutionError
		time.Sleep(s.settle)
		return outcome
	}

	outcome.Verdict = classify(resp, cmd)
	time.Sleep(s.settle)
	return outcome
}

func (s *spiSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosing
	err := s.dev.Close()
	s.state = StateClosed
	return err
}
