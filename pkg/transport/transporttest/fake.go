// Package transporttest provides a scripted transport.Handler for tests
// that exercise the orchestrator and transport registry without a real
// serial endpoint.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bibfleet/fleet/pkg/model"
	"github.com/bibfleet/fleet/pkg/transport"
	"github.com/bibfleet/fleet/pkg/validate"
)

// Script maps a literal command to the raw response the fake endpoint
// should return.
type Script map[string][]byte

// Handler is a transport.Handler returning scripted Sessions keyed by
// endpoint name. OpenErr, when set for an endpoint, is returned instead.
type Handler struct {
	mu        sync.Mutex
	Responses map[string]Script // endpoint -> command -> response
	OpenErr   map[string]error
	Opened    []string // endpoints opened, in order, for assertions
}

func NewHandler() *Handler {
	return &Handler{Responses: map[string]Script{}, OpenErr: map[string]error{}}
}

func (h *Handler) Open(ctx context.Context, endpoint string, cfg model.PortConfiguration) (transport.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Opened = append(h.Opened, endpoint)
	if err, ok := h.OpenErr[endpoint]; ok {
		return nil, err
	}
	return &session{id: uuid.NewString(), endpoint: endpoint, script: h.Responses[endpoint], settle: transport.SettleDelay(cfg)}, nil
}

type session struct {
	mu       sync.Mutex
	id       string
	endpoint string
	script   Script
	state    transport.State
	closed   bool
	settle   time.Duration
}

func (s *session) ID() string            { return s.id }
func (s *session) Endpoint() string      { return s.endpoint }
func (s *session) Protocol() string      { return "fake" }
func (s *session) State() transport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) Execute(ctx context.Context, cmd model.ProtocolCommand) model.CommandOutcome {
	started := time.Now()
	resp := s.script[cmd.Literal]
	outcome := model.CommandOutcome{
		Command:       cmd.Literal,
		ResponseBytes: resp,
		StartedAt:     started,
		FinishedAt:    time.Now(),
	}
	outcome.Verdict = validate.ClassifyResponse(resp, cmd.Primary, cmd.Levels)
	time.Sleep(s.settle)
	return outcome
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.state = transport.StateClosed
	return nil
}
