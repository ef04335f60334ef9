package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibfleet/fleet/pkg/discovery"
	"github.com/bibfleet/fleet/pkg/discovery/discoverytest"
	"github.com/bibfleet/fleet/pkg/hwsignal"
	"github.com/bibfleet/fleet/pkg/logging"
	"github.com/bibfleet/fleet/pkg/mapper"
	"github.com/bibfleet/fleet/pkg/model"
	"github.com/bibfleet/fleet/pkg/orchestrator"
	"github.com/bibfleet/fleet/pkg/pool"
	"github.com/bibfleet/fleet/pkg/transport"
	"github.com/bibfleet/fleet/pkg/transport/transporttest"
	"github.com/bibfleet/fleet/pkg/validate"
)

type fakeConfig struct {
	bibs map[string]model.BibConfiguration
}

func (f *fakeConfig) LoadBib(bibID string) (model.BibConfiguration, bool) {
	b, ok := f.bibs[bibID]
	return b, ok
}

func (f *fakeConfig) ListConfiguredBibs() ([]string, error) {
	ids := make([]string, 0, len(f.bibs))
	for id := range f.bibs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeConfig) MappingRules(bibID string) ([]model.MappingRule, bool) {
	b, ok := f.bibs[bibID]
	if !ok {
		return nil, false
	}
	return b.MappingRules, true
}

// demoFixture builds the S1-style single-chip, single-UUT fixture shared
// by several scenarios: one chip group "demo-chip" with four channels,
// BIB "demo" mapping UUT "u1" to it via product description.
func demoFixture(t *testing.T, portConfig model.PortConfiguration) (*orchestrator.Orchestrator, *transporttest.Handler) {
	t.Helper()
	src := discoverytest.NewFakeSource()
	meta := model.DeviceMetadata{ProductDescription: "Demo Quad Bridge", GroupKey: "demo-chip"}
	src.AddEndpoint("ENDPOINT_A", meta)
	disc := discovery.New(src, src)

	cfg := &fakeConfig{bibs: map[string]model.BibConfiguration{
		"demo": {
			BibID: "demo",
			UUTs: map[string]model.UUTConfiguration{
				"u1": {UUTID: "u1", Ports: map[int]model.PortConfiguration{1: portConfig}},
			},
			MappingRules: []model.MappingRule{{UUTID: "u1", ProductDescription: "demo quad bridge"}},
		},
	}}

	p := pool.New(disc.Endpoints)
	m := mapper.New(disc.Endpoints, cfg)
	handler := transporttest.NewHandler()
	registry := transport.NewRegistry()
	registry.Register("rs232", handler)

	orch := orchestrator.New(cfg, m, p, registry, hwsignal.NoOp{}, logging.Nop(), validate.PortPolicy{}).
		WithTiming(orchestrator.Timing{InterCommandSettle: time.Millisecond, InterPortSettle: time.Millisecond, InterUUTSettle: time.Millisecond, InterBibSettle: time.Millisecond})

	return orch, handler
}

func primary(text string) *model.Pattern { return &model.Pattern{Text: text} }

func S1Config() model.PortConfiguration {
	return model.PortConfiguration{
		Protocol: "rs232",
		Speed:    9600,
		DataPattern: "n81",
		Start: model.CommandSequence{Commands: []model.ProtocolCommand{{Literal: "INIT\r", Primary: primary("READY")}}},
		Test:  model.CommandSequence{Commands: []model.ProtocolCommand{{Literal: "PING\r", Primary: primary("PONG")}}},
		Stop:  model.CommandSequence{Commands: []model.ProtocolCommand{{Literal: "QUIT\r", Primary: primary("BYE")}}},
	}
}

func TestS1HappyPath(t *testing.T) {
	orch, handler := demoFixture(t, S1Config())
	handler.Responses["ENDPOINT_A"] = transporttest.Script{
		"INIT\r": []byte("READY"),
		"PING\r": []byte("PONG"),
		"QUIT\r": []byte("BYE"),
	}

	outcome := orch.RunSingle(context.Background(), model.Coordinate{BibID: "demo", UUTID: "u1", Port: 1}, "client-a")

	assert.Equal(t, "ENDPOINT_A", outcome.Endpoint)
	assert.True(t, outcome.Start.IsSuccess())
	assert.True(t, outcome.Test.IsSuccess())
	assert.True(t, outcome.Stop.IsSuccess())
	assert.True(t, outcome.Success)
	assert.NotEmpty(t, outcome.LeaseID)
}

func TestS2TestFails(t *testing.T) {
	orch, handler := demoFixture(t, S1Config())
	handler.Responses["ENDPOINT_A"] = transporttest.Script{
		"INIT\r": []byte("READY"),
		"PING\r": []byte("ERR"),
		"QUIT\r": []byte("BYE"),
	}

	outcome := orch.RunSingle(context.Background(), model.Coordinate{BibID: "demo", UUTID: "u1", Port: 1}, "client-a")

	assert.True(t, outcome.Start.IsSuccess())
	assert.False(t, outcome.Test.IsSuccess())
	assert.True(t, outcome.Stop.IsSuccess(), "STOP must still run after TEST failure")
	assert.False(t, outcome.Success)
}

func TestContinueOnFailureIsSequenceWideOR(t *testing.T) {
	cfg := S1Config()
	cfg.Test = model.CommandSequence{Commands: []model.ProtocolCommand{
		{Literal: "STEP1\r", Primary: primary("OK1")},
		{Literal: "STEP2\r", Primary: primary("OK2"), ContinueOnFailure: true},
		{Literal: "STEP3\r", Primary: primary("OK3")},
	}}
	orch, handler := demoFixture(t, cfg)
	handler.Responses["ENDPOINT_A"] = transporttest.Script{
		"INIT\r":  []byte("READY"),
		"STEP1\r": []byte("NOT_OK1"),
		"STEP2\r": []byte("NOT_OK2"),
		"STEP3\r": []byte("OK3"),
		"QUIT\r":  []byte("BYE"),
	}

	outcome := orch.RunSingle(context.Background(), model.Coordinate{BibID: "demo", UUTID: "u1", Port: 1}, "client-a")

	// STEP1 fails without its own continue_on_failure flag, but STEP2 later
	// in the sequence sets it, so the sequence-wide OR keeps the phase
	// running through STEP3 rather than halting right after STEP1.
	require.Len(t, outcome.Test.Outcomes, 3)
	assert.Equal(t, "STEP3\r", outcome.Test.Outcomes[2].Command)
	assert.False(t, outcome.Test.IsSuccess())
}

func TestS3CriticalHaltsSequence(t *testing.T) {
	cfg := S1Config()
	cfg.Test = model.CommandSequence{Commands: []model.ProtocolCommand{
		{Literal: "PING\r", Primary: primary("PONG"), Levels: &model.PatternSet{
			Critical:                 &model.Pattern{Text: "FATAL"},
			CriticalTriggersHardware: true,
		}},
	}}
	orch, handler := demoFixture(t, cfg)
	handler.Responses["ENDPOINT_A"] = transporttest.Script{
		"INIT\r": []byte("READY"),
		"PING\r": []byte("FATAL"),
		"QUIT\r": []byte("BYE"),
	}

	outcome := orch.RunSingle(context.Background(), model.Coordinate{BibID: "demo", UUTID: "u1", Port: 1}, "client-a")

	require.Len(t, outcome.Test.Outcomes, 1)
	assert.Equal(t, model.LevelCritical, outcome.Test.Outcomes[0].Verdict)
	assert.True(t, outcome.Stop.IsSuccess(), "STOP must still run after CRITICAL")
	assert.False(t, outcome.Success)
}

func TestS4AutoPortStopsAtFirstSuccess(t *testing.T) {
	src := discoverytest.NewFakeSource()
	meta := model.DeviceMetadata{ProductDescription: "Demo Quad Bridge", GroupKey: "demo-chip"}
	for _, name := range []string{"EP0", "EP1", "EP2"} {
		src.AddEndpoint(name, meta)
	}
	disc := discovery.New(src, src)

	portCfg := func(testResp string) model.PortConfiguration {
		c := S1Config()
		c.Test = model.CommandSequence{Commands: []model.ProtocolCommand{{Literal: "PING\r", Primary: primary("PONG")}}}
		_ = testResp
		return c
	}

	cfg := &fakeConfig{bibs: map[string]model.BibConfiguration{
		"demo": {
			BibID: "demo",
			UUTs: map[string]model.UUTConfiguration{
				"u1": {UUTID: "u1", Ports: map[int]model.PortConfiguration{
					1: portCfg(""), 2: portCfg(""), 3: portCfg(""),
				}},
			},
			MappingRules: []model.MappingRule{{UUTID: "u1", ProductDescription: "demo quad bridge"}},
		},
	}}

	p := pool.New(disc.Endpoints)
	m := mapper.New(disc.Endpoints, cfg)
	handler := transporttest.NewHandler()
	handler.Responses["EP0"] = transporttest.Script{"INIT\r": []byte("READY"), "PING\r": []byte("ERR"), "QUIT\r": []byte("BYE")}
	handler.Responses["EP1"] = transporttest.Script{"INIT\r": []byte("READY"), "PING\r": []byte("ERR"), "QUIT\r": []byte("BYE")}
	handler.Responses["EP2"] = transporttest.Script{"INIT\r": []byte("READY"), "PING\r": []byte("PONG"), "QUIT\r": []byte("BYE")}
	registry := transport.NewRegistry()
	registry.Register("rs232", handler)

	orch := orchestrator.New(cfg, m, p, registry, hwsignal.NoOp{}, logging.Nop(), validate.PortPolicy{}).
		WithTiming(orchestrator.Timing{InterCommandSettle: time.Millisecond, InterPortSettle: time.Millisecond, InterUUTSettle: time.Millisecond, InterBibSettle: time.Millisecond})

	outcome := orch.RunAutoPort(context.Background(), "demo", "u1", "client-a")

	assert.True(t, outcome.Success)
	assert.Equal(t, 3, outcome.Coordinate.Port)
	assert.Equal(t, 0, p.ActiveCount(), "failed ports must have released their leases")
}

func TestS6MultiBibMissingConfig(t *testing.T) {
	orch, handler := demoFixture(t, S1Config())
	handler.Responses["ENDPOINT_A"] = transporttest.Script{
		"INIT\r": []byte("READY"),
		"PING\r": []byte("PONG"),
		"QUIT\r": []byte("BYE"),
	}

	agg := orch.RunMultiBib(context.Background(), []string{"demo", "missing-bib"}, "client-a")

	assert.Equal(t, 2, agg.TotalBibsExecuted)
	assert.Equal(t, 1, agg.SuccessfulBibs)

	var sawMissing bool
	for _, w := range agg.Workflows {
		if w.Coordinate.BibID == "missing-bib" {
			sawMissing = true
			assert.Contains(t, w.Error, "configuration_missing")
		}
	}
	assert.True(t, sawMissing)
}

func TestRunSingleFixedSkipsResolution(t *testing.T) {
	orch, handler := demoFixture(t, S1Config())
	handler.Responses["ENDPOINT_A"] = transporttest.Script{
		"INIT\r": []byte("READY"),
		"PING\r": []byte("PONG"),
		"QUIT\r": []byte("BYE"),
	}

	outcome := orch.RunSingleFixed(context.Background(), model.Coordinate{BibID: "demo", UUTID: "u1", Port: 1}, "ENDPOINT_A", "client-a")

	assert.True(t, outcome.Success)
	assert.Empty(t, outcome.LeaseID, "fixed-port variant does not reserve its own lease")
}

func TestRunPhaseProductionMode(t *testing.T) {
	orch, handler := demoFixture(t, S1Config())
	handler.Responses["ENDPOINT_A"] = transporttest.Script{
		"PING\r": []byte("PONG"),
	}

	out := orch.RunPhase(context.Background(), model.Coordinate{BibID: "demo", UUTID: "u1", Port: 1}, "test", "client-a")
	assert.True(t, out.IsSuccess())
}
