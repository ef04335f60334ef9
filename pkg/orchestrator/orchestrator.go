// Package orchestrator implements Component H from spec.md §4.H: the
// state machine that sequences resolve -> reserve -> open -> (START/TEST/
// STOP) -> close -> release for one coordinate, and composes that
// primitive into per-UUT, per-BIB, and multi-BIB runs.
package orchestrator

import (
	"context"
	"time"

	"github.com/bibfleet/fleet/pkg/apperr"
	"github.com/bibfleet/fleet/pkg/hwsignal"
	"github.com/bibfleet/fleet/pkg/logging"
	"github.com/bibfleet/fleet/pkg/mapper"
	"github.com/bibfleet/fleet/pkg/model"
	"github.com/bibfleet/fleet/pkg/pool"
	"github.com/bibfleet/fleet/pkg/transport"
	"github.com/bibfleet/fleet/pkg/validate"
)

// State is the per-run state machine from spec.md §4.H.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateReserving
	StateOpening
	StateStarting
	StateTesting
	StateStopping
	StateCleanup
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateReserving:
		return "reserving"
	case StateOpening:
		return "opening"
	case StateStarting:
		return "starting"
	case StateTesting:
		return "testing"
	case StateStopping:
		return "stopping"
	case StateCleanup:
		return "cleanup"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Timing holds the inter-step settle delays. All four are configurable,
// with spec.md §4.H's minimums as defaults.
type Timing struct {
	InterCommandSettle time.Duration
	InterPortSettle    time.Duration
	InterUUTSettle     time.Duration
	InterBibSettle     time.Duration
}

// DefaultTiming returns the spec's stated minimums.
func DefaultTiming() Timing {
	return Timing{
		InterCommandSettle: 100 * time.Millisecond,
		InterPortSettle:    500 * time.Millisecond,
		InterUUTSettle:     1000 * time.Millisecond,
		InterBibSettle:     2000 * time.Millisecond,
	}
}

// ConfigSource supplies loaded BibConfigurations (spec.md §6's
// configuration collaborator).
type ConfigSource interface {
	LoadBib(bibID string) (model.BibConfiguration, bool)
	ListConfiguredBibs() ([]string, error)
}

// Orchestrator wires together the Mapper, Pool, transport Registry,
// Signaler and ConfigSource into the public operations of spec.md §4.H.
type Orchestrator struct {
	config   ConfigSource
	mapper   *mapper.Mapper
	pool     *pool.Pool
	registry *transport.Registry
	signal   hwsignal.Signaler
	log      *logging.Logger
	policy   validate.PortPolicy
	timing   Timing
}

// New builds an Orchestrator. signal and log may be hwsignal.NoOp{} and
// logging.Nop() respectively.
func New(config ConfigSource, m *mapper.Mapper, p *pool.Pool, registry *transport.Registry, signal hwsignal.Signaler, log *logging.Logger, policy validate.PortPolicy) *Orchestrator {
	return &Orchestrator{
		config:   config,
		mapper:   m,
		pool:     p,
		registry: registry,
		signal:   signal,
		log:      log,
		policy:   policy,
		timing:   DefaultTiming(),
	}
}

// WithTiming overrides the default settle delays.
func (o *Orchestrator) WithTiming(t Timing) *Orchestrator {
	o.timing = t
	return o
}

func (o *Orchestrator) portConfig(bibID, uutID string, port int) (model.PortConfiguration, error) {
	bib, ok := o.config.LoadBib(bibID)
	if !ok {
		return model.PortConfiguration{}, apperr.New(apperr.ConfigurationMissing, "bib "+bibID+" not configured")
	}
	uut, ok := bib.UUTs[uutID]
	if !ok {
		return model.PortConfiguration{}, apperr.New(apperr.ConfigurationMissing, "uut "+uutID+" not configured on bib "+bibID)
	}
	cfg, ok := uut.Ports[port]
	if !ok {
		return model.PortConfiguration{}, apperr.New(apperr.ConfigurationMissing, "port not configured")
	}
	cfg.InterCommandSettle = o.timing.InterCommandSettle
	return cfg, nil
}

// RunSingle implements spec.md §4.H's single-coordinate algorithm:
// load config, resolve, reserve, open, run START/TEST/STOP, cleanup.
func (o *Orchestrator) RunSingle(ctx context.Context, coord model.Coordinate, clientID string) model.WorkflowOutcome {
	started := time.Now()
	outcome := model.WorkflowOutcome{Coordinate: coord, StartedAt: started}

	cfg, err := o.portConfig(coord.BibID, coord.UUTID, coord.Port)
	if err != nil {
		outcome.Error = err.Error()
		outcome.FinishedAt = time.Now()
		return outcome
	}

	if ctx.Err() != nil {
		outcome.Error = apperr.Wrap(apperr.Cancelled, "resolving", ctx.Err()).Error()
		outcome.Cancelled = true
		outcome.FinishedAt = time.Now()
		return outcome
	}
	endpoint, err := o.mapper.Resolve(ctx, coord.BibID, coord.UUTID, coord.Port)
	o.log.Resolution(coord.BibID, coord.UUTID, coord.Port, endpoint, err)
	if err != nil {
		outcome.Error = err.Error()
		outcome.FinishedAt = time.Now()
		return outcome
	}
	outcome.Endpoint = endpoint

	return o.runAt(ctx, coord, endpoint, clientID, cfg, outcome, true)
}

// RunSingleFixed implements the "fixed-port" variant: the caller has
// already resolved and leased endpoint, so steps 2-3 are skipped. The
// orchestrator opens one Session of its own on endpoint, runs START, TEST
// and STOP on that same Session, and closes it; it does not open a
// separate Session per phase.
func (o *Orchestrator) RunSingleFixed(ctx context.Context, coord model.Coordinate, endpoint, clientID string) model.WorkflowOutcome {
	started := time.Now()
	outcome := model.WorkflowOutcome{Coordinate: coord, Endpoint: endpoint, StartedAt: started}

	cfg, err := o.portConfig(coord.BibID, coord.UUTID, coord.Port)
	if err != nil {
		outcome.Error = err.Error()
		outcome.FinishedAt = time.Now()
		return outcome
	}
	return o.runAt(ctx, coord, endpoint, clientID, cfg, outcome, false)
}

// runAt performs reserve(optional)/open/start/test/stop/cleanup against a
// known endpoint.
func (o *Orchestrator) runAt(ctx context.Context, coord model.Coordinate, endpoint, clientID string, cfg model.PortConfiguration, outcome model.WorkflowOutcome, reserve bool) model.WorkflowOutcome {
	var lease *pool.Lease
	if reserve {
		if ctx.Err() != nil {
			outcome.Error = apperr.Wrap(apperr.Cancelled, "reserving", ctx.Err()).Error()
			outcome.Cancelled = true
			outcome.FinishedAt = time.Now()
			return outcome
		}
		l, ok := o.pool.AcquireSpecific(ctx, endpoint, o.policy, clientID)
		if !ok {
			outcome.Error = apperr.New(apperr.ReservationFailed, "endpoint not available: "+endpoint).Error()
			outcome.FinishedAt = time.Now()
			return outcome
		}
		lease = l
		outcome.LeaseID = lease.ID
		o.log.LeaseEvent("acquired", lease.ID, endpoint, clientID)
	}

	o.log.WorkflowStart(endpoint)
	_ = o.signal.SetWorkflowActive(true)

	sess, err := o.registry.Open(ctx, endpoint, cfg)
	var sessionOpen bool
	if err != nil {
		outcome.Error = err.Error()
	} else {
		sessionOpen = true
	}

	if sessionOpen {
		startOutcome, startCancelled := o.runPhaseSequence(ctx, sess, "start", cfg.Start)
		outcome.Start = startOutcome

		var testOutcome model.PhaseOutcome
		var testCancelled bool
		if startOutcome.IsSuccess() {
			testOutcome, testCancelled = o.runPhaseSequence(ctx, sess, "test", cfg.Test)
			outcome.Test = testOutcome
		}

		stopOutcome, stopCancelled := o.runPhaseSequence(ctx, sess, "stop", cfg.Stop)
		outcome.Stop = stopOutcome

		outcome.Cancelled = startCancelled || testCancelled || stopCancelled
	}

	// Cleanup always runs: close Session (best effort), release Lease
	// (best effort), lower the workflow-active indicator.
	if sessionOpen {
		if cerr := sess.Close(); cerr != nil {
			o.log.Warn("session close failed", cerr)
		}
	}
	if lease != nil {
		if !o.pool.Release(lease.ID, clientID) {
			o.log.Warn("lease release failed", apperr.New(apperr.CleanupWarning, lease.ID))
		} else {
			o.log.LeaseEvent("released", lease.ID, endpoint, clientID)
		}
	}
	_ = o.signal.SetWorkflowActive(false)

	outcome.Success = outcome.Start.IsSuccess() && outcome.Test.IsSuccess()
	outcome.FinishedAt = time.Now()
	o.log.WorkflowEnd(endpoint, outcome.Success, outcome.Duration())
	return outcome
}

// runPhaseSequence runs every command in seq against sess in order,
// stopping early on CRITICAL, on a non-continuing FAIL/EXECUTION_ERROR,
// or on cancellation, per spec.md §4.D.
func (o *Orchestrator) runPhaseSequence(ctx context.Context, sess transport.Session, phase string, seq model.CommandSequence) (model.PhaseOutcome, bool) {
	started := time.Now()
	o.log.PhaseStart(phase)
	var phaseOutcome model.PhaseOutcome
	cancelled := false
	continueOnFailure := seq.ContinueOnFailure()

	for _, cmd := range seq.Commands {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		outcome := sess.Execute(ctx, cmd)
		phaseOutcome.Outcomes = append(phaseOutcome.Outcomes, outcome)
		o.log.Command(phase, cmd.Literal, string(outcome.Verdict), outcome.Duration)

		if outcome.Verdict == model.LevelCritical && cmd.Levels != nil && cmd.Levels.CriticalTriggersHardware {
			_ = o.signal.SetCriticalFail(true)
		}

		if outcome.Verdict == model.LevelCritical {
			break
		}
		if !outcome.Verdict.IsSuccessOutcome() && !continueOnFailure {
			break
		}
	}

	o.log.PhaseEnd(phase, phaseOutcome.IsSuccess(), time.Since(started))
	return phaseOutcome, cancelled
}

// RunPhase is the "production mode" variant: full resolve/reserve/open/
// close/release around only one phase, so external loops can repeat TEST
// alone while still benefiting from disciplined resource management.
func (o *Orchestrator) RunPhase(ctx context.Context, coord model.Coordinate, phase string, clientID string) model.PhaseOutcome {
	cfg, err := o.portConfig(coord.BibID, coord.UUTID, coord.Port)
	if err != nil {
		return model.PhaseOutcome{Outcomes: []model.CommandOutcome{{Command: phase, Verdict: model.LevelExecutionError, Err: err}}}
	}
	if ctx.Err() != nil {
		return model.PhaseOutcome{Outcomes: []model.CommandOutcome{{Command: phase, Verdict: model.LevelExecutionError,
			Err: apperr.Wrap(apperr.Cancelled, "resolving", ctx.Err())}}}
	}
	endpoint, err := o.mapper.Resolve(ctx, coord.BibID, coord.UUTID, coord.Port)
	if err != nil {
		return model.PhaseOutcome{Outcomes: []model.CommandOutcome{{Command: phase, Verdict: model.LevelExecutionError, Err: err}}}
	}
	if ctx.Err() != nil {
		return model.PhaseOutcome{Outcomes: []model.CommandOutcome{{Command: phase, Verdict: model.LevelExecutionError,
			Err: apperr.Wrap(apperr.Cancelled, "reserving", ctx.Err())}}}
	}
	lease, ok := o.pool.AcquireSpecific(ctx, endpoint, o.policy, clientID)
	if !ok {
		return model.PhaseOutcome{Outcomes: []model.CommandOutcome{{Command: phase, Verdict: model.LevelExecutionError,
			Err: apperr.New(apperr.ReservationFailed, "endpoint not available")}}}
	}
	defer o.pool.Release(lease.ID, clientID)

	sess, err := o.registry.Open(ctx, endpoint, cfg)
	if err != nil {
		return model.PhaseOutcome{Outcomes: []model.CommandOutcome{{Command: phase, Verdict: model.LevelExecutionError, Err: err}}}
	}
	defer sess.Close()

	seq := seqForPhase(cfg, phase)
	out, _ := o.runPhaseSequence(ctx, sess, phase, seq)
	return out
}

func seqForPhase(cfg model.PortConfiguration, phase string) model.CommandSequence {
	switch phase {
	case "start":
		return cfg.Start
	case "test":
		return cfg.Test
	case "stop":
		return cfg.Stop
	default:
		return model.CommandSequence{}
	}
}

// RunAutoPort iterates uut's configured ports in ascending order,
// stopping at the first success; otherwise returns a failure outcome
// naming the last attempt (spec.md §4.H.2).
func (o *Orchestrator) RunAutoPort(ctx context.Context, bibID, uutID string, clientID string) model.WorkflowOutcome {
	bib, ok := o.config.LoadBib(bibID)
	if !ok {
		return model.WorkflowOutcome{Error: apperr.New(apperr.ConfigurationMissing, "bib not configured").Error()}
	}
	uut, ok := bib.UUTs[uutID]
	if !ok {
		return model.WorkflowOutcome{Error: apperr.New(apperr.ConfigurationMissing, "uut not configured").Error()}
	}

	ports := sortedPortNumbers(uut)
	var last model.WorkflowOutcome
	for i, port := range ports {
		select {
		case <-ctx.Done():
			last.Cancelled = true
			return last
		default:
		}
		coord := model.Coordinate{BibID: bibID, UUTID: uutID, Port: port}
		last = o.RunSingle(ctx, coord, clientID)
		if last.Success {
			return last
		}
		if i < len(ports)-1 {
			sleepSettle(ctx, o.timing.InterPortSettle)
		}
	}
	return last
}

func sortedPortNumbers(uut model.UUTConfiguration) []int {
	ports := make([]int, 0, len(uut.Ports))
	for p := range uut.Ports {
		ports = append(ports, p)
	}
	for i := 1; i < len(ports); i++ {
		for j := i; j > 0 && ports[j-1] > ports[j]; j-- {
			ports[j-1], ports[j] = ports[j], ports[j-1]
		}
	}
	return ports
}

// RunAllPorts runs every configured port of uut in ascending order,
// sequentially, with the inter-port settle delay between each.
func (o *Orchestrator) RunAllPorts(ctx context.Context, bibID, uutID string, clientID string) []model.WorkflowOutcome {
	bib, ok := o.config.LoadBib(bibID)
	if !ok {
		return []model.WorkflowOutcome{{Error: apperr.New(apperr.ConfigurationMissing, "bib not configured").Error()}}
	}
	uut, ok := bib.UUTs[uutID]
	if !ok {
		return []model.WorkflowOutcome{{Error: apperr.New(apperr.ConfigurationMissing, "uut not configured").Error()}}
	}

	ports := sortedPortNumbers(uut)
	outcomes := make([]model.WorkflowOutcome, 0, len(ports))
	for i, port := range ports {
		select {
		case <-ctx.Done():
			outcomes = append(outcomes, model.WorkflowOutcome{Coordinate: model.Coordinate{BibID: bibID, UUTID: uutID, Port: port}, Cancelled: true})
			return outcomes
		default:
		}
		coord := model.Coordinate{BibID: bibID, UUTID: uutID, Port: port}
		outcomes = append(outcomes, o.RunSingle(ctx, coord, clientID))
		if i < len(ports)-1 {
			sleepSettle(ctx, o.timing.InterPortSettle)
		}
	}
	return outcomes
}

// RunAllUUTs runs RunAllPorts for every UUT of bib, sequentially, with
// the inter-UUT settle delay between each.
func (o *Orchestrator) RunAllUUTs(ctx context.Context, bibID string, clientID string) []model.WorkflowOutcome {
	bib, ok := o.config.LoadBib(bibID)
	if !ok {
		return []model.WorkflowOutcome{{Error: apperr.New(apperr.ConfigurationMissing, "bib not configured").Error()}}
	}

	uuts := sortedUUTIDs(bib)
	var outcomes []model.WorkflowOutcome
	for i, uutID := range uuts {
		outcomes = append(outcomes, o.RunAllPorts(ctx, bibID, uutID, clientID)...)
		if i < len(uuts)-1 {
			sleepSettle(ctx, o.timing.InterUUTSettle)
		}
	}
	return outcomes
}

func sortedUUTIDs(bib model.BibConfiguration) []string {
	ids := make([]string, 0, len(bib.UUTs))
	for id := range bib.UUTs {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// RunComplete is the whole-BIB entry point from spec.md §4.H.3: it runs
// RunAllUUTs for bibID and wraps the outcomes in an AggregatedOutcome
// counting that one BIB.
func (o *Orchestrator) RunComplete(ctx context.Context, bibID string, clientID string) model.AggregatedOutcome {
	workflows := o.RunAllUUTs(ctx, bibID, clientID)
	agg := model.AggregatedOutcome{Workflows: workflows, TotalBibsExecuted: 1}
	if anySuccess(workflows) {
		agg.SuccessfulBibs = 1
	}
	return agg
}

func anySuccess(workflows []model.WorkflowOutcome) bool {
	for _, w := range workflows {
		if w.Success {
			return true
		}
	}
	return false
}

// RunMultiBib runs RunComplete for each bib in bibIDs, sequentially, with
// the inter-BIB settle delay between each. A BIB whose configuration is
// missing contributes a single failure WorkflowOutcome and does not abort
// the remaining BIBs (spec.md scenario S6).
func (o *Orchestrator) RunMultiBib(ctx context.Context, bibIDs []string, clientID string) model.AggregatedOutcome {
	agg := model.AggregatedOutcome{TotalBibsExecuted: len(bibIDs)}
	for i, bibID := range bibIDs {
		select {
		case <-ctx.Done():
			agg.Workflows = append(agg.Workflows, model.WorkflowOutcome{
				Coordinate: model.Coordinate{BibID: bibID},
				Cancelled:  true,
			})
			continue
		default:
		}

		if _, ok := o.config.LoadBib(bibID); !ok {
			agg.Workflows = append(agg.Workflows, model.WorkflowOutcome{
				Coordinate: model.Coordinate{BibID: bibID},
				Error:      apperr.New(apperr.ConfigurationMissing, "bib "+bibID+" not configured").Error(),
			})
			if i < len(bibIDs)-1 {
				sleepSettle(ctx, o.timing.InterBibSettle)
			}
			continue
		}

		workflows := o.RunAllUUTs(ctx, bibID, clientID)
		agg.Workflows = append(agg.Workflows, workflows...)
		if anySuccess(workflows) {
			agg.SuccessfulBibs++
		}
		if i < len(bibIDs)-1 {
			sleepSettle(ctx, o.timing.InterBibSettle)
		}
	}
	return agg
}

// RunAllConfigured runs RunMultiBib over every BIB the ConfigSource
// currently lists.
func (o *Orchestrator) RunAllConfigured(ctx context.Context, clientID string) model.AggregatedOutcome {
	bibIDs, err := o.config.ListConfiguredBibs()
	if err != nil {
		return model.AggregatedOutcome{}
	}
	return o.RunMultiBib(ctx, bibIDs, clientID)
}

// sleepSettle sleeps d unless ctx is already done.
func sleepSettle(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
