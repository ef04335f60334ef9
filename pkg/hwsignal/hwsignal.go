// Package hwsignal defines Component G from spec.md §4.G: the narrow
// best-effort interface the orchestrator uses to drive binary hardware
// indicators, and a no-op implementation satisfying it. A real GPIO
// implementation is genuinely external (spec.md §1 non-goal) and not
// shipped here.
package hwsignal

// Signaler is the orchestrator's entire view of side-channel hardware
// signaling. Every method is best-effort: implementations may fail, and
// failures are logged by the caller, never treated as workflow errors.
type Signaler interface {
	// SetWorkflowActive raises or lowers the "a workflow is running"
	// indicator.
	SetWorkflowActive(active bool) error

	// SetCriticalFail raises or lowers the CRITICAL-fault indicator; the
	// orchestrator raises it the moment a CRITICAL verdict with
	// trigger_hardware=true is observed.
	SetCriticalFail(failed bool) error

	// ReadPowerReady reports the power-ready input, when available.
	ReadPowerReady() (ready bool, available bool)

	// ReadPowerDownRequested reports the power-down-request input, when
	// available.
	ReadPowerDownRequested() (requested bool, available bool)
}

// NoOp satisfies Signaler without touching any hardware; it is the
// default used whenever no platform-specific Signaler is configured.
type NoOp struct{}

func (NoOp) SetWorkflowActive(bool) error { return nil }
func (NoOp) SetCriticalFail(bool) error    { return nil }
func (NoOp) ReadPowerReady() (bool, bool)  { return false, false }
func (NoOp) ReadPowerDownRequested() (bool, bool) { return false, false }

var _ Signaler = NoOp{}
