// Package logging wraps zerolog with the stable field-name contract from
// spec.md §6 (bib_id, uut_id, port_number, endpoint, lease_id, session_id,
// phase, command, verdict, duration_ms) so every component logs the same
// shape regardless of who constructs the event.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is passed explicitly to the orchestrator's constructor; there is
// no package-level default used by the core.
type Logger struct {
	z zerolog.Logger
}

// New builds a Logger writing to w at the given level.
func New(w io.Writer, level zerolog.Level) *Logger {
	z := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{z: z}
}

// Default builds a Logger writing human-readable console output to
// stderr at info level, used by the demo host.
func Default() *Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return &Logger{z: zerolog.New(out).Level(zerolog.InfoLevel).With().Timestamp().Logger()}
}

// Nop returns a Logger that discards everything, for tests.
func Nop() *Logger {
	return &Logger{z: zerolog.Nop()}
}

// With returns a derived Logger with bib/uut/port fields pre-set, handy
// for a whole workflow run.
func (l *Logger) With(bibID, uutID string, port int) *Logger {
	return &Logger{z: l.z.With().Str("bib_id", bibID).Str("uut_id", uutID).Int("port_number", port).Logger()}
}

func (l *Logger) WorkflowStart(endpoint string) {
	l.z.Info().Str("endpoint", endpoint).Msg("workflow start")
}

func (l *Logger) WorkflowEnd(endpoint string, success bool, duration time.Duration) {
	l.z.Info().Str("endpoint", endpoint).Bool("success", success).Dur("duration_ms", duration).Msg("workflow end")
}

func (l *Logger) PhaseStart(phase string) {
	l.z.Debug().Str("phase", phase).Msg("phase start")
}

func (l *Logger) PhaseEnd(phase string, success bool, duration time.Duration) {
	l.z.Debug().Str("phase", phase).Bool("success", success).Dur("duration_ms", duration).Msg("phase end")
}

func (l *Logger) Command(phase, command, verdict string, duration time.Duration) {
	l.z.Info().Str("phase", phase).Str("command", command).Str("verdict", verdict).Dur("duration_ms", duration).Msg("command result")
}

func (l *Logger) LeaseEvent(event, leaseID, endpoint, clientID string) {
	l.z.Info().Str("event", event).Str("lease_id", leaseID).Str("endpoint", endpoint).Str("client_id", clientID).Msg("lease event")
}

func (l *Logger) SessionEvent(event, sessionID, endpoint string) {
	l.z.Debug().Str("event", event).Str("session_id", sessionID).Str("endpoint", endpoint).Msg("session event")
}

func (l *Logger) Resolution(bibID, uutID string, port int, endpoint string, err error) {
	ev := l.z.Info().Str("bib_id", bibID).Str("uut_id", uutID).Int("port_number", port)
	if err != nil {
		ev.Err(err).Msg("resolution failed")
		return
	}
	ev.Str("endpoint", endpoint).Msg("resolution ok")
}

func (l *Logger) Warn(msg string, err error) {
	l.z.Warn().Err(err).Msg(msg)
}
