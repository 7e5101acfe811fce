// Package report writes the run artifacts: the JSONL event log, the
// before/after validation logs, the diff, the results object and metrics.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Event kinds written to the event log.
const (
	EventRunStarted         = "run_started"
	EventExecution          = "execution"
	EventPipInstall         = "pip_install"
	EventPipUninstall       = "pip_uninstall"
	EventStubCreated        = "stub_created"
	EventRemediationAttempt = "remediation_attempt"
	EventValidation         = "validation"
	EventPatch              = "patch"
	EventAgentTurn          = "agent_turn"
	EventToolDispatch       = "tool_dispatch"
	EventMalformedAction    = "malformed_action"
	EventAgentOutcome       = "agent_outcome"
	EventStrategyError      = "strategy_error"
	EventDiff               = "diff"
	EventVerdict            = "verdict"
	EventRunComplete        = "run_complete"
	EventFatal              = "fatal"
)

// EventLog is the append-only structured record of a run. Each record is one
// JSON object per line carrying "timestamp" and "event" plus event fields.
// Records are mirrored at debug level to the diagnostic logger.
//
// A nil *EventLog is valid and discards everything.
type EventLog struct {
	sink   *zap.Logger
	mirror *zap.Logger
	closer io.Closer
}

// NewEventLog writes records to w.
func NewEventLog(w io.Writer, mirror *zap.Logger) *EventLog {
	if mirror == nil {
		mirror = zap.NewNop()
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(eventEncoderConfig()),
		zapcore.Lock(zapcore.AddSync(w)),
		zapcore.DebugLevel,
	)
	return &EventLog{
		sink:   zap.New(core),
		mirror: mirror.Named("event"),
	}
}

// OpenEventLog truncates path and writes records to it.
func OpenEventLog(path string, mirror *zap.Logger) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	l := NewEventLog(f, mirror)
	l.closer = f
	return l, nil
}

// NopEventLog returns an event log that discards records.
func NopEventLog() *EventLog {
	return nil
}

// Emit appends one record.
func (l *EventLog) Emit(event string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.sink.Info(event, fields...)
	l.mirror.Debug(event, fields...)
}

// Close flushes and closes the underlying file, if any.
func (l *EventLog) Close() error {
	if l == nil {
		return nil
	}
	_ = l.sink.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func eventEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     utcTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

func utcTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339Nano))
}
