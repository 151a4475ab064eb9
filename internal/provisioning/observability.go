package provisioning

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
)

// Logger is the printf-style logging surface phases use for free-form
// messages.
type Logger interface {
	Printf(format string, v ...any)
}

// Observer defines the interface for structured observability during provisioning.
type Observer interface {
	Logger

	// Event emits a structured event
	Event(event Event)

	// Progress reports progress for a phase
	Progress(phase string, current, total int)

	// WithFields returns a new Observer with additional context fields
	WithFields(fields map[string]string) Observer
}

// Event represents a structured provisioning event.
type Event struct {
	Type      EventType         // Type of event
	Phase     string            // Phase name (e.g., "bundle", "workers")
	Message   string            // Human-readable message
	Host      string            // Node the event concerns, if any
	Err       error             // Failure cause for failed events
	Timestamp time.Time         // When the event occurred
	Fields    map[string]string // Additional contextual fields
}

// EventType represents the type of provisioning event.
type EventType string

const (
	// EventPhaseStarted indicates a provisioning phase has started.
	EventPhaseStarted EventType = "phase.started"
	// EventPhaseCompleted indicates a provisioning phase completed successfully.
	EventPhaseCompleted EventType = "phase.completed"
	// EventPhaseFailed indicates a provisioning phase failed.
	EventPhaseFailed EventType = "phase.failed"

	// EventNodeStarted indicates work on a node has started.
	EventNodeStarted EventType = "node.started"
	// EventNodeSucceeded indicates a node step finished successfully.
	EventNodeSucceeded EventType = "node.succeeded"
	// EventNodeFailed indicates a node step failed.
	EventNodeFailed EventType = "node.failed"
	// EventNodeSkipped indicates a node was deliberately left alone.
	EventNodeSkipped EventType = "node.skipped"

	// EventDryRun describes an action a dry run did not perform.
	EventDryRun EventType = "dry-run"

	// EventProgress indicates progress in a long-running operation.
	EventProgress EventType = "progress"
)

// LogObserver implements Observer on top of a logr.Logger.
type LogObserver struct {
	log    logr.Logger
	fields map[string]string
}

// NewLogObserver creates an observer writing to log.
func NewLogObserver(log logr.Logger) *LogObserver {
	return &LogObserver{log: log, fields: map[string]string{}}
}

// Printf logs a formatted message at info level.
func (o *LogObserver) Printf(format string, v ...any) {
	o.log.Info(fmt.Sprintf(format, v...), o.keyValues(nil)...)
}

// Event implements Observer interface.
func (o *LogObserver) Event(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	kv := []any{"event", string(event.Type)}
	if event.Host != "" {
		kv = append(kv, "host", event.Host)
	}
	kv = append(kv, o.keyValues(event.Fields)...)

	msg := event.Message
	if event.Phase != "" {
		msg = fmt.Sprintf("[%s] %s", event.Phase, event.Message)
	}

	switch event.Type {
	case EventPhaseFailed, EventNodeFailed:
		o.log.Error(event.Err, msg, kv...)
	case EventProgress:
		o.log.V(1).Info(msg, kv...)
	default:
		o.log.Info(msg, kv...)
	}
}

// Progress implements Observer interface.
func (o *LogObserver) Progress(phase string, current, total int) {
	msg := fmt.Sprintf("Progress: %d/%d", current, total)
	if total > 0 {
		msg = fmt.Sprintf("Progress: %d/%d (%d%%)", current, total, (current*100)/total)
	}
	o.Event(Event{Type: EventProgress, Phase: phase, Message: msg})
}

// WithFields implements Observer interface.
func (o *LogObserver) WithFields(fields map[string]string) Observer {
	merged := make(map[string]string, len(o.fields)+len(fields))
	for k, v := range o.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &LogObserver{log: o.log, fields: merged}
}

// keyValues flattens context fields and extra fields, extra winning, in
// key order.
func (o *LogObserver) keyValues(extra map[string]string) []any {
	merged := make(map[string]string, len(o.fields)+len(extra))
	for k, v := range o.fields {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		kv = append(kv, k, merged[k])
	}
	return kv
}

// Helper functions for common events

// LogPhaseStart logs a phase start event.
func LogPhaseStart(observer Observer, phase string) {
	observer.Event(Event{
		Type:    EventPhaseStarted,
		Phase:   phase,
		Message: "starting",
	})
}

// LogPhaseComplete logs a phase completion event.
func LogPhaseComplete(observer Observer, phase string, duration time.Duration) {
	observer.Event(Event{
		Type:    EventPhaseCompleted,
		Phase:   phase,
		Message: fmt.Sprintf("completed in %v", duration.Round(time.Millisecond)),
	})
}

// LogPhaseFailed logs a phase failure event.
func LogPhaseFailed(observer Observer, phase string, err error) {
	observer.Event(Event{
		Type:    EventPhaseFailed,
		Phase:   phase,
		Message: "failed",
		Err:     err,
	})
}

// LogNodeStep logs the start of a step on a node.
func LogNodeStep(observer Observer, phase, host, step string) {
	observer.Event(Event{
		Type:    EventNodeStarted,
		Phase:   phase,
		Host:    host,
		Message: step,
		Fields:  map[string]string{"step": step},
	})
}

// LogNodeSucceeded logs that a node finished its work.
func LogNodeSucceeded(observer Observer, phase, host string, duration time.Duration) {
	observer.Event(Event{
		Type:    EventNodeSucceeded,
		Phase:   phase,
		Host:    host,
		Message: fmt.Sprintf("done in %v", duration.Round(time.Millisecond)),
	})
}

// LogNodeSkipped logs a node left untouched and why.
func LogNodeSkipped(observer Observer, phase, host, reason string) {
	observer.Event(Event{
		Type:    EventNodeSkipped,
		Phase:   phase,
		Host:    host,
		Message: "skipped: " + reason,
	})
}

// LogNodeFailed logs a failed step on a node.
func LogNodeFailed(observer Observer, phase, host, step string, err error) {
	observer.Event(Event{
		Type:    EventNodeFailed,
		Phase:   phase,
		Host:    host,
		Message: step + " failed",
		Err:     err,
		Fields:  map[string]string{"step": step},
	})
}

// LogDryRun logs an action that a dry run skipped.
func LogDryRun(observer Observer, phase, host, action string) {
	observer.Event(Event{
		Type:    EventDryRun,
		Phase:   phase,
		Host:    host,
		Message: "[DRY RUN] Would run: " + action,
	})
}
