package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type identifies a lifecycle event
type Type string

const (
	Registered    Type = "registered"
	Rebuilt       Type = "rebuilt"
	RebuildFailed Type = "rebuild_failed"
	Removed       Type = "removed"
	Shutdown      Type = "shutdown"
)

// Event describes a change to a registry entry
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Supervisor string    `json:"supervisor,omitempty"`
	Worker     string    `json:"worker,omitempty"`
	InstanceID string    `json:"instance_id,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	Source     string    `json:"source,omitempty"`
	Rebuilds   uint64    `json:"rebuilds,omitempty"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

// New creates an event with a fresh id and timestamp
func New(t Type, worker string) Event {
	return Event{
		ID:     uuid.New().String(),
		Type:   t,
		Worker: worker,
		Time:   time.Now().UTC(),
	}
}

// WithError sets the error message when err is non-nil
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Sink delivers events
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Discard drops every event
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }

// LogSink writes events to a zap logger
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs the event; failures are logged at warn
func (s *LogSink) Publish(_ context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("event", string(event.Type)),
		zap.String("worker", event.Worker),
	}
	if event.InstanceID != "" {
		fields = append(fields, zap.String("instance_id", event.InstanceID))
	}
	if event.Rebuilds > 0 {
		fields = append(fields, zap.Uint64("rebuilds", event.Rebuilds))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}

	switch event.Type {
	case RebuildFailed:
		s.logger.Warn("worker event", fields...)
	default:
		s.logger.Info("worker event", fields...)
	}
	return nil
}

// Multi fans events out to several sinks
type Multi struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMulti creates a fan-out sink; nil sinks are skipped
func NewMulti(logger *zap.Logger, sinks ...Sink) *Multi {
	m := &Multi{logger: logger}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Publish delivers to every sink, logging and joining individual failures
func (m *Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, event); err != nil {
			m.logger.Warn("failed to publish event",
				zap.String("event", string(event.Type)),
				zap.String("worker", event.Worker),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
