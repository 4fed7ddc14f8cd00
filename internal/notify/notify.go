// Package notify delivers short user-facing messages to a sink.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level classifies a notification.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Sink receives notifications.
type Sink interface {
	Notify(level Level, message string)
}

// SlogSink writes notifications to a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a SlogSink.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger.With("component", "notify")}
}

// Notify logs message at a slog level matching level.
func (s *SlogSink) Notify(level Level, message string) {
	lvl := slog.LevelInfo
	switch level {
	case LevelWarning:
		lvl = slog.LevelWarn
	case LevelError:
		lvl = slog.LevelError
	}
	s.logger.Log(context.Background(), lvl, message, "kind", level.String())
}

// Notifier sends notifications immediately or after a delay.
type Notifier struct {
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// New creates a Notifier writing to sink.
func New(sink Sink, logger *slog.Logger) *Notifier {
	return &Notifier{
		sink:    sink,
		logger:  logger.With("component", "notifier"),
		pending: make(map[string]*time.Timer),
	}
}

func (n *Notifier) Info(message string)    { n.send(LevelInfo, message) }
func (n *Notifier) Success(message string) { n.send(LevelSuccess, message) }
func (n *Notifier) Warning(message string) { n.send(LevelWarning, message) }
func (n *Notifier) Error(message string)   { n.send(LevelError, message) }

// Schedule sends message after delay and returns an id for Cancel. It returns
// an empty id once the Notifier is closed.
func (n *Notifier) Schedule(level Level, message string, delay time.Duration) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ""
	}

	id := uuid.NewString()
	n.pending[id] = time.AfterFunc(delay, func() {
		n.mu.Lock()
		_, ok := n.pending[id]
		delete(n.pending, id)
		n.mu.Unlock()
		if ok {
			n.send(level, message)
		}
	})
	return id
}

// Cancel stops a scheduled notification. It reports whether one was pending.
func (n *Notifier) Cancel(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.pending[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(n.pending, id)
	return true
}

// Pending returns the number of scheduled notifications not yet sent.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

// Close cancels every pending notification. Immediate sends still work.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, t := range n.pending {
		t.Stop()
		delete(n.pending, id)
	}
	n.closed = true
}

func (n *Notifier) send(level Level, message string) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("notification sink panicked", "panic", r, "level", level.String())
		}
	}()
	n.sink.Notify(level, message)
}
