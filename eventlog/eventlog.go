// Package eventlog keeps a bounded in-memory history of provider events
// for diagnostics. Records are mirrored to the debug log as they arrive
// and the ring is rendered by the dump surface.
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/locmux/logging"
)

// DefaultCapacity is the number of records retained per log.
const DefaultCapacity = 200

// Kind classifies an event record.
type Kind string

const (
	KindRegister      Kind = "register"
	KindUnregister    Kind = "unregister"
	KindActive        Kind = "active"
	KindInactive      Kind = "inactive"
	KindUpdateRequest Kind = "update_request"
	KindReceive       Kind = "receive"
	KindDeliver       Kind = "deliver"
	KindEnabled       Kind = "enabled"
	KindMock          Kind = "mock"
)

// Record is one logged provider event.
type Record struct {
	ID       string
	Time     time.Time
	Provider string
	Kind     Kind
	Message  string
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s [%s] %s", r.Time.Format(time.RFC3339), r.Provider, r.Kind, r.Message)
}

// Log is a fixed-capacity ring of Records. Safe for concurrent use.
type Log struct {
	logger *logrus.Entry

	mu    sync.Mutex
	ring  []Record
	next  int
	count int
	now   func() time.Time
}

// New returns a Log retaining the most recent capacity records. A
// capacity of zero or less uses DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		logger: logging.NewLogger("eventlog"),
		ring:   make([]Record, capacity),
		now:    time.Now,
	}
}

// Record appends an event and mirrors it to the debug log.
func (l *Log) Record(provider string, kind Kind, format string, args ...interface{}) {
	rec := Record{
		ID:       uuid.NewString(),
		Provider: provider,
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
	}

	l.mu.Lock()
	rec.Time = l.now()
	l.ring[l.next] = rec
	l.next = (l.next + 1) % len(l.ring)
	if l.count < len(l.ring) {
		l.count++
	}
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"provider": provider,
		"kind":     string(kind),
	}).Debug(rec.Message)
}

// Records returns the retained records, oldest first.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, 0, l.count)
	start := l.next - l.count
	if start < 0 {
		start += len(l.ring)
	}
	for i := 0; i < l.count; i++ {
		out = append(out, l.ring[(start+i)%len(l.ring)])
	}
	return out
}

// Len reports how many records are retained.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
