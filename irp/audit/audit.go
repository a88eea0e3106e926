// Package audit records every terminal outcome of a registration operation.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "irp.audit")

type Operation string

const (
	OpGenerate Operation = "generate"
	OpCancel   Operation = "cancel"
	OpFetch    Operation = "fetch"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Entry is one attempt and its outcome. Entries are never updated.
type Entry struct {
	ID             uuid.UUID       `json:"id"`
	Operation      Operation       `json:"operation"`
	IRN            string          `json:"irn,omitempty"`
	DocumentType   string          `json:"documentType,omitempty"`
	DocumentNumber string          `json:"documentNumber,omitempty"`
	DocumentDate   string          `json:"documentDate,omitempty"`
	Outcome        Outcome         `json:"outcome"`
	Request        json.RawMessage `json:"request,omitempty"`
	Response       json.RawMessage `json:"response,omitempty"`
	ErrorKind      string          `json:"errorKind,omitempty"`
	ErrorDetail    string          `json:"errorDetail,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Sink is an append-only audit log.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// MemorySink keeps entries in memory, mostly for tests.
type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
	err     error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

// FailWith makes every following Append return err; nil restores normal behaviour.
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Entries returns a copy of everything appended so far, oldest first.
func (s *MemorySink) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry{}, s.entries...)
}

func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ByOperation filters entries by operation.
func (s *MemorySink) ByOperation(op Operation) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Operation == op {
			out = append(out, e)
		}
	}
	return out
}

// LogSink writes entries to logrus. Request and response bodies are logged at Debug only.
type LogSink struct {
	log *logrus.Entry
}

func NewLogSink(log *logrus.Entry) *LogSink {
	if log == nil {
		log = logger
	}
	return &LogSink{log: log}
}

func (s *LogSink) Append(_ context.Context, e Entry) error {
	fields := logrus.Fields{
		"audit_id":  e.ID.String(),
		"operation": e.Operation,
		"outcome":   e.Outcome,
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
	}
	if e.IRN != "" {
		fields["irn"] = e.IRN
	}
	if e.DocumentNumber != "" {
		fields["document"] = e.DocumentType + "/" + e.DocumentNumber + "/" + e.DocumentDate
	}
	if e.ErrorKind != "" {
		fields["error_kind"] = e.ErrorKind
		fields["error"] = e.ErrorDetail
	}
	l := s.log.WithFields(fields)
	if l.Logger.IsLevelEnabled(logrus.DebugLevel) {
		l = l.WithField("request", string(e.Request)).WithField("response", string(e.Response))
	}
	if e.Outcome == OutcomeError {
		l.Warn("registry operation failed")
		return nil
	}
	l.Info("registry operation succeeded")
	return nil
}

// Multi fans an entry out to every sink and returns the first error.
type Multi []Sink

func (m Multi) Append(ctx context.Context, e Entry) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
