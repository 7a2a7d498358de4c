package eventstore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelwatch/sentinel/internal/domain/errors"
	"github.com/kestrelwatch/sentinel/internal/domain/event"
	"github.com/kestrelwatch/sentinel/internal/domain/values"
)

// MemoryStore is the volatile backend, used when no durable backend is
// configured or reachable. Same interface, same concurrency semantics as the
// PostgreSQL backend; the only observable difference is IsDurable.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string][]*event.Event
	all     []*event.Event
	lastTS  time.Time
	logger  *zap.Logger
	closed  bool
}

// NewMemoryStore creates an empty in-memory event log.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		streams: make(map[string][]*event.Event),
		logger:  logger,
	}
}

// Append records the event if its version directly follows the aggregate's
// current head. The check and the write happen under one lock, so no two
// successful appends for the same aggregate ever commit the same version.
func (s *MemoryStore) Append(ctx context.Context, evt *event.Event) error {
	// A cancelled command must leave no partial event.
	if err := ctx.Err(); err != nil {
		return errors.NewInternalError("append cancelled").WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.NewUnavailableError("event store is closed")
	}

	stream := s.streams[evt.AggregateID]
	var head values.Version
	if n := len(stream); n > 0 {
		head = stream[n-1].Version
	}
	if !evt.Version.Follows(head) {
		return conflictError(evt.AggregateID, evt.Version)
	}

	// Store-assigned timestamp: monotonic per process, which also makes it
	// monotonic per aggregate and keeps the global slice timestamp-ordered.
	now := time.Now().UTC()
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = now

	stored := evt.Clone()
	stored.Timestamp = now
	evt.Timestamp = now

	s.streams[evt.AggregateID] = append(stream, stored)
	s.all = append(s.all, stored)

	s.logger.Debug("event appended",
		zap.String("aggregate_id", stored.AggregateID),
		zap.String("event_type", string(stored.Type)),
		zap.String("version", stored.Version.String()))
	return nil
}

// ReadStream returns the aggregate's events after afterVersion, in version
// order. Readers get clones; the log itself is never handed out.
func (s *MemoryStore) ReadStream(ctx context.Context, aggregateID string, afterVersion values.Version) ([]*event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewInternalError("read cancelled").WithCause(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[aggregateID]
	out := make([]*event.Event, 0, len(stream))
	for _, evt := range stream {
		if afterVersion.LessThan(evt.Version) {
			out = append(out, evt.Clone())
		}
	}
	return out, nil
}

// ReadAll returns a snapshot of the whole log in global append order,
// optionally filtered by event type. Reads never block writes: the snapshot
// is taken under a read lock and released before the caller consumes it.
func (s *MemoryStore) ReadAll(ctx context.Context, filter *Filter) ([]*event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewInternalError("read cancelled").WithCause(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*event.Event, 0, len(s.all))
	for _, evt := range s.all {
		if filter.matches(evt.Type) {
			out = append(out, evt.Clone())
		}
	}
	return out, nil
}

// IsDurable is always false: this backend loses the log on restart.
func (s *MemoryStore) IsDurable() bool {
	return false
}

// Close marks the store closed; subsequent appends fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
