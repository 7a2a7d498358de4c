// Package eventstore provides the durable, append-only event log, the
// single source of truth for the pipeline. Two backends implement the same
// Store contract with identical concurrency semantics: a PostgreSQL table
// keyed by (aggregate_id, version) and a volatile in-memory fallback.
// Callers cannot tell which is active except through IsDurable.
package eventstore

import (
	"context"
	"fmt"

	"github.com/kestrelwatch/sentinel/internal/domain/errors"
	"github.com/kestrelwatch/sentinel/internal/domain/event"
	"github.com/kestrelwatch/sentinel/internal/domain/values"
)

// Filter narrows a ReadAll scan to specific event types. A nil filter or an
// empty type list matches everything.
type Filter struct {
	Types []event.Type
}

func (f *Filter) matches(t event.Type) bool {
	if f == nil || len(f.Types) == 0 {
		return true
	}
	for _, typ := range f.Types {
		if typ == t {
			return true
		}
	}
	return false
}

// Store is the event log contract.
//
// Append is atomic: either the event is recorded with exactly the version it
// claims, or nothing is recorded. An append whose version does not equal the
// aggregate's current head plus one fails with a conflict error; the caller
// reloads and retries. The store assigns the event timestamp at append time,
// monotonic per aggregate.
//
// ReadStream returns an aggregate's events with version greater than
// afterVersion, in version order; the zero Version reads from the start.
// ReadAll returns a snapshot of every event (optionally filtered by type) in
// global append order; it is safe to call concurrently with appends and
// never blocks writers.
type Store interface {
	Append(ctx context.Context, evt *event.Event) error
	ReadStream(ctx context.Context, aggregateID string, afterVersion values.Version) ([]*event.Event, error)
	ReadAll(ctx context.Context, filter *Filter) ([]*event.Event, error)

	// IsDurable reports whether appends survive a process restart. Surfaced
	// for operational alerting when the volatile fallback is active.
	IsDurable() bool

	Close() error
}

// conflictError builds the standard optimistic-concurrency failure.
func conflictError(aggregateID string, claimed values.Version) *errors.AppError {
	return errors.NewConflictError("CONCURRENCY_CONFLICT",
		fmt.Sprintf("aggregate %q has advanced past version %s", aggregateID, claimed)).
		WithDetails(map[string]any{
			"aggregate_id": aggregateID,
			"claimed":      claimed.String(),
		})
}
