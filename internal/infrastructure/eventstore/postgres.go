package eventstore

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kestrelwatch/sentinel/internal/domain/errors"
	"github.com/kestrelwatch/sentinel/internal/domain/event"
	"github.com/kestrelwatch/sentinel/internal/domain/values"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
	global_seq     BIGSERIAL PRIMARY KEY,
	event_id       UUID NOT NULL UNIQUE,
	aggregate_id   TEXT NOT NULL,
	version        BIGINT NOT NULL,
	event_type     TEXT NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL,
	payload        JSONB NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	causation_id   TEXT NOT NULL DEFAULT '',
	UNIQUE (aggregate_id, version)
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events (event_type);
`

// uniqueViolation is the SQLSTATE PostgreSQL raises when an insert collides
// with the (aggregate_id, version) constraint, i.e. a lost version race.
const uniqueViolation = "23505"

// PostgresStore persists events in a single append-only table. Optimistic
// concurrency is delegated to the database: the unique constraint on
// (aggregate_id, version) makes the version check and the insert one atomic
// operation, so concurrent writers need no application-level locking.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects, verifies the connection, and ensures the events
// table exists. Any failure is surfaced as unavailable so the caller can fall
// back to the volatile store.
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.NewUnavailableError("invalid database configuration").WithCause(err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.NewUnavailableError("database connection failed").WithCause(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.NewUnavailableError("database unreachable").WithCause(err)
	}
	if _, err := pool.Exec(ctx, createEventsTable); err != nil {
		pool.Close()
		return nil, errors.NewUnavailableError("schema initialization failed").WithCause(err)
	}

	logger.Info("durable event store ready")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Append inserts the event, assigning the recorded_at timestamp server-side.
// The insert is guarded by the stream's current head: a claimed version that
// is not exactly head+1 inserts zero rows, so gapped appends are rejected the
// same way the in-memory backend rejects them. The unique constraint on
// (aggregate_id, version) still backstops the race where two writers pass
// the head check for the same version; both failures map to the standard
// conflict error.
func (s *PostgresStore) Append(ctx context.Context, evt *event.Event) error {
	var recordedAt time.Time
	err := s.pool.QueryRow(ctx, `
		INSERT INTO events (event_id, aggregate_id, version, event_type, recorded_at, payload, correlation_id, causation_id)
		SELECT $1, $2, $3, $4, clock_timestamp(), $5, $6, $7
		WHERE (SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $2) = $3 - 1
		RETURNING recorded_at`,
		evt.ID, evt.AggregateID, int64(evt.Version.Value()), string(evt.Type),
		[]byte(evt.Payload), evt.CorrelationID, evt.CausationID,
	).Scan(&recordedAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return conflictError(evt.AggregateID, evt.Version)
		}
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return conflictError(evt.AggregateID, evt.Version)
		}
		return errors.NewUnavailableError("append failed").WithCause(err)
	}

	evt.Timestamp = recordedAt.UTC()
	s.logger.Debug("event appended",
		zap.String("aggregate_id", evt.AggregateID),
		zap.String("event_type", string(evt.Type)),
		zap.String("version", evt.Version.String()))
	return nil
}

// ReadStream returns the aggregate's events after afterVersion in version
// order.
func (s *PostgresStore) ReadStream(ctx context.Context, aggregateID string, afterVersion values.Version) ([]*event.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, aggregate_id, version, event_type, recorded_at, payload, correlation_id, causation_id
		FROM events
		WHERE aggregate_id = $1 AND version > $2
		ORDER BY version`,
		aggregateID, int64(afterVersion.Value()))
	if err != nil {
		return nil, errors.NewUnavailableError("stream read failed").WithCause(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadAll returns every event in global append order. MVCC gives readers a
// consistent snapshot without blocking concurrent appends.
func (s *PostgresStore) ReadAll(ctx context.Context, filter *Filter) ([]*event.Event, error) {
	query := `
		SELECT event_id, aggregate_id, version, event_type, recorded_at, payload, correlation_id, causation_id
		FROM events`
	args := []any{}
	if filter != nil && len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		query += ` WHERE event_type = ANY($1)`
		args = append(args, types)
	}
	query += ` ORDER BY global_seq`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewUnavailableError("log read failed").WithCause(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// IsDurable is always true for the PostgreSQL backend.
func (s *PostgresStore) IsDurable() bool {
	return true
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanEvents(rows pgx.Rows) ([]*event.Event, error) {
	var out []*event.Event
	for rows.Next() {
		var (
			evt        event.Event
			version    int64
			eventType  string
			recordedAt time.Time
			payload    []byte
		)
		if err := rows.Scan(&evt.ID, &evt.AggregateID, &version, &eventType,
			&recordedAt, &payload, &evt.CorrelationID, &evt.CausationID); err != nil {
			return nil, errors.NewInternalError("event row scan failed").WithCause(err)
		}
		v, err := values.NewVersion(uint64(version))
		if err != nil {
			return nil, errors.NewInternalError("stored event has invalid version").WithCause(err)
		}
		evt.Version = v
		evt.Type = event.Type(eventType)
		evt.Timestamp = recordedAt.UTC()
		evt.Payload = payload
		out = append(out, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewUnavailableError("event read interrupted").WithCause(err)
	}
	return out, nil
}
