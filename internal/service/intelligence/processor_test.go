package intelligence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kestrelwatch/sentinel/internal/domain/errors"
	"github.com/kestrelwatch/sentinel/internal/domain/event"
	"github.com/kestrelwatch/sentinel/internal/domain/indicator"
	"github.com/kestrelwatch/sentinel/internal/domain/values"
	"github.com/kestrelwatch/sentinel/internal/infrastructure/eventstore"
	"github.com/kestrelwatch/sentinel/internal/metrics"
)

func testDefs() []indicator.Definition {
	return []indicator.Definition{
		{
			ID:               "IND-SCS-001",
			Description:      "Unusual interest in supply chain personnel",
			TriggerTerms:     []string{"surveillance", "followed"},
			WarningThreshold: 2,
		},
	}
}

func setupTest(t *testing.T) (*Processor, eventstore.Store, context.Context) {
	t.Helper()
	store := eventstore.NewMemoryStore(zaptest.NewLogger(t))
	t.Cleanup(func() { store.Close() })
	proc := NewProcessor(store, testDefs(), zaptest.NewLogger(t), metrics.New())
	return proc, store, context.Background()
}

func testSignal(title string) event.SignalCollected {
	return event.SignalCollected{
		Title:      title,
		SourceID:   "unit",
		OccurredAt: time.Date(2026, time.May, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestProcessor_CollectSignalCreatesStream(t *testing.T) {
	proc, store, ctx := setupTest(t)

	evt, err := proc.CollectSignal(ctx, CollectSignalCommand{
		AggregateID: "IND-SCS-001",
		Signal:      testSignal("routine report"),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), evt.Version.Value())
	assert.False(t, evt.Timestamp.IsZero(), "store assigns the timestamp")

	stream, err := store.ReadStream(ctx, "IND-SCS-001", values.Version{})
	require.NoError(t, err)
	assert.Len(t, stream, 1)
}

func TestProcessor_CollectSignalValidation(t *testing.T) {
	proc, _, ctx := setupTest(t)

	_, err := proc.CollectSignal(ctx, CollectSignalCommand{
		AggregateID: "IND-SCS-001",
		Signal:      event.SignalCollected{SourceID: "unit"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err), "missing title must be rejected")

	_, err = proc.CollectSignal(ctx, CollectSignalCommand{
		Signal: testSignal("no aggregate"),
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestProcessor_DetectThreatRequiresStream(t *testing.T) {
	proc, _, ctx := setupTest(t)

	_, err := proc.DetectThreat(ctx, DetectThreatCommand{
		AggregateID: "IND-SCS-001",
		Threat:      event.ThreatDetected{Category: "surveillance", Confidence: 60},
	})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, err = proc.CollectSignal(ctx, CollectSignalCommand{
		AggregateID: "IND-SCS-001",
		Signal:      testSignal("first report"),
	})
	require.NoError(t, err)

	evt, err := proc.DetectThreat(ctx, DetectThreatCommand{
		AggregateID: "IND-SCS-001",
		Threat:      event.ThreatDetected{Category: "surveillance", Confidence: 60},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), evt.Version.Value())
}

func TestProcessor_HighAlertRequiresTrigger(t *testing.T) {
	proc, _, ctx := setupTest(t)

	_, err := proc.CollectSignal(ctx, CollectSignalCommand{
		AggregateID: "IND-SCS-001",
		Signal:      testSignal("routine mention, nothing matching"),
	})
	require.NoError(t, err)

	_, err = proc.TriggerAlert(ctx, TriggerAlertCommand{
		AggregateID: "IND-SCS-001",
		Alert:       event.AlertTriggered{Priority: "HIGH", Headline: "escalate"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err), "HIGH alert without evidence is illegal")

	// LOW priority alerts carry no such requirement.
	_, err = proc.TriggerAlert(ctx, TriggerAlertCommand{
		AggregateID: "IND-SCS-001",
		Alert:       event.AlertTriggered{Priority: "LOW", Headline: "heads up"},
	})
	require.NoError(t, err)

	// Once a trigger term matches, HIGH becomes legal.
	_, err = proc.CollectSignal(ctx, CollectSignalCommand{
		AggregateID: "IND-SCS-001",
		Signal:      testSignal("staff surveillance observed"),
	})
	require.NoError(t, err)

	evt, err := proc.TriggerAlert(ctx, TriggerAlertCommand{
		AggregateID: "IND-SCS-001",
		Alert:       event.AlertTriggered{Priority: "HIGH", Headline: "escalate"},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), evt.Version.Value())
}

func TestProcessor_Deescalate(t *testing.T) {
	proc, store, ctx := setupTest(t)

	_, err := proc.DeescalateIndicator(ctx, DeescalateIndicatorCommand{
		AggregateID:   "IND-UNKNOWN",
		Justification: "whatever",
	})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err), "only configured indicators can be de-escalated")

	for _, title := range []string{"surveillance of staff", "executive followed"} {
		_, err := proc.CollectSignal(ctx, CollectSignalCommand{
			AggregateID: "IND-SCS-001",
			Signal:      testSignal(title),
		})
		require.NoError(t, err)
	}

	_, err = proc.DeescalateIndicator(ctx, DeescalateIndicatorCommand{
		AggregateID: "IND-SCS-001",
		Actor:       "analyst-2",
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err), "justification is mandatory")

	evt, err := proc.DeescalateIndicator(ctx, DeescalateIndicatorCommand{
		AggregateID:   "IND-SCS-001",
		Justification: "campaign concluded",
		Actor:         "analyst-2",
	})
	require.NoError(t, err)

	change, err := evt.StatusChanged()
	require.NoError(t, err)
	assert.Equal(t, "RED", change.From, "two triggers hit the warning threshold")
	assert.Equal(t, "GREEN", change.To)

	// Already GREEN: a second de-escalation is a validation failure.
	_, err = proc.DeescalateIndicator(ctx, DeescalateIndicatorCommand{
		AggregateID:   "IND-SCS-001",
		Justification: "still quiet",
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	stream, err := store.ReadStream(ctx, "IND-SCS-001", values.Version{})
	require.NoError(t, err)
	assert.Len(t, stream, 3, "failed commands append nothing")
}

func TestProcessor_NotifiesSubscribers(t *testing.T) {
	proc, _, ctx := setupTest(t)

	var seen []*event.Event
	proc.Subscribe(func(evt *event.Event) { seen = append(seen, evt) })

	_, err := proc.CollectSignal(ctx, CollectSignalCommand{
		AggregateID: "IND-SCS-001",
		Signal:      testSignal("first"),
	})
	require.NoError(t, err)

	_, err = proc.DetectThreat(ctx, DetectThreatCommand{
		AggregateID: "IND-SCS-001",
		Threat:      event.ThreatDetected{Category: "surveillance", Confidence: 40},
	})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, event.TypeSignalCollected, seen[0].Type)
	assert.Equal(t, event.TypeThreatDetected, seen[1].Type)
}

// conflictingStore loses every append, as if another writer always wins.
type conflictingStore struct {
	eventstore.Store
	appends int
}

func (s *conflictingStore) Append(ctx context.Context, evt *event.Event) error {
	s.appends++
	return errors.NewConflictError("CONCURRENCY_CONFLICT", "lost the race")
}

func TestProcessor_BoundedRetryThenBusy(t *testing.T) {
	inner := eventstore.NewMemoryStore(zaptest.NewLogger(t))
	t.Cleanup(func() { inner.Close() })
	store := &conflictingStore{Store: inner}
	proc := NewProcessor(store, testDefs(), zaptest.NewLogger(t), metrics.New())

	_, err := proc.CollectSignal(context.Background(), CollectSignalCommand{
		AggregateID: "IND-SCS-001",
		Signal:      testSignal("contested"),
	})
	require.Error(t, err)
	assert.True(t, errors.IsBusy(err))
	assert.Equal(t, 4, store.appends, "one initial attempt plus three retries")
}

func TestProcessor_CancelledContext(t *testing.T) {
	proc, _, _ := setupTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := proc.CollectSignal(ctx, CollectSignalCommand{
		AggregateID: "IND-SCS-001",
		Signal:      testSignal("too late"),
	})
	require.Error(t, err)
}
