package event

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwatch/sentinel/internal/domain/errors"
	"github.com/kestrelwatch/sentinel/internal/domain/values"
)

func TestNew(t *testing.T) {
	signal := SignalCollected{
		Title:      "Coordinated campaign announced",
		Details:    "Synchronized protests planned at flagship locations",
		Location:   "London, UK",
		OccurredAt: time.Date(2025, 10, 3, 9, 0, 0, 0, time.UTC),
		SourceID:   "osint-feed-2",
	}

	t.Run("valid event", func(t *testing.T) {
		evt, err := New(TypeSignalCollected, "IND-EXT-005", values.FirstVersion(), signal)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, evt.ID)
		assert.Equal(t, TypeSignalCollected, evt.Type)
		assert.Equal(t, "IND-EXT-005", evt.AggregateID)
		assert.Equal(t, uint64(1), evt.Version.Value())
		assert.True(t, evt.Timestamp.IsZero(), "timestamp is store-assigned")

		decoded, err := evt.SignalCollected()
		require.NoError(t, err)
		assert.Equal(t, signal, decoded)
	})

	t.Run("ids are never reused", func(t *testing.T) {
		a, err := New(TypeSignalCollected, "agg", values.FirstVersion(), signal)
		require.NoError(t, err)
		b, err := New(TypeSignalCollected, "agg", values.FirstVersion(), signal)
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		_, err := New(Type("user-action"), "agg", values.FirstVersion(), signal)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("missing aggregate rejected", func(t *testing.T) {
		_, err := New(TypeSignalCollected, "", values.FirstVersion(), signal)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("zero version rejected", func(t *testing.T) {
		_, err := New(TypeSignalCollected, "agg", values.Version{}, signal)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("nil payload rejected", func(t *testing.T) {
		_, err := New(TypeSignalCollected, "agg", values.FirstVersion(), nil)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})
}

func TestType_IsValid(t *testing.T) {
	for _, typ := range AllTypes() {
		assert.True(t, typ.IsValid(), typ)
	}
	assert.False(t, Type("").IsValid())
	assert.False(t, Type("data-updated").IsValid())
}

func TestEvent_Clone(t *testing.T) {
	evt, err := New(TypeThreatDetected, "IND-SCS-001", values.MustNewVersion(3), ThreatDetected{
		Category:   "Activism / Physical Security",
		Actor:      "LAV",
		Confidence: 75,
	})
	require.NoError(t, err)
	evt.WithCorrelation("corr-1", "cause-1")

	clone := evt.Clone()
	assert.Equal(t, evt, clone)

	// Mutating the clone's payload must not touch the original.
	clone.Payload[0] = '?'
	assert.NotEqual(t, evt.Payload, clone.Payload)
}

func TestEvent_DecodeWrongType(t *testing.T) {
	evt, err := New(TypeAlertTriggered, "IND-RCC-002", values.FirstVersion(), AlertTriggered{
		Priority: "HIGH",
		Headline: "Certification challenge published",
	})
	require.NoError(t, err)

	_, err = evt.SignalCollected()
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	alert, err := evt.AlertTriggered()
	require.NoError(t, err)
	assert.Equal(t, "HIGH", alert.Priority)
}
