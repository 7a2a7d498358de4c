package projection

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kestrelwatch/sentinel/internal/domain/errors"
	"github.com/kestrelwatch/sentinel/internal/domain/event"
	"github.com/kestrelwatch/sentinel/internal/domain/indicator"
	"github.com/kestrelwatch/sentinel/internal/domain/risk"
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
		{
			ID:               "IND-ACT-001",
			Description:      "Coordinated activism campaign",
			TriggerTerms:     []string{"protest", "boycott"},
			WarningThreshold: 3,
		},
	}
}

func setupTest(t *testing.T) (*Service, eventstore.Store, context.Context) {
	t.Helper()
	store := eventstore.NewMemoryStore(zaptest.NewLogger(t))
	t.Cleanup(func() { store.Close() })
	svc := NewService(store, testDefs(), risk.DefaultTables(), nil,
		zaptest.NewLogger(t), metrics.New())
	return svc, store, context.Background()
}

func appendSignal(t *testing.T, ctx context.Context, store eventstore.Store, id string, version uint64, title, location string) *event.Event {
	t.Helper()
	evt, err := event.New(event.TypeSignalCollected, id, values.MustNewVersion(version),
		event.SignalCollected{
			Title:      title,
			Location:   location,
			SourceID:   "unit",
			OccurredAt: time.Date(2026, time.May, 10, 9, 0, 0, 0, time.UTC),
		})
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, evt))
	return evt
}

func appendEvent(t *testing.T, ctx context.Context, store eventstore.Store, id string, version uint64, eventType event.Type, payload any) *event.Event {
	t.Helper()
	evt, err := event.New(eventType, id, values.MustNewVersion(version), payload)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, evt))
	return evt
}

func TestDashboard_EmptyLog(t *testing.T) {
	svc, _, ctx := setupTest(t)

	summary, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.StatusCounts[indicator.StatusGreen])
	assert.Equal(t, 0, summary.StatusCounts[indicator.StatusYellow])
	assert.Equal(t, 0, summary.StatusCounts[indicator.StatusRed])
	assert.False(t, summary.ExecutiveAttentionRequired)
	assert.Equal(t, risk.LevelMinimal, summary.MaxRiskLevel)
	assert.Empty(t, summary.HighProbabilityOperations)
	require.Len(t, summary.Indicators, 2)
	assert.Equal(t, "IND-ACT-001", summary.Indicators[0].ID, "indicators sorted by ID")
}

func TestDashboard_StatusCountsAndAttention(t *testing.T) {
	svc, store, ctx := setupTest(t)

	evt := appendSignal(t, ctx, store, "IND-SCS-001", 1, "staff surveillance observed", "")
	require.NoError(t, svc.Apply(evt))

	summary, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.StatusCounts[indicator.StatusYellow])
	assert.False(t, summary.ExecutiveAttentionRequired)

	evt = appendSignal(t, ctx, store, "IND-SCS-001", 2, "executive followed home", "")
	require.NoError(t, svc.Apply(evt))

	summary, err = svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.StatusCounts[indicator.StatusRed])
	assert.True(t, summary.ExecutiveAttentionRequired, "a RED indicator demands attention")
}

func TestDashboard_HighRiskAssessmentDemandsAttention(t *testing.T) {
	svc, store, ctx := setupTest(t)

	// A Shanghai geopolitical signal scores 15 (HIGH) without escalating
	// any indicator to RED.
	evt := appendSignal(t, ctx, store, "IND-ACT-001", 1,
		"export restrictions announced", "Shanghai, China")
	require.NoError(t, svc.Apply(evt))
	evt = appendEvent(t, ctx, store, "IND-ACT-001", 2, event.TypeThreatDetected,
		event.ThreatDetected{Category: "Geopolitical / Market Risk", Confidence: 70})
	require.NoError(t, svc.Apply(evt))

	summary, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.StatusCounts[indicator.StatusRed])
	assert.Equal(t, risk.LevelHigh, summary.MaxRiskLevel)
	assert.True(t, summary.ExecutiveAttentionRequired)
}

func TestDashboard_HighProbabilityOperations(t *testing.T) {
	svc, store, ctx := setupTest(t)

	evt := appendSignal(t, ctx, store, "IND-ACT-001", 1, "chatter about planning", "")
	require.NoError(t, svc.Apply(evt))

	evt = appendEvent(t, ctx, store, "IND-ACT-001", 2, event.TypeAnalysisCompleted,
		event.AnalysisCompleted{Operation: "coordinated store protests", Probability: 0.75, Timeframe: "2-4 weeks"})
	require.NoError(t, svc.Apply(evt))

	evt = appendEvent(t, ctx, store, "IND-ACT-001", 3, event.TypeAnalysisCompleted,
		event.AnalysisCompleted{Operation: "online petition only", Probability: 0.4})
	require.NoError(t, svc.Apply(evt))

	// Just below the floor: must not surface.
	evt = appendEvent(t, ctx, store, "IND-ACT-001", 4, event.TypeAnalysisCompleted,
		event.AnalysisCompleted{Operation: "localized picketing", Probability: 0.65})
	require.NoError(t, svc.Apply(evt))

	evt = appendEvent(t, ctx, store, "IND-ACT-001", 5, event.TypeAnalysisCompleted,
		event.AnalysisCompleted{Operation: "supply chain blockade", Probability: 0.9})
	require.NoError(t, svc.Apply(evt))

	summary, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	require.Len(t, summary.HighProbabilityOperations, 2, "only operations at or above 0.7 surface")
	assert.Equal(t, "supply chain blockade", summary.HighProbabilityOperations[0].Operation)
	assert.Equal(t, "coordinated store protests", summary.HighProbabilityOperations[1].Operation)
}

func TestIndicatorDetail(t *testing.T) {
	svc, store, ctx := setupTest(t)

	_, err := svc.IndicatorDetail("IND-UNKNOWN")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	evt := appendSignal(t, ctx, store, "IND-SCS-001", 1, "surveillance near warehouse", "Toronto")
	require.NoError(t, svc.Apply(evt))
	evt = appendEvent(t, ctx, store, "IND-SCS-001", 2, event.TypeThreatDetected,
		event.ThreatDetected{Category: "Supply Chain Disruption", Actor: "unknown", Confidence: 65})
	require.NoError(t, svc.Apply(evt))
	evt = appendEvent(t, ctx, store, "IND-SCS-001", 3, event.TypeAnalysisCompleted,
		event.AnalysisCompleted{Operation: "facility reconnaissance", Probability: 0.7})
	require.NoError(t, svc.Apply(evt))

	detail, err := svc.IndicatorDetail("IND-SCS-001")
	require.NoError(t, err)
	assert.Equal(t, indicator.StatusYellow, detail.Indicator.Status)
	assert.Equal(t, 65, detail.Indicator.Confidence)
	require.NotNil(t, detail.Assessment)
	assert.Equal(t, "Supply Chain Disruption", detail.Assessment.Category)
	assert.InEpsilon(t, 1.3, detail.Assessment.LocationMultiplier, 1e-9, "Toronto is a critical location")
	require.Len(t, detail.Operations, 1)
	assert.Equal(t, "facility reconnaissance", detail.Operations[0].Operation)
}

func TestIncrementalMatchesRebuild(t *testing.T) {
	incremental, store, ctx := setupTest(t)

	var appended []*event.Event
	appended = append(appended,
		appendSignal(t, ctx, store, "IND-SCS-001", 1, "staff surveillance reported", "Shanghai"))
	appended = append(appended,
		appendEvent(t, ctx, store, "IND-SCS-001", 2, event.TypeThreatDetected,
			event.ThreatDetected{Category: "Activism / Physical Security", Actor: "PETA", Confidence: 80}))
	appended = append(appended,
		appendSignal(t, ctx, store, "IND-ACT-001", 1, "protest announced outside flagship", "London"))
	appended = append(appended,
		appendEvent(t, ctx, store, "IND-ACT-001", 2, event.TypeAnalysisCompleted,
			event.AnalysisCompleted{Operation: "coordinated demonstrations", Probability: 0.8}))
	appended = append(appended,
		appendEvent(t, ctx, store, "IND-SCS-001", 3, event.TypeStatusChanged,
			event.StatusChanged{From: "YELLOW", To: "GREEN", Justification: "source retracted"}))

	for _, evt := range appended {
		require.NoError(t, incremental.Apply(evt))
	}

	replayed := NewService(store, testDefs(), risk.DefaultTables(), nil,
		zaptest.NewLogger(t), metrics.New())
	require.NoError(t, replayed.Rebuild(ctx))

	incSummary := incremental.buildSummary()
	repSummary := replayed.buildSummary()

	// GeneratedAt differs by construction; everything derived from the log
	// must match exactly.
	incSummary.GeneratedAt = time.Time{}
	repSummary.GeneratedAt = time.Time{}
	assert.Equal(t, repSummary, incSummary,
		"incremental state and a full replay must be indistinguishable")

	for _, id := range []string{"IND-SCS-001", "IND-ACT-001"} {
		incDetail, err := incremental.IndicatorDetail(id)
		require.NoError(t, err)
		repDetail, err := replayed.IndicatorDetail(id)
		require.NoError(t, err)
		assert.Equal(t, repDetail, incDetail)
	}
}

func TestApply_SkipsAlreadyApplied(t *testing.T) {
	svc, store, ctx := setupTest(t)

	evt := appendSignal(t, ctx, store, "IND-SCS-001", 1, "surveillance", "")
	require.NoError(t, svc.Apply(evt))
	require.NoError(t, svc.Apply(evt), "replaying an applied event is a no-op")

	detail, err := svc.IndicatorDetail("IND-SCS-001")
	require.NoError(t, err)
	assert.Equal(t, 1, detail.Indicator.TriggeredCount)
}

// corruptLogStore serves a fixed, gapped event list from ReadAll.
type corruptLogStore struct {
	eventstore.Store
	events []*event.Event
}

func (s *corruptLogStore) ReadAll(ctx context.Context, filter *eventstore.Filter) ([]*event.Event, error) {
	return s.events, nil
}

func TestRebuild_FailureKeepsPreviousModel(t *testing.T) {
	inner := eventstore.NewMemoryStore(zaptest.NewLogger(t))
	t.Cleanup(func() { inner.Close() })
	ctx := context.Background()

	good := appendSignal(t, ctx, inner, "IND-SCS-001", 1, "staff surveillance observed", "")

	gapped, err := event.New(event.TypeSignalCollected, "IND-SCS-001", values.MustNewVersion(3),
		event.SignalCollected{Title: "executive followed", SourceID: "unit"})
	require.NoError(t, err)

	store := &corruptLogStore{Store: inner, events: []*event.Event{good, gapped}}
	svc := NewService(store, testDefs(), risk.DefaultTables(), nil,
		zaptest.NewLogger(t), metrics.New())
	require.NoError(t, svc.Apply(good))

	detail, err := svc.IndicatorDetail("IND-SCS-001")
	require.NoError(t, err)
	require.Equal(t, indicator.StatusYellow, detail.Indicator.Status)

	// The gapped log makes the rebuild fail partway; queries must keep
	// seeing the state from before the rebuild, not a half-folded one.
	require.Error(t, svc.Rebuild(ctx))

	detail, err = svc.IndicatorDetail("IND-SCS-001")
	require.NoError(t, err)
	assert.Equal(t, indicator.StatusYellow, detail.Indicator.Status)
	assert.Equal(t, 1, detail.Indicator.TriggeredCount)
	assert.Equal(t, uint64(1), detail.Indicator.Version.Value())
}

func TestApply_RejectsVersionGap(t *testing.T) {
	svc, _, _ := setupTest(t)

	evt, err := event.New(event.TypeSignalCollected, "IND-SCS-001", values.MustNewVersion(3),
		event.SignalCollected{Title: "gap", SourceID: "unit"})
	require.NoError(t, err)

	require.Error(t, svc.Apply(evt), "a version gap means the model must rebuild")
}

func TestDashboard_CacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCacheWithClient(client, 30*time.Second, zaptest.NewLogger(t))
	t.Cleanup(func() { cache.Close() })

	store := eventstore.NewMemoryStore(zaptest.NewLogger(t))
	t.Cleanup(func() { store.Close() })
	svc := NewService(store, testDefs(), risk.DefaultTables(), cache,
		zaptest.NewLogger(t), metrics.New())
	ctx := context.Background()

	first, err := svc.Dashboard(ctx)
	require.NoError(t, err)

	// Second call is served from the cache and identical.
	second, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.True(t, first.GeneratedAt.Equal(second.GeneratedAt), "cached snapshot is returned as-is")

	// A write invalidates the snapshot, so the next read reflects it.
	evt := appendSignal(t, ctx, store, "IND-SCS-001", 1, "surveillance reported", "")
	require.NoError(t, svc.Apply(evt))

	third, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, third.StatusCounts[indicator.StatusYellow])
}

func TestCache_MissAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCacheWithClient(client, time.Second, zaptest.NewLogger(t))
	t.Cleanup(func() { cache.Close() })
	ctx := context.Background()

	_, err := cache.GetDashboard(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.SetDashboard(ctx, &DashboardSummary{
		GeneratedAt:  time.Now().UTC(),
		StatusCounts: map[indicator.Status]int{indicator.StatusGreen: 3},
	}))

	got, err := cache.GetDashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, got.StatusCounts[indicator.StatusGreen])

	mr.FastForward(2 * time.Second)
	_, err = cache.GetDashboard(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)
}
