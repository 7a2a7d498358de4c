// Package projection is the read side of the pipeline. It folds the event
// log into query-facing state: per-indicator status, derived risk
// assessments, and the dashboard summary. State is kept incrementally from
// appended events and can always be rebuilt from the log; the two paths
// yield identical results because they share the same fold.
package projection

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelwatch/sentinel/internal/domain/errors"
	"github.com/kestrelwatch/sentinel/internal/domain/event"
	"github.com/kestrelwatch/sentinel/internal/domain/indicator"
	"github.com/kestrelwatch/sentinel/internal/domain/risk"
	"github.com/kestrelwatch/sentinel/internal/infrastructure/eventstore"
	"github.com/kestrelwatch/sentinel/internal/metrics"
)

// highProbabilityFloor is the probability at which a predicted operation
// surfaces on the dashboard.
const highProbabilityFloor = 0.7

// Operation is one predicted operation from an analysis-completed event.
type Operation struct {
	AggregateID string    `json:"aggregate_id"`
	Operation   string    `json:"operation"`
	Probability float64   `json:"probability"`
	Timeframe   string    `json:"timeframe,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// DashboardSummary is the executive roll-up across all indicators.
type DashboardSummary struct {
	GeneratedAt                time.Time                `json:"generated_at"`
	StatusCounts               map[indicator.Status]int `json:"status_counts"`
	Indicators                 []indicator.Indicator    `json:"indicators"`
	HighProbabilityOperations  []Operation              `json:"high_probability_operations"`
	MaxRiskLevel               risk.Level               `json:"max_risk_level"`
	ExecutiveAttentionRequired bool                     `json:"executive_attention_required"`
}

// IndicatorDetail is the drill-down view for one indicator.
type IndicatorDetail struct {
	Indicator  indicator.Indicator `json:"indicator"`
	Assessment *risk.Assessment    `json:"assessment,omitempty"`
	Operations []Operation         `json:"operations"`
}

// Service holds the read model. All access goes through the mutex; reads
// return copies, never interior pointers.
type Service struct {
	store   eventstore.Store
	tables  risk.Tables
	defs    map[string]indicator.Definition
	defIDs  []string
	logger  *zap.Logger
	metrics *metrics.Registry
	cache   *Cache

	mu    sync.RWMutex
	model *model
}

// model is the folded state. Rebuild folds into a scratch model and swaps it
// in only on success, so a failed rebuild never leaves queries serving a
// partially folded state.
type model struct {
	indicators  map[string]*indicator.Indicator
	lastSignal  map[string]event.SignalCollected
	assessments map[string]risk.Assessment
	operations  []Operation
}

// NewService builds an empty read model over the configured indicators.
// cache may be nil; the service then always computes the dashboard fresh.
func NewService(store eventstore.Store, defs []indicator.Definition, tables risk.Tables, cache *Cache, logger *zap.Logger, reg *metrics.Registry) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	byID := make(map[string]indicator.Definition, len(defs))
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		byID[def.ID] = def
		ids = append(ids, def.ID)
	}
	sort.Strings(ids)

	s := &Service{
		store:   store,
		tables:  tables,
		defs:    byID,
		defIDs:  ids,
		logger:  logger,
		metrics: reg,
		cache:   cache,
	}
	s.model = s.newModel()
	return s
}

func (s *Service) newModel() *model {
	m := &model{
		indicators:  make(map[string]*indicator.Indicator, len(s.defs)),
		lastSignal:  make(map[string]event.SignalCollected),
		assessments: make(map[string]risk.Assessment),
	}
	for id, def := range s.defs {
		m.indicators[id] = indicator.New(def)
	}
	return m
}

// Apply folds one appended event into the read model. Events already applied
// are skipped so replays after a rebuild are harmless; a version gap is an
// error and the caller should Rebuild.
func (s *Service) Apply(evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.model.apply(evt, s.defs, s.tables); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ProjectionApplies.Inc()
	}
	s.invalidateCache()
	return nil
}

func (m *model) apply(evt *event.Event, defs map[string]indicator.Definition, tables risk.Tables) error {
	ind, ok := m.indicators[evt.AggregateID]
	if !ok {
		def, configured := defs[evt.AggregateID]
		if !configured {
			// Streams outside the configured set still fold, they just
			// never escalate.
			def = indicator.Definition{ID: evt.AggregateID, WarningThreshold: 1}
		}
		ind = indicator.New(def)
		m.indicators[evt.AggregateID] = ind
	}

	// Already-applied events are skipped so replays are harmless; a gap
	// surfaces as an error from the fold.
	if !ind.Version.LessThan(evt.Version) {
		return nil
	}
	if err := ind.Apply(evt); err != nil {
		return err
	}

	switch evt.Type {
	case event.TypeSignalCollected:
		sig, err := evt.SignalCollected()
		if err != nil {
			return err
		}
		m.lastSignal[evt.AggregateID] = sig

	case event.TypeThreatDetected:
		threat, err := evt.ThreatDetected()
		if err != nil {
			return err
		}
		// Score the most recent signal on the stream against the detected
		// category. With no prior signal the assessment is over an empty
		// signal, which still yields the category baseline.
		m.assessments[evt.AggregateID] = risk.Score(m.lastSignal[evt.AggregateID], threat.Category, tables)

	case event.TypeAnalysisCompleted:
		analysis, err := evt.AnalysisCompleted()
		if err != nil {
			return err
		}
		m.operations = append(m.operations, Operation{
			AggregateID: evt.AggregateID,
			Operation:   analysis.Operation,
			Probability: analysis.Probability,
			Timeframe:   analysis.Timeframe,
			RecordedAt:  evt.Timestamp,
		})

	case event.TypeAlertTriggered, event.TypeStatusChanged:
		// Folded into indicator state above; nothing extra to derive.
	}
	return nil
}

// Rebuild refolds the entire log in global append order into a scratch model
// and swaps it in atomically on success. On any error the previous model
// stays in place untouched. Incremental state and a rebuild from the same
// log are indistinguishable to queries.
func (s *Service) Rebuild(ctx context.Context) error {
	start := time.Now()
	events, err := s.store.ReadAll(ctx, nil)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ReadDuration.Observe(time.Since(start).Seconds())
	}

	scratch := s.newModel()
	for _, evt := range events {
		if err := scratch.apply(evt, s.defs, s.tables); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.model = scratch
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ProjectionRebuilds.Inc()
	}
	s.invalidateCache()
	s.logger.Info("read model rebuilt", zap.Int("events", len(events)))
	return nil
}

// Dashboard returns the executive summary, served from cache when one is
// configured and warm.
func (s *Service) Dashboard(ctx context.Context) (*DashboardSummary, error) {
	if s.cache != nil {
		if summary, err := s.cache.GetDashboard(ctx); err == nil {
			return summary, nil
		}
	}

	summary := s.buildSummary()

	if s.cache != nil {
		if err := s.cache.SetDashboard(ctx, summary); err != nil {
			s.logger.Warn("dashboard cache write failed", zap.Error(err))
		}
	}
	return summary, nil
}

func (s *Service) buildSummary() *DashboardSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[indicator.Status]int{
		indicator.StatusGreen:  0,
		indicator.StatusYellow: 0,
		indicator.StatusRed:    0,
	}
	indicators := make([]indicator.Indicator, 0, len(s.defIDs))
	anyRed := false
	for _, id := range s.defIDs {
		snap := s.model.indicators[id].Snapshot()
		counts[snap.Status]++
		if snap.Status == indicator.StatusRed {
			anyRed = true
		}
		indicators = append(indicators, snap)
	}

	maxLevel := risk.LevelMinimal
	for _, assessment := range s.model.assessments {
		maxLevel = risk.MaxLevel(maxLevel, assessment.Level)
	}

	ops := make([]Operation, 0)
	for _, op := range s.model.operations {
		if op.Probability >= highProbabilityFloor {
			ops = append(ops, op)
		}
	}
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Probability != ops[j].Probability {
			return ops[i].Probability > ops[j].Probability
		}
		return ops[i].Operation < ops[j].Operation
	})

	return &DashboardSummary{
		GeneratedAt:                time.Now().UTC(),
		StatusCounts:               counts,
		Indicators:                 indicators,
		HighProbabilityOperations:  ops,
		MaxRiskLevel:               maxLevel,
		ExecutiveAttentionRequired: anyRed || maxLevel.AtLeast(risk.LevelHigh),
	}
}

// IndicatorDetail returns the drill-down view for one configured indicator.
func (s *Service) IndicatorDetail(id string) (*IndicatorDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.defs[id]; !ok {
		return nil, errors.NewNotFoundError("indicator", id)
	}

	detail := &IndicatorDetail{
		Indicator:  s.model.indicators[id].Snapshot(),
		Operations: make([]Operation, 0),
	}
	if assessment, ok := s.model.assessments[id]; ok {
		a := assessment
		detail.Assessment = &a
	}
	for _, op := range s.model.operations {
		if op.AggregateID == id {
			detail.Operations = append(detail.Operations, op)
		}
	}
	return detail, nil
}

// Assess scores a signal against a category using the service's tables,
// without touching the log. Used by the ad-hoc assessment endpoint.
func (s *Service) Assess(sig event.SignalCollected, category string) risk.Assessment {
	return risk.Score(sig, category, s.tables)
}

func (s *Service) invalidateCache() {
	if s.cache == nil {
		return
	}
	// Best effort with a short deadline; a stale entry expires via TTL
	// anyway.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("dashboard cache invalidation failed", zap.Error(err))
	}
}
