// Package intelligence is the write side of the pipeline. Every command
// follows the same shape: load the stream, fold it, check the business rules
// against current state, then append exactly one event at the next version.
// A lost version race is retried a bounded number of times before the caller
// is told to back off.
package intelligence

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kestrelwatch/sentinel/internal/domain/errors"
	"github.com/kestrelwatch/sentinel/internal/domain/event"
	"github.com/kestrelwatch/sentinel/internal/domain/indicator"
	"github.com/kestrelwatch/sentinel/internal/domain/values"
	"github.com/kestrelwatch/sentinel/internal/infrastructure/eventstore"
	"github.com/kestrelwatch/sentinel/internal/infrastructure/telemetry"
	"github.com/kestrelwatch/sentinel/internal/metrics"
)

// maxConflictRetries bounds how many times a command re-reads and re-appends
// after losing a version race before giving up with a busy error.
const maxConflictRetries = 3

// Subscriber receives each successfully appended event, in append order.
// Used by the projection service to stay incrementally up to date.
type Subscriber func(evt *event.Event)

// Processor validates commands against folded aggregate state and appends
// the resulting events.
type Processor struct {
	store       eventstore.Store
	definitions map[string]indicator.Definition
	validate    *validator.Validate
	logger      *zap.Logger
	metrics     *metrics.Registry
	tracer      trace.Tracer
	subscribers []Subscriber
}

// NewProcessor builds a processor over the given store and indicator
// definitions.
func NewProcessor(store eventstore.Store, defs []indicator.Definition, logger *zap.Logger, reg *metrics.Registry) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	byID := make(map[string]indicator.Definition, len(defs))
	for _, def := range defs {
		byID[def.ID] = def
	}
	return &Processor{
		store:       store,
		definitions: byID,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
		metrics:     reg,
		tracer:      telemetry.Tracer("intelligence.processor"),
	}
}

// Subscribe registers a subscriber for appended events. Not safe to call
// concurrently with command handling; wire subscribers at startup.
func (p *Processor) Subscribe(sub Subscriber) {
	p.subscribers = append(p.subscribers, sub)
}

// Definitions returns the configured indicator definitions.
func (p *Processor) Definitions() []indicator.Definition {
	defs := make([]indicator.Definition, 0, len(p.definitions))
	for _, def := range p.definitions {
		defs = append(defs, def)
	}
	return defs
}

// CollectSignal records a raw signal. This is the only command that may
// create a new stream.
func (p *Processor) CollectSignal(ctx context.Context, cmd CollectSignalCommand) (*event.Event, error) {
	return p.execute(ctx, CommandCollectSignal, cmd.AggregateID, &cmd.Signal,
		func(ind *indicator.Indicator, exists bool) (event.Type, any, error) {
			return event.TypeSignalCollected, cmd.Signal, nil
		})
}

// DetectThreat records a confirmed threat on an existing stream.
func (p *Processor) DetectThreat(ctx context.Context, cmd DetectThreatCommand) (*event.Event, error) {
	return p.execute(ctx, CommandDetectThreat, cmd.AggregateID, &cmd.Threat,
		func(ind *indicator.Indicator, exists bool) (event.Type, any, error) {
			if !exists {
				return "", nil, errors.NewNotFoundError("aggregate", cmd.AggregateID)
			}
			return event.TypeThreatDetected, cmd.Threat, nil
		})
}

// CompleteAnalysis records a finished analytic product on an existing stream.
func (p *Processor) CompleteAnalysis(ctx context.Context, cmd CompleteAnalysisCommand) (*event.Event, error) {
	return p.execute(ctx, CommandCompleteAnalysis, cmd.AggregateID, &cmd.Analysis,
		func(ind *indicator.Indicator, exists bool) (event.Type, any, error) {
			if !exists {
				return "", nil, errors.NewNotFoundError("aggregate", cmd.AggregateID)
			}
			return event.TypeAnalysisCompleted, cmd.Analysis, nil
		})
}

// TriggerAlert raises an alert. HIGH and CRITICAL priority alerts are only
// legal once the indicator has at least one triggered sub-indicator, so an
// alert can never outrun the evidence behind it.
func (p *Processor) TriggerAlert(ctx context.Context, cmd TriggerAlertCommand) (*event.Event, error) {
	return p.execute(ctx, CommandTriggerAlert, cmd.AggregateID, &cmd.Alert,
		func(ind *indicator.Indicator, exists bool) (event.Type, any, error) {
			if !exists {
				return "", nil, errors.NewNotFoundError("aggregate", cmd.AggregateID)
			}
			if (cmd.Alert.Priority == "HIGH" || cmd.Alert.Priority == "CRITICAL") && !ind.Triggered() {
				return "", nil, errors.NewValidationError("ALERT_UNSUPPORTED",
					"high-priority alert requires a triggered indicator").
					WithDetails(map[string]any{"aggregate_id": cmd.AggregateID})
			}
			return event.TypeAlertTriggered, cmd.Alert, nil
		})
}

// DeescalateIndicator explicitly returns an indicator to GREEN with a
// justification. De-escalating an indicator that is already GREEN is a
// validation failure, not a no-op, so operator mistakes surface.
func (p *Processor) DeescalateIndicator(ctx context.Context, cmd DeescalateIndicatorCommand) (*event.Event, error) {
	if _, ok := p.definitions[cmd.AggregateID]; !ok {
		return nil, errors.NewNotFoundError("indicator", cmd.AggregateID)
	}
	return p.execute(ctx, CommandDeescalateIndicator, cmd.AggregateID, &cmd,
		func(ind *indicator.Indicator, exists bool) (event.Type, any, error) {
			if !exists {
				return "", nil, errors.NewNotFoundError("aggregate", cmd.AggregateID)
			}
			if ind.Status == indicator.StatusGreen {
				return "", nil, errors.NewValidationError("ALREADY_GREEN",
					"indicator is already at baseline status")
			}
			return event.TypeStatusChanged, event.StatusChanged{
				From:          string(ind.Status),
				To:            string(indicator.StatusGreen),
				Justification: cmd.Justification,
				Actor:         cmd.Actor,
			}, nil
		})
}

// decideFunc inspects the folded state and either rejects the command or
// names the single event to append. exists is false for an empty stream.
type decideFunc func(ind *indicator.Indicator, exists bool) (event.Type, any, error)

func (p *Processor) execute(ctx context.Context, cmdType CommandType, aggregateID string, input any, decide decideFunc) (*event.Event, error) {
	ctx, span := p.tracer.Start(ctx, fmt.Sprintf("command.%s", cmdType))
	defer span.End()
	span.SetAttributes(
		attribute.String("command_type", string(cmdType)),
		attribute.String("aggregate_id", aggregateID),
	)

	evt, err := p.run(ctx, cmdType, aggregateID, input, decide)
	if err != nil {
		telemetry.RecordError(span, err)
		p.recordOutcome(cmdType, outcomeFor(err))
		return nil, err
	}

	p.recordOutcome(cmdType, "accepted")
	if p.metrics != nil {
		p.metrics.AppendsTotal.WithLabelValues(string(evt.Type)).Inc()
	}
	p.logger.Info("command accepted",
		zap.String("command_type", string(cmdType)),
		zap.String("aggregate_id", evt.AggregateID),
		zap.String("event_type", string(evt.Type)),
		zap.String("version", evt.Version.String()))

	for _, sub := range p.subscribers {
		sub(evt.Clone())
	}
	return evt, nil
}

func (p *Processor) run(ctx context.Context, cmdType CommandType, aggregateID string, input any, decide decideFunc) (*event.Event, error) {
	if aggregateID == "" {
		return nil, errors.NewValidationError("MISSING_AGGREGATE_ID", "aggregate ID is required")
	}
	if err := p.validate.Struct(input); err != nil {
		return nil, errors.NewValidationError("VALIDATION_FAILED", "command payload is invalid").
			WithCause(err)
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewInternalError("command cancelled").WithCause(err)
		}

		stream, err := p.store.ReadStream(ctx, aggregateID, values.Version{})
		if err != nil {
			return nil, err
		}

		ind, err := indicator.Fold(p.definitionFor(aggregateID), stream)
		if err != nil {
			return nil, err
		}

		eventType, payload, err := decide(ind, len(stream) > 0)
		if err != nil {
			return nil, err
		}

		evt, err := event.New(eventType, aggregateID, ind.Version.Next(), payload)
		if err != nil {
			return nil, err
		}

		err = p.store.Append(ctx, evt)
		if err == nil {
			return evt, nil
		}
		if !errors.IsConflict(err) {
			return nil, err
		}

		if p.metrics != nil {
			p.metrics.ConflictsTotal.Inc()
		}
		if attempt >= maxConflictRetries {
			return nil, errors.NewBusyError("command lost the version race repeatedly, retry later").
				WithDetails(map[string]any{"aggregate_id": aggregateID, "attempts": attempt + 1})
		}
		if p.metrics != nil {
			p.metrics.RetriesTotal.Inc()
		}
		p.logger.Debug("append conflict, retrying",
			zap.String("aggregate_id", aggregateID),
			zap.Int("attempt", attempt+1))
	}
}

// definitionFor returns the configured definition, or a bare one for streams
// outside the configured indicator set. The bare definition has no trigger
// terms, so unconfigured streams accumulate events without ever escalating.
func (p *Processor) definitionFor(aggregateID string) indicator.Definition {
	if def, ok := p.definitions[aggregateID]; ok {
		return def
	}
	return indicator.Definition{ID: aggregateID, WarningThreshold: 1}
}

func (p *Processor) recordOutcome(cmdType CommandType, outcome string) {
	if p.metrics != nil {
		p.metrics.CommandsTotal.WithLabelValues(string(cmdType), outcome).Inc()
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.IsValidation(err):
		return "rejected"
	case errors.IsNotFound(err):
		return "not_found"
	case errors.IsBusy(err):
		return "busy"
	case errors.IsUnavailable(err):
		return "unavailable"
	default:
		return "error"
	}
}
