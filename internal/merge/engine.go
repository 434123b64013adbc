package merge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/and161185/recipient-keeper/internal/errs"
	"github.com/and161185/recipient-keeper/internal/model"
	"github.com/and161185/recipient-keeper/internal/redact"
	"github.com/and161185/recipient-keeper/internal/repository"
)

const instrumentationName = "github.com/and161185/recipient-keeper/internal/merge"

// Engine runs merge-and-fetch against a recipient repository.
// Calls are serialized; each call is one store transaction.
type Engine struct {
	repo    repository.RecipientRepository
	sink    repository.EventSink
	log     *zap.Logger
	selfACI *model.ACI

	mu sync.Mutex

	tracer     trace.Tracer
	opsApplied metric.Int64Counter
	violations metric.Int64Counter
	duration   metric.Float64Histogram
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithEventSink delivers merge events after commit.
func WithEventSink(s repository.EventSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithSelfACI marks the local account; merges touching it need ChangeSelf.
func WithSelfACI(aci *model.ACI) Option {
	return func(e *Engine) { e.selfACI = aci }
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.initMetrics(mp.Meter(instrumentationName)) }
}

// NewEngine builds an Engine over repo.
func NewEngine(repo repository.RecipientRepository, opts ...Option) *Engine {
	e := &Engine{
		repo:   repo,
		log:    zap.NewNop(),
		tracer: otel.Tracer(instrumentationName),
	}
	e.initMetrics(otel.Meter(instrumentationName))
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) initMetrics(m metric.Meter) {
	var err error
	if e.opsApplied, err = m.Int64Counter("recipients.merge.ops",
		metric.WithDescription("Merge ops applied, by op kind.")); err != nil {
		e.opsApplied = noop.Int64Counter{}
	}
	if e.violations, err = m.Int64Counter("recipients.merge.invariant_violations",
		metric.WithDescription("Merges that left no record matching any criterion.")); err != nil {
		e.violations = noop.Int64Counter{}
	}
	if e.duration, err = m.Float64Histogram("recipients.merge.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Merge-and-fetch latency.")); err != nil {
		e.duration = noop.Float64Histogram{}
	}
}

// MergeAndFetch resolves the supplied identifiers onto one canonical recipient, creating, updating
// or merging records as needed, and returns it. A result with ID 0 and a nil error means the merge
// could not converge; the violation is logged and counted.
func (e *Engine) MergeAndFetch(ctx context.Context, req model.MergeRequest) (res model.RecipientResult, err error) {
	if req.Criteria.Empty() {
		return model.RecipientResult{}, fmt.Errorf("merge: no identifier supplied: %w", errs.ErrInvalidArgument)
	}

	ctx, span := e.tracer.Start(ctx, "recipients.MergeAndFetch", trace.WithAttributes(
		attribute.Int("recipients.criteria", req.Count()),
		attribute.String("recipients.trust", req.Trust.String()),
		attribute.Bool("recipients.change_self", req.ChangeSelf),
	))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("recipients.changed", res.Changed), attribute.Int64("recipients.id", res.ID))
		span.End()
		e.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	err = e.repo.WithTx(ctx, func(tx repository.RecipientTx) error {
		out, err := e.mergeTx(ctx, tx, req)
		res = out
		return err
	})
	if err != nil {
		return model.RecipientResult{}, err
	}

	log := e.log.With(
		zap.Int64("recipient_id", res.ID),
		zap.Bool("changed", res.Changed),
		redact.Field("e164", req.E164),
	)
	if res.Changed {
		log.Info("recipient merged", zap.Int("events", len(res.Events)))
	} else {
		log.Debug("recipient resolved")
	}
	for _, ev := range res.Events {
		log.Info("merge event",
			zap.String("kind", string(ev.Kind)),
			zap.Int64("subject", ev.RecipientID),
			redact.Field("old_e164", ev.OldE164),
			redact.Field("new_e164", ev.NewE164),
		)
	}
	if e.sink != nil && len(res.Events) > 0 {
		if perr := e.sink.PublishEvents(ctx, res.Events); perr != nil {
			log.Warn("publish merge events", zap.Error(perr))
		}
	}
	return res, nil
}

func (e *Engine) mergeTx(ctx context.Context, tx repository.RecipientTx, req model.MergeRequest) (model.RecipientResult, error) {
	m, err := tx.Lookup(ctx, req.Criteria)
	if err != nil {
		return model.RecipientResult{}, fmt.Errorf("lookup: %w", err)
	}
	plan, err := PlanMerge(req, m)
	if err != nil {
		return model.RecipientResult{}, err
	}
	if plan.Resolved != nil {
		return model.ResultFrom(plan.Resolved), nil
	}

	if err := e.guardSelf(ctx, tx, req, plan.Ops); err != nil {
		return model.RecipientResult{}, err
	}
	x := executor{tx: tx, log: e.log}
	applied := 0
	count := func(op model.MergeOp) {
		applied++
		e.opsApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op.Kind())))
	}
	if err := x.run(ctx, plan.Ops, count); err != nil {
		return model.RecipientResult{}, err
	}

	m, err = tx.Lookup(ctx, req.Criteria)
	if err != nil {
		return model.RecipientResult{}, fmt.Errorf("lookup after merge: %w", err)
	}
	canonical, backfill := Finalize(req, m)
	if canonical == nil {
		e.violations.Add(ctx, 1)
		e.log.Error("merge left no recipient matching the request",
			zap.Int("ops", len(plan.Ops)),
			zap.Int("criteria", req.Count()),
		)
		return model.RecipientResult{}, nil
	}
	if len(backfill) > 0 {
		e.log.Warn("finalizer backfilling identifiers the plan did not place",
			zap.Int64("recipient_id", canonical.ID),
			zap.Int("ops", len(backfill)),
		)
		if err := e.guardSelf(ctx, tx, req, backfill); err != nil {
			return model.RecipientResult{}, err
		}
		if err := x.run(ctx, backfill, count); err != nil {
			return model.RecipientResult{}, fmt.Errorf("backfill: %w", err)
		}
		if canonical, err = tx.Get(ctx, canonical.ID); err != nil {
			return model.RecipientResult{}, fmt.Errorf("reload canonical: %w", err)
		}
	}

	res := model.ResultFrom(canonical)
	res.Changed = applied > 0
	res.Events = plan.Events
	return res, nil
}

// guardSelf rejects ops that would strip identifiers off, or merge away, the local account.
func (e *Engine) guardSelf(ctx context.Context, tx repository.RecipientTx, req model.MergeRequest, ops []model.MergeOp) error {
	if e.selfACI == nil || req.ChangeSelf || len(ops) == 0 {
		return nil
	}
	m, err := tx.Lookup(ctx, model.Criteria{ACI: e.selfACI})
	if err != nil {
		return fmt.Errorf("lookup self: %w", err)
	}
	self := m.ByACI
	if self == nil {
		return nil
	}
	for _, op := range ops {
		if touchesSelf(op, self.ID) {
			return fmt.Errorf("%s on recipient %d: %w", op.Kind(), self.ID, errs.ErrSelfChange)
		}
	}
	return nil
}

func touchesSelf(op model.MergeOp, self int64) bool {
	switch op := op.(type) {
	case model.SetPNI:
		return op.ID == self
	case model.SetE164:
		return op.ID == self
	case model.Merge:
		return op.Source == self
	}
	return false
}
