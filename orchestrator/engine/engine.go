package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"tangled.sh/tangled.sh/provisioner/flow"
	"tangled.sh/tangled.sh/provisioner/notifier"
	"tangled.sh/tangled.sh/provisioner/orchestrator/approval"
	"tangled.sh/tangled.sh/provisioner/orchestrator/db"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
)

const (
	instrumentationName = "tangled.sh/tangled.sh/provisioner/orchestrator/engine"
	lockStripes         = 64
)

var (
	ErrNoPendingStep     = errors.New("job has no pending step")
	ErrNotApprovalStep   = errors.New("next step is not an approval step")
	ErrApprovalDenied    = errors.New("principal may not approve this step")
	ErrInvalidTransition = errors.New("invalid step status transition")
)

// Engine turns flow definitions into steps and hands them out in order.
type Engine struct {
	db     *db.DB
	parser *flow.Parser
	gate   *approval.Gate
	n      *notifier.Notifier
	l      *slog.Logger

	// materialization is serialized per job; jobs share a fixed set of stripes
	locks [lockStripes]sync.Mutex

	tracer       trace.Tracer
	stepsCreated otelmetric.Int64Counter
}

func New(d *db.DB, parser *flow.Parser, gate *approval.Gate, n *notifier.Notifier, l *slog.Logger) (*Engine, error) {
	stepsCreated, err := otel.Meter(instrumentationName).Int64Counter(
		"steps_materialized",
		otelmetric.WithDescription("Number of steps created from flow definitions."),
		otelmetric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating steps counter: %w", err)
	}

	return &Engine{
		db:           d,
		parser:       parser,
		gate:         gate,
		n:            n,
		l:            l.With("component", "engine"),
		tracer:       otel.Tracer(instrumentationName),
		stepsCreated: stepsCreated,
	}, nil
}

func (e *Engine) lock(job int64) func() {
	mu := &e.locks[uint64(job)%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Materialize creates one pending step per flow entry of the job. A job
// that already has steps is returned unchanged. When the job references a
// template, the template's flow is copied onto the job first.
func (e *Engine) Materialize(ctx context.Context, jobId int64) (*models.Job, error) {
	unlock := e.lock(jobId)
	defer unlock()

	ctx, span := e.tracer.Start(ctx, "engine.Materialize", trace.WithAttributes(attribute.Int64("job.id", jobId)))
	defer span.End()

	l := e.l.With("job", jobId)

	job, err := e.db.GetJob(ctx, jobId)
	if err != nil {
		return nil, fail(span, fmt.Errorf("loading job: %w", err))
	}

	if job.HasSteps() {
		l.Debug("job already materialized", "steps", len(job.Steps))
		return job, nil
	}

	if job.TemplateReference != "" {
		tmpl, err := e.db.GetTemplate(ctx, job.TemplateReference)
		if err != nil {
			return nil, fail(span, fmt.Errorf("loading template %s: %w", job.TemplateReference, err))
		}
		if tmpl.Organization != job.Organization {
			return nil, fail(span, fmt.Errorf("loading template %s: %w", job.TemplateReference, db.ErrNotFound))
		}

		job.Tcl = tmpl.Tcl
		if err := e.db.SetJobTcl(ctx, job.Id, job.Tcl); err != nil {
			return nil, fail(span, fmt.Errorf("saving job flow: %w", err))
		}
		l.Info("copied template flow onto job", "template", tmpl.Id)
	}

	def := e.parser.Parse(job.Tcl)
	if def.IsError() {
		l.Warn("job flow is invalid, materializing error step")
	}

	steps := make([]models.Step, len(def.Flow))
	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range def.Flow {
		g.Go(func() error {
			s := models.Step{
				Job:        job.Id,
				StepNumber: entry.Step,
				Name:       entry.StepName(),
				Status:     models.StatusPending,
			}
			if err := e.db.CreateStep(gctx, &s); err != nil {
				return fmt.Errorf("creating step %d: %w", entry.Step, err)
			}
			steps[i] = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if derr := e.db.DeleteSteps(context.WithoutCancel(ctx), job.Id); derr != nil {
			l.Error("failed to clean up partially created steps", "err", derr)
		}
		return nil, fail(span, err)
	}

	for _, s := range steps {
		if err := e.db.CreateStepEvent(ctx, models.NewStepEvent(models.EventStepCreated, s, ""), e.n); err != nil {
			l.Error("failed to record step event", "step", s.Id, "err", err)
		}
	}
	e.stepsCreated.Add(ctx, int64(len(steps)))
	span.SetAttributes(attribute.Int("steps", len(steps)))
	l.Info("materialized job", "steps", len(steps))

	return e.db.GetJob(ctx, job.Id)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
