package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"tangled.sh/tangled.sh/provisioner/flow"
	"tangled.sh/tangled.sh/provisioner/orchestrator/approval"
	"tangled.sh/tangled.sh/provisioner/orchestrator/db"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
)

// Next is the lowest numbered pending step of a job together with the
// flow entry it was created from.
type Next struct {
	StepId string     `json:"stepId"`
	Entry  flow.Entry `json:"flow"`
}

// Next selects the pending step with the smallest step number in one
// query and resolves its flow entry from the job's stored flow. It
// returns nil when nothing is pending or the step has no matching entry.
func (e *Engine) Next(ctx context.Context, job *models.Job) (*Next, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Next", trace.WithAttributes(attribute.Int64("job.id", job.Id)))
	defer span.End()

	step, err := e.db.GetFirstPendingStep(ctx, job.Id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("selecting next step: %w", err))
	}

	tcl, err := e.db.GetJobTcl(ctx, job.Id)
	if err != nil {
		return nil, fail(span, fmt.Errorf("loading job flow: %w", err))
	}

	def := e.parser.Parse(tcl)
	entry, ok := def.Entry(step.StepNumber)
	if !ok {
		e.l.Warn("pending step has no flow entry", "job", job.Id, "step", step.StepNumber)
		return nil, nil
	}

	span.SetAttributes(attribute.Int("step.number", step.StepNumber))
	return &Next{StepId: step.Id, Entry: entry}, nil
}

func (e *Engine) NextFlow(ctx context.Context, job *models.Job) (*flow.Entry, error) {
	next, err := e.Next(ctx, job)
	if err != nil || next == nil {
		return nil, err
	}
	return &next.Entry, nil
}

// CurrentStepID returns the id of the step NextFlow would hand out, or the
// empty string.
func (e *Engine) CurrentStepID(ctx context.Context, job *models.Job) (string, error) {
	step, err := e.db.GetFirstPendingStep(ctx, job.Id)
	if errors.Is(err, db.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("selecting current step: %w", err)
	}
	return step.Id, nil
}

// UpdateStepStatus records progress reported by an executor. Steps only
// move forward: pending, running, then completed or failed.
func (e *Engine) UpdateStepStatus(ctx context.Context, stepId string, status models.StepStatus, output, actor string) (*models.Step, error) {
	ctx, span := e.tracer.Start(ctx, "engine.UpdateStepStatus", trace.WithAttributes(
		attribute.String("step.id", stepId),
		attribute.String("step.status", string(status)),
	))
	defer span.End()

	step, err := e.db.GetStep(ctx, stepId)
	if err != nil {
		return nil, fail(span, fmt.Errorf("loading step: %w", err))
	}

	if !step.Status.CanTransition(status) {
		return nil, fail(span, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, step.Status, status))
	}

	err = e.db.UpdateStepStatus(ctx, stepId, step.Status, status, output)
	if errors.Is(err, db.ErrStatusChanged) {
		return nil, fail(span, fmt.Errorf("%w: step %s changed concurrently", ErrInvalidTransition, stepId))
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("updating step: %w", err))
	}

	step.Status = status
	step.Output = output

	if err := e.db.CreateStepEvent(ctx, models.NewStepEvent(models.EventStepStatus, *step, actor), e.n); err != nil {
		e.l.Error("failed to record step event", "step", stepId, "err", err)
	}
	e.l.Info("step status changed", "job", step.Job, "step", step.StepNumber, "status", status, "actor", actor)

	return step, nil
}

// Approve completes the job's next step on behalf of p, provided it is an
// approval step and p belongs to the approving team.
func (e *Engine) Approve(ctx context.Context, job *models.Job, p approval.Principal) (*models.Step, error) {
	next, err := e.Next(ctx, job)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, ErrNoPendingStep
	}
	if next.Entry.Type != flow.TypeApproval {
		return nil, fmt.Errorf("%w: step %d is %s", ErrNotApprovalStep, next.Entry.Step, next.Entry.Type)
	}

	ok, err := e.gate.MayApprove(ctx, job, next.Entry, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is not in team %s", ErrApprovalDenied, p, approval.EffectiveTeam(job, next.Entry))
	}

	return e.UpdateStepStatus(ctx, next.StepId, models.StatusCompleted, "approved by "+p.String(), p.String())
}
