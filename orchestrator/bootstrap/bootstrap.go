package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"tangled.sh/tangled.sh/provisioner/flow"
	"tangled.sh/tangled.sh/provisioner/orchestrator/db"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
	"tangled.sh/tangled.sh/provisioner/orchestrator/queue"
)

const (
	TaskKind        = "org-setup"
	TemplateVersion = "1.0.0"

	runPrefix = "OrgSetup_"
)

type Payload struct {
	OrganizationId string `json:"organizationId"`
}

// RunID returns a fresh identity for one bootstrap run of org.
func RunID(org string) string {
	return runPrefix + org + "_" + uuid.NewString()
}

// Scheduler seeds new organizations with the default template library in
// the background.
type Scheduler struct {
	q  queue.Queue
	db *db.DB
	l  *slog.Logger
}

func NewScheduler(q queue.Queue, d *db.DB, l *slog.Logger) *Scheduler {
	return &Scheduler{
		q:  q,
		db: d,
		l:  l.With("component", "bootstrap"),
	}
}

// Schedule enqueues a bootstrap run for org and returns its run id.
// Failing to enqueue is logged and otherwise ignored; the organization is
// usable without its default templates.
func (s *Scheduler) Schedule(ctx context.Context, org string) string {
	payload, err := json.Marshal(Payload{OrganizationId: org})
	if err != nil {
		s.l.Error("failed to encode bootstrap payload", "org", org, "err", err)
		return ""
	}

	t := queue.Task{
		ID:      RunID(org),
		Kind:    TaskKind,
		Payload: payload,
	}

	if err := s.q.Enqueue(ctx, t); err != nil {
		s.l.Error("failed to schedule bootstrap", "org", org, "run", t.ID, "err", err)
		return ""
	}

	s.l.Info("scheduled bootstrap", "org", org, "run", t.ID)
	return t.ID
}

// Handle runs one bootstrap task. An organization that no longer exists is
// not an error.
func (s *Scheduler) Handle(ctx context.Context, t queue.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return fmt.Errorf("decoding bootstrap payload for %s: %w", t.ID, err)
	}

	l := s.l.With("org", p.OrganizationId, "run", t.ID)

	org, err := s.db.GetOrganization(ctx, p.OrganizationId)
	if errors.Is(err, db.ErrNotFound) {
		l.Warn("organization not found, skipping bootstrap")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading organization: %w", err)
	}

	created, err := Seed(ctx, s.db, org, l)
	if err != nil {
		return err
	}

	l.Info("bootstrap finished", "created", created)
	return nil
}

// Seed creates the default templates for org, skipping any the
// organization already has by name. It returns how many were created.
func Seed(ctx context.Context, d *db.DB, org *models.Organization, l *slog.Logger) (int, error) {
	created := 0
	for _, lt := range flow.Library() {
		t := &models.Template{
			Organization: org.Id,
			Name:         lt.Name,
			Description:  lt.Description,
			Version:      TemplateVersion,
			Tcl:          lt.Tcl(),
		}

		ok, err := d.InsertTemplateIfAbsent(ctx, t)
		if err != nil {
			return created, fmt.Errorf("creating template %q: %w", lt.Name, err)
		}
		if !ok {
			l.Debug("template already exists", "template", lt.Name)
			continue
		}

		l.Info("created template", "template", lt.Name, "id", t.Id)
		created++
	}

	return created, nil
}
