package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tangled.sh/tangled.sh/provisioner/notifier"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
)

func setup(t *testing.T) *DB {
	t.Helper()

	d, err := Make(filepath.Join(t.TempDir(), "orchestrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	return d
}

func seedOrg(t *testing.T, d *DB) *models.Organization {
	t.Helper()

	org := &models.Organization{Name: "acme"}
	require.NoError(t, d.CreateOrganization(context.Background(), org))
	return org
}

func TestOrganizationRoundTrip(t *testing.T) {
	d := setup(t)
	ctx := context.Background()

	org := seedOrg(t, d)
	assert.NotEmpty(t, org.Id)

	got, err := d.GetOrganization(ctx, org.Id)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name)
	assert.False(t, got.Created.IsZero())

	_, err = d.GetOrganization(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestInsertTemplateIfAbsent(t *testing.T) {
	d := setup(t)
	ctx := context.Background()
	org := seedOrg(t, d)

	first := &models.Template{Organization: org.Id, Name: "Plan", Version: "1.0.0", Tcl: "a"}
	inserted, err := d.InsertTemplateIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	again := &models.Template{Organization: org.Id, Name: "Plan", Version: "1.0.0", Tcl: "b"}
	inserted, err = d.InsertTemplateIfAbsent(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted)

	templates, err := d.GetTemplates(ctx, org.Id)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "a", templates[0].Tcl)

	// a plain create hits the unique constraint
	err = d.CreateTemplate(ctx, &models.Template{Organization: org.Id, Name: "Plan", Tcl: "c"})
	assert.Error(t, err)

	got, err := d.GetTemplate(ctx, first.Id)
	require.NoError(t, err)
	assert.Equal(t, "Plan", got.Name)
}

func TestWorkspaceAndWebhook(t *testing.T) {
	d := setup(t)
	ctx := context.Background()
	org := seedOrg(t, d)

	ws := &models.Workspace{
		Organization: org.Id,
		Name:         "infra",
		Source:       "https://github.com/acme/infra.git",
		Branch:       "main",
		Vcs: models.Vcs{
			Kind:        models.VcsGitHub,
			ApiUrl:      "https://api.github.com",
			AccessToken: "token",
		},
	}
	require.NoError(t, d.CreateWorkspace(ctx, ws))

	got, err := d.GetWorkspace(ctx, ws.Id)
	require.NoError(t, err)
	assert.Equal(t, ws.Vcs, got.Vcs)
	assert.Equal(t, ws.Source, got.Source)

	wh := &models.Webhook{Workspace: ws.Id}
	require.NoError(t, d.CreateWebhook(ctx, wh))
	require.NoError(t, d.SetWebhookRemoteURL(ctx, wh.Id, "https://api.github.com/repos/acme/infra/hooks/1"))

	gotWh, err := d.GetWebhook(ctx, wh.Id)
	require.NoError(t, err)
	assert.Equal(t, "https://api.github.com/repos/acme/infra/hooks/1", gotWh.RemoteUrl)

	assert.ErrorIs(t, d.SetWebhookRemoteURL(ctx, "missing", "x"), ErrNotFound)

	require.NoError(t, d.DeleteWebhook(ctx, wh.Id))
	_, err = d.GetWebhook(ctx, wh.Id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobSteps(t *testing.T) {
	d := setup(t)
	ctx := context.Background()
	org := seedOrg(t, d)

	job := &models.Job{Organization: org.Id}
	require.NoError(t, d.CreateJob(ctx, job))
	assert.NotZero(t, job.Id)

	require.NoError(t, d.SetJobTcl(ctx, job.Id, "tcl"))

	tcl, err := d.GetJobTcl(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, "tcl", tcl)

	for _, n := range []int{200, 100, 150} {
		require.NoError(t, d.CreateStep(ctx, &models.Step{
			Job:        job.Id,
			StepNumber: n,
			Name:       "step",
			Status:     models.StatusPending,
		}))
	}

	got, err := d.GetJob(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, "tcl", got.Tcl)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, 100, got.Steps[0].StepNumber)
	assert.Equal(t, 150, got.Steps[1].StepNumber)
	assert.Equal(t, 200, got.Steps[2].StepNumber)

	first, err := d.GetFirstPendingStep(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, 100, first.StepNumber)

	require.NoError(t, d.UpdateStepStatus(ctx, first.Id, models.StatusPending, models.StatusCompleted, "ok"))

	// the expected status no longer matches
	err = d.UpdateStepStatus(ctx, first.Id, models.StatusPending, models.StatusRunning, "")
	assert.ErrorIs(t, err, ErrStatusChanged)

	err = d.UpdateStepStatus(ctx, "missing", models.StatusPending, models.StatusRunning, "")
	assert.ErrorIs(t, err, ErrNotFound)

	next, err := d.GetFirstPendingStep(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, 150, next.StepNumber)

	completed, err := d.GetStepsByStatus(ctx, job.Id, models.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "ok", completed[0].Output)
}

func TestGetFirstPendingStepNone(t *testing.T) {
	d := setup(t)
	ctx := context.Background()
	org := seedOrg(t, d)

	job := &models.Job{Organization: org.Id}
	require.NoError(t, d.CreateJob(ctx, job))

	_, err := d.GetFirstPendingStep(ctx, job.Id)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = d.GetJob(ctx, job.Id+1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.GetJobTcl(ctx, job.Id+1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEventsCursor(t *testing.T) {
	d := setup(t)
	ctx := context.Background()
	n := notifier.New()
	ch := n.Subscribe()
	defer n.Unsubscribe(ch)

	for i := range 3 {
		se := models.StepEvent{Kind: models.EventStepCreated, Job: 1, StepNumber: (i + 1) * 100}
		require.NoError(t, d.CreateStepEvent(ctx, se, n))
	}
	assert.Len(t, ch, 1)

	evts, err := d.GetEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, evts, 3)

	var se models.StepEvent
	require.NoError(t, json.Unmarshal([]byte(evts[0].EventJson), &se))
	assert.Equal(t, 100, se.StepNumber)

	rest, err := d.GetEvents(ctx, evts[0].Id)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}
