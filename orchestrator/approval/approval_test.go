package approval

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tangled.sh/tangled.sh/provisioner/flow"
	"tangled.sh/tangled.sh/provisioner/log"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
	"tangled.sh/tangled.sh/provisioner/rbac"
)

func setup(t *testing.T) (*Gate, *rbac.Enforcer) {
	t.Helper()

	e, err := rbac.NewEnforcer(filepath.Join(t.TempDir(), "acl.db"))
	require.NoError(t, err)

	return NewGate(e, log.Discard()), e
}

func TestDefaultOpen(t *testing.T) {
	g, _ := setup(t)
	job := &models.Job{Id: 1, Organization: "acme"}
	entry := flow.Entry{Type: flow.TypeApproval, Step: 150}

	principals := []Principal{
		{Subject: "alice"},
		{Subject: "nobody"},
		{Subject: "bot", ServiceAccount: true, Application: "ci"},
		{},
	}

	for _, p := range principals {
		ok, err := g.MayApprove(context.Background(), job, entry, p)
		assert.NoError(t, err)
		assert.True(t, ok, p.String())
	}
}

func TestTeamMember(t *testing.T) {
	g, e := setup(t)
	require.NoError(t, e.AddTeamMember("acme", "TERRAFORM_CLI", "alice"))

	job := &models.Job{Id: 1, Organization: "acme"}
	entry := flow.Entry{Type: flow.TypeApproval, Step: 150, Team: "TERRAFORM_CLI"}

	ok, err := g.MayApprove(context.Background(), job, entry, Principal{Subject: "alice"})
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.MayApprove(context.Background(), job, entry, Principal{Subject: "bob"})
	assert.NoError(t, err)
	assert.False(t, ok)

	// same team name in another organization does not count
	other := &models.Job{Id: 2, Organization: "globex"}
	ok, err = g.MayApprove(context.Background(), other, entry, Principal{Subject: "alice"})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestServiceAccount(t *testing.T) {
	g, e := setup(t)
	require.NoError(t, e.AddServiceMember("acme", "TERRAFORM_CLI", "ci"))

	job := &models.Job{Id: 1, Organization: "acme"}
	entry := flow.Entry{Type: flow.TypeApproval, Step: 150, Team: "TERRAFORM_CLI"}

	ok, err := g.MayApprove(context.Background(), job, entry, Principal{Subject: "bot", ServiceAccount: true, Application: "ci"})
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.MayApprove(context.Background(), job, entry, Principal{Subject: "bot", ServiceAccount: true, Application: "other"})
	assert.NoError(t, err)
	assert.False(t, ok)

	// a human named like the application is not the application
	ok, err = g.MayApprove(context.Background(), job, entry, Principal{Subject: "ci"})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRevocationTakesEffectImmediately(t *testing.T) {
	g, e := setup(t)
	require.NoError(t, e.AddTeamMember("acme", "ops", "alice"))

	job := &models.Job{Id: 1, Organization: "acme"}
	entry := flow.Entry{Type: flow.TypeApproval, Step: 150, Team: "ops"}

	ok, err := g.MayApprove(context.Background(), job, entry, Principal{Subject: "alice"})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.RemoveTeamMember("acme", "ops", "alice"))

	ok, err = g.MayApprove(context.Background(), job, entry, Principal{Subject: "alice"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobTeamOverridesEntryTeam(t *testing.T) {
	g, e := setup(t)
	require.NoError(t, e.AddTeamMember("acme", "ops", "alice"))
	require.NoError(t, e.AddTeamMember("acme", "TERRAFORM_CLI", "bob"))

	job := &models.Job{Id: 1, Organization: "acme", ApprovalTeam: "ops"}
	entry := flow.Entry{Type: flow.TypeApproval, Step: 150, Team: "TERRAFORM_CLI"}
	assert.Equal(t, "ops", EffectiveTeam(job, entry))

	ok, err := g.MayApprove(context.Background(), job, entry, Principal{Subject: "alice"})
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.MayApprove(context.Background(), job, entry, Principal{Subject: "bob"})
	assert.NoError(t, err)
	assert.False(t, ok)
}
