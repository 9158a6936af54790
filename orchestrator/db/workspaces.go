package db

import (
	"context"

	"github.com/google/uuid"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
)

func (d *DB) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	if ws.Id == "" {
		ws.Id = uuid.NewString()
	}

	_, err := d.ExecContext(ctx, `
		insert into workspaces (
			id, organization, name, source, branch,
			vcs_kind, vcs_api_url, vcs_access_token, approval_team
		)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ws.Id, ws.Organization, ws.Name, ws.Source, ws.Branch,
		string(ws.Vcs.Kind), ws.Vcs.ApiUrl, ws.Vcs.AccessToken, ws.ApprovalTeam,
	)
	return err
}

func (d *DB) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var ws models.Workspace
	var kind, created string

	err := d.QueryRowContext(ctx, `
		select
			id, organization, name, source, branch,
			vcs_kind, vcs_api_url, vcs_access_token, approval_team, created
		from workspaces
		where id = ?`,
		id,
	).Scan(
		&ws.Id, &ws.Organization, &ws.Name, &ws.Source, &ws.Branch,
		&kind, &ws.Vcs.ApiUrl, &ws.Vcs.AccessToken, &ws.ApprovalTeam, &created,
	)
	if err != nil {
		return nil, notFound(err)
	}

	ws.Vcs.Kind = models.VcsKind(kind)
	ws.Created = parseTime(created)
	return &ws, nil
}
