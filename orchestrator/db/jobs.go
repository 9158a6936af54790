package db

import (
	"context"

	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
)

func (d *DB) CreateJob(ctx context.Context, job *models.Job) error {
	res, err := d.ExecContext(ctx, `
		insert into jobs (
			organization, workspace, template_reference, tcl,
			approval_team, via, created_by
		)
		values (?, ?, ?, ?, ?, ?, ?)`,
		job.Organization, job.Workspace, job.TemplateReference, job.Tcl,
		job.ApprovalTeam, job.Via, job.CreatedBy,
	)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	job.Id = id
	return nil
}

// GetJob loads a job together with all of its steps.
func (d *DB) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	var job models.Job
	var created string

	err := d.QueryRowContext(ctx, `
		select
			id, organization, workspace, template_reference, tcl,
			approval_team, via, created_by, created
		from jobs
		where id = ?`,
		id,
	).Scan(
		&job.Id, &job.Organization, &job.Workspace, &job.TemplateReference, &job.Tcl,
		&job.ApprovalTeam, &job.Via, &job.CreatedBy, &created,
	)
	if err != nil {
		return nil, notFound(err)
	}
	job.Created = parseTime(created)

	steps, err := d.GetSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Steps = steps

	return &job, nil
}

// GetJobTcl returns the job's stored flow text.
func (d *DB) GetJobTcl(ctx context.Context, id int64) (string, error) {
	var tcl string
	err := d.QueryRowContext(ctx, `select tcl from jobs where id = ?`, id).Scan(&tcl)
	if err != nil {
		return "", notFound(err)
	}
	return tcl, nil
}

func (d *DB) SetJobTcl(ctx context.Context, id int64, tcl string) error {
	res, err := d.ExecContext(ctx, `update jobs set tcl = ? where id = ?`, tcl, id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
