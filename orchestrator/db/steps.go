package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
)

const stepColumns = `id, job, step_number, name, status, output, created, updated`

type scanner interface {
	Scan(dest ...any) error
}

func scanStep(row scanner) (models.Step, error) {
	var s models.Step
	var status, created, updated string

	err := row.Scan(&s.Id, &s.Job, &s.StepNumber, &s.Name, &status, &s.Output, &created, &updated)
	if err != nil {
		return s, err
	}

	s.Status = models.StepStatus(status)
	s.Created = parseTime(created)
	s.Updated = parseTime(updated)
	return s, nil
}

func (d *DB) CreateStep(ctx context.Context, step *models.Step) error {
	if step.Id == "" {
		step.Id = uuid.NewString()
	}

	_, err := d.ExecContext(ctx, `
		insert into steps (id, job, step_number, name, status, output)
		values (?, ?, ?, ?, ?, ?)`,
		step.Id, step.Job, step.StepNumber, step.Name, string(step.Status), step.Output,
	)
	return err
}

func (d *DB) GetStep(ctx context.Context, id string) (*models.Step, error) {
	row := d.QueryRowContext(ctx, `select `+stepColumns+` from steps where id = ?`, id)

	s, err := scanStep(row)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// GetSteps returns every step of a job ordered by step number.
func (d *DB) GetSteps(ctx context.Context, job int64) ([]models.Step, error) {
	rows, err := d.QueryContext(ctx, `
		select `+stepColumns+`
		from steps
		where job = ?
		order by step_number asc`,
		job,
	)
	if err != nil {
		return nil, err
	}
	return collectSteps(rows)
}

func (d *DB) GetStepsByStatus(ctx context.Context, job int64, status models.StepStatus) ([]models.Step, error) {
	rows, err := d.QueryContext(ctx, `
		select `+stepColumns+`
		from steps
		where job = ? and status = ?
		order by step_number asc`,
		job, string(status),
	)
	if err != nil {
		return nil, err
	}
	return collectSteps(rows)
}

// GetFirstPendingStep returns the pending step with the lowest step number,
// or ErrNotFound when nothing is pending.
func (d *DB) GetFirstPendingStep(ctx context.Context, job int64) (*models.Step, error) {
	row := d.QueryRowContext(ctx, `
		select `+stepColumns+`
		from steps
		where job = ? and status = ?
		order by step_number asc
		limit 1`,
		job, string(models.StatusPending),
	)

	s, err := scanStep(row)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// UpdateStepStatus moves a step from one status to another. It fails with
// ErrStatusChanged if the step is no longer in the from status.
func (d *DB) UpdateStepStatus(ctx context.Context, id string, from, to models.StepStatus, output string) error {
	res, err := d.ExecContext(ctx, `
		update steps
		set
			status = ?,
			output = ?,
			updated = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where id = ? and status = ?`,
		string(to), output, id, string(from),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := d.GetStep(ctx, id); err != nil {
			return err
		}
		return ErrStatusChanged
	}
	return nil
}

func (d *DB) DeleteSteps(ctx context.Context, job int64) error {
	_, err := d.ExecContext(ctx, `delete from steps where job = ?`, job)
	return err
}

func collectSteps(rows *sql.Rows) ([]models.Step, error) {
	defer rows.Close()

	var steps []models.Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return steps, nil
}
