package db

import (
	"context"

	"github.com/google/uuid"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
)

func (d *DB) CreateTemplate(ctx context.Context, t *models.Template) error {
	if t.Id == "" {
		t.Id = uuid.NewString()
	}

	_, err := d.ExecContext(ctx, `
		insert into templates (id, organization, name, description, version, tcl)
		values (?, ?, ?, ?, ?, ?)`,
		t.Id, t.Organization, t.Name, t.Description, t.Version, t.Tcl,
	)
	return err
}

// InsertTemplateIfAbsent creates t unless the organization already has a
// template with the same name. It reports whether a row was inserted.
func (d *DB) InsertTemplateIfAbsent(ctx context.Context, t *models.Template) (bool, error) {
	if t.Id == "" {
		t.Id = uuid.NewString()
	}

	res, err := d.ExecContext(ctx, `
		insert or ignore into templates (id, organization, name, description, version, tcl)
		values (?, ?, ?, ?, ?, ?)`,
		t.Id, t.Organization, t.Name, t.Description, t.Version, t.Tcl,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DB) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	var t models.Template
	var created string

	err := d.QueryRowContext(ctx, `
		select id, organization, name, description, version, tcl, created
		from templates
		where id = ?`,
		id,
	).Scan(&t.Id, &t.Organization, &t.Name, &t.Description, &t.Version, &t.Tcl, &created)
	if err != nil {
		return nil, notFound(err)
	}

	t.Created = parseTime(created)
	return &t, nil
}

func (d *DB) GetTemplates(ctx context.Context, org string) ([]models.Template, error) {
	rows, err := d.QueryContext(ctx, `
		select id, organization, name, description, version, tcl, created
		from templates
		where organization = ?
		order by name asc`,
		org,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []models.Template
	for rows.Next() {
		var t models.Template
		var created string
		if err := rows.Scan(&t.Id, &t.Organization, &t.Name, &t.Description, &t.Version, &t.Tcl, &created); err != nil {
			return nil, err
		}
		t.Created = parseTime(created)
		templates = append(templates, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return templates, nil
}
