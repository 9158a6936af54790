package db

import (
	"context"

	"github.com/google/uuid"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
)

func (d *DB) CreateOrganization(ctx context.Context, org *models.Organization) error {
	if org.Id == "" {
		org.Id = uuid.NewString()
	}

	_, err := d.ExecContext(ctx, `insert into organizations (id, name) values (?, ?)`, org.Id, org.Name)
	return err
}

func (d *DB) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	var created string

	err := d.QueryRowContext(ctx,
		`select id, name, created from organizations where id = ?`,
		id,
	).Scan(&org.Id, &org.Name, &created)
	if err != nil {
		return nil, notFound(err)
	}

	org.Created = parseTime(created)
	return &org, nil
}
