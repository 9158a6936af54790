package db

import (
	"context"

	"github.com/google/uuid"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
)

func (d *DB) CreateWebhook(ctx context.Context, wh *models.Webhook) error {
	if wh.Id == "" {
		wh.Id = uuid.NewString()
	}

	_, err := d.ExecContext(ctx,
		`insert into webhooks (id, workspace, remote_url) values (?, ?, ?)`,
		wh.Id, wh.Workspace, wh.RemoteUrl,
	)
	return err
}

func (d *DB) GetWebhook(ctx context.Context, id string) (*models.Webhook, error) {
	var wh models.Webhook
	var created string

	err := d.QueryRowContext(ctx,
		`select id, workspace, remote_url, created from webhooks where id = ?`,
		id,
	).Scan(&wh.Id, &wh.Workspace, &wh.RemoteUrl, &created)
	if err != nil {
		return nil, notFound(err)
	}

	wh.Created = parseTime(created)
	return &wh, nil
}

func (d *DB) SetWebhookRemoteURL(ctx context.Context, id, remoteUrl string) error {
	res, err := d.ExecContext(ctx, `update webhooks set remote_url = ? where id = ?`, remoteUrl, id)
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

func (d *DB) DeleteWebhook(ctx context.Context, id string) error {
	_, err := d.ExecContext(ctx, `delete from webhooks where id = ?`, id)
	return err
}
