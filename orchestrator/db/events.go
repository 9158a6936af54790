package db

import (
	"context"
	"encoding/json"
	"time"

	"tangled.sh/tangled.sh/provisioner/notifier"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
)

type Event struct {
	Id        int64  `json:"id"`
	Kind      string `json:"kind"`
	Job       int64  `json:"job"`
	Created   int64  `json:"created"`
	EventJson string `json:"event"`
}

func (d *DB) InsertEvent(ctx context.Context, event Event, n *notifier.Notifier) error {
	_, err := d.ExecContext(ctx,
		`insert into events (kind, job, event, created) values (?, ?, ?, ?)`,
		event.Kind,
		event.Job,
		event.EventJson,
		time.Now().UnixNano(),
	)

	if n != nil {
		n.NotifyAll()
	}

	return err
}

// GetEvents returns up to 100 events recorded after cursor, oldest first.
func (d *DB) GetEvents(ctx context.Context, cursor int64) ([]Event, error) {
	rows, err := d.QueryContext(ctx, `
		select id, kind, job, event, created
		from events
		where id > ?
		order by id asc
		limit 100`,
		cursor,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evts []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Id, &ev.Kind, &ev.Job, &ev.EventJson, &ev.Created); err != nil {
			return nil, err
		}
		evts = append(evts, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return evts, nil
}

func (d *DB) CreateStepEvent(ctx context.Context, se models.StepEvent, n *notifier.Notifier) error {
	eventJson, err := json.Marshal(se)
	if err != nil {
		return err
	}

	return d.InsertEvent(ctx, Event{
		Kind:      se.Kind,
		Job:       se.Job,
		EventJson: string(eventJson),
	}, n)
}
