package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = fmt.Errorf("not found: %w", sql.ErrNoRows)

// ErrStatusChanged is returned when a conditional status update finds the
// step in a different state than expected.
var ErrStatusChanged = errors.New("step status changed concurrently")

type DB struct {
	*sql.DB
}

func Make(dbPath string) (*DB, error) {
	// https://github.com/mattn/go-sqlite3#connection-string
	opts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_busy_timeout=5000",
		"_auto_vacuum=incremental",
	}

	db, err := sql.Open("sqlite3", dbPath+"?"+strings.Join(opts, "&"))
	if err != nil {
		return nil, err
	}

	ctx := context.Background()

	// every pragma and migration runs on the same connection
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `
		create table if not exists organizations (
			id text primary key,
			name text not null,
			created text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);

		create table if not exists templates (
			id text primary key,
			organization text not null,
			name text not null,
			description text not null default '',
			version text not null default '',
			tcl text not null,
			created text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),

			unique (organization, name),
			foreign key (organization) references organizations(id) on delete cascade
		);

		create table if not exists workspaces (
			id text primary key,
			organization text not null,
			name text not null,
			source text not null,
			branch text not null default '',
			vcs_kind text not null,
			vcs_api_url text not null default '',
			vcs_access_token text not null default '',
			approval_team text not null default '',
			created text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),

			foreign key (organization) references organizations(id) on delete cascade
		);

		create table if not exists webhooks (
			id text primary key,
			workspace text not null,
			remote_url text not null default '',
			created text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),

			foreign key (workspace) references workspaces(id) on delete cascade
		);

		create table if not exists jobs (
			id integer primary key autoincrement,
			organization text not null,
			workspace text not null default '',
			template_reference text not null default '',
			tcl text not null default '',
			approval_team text not null default '',
			via text not null default '',
			created_by text not null default '',
			created text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),

			foreign key (organization) references organizations(id) on delete cascade
		);

		create table if not exists steps (
			id text primary key,
			job integer not null,
			step_number integer not null,
			name text not null,
			status text not null,
			output text not null default '',
			created text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),

			foreign key (job) references jobs(id) on delete cascade
		);
		create index if not exists steps_job_status on steps (job, status, step_number);

		-- step events, streamed to subscribers in id order
		create table if not exists events (
			id integer primary key autoincrement,
			kind text not null,
			job integer not null,
			event text not null, -- json
			created integer not null -- unix nanos
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("migrating: %w", err)
	}

	return &DB{db}, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
