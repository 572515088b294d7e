// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite provides a single-file store backend, selected when the
// configured database backend is "sqlite", for real SQL semantics
// without a Postgres server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aboutcode-org/scanpipe/internal/store"
	"github.com/aboutcode-org/scanpipe/internal/util"
)

var (
	_ store.ProjectStore    = (*Backend)(nil)
	_ store.RunStore        = (*Backend)(nil)
	_ store.InputStore      = (*Backend)(nil)
	_ store.WebhookStore    = (*Backend)(nil)
	_ store.ScanEntityStore = (*Backend)(nil)
	_ store.Backend         = (*Backend)(nil)
)

// Backend is a SQLite store backend, one database file per process.
type Backend struct {
	db *sql.DB
}

// New opens (creating if absent) the database at path and runs
// migrations. Use ":memory:" for an ephemeral, process-local database.
func New(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite only tolerates a single writer; pooling connections invites
	// SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)

	b := &Backend{db: db}
	if err := b.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return b, nil
}

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE IF NOT EXISTS projects (
			uuid TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			slug TEXT NOT NULL,
			labels TEXT,
			notes TEXT,
			settings TEXT,
			is_archived INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			archived_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS inputs (
			uuid TEXT PRIMARY KEY,
			project TEXT NOT NULL REFERENCES projects(uuid) ON DELETE CASCADE,
			filename TEXT NOT NULL,
			download_url TEXT,
			tag TEXT,
			is_uploaded INTEGER NOT NULL DEFAULT 0,
			size INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			uuid TEXT PRIMARY KEY,
			project TEXT NOT NULL REFERENCES projects(uuid) ON DELETE CASCADE,
			pipeline_name TEXT NOT NULL,
			selected_groups TEXT,
			description TEXT,
			status TEXT NOT NULL,
			task_id TEXT,
			created_at DATETIME NOT NULL,
			task_start_date DATETIME,
			task_end_date DATETIME,
			task_exitcode INTEGER,
			task_output TEXT,
			log TEXT,
			current_step TEXT,
			progress INTEGER NOT NULL DEFAULT 0,
			resume_from_step TEXT,
			cancel_requested INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project)`,
		`CREATE TABLE IF NOT EXISTS webhooks (
			uuid TEXT PRIMARY KEY,
			project TEXT NOT NULL REFERENCES projects(uuid) ON DELETE CASCADE,
			target_url TEXT NOT NULL,
			trigger_on_each_run INTEGER NOT NULL DEFAULT 1,
			include_summary INTEGER NOT NULL DEFAULT 0,
			include_results INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			uuid TEXT PRIMARY KEY,
			subscription TEXT NOT NULL REFERENCES webhooks(uuid) ON DELETE CASCADE,
			run TEXT,
			sent_at DATETIME NOT NULL,
			response_status INTEGER,
			response_body TEXT,
			attempt INTEGER NOT NULL,
			succeeded INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS scan_entities (
			uuid TEXT PRIMARY KEY,
			project TEXT NOT NULL REFERENCES projects(uuid) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			key TEXT NOT NULL,
			payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_entities_project_kind ON scan_entities(project, kind)`,
	}
	for _, m := range migrations {
		if _, err := b.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) CreateProject(ctx context.Context, p *store.Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	labels, _ := json.Marshal(p.Labels)
	settings, _ := json.Marshal(p.Settings)
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO projects (uuid, name, slug, labels, notes, settings, is_archived, created_at, archived_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		p.UUID, p.Name, p.Slug, labels, p.Notes, settings, p.IsArchived, p.CreatedAt, p.ArchivedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("project name already taken: %s", p.Name)
	}
	return err
}

func (b *Backend) scanProject(row interface{ Scan(...any) error }) (*store.Project, error) {
	var p store.Project
	var labels, settings []byte
	var archived int
	if err := row.Scan(&p.UUID, &p.Name, &p.Slug, &labels, &p.Notes, &settings, &archived, &p.CreatedAt, &p.ArchivedAt); err != nil {
		return nil, err
	}
	p.IsArchived = archived != 0
	if len(labels) > 0 {
		json.Unmarshal(labels, &p.Labels)
	}
	if len(settings) > 0 {
		json.Unmarshal(settings, &p.Settings)
	}
	return &p, nil
}

const projectColumns = `uuid, name, slug, labels, notes, settings, is_archived, created_at, archived_at`

func (b *Backend) GetProject(ctx context.Context, uuid string) (*store.Project, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE uuid=?`, uuid)
	p, err := b.scanProject(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found: %s", uuid)
	}
	return p, err
}

func (b *Backend) GetProjectByName(ctx context.Context, name string) (*store.Project, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE name=?`, name)
	p, err := b.scanProject(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found: %s", name)
	}
	return p, err
}

func (b *Backend) UpdateProject(ctx context.Context, p *store.Project) error {
	labels, _ := json.Marshal(p.Labels)
	settings, _ := json.Marshal(p.Settings)
	res, err := b.db.ExecContext(ctx, `
		UPDATE projects SET name=?, slug=?, labels=?, notes=?, settings=?, is_archived=?, archived_at=?
		WHERE uuid=?`,
		p.Name, p.Slug, labels, p.Notes, settings, p.IsArchived, p.ArchivedAt, p.UUID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "project", p.UUID)
}

func (b *Backend) DeleteProject(ctx context.Context, uuid string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM projects WHERE uuid=?`, uuid)
	return err
}

func (b *Backend) ListProjects(ctx context.Context, filter store.ProjectFilter) ([]*store.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE 1=1`
	var args []any
	if !filter.IncludeArchived {
		query += " AND is_archived = 0"
	}
	if filter.Name != "" {
		query += " AND name = ?"
		args = append(args, filter.Name)
	}
	if filter.NameContains != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+filter.NameContains+"%")
	}
	if filter.UUID != "" {
		query += " AND uuid = ?"
		args = append(args, filter.UUID)
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*store.Project
	for rows.Next() {
		p, err := b.scanProject(rows)
		if err != nil {
			return nil, err
		}
		if filter.Label != "" && !util.Contains(p.Labels, filter.Label) {
			continue
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (b *Backend) CreateInput(ctx context.Context, in *store.InputSource) error {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO inputs (uuid, project, filename, download_url, tag, is_uploaded, size, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		in.UUID, in.Project, in.Filename, in.DownloadURL, in.Tag, in.IsUploaded, in.Size, in.CreatedAt)
	return err
}

func (b *Backend) ListInputs(ctx context.Context, project string) ([]*store.InputSource, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT uuid, project, filename, download_url, tag, is_uploaded, size, created_at FROM inputs WHERE project=? ORDER BY created_at ASC`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*store.InputSource
	for rows.Next() {
		var in store.InputSource
		var uploaded int
		if err := rows.Scan(&in.UUID, &in.Project, &in.Filename, &in.DownloadURL, &in.Tag, &uploaded, &in.Size, &in.CreatedAt); err != nil {
			return nil, err
		}
		in.IsUploaded = uploaded != 0
		result = append(result, &in)
	}
	return result, rows.Err()
}

func (b *Backend) DeleteInputs(ctx context.Context, project string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM inputs WHERE project=?`, project)
	return err
}

const runColumns = `uuid, project, pipeline_name, selected_groups, description, status, task_id,
	created_at, task_start_date, task_end_date, task_exitcode, task_output, log, current_step,
	progress, resume_from_step, cancel_requested`

func (b *Backend) CreateRun(ctx context.Context, r *store.Run) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	groups, _ := json.Marshal(r.SelectedGroups)
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.UUID, r.Project, r.PipelineName, groups, r.Description, r.Status, r.TaskID,
		r.CreatedAt, r.TaskStartDate, r.TaskEndDate, r.TaskExitCode, r.TaskOutput, r.Log, r.CurrentStep,
		r.Progress, r.ResumeFromStep, r.CancelRequested)
	return err
}

func (b *Backend) scanRun(row interface{ Scan(...any) error }) (*store.Run, error) {
	var r store.Run
	var groups []byte
	var cancelRequested int
	if err := row.Scan(&r.UUID, &r.Project, &r.PipelineName, &groups, &r.Description, &r.Status, &r.TaskID,
		&r.CreatedAt, &r.TaskStartDate, &r.TaskEndDate, &r.TaskExitCode, &r.TaskOutput, &r.Log, &r.CurrentStep,
		&r.Progress, &r.ResumeFromStep, &cancelRequested); err != nil {
		return nil, err
	}
	r.CancelRequested = cancelRequested != 0
	if len(groups) > 0 {
		json.Unmarshal(groups, &r.SelectedGroups)
	}
	return &r, nil
}

func (b *Backend) GetRun(ctx context.Context, uuid string) (*store.Run, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE uuid=?`, uuid)
	r, err := b.scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", uuid)
	}
	return r, err
}

func (b *Backend) UpdateRun(ctx context.Context, r *store.Run) error {
	groups, _ := json.Marshal(r.SelectedGroups)
	res, err := b.db.ExecContext(ctx, `
		UPDATE runs SET pipeline_name=?, selected_groups=?, description=?, status=?, task_id=?,
			task_start_date=?, task_end_date=?, task_exitcode=?, task_output=?, log=?,
			current_step=?, progress=?, resume_from_step=?, cancel_requested=?
		WHERE uuid=?`,
		r.PipelineName, groups, r.Description, r.Status, r.TaskID,
		r.TaskStartDate, r.TaskEndDate, r.TaskExitCode, r.TaskOutput, r.Log,
		r.CurrentStep, r.Progress, r.ResumeFromStep, r.CancelRequested, r.UUID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", r.UUID)
}

func (b *Backend) ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.Project != "" {
		query += " AND project = ?"
		args = append(args, filter.Project)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*store.Run
	for rows.Next() {
		r, err := b.scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (b *Backend) DeleteRun(ctx context.Context, uuid string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM runs WHERE uuid=?`, uuid)
	return err
}

func (b *Backend) CompareAndSetStatus(ctx context.Context, uuid string, from, to store.RunStatus) (bool, error) {
	res, err := b.db.ExecContext(ctx, `UPDATE runs SET status=? WHERE uuid=? AND status=?`, to, uuid, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *Backend) CreateWebhook(ctx context.Context, w *store.WebhookSubscription) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO webhooks (uuid, project, target_url, trigger_on_each_run, include_summary, include_results, is_active, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		w.UUID, w.Project, w.TargetURL, w.TriggerOnEachRun, w.IncludeSummary, w.IncludeResults, w.IsActive, w.CreatedAt)
	return err
}

func (b *Backend) ListWebhooks(ctx context.Context, project string) ([]*store.WebhookSubscription, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT uuid, project, target_url, trigger_on_each_run, include_summary, include_results, is_active, created_at
		FROM webhooks WHERE project=? ORDER BY created_at ASC`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*store.WebhookSubscription
	for rows.Next() {
		var w store.WebhookSubscription
		var trigger, summary, results, active int
		if err := rows.Scan(&w.UUID, &w.Project, &w.TargetURL, &trigger, &summary, &results, &active, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.TriggerOnEachRun, w.IncludeSummary, w.IncludeResults, w.IsActive = trigger != 0, summary != 0, results != 0, active != 0
		result = append(result, &w)
	}
	return result, rows.Err()
}

func (b *Backend) DeleteWebhooksForProject(ctx context.Context, project string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM webhooks WHERE project=?`, project)
	return err
}

func (b *Backend) CreateDelivery(ctx context.Context, d *store.WebhookDelivery) error {
	if d.SentAt.IsZero() {
		d.SentAt = time.Now()
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (uuid, subscription, run, sent_at, response_status, response_body, attempt, succeeded)
		VALUES (?,?,?,?,?,?,?,?)`,
		d.UUID, d.Subscription, d.Run, d.SentAt, d.ResponseStatus, d.ResponseBody, d.Attempt, d.Succeeded)
	return err
}

func (b *Backend) ListDeliveries(ctx context.Context, subscription string) ([]*store.WebhookDelivery, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT uuid, subscription, COALESCE(run, ''), sent_at, response_status, response_body, attempt, succeeded
		FROM webhook_deliveries WHERE subscription=? ORDER BY sent_at ASC`, subscription)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*store.WebhookDelivery
	for rows.Next() {
		var d store.WebhookDelivery
		var succeeded int
		if err := rows.Scan(&d.UUID, &d.Subscription, &d.Run, &d.SentAt, &d.ResponseStatus, &d.ResponseBody, &d.Attempt, &succeeded); err != nil {
			return nil, err
		}
		d.Succeeded = succeeded != 0
		result = append(result, &d)
	}
	return result, rows.Err()
}

func (b *Backend) CreateScanEntities(ctx context.Context, entities []*store.ScanEntity) error {
	if len(entities) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO scan_entities (uuid, project, kind, key, payload) VALUES (?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entities {
		if _, err := stmt.ExecContext(ctx, e.UUID, e.Project, e.Kind, e.Key, []byte(e.Payload)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *Backend) ListScanEntities(ctx context.Context, filter store.ScanEntityFilter) ([]*store.ScanEntity, error) {
	query := `SELECT uuid, project, kind, key, payload FROM scan_entities WHERE project=?`
	args := []any{filter.Project}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*store.ScanEntity
	for rows.Next() {
		var e store.ScanEntity
		var payload []byte
		if err := rows.Scan(&e.UUID, &e.Project, &e.Kind, &e.Key, &payload); err != nil {
			return nil, err
		}
		e.Payload = payload
		result = append(result, &e)
	}
	return result, rows.Err()
}

func (b *Backend) CountScanEntities(ctx context.Context, filter store.ScanEntityFilter) (int, error) {
	query := `SELECT COUNT(*) FROM scan_entities WHERE project=?`
	args := []any{filter.Project}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	var n int
	err := b.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (b *Backend) DeleteScanEntitiesForProject(ctx context.Context, project string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM scan_entities WHERE project=?`, project)
	return err
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "constraint failed"))
}
