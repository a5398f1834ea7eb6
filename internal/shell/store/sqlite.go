package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteJournal
// =============================================================================

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sqlx.DB
}

// NewSQLiteJournal opens the journal database and runs migrations.
func NewSQLiteJournal(dsn string) (*SQLiteJournal, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, &StoreError{Op: "open", Message: err.Error(), Err: ErrConnectionFailed}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &StoreError{Op: "open", Message: err.Error(), Err: ErrConnectionFailed}
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, &StoreError{Op: "migrate", Message: err.Error(), Err: ErrMigrationFailed}
	}

	return &SQLiteJournal{db: db}, nil
}

// runMigrations applies the embedded SQL migrations.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// =============================================================================
// Row Mapping
// =============================================================================

type recordRow struct {
	ID           string `db:"id"`
	RepoURL      string `db:"repo_url"`
	RepoName     string `db:"repo_name"`
	Branch       string `db:"branch"`
	Host         string `db:"host"`
	SSHUser      string `db:"ssh_user"`
	InternalPort int    `db:"internal_port"`
	ExternalPort int    `db:"external_port"`
	UsesCompose  bool   `db:"uses_compose"`
	Status       string `db:"status"`
	FailedStage  string `db:"failed_stage"`
	Error        string `db:"error"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

func (r recordRow) toRecord() Record {
	created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	updated, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	return Record{
		ID:           r.ID,
		RepoURL:      r.RepoURL,
		RepoName:     r.RepoName,
		Branch:       r.Branch,
		Host:         r.Host,
		SSHUser:      r.SSHUser,
		InternalPort: r.InternalPort,
		ExternalPort: r.ExternalPort,
		UsesCompose:  r.UsesCompose,
		Status:       Status(r.Status),
		FailedStage:  r.FailedStage,
		Error:        r.Error,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}
}

// =============================================================================
// Journal Operations
// =============================================================================

func (j *SQLiteJournal) Create(ctx context.Context, rec *Record) error {
	now := time.Now().UTC()
	rec.Status = StatusStarted
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO deployments
			(id, repo_url, repo_name, branch, host, ssh_user,
			 internal_port, external_port, uses_compose, status,
			 failed_stage, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`,
		rec.ID, rec.RepoURL, rec.RepoName, rec.Branch, rec.Host, rec.SSHUser,
		rec.InternalPort, rec.ExternalPort, rec.UsesCompose, string(rec.Status),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return &StoreError{Op: "create", ID: rec.ID, Message: err.Error(), Err: err}
	}
	return nil
}

func (j *SQLiteJournal) setStatus(ctx context.Context, id string, status Status, stage, errText string) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE deployments
		SET status = ?, failed_stage = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		string(status), stage, errText, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return &StoreError{Op: "update", ID: id, Message: err.Error(), Err: err}
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return &StoreError{Op: "update", ID: id, Message: "no such record", Err: ErrNotFound}
	}
	return nil
}

func (j *SQLiteJournal) SetStrategy(ctx context.Context, id string, usesCompose bool) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE deployments
		SET uses_compose = ?, updated_at = ?
		WHERE id = ?`,
		usesCompose, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return &StoreError{Op: "update", ID: id, Message: err.Error(), Err: err}
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return &StoreError{Op: "update", ID: id, Message: "no such record", Err: ErrNotFound}
	}
	return nil
}

func (j *SQLiteJournal) MarkSucceeded(ctx context.Context, id string) error {
	return j.setStatus(ctx, id, StatusSucceeded, "", "")
}

func (j *SQLiteJournal) MarkFailed(ctx context.Context, id, stage, errText string) error {
	return j.setStatus(ctx, id, StatusFailed, stage, errText)
}

func (j *SQLiteJournal) MarkTornDown(ctx context.Context, id string) error {
	return j.setStatus(ctx, id, StatusTornDown, "", "")
}

func (j *SQLiteJournal) LatestForHost(ctx context.Context, host string) (*Record, error) {
	var row recordRow
	err := j.db.GetContext(ctx, &row, `
		SELECT * FROM deployments
		WHERE host = ? AND status != ?
		ORDER BY created_at DESC
		LIMIT 1`,
		host, string(StatusTornDown),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StoreError{Op: "latest", Message: "no deployment recorded for " + host, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StoreError{Op: "latest", Message: err.Error(), Err: err}
	}
	rec := row.toRecord()
	return &rec, nil
}

func (j *SQLiteJournal) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []recordRow
	err := j.db.SelectContext(ctx, &rows, `
		SELECT * FROM deployments
		ORDER BY created_at DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, &StoreError{Op: "list", Message: err.Error(), Err: err}
	}

	records := make([]Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.toRecord())
	}
	return records, nil
}
