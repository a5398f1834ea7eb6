// Package store persists the deployment journal: one record per pipeline
// run, keyed by host, so teardown can locate the most recently deployed
// resource without inspecting the remote.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Types
// =============================================================================

// Status is the journal lifecycle of a deployment record.
type Status string

const (
	StatusStarted   Status = "started"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTornDown  Status = "torn_down"
)

// Record is one pipeline run against one host.
type Record struct {
	ID           string
	RepoURL      string
	RepoName     string
	Branch       string
	Host         string
	SSHUser      string
	InternalPort int
	ExternalPort int

	// UsesCompose records the strategy so teardown picks the right one.
	UsesCompose bool

	Status Status

	// FailedStage and Error are set when Status is failed. Error text is
	// stored credential-redacted.
	FailedStage string
	Error       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// Interface
// =============================================================================

// Journal is the persistence interface for deployment records.
type Journal interface {
	// Create inserts a new record with status "started".
	Create(ctx context.Context, rec *Record) error

	// SetStrategy persists the deployment strategy once the artifact is
	// known. The record is created before verification runs, so the
	// strategy arrives in a second write.
	SetStrategy(ctx context.Context, id string, usesCompose bool) error

	// MarkSucceeded finalizes a successful run.
	MarkSucceeded(ctx context.Context, id string) error

	// MarkFailed finalizes a failed run with the failing stage.
	MarkFailed(ctx context.Context, id, stage, errText string) error

	// MarkTornDown marks the host's workload as removed.
	MarkTornDown(ctx context.Context, id string) error

	// LatestForHost returns the most recent record for a host, torn-down
	// runs excluded.
	LatestForHost(ctx context.Context, host string) (*Record, error)

	// List returns recent records, newest first.
	List(ctx context.Context, limit int) ([]Record, error)

	Close() error
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound means no matching record exists.
	ErrNotFound = errors.New("record not found")

	// ErrConnectionFailed means the journal database cannot be opened.
	ErrConnectionFailed = errors.New("journal connection failed")

	// ErrMigrationFailed means the schema could not be brought up to date.
	ErrMigrationFailed = errors.New("journal migration failed")
)

// StoreError wraps journal failures with operation context.
type StoreError struct {
	Op      string
	ID      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
