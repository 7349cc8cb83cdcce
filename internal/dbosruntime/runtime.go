// Package dbosruntime manages the DBOS durable-execution runtime that
// checkpoints sound-button workflow instances in Postgres and resumes
// them after process crashes.
package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	_ "github.com/lib/pq"
)

const (
	defaultQueueName   = "default"
	defaultConcurrency = 4
)

// Config holds DBOS runtime configuration.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string for DBOS state
	// storage. Required.
	DatabaseURL string

	// AppName identifies this application in DBOS. Required.
	AppName string

	// QueueName is the workflow queue name. Defaults to "default".
	QueueName string

	// Concurrency caps how many workflow instances one worker process
	// runs at a time. Instance work dirs are isolated, so this bounds
	// disk and bandwidth pressure, not correctness. Defaults to 4.
	Concurrency int

	// ApplicationVersion overrides the default binary hash for version
	// matching, letting multiple binaries share workflows.
	ApplicationVersion string
}

// Runtime manages the DBOS runtime lifecycle and answers status lookups.
type Runtime struct {
	dbosContext dbos.DBOSContext
	queue       *dbos.WorkflowQueue
	config      Config
	db          *sql.DB
}

// NewRuntime creates a new DBOS runtime instance.
func NewRuntime(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DBOS database URL is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = defaultQueueName
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaultConcurrency
	}

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, err
	}

	queue := dbos.NewWorkflowQueue(dbosCtx, cfg.QueueName,
		dbos.WithWorkerConcurrency(cfg.Concurrency))

	// Separate connection for direct status queries.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		dbosContext: dbosCtx,
		queue:       &queue,
		config:      cfg,
		db:          db,
	}, nil
}

// Launch starts the DBOS runtime and workers. Must be called after all
// workflow registration.
func (r *Runtime) Launch() error {
	return dbos.Launch(r.dbosContext)
}

// Shutdown gracefully shuts down the DBOS runtime.
func (r *Runtime) Shutdown(timeout time.Duration) error {
	dbos.Shutdown(r.dbosContext, timeout)
	if r.db != nil {
		r.db.Close()
	}
	return nil
}

// Context returns the DBOS context.
func (r *Runtime) Context() dbos.DBOSContext {
	return r.dbosContext
}

// QueueName returns the configured queue name.
func (r *Runtime) QueueName() string {
	return r.config.QueueName
}

// Concurrency returns the per-worker instance cap applied to the queue.
func (r *Runtime) Concurrency() int {
	return r.config.Concurrency
}
