// Package sqlite persists samples in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/logger"
	"codeberg.org/mutker/healthsynth/internal/store"
	"codeberg.org/mutker/healthsynth/internal/timerange"
	_ "github.com/mattn/go-sqlite3"
)

type Repository struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config
	mu     sync.Mutex
}

func New(ctx context.Context, cfg Config, log logger.Logger) (*Repository, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(store.ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(store.ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	// A single connection keeps writers serialized at the driver.
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(ctx, db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(store.ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Sample repository initialized")

	return &Repository{
		db:     db,
		logger: log,
		cfg:    cfg,
	}, nil
}

func (r *Repository) RequestAuthorization(ctx context.Context, types []store.SampleType) (bool, error) {
	return r.cfg.Grants.Authorize(ctx, types)
}

func (r *Repository) Supports(t store.SampleType) bool {
	return store.Supports(t)
}

// Save inserts samples in a single transaction.
func (r *Repository) Save(ctx context.Context, samples []store.Sample) error {
	errFactory := errors.New()

	for _, s := range samples {
		if err := store.ValidateSample(s); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(store.ErrTransactionFailed, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSampleSQL)
	if err != nil {
		r.rollback(tx)
		return errFactory.Wrap(store.ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.ExecContext(ctx,
			s.ID.String(),
			string(s.Type),
			s.Metric,
			s.Value,
			s.Unit,
			s.Start.UnixNano(),
			s.End.UnixNano(),
			s.Device,
			s.Category,
		); err != nil {
			r.logger.Error().Err(err).Str("metric", s.Metric).Msg("Failed to execute insert")
			r.rollback(tx)
			return errFactory.Wrap(store.ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(store.ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(samples)).Msg("Saved samples to database")
	return nil
}

// Delete removes samples of type t overlapping rng.
func (r *Repository) Delete(ctx context.Context, t store.SampleType, rng timerange.Range) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, deleteSamplesSQL, string(t), rng.End.UnixNano(), rng.Start.UnixNano())
	if err != nil {
		return errors.New().Wrap(store.ErrTransactionFailed, err)
	}

	if n, err := res.RowsAffected(); err == nil {
		r.logger.Debug().Str("type", string(t)).Int64("records", n).Msg("Deleted samples from database")
	}
	return nil
}

// Count returns the number of samples of type t overlapping rng.
func (r *Repository) Count(ctx context.Context, t store.SampleType, rng timerange.Range) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, countSamplesSQL, string(t), rng.End.UnixNano(), rng.Start.UnixNano()).Scan(&n)
	if err != nil {
		return 0, errors.New().Wrap(store.ErrTransactionFailed, err)
	}
	return n, nil
}

func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.WithData(store.ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errFactory.WithData(store.ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Sample repository closed gracefully")

	return nil
}

func (r *Repository) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		r.logger.Error().Err(err).Msg("Failed to roll back transaction")
	}
}
