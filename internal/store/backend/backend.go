// Package backend opens the store named in the configuration.
package backend

import (
	"context"

	"codeberg.org/mutker/healthsynth/internal/config"
	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/logger"
	"codeberg.org/mutker/healthsynth/internal/store"
	"codeberg.org/mutker/healthsynth/internal/store/badger"
	"codeberg.org/mutker/healthsynth/internal/store/memory"
	"codeberg.org/mutker/healthsynth/internal/store/sqlite"
)

// Open returns the store for kind. path is ignored by the memory backend.
func Open(ctx context.Context, kind config.Backend, path string, grants store.Grants) (store.Store, error) {
	switch kind {
	case config.BackendSQLite:
		repo, err := sqlite.New(ctx, sqlite.Config{
			DBPath: path,
			Grants: grants,
		}, logger.Component("sqlite"))
		if err != nil {
			return nil, err
		}
		return repo, nil

	case config.BackendBadger:
		db, err := badger.New(badger.Config{
			Path:   path,
			Grants: grants,
		})
		if err != nil {
			return nil, err
		}
		return db, nil

	case config.BackendMemory, "":
		logger.Warn().Msg("Using in-memory store, samples are discarded on exit")
		return memory.New(grants), nil

	default:
		return nil, errors.New().WithData(store.ErrUnknownBackend, kind)
	}
}
