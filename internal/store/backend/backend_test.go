package backend

import (
	"context"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/healthsynth/internal/config"
	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/store"
	"codeberg.org/mutker/healthsynth/internal/store/badger"
	"codeberg.org/mutker/healthsynth/internal/store/memory"
	"codeberg.org/mutker/healthsynth/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name string
		kind config.Backend
		path string
		want any
	}{
		{"memory", config.BackendMemory, "", &memory.Storage{}},
		{"empty defaults to memory", "", "", &memory.Storage{}},
		{"sqlite", config.BackendSQLite, filepath.Join(dir, "samples.db"), &sqlite.Repository{}},
		{"badger", config.BackendBadger, filepath.Join(dir, "badger"), &badger.Storage{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := Open(ctx, tt.kind, tt.path, store.Grants{})
			require.NoError(t, err)
			t.Cleanup(func() { st.Close() })
			assert.IsType(t, tt.want, st)
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	st, err := Open(context.Background(), config.Backend("postgres"), "", store.Grants{})
	assert.Nil(t, st)
	assert.True(t, errors.HasCode(err, store.ErrUnknownBackend))
}
