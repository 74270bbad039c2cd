package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nomenclature-crawler/internal/storage"
	"github.com/JakeFAU/nomenclature-crawler/internal/storage/local"
)

func TestStateFileRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	f, err := local.NewStateFile(path)
	require.NoError(t, err)

	_, err = f.Read(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, f.Write(ctx, []byte(`{"schemaVersion":2}`)))
	data, err := f.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"schemaVersion":2}`, string(data))

	require.NoError(t, f.Write(ctx, []byte(`{"schemaVersion":3}`)))
	data, err = f.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"schemaVersion":3}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files should not be left behind")

	require.NoError(t, f.Delete(ctx))
	require.NoError(t, f.Delete(ctx))
	_, err = f.Read(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNewStateFileRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := local.NewStateFile("  ")
	require.Error(t, err)
}
