package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nomenclature-crawler/internal/storage"
)

func TestStateBlobLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewStateBlob()
	_, err := b.Read(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, b.Write(ctx, []byte("v1")))
	data, err := b.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))
	require.Equal(t, 1, b.Writes())

	require.NoError(t, b.Delete(ctx))
	_, err = b.Read(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)

	b.FailWrites()
	require.Error(t, b.Write(ctx, []byte("v2")))
	require.Equal(t, 1, b.Writes())

	b.ReadErr = errors.New("disk gone")
	_, err = b.Read(ctx)
	require.ErrorContains(t, err, "disk gone")
}
