package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"springls/internal/architecture"
	"springls/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "springls.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func snapshot(uri string, modules ...architecture.Module) *architecture.Snapshot {
	return architecture.NewSnapshot(uri, modules)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, path := openStore(t)

	orders := architecture.Module{
		Name:        "orders",
		BasePackage: "com.acme.orders",
		NamedInterfaces: map[string][]string{
			"api":    {"com.acme.orders.OrderService", "com.acme.orders.Order"},
			"events": {"com.acme.orders.OrderPlaced"},
		},
	}
	inventory := architecture.Module{Name: "inventory", BasePackage: "com.acme.inventory"}
	want := snapshot("file:///ws/shop", orders, inventory)

	require.NoError(t, s.SaveSnapshot(ctx, want))
	require.NoError(t, s.SaveSnapshot(ctx, snapshot("file:///ws/empty")))

	got, err := s.LoadSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "file:///ws/empty", got[0].ProjectURI)
	assert.Empty(t, got[0].Modules)
	assert.True(t, want.Equal(got[1]))

	require.NoError(t, s.Close())
	reopened, err := store.Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err = reopened.LoadSnapshots(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2, "snapshots survive a restart")
}

func TestSaveReplacesAndDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t)

	require.NoError(t, s.SaveSnapshot(ctx, snapshot("file:///p",
		architecture.Module{Name: "a", BasePackage: "x.a", NamedInterfaces: map[string][]string{"api": {"x.a.A"}}})))
	require.NoError(t, s.SaveSnapshot(ctx, snapshot("file:///p",
		architecture.Module{Name: "b", BasePackage: "x.b"})))

	got, err := s.LoadSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Modules, 1)
	assert.Equal(t, "b", got[0].Modules[0].Name)

	require.NoError(t, s.DeleteSnapshot(ctx, "file:///p"))
	got, err = s.LoadSnapshots(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClosedStore(t *testing.T) {
	s, _ := openStore(t)
	require.NoError(t, s.Close())
	_, err := s.LoadSnapshots(context.Background())
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.ErrorIs(t, s.SaveSnapshot(context.Background(), snapshot("file:///p")), store.ErrClosed)
}
