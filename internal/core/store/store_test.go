package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tgrelay/tgrelay/internal/config"
)

func TestBuildLibsqlDSN(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.StoreConfig
		want string
	}{
		{"remote with token", config.StoreConfig{URL: "libsql://relay.turso.io", AuthToken: "tok"}, "libsql://relay.turso.io?authToken=tok"},
		{"remote keeps query", config.StoreConfig{URL: "libsql://relay.turso.io?foo=bar", AuthToken: "tok"}, "libsql://relay.turso.io?authToken=tok&foo=bar"},
		{"remote keeps existing token", config.StoreConfig{URL: "libsql://relay.turso.io?authToken=old", AuthToken: "tok"}, "libsql://relay.turso.io?authToken=old"},
		{"remote without token", config.StoreConfig{URL: "libsql://relay.turso.io"}, "libsql://relay.turso.io"},
		{"file dsn", config.StoreConfig{Path: "file:./tgrelay.db"}, "file:./tgrelay.db"},
		{"memory", config.StoreConfig{Path: ":memory:"}, ":memory:"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dsn, err := buildLibsqlDSN(tc.cfg)
			require.NoError(t, err)
			require.Equal(t, tc.want, dsn)
		})
	}
}

func TestBuildLibsqlDSNBarePathCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tgrelay.db")

	dsn, err := buildLibsqlDSN(config.StoreConfig{Path: path})
	require.NoError(t, err)
	require.Equal(t, "file:"+path, dsn)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestBuildLibsqlDSNRequiresLocation(t *testing.T) {
	_, err := buildLibsqlDSN(config.StoreConfig{})
	require.Error(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: ":memory:"})
	require.ErrorContains(t, err, "unsupported store driver")
}

func TestNilStoreIsSafe(t *testing.T) {
	ctx := context.Background()
	var s *Store
	require.NoError(t, s.Close())
	require.Empty(t, s.Driver())
	require.Error(t, s.CheckHealth(ctx))
	require.Error(t, s.Migrate(ctx))

	_, err := s.ListUsers(ctx, UserQuery{})
	require.Error(t, err)
	_, err = s.GetBackoff(ctx, "gpt")
	require.Error(t, err)
}

func TestIsLocalDSN(t *testing.T) {
	require.True(t, isLocalDSN("file:/tmp/tgrelay.db"))
	require.False(t, isLocalDSN(":memory:"))
	require.False(t, isLocalDSN("libsql://relay.turso.io"))
}
