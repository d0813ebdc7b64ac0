package postgres_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognisphere/hybridmem-go/pkg/graph"
	"github.com/cognisphere/hybridmem-go/pkg/storage"
	"github.com/cognisphere/hybridmem-go/pkg/storage/postgres"
)

func TestDSN(t *testing.T) {
	dsn := postgres.DSN(&postgres.Config{
		Host: "db", Port: 5432, User: "hm", Password: "secret", DBName: "memories",
	})
	assert.Equal(t, "host=db port=5432 user=hm password=secret dbname=memories sslmode=disable", dsn)

	dsn = postgres.DSN(&postgres.Config{Host: "db", Port: 5432, SSLMode: "require"})
	assert.True(t, strings.HasSuffix(dsn, "sslmode=require"))
}

func TestDialect_UsesDollarPlaceholders(t *testing.T) {
	assert.Equal(t, "$3", postgres.Dialect.Placeholder(3))
	for _, stmt := range postgres.Dialect.Schema {
		assert.Contains(t, stmt, "{prefix}")
	}
}

func setupPostgresTest(t *testing.T) *storage.SQLStore {
	t.Helper()
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	password := os.Getenv("HYBRIDMEM_DB_PASSWORD")
	if password == "" {
		t.Skip("Skipping PostgreSQL test: HYBRIDMEM_DB_PASSWORD not set")
	}
	port, err := strconv.Atoi(getEnv("HYBRIDMEM_DB_PORT", "5432"))
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: invalid HYBRIDMEM_DB_PORT: %v", err)
	}

	store, err := postgres.NewClient(&postgres.Config{
		Host:        getEnv("HYBRIDMEM_DB_HOST", "127.0.0.1"),
		Port:        port,
		User:        getEnv("HYBRIDMEM_DB_USER", "postgres"),
		Password:    password,
		DBName:      getEnv("HYBRIDMEM_DB_NAME", "hybridmem_test"),
		TablePrefix: "hm_test",
	})
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestPostgres_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := setupPostgresTest(t)

	at := time.Now().UTC().Truncate(time.Second)
	snap := storage.NewSnapshot("postgres-test-graph")
	snap.ExportedAt = at
	snap.LastMaintenance = at
	snap.Nodes["n1"] = graph.Node{
		ID: "n1", Type: graph.NodeTypeMemory, Kind: graph.KindEpisodic,
		Content: "harvest came early", Metadata: map[string]string{},
		Importance: 0.4, Accessibility: 1, CreatedAt: at, LastAccessedAt: at,
	}
	require.NoError(t, store.Save(ctx, snap))
	t.Cleanup(func() { _ = store.Delete(context.Background(), snap.GraphID) })

	got, err := store.Load(ctx, snap.GraphID)
	require.NoError(t, err)
	require.Contains(t, got.Nodes, "n1")
	assert.Equal(t, "harvest came early", got.Nodes["n1"].Content)
	assert.True(t, at.Equal(got.ExportedAt))
}
