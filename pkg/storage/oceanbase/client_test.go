package oceanbase_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognisphere/hybridmem-go/pkg/graph"
	"github.com/cognisphere/hybridmem-go/pkg/storage"
	"github.com/cognisphere/hybridmem-go/pkg/storage/oceanbase"
)

func TestDSN(t *testing.T) {
	dsn := oceanbase.DSN(&oceanbase.Config{
		Host: "127.0.0.1", Port: 2881, User: "root", Password: "pw", DBName: "hybridmem",
	})
	assert.Contains(t, dsn, "root:pw@tcp(127.0.0.1:2881)/hybridmem")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "?", oceanbase.Dialect.Placeholder(7))
	assert.Len(t, oceanbase.Dialect.Schema, 4)
}

func setupOceanBaseTest(t *testing.T) *storage.SQLStore {
	t.Helper()
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	password := os.Getenv("HYBRIDMEM_DB_PASSWORD")
	if password == "" {
		t.Skip("Skipping OceanBase test: HYBRIDMEM_DB_PASSWORD not set")
	}
	port, err := strconv.Atoi(getEnv("HYBRIDMEM_DB_PORT", "2881"))
	if err != nil {
		t.Skipf("Skipping OceanBase test: invalid HYBRIDMEM_DB_PORT: %v", err)
	}

	store, err := oceanbase.NewClient(&oceanbase.Config{
		Host:        getEnv("HYBRIDMEM_DB_HOST", "127.0.0.1"),
		Port:        port,
		User:        getEnv("HYBRIDMEM_DB_USER", "root@sys"),
		Password:    password,
		DBName:      getEnv("HYBRIDMEM_DB_NAME", "hybridmem_test"),
		TablePrefix: "hm_test",
	})
	if err != nil {
		t.Skipf("Skipping OceanBase test: %v", err)
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

func TestOceanBase_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := setupOceanBaseTest(t)

	at := time.Now().UTC().Truncate(time.Second)
	snap := storage.NewSnapshot("oceanbase-test-graph")
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
