package injector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"

	"github.com/lk2023060901/storage-gateway/internal/conf"
	"github.com/lk2023060901/storage-gateway/internal/pkg/database"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"github.com/lk2023060901/storage-gateway/internal/storage/data"
)

func testConfig() *conf.Config {
	return &conf.Config{
		Auth:     conf.AuthConfig{JWTSecret: "secret"},
		Security: conf.SecurityConfig{MasterSecret: "0123456789abcdef0123456789abcdef", KeyStore: conf.KeyStoreDatabase, MemoryKeyCapacity: 4},
		Storage:  conf.StorageConfig{ChecksumAlgorithm: "SHA-256", SelectionStrategy: biz.StrategyLeastUsed},
		Nodes: []conf.NodeConfig{
			{NodeID: "minio-1", BackendType: "minio", Endpoint: "localhost:9000", AccessKey: "ak", SecretKey: "sk", TotalCapacity: 100},
			{NodeID: "sftp-1", BackendType: "sftp", Endpoint: "sftp://gw@files:22/data", SecretKey: "pw", TotalCapacity: 100, Status: "maintenance"},
		},
	}
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	db, err := database.Open(sqlite.Open(filepath.Join(t.TempDir(), "injector.db")), cfg, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, data.Migrate(db.GetDB()))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestProvideKeyStore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	t.Run("database", func(t *testing.T) {
		keys, err := provideKeyStore(testConfig(), db)
		require.NoError(t, err)
		assert.IsType(t, &data.KeyRepo{}, keys)

		enc, err := provideEncryptionService(testConfig(), keys)
		require.NoError(t, err)
		blob, ref, err := enc.EncryptPath(ctx, "2025/03/14/users/alice/f_a.txt")
		require.NoError(t, err)
		plain, err := enc.DecryptPath(ctx, blob, ref)
		require.NoError(t, err)
		assert.Equal(t, "2025/03/14/users/alice/f_a.txt", plain)
	})

	t.Run("memory", func(t *testing.T) {
		cfg := testConfig()
		cfg.Security.KeyStore = conf.KeyStoreMemory
		keys, err := provideKeyStore(cfg, db)
		require.NoError(t, err)
		assert.IsType(t, &biz.MemoryKeyStore{}, keys)
	})
}

func TestProvideBackendRouterCoversEveryBackend(t *testing.T) {
	cfg := testConfig()
	keys, err := provideKeyStore(cfg, openTestDB(t))
	require.NoError(t, err)
	enc, err := provideEncryptionService(cfg, keys)
	require.NoError(t, err)

	router, err := provideBackendRouter(cfg, enc, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, provideStorageBackend(router))
	assert.NotNil(t, provideNodePinger(router))
}

func TestProvideNodeSelectorRejectsUnknownStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.SelectionStrategy = "random"
	_, err := provideNodeSelector(cfg, nil)
	assert.Error(t, err)
}

func TestRegisterBootstrapNodes(t *testing.T) {
	cfg := testConfig()
	db := openTestDB(t)
	keys, err := provideKeyStore(cfg, db)
	require.NoError(t, err)
	enc, err := provideEncryptionService(cfg, keys)
	require.NoError(t, err)
	registry := biz.NewNodeRegistry(provideNodeRepo(db), enc, logger.NewNop())

	app := newApp(cfg, logger.NewNop(), registry, nil, nil, nil)
	ctx := context.Background()
	require.NoError(t, app.RegisterBootstrapNodes(ctx))
	// re-running is an upsert
	require.NoError(t, app.RegisterBootstrapNodes(ctx))

	nodes, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, biz.BackendObjectStoreA, nodes[0].BackendType)
	assert.NotEqual(t, "sk", nodes[0].SecretKey)
	assert.Equal(t, biz.NodeMaintenance, nodes[1].Status)
}
