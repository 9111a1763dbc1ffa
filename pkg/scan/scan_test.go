package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	config "github.com/mwantia/goassets/internal/config/server"
	"github.com/mwantia/goassets/pkg/db/models"
	"github.com/mwantia/goassets/pkg/db/store"
	"github.com/mwantia/goassets/pkg/log"
	"github.com/stretchr/testify/require"
)

// testEnv wires a real store against a temp directory tree with the three
// standard roots populated.
type testEnv struct {
	store  *store.SQLiteStore
	walker *Walker
	cfg    config.RootsServerConfig
	base   string
}

func testLogger() log.LoggerService {
	return log.NewLoggerService("test", config.LogServerConfig{
		Level:      "ERROR",
		TimeFormat: "15:04:05",
		NoColor:    true,
	})
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	base := t.TempDir()
	cfg := config.RootsServerConfig{
		ModelsDir: filepath.Join(base, "models"),
		InputDir:  filepath.Join(base, "input"),
		OutputDir: filepath.Join(base, "output"),
	}
	for _, dir := range []string{
		filepath.Join(cfg.ModelsDir, "checkpoints"),
		filepath.Join(cfg.ModelsDir, "loras"),
		cfg.InputDir,
		cfg.OutputDir,
	} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	st, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path: filepath.Join(base, "test.db"),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.Connect(ctx))
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { st.Close() })

	return &testEnv{
		store:  st,
		walker: NewWalker(cfg, testLogger()),
		cfg:    cfg,
		base:   base,
	}
}

// writeFile creates a file with content under the env base and returns its
// absolute path.
func (e *testEnv) writeFile(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(e.base, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (e *testEnv) reconciler() *Reconciler {
	return NewReconciler(e.store, e.walker, testLogger())
}

func (e *testEnv) ingestor() *Ingestor {
	return NewIngestor(e.store, testLogger())
}

func (e *testEnv) builder() *SpecBuilder {
	return NewSpecBuilder(e.walker, NewFileExtractor(testLogger()), Blake3Hasher{}, testLogger())
}

func (e *testEnv) enricher() *Enricher {
	return NewEnricher(e.store, e.walker, NewFileExtractor(testLogger()), Blake3Hasher{}, testLogger())
}

// seedRawReference inserts an asset/reference pair directly, bypassing the
// ingest pipeline.
func seedRawReference(t *testing.T, env *testEnv, path string) (string, string) {
	t.Helper()
	ctx := context.Background()

	asset := &models.Asset{ID: uuid.NewString(), SizeBytes: 1}
	require.NoError(t, env.store.CreateAsset(ctx, asset))

	mtime := int64(100)
	ref := &models.Reference{
		ID:       uuid.NewString(),
		AssetID:  asset.ID,
		FilePath: &path,
		MtimeNS:  &mtime,
		Name:     filepath.Base(path),
	}
	require.NoError(t, env.store.CreateReference(ctx, ref))
	return asset.ID, ref.ID
}

// seedRoot walks one root and seeds everything it finds.
func (e *testEnv) seedRoot(t *testing.T, root Root, opts BuildOptions) IngestResult {
	t.Helper()
	ctx := context.Background()

	paths := e.walker.CollectPaths(root)
	specs, _ := e.builder().BuildSpecs(ctx, paths, nil, opts)
	result, err := e.ingestor().InsertBatch(ctx, specs, "")
	require.NoError(t, err)
	return result
}
