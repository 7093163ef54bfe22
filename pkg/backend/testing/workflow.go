package testing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konradgithuup/io-backends/pkg/backend"
	"github.com/konradgithuup/io-backends/pkg/catalog"
	"github.com/konradgithuup/io-backends/pkg/catalog/memory"
)

const (
	writeFile  = "write.txt"
	readFile   = "read.txt"
	deleteFile = "delete.txt"
	createFile = "create.txt"
)

// RunWorkflowTests executes the backend workflow tests: the full sequence of
// lifecycle, I/O and listing operations a storage server issues.
func (suite *EngineTestSuite) RunWorkflowTests(t *testing.T) {
	t.Run("Workflow", suite.testWorkflow)
	t.Run("Create_Existing", suite.testCreateExisting)
	t.Run("Create_NestedName", suite.testCreateNestedName)
	t.Run("Open_Missing", suite.testOpenMissing)
	t.Run("InvalidNames", suite.testInvalidNames)
	t.Run("Iterator_EarlyClose", suite.testIteratorEarlyClose)
	t.Run("Iterator_MissingNamespace", suite.testIteratorMissingNamespace)
	t.Run("Catalog", suite.testCatalog)
	t.Run("Fini_ClosesObjects", suite.testFiniClosesObjects)
}

// populate builds the fixture directory the workflow runs against.
func populate(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		writeFile:             "",
		deleteFile:            "",
		readFile:              "Hello, world!",
		"subdir/prefix_a.txt": "",
		"subdir/prefix_b.txt": "",
		"subdir/c.txt":        "",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func (suite *EngineTestSuite) testWorkflow(t *testing.T) {
	root := populate(t)
	b := suite.newBackendAt(t, root)

	readH := mustOpen(t, b, "", readFile)
	deleteH := mustOpen(t, b, "", deleteFile)
	writeH := mustOpen(t, b, "", writeFile)

	_, err := os.Stat(filepath.Join(root, createFile))
	require.True(t, os.IsNotExist(err), "precondition: %s must not exist", createFile)
	createH := mustCreate(t, b, "", createFile)
	_, err = os.Stat(filepath.Join(root, createFile))
	require.NoError(t, err, "%s should exist after create", createFile)

	data := []byte("Hello, world!")
	for _, h := range []*backend.ObjectHandle{writeH, createH} {
		mustWrite(t, b, h, data, 0)
		require.NoError(t, b.Sync(h))

		onDisk, err := os.ReadFile(h.Path)
		require.NoError(t, err)
		assert.Equal(t, data, onDisk, "%s content after sync", h.Name)
	}

	// Newly written and pre-existing content read the same.
	for _, h := range []*backend.ObjectHandle{writeH, readH} {
		assert.Equal(t, []byte("world!"), mustRead(t, b, h, 7, 6), h.Name)
		assert.Equal(t, []byte(", wor"), mustRead(t, b, h, 5, 5), h.Name)
	}

	assertSize(t, b, readH, 13)

	require.NoError(t, b.Close(readH))
	assert.False(t, b.Cache().Contains(readH.Key))

	require.NoError(t, b.Delete(deleteH))
	_, err = os.Stat(filepath.Join(root, deleteFile))
	assert.True(t, os.IsNotExist(err), "%s should be removed", deleteFile)
	assert.False(t, b.Cache().Contains(deleteH.Key))

	all, err := b.GetAll("subdir")
	require.NoError(t, err)
	names, err := all.Collect()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"prefix_a.txt", "prefix_b.txt", "c.txt"}, names)

	prefixed, err := b.GetByPrefix("subdir", "prefix")
	require.NoError(t, err)
	names, err = prefixed.Collect()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"prefix_a.txt", "prefix_b.txt"}, names)

	// Exhausted iterators stay exhausted.
	name, ok, err := prefixed.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, name)
}

func (suite *EngineTestSuite) testCreateExisting(t *testing.T) {
	b := suite.newBackend(t)
	mustCreate(t, b, "", "dup")

	_, err := b.Create("", "dup")
	assertAction(t, err, backend.ActionCreate)
	assert.ErrorIs(t, err, os.ErrExist)
}

func (suite *EngineTestSuite) testCreateNestedName(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "ns", "a/b/c")

	assert.Equal(t, filepath.Join(b.Root(), "ns", "a", "b", "c"), h.Path)
	mustWrite(t, b, h, []byte("nested"), 0)
	assert.Equal(t, []byte("nested"), mustRead(t, b, h, 0, 6))
}

func (suite *EngineTestSuite) testOpenMissing(t *testing.T) {
	b := suite.newBackend(t)

	_, err := b.Open("", "missing")
	assertAction(t, err, backend.ActionOpen)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 0, b.Cache().Len())
}

func (suite *EngineTestSuite) testInvalidNames(t *testing.T) {
	b := suite.newBackend(t)

	for _, tc := range []struct {
		namespace, name string
	}{
		{"", ""},
		{"", "../escape"},
		{"", "/etc/passwd"},
		{"../up", "a"},
		{"ns", "a/../../b"},
	} {
		_, err := b.Create(tc.namespace, tc.name)
		assertAction(t, err, backend.ActionCreate)
		assert.ErrorIs(t, err, backend.ErrInvalidName, "namespace %q name %q", tc.namespace, tc.name)

		_, err = b.Open(tc.namespace, tc.name)
		assertAction(t, err, backend.ActionOpen)
		assert.ErrorIs(t, err, backend.ErrInvalidName)
	}

	_, err := b.GetAll("../up")
	assertAction(t, err, backend.ActionCreateIterAll)
	assert.ErrorIs(t, err, backend.ErrInvalidName)
}

func (suite *EngineTestSuite) testIteratorEarlyClose(t *testing.T) {
	b := suite.newBackendAt(t, populate(t))

	it, err := b.GetAll("subdir")
	require.NoError(t, err)

	_, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, it.Close())
	require.NoError(t, it.Close())

	_, ok, err = it.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func (suite *EngineTestSuite) testIteratorMissingNamespace(t *testing.T) {
	b := suite.newBackend(t)

	_, err := b.GetByPrefix("missing", "p")
	assertAction(t, err, backend.ActionCreateIterPrefix)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func (suite *EngineTestSuite) testCatalog(t *testing.T) {
	cat := memory.NewMemoryCatalog()
	b := suite.newBackend(t, backend.WithCatalog(cat))
	ctx := context.Background()

	h := mustCreate(t, b, "ns", "tracked")

	rec, err := cat.Get(ctx, "ns", "tracked")
	require.NoError(t, err)
	assert.Equal(t, h.Path, rec.Path)
	assert.Equal(t, b.Engine().Name(), rec.Engine)
	assert.Equal(t, int64(h.Key), rec.Key)
	assert.NotZero(t, rec.Created)
	created := rec.Created

	require.NoError(t, b.Close(h))
	h = mustOpen(t, b, "ns", "tracked")

	rec, err = cat.Get(ctx, "ns", "tracked")
	require.NoError(t, err)
	assert.Equal(t, created, rec.Created, "open keeps the creation time")
	assert.Equal(t, int64(h.Key), rec.Key)

	require.NoError(t, b.Delete(h))
	_, err = cat.Get(ctx, "ns", "tracked")
	assert.ErrorIs(t, err, catalog.ErrRecordNotFound)
}

func (suite *EngineTestSuite) testFiniClosesObjects(t *testing.T) {
	b, err := backend.New(t.TempDir(), suite.NewEngine(t))
	require.NoError(t, err)

	for _, name := range []string{"a", "b", "c"} {
		mustCreate(t, b, "", name)
	}
	require.Equal(t, 3, b.Cache().Len())

	require.NoError(t, b.Fini())
	assert.Equal(t, 0, b.Cache().Len())
}
