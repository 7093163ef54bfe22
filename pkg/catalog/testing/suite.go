package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konradgithuup/io-backends/pkg/catalog"
)

// CatalogTestSuite tests the catalog.Catalog contract independently of the
// implementation.
//
// Usage:
//
//	func TestMemoryCatalog(t *testing.T) {
//	    suite := &cattest.CatalogTestSuite{
//	        NewCatalog: func(t *testing.T) catalog.Catalog {
//	            return memory.NewMemoryCatalog()
//	        },
//	    }
//	    suite.Run(t)
//	}
type CatalogTestSuite struct {
	// NewCatalog returns a fresh, empty catalog for each test. The suite
	// closes it.
	NewCatalog func(t *testing.T) catalog.Catalog
}

// Run executes all tests in the suite.
func (suite *CatalogTestSuite) Run(t *testing.T) {
	t.Run("PutGet", suite.testPutGet)
	t.Run("PutReplaces", suite.testPutReplaces)
	t.Run("GetNotFound", suite.testGetNotFound)
	t.Run("PutInvalid", suite.testPutInvalid)
	t.Run("DeleteIdempotent", suite.testDeleteIdempotent)
	t.Run("ListPrefix", suite.testListPrefix)
	t.Run("ListIsolatesNamespaces", suite.testListIsolatesNamespaces)
	t.Run("CanceledContext", suite.testCanceledContext)
}

func (suite *CatalogTestSuite) newCatalog(t *testing.T) catalog.Catalog {
	t.Helper()
	c := suite.NewCatalog(t)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func record(namespace, name string) catalog.Record {
	return catalog.Record{
		Namespace: namespace,
		Name:      name,
		Path:      "/data/" + namespace + "/" + name,
		Engine:    "posix",
		Key:       3,
		Created:   1700000000,
	}
}

func mustPut(t *testing.T, c catalog.Catalog, rec catalog.Record) {
	t.Helper()
	require.NoError(t, c.Put(context.Background(), rec), "Put should succeed")
}

func recordNames(recs []catalog.Record) []string {
	names := make([]string, 0, len(recs))
	for _, rec := range recs {
		names = append(names, rec.Name)
	}
	return names
}

func (suite *CatalogTestSuite) testPutGet(t *testing.T) {
	c := suite.newCatalog(t)
	rec := record("ns", "a")
	mustPut(t, c, rec)

	got, err := c.Get(context.Background(), "ns", "a")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func (suite *CatalogTestSuite) testPutReplaces(t *testing.T) {
	c := suite.newCatalog(t)
	rec := record("ns", "a")
	mustPut(t, c, rec)

	rec.Engine = "mmap"
	rec.Key = 9
	mustPut(t, c, rec)

	got, err := c.Get(context.Background(), "ns", "a")
	require.NoError(t, err)
	assert.Equal(t, "mmap", got.Engine)
	assert.Equal(t, int64(9), got.Key)
}

func (suite *CatalogTestSuite) testGetNotFound(t *testing.T) {
	c := suite.newCatalog(t)

	_, err := c.Get(context.Background(), "ns", "missing")
	assert.ErrorIs(t, err, catalog.ErrRecordNotFound)
}

func (suite *CatalogTestSuite) testPutInvalid(t *testing.T) {
	c := suite.newCatalog(t)

	err := c.Put(context.Background(), catalog.Record{Namespace: "ns"})
	assert.ErrorIs(t, err, catalog.ErrInvalidRecord)
}

func (suite *CatalogTestSuite) testDeleteIdempotent(t *testing.T) {
	c := suite.newCatalog(t)
	mustPut(t, c, record("ns", "a"))

	require.NoError(t, c.Delete(context.Background(), "ns", "a"))
	require.NoError(t, c.Delete(context.Background(), "ns", "a"))

	_, err := c.Get(context.Background(), "ns", "a")
	assert.ErrorIs(t, err, catalog.ErrRecordNotFound)
}

func (suite *CatalogTestSuite) testListPrefix(t *testing.T) {
	c := suite.newCatalog(t)
	for _, name := range []string{"log-2", "data", "log-1", "dir/log-3"} {
		mustPut(t, c, record("ns", name))
	}

	all, err := c.List(context.Background(), "ns", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"data", "dir/log-3", "log-1", "log-2"}, recordNames(all))

	logs, err := c.List(context.Background(), "ns", "log-")
	require.NoError(t, err)
	assert.Equal(t, []string{"log-1", "log-2"}, recordNames(logs))

	none, err := c.List(context.Background(), "ns", "zzz")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func (suite *CatalogTestSuite) testListIsolatesNamespaces(t *testing.T) {
	c := suite.newCatalog(t)
	mustPut(t, c, record("ns", "a"))
	mustPut(t, c, record("ns2", "b"))

	recs, err := c.List(context.Background(), "ns", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, recordNames(recs))
}

func (suite *CatalogTestSuite) testCanceledContext(t *testing.T) {
	c := suite.newCatalog(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.Put(ctx, record("ns", "a")), context.Canceled)
	_, err := c.Get(ctx, "ns", "a")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = c.List(ctx, "ns", "")
	assert.ErrorIs(t, err, context.Canceled)
}
