package testing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/konradgithuup/io-backends/pkg/backend"
)

// EngineTestSuite is a test suite for backend.Engine implementations. It
// tests the Object contract and the Backend workflow on top of it, not
// engine internals, so every engine is held to the same observable
// behaviour.
//
// Usage:
//
//	func TestMyEngine(t *testing.T) {
//	    suite := &backendtest.EngineTestSuite{
//	        NewEngine: func(t *testing.T) backend.Engine {
//	            return myengine.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type EngineTestSuite struct {
	// NewEngine returns the engine under test. It may call t.Skip when the
	// kernel facility the engine depends on is unavailable.
	NewEngine func(t *testing.T) backend.Engine
}

// Run executes all tests in the suite.
func (suite *EngineTestSuite) Run(t *testing.T) {
	t.Run("ObjectOperations", suite.RunObjectTests)
	t.Run("Workflow", suite.RunWorkflowTests)
	t.Run("Concurrency", suite.RunConcurrencyTests)
}

// newBackend returns a backend rooted at a fresh temporary directory. The
// backend is finalised when the test ends.
func (suite *EngineTestSuite) newBackend(t *testing.T, opts ...backend.Option) *backend.Backend {
	t.Helper()
	return suite.newBackendAt(t, t.TempDir(), opts...)
}

func (suite *EngineTestSuite) newBackendAt(t *testing.T, root string, opts ...backend.Option) *backend.Backend {
	t.Helper()

	engine := suite.NewEngine(t)
	b, err := backend.New(root, engine, opts...)
	require.NoError(t, err, "backend.New should succeed")

	t.Cleanup(func() {
		_ = b.Fini()
	})
	return b
}
