package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a config for engine rooted in a temp directory and
// returns its path and the namespace root.
func writeConfig(t *testing.T, engine string, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "ns")
	path := filepath.Join(dir, "config.yaml")

	content := `
logging:
  level: ERROR
  output: stderr
backend:
  namespace: ` + root + `
  engine: ` + engine + `
` + extra
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, root
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestWorkflow(t *testing.T) {
	for _, engine := range []string{"posix", "mmap"} {
		t.Run(engine, func(t *testing.T) {
			cfg, root := writeConfig(t, engine, "")

			_, _, err := runCLI(t, "", "-config", cfg, "create", "-ns", "data", "hello.txt")
			require.NoError(t, err)

			_, _, err = runCLI(t, "Hello, world!", "-config", cfg, "write", "-ns", "data", "-sync", "hello.txt")
			require.NoError(t, err)

			out, _, err := runCLI(t, "", "-config", cfg, "read", "-ns", "data", "hello.txt")
			require.NoError(t, err)
			assert.Equal(t, "Hello, world!", out)

			out, _, err = runCLI(t, "", "-config", cfg, "read", "-ns", "data", "-offset", "7", "-length", "5", "hello.txt")
			require.NoError(t, err)
			assert.Equal(t, "world", out)

			out, _, err = runCLI(t, "", "-config", cfg, "stat", "-ns", "data", "hello.txt")
			require.NoError(t, err)
			assert.Contains(t, out, "size:     13")
			assert.Contains(t, out, "engine:   "+engine)

			// The file itself carries the logical size.
			info, err := os.Stat(filepath.Join(root, "data", "hello.txt"))
			require.NoError(t, err)
			assert.Equal(t, int64(13), info.Size())

			_, _, err = runCLI(t, "", "-config", cfg, "write", "-ns", "data", "-create", "-data", "x", "log-1")
			require.NoError(t, err)
			_, _, err = runCLI(t, "", "-config", cfg, "write", "-ns", "data", "-create", "-data", "y", "log-2")
			require.NoError(t, err)

			out, _, err = runCLI(t, "", "-config", cfg, "list", "-ns", "data")
			require.NoError(t, err)
			assert.Equal(t, "hello.txt\nlog-1\nlog-2\n", out)

			out, _, err = runCLI(t, "", "-config", cfg, "list", "-ns", "data", "-prefix", "log-")
			require.NoError(t, err)
			assert.Equal(t, "log-1\nlog-2\n", out)

			_, _, err = runCLI(t, "", "-config", cfg, "sync", "-ns", "data", "log-1")
			require.NoError(t, err)

			_, _, err = runCLI(t, "", "-config", cfg, "delete", "-ns", "data", "log-1")
			require.NoError(t, err)
			assert.NoFileExists(t, filepath.Join(root, "data", "log-1"))
		})
	}
}

func TestWriteMissingWithoutCreate(t *testing.T) {
	cfg, _ := writeConfig(t, "posix", "")

	_, _, err := runCLI(t, "", "-config", cfg, "write", "-data", "x", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCreateExisting(t *testing.T) {
	cfg, _ := writeConfig(t, "posix", "")

	_, _, err := runCLI(t, "", "-config", cfg, "create", "obj")
	require.NoError(t, err)

	_, _, err = runCLI(t, "", "-config", cfg, "create", "obj")
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestInvalidName(t *testing.T) {
	cfg, _ := writeConfig(t, "posix", "")

	_, _, err := runCLI(t, "", "-config", cfg, "create", "../escape")
	assert.Error(t, err)
}

func TestUsage(t *testing.T) {
	_, stderr, err := runCLI(t, "")
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, stderr, "Commands:")

	_, _, err = runCLI(t, "", "frobnicate")
	assert.ErrorContains(t, err, "unknown command")
}

func TestObjectCommandNeedsName(t *testing.T) {
	cfg, _ := writeConfig(t, "posix", "")

	_, _, err := runCLI(t, "", "-config", cfg, "stat")
	assert.ErrorContains(t, err, "expected exactly one object name")
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	out, _, err := runCLI(t, "", "init", "-path", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, _, err = runCLI(t, "", "init", "-path", path)
	assert.ErrorContains(t, err, "already exists")

	_, _, err = runCLI(t, "", "init", "-force", "-path", path)
	assert.NoError(t, err)
}

func TestCatalogAndMetrics(t *testing.T) {
	cfg, root := writeConfig(t, "mmap", `
catalog:
  type: badger
  badger:
    path: `+filepath.Join(t.TempDir(), "catalog")+`
metrics:
  enabled: true
`)

	_, _, err := runCLI(t, "", "-config", cfg, "write", "-create", "-data", "payload", "obj")
	require.NoError(t, err)

	// The badger catalog reopens the same database on every invocation.
	_, stderr, err := runCLI(t, "", "-config", cfg, "-metrics", "stat", "obj")
	require.NoError(t, err)
	assert.Contains(t, stderr, "iobackends_operations_total")
	assert.FileExists(t, filepath.Join(root, "obj"))
}

func TestListCatalog(t *testing.T) {
	cfg, _ := writeConfig(t, "posix", `
catalog:
  type: badger
  badger:
    path: `+filepath.Join(t.TempDir(), "catalog")+`
`)

	for _, name := range []string{"b.log", "a.log", "other"} {
		_, _, err := runCLI(t, "", "-config", cfg, "create", "-ns", "logs", name)
		require.NoError(t, err)
	}
	_, _, err := runCLI(t, "", "-config", cfg, "delete", "-ns", "logs", "other")
	require.NoError(t, err)

	out, _, err := runCLI(t, "", "-config", cfg, "list", "-ns", "logs", "-catalog")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for i, name := range []string{"a.log", "b.log"} {
		fields := strings.Split(lines[i], "\t")
		require.Len(t, fields, 3, lines[i])
		assert.Equal(t, name, fields[0])
		assert.Equal(t, "posix", fields[1])
		_, err := time.Parse(time.RFC3339, fields[2])
		assert.NoError(t, err, "creation time %q", fields[2])
	}

	out, _, err = runCLI(t, "", "-config", cfg, "list", "-ns", "logs", "-prefix", "b", "-catalog")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "b.log\tposix\t"), out)
}

func TestListCatalogWithoutCatalog(t *testing.T) {
	cfg, _ := writeConfig(t, "posix", "")

	_, _, err := runCLI(t, "", "-config", cfg, "list", "-catalog")
	assert.ErrorContains(t, err, "no catalog configured")
}
