package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
)

const testManifest = `
tasks:
  - name: hello
    uses: echo
    description: Greets
  - name: morning
    flow: waterfall
    tasks:
      - hello
      - name: hello
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	manifests, only, runArgs = nil, nil, nil
	runTimeout, metricsAddr = 0, ""
	describeFormat = "text"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--quiet"))
	err := Execute(context.Background())
	return out.String(), err
}

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o644))
	return path
}

func TestListBuiltins(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)

	for _, name := range []string{"echo", "sleep", "fail", "series", "parallel", "race", "waterfall", "try"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "SUSPENDABLE")
}

func TestListManifestWithFilter(t *testing.T) {
	path := writeManifest(t)

	out, err := execute(t, "list", "--manifest", path, "--only", "hel*")
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "Greets")
	assert.NotContains(t, out, "morning")
}

func TestRunEcho(t *testing.T) {
	out, err := execute(t, "run", "echo", "--arg", "message=hi", "--arg", "count=2")
	require.NoError(t, err)

	assert.Contains(t, out, "echo completed")
	assert.Contains(t, out, "message: hi")
	assert.Contains(t, out, "count: 2")
}

func TestRunManifestFlow(t *testing.T) {
	path := writeManifest(t)

	out, err := execute(t, "run", "morning", "--manifest", path, "--arg", "who=you")
	require.NoError(t, err)
	assert.Contains(t, out, "morning completed")
	assert.Contains(t, out, "who: you")
}

func TestRunFailure(t *testing.T) {
	out, err := execute(t, "run", "fail", "--arg", "message=broken")
	require.Error(t, err)
	assert.EqualError(t, err, "broken")
	assert.Contains(t, out, "fail failed")
}

func TestRunUnknownTask(t *testing.T) {
	_, err := execute(t, "run", "missing")
	assert.ErrorIs(t, err, taskerrors.ErrUnknownTask)
}

func TestRunTimeout(t *testing.T) {
	_, err := execute(t, "run", "sleep", "--arg", "duration=5s", "--timeout", "50ms")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunRejectsBadArgs(t *testing.T) {
	_, err := execute(t, "run", "echo", "--arg", "=x")
	assert.Error(t, err)

	_, err = execute(t, "run", "echo", "--timeout=-1s")
	assert.Error(t, err)
}

func TestDescribeManifestFlow(t *testing.T) {
	path := writeManifest(t)

	out, err := execute(t, "describe", "morning", "--manifest", path)
	require.NoError(t, err)
	assert.Equal(t, "morning [waterfall]\n├── hello\n└── hello\n", out)

	out, err = execute(t, "describe", "morning", "--manifest", path, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"flow": "waterfall"`)

	_, err = execute(t, "describe", "morning", "--manifest", path, "--format", "svg")
	assert.Error(t, err)
}
