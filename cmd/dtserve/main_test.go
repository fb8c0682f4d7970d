package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
databases:
  - name: main
    driver: sqlite3
    dsn: ":memory:"
grids:
  - name: users
    select: ["id", "name"]
    from: users
`

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte(validConfig), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("grids: 12\n"), 0o644))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate", good})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "✅ good.yaml is valid.")

	out.Reset()
	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate", good, bad})
	assert.Error(t, cmd.Execute())
	assert.Contains(t, out.String(), "❌ bad.yaml is invalid!")
}

func TestInspectNeedsInput(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"inspect"})
	assert.EqualError(t, cmd.Execute(), "one of --sql or --grid is required")
}

func TestInspectQuery(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"inspect", "--sql", "SELECT u.id, u.name AS who FROM users u"})
	assert.NoError(t, cmd.Execute())
}
