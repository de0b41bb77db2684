package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dbPath string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--db", dbPath, "--log-level", "error"}, args...))
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

var idPattern = regexp.MustCompile(`: (\d+)`)

func firstID(t *testing.T, s string) string {
	t.Helper()
	m := idPattern.FindStringSubmatch(s)
	require.NotNil(t, m, s)
	return m[1]
}

func TestCLI_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	db := filepath.Join(dir, "data", "labels.db")

	rootID := firstID(t, run(t, db, "create-root", "animal", "--external-id", "wd:Q729"))
	cowOut := run(t, db, "add", rootID, "cow")
	assert.Contains(t, cowOut, "cow (under "+rootID+")")
	run(t, db, "add", rootID, "horse")

	shown := run(t, db, "show", rootID)
	assert.Contains(t, shown, "animal ["+rootID+"] (wd:Q729)")
	assert.Contains(t, shown, "\n  cow [")
	assert.Contains(t, shown, "\n  horse [")

	names := run(t, db, "children", rootID, rootID, "--field", "name")
	assert.Equal(t, "cow\nhorse\n", names)

	exported := filepath.Join(dir, "tree.json")
	run(t, db, "export", rootID, "--renumber", "-o", exported)
	raw, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"name": "horse"`)

	imported := run(t, db, "import", exported)
	assert.Contains(t, imported, "Imported 3 leaves")
	newRoot := idPattern.FindAllStringSubmatch(imported, -1)
	require.NotEmpty(t, newRoot)

	deleted := run(t, db, "delete", rootID)
	assert.Contains(t, deleted, "(3 leaves)")
}

func TestCLI_ImportCSV(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	db := filepath.Join(dir, "labels.db")

	csvPath := filepath.Join(dir, "tree.csv")
	csv := "idx,name,parent_leaf_id,abbreviation\n1,animal,,an\n2,cow,1,c\n3,horse,1,\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0o644))

	out := run(t, db, "import", csvPath)
	rootID := regexp.MustCompile(`root: (\d+)`).FindStringSubmatch(out)
	require.NotNil(t, rootID, out)

	tuples := run(t, db, "children", rootID[1], rootID[1], "-f", "name,abbreviation")
	assert.Equal(t, "cow\tc\nhorse\t<nil>\n", tuples)
}

func TestCLI_ImportTwoRootsFails(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	csvPath := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("idx,name,parent_leaf_id\n1,a,\n2,b,\n"), 0o644))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--db", filepath.Join(dir, "x.db"), "import", csvPath})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "found 2")
}

func TestCLI_ImportURL(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	db := filepath.Join(dir, "labels.db")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/vehicles":
			w.Header().Set("Content-Type", "application/x-yaml")
			w.Write([]byte("- idx: 1\n  name: vehicle\n- idx: 2\n  name: car\n  parent_leaf_id: 1\n"))
		case "/tree.csv":
			w.Write([]byte("idx,name,parent_leaf_id\n1,animal,\n2,cow,1\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out := run(t, db, "import", srv.URL+"/vehicles")
	assert.Contains(t, out, "Imported 2 leaves")

	// Unknown content type falls back to the URL extension.
	out = run(t, db, "import", srv.URL+"/tree.csv")
	assert.Contains(t, out, "Imported 2 leaves")
}

type failingCloser struct{ err error }

func (c failingCloser) Close() error { return c.err }

func TestCloseOutput(t *testing.T) {
	diskFull := errors.New("disk full")

	var err error
	closeOutput(failingCloser{diskFull}, &err)
	require.ErrorIs(t, err, diskFull)

	writeErr := errors.New("write failed")
	err = writeErr
	closeOutput(failingCloser{diskFull}, &err)
	assert.Equal(t, writeErr, err)

	err = nil
	closeOutput(failingCloser{}, &err)
	assert.NoError(t, err)
}

func TestCLI_DeleteRefusesInnerLeaf(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	db := filepath.Join(dir, "labels.db")

	rootID := firstID(t, run(t, db, "create-root", "animal"))
	cowID := firstID(t, run(t, db, "add", rootID, "cow"))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--db", db, "--log-level", "error", "delete", cowID})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a tree root")

	shown := run(t, db, "show", rootID)
	assert.Contains(t, shown, "cow [")
}
