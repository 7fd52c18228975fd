package roots

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majoor-app/majoor/pkg/errcode"
)

func newTestRegistry(t *testing.T) (*Registry, string, string) {
	t.Helper()
	out := t.TempDir()
	in := t.TempDir()
	t.Setenv("MAJOOR_OUTPUT_DIRECTORY", out)
	r, err := NewRegistry(Config{InputRoot: in})
	require.NoError(t, err)
	return r, out, in
}

func TestOutputRoot_PriorityChain(t *testing.T) {
	r, out, _ := newTestRegistry(t)

	assert.Equal(t, out, r.OutputRoot(""))

	override := t.TempDir()
	assert.Equal(t, override, r.OutputRoot(override))
}

func TestIsPathAllowed(t *testing.T) {
	r, out, in := newTestRegistry(t)

	inside := filepath.Join(out, "sub", "a.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(inside), 0o755))
	require.NoError(t, os.WriteFile(inside, []byte("x"), 0o644))

	assert.True(t, r.IsPathAllowed(inside, true))
	assert.True(t, r.IsPathAllowed(filepath.Join(in, "b.png"), false))
	assert.False(t, r.IsPathAllowed("/etc/passwd", false))
	assert.False(t, r.IsPathAllowed(filepath.Join(out, "..", "escape.png"), false))
}

func TestIsPathAllowed_SymlinkEscape(t *testing.T) {
	r, out, _ := newTestRegistry(t)

	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.png")
	require.NoError(t, os.WriteFile(secret, []byte("x"), 0o644))

	link := filepath.Join(out, "link.png")
	require.NoError(t, os.Symlink(secret, link))

	// The link lives under the output root but resolves outside it.
	assert.False(t, r.IsPathAllowed(link, true))
}

func TestAddCustomRoot(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	dir := t.TempDir()

	res, err := r.AddCustomRoot(dir, "models")
	require.NoError(t, err)
	assert.False(t, res.AlreadyExists)
	assert.Equal(t, "models", res.Root.Label)
	assert.NotEmpty(t, res.Root.ID)

	// Re-adding the same path returns the existing row.
	res2, err := r.AddCustomRoot(dir, "other")
	require.NoError(t, err)
	assert.True(t, res2.AlreadyExists)
	assert.Equal(t, res.Root.ID, res2.Root.ID)
}

func TestAddCustomRoot_RejectsOverlap(t *testing.T) {
	r, out, _ := newTestRegistry(t)

	_, err := r.AddCustomRoot(out, "dup-of-output")
	assert.True(t, errcode.Is(err, errcode.Conflict))

	parent := t.TempDir()
	child := filepath.Join(parent, "child")
	require.NoError(t, os.MkdirAll(child, 0o755))

	_, err = r.AddCustomRoot(parent, "parent")
	require.NoError(t, err)
	_, err = r.AddCustomRoot(child, "child")
	assert.True(t, errcode.Is(err, errcode.Conflict))
}

func TestCustomRoots_PersistAcrossRestart(t *testing.T) {
	r, _, in := newTestRegistry(t)
	dir := t.TempDir()

	res, err := r.AddCustomRoot(dir, "persisted")
	require.NoError(t, err)

	r2, err := NewRegistry(Config{InputRoot: in})
	require.NoError(t, err)
	list := r2.CustomRoots()
	require.Len(t, list, 1)
	assert.Equal(t, res.Root.ID, list[0].ID)
	assert.Equal(t, res.Root.Path, list[0].Path)
}

func TestRemoveCustomRoot(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	res, err := r.AddCustomRoot(t.TempDir(), "tmp")
	require.NoError(t, err)

	require.NoError(t, r.RemoveCustomRoot(res.Root.ID))
	assert.Empty(t, r.CustomRoots())

	err = r.RemoveCustomRoot(res.Root.ID)
	assert.True(t, errcode.Is(err, errcode.NotFound))
}

func TestClassify(t *testing.T) {
	r, out, in := newTestRegistry(t)
	custom := t.TempDir()
	res, err := r.AddCustomRoot(custom, "c")
	require.NoError(t, err)

	source, rootID, base, err := r.Classify(filepath.Join(out, "x.png"))
	require.NoError(t, err)
	assert.Equal(t, "output", source)
	assert.Empty(t, rootID)
	assert.Equal(t, out, base)

	source, _, _, err = r.Classify(filepath.Join(in, "y.png"))
	require.NoError(t, err)
	assert.Equal(t, "input", source)

	source, rootID, _, err = r.Classify(filepath.Join(custom, "z.png"))
	require.NoError(t, err)
	assert.Equal(t, "custom", source)
	assert.Equal(t, res.Root.ID, rootID)

	_, _, _, err = r.Classify("/nowhere/else.png")
	assert.True(t, errcode.Is(err, errcode.Forbidden))
}

func TestSafeRelPath(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"sub/a.png", "sub/a.png", false},
		{"sub\\win\\a.png", "sub/win/a.png", false},
		{"", "", false},
		{".", "", false},
		{"../escape", "", true},
		{"sub/../../escape", "", true},
		{"/abs/path", "", true},
		{"C:/windows", "", true},
		{"bad\x00null", "", true},
	}
	for _, tc := range cases {
		got, err := SafeRelPath(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}
