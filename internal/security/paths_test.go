package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithin(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "captures")
	outside := filepath.Join(tmp, "elsewhere")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in root", filepath.Join(root, "0001.png"), false},
		{"nested new file", filepath.Join(root, "session", "0001.png"), false},
		{"root itself", root, false},
		{"dot-dot escape", filepath.Join(root, "..", "x.png"), true},
		{"sibling", filepath.Join(outside, "x.png"), true},
		{"existing symlink", filepath.Join(root, "link"), true},
		{"new file under symlink", filepath.Join(root, "link", "new.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Within(tt.path, root)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPathEscape)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveWithin(t *testing.T) {
	root := t.TempDir()

	got, err := ResolveWithin(root, "s1/0001.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "s1", "0001.png"), got)

	got, err = ResolveWithin(root, filepath.Join(root, "abs.png"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "abs.png"), got)

	_, err = ResolveWithin(root, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscape)
	_, err = ResolveWithin(root, "/etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                 "unknown",
		"board 9x6":        "board_9x6",
		"../../etc/passwd": "etc_passwd",
		"hand-eye_run.1":   "hand-eye_run.1",
		"日本語":              "unknown",
		"a//b??c":          "a_b_c",
		"...hidden":        "hidden",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}
