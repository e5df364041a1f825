package resctrl_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// tree builds files under root from a path -> content map.
func tree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// selfMountinfo installs a /proc/self symlink pointing at a fake pid
// directory carrying mountinfo.
func selfMountinfo(t *testing.T, procRoot, mountinfo string) {
	t.Helper()
	tree(t, procRoot, map[string]string{"4242/mountinfo": mountinfo})
	require.NoError(t, os.Symlink("4242", filepath.Join(procRoot, "self")))
}
