package efsw

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandRecursiveDirsPlainTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "c"), 0o755))

	dirs, err := expandRecursiveDirs(root, symlinkPolicy{})
	require.NoError(t, err)
	sort.Strings(dirs)

	want := []string{root, filepath.Join(root, "a"), filepath.Join(root, "a", "b"), filepath.Join(root, "c")}
	sort.Strings(want)
	assert.Equal(t, want, dirs)
}

func TestExpandRecursiveDirsSkipsSymlinksByDefault(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires elevated privileges on windows")
	}
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(outside, "target"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(outside, "target"), filepath.Join(root, "link")))

	dirs, err := expandRecursiveDirs(root, symlinkPolicy{follow: false})
	require.NoError(t, err)
	assert.Equal(t, []string{root}, dirs)
}

func TestExpandRecursiveDirsFollowsInScopeSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires elevated privileges on windows")
	}
	root := t.TempDir()
	real := filepath.Join(root, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	require.NoError(t, os.Symlink(real, filepath.Join(root, "link")))

	dirs, err := expandRecursiveDirs(root, symlinkPolicy{follow: true})
	require.NoError(t, err)
	assert.Len(t, dirs, 2) // root, link(->real); real shares link's canonical path and is not entered twice
}

func TestExpandRecursiveDirsRejectsOutOfScopeSymlinkUnlessAllowed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires elevated privileges on windows")
	}
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(outside, "target"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(outside, "target"), filepath.Join(root, "link")))

	dirs, err := expandRecursiveDirs(root, symlinkPolicy{follow: true, allowOutOfScope: false})
	require.NoError(t, err)
	assert.Equal(t, []string{root}, dirs)

	dirs, err = expandRecursiveDirs(root, symlinkPolicy{follow: true, allowOutOfScope: true})
	require.NoError(t, err)
	assert.Len(t, dirs, 2)
}

func TestExpandRecursiveDirsBreaksSymlinkCycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires elevated privileges on windows")
	}
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.Symlink(root, filepath.Join(sub, "back")))

	done := make(chan struct{})
	var dirs []string
	var err error
	go func() {
		dirs, err = expandRecursiveDirs(root, symlinkPolicy{follow: true, allowOutOfScope: true})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("expandRecursiveDirs did not terminate on a symlink cycle")
	}
	require.NoError(t, err)
	assert.Contains(t, dirs, root)
	assert.Contains(t, dirs, sub)
}
