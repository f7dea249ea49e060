package efsw

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mgolini/efsw-go/internal/fsutil"
)

// canonicalize resolves dir to an absolute, symlink-free, cleaned path
// suitable for use as a registry key (spec.md §3's "canonicalized"
// root_path). It is the one place path equality is decided; two directory
// arguments that canonicalize to the same string are the same watch.
func canonicalize(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return filepath.Clean(real), nil
}

// classifyDirectory validates that path exists, is readable, and is a
// directory, translating os errors into the spec's ErrorCode vocabulary.
func classifyDirectory(path string) (os.FileInfo, ErrorCode, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, FileNotFound, err
		}
		if os.IsPermission(err) {
			return nil, FileNotReadable, err
		}
		return nil, Unspecified, err
	}
	if !fi.IsDir() {
		return nil, FileNotFound, fmt.Errorf("%s: not a directory", path)
	}
	if _, err := os.ReadDir(path); err != nil {
		if os.IsPermission(err) {
			return nil, FileNotReadable, err
		}
		return nil, Unspecified, err
	}
	return fi, NoError, nil
}

// isRemoteFilesystem reports whether path lives on a known network
// filesystem (spec.md §4.1's FileRemote). Errors probing the filesystem
// are treated as "not remote" since they usually mean the path vanished,
// a condition already covered by classifyDirectory.
func isRemoteFilesystem(path string) bool {
	remote, err := fsutil.IsRemote(path)
	if err != nil {
		return false
	}
	return remote
}

// isWithin reports whether target is target==root or a descendant of
// root, comparing cleaned, separator-bounded paths so "/home/foobar"
// isn't mistaken for being inside "/home/foo".
func isWithin(root, target string) bool {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if root == target {
		return true
	}
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[:2] == ".." &&
		(len(rel) == 2 || rel[2] == os.PathSeparator)
}
