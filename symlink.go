package efsw

import (
	"os"
	"path/filepath"
)

// symlinkPolicy bundles the two toggles that govern recursive expansion
// across symlinks (spec.md §4.2). It is captured per-watch at add_watch
// time — later calls to FollowSymlinks/AllowOutOfScopeLinks on the
// FileWatcher only affect watches added afterward, matching efsw's
// mFollowSymlinks/mOutOfScopeLinks being read once per addWatch call.
type symlinkPolicy struct {
	follow         bool
	allowOutOfScope bool
}

// expandRecursiveDirs walks root and returns the logical path of every
// directory that should be watched under it: root itself, every ordinary
// descendant directory, and — subject to policy — directories reached
// through symlinks. Cycles are broken by remembering the canonical
// (symlink-resolved) path of every directory already entered during this
// expansion, keyed by its real path rather than its logical one
// (spec.md §4.2, §9). A directory reachable both directly and through a
// link is returned once, under whichever logical path the walk reaches
// first.
func expandRecursiveDirs(root string, policy symlinkPolicy) ([]string, error) {
	rootReal, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, err
	}
	visited := map[string]bool{rootReal: true}
	var dirs []string
	var walk func(logical string) error
	walk = func(logical string) error {
		dirs = append(dirs, logical)
		entries, err := os.ReadDir(logical)
		if err != nil {
			return err
		}
		for _, ent := range entries {
			childLogical := filepath.Join(logical, ent.Name())
			info, err := os.Lstat(childLogical)
			if err != nil {
				continue
			}
			if info.Mode()&os.ModeSymlink != 0 {
				if !policy.follow {
					continue
				}
				target, err := filepath.EvalSymlinks(childLogical)
				if err != nil {
					continue
				}
				targetInfo, err := os.Stat(target)
				if err != nil || !targetInfo.IsDir() {
					continue
				}
				if !policy.allowOutOfScope && !isWithin(rootReal, target) {
					continue
				}
				if visited[target] {
					continue
				}
				visited[target] = true
				if err := walk(childLogical); err != nil {
					continue
				}
				continue
			}
			if info.IsDir() {
				real, err := filepath.EvalSymlinks(childLogical)
				if err != nil {
					continue
				}
				if visited[real] {
					continue
				}
				visited[real] = true
				if err := walk(childLogical); err != nil {
					continue
				}
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return dirs, nil
}
