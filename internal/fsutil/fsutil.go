// Package fsutil holds the platform-specific filesystem probe AddWatch
// uses to reject network mounts: remote-filesystem detection
// (spec.md §4.1's FileRemote) is the only one that needs syscalls, so it
// is the only thing this package exports.
package fsutil

// IsRemote reports whether the filesystem containing path is a known
// network filesystem type (NFS, SMB/CIFS, AFP, WebDAV-backed mounts, ...).
// On platforms where this module has no cheap syscall to check, IsRemote
// always returns (false, nil) — a documented limitation, not an error.
func IsRemote(path string) (bool, error) {
	return isRemote(path)
}
