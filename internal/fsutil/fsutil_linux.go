//go:build linux

package fsutil

import "golang.org/x/sys/unix"

// Magic numbers for filesystem types that are unambiguously network
// mounts; see linux/magic.h. This list intentionally only names types
// that are always remote — local-or-remote types like overlayfs are left
// out rather than guessed at.
var remoteMagic = map[int64]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0xFE534D42: "smb2",
	0x517B:     "smb",
	0x65735546: "fuse", // sshfs and most FUSE network filesystems mount as "fuse"
	0x5346414F: "afs",
	0x61636673: "acfs",
	0x00C36400: "ceph",
}

func isRemote(path string) (bool, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false, err
	}
	_, remote := remoteMagic[int64(st.Type)]
	return remote, nil
}
