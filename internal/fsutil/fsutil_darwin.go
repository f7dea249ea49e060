//go:build darwin

package fsutil

import (
	"bytes"

	"golang.org/x/sys/unix"
)

var remoteFsTypeNames = map[string]bool{
	"nfs":    true,
	"smbfs":  true,
	"afpfs":  true,
	"webdav": true,
	"cifs":   true,
	"fuse":   true,
}

func isRemote(path string) (bool, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false, err
	}
	return remoteFsTypeNames[fstypename(st.Fstypename)], nil
}

func fstypename(raw [16]int8) string {
	b := make([]byte, len(raw))
	for i, c := range raw {
		b[i] = byte(c)
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
