//go:build windows

package fsutil

import (
	"path/filepath"
	"syscall"

	"golang.org/x/sys/windows"
)

// isRemote reports the DRIVE_REMOTE classification for path's volume, per
// GetDriveTypeW. The Windows backend does not call this; it separately
// maps ERROR_INVALID_PARAMETER from ReadDirectoryChangesW to FileRemote.
func isRemote(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	vol := filepath.VolumeName(abs)
	if vol == "" {
		return false, nil
	}
	ptr, err := windows.UTF16PtrFromString(vol + `\`)
	if err != nil {
		return false, err
	}
	driveType := windows.GetDriveType(ptr)
	return driveType == syscall.DRIVE_REMOTE, nil
}
