//go:build windows

package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"
)

// detectFilesystemType reports "remote" for mapped network drives and UNC
// paths, otherwise the volume's filesystem name.
func detectFilesystemType(path string) (string, error) {
	root := filepath.VolumeName(path)
	if root == "" {
		return "", fmt.Errorf("no volume in %q", path)
	}
	if strings.HasPrefix(root, `\\`) {
		return "remote", nil
	}
	root += `\`

	rootPtr, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return "", err
	}
	if windows.GetDriveType(rootPtr) == windows.DRIVE_REMOTE {
		return "remote", nil
	}

	fsName := make([]uint16, windows.MAX_PATH+1)
	if err := windows.GetVolumeInformation(rootPtr, nil, 0, nil, nil, nil, &fsName[0], uint32(len(fsName))); err != nil {
		return "", fmt.Errorf("volume information for %q: %w", root, err)
	}
	return strings.ToLower(windows.UTF16ToString(fsName)), nil
}
