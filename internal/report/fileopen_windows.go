//go:build windows

package report

import "os"

// openFileNoFollow opens path for writing. O_NOFOLLOW does not exist on
// Windows; Write still rejects symlinks with Lstat first.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}
