//go:build !unix

package statedir

import "os"

// Windows has no flock. The lock file still records the pid, but exclusion
// relies on the state directory being per-user.
func lockFile(f *os.File) error {
	return nil
}

func sharedLockFile(f *os.File) error {
	return nil
}

func unlockFile(f *os.File) error {
	return nil
}
