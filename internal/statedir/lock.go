package statedir

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const lockFileName = "clawdockd.lock"

// LockPath returns the daemon lock file location for a state directory.
func LockPath(dir string) string {
	return filepath.Join(dir, lockFileName)
}

// Lock is an exclusive advisory hold on a state directory. The flock is the
// lock; the pid written into the file is a troubleshooting hint only.
type Lock struct {
	f    *os.File
	path string
}

// AcquireLock takes the exclusive lock, failing immediately when another
// process holds it.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("another process already holds %s", path)
	}

	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return &Lock{f: f, path: path}, nil
}

// Release drops the lock and removes the lock file.
func (l *Lock) Release() {
	if l == nil || l.f == nil {
		return
	}
	_ = unlockFile(l.f)
	_ = l.f.Close()
	_ = os.Remove(l.path)
	l.f = nil
}

// LockHeld reports whether some process currently holds the exclusive lock.
// It is a point-in-time answer, good for refusing to race a running daemon,
// not for mutual exclusion.
func LockHeld(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	if err := sharedLockFile(f); err != nil {
		return true
	}
	_ = unlockFile(f)
	return false
}
