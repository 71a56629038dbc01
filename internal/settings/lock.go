package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// LockTimeout is the timeout for acquiring the settings lock.
const LockTimeout = 2 * time.Second

// Lock errors.
var (
	errLockTimeout  = errors.New("lock timeout")
	errLockFileOpen = errors.New("failed to open lock file")
)

// withLock runs handler while holding an exclusive lock on path.
func withLock(path string, handler func() error) error {
	lock, err := acquireLock(path, LockTimeout)
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}

	defer lock.release()

	return handler()
}

type fileLock struct {
	path string
	file *os.File
}

// release removes the lock file while still holding the lock, then unlocks.
func (l *fileLock) release() {
	if l.file != nil {
		_ = os.Remove(l.path)
		_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
		_ = l.file.Close()
		l.file = nil
	}
}

// acquireLock locks path+".lock". A lock file deleted and recreated by a
// previous holder while we waited is detected by comparing inodes, and the
// attempt is retried.
func acquireLock(path string, timeout time.Duration) (*fileLock, error) {
	lockPath := path + ".lock"
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s", errLockTimeout, path)
		}

		err := os.MkdirAll(filepath.Dir(lockPath), dirPerms)
		if err != nil {
			return nil, fmt.Errorf("creating settings dir: %w", err)
		}

		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, filePerms)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errLockFileOpen, err)
		}

		var openStat unix.Stat_t

		err = unix.Fstat(int(file.Fd()), &openStat)
		if err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("fstat lock file: %w", err)
		}

		fd := int(file.Fd())
		done := make(chan error, 1)

		go func() {
			done <- unix.Flock(fd, unix.LOCK_EX)
		}()

		select {
		case err := <-done:
			if err != nil {
				_ = file.Close()

				return nil, fmt.Errorf("flock: %w", err)
			}

			var pathStat unix.Stat_t

			statErr := unix.Stat(lockPath, &pathStat)
			if statErr != nil || pathStat.Ino != openStat.Ino {
				_ = unix.Flock(fd, unix.LOCK_UN)
				_ = file.Close()

				continue
			}

			return &fileLock{path: lockPath, file: file}, nil
		case <-time.After(remaining):
			_ = file.Close()

			return nil, fmt.Errorf("%w: %s", errLockTimeout, path)
		}
	}
}
