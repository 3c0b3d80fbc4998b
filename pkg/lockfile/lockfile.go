// Package lockfile implements a process wide exclusive lock backed by an
// advisory flock on a file.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned if another process already holds the lock.
var ErrLocked = errors.New("lock already held by another process")

// Lock is an acquired exclusive lock. It stays held until Release is called
// or the process exits.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes the lock at path without blocking, creating the file and its
// parent directory if needed.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
		return nil, err
	}
	// Record the owner for operators, failure here is harmless
	if err := file.Truncate(0); err == nil {
		fmt.Fprintf(file, "%d\n", os.Getpid())
	}
	return &Lock{path: path, file: file}, nil
}

// Path returns the location of the lock file.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. The file itself is left in place.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
