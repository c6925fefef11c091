// Package lock implements single-instance process enforcement via an
// advisory flock on a lock file (spec.md §6 "Process lifecycle": "startup
// exits if a live peer holds it"). Nothing in the corpus wraps
// syscall.Flock with a library — this is plain stdlib, justified in
// DESIGN.md.
package lock

import (
	"fmt"
	"os"
	"syscall"
)

// Lock holds an exclusively-locked file for the life of the process.
type Lock struct {
	file *os.File
}

// Acquire opens (creating if needed) the file at path and takes a
// non-blocking exclusive flock. If a live peer already holds the lock,
// Acquire returns an error immediately rather than blocking — startup is
// meant to fail fast (spec.md §7: lock-held-by-live-peer is a fatal
// startup error).
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquire lock %s: another instance is running: %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("truncate lock file %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("write pid to lock file %s: %w", path, err)
	}

	return &Lock{file: f}, nil
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	return l.file.Close()
}
