// Package lock serializes access to a session directory. One daemon per
// session: the cache database and account file tolerate no concurrent
// writers, so a second instance must refuse to start.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockHeldError is returned when another daemon holds the session.
type LockHeldError struct {
	PID  int
	Path string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("session lock held by PID %d (%s)", e.PID, e.Path)
}

// Lock is an acquired session lock. Held until Release or process exit;
// the kernel drops the flock either way, so a crashed daemon never
// strands a session.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock for a session directory. Returns
// LockHeldError carrying the holder's PID when the session is already
// owned.
func Acquire(sessionDir string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	lockPath := filepath.Join(sessionDir, "LOCK")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(lockPath)
		_ = f.Close()
		return nil, &LockHeldError{PID: holderPID(string(data)), Path: lockPath}
	}

	if err := stamp(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: lockPath}, nil
}

// Release drops the lock and removes the file. Safe on a nil receiver
// and safe to call twice.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// stamp records who holds the lock, for the error message a competing
// daemon prints.
func stamp(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\ntime=%s\n",
		os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func holderPID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(after)
			return pid
		}
	}
	return 0
}
