package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pixperk/solo/pkg/types"
	"golang.org/x/sys/unix"
)

const lockFileName = ".solo.lock"

// ProjectLock is the on-disk claim on a project's data directory: an
// exclusive flock on <path>/.solo.lock with the holder's PID inside.
// The OS drops it when the holder dies.
type ProjectLock struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// takes the lock without blocking; a held lock returns
// types.ErrProjectLocked naming the holder
func AcquireProjectLock(projectPath string) (*ProjectLock, error) {
	if err := os.MkdirAll(projectPath, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(projectPath, lockFileName)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open project lock: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			pid, _ := LockHolder(projectPath)
			return nil, fmt.Errorf("%w (pid %d)", types.ErrProjectLocked, pid)
		}
		return nil, fmt.Errorf("failed to lock project: %w", err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &ProjectLock{path: path, f: f}, nil
}

func (l *ProjectLock) Path() string {
	return l.path
}

// safe to call more than once
func (l *ProjectLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	_ = l.f.Truncate(0)
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

// PID recorded in the project's lock file, 0 when none
func LockHolder(projectPath string) (int, error) {
	raw, err := os.ReadFile(filepath.Join(projectPath, lockFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
