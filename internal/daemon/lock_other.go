//go:build !unix

package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrLocked means another process holds the daemon lock.
var ErrLocked = errors.New("daemon already running")

// lockFile on platforms without flock is an exclusively created file. A
// crashed daemon leaves it behind and it must be removed by hand.
type lockFile struct {
	path string
}

func acquireLock(dir string) (*lockFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	p := filepath.Join(dir, lockName)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}
	f.Close()
	return &lockFile{path: p}, nil
}

func (l *lockFile) release() error {
	if l == nil {
		return nil
	}
	return os.Remove(l.path)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
