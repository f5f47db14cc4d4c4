package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
)

// DefaultLockStaleAfter is how old a lock file must be before it is treated
// as left behind by a killed run.
const DefaultLockStaleAfter = time.Hour

// Lock is an advisory single-writer guard held for the duration of one run.
type Lock struct {
	path string
}

// AcquireLock creates <cachePath>.lock exclusively. If the lock exists and is
// older than staleAfter it is replaced; otherwise ErrLocked is returned.
func AcquireLock(cachePath string, staleAfter time.Duration) (*Lock, error) {
	if strings.TrimSpace(cachePath) == "" {
		cachePath = DefaultPath
	}
	if staleAfter <= 0 {
		staleAfter = DefaultLockStaleAfter
	}
	path := cachePath + ".lock"

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, werr := fmt.Fprintf(f, "pid=%d started=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, errors.Join(werr, cerr)
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}

		st, serr := os.Stat(path)
		if serr != nil {
			if errors.Is(serr, fs.ErrNotExist) {
				continue // released between OpenFile and Stat
			}
			return nil, serr
		}
		if time.Since(st.ModTime()) < staleAfter {
			return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
