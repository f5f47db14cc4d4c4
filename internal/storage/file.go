package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"offensebot/internal/offense"
	logx "offensebot/pkg/logx"
)

// fileStore keeps the cache as a JSON array of IDs, e.g. [1,2,3].
//
// Saves go through <path>.tmp + rename so a crash mid-write never leaves a
// truncated cache behind.
type fileStore struct {
	log  logx.Logger
	path string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: cfg.Path}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context) (offense.IDSet, error) {
	_ = ctx
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Debug("cache file not found; starting empty", logx.String("path", s.path))
		return offense.NewIDSet(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrCorrupt, s.path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrCorrupt, s.path)
	}

	var ids offense.IDSet
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrCorrupt, s.path, err)
	}
	return ids, nil
}

func (s *fileStore) Save(ctx context.Context, ids offense.IDSet) error {
	_ = ctx
	if ids == nil {
		ids = offense.NewIDSet()
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.log.Debug("cache saved", logx.String("path", s.path), logx.Int("ids", ids.Len()))
	return nil
}
