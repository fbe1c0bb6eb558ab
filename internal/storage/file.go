package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "taskplanner/pkg/logx"
)

// fileStore is a dependency-free persistence backend: the whole task list
// lives in memory and is written to <path> as a JSON snapshot after every
// mutation (tmp file + rename, so readers never see a partial file).
type fileStore struct {
	*memStore
	path string
	log  logx.Logger
}

type fileSnapshot struct {
	Version int     `json:"version"`
	Tasks   []*Task `json:"tasks"`
}

const snapshotVersion = 1

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	tasks, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	fs := &fileStore{memStore: newMemStore(tasks), path: path, log: log}
	fs.persist = fs.writeSnapshot
	log.Debug("file store loaded", logx.String("path", path), logx.Int("tasks", len(tasks)))
	return fs, nil
}

func loadSnapshot(path string) ([]*Task, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if snap.Version > snapshotVersion {
		return nil, fmt.Errorf("%s: unsupported snapshot version %d", path, snap.Version)
	}
	out := make([]*Task, 0, len(snap.Tasks))
	seen := map[string]struct{}{}
	for _, t := range snap.Tasks {
		if t == nil || t.ID == "" {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

func (s *fileStore) writeSnapshot(tasks []*Task) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fileSnapshot{Version: snapshotVersion, Tasks: tasks}); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Warn("snapshot rename failed", logx.String("path", s.path), logx.Err(err))
		return err
	}
	return nil
}
