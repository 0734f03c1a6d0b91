package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartflot/internal/session"
)

// FileStore keeps all sessions as one JSON array, newest first. Each
// mutation is a read-modify-write under a mutex, written to a temporary
// file and renamed into place.
type FileStore struct {
	path   string
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewFileStore creates a store backed by path. The file and its directory
// are created on the first write.
func NewFileStore(path string, logger *logrus.Logger) *FileStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Append(ctx context.Context, s session.Session) error {
	return f.apply(ctx, appendOp(s))
}

func (f *FileStore) Update(ctx context.Context, id string, fn func(*session.Session)) error {
	return f.apply(ctx, updateOp(id, fn))
}

func (f *FileStore) Delete(ctx context.Context, id string) error {
	return f.apply(ctx, deleteOp(id))
}

func (f *FileStore) Clear(ctx context.Context) error {
	return f.apply(ctx, clearOp())
}

func (f *FileStore) List(ctx context.Context) ([]session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *FileStore) apply(ctx context.Context, op mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	sessions, err := f.load()
	if err != nil {
		return err
	}
	return f.save(op(sessions))
}

// load reads the collection. A missing file is an empty collection. A file
// that does not decode is moved aside to <path>.corrupt and treated as empty.
func (f *FileStore) load() ([]session.Session, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var sessions []session.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		backup := f.path + ".corrupt"
		f.logger.WithFields(logrus.Fields{
			"path":   f.path,
			"backup": backup,
			"error":  err,
		}).Error("Session file is corrupt; starting with an empty collection")
		if rerr := os.Rename(f.path, backup); rerr != nil {
			f.logger.WithField("error", rerr).Warn("Failed to move corrupt session file aside")
		}
		return nil, nil
	}
	return sessions, nil
}

func (f *FileStore) save(sessions []session.Session) error {
	if sessions == nil {
		sessions = []session.Session{}
	}
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}

	f.logger.WithFields(logrus.Fields{
		"path":     f.path,
		"sessions": len(sessions),
	}).Debug("Sessions saved")
	return nil
}

var _ Store = (*FileStore)(nil)
