package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// tempPrefix marks partially written files; List and the watcher skip them.
const tempPrefix = ".upload-"

// DirStore keeps database files in a single directory.
type DirStore struct {
	dir    string
	logger *zap.Logger
}

// NewDirStore creates dir if needed.
func NewDirStore(dir string, logger *zap.Logger) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	logger.Debug("Local file store ready", zap.String("directory", dir))
	return &DirStore{dir: dir, logger: logger}, nil
}

// Dir returns the backing directory.
func (s *DirStore) Dir() string { return s.dir }

// Put stores the contents of r under name, replacing an existing file.
// The file appears atomically.
func (s *DirStore) Put(_ context.Context, name string, r io.Reader) (FileInfo, error) {
	if err := validateName(name); err != nil {
		return FileInfo{}, err
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		cleanup()
		return FileInfo{}, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return FileInfo{}, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmpPath)
		return FileInfo{}, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}

	info, err := s.stat(name)
	if err != nil {
		return FileInfo{}, err
	}
	s.logger.Info("File stored", zap.String("name", name), zap.Int64("size", info.Size))
	return info, nil
}

// List returns stored files, oldest first.
func (s *DirStore) List(_ context.Context) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: fi.Size(), CreatedAt: fi.ModTime().UTC()})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].Name < files[j].Name
		}
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
	return files, nil
}

// Fetch reads a stored file.
func (s *DirStore) Fetch(_ context.Context, name string) (File, error) {
	if err := validateName(name); err != nil {
		return File{}, err
	}
	info, err := s.stat(name)
	if err != nil {
		return File{}, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return File{}, s.wrap(name, err)
	}
	info.Size = int64(len(data))
	return File{FileInfo: info, Data: data}, nil
}

// Delete removes a stored file.
func (s *DirStore) Delete(_ context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		return s.wrap(name, err)
	}
	s.logger.Info("File deleted", zap.String("name", name))
	return nil
}

func (s *DirStore) stat(name string) (FileInfo, error) {
	fi, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil {
		return FileInfo{}, s.wrap(name, err)
	}
	if fi.IsDir() {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return FileInfo{Name: name, Size: fi.Size(), CreatedAt: fi.ModTime().UTC()}, nil
}

func (s *DirStore) wrap(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return fmt.Errorf("%w: %w", ErrStoreFailed, err)
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, tempPrefix) ||
		filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
