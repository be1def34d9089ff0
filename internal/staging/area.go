// Package staging holds uploaded files on local disk between admission and
// the end of their extraction attempt.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidName = errors.New("invalid file name")

// File is one staged upload. Each lives in its own directory under the
// area so the original base name is preserved without collisions.
type File struct {
	ID       string
	Name     string
	Path     string
	Size     int64
	StagedAt time.Time
}

// Area manages the staging directory.
type Area struct {
	mu    sync.RWMutex
	dir   string
	files map[string]*File
}

// NewArea creates the staging directory if needed.
func NewArea(dir string) (*Area, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &Area{
		dir:   dir,
		files: make(map[string]*File),
	}, nil
}

// Dir returns the root staging directory.
func (a *Area) Dir() string {
	return a.dir
}

// CleanName reduces a client-supplied name to a safe base name.
func CleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(strings.TrimSpace(name))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}

// Save writes r to a new staged file named name.
func (a *Area) Save(name string, r io.Reader) (*File, error) {
	base, err := CleanName(name)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	dir := filepath.Join(a.dir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	path := filepath.Join(dir, base)

	f, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("creating file: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	sf := &File{
		ID:       id,
		Name:     base,
		Path:     path,
		Size:     size,
		StagedAt: time.Now(),
	}

	a.mu.Lock()
	a.files[id] = sf
	a.mu.Unlock()

	return sf, nil
}

// Copy stages a copy of the file at src, keeping its base name.
func (a *Area) Copy(src string) (*File, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()
	return a.Save(filepath.Base(src), in)
}

// Remove deletes a staged file and its directory. Removing a file twice is
// not an error.
func (a *Area) Remove(f *File) error {
	if f == nil {
		return nil
	}
	dir := filepath.Join(a.dir, f.ID)

	a.mu.Lock()
	delete(a.files, f.ID)
	a.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing staged file: %w", err)
	}
	return nil
}

// Pending returns how many staged files have not been removed yet.
func (a *Area) Pending() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.files)
}

// Sweep removes untracked staging entries older than maxAge, such as
// leftovers from a previous run. Entries still tracked by this Area belong
// to queued or running work and are kept. It returns how many entries were
// removed.
func (a *Area) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, fmt.Errorf("reading staging directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		a.mu.RLock()
		_, tracked := a.files[e.Name()]
		a.mu.RUnlock()
		if tracked {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
