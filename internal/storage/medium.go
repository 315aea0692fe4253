// Package storage persists recordings as WAV files on a removable medium.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

var (
	// ErrMedium wraps every failure reported by the underlying filesystem.
	ErrMedium = errors.New("storage medium error")
	// ErrNameExists is returned when a recording would overwrite a file.
	ErrNameExists = errors.New("recording name already exists")
)

// File is an open recording. The WAV encoder seeks back to patch sizes.
type File interface {
	io.Writer
	io.Seeker
	io.Closer
}

// Medium is where recordings are written.
type Medium interface {
	Init() error
	Exists(name string) (bool, error)
	Create(name string) (File, error)
}

// AferoMedium stores recordings in a directory of an afero filesystem.
type AferoMedium struct {
	fs  afero.Fs
	dir string
}

// NewAferoMedium roots a medium at dir inside fs.
func NewAferoMedium(fs afero.Fs, dir string) *AferoMedium {
	if dir == "" {
		dir = "."
	}
	return &AferoMedium{fs: fs, dir: dir}
}

// NewOSMedium roots a medium at a directory on the host filesystem.
func NewOSMedium(dir string) *AferoMedium {
	return NewAferoMedium(afero.NewOsFs(), dir)
}

// Dir returns the directory recordings are written to.
func (m *AferoMedium) Dir() string { return m.dir }

// Fs exposes the backing filesystem.
func (m *AferoMedium) Fs() afero.Fs { return m.fs }

// Init makes sure the recording directory exists and is a directory.
func (m *AferoMedium) Init() error {
	if err := m.fs.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrMedium, m.dir, err)
	}
	info, err := m.fs.Stat(m.dir)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", ErrMedium, m.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrMedium, m.dir)
	}
	return nil
}

// Exists reports whether a recording with the given name is present.
func (m *AferoMedium) Exists(name string) (bool, error) {
	ok, err := afero.Exists(m.fs, m.path(name))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMedium, err)
	}
	return ok, nil
}

// Create opens a new file for writing, failing if the name is taken.
func (m *AferoMedium) Create(name string) (File, error) {
	f, err := m.fs.OpenFile(m.path(name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrNameExists, name)
		}
		return nil, fmt.Errorf("%w: create %s: %v", ErrMedium, name, err)
	}
	return f, nil
}

// Recording describes a file found on the medium.
type Recording struct {
	Name  string `json:"name"`
	Bytes int64  `json:"bytes"`
}

// List returns the recordings on the medium sorted by name.
func (m *AferoMedium) List() ([]Recording, error) {
	matches, err := afero.Glob(m.fs, filepath.Join(m.dir, "AUDIO*.WAV"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMedium, err)
	}
	out := make([]Recording, 0, len(matches))
	for _, p := range matches {
		info, err := m.fs.Stat(p)
		if err != nil {
			continue
		}
		out = append(out, Recording{Name: filepath.Base(p), Bytes: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *AferoMedium) path(name string) string {
	return filepath.Join(m.dir, filepath.Base(name))
}
