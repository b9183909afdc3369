package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"tigsync/internal/errors"

	"github.com/BurntSushi/toml"
)

// DefaultChunkSize is the LFS chunk size used when none is configured.
const DefaultChunkSize int64 = 4 * 1024 * 1024

// WorkspaceFile is the workspace config file name inside .tig.
const WorkspaceFile = "config.toml"

// Workspace is the per-checkout configuration stored in .tig/config.toml.
type Workspace struct {
	Core    CoreConfig     `toml:"core"`
	User    UserConfig     `toml:"user"`
	LFS     LFSConfig      `toml:"lfs"`
	Remotes []RemoteConfig `toml:"remote"`
}

// CoreConfig holds repository-wide settings.
type CoreConfig struct {
	Repository string `toml:"repository"`
	Branch     string `toml:"branch,omitempty"`
}

// UserConfig identifies the author of commits and owner of locks.
type UserConfig struct {
	Name  string `toml:"name"`
	Email string `toml:"email,omitempty"`
}

// LFSConfig holds large file settings. Patterns is ordered and free of
// duplicates.
type LFSConfig struct {
	ChunkSize   int64    `toml:"chunk_size"`
	Patterns    []string `toml:"patterns"`
	URL         string   `toml:"url,omitempty"` // overrides the default remote for LFS traffic
	Concurrency int      `toml:"concurrency,omitempty"`
}

// RemoteConfig is a named remote. At most one remote is the default.
type RemoteConfig struct {
	Name      string   `toml:"name"`
	URL       string   `toml:"url"`
	Token     string   `toml:"token,omitempty"`
	Default   bool     `toml:"default"`
	PushURL   string   `toml:"push_url,omitempty"`
	FetchRefs []string `toml:"fetch_refs,omitempty"`
	PushRefs  []string `toml:"push_refs,omitempty"`
	Retries   int      `toml:"retries,omitempty"`
}

// DefaultWorkspace returns the settings of a freshly initialised workspace.
func DefaultWorkspace() *Workspace {
	return &Workspace{
		Core: CoreConfig{Branch: "main"},
		LFS:  LFSConfig{ChunkSize: DefaultChunkSize, Patterns: []string{}},
	}
}

// ChunkSize returns the configured LFS chunk size or the default.
func (w *Workspace) ChunkSize() int64 {
	if w.LFS.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return w.LFS.ChunkSize
}

// WorkspaceManager reads and writes a workspace config file.
type WorkspaceManager struct {
	path string
}

// NewWorkspaceManager manages the config file at path.
func NewWorkspaceManager(path string) *WorkspaceManager {
	return &WorkspaceManager{path: path}
}

// ForRepository manages <tigDir>/config.toml.
func ForRepository(tigDir string) *WorkspaceManager {
	return NewWorkspaceManager(filepath.Join(tigDir, WorkspaceFile))
}

// Path returns the managed file.
func (m *WorkspaceManager) Path() string { return m.path }

// Read decodes a Workspace from r.
func (m *WorkspaceManager) Read(r io.Reader) (*Workspace, error) {
	ws := DefaultWorkspace()
	if _, err := toml.NewDecoder(r).Decode(ws); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeConfig, "decoding workspace config", err)
	}
	if ws.LFS.Patterns == nil {
		ws.LFS.Patterns = []string{}
	}
	return ws, nil
}

// Write encodes ws to w.
func (m *WorkspaceManager) Write(w io.Writer, ws *Workspace) error {
	if err := toml.NewEncoder(w).Encode(ws); err != nil {
		return fmt.Errorf("encoding workspace config: %w", err)
	}
	return nil
}

// Load reads the config file. A missing file yields the defaults.
func (m *WorkspaceManager) Load() (*Workspace, error) {
	f, err := os.Open(m.path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return DefaultWorkspace(), nil
		}
		return nil, fmt.Errorf("opening %s: %w", m.path, err)
	}
	defer f.Close()
	return m.Read(f)
}

// Save writes ws through a temp file and renames it over the config file.
func (m *WorkspaceManager) Save(ws *Workspace) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpName := tmp.Name()
	if err := m.Write(tmp, ws); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", m.path, err)
	}
	return nil
}

// Update loads the config, applies fn and saves the result if fn succeeds.
func (m *WorkspaceManager) Update(fn func(*Workspace) error) error {
	ws, err := m.Load()
	if err != nil {
		return err
	}
	if err := fn(ws); err != nil {
		return err
	}
	return m.Save(ws)
}
