// Package repo is the on-disk state of a repository: commit objects, branch
// refs, HEAD and the advisory lock list, all kept as plain files under the
// repository's .tig directory.
package repo

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"tigsync/internal/errors"
	shared "tigsync/shared/types"

	"go.uber.org/zap"
)

const (
	// DirName is the hidden directory holding repository state.
	DirName = ".tig"

	// DefaultBranch is the branch HEAD points at after Init.
	DefaultBranch = "main"

	objectsDir = "objects"
	commitsDir = "commits"
	refsDir    = "refs/heads"
	headFile   = "HEAD"
	locksFile  = "locks.json"
)

// Repository provides read/modify/write operations on one repository's
// state files. It holds no state between calls beyond an optional ref
// cache, so any number of Repository values may share a directory.
type Repository struct {
	name   string
	root   string
	refs   *RefCache
	logger *zap.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRefCache reads branch refs through cache.
func WithRefCache(cache *RefCache) Option {
	return func(r *Repository) {
		r.refs = cache
	}
}

func newRepository(workdir string, opts []Option) (*Repository, error) {
	abs, err := filepath.Abs(workdir)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	r := &Repository{
		name:   filepath.Base(abs),
		root:   filepath.Join(abs, DirName),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Init creates the state directories under workdir/.tig and points HEAD at
// the default branch. Existing state is left untouched.
func Init(workdir string, opts ...Option) (*Repository, error) {
	r, err := newRepository(workdir, opts)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{objectsDir, commitsDir, refsDir} {
		if err := os.MkdirAll(r.path(dir), 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	if _, err := os.Stat(r.path(headFile)); stderrors.Is(err, fs.ErrNotExist) {
		if err := writeFileAtomic(r.path(headFile), []byte(refPrefix+refsDir+"/"+DefaultBranch+"\n")); err != nil {
			return nil, fmt.Errorf("writing HEAD: %w", err)
		}
		r.logger.Info("initialized repository", zap.String("path", r.root))
	} else if err != nil {
		return nil, fmt.Errorf("stat HEAD: %w", err)
	}

	return r, nil
}

// Open opens an existing repository.
func Open(workdir string, opts ...Option) (*Repository, error) {
	r, err := newRepository(workdir, opts)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(r.root)
	if err != nil || !info.IsDir() {
		return nil, errors.NotFound(fmt.Sprintf("no repository at %s", workdir))
	}
	return r, nil
}

// Find walks up from dir to the first directory containing .tig.
func Find(dir string, opts ...Option) (*Repository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	for {
		if info, err := os.Stat(filepath.Join(abs, DirName)); err == nil && info.IsDir() {
			return Open(abs, opts...)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return nil, errors.NotFound(fmt.Sprintf("not inside a repository: %s", dir))
		}
		abs = parent
	}
}

// Name is the repository directory's base name.
func (r *Repository) Name() string { return r.name }

// Root is the .tig directory.
func (r *Repository) Root() string { return r.root }

// WorkDir is the directory containing .tig.
func (r *Repository) WorkDir() string { return filepath.Dir(r.root) }

// Info summarises the repository's refs.
func (r *Repository) Info(remoteURL string) (*shared.RepositoryInfo, error) {
	branches, err := r.Branches()
	if err != nil {
		return nil, err
	}
	head, err := r.Head()
	if err != nil {
		return nil, err
	}
	return &shared.RepositoryInfo{
		Name:       r.name,
		Branches:   branches,
		HeadCommit: head,
		RemoteURL:  remoteURL,
	}, nil
}

func (r *Repository) path(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// ValidateName checks a repository name used in server URLs.
func ValidateName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return errors.ValidationError(fmt.Sprintf("invalid repository name %q", name), nil)
	}
	return nil
}

// writeFileAtomic writes through a temp file in the same directory so a
// concurrent reader sees either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
