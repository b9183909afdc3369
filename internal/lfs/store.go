package lfs

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"tigsync/internal/config"
	"tigsync/internal/errors"
	"tigsync/internal/objects"
	"tigsync/internal/repo"
	"tigsync/shared/utils"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

// Status is the outcome of a clean or smudge that did not fail.
type Status string

const (
	StatusCleaned      Status = "cleaned"
	StatusSmudged      Status = "smudged"
	StatusAlreadyClean Status = "already a pointer"
	StatusNotTracked   Status = "not tracked"
	StatusNotPointer   Status = "not a pointer"
)

// Store is the large file store of one repository.
type Store struct {
	workdir   string
	chunks    *objects.ChunkStore
	workspace *config.WorkspaceManager
	logger    *zap.Logger
}

// Open returns the store of r. Chunks live in r's objects directory.
func Open(r *repo.Repository, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend, err := objects.NewLocalBackend(r.Root())
	if err != nil {
		return nil, err
	}
	return &Store{
		workdir:   r.WorkDir(),
		chunks:    objects.NewChunkStore(backend, "objects"),
		workspace: config.ForRepository(r.Root()),
		logger:    logger,
	}, nil
}

// Workspace exposes the workspace config manager.
func (s *Store) Workspace() *config.WorkspaceManager { return s.workspace }

func compilePattern(pattern string) (glob.Glob, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("invalid pattern %q", pattern), err.Error())
	}
	return g, nil
}

// Track adds pattern to the tracked list. Adding a pattern that is already
// present changes nothing and reports false.
func (s *Store) Track(pattern string) (bool, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false, errors.ValidationError("pattern is required", nil)
	}
	if _, err := compilePattern(pattern); err != nil {
		return false, err
	}

	added := false
	err := s.workspace.Update(func(ws *config.Workspace) error {
		if slices.Contains(ws.LFS.Patterns, pattern) {
			return nil
		}
		ws.LFS.Patterns = append(ws.LFS.Patterns, pattern)
		added = true
		return nil
	})
	return added, err
}

// Untrack removes pattern and reports whether it was present.
func (s *Store) Untrack(pattern string) (bool, error) {
	pattern = strings.TrimSpace(pattern)
	removed := false
	err := s.workspace.Update(func(ws *config.Workspace) error {
		i := slices.Index(ws.LFS.Patterns, pattern)
		if i < 0 {
			return nil
		}
		ws.LFS.Patterns = slices.Delete(ws.LFS.Patterns, i, i+1)
		removed = true
		return nil
	})
	return removed, err
}

// Patterns returns the tracked patterns in the order they were added.
func (s *Store) Patterns() ([]string, error) {
	ws, err := s.workspace.Load()
	if err != nil {
		return nil, err
	}
	return ws.LFS.Patterns, nil
}

// IsTracked reports whether rel, a slash separated path relative to the
// working tree, matches a tracked pattern. Patterns without a slash also
// match the base name at any depth.
func (s *Store) IsTracked(rel string) (bool, error) {
	patterns, err := s.Patterns()
	if err != nil {
		return false, err
	}
	return matchAny(patterns, filepath.ToSlash(rel))
}

func matchAny(patterns []string, rel string) (bool, error) {
	base := path.Base(rel)
	for _, p := range patterns {
		g, err := compilePattern(p)
		if err != nil {
			return false, err
		}
		if g.Match(rel) || (!strings.Contains(p, "/") && g.Match(base)) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) abs(rel string) string {
	return filepath.Join(s.workdir, filepath.FromSlash(rel))
}

// Clean stores the content of the file at rel as chunks and replaces the
// file with its pointer text.
func (s *Store) Clean(ctx context.Context, rel string) (*Pointer, Status, error) {
	tracked, err := s.IsTracked(rel)
	if err != nil {
		return nil, "", err
	}
	if !tracked {
		return nil, StatusNotTracked, nil
	}

	file := s.abs(rel)
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", rel, err)
	}
	if IsPointerText(content) {
		oid, _, err := ParsePointerText(content)
		if err != nil {
			return nil, "", err
		}
		ptr, err := s.LoadPointer(ctx, oid)
		if err != nil {
			return nil, "", err
		}
		return ptr, StatusAlreadyClean, nil
	}

	ws, err := s.workspace.Load()
	if err != nil {
		return nil, "", err
	}
	ptr, err := s.Put(ctx, content, ws.ChunkSize())
	if err != nil {
		return nil, "", err
	}

	info, err := os.Stat(file)
	if err != nil {
		return nil, "", err
	}
	if err := os.WriteFile(file, ptr.Text(), info.Mode().Perm()); err != nil {
		return nil, "", fmt.Errorf("writing pointer for %s: %w", rel, err)
	}

	s.logger.Debug("file cleaned",
		zap.String("path", rel),
		zap.String("oid", ptr.OID),
		zap.Int64("size", ptr.Size),
		zap.Int("chunks", len(ptr.Chunks)))
	return ptr, StatusCleaned, nil
}

// Put chunks content and writes its manifest, returning the pointer.
func (s *Store) Put(ctx context.Context, content []byte, chunkSize int64) (*Pointer, error) {
	oid := utils.HashContent(content)
	ptr := &Pointer{OID: oid, Size: int64(len(content)), Chunks: []string{}}

	for _, chunk := range split(content, chunkSize) {
		id := utils.HashContent(chunk)
		if err := s.chunks.Put(ctx, oid, id, chunk); err != nil {
			return nil, fmt.Errorf("storing chunk %s: %w", id, err)
		}
		ptr.Chunks = append(ptr.Chunks, id)
	}

	if err := s.savePointer(ctx, ptr); err != nil {
		return nil, err
	}
	return ptr, nil
}

func (s *Store) savePointer(ctx context.Context, ptr *Pointer) error {
	manifest, err := ptr.Manifest()
	if err != nil {
		return err
	}
	if err := s.chunks.Put(ctx, ptr.OID, objects.PointerChunk, manifest); err != nil {
		return fmt.Errorf("storing pointer manifest: %w", err)
	}
	return nil
}

// LoadPointer reads the manifest of oid from the local store.
func (s *Store) LoadPointer(ctx context.Context, oid string) (*Pointer, error) {
	data, err := s.chunks.GetStrict(ctx, oid, objects.PointerChunk)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return nil, errors.NotFound(fmt.Sprintf("object %s is not in the local store", oid))
		}
		return nil, err
	}
	return ParseManifest(data)
}

// Assemble joins the chunks of ptr in manifest order and checks the result
// against the pointer's oid.
func (s *Store) Assemble(ctx context.Context, ptr *Pointer) ([]byte, error) {
	parts := make([][]byte, 0, len(ptr.Chunks))
	for _, id := range ptr.Chunks {
		chunk, err := s.chunks.GetStrict(ctx, ptr.OID, id)
		if err != nil {
			return nil, err
		}
		parts = append(parts, chunk)
	}
	content := join(parts)
	if actual := utils.HashContent(content); actual != ptr.OID {
		return nil, errors.Integrity(fmt.Sprintf("object %s reassembled with wrong content", ptr.OID), ptr.OID, actual)
	}
	return content, nil
}

// Smudge replaces the pointer text at rel with the file's real content.
func (s *Store) Smudge(ctx context.Context, rel string) (*Pointer, Status, error) {
	file := s.abs(rel)
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", rel, err)
	}
	if !IsPointerText(data) {
		return nil, StatusNotPointer, nil
	}
	oid, _, err := ParsePointerText(data)
	if err != nil {
		return nil, "", err
	}

	ptr, err := s.LoadPointer(ctx, oid)
	if err != nil {
		return nil, "", err
	}
	content, err := s.Assemble(ctx, ptr)
	if err != nil {
		return nil, "", err
	}

	info, err := os.Stat(file)
	if err != nil {
		return nil, "", err
	}
	if err := os.WriteFile(file, content, info.Mode().Perm()); err != nil {
		return nil, "", fmt.Errorf("writing %s: %w", rel, err)
	}

	s.logger.Debug("file smudged", zap.String("path", rel), zap.String("oid", oid))
	return ptr, StatusSmudged, nil
}

// PointerOf returns the oid named by the pointer text at rel.
func (s *Store) PointerOf(rel string) (string, error) {
	data, err := os.ReadFile(s.abs(rel))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", rel, err)
	}
	oid, _, err := ParsePointerText(data)
	return oid, err
}
