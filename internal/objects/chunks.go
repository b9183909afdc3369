package objects

import (
	"context"
	stderrors "errors"
	"fmt"
	"path"
	"strings"

	"tigsync/internal/errors"
	"tigsync/shared/utils"
)

// PointerChunk is the pseudo-chunk name under which an object's pointer
// manifest is stored next to its chunks.
const PointerChunk = "pointer.json"

// ChunkStore addresses chunk files as <prefix>/<oid[0:2]>/<oid[2:4]>/<oid>/<chunk>.
type ChunkStore struct {
	backend Backend
	prefix  string
}

// NewChunkStore creates a chunk store writing under prefix in backend.
func NewChunkStore(backend Backend, prefix string) *ChunkStore {
	return &ChunkStore{backend: backend, prefix: prefix}
}

// Key returns the backend key of a chunk.
func (s *ChunkStore) Key(oid, chunk string) (string, error) {
	if !utils.IsValidHash(oid) {
		return "", errors.ValidationError(fmt.Sprintf("invalid object id %q", oid), nil)
	}
	if chunk == "" || chunk == "." || chunk == ".." || strings.ContainsAny(chunk, "/\\") {
		return "", errors.ValidationError(fmt.Sprintf("invalid chunk name %q", chunk), nil)
	}
	return path.Join(s.prefix, utils.FanOut(oid), chunk), nil
}

// Has reports whether a chunk file exists.
func (s *ChunkStore) Has(ctx context.Context, oid, chunk string) (bool, error) {
	key, err := s.Key(oid, chunk)
	if err != nil {
		return false, err
	}
	return s.backend.Exists(ctx, key)
}

// Missing returns the chunks of oid that are not stored, in request order.
// Only existence is checked, never content.
func (s *ChunkStore) Missing(ctx context.Context, oid string, chunks []string) ([]string, error) {
	missing := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		ok, err := s.Has(ctx, oid, chunk)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, chunk)
		}
	}
	return missing, nil
}

// Put stores a chunk, replacing whatever was there.
func (s *ChunkStore) Put(ctx context.Context, oid, chunk string, data []byte) error {
	key, err := s.Key(oid, chunk)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, key, data)
}

// Get returns a chunk's bytes, or empty bytes when the chunk is absent.
// Callers that need to tell an empty chunk from a missing one use GetStrict
// or compare against the expected size.
func (s *ChunkStore) Get(ctx context.Context, oid, chunk string) ([]byte, error) {
	data, err := s.GetStrict(ctx, oid, chunk)
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		return []byte{}, nil
	}
	return data, err
}

// GetStrict returns a chunk's bytes or a NOT_FOUND error.
func (s *ChunkStore) GetStrict(ctx context.Context, oid, chunk string) ([]byte, error) {
	key, err := s.Key(oid, chunk)
	if err != nil {
		return nil, err
	}
	data, err := s.backend.Get(ctx, key)
	if stderrors.Is(err, ErrNotFound) {
		return nil, errors.NotFound(fmt.Sprintf("chunk %s of %s not found", chunk, oid))
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
