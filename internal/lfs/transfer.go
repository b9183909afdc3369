package lfs

import (
	"context"
	"fmt"
	"sync/atomic"

	"tigsync/client"
	"tigsync/internal/config"
	"tigsync/internal/errors"
	"tigsync/internal/objects"
	"tigsync/shared/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of chunks transferred at once.
const DefaultConcurrency = 4

// Remote is the chunk transfer surface of a sync server.
type Remote interface {
	Has(ctx context.Context, oid string, chunks []string) ([]string, error)
	Upload(ctx context.Context, oid, chunk string, data []byte) error
	Download(ctx context.Context, oid, chunk string) ([]byte, error)
}

// TransferOptions tunes a push or pull.
type TransferOptions struct {
	Concurrency int
	// Progress is called after each chunk with its size. It may be called
	// from several goroutines at once.
	Progress func(bytes int)
}

func (o TransferOptions) limit() int {
	if o.Concurrency < 1 {
		return DefaultConcurrency
	}
	return o.Concurrency
}

func (o TransferOptions) report(n int) {
	if o.Progress != nil {
		o.Progress(n)
	}
}

// PushResult summarises a push.
type PushResult struct {
	OID      string   `json:"oid"`
	Uploaded []string `json:"uploaded"`
	Skipped  int      `json:"skipped"`
	Bytes    int64    `json:"bytes"`
}

// RemoteURL picks the url for large file traffic: the lfs url override,
// otherwise the default remote. It fails when neither is configured.
func RemoteURL(ws *config.Workspace) (url, token string, err error) {
	var def *config.RemoteConfig
	for i := range ws.Remotes {
		if ws.Remotes[i].Default {
			def = &ws.Remotes[i]
			break
		}
	}
	if ws.LFS.URL != "" {
		if def != nil {
			token = def.Token
		}
		return ws.LFS.URL, token, nil
	}
	if def == nil || def.URL == "" {
		return "", "", errors.Config("no remote configured for large files; set lfs.url or add a default remote")
	}
	return def.URL, def.Token, nil
}

// Remote builds a client for the configured large file remote.
func (s *Store) Remote(opts ...client.Option) (*client.Client, error) {
	ws, err := s.workspace.Load()
	if err != nil {
		return nil, err
	}
	url, token, err := RemoteURL(ws)
	if err != nil {
		return nil, err
	}
	if token != "" {
		opts = append([]client.Option{client.WithToken(token)}, opts...)
	}
	return client.FromRemoteURL(url, opts...)
}

// Push sends oid to remote. The manifest is always uploaded; chunks the
// remote already has are skipped, so an interrupted push resumes where it
// stopped.
func (s *Store) Push(ctx context.Context, remote Remote, oid string, opts TransferOptions) (*PushResult, error) {
	if remote == nil {
		return nil, errors.Config("no remote configured for large files")
	}
	ptr, err := s.LoadPointer(ctx, oid)
	if err != nil {
		return nil, err
	}

	unique := uniqueChunks(ptr.Chunks)
	missing, err := remote.Has(ctx, oid, unique)
	if err != nil {
		return nil, fmt.Errorf("checking remote chunks of %s: %w", oid, err)
	}

	manifest, err := ptr.Manifest()
	if err != nil {
		return nil, err
	}
	if err := remote.Upload(ctx, oid, objects.PointerChunk, manifest); err != nil {
		return nil, fmt.Errorf("uploading manifest of %s: %w", oid, err)
	}

	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.limit())
	for _, id := range missing {
		g.Go(func() error {
			data, err := s.chunks.GetStrict(gctx, oid, id)
			if err != nil {
				return err
			}
			if err := remote.Upload(gctx, oid, id, data); err != nil {
				return fmt.Errorf("uploading chunk %s: %w", id, err)
			}
			sent.Add(int64(len(data)))
			opts.report(len(data))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info("object pushed",
		zap.String("oid", oid),
		zap.Int("uploaded", len(missing)),
		zap.Int("skipped", len(unique)-len(missing)))

	return &PushResult{
		OID:      oid,
		Uploaded: missing,
		Skipped:  len(unique) - len(missing),
		Bytes:    sent.Load(),
	}, nil
}

// PushFile pushes the object named by the pointer text at rel.
func (s *Store) PushFile(ctx context.Context, remote Remote, rel string, opts TransferOptions) (*PushResult, error) {
	oid, err := s.PointerOf(rel)
	if err != nil {
		return nil, err
	}
	return s.Push(ctx, remote, oid, opts)
}

// Pull fetches oid from remote into the local store and returns its
// content, reassembled in manifest order.
func (s *Store) Pull(ctx context.Context, remote Remote, oid string, opts TransferOptions) ([]byte, error) {
	if remote == nil {
		return nil, errors.Config("no remote configured for large files")
	}
	if !utils.IsValidHash(oid) {
		return nil, errors.ValidationError(fmt.Sprintf("invalid object id %q", oid), nil)
	}

	data, err := remote.Download(ctx, oid, objects.PointerChunk)
	if err != nil {
		return nil, fmt.Errorf("downloading manifest of %s: %w", oid, err)
	}
	if len(data) == 0 {
		return nil, errors.NotFound(fmt.Sprintf("object %s is not on the remote", oid))
	}
	ptr, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	if ptr.OID != oid {
		return nil, errors.Integrity("remote manifest names another object", oid, ptr.OID)
	}

	parts := make([][]byte, len(ptr.Chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.limit())
	for i, id := range ptr.Chunks {
		g.Go(func() error {
			chunk, err := remote.Download(gctx, oid, id)
			if err != nil {
				return fmt.Errorf("downloading chunk %s: %w", id, err)
			}
			// Chunks are never empty, so an empty body means the remote lacks it.
			if len(chunk) == 0 {
				return errors.NotFound(fmt.Sprintf("chunk %s of %s is not on the remote", id, oid))
			}
			if actual := utils.HashContent(chunk); actual != id {
				return errors.Integrity(fmt.Sprintf("chunk %s of %s is corrupt", id, oid), id, actual)
			}
			parts[i] = chunk
			opts.report(len(chunk))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	content := join(parts)
	if actual := utils.HashContent(content); actual != oid {
		return nil, errors.Integrity(fmt.Sprintf("object %s reassembled with wrong content", oid), oid, actual)
	}

	for i, id := range ptr.Chunks {
		if err := s.chunks.Put(ctx, oid, id, parts[i]); err != nil {
			return nil, err
		}
	}
	if err := s.savePointer(ctx, ptr); err != nil {
		return nil, err
	}

	s.logger.Info("object pulled", zap.String("oid", oid), zap.Int("chunks", len(ptr.Chunks)))
	return content, nil
}

// PullFile fetches the object named by the pointer text at rel and smudges
// the file.
func (s *Store) PullFile(ctx context.Context, remote Remote, rel string, opts TransferOptions) (*Pointer, error) {
	oid, err := s.PointerOf(rel)
	if err != nil {
		return nil, err
	}
	if _, err := s.Pull(ctx, remote, oid, opts); err != nil {
		return nil, err
	}
	ptr, _, err := s.Smudge(ctx, rel)
	return ptr, err
}

func uniqueChunks(chunks []string) []string {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
