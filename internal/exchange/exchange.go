// Package exchange moves commits between a local repository and a sync
// server and decides how the branch refs on each side advance.
package exchange

import (
	"context"
	"fmt"
	"slices"

	"tigsync/internal/errors"
	"tigsync/internal/repo"
	shared "tigsync/shared/types"

	"go.uber.org/zap"
)

// Remote is the commit exchange surface of a sync server.
type Remote interface {
	Branches(ctx context.Context) ([]shared.Branch, error)
	Push(ctx context.Context, commits []shared.Commit, branch string, force bool) (*shared.SyncResponse, error)
	Pull(ctx context.Context, branch, since string) (*shared.SyncResponse, error)
}

// Result describes the outcome of a push or pull.
type Result struct {
	Branch      string `json:"branch"`
	LocalHead   string `json:"local_head"`
	RemoteHead  string `json:"remote_head"`
	Sent        int    `json:"sent"`
	Received    int    `json:"received"`
	FastForward bool   `json:"fast_forward"`
	Diverged    bool   `json:"diverged"`
	Message     string `json:"message"`
}

type Exchange struct {
	repo   *repo.Repository
	remote Remote
	logger *zap.Logger
}

func New(r *repo.Repository, remote Remote, logger *zap.Logger) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchange{repo: r, remote: remote, logger: logger}
}

func (e *Exchange) localHead(branch string) (string, error) {
	b, err := e.repo.Branch(branch)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return "", nil
		}
		return "", err
	}
	return b.HeadCommit, nil
}

// remoteHead returns the remote's head of branch, or "" when the branch or
// the whole repository does not exist there yet.
func (e *Exchange) remoteHead(ctx context.Context, branch string) (string, error) {
	branches, err := e.remote.Branches(ctx)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return "", nil
		}
		return "", err
	}
	for _, b := range branches {
		if b.Name == branch {
			return b.HeadCommit, nil
		}
	}
	return "", nil
}

// Push sends the local commits the remote lacks, parent first. A remote
// head missing from local history means the two have diverged; that is a
// conflict unless force is set, in which case the whole local history is
// sent and the remote branch is overwritten.
func (e *Exchange) Push(ctx context.Context, branch string, force bool) (*Result, error) {
	local, err := e.localHead(branch)
	if err != nil {
		return nil, err
	}
	if local == "" {
		return nil, errors.NotFound(fmt.Sprintf("branch %s has no commits", branch))
	}
	remote, err := e.remoteHead(ctx, branch)
	if err != nil {
		return nil, err
	}

	res := &Result{Branch: branch, LocalHead: local, RemoteHead: remote}
	if remote == local {
		res.Message = "everything up-to-date"
		return res, nil
	}

	chain, err := e.repo.Ancestors(local)
	if err != nil {
		return nil, err
	}
	stop := slices.Index(chain, remote)
	if remote != "" && stop < 0 {
		if !force {
			return nil, errors.Conflict(
				fmt.Sprintf("remote %s is at %s, which is not in local history; pull first or force", branch, short(remote)),
				map[string]string{"local_head": local, "remote_head": remote})
		}
		e.logger.Warn("overwriting diverged remote branch",
			zap.String("branch", branch),
			zap.String("remote_head", remote))
	}
	if stop < 0 {
		stop = len(chain)
	}

	commits := make([]shared.Commit, 0, stop)
	for i := stop - 1; i >= 0; i-- {
		c, err := e.repo.ReadCommit(chain[i])
		if err != nil {
			return nil, err
		}
		commits = append(commits, *c)
	}

	resp, err := e.remote.Push(ctx, commits, branch, force)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.Conflict(resp.Message, resp.Conflicts)
	}
	res.Sent = resp.CommitsProcessed
	res.Message = resp.Message
	res.RemoteHead = local

	e.logger.Info("pushed",
		zap.String("branch", branch),
		zap.String("head", local),
		zap.Int("commits", res.Sent))
	return res, nil
}

// Pull fetches the remote's commits and fast-forwards the local branch
// when its head is an ancestor of the remote head. Otherwise the fetched
// commits are kept and the divergence is reported without moving the ref.
func (e *Exchange) Pull(ctx context.Context, branch string) (*Result, error) {
	local, err := e.localHead(branch)
	if err != nil {
		return nil, err
	}

	resp, err := e.remote.Pull(ctx, branch, local)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.NotFound(resp.Message)
	}
	remote, err := e.remoteHead(ctx, branch)
	if err != nil {
		return nil, err
	}

	res := &Result{Branch: branch, LocalHead: local, RemoteHead: remote}
	received, err := e.store(resp.Commits)
	if err != nil {
		return nil, err
	}
	res.Received = received

	// Commits older than the local head are not part of a since-pull. When
	// the remote history is still incomplete, fetch all of it.
	if remote != "" {
		complete, err := e.complete(remote)
		if err != nil {
			return nil, err
		}
		if !complete {
			full, err := e.remote.Pull(ctx, branch, "")
			if err != nil {
				return nil, err
			}
			n, err := e.store(full.Commits)
			if err != nil {
				return nil, err
			}
			res.Received += n
		}
	}

	switch {
	case remote == "" || remote == local:
		res.Message = "already up-to-date"
		return res, nil
	case !e.repo.HasCommit(remote):
		return nil, errors.NotFound(fmt.Sprintf("remote head %s was not received", short(remote)))
	}

	ff, err := e.repo.IsAncestor(local, remote)
	if err != nil {
		return nil, err
	}
	if ff {
		if _, err := e.repo.UpdateBranch(branch, remote); err != nil {
			return nil, err
		}
		res.FastForward = true
		res.LocalHead = remote
		res.Message = fmt.Sprintf("fast-forwarded %s to %s", branch, short(remote))
		e.logger.Info("pulled", zap.String("branch", branch), zap.String("head", remote), zap.Int("received", res.Received))
		return res, nil
	}

	ahead, err := e.repo.IsAncestor(remote, local)
	if err != nil {
		return nil, err
	}
	if ahead {
		res.Message = fmt.Sprintf("local %s is ahead of remote", branch)
		return res, nil
	}

	res.Diverged = true
	res.Message = fmt.Sprintf("local %s and remote have diverged; branch not updated", branch)
	e.logger.Warn("pull found divergence",
		zap.String("branch", branch),
		zap.String("local_head", local),
		zap.String("remote_head", remote))
	return res, nil
}

// store writes the commits not yet present locally after checking that
// each one hashes to its name.
func (e *Exchange) store(commits []shared.Commit) (int, error) {
	n := 0
	for i := range commits {
		c := &commits[i]
		if e.repo.HasCommit(c.Hash) {
			continue
		}
		actual, err := repo.CommitHash(c)
		if err != nil {
			return n, err
		}
		if actual != c.Hash {
			return n, errors.Integrity(fmt.Sprintf("commit %s does not match its content", short(c.Hash)), c.Hash, actual)
		}
		if err := e.repo.WriteCommit(c); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// complete reports whether the parent chain of hash reaches a root using
// only local commits.
func (e *Exchange) complete(hash string) (bool, error) {
	chain, err := e.repo.Ancestors(hash)
	if err != nil {
		return false, err
	}
	if len(chain) == 0 {
		return false, nil
	}
	last, err := e.repo.ReadCommit(chain[len(chain)-1])
	if err != nil {
		return false, err
	}
	return last.Parent == "" || slices.Contains(chain, last.Parent), nil
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
