package repo

import (
	"fmt"

	"tigsync/internal/errors"
	shared "tigsync/shared/types"
	"tigsync/shared/utils"

	"go.uber.org/zap"
)

// ApplyPush stores a batch of commits in the order given. A commit whose
// hash already exists is skipped and reported as a conflict unless force is
// set, in which case it is overwritten. The branch moves to the last commit
// of the batch only when no conflict was recorded.
func (r *Repository) ApplyPush(commits []shared.Commit, branch string, force bool) (*shared.SyncResponse, error) {
	if err := ValidateBranchName(branch); err != nil {
		return nil, err
	}
	for _, c := range commits {
		if !utils.IsValidHash(c.Hash) {
			return nil, errors.ValidationError(fmt.Sprintf("invalid commit hash %q", c.Hash), nil)
		}
	}

	resp := &shared.SyncResponse{Conflicts: []string{}}
	for i := range commits {
		c := &commits[i]
		if !force && r.HasCommit(c.Hash) {
			resp.Conflicts = append(resp.Conflicts, fmt.Sprintf("commit %s already exists", c.Hash))
			continue
		}
		if err := r.WriteCommit(c); err != nil {
			return nil, err
		}
		resp.CommitsProcessed++
	}

	if len(resp.Conflicts) > 0 {
		resp.Message = fmt.Sprintf("%d conflicts, branch %s not updated", len(resp.Conflicts), branch)
		r.logger.Warn("push rejected",
			zap.String("branch", branch),
			zap.Int("written", resp.CommitsProcessed),
			zap.Int("conflicts", len(resp.Conflicts)))
		return resp, nil
	}

	resp.Success = true
	if len(commits) == 0 {
		resp.Message = "nothing to push"
		return resp, nil
	}

	head := commits[len(commits)-1].Hash
	if _, err := r.UpdateBranch(branch, head); err != nil {
		return nil, err
	}
	resp.Message = fmt.Sprintf("pushed %d commits to %s", resp.CommitsProcessed, branch)
	return resp, nil
}

// Pull returns every commit newest first, or when since is set, the commits
// newer than since in directory order. A missing branch is reported in the
// response rather than as an error.
func (r *Repository) Pull(branch, since string) (*shared.SyncResponse, error) {
	if _, err := r.Branch(branch); err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) || errors.IsType(err, errors.ErrorTypeValidation) {
			return &shared.SyncResponse{
				Message:   fmt.Sprintf("branch %s not found", branch),
				Conflicts: []string{},
			}, nil
		}
		return nil, err
	}

	var (
		commits []shared.Commit
		err     error
	)
	if since == "" {
		commits, err = r.AllCommits()
	} else {
		commits, err = r.CommitsNewerThan(since)
	}
	if err != nil {
		return nil, err
	}

	return &shared.SyncResponse{
		Success:          true,
		Message:          fmt.Sprintf("found %d commits", len(commits)),
		CommitsProcessed: len(commits),
		Conflicts:        []string{},
		Commits:          commits,
	}, nil
}
