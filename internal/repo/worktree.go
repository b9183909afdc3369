package repo

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"tigsync/internal/diff"
	"tigsync/internal/errors"
	shared "tigsync/shared/types"
	"tigsync/shared/utils"
)

// Snapshot maps a relative path to the hash of its content.
type Snapshot map[string]string

// TreeSnapshot hashes every file of the working directory, skipping .tig.
func (r *Repository) TreeSnapshot() (Snapshot, error) {
	tree, err := diff.LoadTree(r.WorkDir(), func(rel string) bool { return rel == DirName })
	if err != nil {
		return nil, fmt.Errorf("reading working tree: %w", err)
	}
	snap := make(Snapshot, len(tree))
	for path, data := range tree {
		snap[path] = utils.HashContent(data)
	}
	return snap, nil
}

// CommittedSnapshot replays the file changes from the root to hash.
func (r *Repository) CommittedSnapshot(hash string) (Snapshot, error) {
	chain, err := r.Ancestors(hash)
	if err != nil {
		return nil, err
	}
	snap := Snapshot{}
	for i := len(chain) - 1; i >= 0; i-- {
		c, err := r.ReadCommit(chain[i])
		if err != nil {
			return nil, err
		}
		for _, f := range c.Files {
			switch f.Operation {
			case shared.OpDeleted:
				delete(snap, f.Path)
			case shared.OpRenamed:
				delete(snap, f.From)
				snap[f.Path] = f.ContentHash
			default:
				snap[f.Path] = f.ContentHash
			}
		}
	}
	return snap, nil
}

// Changes lists what turns old into current, sorted by path. A deleted
// path whose exact content reappears under an added path is reported as a
// rename.
func Changes(old, current Snapshot) []shared.FileChange {
	var changes []shared.FileChange
	var deleted []string
	added := map[string][]string{}

	for path, hash := range current {
		prev, ok := old[path]
		switch {
		case !ok:
			added[hash] = append(added[hash], path)
		case prev != hash:
			changes = append(changes, shared.FileChange{Path: path, Operation: shared.OpModified, ContentHash: hash})
		}
	}
	for path := range old {
		if _, ok := current[path]; !ok {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(deleted)

	for _, from := range deleted {
		hash := old[from]
		if paths := added[hash]; len(paths) > 0 {
			slices.Sort(paths)
			changes = append(changes, shared.FileChange{Path: paths[0], Operation: shared.OpRenamed, From: from, ContentHash: hash})
			added[hash] = paths[1:]
			continue
		}
		changes = append(changes, shared.FileChange{Path: from, Operation: shared.OpDeleted})
	}
	for hash, paths := range added {
		for _, path := range paths {
			changes = append(changes, shared.FileChange{Path: path, Operation: shared.OpAdded, ContentHash: hash})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// Commit records the working tree changes since HEAD on the current
// branch and advances it.
func (r *Repository) Commit(message, author string, now time.Time) (*shared.Commit, error) {
	if message == "" {
		return nil, errors.ValidationError("commit message is required", nil)
	}
	branch, onBranch, err := r.CurrentBranch()
	if err != nil {
		return nil, err
	}
	if !onBranch {
		return nil, errors.ValidationError("HEAD is detached; check out a branch to commit", nil)
	}
	head, err := r.Head()
	if err != nil {
		return nil, err
	}

	old, err := r.CommittedSnapshot(head)
	if err != nil {
		return nil, err
	}
	current, err := r.TreeSnapshot()
	if err != nil {
		return nil, err
	}
	files := Changes(old, current)
	if len(files) == 0 {
		return nil, errors.NotApplicable("nothing to commit")
	}

	c, err := NewCommit(head, message, author, now, files)
	if err != nil {
		return nil, err
	}
	if err := r.WriteCommit(c); err != nil {
		return nil, err
	}
	if _, err := r.UpdateBranch(branch, c.Hash); err != nil {
		return nil, err
	}
	return c, nil
}

// Log returns the commits reachable from HEAD, newest first.
func (r *Repository) Log(limit int) ([]shared.Commit, error) {
	head, err := r.Head()
	if err != nil {
		return nil, err
	}
	chain, err := r.Ancestors(head)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(chain) > limit {
		chain = chain[:limit]
	}
	commits := make([]shared.Commit, 0, len(chain))
	for _, h := range chain {
		c, err := r.ReadCommit(h)
		if err != nil {
			return nil, err
		}
		commits = append(commits, *c)
	}
	return commits, nil
}
