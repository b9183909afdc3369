package repo

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"tigsync/internal/errors"
	shared "tigsync/shared/types"
	"tigsync/shared/utils"
)

// NewCommit builds a commit and derives its hash from the canonical JSON of
// its parent, message, author, timestamp and files.
func NewCommit(parent, message, author string, timestamp time.Time, files []shared.FileChange) (*shared.Commit, error) {
	if files == nil {
		files = []shared.FileChange{}
	}
	c := &shared.Commit{
		Message:   message,
		Author:    author,
		Timestamp: timestamp.UTC(),
		Parent:    parent,
		Files:     files,
	}
	hash, err := CommitHash(c)
	if err != nil {
		return nil, err
	}
	c.Hash = hash
	return c, nil
}

// CommitHash computes the content hash of c, ignoring c.Hash.
func CommitHash(c *shared.Commit) (string, error) {
	body := struct {
		Parent    string              `json:"parent"`
		Message   string              `json:"message"`
		Author    string              `json:"author"`
		Timestamp time.Time           `json:"timestamp"`
		Files     []shared.FileChange `json:"files"`
	}{c.Parent, c.Message, c.Author, c.Timestamp, c.Files}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding commit: %w", err)
	}
	return utils.HashContent(data), nil
}

// WriteCommit stores c as commits/<hash>, replacing any existing object.
func (r *Repository) WriteCommit(c *shared.Commit) error {
	if !utils.IsValidHash(c.Hash) {
		return errors.ValidationError(fmt.Sprintf("invalid commit hash %q", c.Hash), nil)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding commit %s: %w", c.Hash, err)
	}
	if err := writeFileAtomic(r.path(commitsDir+"/"+c.Hash), data); err != nil {
		return fmt.Errorf("writing commit %s: %w", c.Hash, err)
	}
	return nil
}

// ReadCommit loads one commit.
func (r *Repository) ReadCommit(hash string) (*shared.Commit, error) {
	if !utils.IsValidHash(hash) {
		return nil, errors.ValidationError(fmt.Sprintf("invalid commit hash %q", hash), nil)
	}
	data, err := os.ReadFile(r.path(commitsDir + "/" + hash))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.NotFound(fmt.Sprintf("commit %s not found", hash))
		}
		return nil, fmt.Errorf("reading commit %s: %w", hash, err)
	}
	var c shared.Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeIntegrity, fmt.Sprintf("decoding commit %s", hash), err)
	}
	return &c, nil
}

// HasCommit reports whether a commit object exists on disk.
func (r *Repository) HasCommit(hash string) bool {
	if !utils.IsValidHash(hash) {
		return false
	}
	_, err := os.Stat(r.path(commitsDir + "/" + hash))
	return err == nil
}

// scanCommits visits commit files in directory order until visit returns
// false. Files that fail to decode are skipped.
func (r *Repository) scanCommits(visit func(name string, c *shared.Commit) bool) error {
	entries, err := os.ReadDir(r.path(commitsDir))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("listing commits: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(r.path(commitsDir + "/" + name))
		if err != nil {
			return fmt.Errorf("reading commit %s: %w", name, err)
		}
		var c shared.Commit
		if err := json.Unmarshal(data, &c); err != nil {
			r.logger.Sugar().Warnw("skipping unreadable commit", "file", name, "error", err)
			continue
		}
		if !visit(name, &c) {
			break
		}
	}
	return nil
}

// AllCommits returns every stored commit, newest first.
func (r *Repository) AllCommits() ([]shared.Commit, error) {
	commits := []shared.Commit{}
	err := r.scanCommits(func(_ string, c *shared.Commit) bool {
		commits = append(commits, *c)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(commits, func(i, j int) bool {
		return commits[i].Timestamp.After(commits[j].Timestamp)
	})
	return commits, nil
}

// CommitsSince returns the commits scanned before the file named hash, in
// directory order and unsorted. When hash is not present every commit is
// returned.
func (r *Repository) CommitsSince(hash string) ([]shared.Commit, error) {
	commits := []shared.Commit{}
	err := r.scanCommits(func(name string, c *shared.Commit) bool {
		if name == hash {
			return false
		}
		commits = append(commits, *c)
		return true
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// CommitsNewerThan returns commits with a timestamp strictly after the
// commit since, in directory order. An unknown since yields every commit.
func (r *Repository) CommitsNewerThan(since string) ([]shared.Commit, error) {
	base, err := r.ReadCommit(since)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) || errors.IsType(err, errors.ErrorTypeValidation) {
			return r.AllCommits()
		}
		return nil, err
	}

	commits := []shared.Commit{}
	err = r.scanCommits(func(_ string, c *shared.Commit) bool {
		if c.Timestamp.After(base.Timestamp) {
			commits = append(commits, *c)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// Ancestors walks the parent chain from hash, returning hash first. The walk
// stops at a root or at the first parent not stored locally.
func (r *Repository) Ancestors(hash string) ([]string, error) {
	var chain []string
	seen := make(map[string]bool)
	for hash != "" && !seen[hash] {
		c, err := r.ReadCommit(hash)
		if err != nil {
			if errors.IsType(err, errors.ErrorTypeNotFound) {
				break
			}
			return nil, err
		}
		seen[hash] = true
		chain = append(chain, hash)
		hash = c.Parent
	}
	return chain, nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (r *Repository) IsAncestor(ancestor, descendant string) (bool, error) {
	if ancestor == "" {
		return true, nil
	}
	chain, err := r.Ancestors(descendant)
	if err != nil {
		return false, err
	}
	for _, h := range chain {
		if h == ancestor {
			return true, nil
		}
	}
	return false, nil
}
