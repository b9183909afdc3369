package repo

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tigsync/internal/errors"
	shared "tigsync/shared/types"
	"tigsync/shared/utils"

	"go.uber.org/zap"
)

const refPrefix = "ref: "

// ValidateBranchName rejects names that could escape refs/heads.
func ValidateBranchName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.Contains(name, `\`) {
		return errors.ValidationError(fmt.Sprintf("invalid branch name %q", name), nil)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || strings.HasPrefix(part, ".") {
			return errors.ValidationError(fmt.Sprintf("invalid branch name %q", name), nil)
		}
	}
	return nil
}

func (r *Repository) refPath(branch string) string {
	return r.path(refsDir + "/" + branch)
}

func (r *Repository) readRef(path string) (string, error) {
	if r.refs != nil {
		return r.refs.Read(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Branch returns the named branch.
func (r *Repository) Branch(name string) (*shared.Branch, error) {
	if err := ValidateBranchName(name); err != nil {
		return nil, err
	}
	hash, err := r.readRef(r.refPath(name))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.NotFound(fmt.Sprintf("branch %s not found", name))
		}
		return nil, fmt.Errorf("reading branch %s: %w", name, err)
	}
	return &shared.Branch{Name: name, HeadCommit: hash}, nil
}

// Branches lists every branch ref, sorted by name.
func (r *Repository) Branches() ([]shared.Branch, error) {
	base := r.path(refsDir)
	branches := []shared.Branch{}

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		hash, err := r.readRef(path)
		if err != nil {
			return err
		}
		branches = append(branches, shared.Branch{Name: filepath.ToSlash(rel), HeadCommit: hash})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}

	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

// UpdateBranch points branch at hash. When HEAD refers to branch it follows
// the update; the returned flag reports that case.
func (r *Repository) UpdateBranch(name, hash string) (bool, error) {
	if err := ValidateBranchName(name); err != nil {
		return false, err
	}
	if !utils.IsValidHash(hash) {
		return false, errors.ValidationError(fmt.Sprintf("invalid commit hash %q", hash), nil)
	}

	path := r.refPath(name)
	if err := writeFileAtomic(path, []byte(hash+"\n")); err != nil {
		return false, fmt.Errorf("writing branch %s: %w", name, err)
	}
	if r.refs != nil {
		r.refs.Invalidate(path)
	}

	current, onBranch, err := r.CurrentBranch()
	if err != nil {
		return false, err
	}
	headMoved := onBranch && current == name

	r.logger.Debug("branch updated",
		zap.String("branch", name),
		zap.String("head", hash),
		zap.Bool("head_moved", headMoved))

	return headMoved, nil
}

func (r *Repository) readHead() (string, error) {
	data, err := os.ReadFile(r.path(headFile))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// CurrentBranch returns the branch HEAD refers to. The flag is false when
// HEAD holds a raw commit hash.
func (r *Repository) CurrentBranch() (string, bool, error) {
	head, err := r.readHead()
	if err != nil {
		return "", false, err
	}
	if !strings.HasPrefix(head, refPrefix) {
		return "", false, nil
	}
	return strings.TrimPrefix(strings.TrimPrefix(head, refPrefix), refsDir+"/"), true, nil
}

// Head resolves HEAD to a commit hash. An unborn branch resolves to "".
func (r *Repository) Head() (string, error) {
	head, err := r.readHead()
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(head, refPrefix) {
		return head, nil
	}

	branch, err := r.Branch(strings.TrimPrefix(strings.TrimPrefix(head, refPrefix), refsDir+"/"))
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return "", nil
		}
		return "", err
	}
	return branch.HeadCommit, nil
}

// SetHead points HEAD at a branch, or detaches it at a commit hash.
func (r *Repository) SetHead(target string) error {
	var content string
	if utils.IsValidHash(target) {
		content = target
	} else {
		if err := ValidateBranchName(target); err != nil {
			return err
		}
		content = refPrefix + refsDir + "/" + target
	}
	if err := writeFileAtomic(r.path(headFile), []byte(content+"\n")); err != nil {
		return fmt.Errorf("writing HEAD: %w", err)
	}
	return nil
}
