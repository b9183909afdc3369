package repo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tigsync/internal/errors"
	shared "tigsync/shared/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T, opts ...Option) *Repository {
	t.Helper()
	r, err := Init(t.TempDir(), opts...)
	require.NoError(t, err)
	return r
}

// chain builds n linked commits one minute apart.
func chain(t *testing.T, parent string, start time.Time, n int) []shared.Commit {
	t.Helper()
	var commits []shared.Commit
	for i := 0; i < n; i++ {
		c, err := NewCommit(parent, "commit", "alice", start.Add(time.Duration(i)*time.Minute),
			[]shared.FileChange{{Path: "f.txt", Operation: shared.OpModified}})
		require.NoError(t, err)
		commits = append(commits, *c)
		parent = c.Hash
	}
	return commits
}

func TestInitAndOpen(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(dir)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	r, err := Init(dir)
	require.NoError(t, err)
	for _, sub := range []string{"objects", "commits", "refs/heads"} {
		info, err := os.Stat(filepath.Join(dir, DirName, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	branch, onBranch, err := r.CurrentBranch()
	require.NoError(t, err)
	assert.True(t, onBranch)
	assert.Equal(t, DefaultBranch, branch)

	head, err := r.Head()
	require.NoError(t, err)
	assert.Empty(t, head, "unborn branch")

	// Init is idempotent and keeps HEAD
	require.NoError(t, r.SetHead("dev"))
	_, err = Init(dir)
	require.NoError(t, err)
	branch, _, err = r.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "dev", branch)

	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0755))
	found, err := Find(sub)
	require.NoError(t, err)
	assert.Equal(t, r.Root(), found.Root())
}

func TestCommitRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	c := chain(t, "", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1)[0]

	assert.False(t, r.HasCommit(c.Hash))
	require.NoError(t, r.WriteCommit(&c))
	assert.True(t, r.HasCommit(c.Hash))

	got, err := r.ReadCommit(c.Hash)
	require.NoError(t, err)
	assert.Equal(t, c, *got)

	again, err := CommitHash(got)
	require.NoError(t, err)
	assert.Equal(t, c.Hash, again)

	_, err = r.ReadCommit(chain(t, c.Hash, time.Now(), 1)[0].Hash)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	err = r.WriteCommit(&shared.Commit{Hash: "../../escape"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestAllCommits_SortedNewestFirst(t *testing.T) {
	r := newTestRepo(t)
	commits := chain(t, "", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 5)
	for i := range commits {
		require.NoError(t, r.WriteCommit(&commits[i]))
	}

	all, err := r.AllCommits()
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.After(all[i].Timestamp))
	}
	assert.Equal(t, commits[4].Hash, all[0].Hash)
}

func TestCommitsSince_StopsAtHash(t *testing.T) {
	r := newTestRepo(t)
	commits := chain(t, "", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 6)
	for i := range commits {
		require.NoError(t, r.WriteCommit(&commits[i]))
	}

	entries, err := os.ReadDir(filepath.Join(r.Root(), "commits"))
	require.NoError(t, err)
	require.Len(t, entries, 6)
	stop := entries[3].Name()

	got, err := r.CommitsSince(stop)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, c := range got {
		assert.Equal(t, entries[i].Name(), c.Hash, "directory scan order")
	}

	all, err := r.CommitsSince("unknown")
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestCommitsNewerThan(t *testing.T) {
	r := newTestRepo(t)
	commits := chain(t, "", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 4)
	for i := range commits {
		require.NoError(t, r.WriteCommit(&commits[i]))
	}

	newer, err := r.CommitsNewerThan(commits[1].Hash)
	require.NoError(t, err)
	hashes := map[string]bool{}
	for _, c := range newer {
		hashes[c.Hash] = true
	}
	assert.Equal(t, map[string]bool{commits[2].Hash: true, commits[3].Hash: true}, hashes)

	all, err := r.CommitsNewerThan("not-a-commit")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestAncestors(t *testing.T) {
	r := newTestRepo(t)
	commits := chain(t, "", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 3)
	for i := range commits {
		require.NoError(t, r.WriteCommit(&commits[i]))
	}

	got, err := r.Ancestors(commits[2].Hash)
	require.NoError(t, err)
	assert.Equal(t, []string{commits[2].Hash, commits[1].Hash, commits[0].Hash}, got)

	ok, err := r.IsAncestor(commits[0].Hash, commits[2].Hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsAncestor(commits[2].Hash, commits[0].Hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBranches(t *testing.T) {
	r := newTestRepo(t)
	commits := chain(t, "", time.Now(), 2)

	moved, err := r.UpdateBranch("main", commits[0].Hash)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = r.UpdateBranch("feature/x", commits[1].Hash)
	require.NoError(t, err)
	assert.False(t, moved)

	branches, err := r.Branches()
	require.NoError(t, err)
	assert.Equal(t, []shared.Branch{
		{Name: "feature/x", HeadCommit: commits[1].Hash},
		{Name: "main", HeadCommit: commits[0].Hash},
	}, branches)

	head, err := r.Head()
	require.NoError(t, err)
	assert.Equal(t, commits[0].Hash, head)

	_, err = r.Branch("missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	for _, bad := range []string{"", "../x", "a//b", ".hidden", "a/.b", "/abs", `a\b`} {
		_, err := r.UpdateBranch(bad, commits[0].Hash)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), bad)
	}

	// detached HEAD does not follow branch updates
	require.NoError(t, r.SetHead(commits[0].Hash))
	moved, err = r.UpdateBranch("main", commits[1].Hash)
	require.NoError(t, err)
	assert.False(t, moved)
	head, err = r.Head()
	require.NoError(t, err)
	assert.Equal(t, commits[0].Hash, head)
}

func TestLocks(t *testing.T) {
	r := newTestRepo(t)

	locks, err := r.Locks()
	require.NoError(t, err)
	assert.Empty(t, locks)

	_, err = r.Lock("art/hero.psd", "alice")
	require.NoError(t, err)
	_, err = r.Lock("art/hero.psd", "bob")
	require.NoError(t, err, "second lock on a path is appended")
	_, err = r.Lock("art/hero.psd", "alice")
	require.NoError(t, err)

	locks, err = r.Locks()
	require.NoError(t, err)
	require.Len(t, locks, 3)
	assert.Equal(t, "bob", locks[1].Owner)

	removed, err := r.Unlock("art/hero.psd", "mallory")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	removed, err = r.Unlock("art/hero.psd", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	locks, err = r.Locks()
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "bob", locks[0].Owner)

	_, err = r.Lock("", "alice")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestInfo(t *testing.T) {
	r := newTestRepo(t)
	c := chain(t, "", time.Now(), 1)[0]
	_, err := r.UpdateBranch("main", c.Hash)
	require.NoError(t, err)

	info, err := r.Info("http://remote")
	require.NoError(t, err)
	assert.Equal(t, r.Name(), info.Name)
	assert.Equal(t, c.Hash, info.HeadCommit)
	assert.Equal(t, "http://remote", info.RemoteURL)
	assert.Len(t, info.Branches, 1)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("project"))
	for _, bad := range []string{"", ".tig", "a/b", `a\b`, ".."} {
		assert.Error(t, ValidateName(bad), bad)
	}
}
