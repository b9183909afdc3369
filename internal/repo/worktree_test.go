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

func TestChanges(t *testing.T) {
	tests := []struct {
		name    string
		old     Snapshot
		current Snapshot
		want    []shared.FileChange
	}{
		{
			name:    "added and modified",
			old:     Snapshot{"a.txt": "h1"},
			current: Snapshot{"a.txt": "h2", "b.txt": "h3"},
			want: []shared.FileChange{
				{Path: "a.txt", Operation: shared.OpModified, ContentHash: "h2"},
				{Path: "b.txt", Operation: shared.OpAdded, ContentHash: "h3"},
			},
		},
		{
			name:    "deleted",
			old:     Snapshot{"a.txt": "h1", "b.txt": "h2"},
			current: Snapshot{"a.txt": "h1"},
			want:    []shared.FileChange{{Path: "b.txt", Operation: shared.OpDeleted}},
		},
		{
			name:    "exact content move is a rename",
			old:     Snapshot{"old/name.txt": "h1"},
			current: Snapshot{"new/name.txt": "h1"},
			want:    []shared.FileChange{{Path: "new/name.txt", Operation: shared.OpRenamed, From: "old/name.txt", ContentHash: "h1"}},
		},
		{
			name:    "one source pairs with one target",
			old:     Snapshot{"a": "h1"},
			current: Snapshot{"b": "h1", "c": "h1"},
			want: []shared.FileChange{
				{Path: "b", Operation: shared.OpRenamed, From: "a", ContentHash: "h1"},
				{Path: "c", Operation: shared.OpAdded, ContentHash: "h1"},
			},
		},
		{
			name:    "unchanged",
			old:     Snapshot{"a": "h1"},
			current: Snapshot{"a": "h1"},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Changes(tt.old, tt.current))
		})
	}
}

func TestCommitAndLog(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	require.NoError(t, err)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err = r.Commit("empty", "amy", now)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotApplicable))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.go"), []byte("package main\n"), 0o644))

	first, err := r.Commit("first", "amy", now)
	require.NoError(t, err)
	assert.Empty(t, first.Parent)
	assert.Len(t, first.Files, 2)

	require.NoError(t, os.Rename(filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")))
	second, err := r.Commit("rename", "amy", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.Parent)
	require.Len(t, second.Files, 1)
	assert.Equal(t, shared.OpRenamed, second.Files[0].Operation)
	assert.Equal(t, "a.txt", second.Files[0].From)

	snap, err := r.CommittedSnapshot(second.Hash)
	require.NoError(t, err)
	assert.Contains(t, snap, "b.txt")
	assert.NotContains(t, snap, "a.txt")

	log, err := r.Log(0)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, second.Hash, log[0].Hash)

	log, err = r.Log(1)
	require.NoError(t, err)
	assert.Len(t, log, 1)

	_, err = r.Commit("", "amy", now)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
