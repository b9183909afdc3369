package diff

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedLines(prefix string, n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%s%d\n", prefix, i)
	}
	return b.String()
}

func TestEngine_Diff(t *testing.T) {
	engine := NewEngine(1)

	result, err := engine.Diff([]byte("a\nb\nc\n"), []byte("a\nB\nc\n"))
	require.NoError(t, err)

	require.Len(t, result.Hunks, 1)
	assert.Equal(t, 1, result.Stats.Additions)
	assert.Equal(t, 1, result.Stats.Deletions)
	assert.Equal(t, 2, result.Stats.Changes)
	assert.Equal(t, "@@ -1,3 +1,3 @@\n  a\n- b\n+ B\n  c\n", result.Format())
}

func TestEngine_DiffSeparateHunks(t *testing.T) {
	oldContent := numberedLines("l", 10)
	newContent := strings.Replace(strings.Replace(oldContent, "l2\n", "L2\n", 1), "l9\n", "L9\n", 1)

	result, err := NewEngine(1).Diff([]byte(oldContent), []byte(newContent))
	require.NoError(t, err)

	require.Len(t, result.Hunks, 2)
	assert.Equal(t, 1, result.Hunks[0].OldStart)
	assert.Equal(t, 3, result.Hunks[0].OldLines)
	assert.Equal(t, 8, result.Hunks[1].OldStart)
	assert.Equal(t, 8, result.Hunks[1].NewStart)
	assert.Equal(t, 3, result.Hunks[1].OldLines)
	assert.Equal(t, 3, result.Hunks[1].NewLines)
}

func TestEngine_DiffIdenticalAndEmpty(t *testing.T) {
	engine := NewEngine(3)

	result, err := engine.Diff([]byte("same\n"), []byte("same\n"))
	require.NoError(t, err)
	assert.Empty(t, result.Hunks)
	assert.Equal(t, 0, result.Stats.Changes)

	result, err = engine.Diff(nil, []byte("x\ny\n"))
	require.NoError(t, err)
	require.Len(t, result.Hunks, 1)
	assert.Equal(t, 2, result.Stats.Additions)
	assert.Equal(t, 0, result.Hunks[0].OldLines)
}

func TestEngine_Inline(t *testing.T) {
	engine := NewEngine(0)

	tests := []struct {
		name     string
		old, new string
		g        Granularity
		want     string
	}{
		{name: "word", old: "the quick fox", new: "the slow fox", g: WordLevel, want: "the [-quick-]{+slow+} fox"},
		{name: "char", old: "cat", new: "cut", g: CharLevel, want: "c[-a-]{+u+}t"},
		{name: "line", old: "one\ntwo\n", new: "one\n2\n", g: LineLevel, want: "one\n[-two\n-]{+2\n+}"},
		{name: "unicode chars", old: "héllo", new: "hallo", g: CharLevel, want: "h[-é-]{+a+}llo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments := engine.Inline([]byte(tt.old), []byte(tt.new), tt.g)
			assert.Equal(t, tt.want, FormatInline(segments))
		})
	}
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("word")
	require.NoError(t, err)
	assert.Equal(t, WordLevel, g)

	g, err = ParseGranularity("")
	require.NoError(t, err)
	assert.Equal(t, LineLevel, g)

	_, err = ParseGranularity("paragraph")
	assert.Error(t, err)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity(nil, nil))
	assert.Equal(t, 1.0, Similarity([]byte("x\n"), []byte("x\n")))
	assert.Equal(t, 0.75, Similarity([]byte("a\nb\nc\nd\n"), []byte("a\nb\nc\nx\n")))
	assert.Equal(t, 0.0, Similarity([]byte("a\nb\n"), []byte("c\nd\n")))
	assert.Equal(t, 0.0, Similarity([]byte("a\n"), nil))
}

func TestCompareTrees(t *testing.T) {
	original := numberedLines("line", 10)
	keep := numberedLines("keep", 5)

	oldTree := Tree{
		"a.txt":    []byte(original),
		"b.txt":    []byte("bbb\n"),
		"keep.txt": []byte(keep),
		"mod.txt":  []byte("v1\n"),
	}
	newTree := Tree{
		"renamed.txt": []byte(strings.Replace(original, "line5\n", "changed\n", 1)),
		"keep.txt":    []byte(keep),
		"copy1.txt":   []byte(keep),
		"copy2.txt":   []byte(keep + "extra\n"),
		"new.txt":     []byte("zzz\n"),
		"mod.txt":     []byte("v2\n"),
	}

	changes := CompareTrees(oldTree, newTree, DetectOptions{DetectCopies: true})

	byPath := make(map[string]TreeChange)
	for _, c := range changes {
		byPath[c.Path] = c
	}
	require.Len(t, changes, 6)

	assert.Equal(t, Renamed, byPath["renamed.txt"].Kind)
	assert.Equal(t, "a.txt", byPath["renamed.txt"].From)
	assert.InDelta(t, 0.9, byPath["renamed.txt"].Similarity, 1e-9)

	assert.Equal(t, Copied, byPath["copy1.txt"].Kind)
	assert.Equal(t, "keep.txt", byPath["copy1.txt"].From)
	assert.Equal(t, Copied, byPath["copy2.txt"].Kind)
	assert.Equal(t, "keep.txt", byPath["copy2.txt"].From)

	assert.Equal(t, Deleted, byPath["b.txt"].Kind)
	assert.Equal(t, Added, byPath["new.txt"].Kind)
	assert.Equal(t, Modified, byPath["mod.txt"].Kind)

	for i := 1; i < len(changes); i++ {
		assert.Less(t, changes[i-1].Path, changes[i].Path)
	}
}

func TestCompareTrees_WithoutCopies(t *testing.T) {
	keep := numberedLines("keep", 5)
	changes := CompareTrees(Tree{"keep.txt": []byte(keep)}, Tree{"keep.txt": []byte(keep), "copy.txt": []byte(keep)}, DetectOptions{})

	require.Len(t, changes, 1)
	assert.Equal(t, Added, changes[0].Kind)
}

func TestDetectRenames_Exclusive(t *testing.T) {
	content := []byte(numberedLines("x", 4))

	renames, deleted, added := DetectRenames(
		Tree{"a.txt": content},
		Tree{"x.txt": content, "y.txt": content},
		DefaultThreshold,
	)

	require.Len(t, renames, 1)
	assert.Equal(t, "a.txt", renames[0].From)
	assert.Equal(t, "x.txt", renames[0].Path)
	assert.Empty(t, deleted)
	assert.Equal(t, []string{"y.txt"}, added)

	// y.txt's only source was claimed by the rename, and a deleted file is
	// not a copy source.
	changes := CompareTrees(Tree{"a.txt": content}, Tree{"x.txt": content, "y.txt": content}, DetectOptions{DetectCopies: true})
	require.Len(t, changes, 2)
	assert.Equal(t, Renamed, changes[0].Kind)
	assert.Equal(t, Added, changes[1].Kind)
}

func TestDetectRenames_BelowThreshold(t *testing.T) {
	renames, deleted, added := DetectRenames(
		Tree{"old.txt": []byte("a\nb\nc\nd\n")},
		Tree{"new.txt": []byte("a\nx\ny\nz\n")},
		DefaultThreshold,
	)
	assert.Empty(t, renames)
	assert.Equal(t, []string{"old.txt"}, deleted)
	assert.Equal(t, []string{"new.txt"}, added)
}

func TestLoadTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".tig", "objects"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("hi"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".tig", "HEAD"), []byte("ref"), 0644))

	tree, err := LoadTree(root, func(rel string) bool { return rel == ".tig" })
	require.NoError(t, err)

	assert.Equal(t, Tree{
		"README":      []byte("hi"),
		"src/main.go": []byte("package main"),
	}, tree)
}
