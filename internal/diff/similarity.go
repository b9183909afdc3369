package diff

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// DefaultThreshold is the minimum similarity for a rename or copy pairing.
const DefaultThreshold = 0.7

// ChangeKind classifies a path in a tree comparison.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Modified ChangeKind = "modified"
	Deleted  ChangeKind = "deleted"
	Renamed  ChangeKind = "renamed"
	Copied   ChangeKind = "copied"
)

// TreeChange is one entry of a tree comparison. From is set for renames and
// copies.
type TreeChange struct {
	Kind       ChangeKind
	Path       string
	From       string
	Similarity float64
}

// Tree maps slash-separated relative paths to file contents.
type Tree map[string][]byte

// DetectOptions tunes CompareTrees.
type DetectOptions struct {
	Threshold    float64
	DetectCopies bool
}

// Similarity scores two contents in [0,1] as 2*LCS/(len(a)+len(b)) over
// lines. Two empty inputs are identical.
func Similarity(a, b []byte) float64 {
	if bytes.Equal(a, b) {
		return 1.0
	}
	la, lb := splitLines(a), splitLines(b)
	if len(la)+len(lb) == 0 {
		return 1.0
	}

	var common int
	if len(la)*len(lb) > maxLCSCells {
		common = multisetOverlap(la, lb)
	} else {
		common = lcsLength(la, lb)
	}
	return 2 * float64(common) / float64(len(la)+len(lb))
}

// multisetOverlap counts lines shared by a and b ignoring order.
func multisetOverlap(a, b []string) int {
	counts := make(map[string]int, len(a))
	for _, l := range a {
		counts[l]++
	}
	common := 0
	for _, l := range b {
		if counts[l] > 0 {
			counts[l]--
			common++
		}
	}
	return common
}

type candidate struct {
	from, to string
	score    float64
}

// DetectRenames pairs deleted files with added files whose similarity meets
// threshold. Best scores are claimed first; each path takes part in at most
// one rename. It returns the renames plus the unpaired deleted and added
// paths, both sorted.
func DetectRenames(deleted, added Tree, threshold float64) ([]TreeChange, []string, []string) {
	var candidates []candidate
	for from, oldContent := range deleted {
		for to, newContent := range added {
			if score := Similarity(oldContent, newContent); score >= threshold {
				candidates = append(candidates, candidate{from: from, to: to, score: score})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.from != b.from {
			return a.from < b.from
		}
		return a.to < b.to
	})

	usedFrom := make(map[string]bool)
	usedTo := make(map[string]bool)
	var renames []TreeChange
	for _, c := range candidates {
		if usedFrom[c.from] || usedTo[c.to] {
			continue
		}
		usedFrom[c.from] = true
		usedTo[c.to] = true
		renames = append(renames, TreeChange{Kind: Renamed, Path: c.to, From: c.from, Similarity: c.score})
	}

	return renames, remaining(deleted, usedFrom), remaining(added, usedTo)
}

// DetectCopies matches each added path against the unchanged sources and
// reports the most similar one at or above threshold. A source may be copied
// to any number of targets. Ties go to the lexically smallest source.
func DetectCopies(sources Tree, added []string, addedContent Tree, threshold float64) []TreeChange {
	srcPaths := sortedKeys(sources)
	var copies []TreeChange
	for _, to := range added {
		best, bestScore := "", -1.0
		for _, from := range srcPaths {
			score := Similarity(sources[from], addedContent[to])
			if score >= threshold && score > bestScore {
				best, bestScore = from, score
			}
		}
		if best != "" {
			copies = append(copies, TreeChange{Kind: Copied, Path: to, From: best, Similarity: bestScore})
		}
	}
	return copies
}

// CompareTrees reports how newTree differs from oldTree. Renames are
// detected first; copies are then searched for among the remaining added
// files, using files unchanged between the trees as sources. Results are
// sorted by path.
func CompareTrees(oldTree, newTree Tree, opts DetectOptions) []TreeChange {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	deleted := Tree{}
	added := Tree{}
	unchanged := Tree{}
	var changes []TreeChange

	for p, oldContent := range oldTree {
		newContent, ok := newTree[p]
		switch {
		case !ok:
			deleted[p] = oldContent
		case bytes.Equal(oldContent, newContent):
			unchanged[p] = oldContent
		default:
			changes = append(changes, TreeChange{Kind: Modified, Path: p, Similarity: Similarity(oldContent, newContent)})
		}
	}
	for p, newContent := range newTree {
		if _, ok := oldTree[p]; !ok {
			added[p] = newContent
		}
	}

	renames, stillDeleted, stillAdded := DetectRenames(deleted, added, opts.Threshold)
	changes = append(changes, renames...)

	if opts.DetectCopies {
		copies := DetectCopies(unchanged, stillAdded, added, opts.Threshold)
		copied := make(map[string]bool, len(copies))
		for _, c := range copies {
			copied[c.Path] = true
		}
		changes = append(changes, copies...)

		var rest []string
		for _, p := range stillAdded {
			if !copied[p] {
				rest = append(rest, p)
			}
		}
		stillAdded = rest
	}

	for _, p := range stillDeleted {
		changes = append(changes, TreeChange{Kind: Deleted, Path: p})
	}
	for _, p := range stillAdded {
		changes = append(changes, TreeChange{Kind: Added, Path: p})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// LoadTree reads every regular file under root into a Tree. Directories for
// which skip returns true are not descended into.
func LoadTree(root string, skip func(rel string) bool) (Tree, error) {
	tree := Tree{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && skip != nil && skip(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[rel] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tree, nil
}

func remaining(t Tree, used map[string]bool) []string {
	var out []string
	for p := range t {
		if !used[p] {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(t Tree) []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
