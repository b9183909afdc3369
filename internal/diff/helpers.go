package diff

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxLCSCells bounds the LCS table; larger inputs degrade to a plain
// delete-then-insert of the differing middle.
const maxLCSCells = 16 << 20

func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	lines := strings.Split(string(content), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// splitKeepNewline splits after each newline so joining tokens restores s.
func splitKeepNewline(s string) []string {
	if s == "" {
		return nil
	}
	tokens := strings.SplitAfter(s, "\n")
	if tokens[len(tokens)-1] == "" {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// splitWords tokenizes s into alternating runs of whitespace and
// non-whitespace so that concatenating tokens gives back s.
func splitWords(s string) []string {
	var tokens []string
	start := 0
	for start < len(s) {
		r, _ := utf8.DecodeRuneInString(s[start:])
		space := unicode.IsSpace(r)
		end := start
		for end < len(s) {
			r, size := utf8.DecodeRuneInString(s[end:])
			if unicode.IsSpace(r) != space {
				break
			}
			end += size
		}
		tokens = append(tokens, s[start:end])
		start = end
	}
	return tokens
}

func splitChars(s string) []string {
	tokens := make([]string, 0, len(s))
	for _, r := range s {
		tokens = append(tokens, string(r))
	}
	return tokens
}

// editScript returns the LCS alignment of a and b as context, deletion and
// addition lines numbered from 1.
func editScript(a, b []string) []Line {
	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	ops := make([]Line, 0, len(a)+len(b)-prefix-suffix)
	for i := 0; i < prefix; i++ {
		ops = append(ops, Line{Type: Context, Content: a[i], OldNum: i + 1, NewNum: i + 1})
	}

	midA, midB := a[prefix:len(a)-suffix], b[prefix:len(b)-suffix]
	ops = append(ops, middleScript(midA, midB, prefix)...)

	for k := suffix; k > 0; k-- {
		i, j := len(a)-k, len(b)-k
		ops = append(ops, Line{Type: Context, Content: a[i], OldNum: i + 1, NewNum: j + 1})
	}
	return ops
}

func middleScript(a, b []string, offset int) []Line {
	n, m := len(a), len(b)
	var ops []Line

	if n == 0 || m == 0 || (n+1)*(m+1) > maxLCSCells {
		for i := range a {
			ops = append(ops, Line{Type: Deletion, Content: a[i], OldNum: offset + i + 1})
		}
		for j := range b {
			ops = append(ops, Line{Type: Addition, Content: b[j], NewNum: offset + j + 1})
		}
		return ops
	}

	lcs := lcsTable(a, b)

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, Line{Type: Context, Content: a[i], OldNum: offset + i + 1, NewNum: offset + j + 1})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, Line{Type: Deletion, Content: a[i], OldNum: offset + i + 1})
			i++
		default:
			ops = append(ops, Line{Type: Addition, Content: b[j], NewNum: offset + j + 1})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, Line{Type: Deletion, Content: a[i], OldNum: offset + i + 1})
	}
	for ; j < m; j++ {
		ops = append(ops, Line{Type: Addition, Content: b[j], NewNum: offset + j + 1})
	}
	return ops
}

// lcsTable holds suffix LCS lengths: lcs[i][j] is the LCS of a[i:] and b[j:].
func lcsTable(a, b []string) [][]int {
	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
	}

	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				matrix[i][j] = matrix[i+1][j+1] + 1
			} else {
				matrix[i][j] = max(matrix[i+1][j], matrix[i][j+1])
			}
		}
	}

	return matrix
}

// lcsLength returns the LCS length of a and b using two rows.
func lcsLength(a, b []string) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
