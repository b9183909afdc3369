// Package delta computes and applies binary patches between two revisions of
// a buffer. A patch is a list of Copy (reference into the base) and Insert
// (literal bytes) operations, stamped with the hashes of both endpoints so a
// patch applied to the wrong base, or a corrupted patch, is always detected.
package delta

import (
	"fmt"

	"tigsync/internal/errors"
	"tigsync/shared/utils"
)

// MinWindow is the smallest match window. Smaller windows are clamped to it.
const MinWindow = 8

// OpKind tags an Op.
type OpKind string

const (
	OpCopy   OpKind = "copy"
	OpInsert OpKind = "insert"
)

// Op is a single patch instruction. Copy ops use Offset and Len, Insert ops
// use Data.
type Op struct {
	Kind   OpKind `json:"kind"`
	Offset int    `json:"offset,omitempty"`
	Len    int    `json:"len,omitempty"`
	Data   []byte `json:"data,omitempty"`
}

// Copy returns a Copy op.
func Copy(offset, length int) Op {
	return Op{Kind: OpCopy, Offset: offset, Len: length}
}

// Insert returns an Insert op.
func Insert(data []byte) Op {
	return Op{Kind: OpInsert, Data: data}
}

// Patch transforms the buffer hashing to BaseHash into the buffer hashing to
// NewHash.
type Patch struct {
	BaseHash   string `json:"base_hash"`
	NewHash    string `json:"new_hash"`
	WindowSize int    `json:"window_size"`
	Ops        []Op   `json:"ops"`
}

// Stats summarizes how much of the target a patch takes from the base.
type Stats struct {
	CopyOps     int
	InsertOps   int
	CopiedBytes int
	InsertBytes int
}

// Stats returns the op and byte counts of p.
func (p *Patch) Stats() Stats {
	var s Stats
	for _, op := range p.Ops {
		switch op.Kind {
		case OpCopy:
			s.CopyOps++
			s.CopiedBytes += op.Len
		case OpInsert:
			s.InsertOps++
			s.InsertBytes += len(op.Data)
		}
	}
	return s
}

// Make computes a patch turning base into target.
//
// Every window-length slice of base is indexed by its starting offsets. The
// target is scanned left to right; when the window at the current position
// matches an indexed slice, the first indexed occurrence (lowest base offset)
// is extended byte by byte past the window and emitted as a Copy. Unmatched
// bytes accumulate into a single trailing Insert. The match is greedy, not
// longest: output is reproducible but not minimal.
func Make(base, target []byte, window int) *Patch {
	if window < MinWindow {
		window = MinWindow
	}

	patch := &Patch{
		BaseHash:   utils.HashContent(base),
		NewHash:    utils.HashContent(target),
		WindowSize: window,
		Ops:        []Op{},
	}

	index := buildIndex(base, window)

	i := 0
	for i < len(target) {
		if i+window <= len(target) {
			if offsets, ok := index[string(target[i:i+window])]; ok {
				offset := offsets[0]
				n := window
				for offset+n < len(base) && i+n < len(target) && base[offset+n] == target[i+n] {
					n++
				}
				patch.Ops = append(patch.Ops, Copy(offset, n))
				i += n
				continue
			}
		}

		// Extend the trailing insert rather than emitting one op per byte.
		if last := len(patch.Ops) - 1; last >= 0 && patch.Ops[last].Kind == OpInsert {
			patch.Ops[last].Data = append(patch.Ops[last].Data, target[i])
		} else {
			patch.Ops = append(patch.Ops, Insert([]byte{target[i]}))
		}
		i++
	}

	return patch
}

// buildIndex maps every window-length slice of base to its starting offsets
// in increasing order.
func buildIndex(base []byte, window int) map[string][]int {
	if len(base) < window {
		return nil
	}
	index := make(map[string][]int, len(base)-window+1)
	for off := 0; off+window <= len(base); off++ {
		key := string(base[off : off+window])
		index[key] = append(index[key], off)
	}
	return index
}

// Apply replays patch against base. It fails with an integrity error when the
// hash of base is not patch.BaseHash, when an op does not fit the base, or
// when the reconstructed buffer does not hash to patch.NewHash.
func Apply(base []byte, patch *Patch) ([]byte, error) {
	if patch == nil {
		return nil, errors.ValidationError("nil patch", nil)
	}

	if got := utils.HashContent(base); got != patch.BaseHash {
		return nil, errors.Integrity("patch base hash mismatch", patch.BaseHash, got)
	}

	size := 0
	for i, op := range patch.Ops {
		switch op.Kind {
		case OpCopy:
			if op.Offset < 0 || op.Len < 0 || op.Offset > len(base) || op.Len > len(base)-op.Offset {
				return nil, errors.Integrity(
					fmt.Sprintf("op %d copies %d bytes at offset %d outside base of %d bytes", i, op.Len, op.Offset, len(base)),
					patch.NewHash, "")
			}
			size += op.Len
		case OpInsert:
			size += len(op.Data)
		default:
			return nil, errors.Integrity(fmt.Sprintf("op %d has unknown kind %q", i, op.Kind), patch.NewHash, "")
		}
	}

	out := make([]byte, 0, size)
	for _, op := range patch.Ops {
		if op.Kind == OpCopy {
			out = append(out, base[op.Offset:op.Offset+op.Len]...)
		} else {
			out = append(out, op.Data...)
		}
	}

	if got := utils.HashContent(out); got != patch.NewHash {
		return nil, errors.Integrity("patch result hash mismatch", patch.NewHash, got)
	}

	return out, nil
}
