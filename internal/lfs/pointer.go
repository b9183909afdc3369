// Package lfs replaces large tracked files with pointer text and keeps their
// content as content-addressed chunks.
package lfs

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"tigsync/internal/errors"
	"tigsync/shared/utils"
)

// VersionLine is the first line of every pointer file.
const VersionLine = "version https://tig-vcs.dev/spec/lfs/v1"

// Pointer is the manifest of a large file: its content hash, length and
// the ids of its chunks in content order.
type Pointer struct {
	OID    string   `json:"oid"`
	Size   int64    `json:"size"`
	Chunks []string `json:"chunks"`
}

// Text renders the pointer file that replaces the content in the working
// tree.
func (p *Pointer) Text() []byte {
	var b bytes.Buffer
	b.WriteString(VersionLine)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "oid %s\n", p.OID)
	fmt.Fprintf(&b, "size %d\n", p.Size)
	fmt.Fprintf(&b, "chunks %d\n", len(p.Chunks))
	return b.Bytes()
}

// IsPointerText reports whether data starts with the version marker.
func IsPointerText(data []byte) bool {
	return bytes.HasPrefix(data, []byte(VersionLine+"\n")) || bytes.Equal(data, []byte(VersionLine))
}

// ParsePointerText extracts the oid and size from pointer text. Only the
// version marker and oid line are required; unknown lines are ignored.
func ParsePointerText(data []byte) (oid string, size int64, err error) {
	if !IsPointerText(data) {
		return "", 0, errors.NotApplicable("not a pointer file")
	}

	size = -1
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Scan() // version line
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), " ")
		if !ok {
			continue
		}
		switch key {
		case "oid":
			oid = strings.TrimSpace(value)
		case "size":
			if n, perr := strconv.ParseInt(strings.TrimSpace(value), 10, 64); perr == nil {
				size = n
			}
		}
	}
	if !utils.IsValidHash(oid) {
		return "", 0, errors.ValidationError("pointer has no valid oid line", nil)
	}
	return oid, size, nil
}

// ParseManifest decodes a pointer.json payload.
func ParseManifest(data []byte) (*Pointer, error) {
	var p Pointer
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeIntegrity, "decoding pointer manifest", err)
	}
	if !utils.IsValidHash(p.OID) || p.Size < 0 {
		return nil, errors.Integrity("pointer manifest is malformed", "", p.OID)
	}
	if p.Chunks == nil {
		p.Chunks = []string{}
	}
	return &p, nil
}

// Manifest encodes the pointer as stored in pointer.json.
func (p *Pointer) Manifest() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// join concatenates parts. The buffer is sized from the parts themselves,
// never from a manifest's size field.
func join(parts [][]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	content := make([]byte, 0, n)
	for _, p := range parts {
		content = append(content, p...)
	}
	return content
}

// split cuts data into chunks of at most size bytes. Empty data has no
// chunks.
func split(data []byte, size int64) [][]byte {
	if size < 1 {
		size = 1
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := int64(len(data))
		if n > size {
			n = size
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
