// Package pack bundles many blobs into one archive for transport. Each blob is
// zstd-compressed on its own and appended to the archive; the index records
// where every compressed blob lives plus a checksum of the whole archive.
package pack

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"tigsync/internal/errors"
	"tigsync/shared/utils"

	"go.uber.org/zap"
)

// Entry is one blob's compressed extent inside an archive.
type Entry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Offset int64  `json:"offset"`
}

// Index describes an archive. Entries are in input order with contiguous,
// non-overlapping offsets.
type Index struct {
	Entries  []Entry `json:"entries"`
	Checksum string  `json:"checksum"`
}

// Blob is an input to PackBlobs.
type Blob struct {
	Path string
	Data []byte
}

// Packer builds and reads archives.
type Packer struct {
	comp   *compressor
	logger *zap.Logger
}

// New creates a Packer. A nil logger disables logging.
func New(opts CompressionOptions, logger *zap.Logger) (*Packer, error) {
	comp, err := newCompressor(opts)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Packer{comp: comp, logger: logger}, nil
}

var (
	defaultOnce   sync.Once
	defaultPacker *Packer
	defaultErr    error
)

func getDefault() (*Packer, error) {
	defaultOnce.Do(func() {
		defaultPacker, defaultErr = New(DefaultCompressionOptions(), nil)
	})
	return defaultPacker, defaultErr
}

// PackBlobs packs blobs with the default options.
func PackBlobs(blobs []Blob) ([]byte, *Index, error) {
	p, err := getDefault()
	if err != nil {
		return nil, nil, err
	}
	return p.PackBlobs(blobs)
}

// UnpackBlob reads one entry with the default options.
func UnpackBlob(archive []byte, entry Entry) ([]byte, error) {
	p, err := getDefault()
	if err != nil {
		return nil, err
	}
	return p.UnpackBlob(archive, entry)
}

// PackBlobs compresses each blob independently and concatenates the results.
// An entry's offset is the archive length before its blob was appended. The
// checksum is computed once, over the finished archive.
func (p *Packer) PackBlobs(blobs []Blob) ([]byte, *Index, error) {
	var archive []byte
	index := &Index{Entries: make([]Entry, 0, len(blobs))}

	for _, blob := range blobs {
		compressed, err := p.comp.compress(blob.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("compressing %s: %w", blob.Path, err)
		}

		index.Entries = append(index.Entries, Entry{
			Path:   blob.Path,
			Size:   int64(len(compressed)),
			Offset: int64(len(archive)),
		})
		archive = append(archive, compressed...)
	}

	index.Checksum = utils.HashContent(archive)

	p.logger.Debug("packed blobs",
		zap.Int("blobs", len(blobs)),
		zap.Int("archive_bytes", len(archive)),
		zap.String("checksum", index.Checksum))

	return archive, index, nil
}

// UnpackBlob slices [offset, offset+size) out of archive and decompresses it.
// An extent outside the archive is a range error; undecodable bytes are an
// integrity error.
func (p *Packer) UnpackBlob(archive []byte, entry Entry) ([]byte, error) {
	n := int64(len(archive))
	if entry.Offset < 0 || entry.Size < 0 || entry.Offset > n || entry.Size > n-entry.Offset {
		return nil, errors.Range(fmt.Sprintf("entry %s of %d bytes at offset %d exceeds archive of %d bytes",
			entry.Path, entry.Size, entry.Offset, n))
	}
	end := entry.Offset + entry.Size

	data, err := p.comp.decompress(archive[entry.Offset:end])
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeIntegrity, fmt.Sprintf("decompressing %s", entry.Path), err)
	}
	return data, nil
}

// UnpackAll verifies the archive checksum and then extracts every entry.
func (p *Packer) UnpackAll(archive []byte, index *Index) ([]Blob, error) {
	if !index.VerifyChecksum(archive) {
		return nil, errors.Integrity("pack checksum mismatch", index.Checksum, utils.HashContent(archive))
	}

	blobs := make([]Blob, 0, len(index.Entries))
	for _, entry := range index.Entries {
		data, err := p.UnpackBlob(archive, entry)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, Blob{Path: entry.Path, Data: data})
	}
	return blobs, nil
}

// VerifyChecksum recomputes the archive hash and compares it with the index.
// Callers must check it before trusting any entry of a received pack.
func (idx *Index) VerifyChecksum(archive []byte) bool {
	return utils.HashContent(archive) == idx.Checksum
}

// Lookup finds the entry for path.
func (idx *Index) Lookup(path string) (Entry, bool) {
	for _, e := range idx.Entries {
		if e.Path == path {
			return e, true
		}
	}
	return Entry{}, false
}

// Validate checks that entries are contiguous and non-overlapping.
func (idx *Index) Validate() error {
	var next int64
	for i, e := range idx.Entries {
		if e.Offset != next || e.Size < 0 {
			return errors.ValidationError(fmt.Sprintf("entry %d (%s) at offset %d, expected %d", i, e.Path, e.Offset, next), nil)
		}
		next = e.Offset + e.Size
	}
	return nil
}

// WriteIndex encodes idx as JSON.
func WriteIndex(w io.Writer, idx *Index) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(idx); err != nil {
		return fmt.Errorf("encoding pack index: %w", err)
	}
	return nil
}

// ReadIndex decodes a JSON index and validates its layout.
func ReadIndex(r io.Reader) (*Index, error) {
	var idx Index
	if err := json.NewDecoder(r).Decode(&idx); err != nil {
		return nil, errors.ValidationError("invalid pack index", err.Error())
	}
	if err := idx.Validate(); err != nil {
		return nil, err
	}
	return &idx, nil
}
