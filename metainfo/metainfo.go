// Package metainfo builds, parses and hashes .torrent metainfo files:
// the bencoded description of a shareable content unit.
package metainfo

import (
	"crypto/sha1"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/arlowe/torrentd/bencode"
)

// DefaultPieceLength is used when a caller does not specify one.
const DefaultPieceLength = 262144

// HashSize is the length in bytes of one piece's SHA-1 digest.
const HashSize = 20

// ErrBencode is the sentinel cause for malformed or incomplete metainfo.
var ErrBencode = errors.New("metainfo: malformed metainfo")

// FileEntry describes one file within a torrent's content layout. For a
// single-file torrent, Files() returns exactly one synthetic entry whose
// Path is {Name}.
type FileEntry struct {
	Path   []string
	Length int64
}

// Metainfo is a parsed .torrent file.
type Metainfo struct {
	Announce     string
	AnnounceList []string
	CreationDate int64
	CreatedBy    string
	Comment      string

	PieceLengthBytes int64
	Name             string
	// SingleLength is the content length for a single-file torrent; zero
	// (and ignored) when FileList is non-empty.
	SingleLength int64
	FileList     []FileEntry
	Pieces       []byte // concatenated 20-byte SHA-1 digests, piece order

	InfoHash [20]byte
}

// PieceLength returns the configured per-piece byte count.
func (m *Metainfo) PieceLength() int64 { return m.PieceLengthBytes }

// IsMultifile reports whether this torrent describes a directory of files
// rather than a single file.
func (m *Metainfo) IsMultifile() bool { return len(m.FileList) > 0 }

// TotalSize returns the sum of all file lengths in the torrent.
func (m *Metainfo) TotalSize() int64 {
	if !m.IsMultifile() {
		return m.SingleLength
	}
	var total int64
	for _, f := range m.FileList {
		total += f.Length
	}
	return total
}

// NumberOfPieces returns len(Pieces)/20.
func (m *Metainfo) NumberOfPieces() int {
	return len(m.Pieces) / HashSize
}

// PieceHash returns the expected SHA-1 digest for piece index.
func (m *Metainfo) PieceHash(index int) []byte {
	return m.Pieces[index*HashSize : (index+1)*HashSize]
}

// PieceLengthAt returns the byte length of piece index: PieceLengthBytes
// for every piece but the last, whose length is the remainder (or the
// full piece length when the total size divides evenly).
func (m *Metainfo) PieceLengthAt(index int) int64 {
	if index < m.NumberOfPieces()-1 {
		return m.PieceLengthBytes
	}
	rem := m.TotalSize() % m.PieceLengthBytes
	if rem == 0 {
		return m.PieceLengthBytes
	}
	return rem
}

// Filename returns the torrent's declared name (file name for single-file
// torrents, directory name for multi-file torrents).
func (m *Metainfo) Filename() string { return m.Name }

// TrackerURL returns the primary announce URL.
func (m *Metainfo) TrackerURL() string { return m.Announce }

// Files returns the file layout: a single synthetic entry for single-file
// torrents, or the declared list for multi-file ones. The piece manager
// and the seeding-side reader do not call it; each branches on
// IsMultifile() and walks FileList itself.
func (m *Metainfo) Files() []FileEntry {
	if m.IsMultifile() {
		return m.FileList
	}
	return []FileEntry{{Path: []string{m.Name}, Length: m.SingleLength}}
}

// infoValue rebuilds the bencode "info" dictionary exactly as it must be
// hashed: key-sorted, matching the on-disk representation byte for byte.
func (m *Metainfo) infoValue() bencode.Value {
	fields := map[string]bencode.Value{
		"name":         bencode.String(m.Name),
		"piece length": bencode.Int(m.PieceLengthBytes),
		"pieces":       {Kind: bencode.KindBytes, Bytes: m.Pieces},
	}
	if m.IsMultifile() {
		files := make([]bencode.Value, 0, len(m.FileList))
		for _, f := range m.FileList {
			parts := make([]bencode.Value, 0, len(f.Path))
			for _, p := range f.Path {
				parts = append(parts, bencode.String(p))
			}
			files = append(files, bencode.Map(map[string]bencode.Value{
				"path":   bencode.List(parts...),
				"length": bencode.Int(f.Length),
			}))
		}
		fields["files"] = bencode.List(files...)
	} else {
		fields["length"] = bencode.Int(m.SingleLength)
	}
	return bencode.Map(fields)
}

// computeInfoHash derives InfoHash from the current info fields.
func (m *Metainfo) computeInfoHash() error {
	buf, err := bencode.Marshal(m.infoValue())
	if err != nil {
		return errors.Wrap(err, "metainfo: encoding info dict")
	}
	m.InfoHash = sha1.Sum(buf)
	return nil
}

func sortedRelPath(root, full string) []string {
	rel, _ := filepath.Rel(root, full)
	return strings.Split(filepath.ToSlash(rel), "/")
}
