package metainfo

import (
	"crypto/sha1"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/arlowe/torrentd/bencode"
)

// BuildAnnounceList flattens a primary tracker URL and any extra trackers
// into one deduplicated, validated list with primary first. This mirrors
// peer_torrent.py's _get_tracker_urls: the BEP-0012 tiered structure is
// not reconstructed (see REDESIGN FLAGS (c)).
func BuildAnnounceList(primary string, extra []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return
		}
		seen[u] = true
		out = append(out, u)
	}
	add(primary)
	for _, u := range extra {
		add(u)
	}
	return out
}

// CreateOptions configures Create.
type CreateOptions struct {
	InputPath   string
	Trackers    []string
	PieceLength int64
	Comment     string
	CreatedBy   string
	// OutputPath, if set, is where the .torrent bytes are written; when
	// empty Create only returns the encoded bytes and no file is written.
	OutputPath string
}

// Create walks InputPath (a single file, or a directory traversed
// depth-first in sorted relative-path order) and builds a metainfo for it,
// streaming piece hashes so the whole input is never held in memory at
// once. It returns the encoded .torrent bytes and the path written (equal
// to OutputPath when given).
func Create(opts CreateOptions) ([]byte, string, error) {
	if opts.InputPath == "" {
		return nil, "", errors.Wrap(ErrBencode, "input path is required")
	}
	pieceLength := opts.PieceLength
	if pieceLength == 0 {
		pieceLength = DefaultPieceLength
	}

	info, err := os.Stat(opts.InputPath)
	if err != nil {
		return nil, "", errors.Wrapf(err, "metainfo: stat %s", opts.InputPath)
	}

	m := &Metainfo{
		Comment:          opts.Comment,
		CreatedBy:        opts.CreatedBy,
		Name:             filepath.Base(filepath.Clean(opts.InputPath)),
		PieceLengthBytes: pieceLength,
	}
	list := BuildAnnounceList(firstOf(opts.Trackers), opts.Trackers)
	if len(list) > 0 {
		m.Announce = list[0]
		m.AnnounceList = list
	}

	var files []string
	if info.IsDir() {
		files, err = sortedFileList(opts.InputPath)
		if err != nil {
			return nil, "", err
		}
		m.FileList = make([]FileEntry, 0, len(files))
		for _, f := range files {
			fi, statErr := os.Stat(f)
			if statErr != nil {
				return nil, "", errors.Wrapf(statErr, "metainfo: stat %s", f)
			}
			m.FileList = append(m.FileList, FileEntry{
				Path:   sortedRelPath(opts.InputPath, f),
				Length: fi.Size(),
			})
		}
	} else {
		files = []string{opts.InputPath}
		m.SingleLength = info.Size()
	}

	pieces, err := hashPieces(files, pieceLength)
	if err != nil {
		return nil, "", err
	}
	m.Pieces = pieces

	if err := m.computeInfoHash(); err != nil {
		return nil, "", err
	}

	data, err := m.Encode()
	if err != nil {
		return nil, "", err
	}
	if opts.OutputPath != "" {
		if err := os.WriteFile(opts.OutputPath, data, 0o644); err != nil {
			return nil, "", errors.Wrapf(err, "metainfo: write %s", opts.OutputPath)
		}
	}
	return data, opts.OutputPath, nil
}

func firstOf(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// sortedFileList returns every regular file under root, depth-first, in
// byte-lexicographic order of their relative path. This is the
// deterministic traversal order the spec requires for piece boundaries to
// be reproducible across implementations.
func sortedFileList(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "metainfo: walking %s", root)
	}
	sort.Slice(files, func(i, j int) bool {
		return strings.Compare(
			filepath.ToSlash(mustRel(root, files[i])),
			filepath.ToSlash(mustRel(root, files[j])),
		) < 0
	})
	return files, nil
}

func mustRel(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

// hashPieces streams the concatenation of files, emitting one SHA-1 digest
// per piece_length bytes accumulated, plus a final digest for any
// non-empty residual.
func hashPieces(files []string, pieceLength int64) ([]byte, error) {
	var digests []byte
	buf := make([]byte, 0, pieceLength)

	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "metainfo: open %s", path)
		}
		err = func() error {
			defer f.Close()
			chunk := make([]byte, 32*1024)
			for {
				n, readErr := f.Read(chunk)
				if n > 0 {
					buf = append(buf, chunk[:n]...)
					for int64(len(buf)) >= pieceLength {
						h := sha1.Sum(buf[:pieceLength])
						digests = append(digests, h[:]...)
						buf = append(buf[:0], buf[pieceLength:]...)
					}
				}
				if readErr == io.EOF {
					return nil
				}
				if readErr != nil {
					return readErr
				}
			}
		}()
		if err != nil {
			return nil, errors.Wrapf(err, "metainfo: reading %s", path)
		}
	}
	if len(buf) > 0 {
		h := sha1.Sum(buf)
		digests = append(digests, h[:]...)
	}
	return digests, nil
}

// Encode returns the bencoded .torrent representation of m.
func (m *Metainfo) Encode() ([]byte, error) {
	fields := map[string]bencode.Value{
		"announce": bencode.String(m.Announce),
		"info":     m.infoValue(),
	}
	if len(m.AnnounceList) > 0 {
		items := make([]bencode.Value, 0, len(m.AnnounceList))
		for _, u := range m.AnnounceList {
			items = append(items, bencode.String(u))
		}
		fields["announce-list"] = bencode.List(items...)
	}
	if m.CreationDate != 0 {
		fields["creation date"] = bencode.Int(m.CreationDate)
	}
	if m.CreatedBy != "" {
		fields["created by"] = bencode.String(m.CreatedBy)
	}
	if m.Comment != "" {
		fields["comment"] = bencode.String(m.Comment)
	}
	return bencode.Marshal(bencode.Map(fields))
}
