package metainfo

import (
	"crypto/sha1"
	"os"

	"github.com/pkg/errors"

	"github.com/arlowe/torrentd/bencode"
)

// Parse opens and decodes a .torrent file, computing its info_hash.
func Parse(path string) (*Metainfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "metainfo: open %s", path)
	}
	defer f.Close()

	root, err := bencode.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(ErrBencode, "%s: %v", path, err)
	}
	return fromValue(root)
}

func fromValue(root bencode.Value) (*Metainfo, error) {
	if root.Kind != bencode.KindMap {
		return nil, errors.Wrap(ErrBencode, "top-level value is not a dict")
	}
	info, ok := root.Get("info")
	if !ok || info.Kind != bencode.KindMap {
		return nil, errors.Wrap(ErrBencode, "missing 'info' dict")
	}

	m := &Metainfo{}
	if v, ok := root.Get("announce"); ok {
		m.Announce = string(v.Bytes)
	}
	if v, ok := root.Get("announce-list"); ok {
		m.AnnounceList = flattenAnnounceList(v)
	}
	if v, ok := root.Get("creation date"); ok {
		m.CreationDate = v.Int
	}
	if v, ok := root.Get("created by"); ok {
		m.CreatedBy = string(v.Bytes)
	}
	if v, ok := root.Get("comment"); ok {
		m.Comment = string(v.Bytes)
	}

	name, ok := info.Get("name")
	if !ok {
		return nil, errors.Wrap(ErrBencode, "info dict missing 'name'")
	}
	m.Name = string(name.Bytes)

	pieceLength, ok := info.Get("piece length")
	if !ok {
		return nil, errors.Wrap(ErrBencode, "info dict missing 'piece length'")
	}
	m.PieceLengthBytes = pieceLength.Int

	pieces, ok := info.Get("pieces")
	if !ok {
		return nil, errors.Wrap(ErrBencode, "info dict missing 'pieces'")
	}
	if len(pieces.Bytes)%HashSize != 0 {
		return nil, errors.Wrapf(ErrBencode, "pieces length %d is not a multiple of %d", len(pieces.Bytes), HashSize)
	}
	m.Pieces = pieces.Bytes

	if files, ok := info.Get("files"); ok {
		entries, err := decodeFiles(files)
		if err != nil {
			return nil, err
		}
		m.FileList = entries
	} else {
		length, ok := info.Get("length")
		if !ok {
			return nil, errors.Wrap(ErrBencode, "info dict missing 'length' or 'files'")
		}
		m.SingleLength = length.Int
	}

	// Hash the decoded info dict itself, so keys this package does not
	// model still count toward the info_hash.
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: encoding info dict")
	}
	m.InfoHash = sha1.Sum(infoBytes)
	return m, nil
}

func decodeFiles(v bencode.Value) ([]FileEntry, error) {
	if v.Kind != bencode.KindList {
		return nil, errors.Wrap(ErrBencode, "'files' is not a list")
	}
	entries := make([]FileEntry, 0, len(v.List))
	for _, item := range v.List {
		pathVal, ok := item.Get("path")
		if !ok || pathVal.Kind != bencode.KindList {
			return nil, errors.Wrap(ErrBencode, "file entry missing 'path' list")
		}
		lengthVal, ok := item.Get("length")
		if !ok {
			return nil, errors.Wrap(ErrBencode, "file entry missing 'length'")
		}
		parts := make([]string, 0, len(pathVal.List))
		for _, p := range pathVal.List {
			parts = append(parts, string(p.Bytes))
		}
		entries = append(entries, FileEntry{Path: parts, Length: lengthVal.Int})
	}
	return entries, nil
}

// flattenAnnounceList preserves the source semantics noted in
// REDESIGN FLAGS (c): the tiered BEP-0012 list-of-lists is read back as a
// single flat list of URLs rather than reconstructing tiers.
func flattenAnnounceList(v bencode.Value) []string {
	if v.Kind != bencode.KindList {
		return nil
	}
	var out []string
	for _, tierOrURL := range v.List {
		switch tierOrURL.Kind {
		case bencode.KindList:
			for _, u := range tierOrURL.List {
				if u.Kind == bencode.KindBytes {
					out = append(out, string(u.Bytes))
				}
			}
		case bencode.KindBytes:
			out = append(out, string(tierOrURL.Bytes))
		}
	}
	return out
}
