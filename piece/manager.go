// Package piece tracks per-piece download status for one torrent,
// selects the next piece to request, validates received data against its
// expected SHA-1 hash, and writes validated pieces back to the on-disk
// file (or multi-file directory) layout.
package piece

import (
	"bytes"
	"crypto/sha1"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/arlowe/torrentd/message"
	"github.com/arlowe/torrentd/metainfo"
)

// Status is one piece's position in the MISSING -> PENDING -> COMPLETED
// state machine described in spec §3.
type Status int32

const (
	Missing Status = iota
	Pending
	Completed
)

// ErrInvalidPiece is the sentinel cause for hash mismatches and malformed
// or out-of-range piece payloads.
var ErrInvalidPiece = errors.New("piece: invalid piece")

// fileSpan is one file's byte range within the logical concatenation of
// a multi-file torrent's content, used to split a piece's bytes across
// file boundaries.
type fileSpan struct {
	path  string
	start int64 // absolute offset of this file's first byte
	end   int64 // absolute offset one past this file's last byte
}

// Manager owns the piece status vector and the output file descriptor(s)
// for one torrent download. All access to the status vector is
// serialized by mu so that NextRequest and OnPiece are linearizable, per
// spec §5 invariant 4.
type Manager struct {
	torrent *metainfo.Metainfo

	mu       sync.Mutex
	status   []Status
	finished int32 // atomic count of Completed pieces, read lock-free

	// OutputName is the final on-disk path (file for single-file
	// torrents, directory for multi-file ones), after collision
	// disambiguation.
	OutputName string
	spans      []fileSpan // only populated for multi-file torrents
}

// NewManager pre-allocates the output layout (truncating a single file to
// its total size, or creating a directory tree of truncated files) and
// returns a Manager ready to drive a download.
func NewManager(t *metainfo.Metainfo, outputDir string) (*Manager, error) {
	name := uniqueOutputName(filepath.Join(outputDir, t.Filename()))

	m := &Manager{
		torrent:    t,
		status:     make([]Status, t.NumberOfPieces()),
		OutputName: name,
	}

	if t.IsMultifile() {
		if err := os.MkdirAll(name, 0o755); err != nil {
			return nil, errors.Wrapf(err, "piece: creating output directory %s", name)
		}
		var offset int64
		for _, f := range t.FileList {
			full := filepath.Join(append([]string{name}, f.Path...)...)
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return nil, errors.Wrapf(err, "piece: creating directory for %s", full)
			}
			file, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, errors.Wrapf(err, "piece: creating %s", full)
			}
			if err := file.Truncate(f.Length); err != nil {
				file.Close()
				return nil, errors.Wrapf(err, "piece: truncating %s", full)
			}
			file.Close()
			m.spans = append(m.spans, fileSpan{path: full, start: offset, end: offset + f.Length})
			offset += f.Length
		}
	} else {
		file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "piece: creating %s", name)
		}
		if err := file.Truncate(t.TotalSize()); err != nil {
			file.Close()
			return nil, errors.Wrapf(err, "piece: truncating %s", name)
		}
		file.Close()
	}

	return m, nil
}

// uniqueOutputName disambiguates path by appending "(N)" before the
// extension (or at the end of a name that has none) until it no
// longer collides with an existing file or directory.
func uniqueOutputName(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	for n := 1; ; n++ {
		candidate := filepath.Join(dir, stem+"("+strconv.Itoa(n)+")"+ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// NextRequest selects the lowest-indexed MISSING piece, marks it PENDING
// and returns a request for it. It returns false once no MISSING piece
// remains.
func (m *Manager) NextRequest() (message.RequestMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for index, st := range m.status {
		if st == Missing {
			m.status[index] = Pending
			return message.RequestMessage{
				Index:  uint32(index),
				Begin:  0,
				Length: uint32(m.torrent.PieceLengthAt(index)),
			}, true
		}
	}
	return message.RequestMessage{}, false
}

// Revert flips a PENDING piece back to MISSING, so a future NextRequest
// call can hand it out again. Callers use this whenever an in-flight
// request for index fails outside of OnPiece's own validation/write
// paths — a framing error, a read timeout, or a dropped connection
// (spec §4.5 "A stalled connection is closed; its in-flight pieces are
// reverted to MISSING"). Reverting an index that is Missing or
// Completed is a no-op.
func (m *Manager) Revert(index uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(index) < len(m.status) && m.status[index] == Pending {
		m.status[index] = Missing
	}
}

// OnPiece validates and, on success, persists a received Piece message
// body. id/index/begin/block come from the caller already having read a
// length-prefixed message off the wire (message.ReadLengthPrefixed +
// message.DecodePiece for the payload) — OnPiece re-validates the ID
// itself since wire messages are otherwise untrusted input.
func (m *Manager) OnPiece(id message.ID, pieceMsg message.PieceMessage) error {
	if id != message.Piece {
		return errors.Wrapf(ErrInvalidPiece, "expected piece message, got id %d", id)
	}
	index := int(pieceMsg.Index)
	if index < 0 || index >= len(m.status) {
		return errors.Wrapf(ErrInvalidPiece, "index %d out of range", index)
	}

	expected := m.torrent.PieceHash(index)
	sum := sha1.Sum(pieceMsg.Block)
	if !bytes.Equal(sum[:], expected) {
		m.Revert(pieceMsg.Index)
		return errors.Wrapf(ErrInvalidPiece, "hash mismatch for piece %d", index)
	}

	m.mu.Lock()
	if m.status[index] == Completed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.writePiece(index, pieceMsg.Block); err != nil {
		m.Revert(pieceMsg.Index)
		return errors.Wrapf(err, "piece: writing piece %d", index)
	}

	m.mu.Lock()
	if m.status[index] != Completed {
		m.status[index] = Completed
		atomic.AddInt32(&m.finished, 1)
	}
	m.mu.Unlock()
	return nil
}

// writePiece writes one piece's bytes to disk at the correct absolute
// offset, splitting across file boundaries for multi-file torrents.
func (m *Manager) writePiece(index int, data []byte) error {
	offset := int64(index) * m.torrent.PieceLengthBytes

	if !m.torrent.IsMultifile() {
		f, err := os.OpenFile(m.OutputName, os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.WriteAt(data, offset)
		return err
	}

	remaining := data
	pos := offset
	for _, span := range m.spans {
		if len(remaining) == 0 {
			break
		}
		if pos >= span.end {
			continue
		}
		f, err := os.OpenFile(span.path, os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		localOffset := pos - span.start
		writeLen := int64(len(remaining))
		if localOffset+writeLen > span.end-span.start {
			writeLen = span.end - span.start - localOffset
		}
		_, err = f.WriteAt(remaining[:writeLen], localOffset)
		f.Close()
		if err != nil {
			return err
		}
		remaining = remaining[writeLen:]
		pos += writeLen
	}
	return nil
}

// Completed reports whether every piece has been validated and written.
func (m *Manager) Completed() bool {
	return int(atomic.LoadInt32(&m.finished)) == len(m.status)
}

// PercentDownloaded returns the fraction of pieces completed, 0-100.
func (m *Manager) PercentDownloaded() float64 {
	total := len(m.status)
	if total == 0 {
		return 100
	}
	return float64(atomic.LoadInt32(&m.finished)) / float64(total) * 100
}
