package piece

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arlowe/torrentd/message"
	"github.com/arlowe/torrentd/metainfo"
)

func buildSingleFileTorrent(pieceLen int64, pieces ...[]byte) *metainfo.Metainfo {
	var digest []byte
	var total int64
	for _, p := range pieces {
		sum := sha1.Sum(p)
		digest = append(digest, sum[:]...)
		total += int64(len(p))
	}
	return &metainfo.Metainfo{
		Name:             "content.bin",
		PieceLengthBytes: pieceLen,
		SingleLength:     total,
		Pieces:           digest,
	}
}

func TestNextRequestCoversAllPiecesOnce(t *testing.T) {
	m := buildSingleFileTorrent(4, []byte("aaaa"), []byte("bbbb"), []byte("cc"))
	mgr, err := NewManager(m, t.TempDir())
	require.NoError(t, err)

	seen := map[uint32]bool{}
	for i := 0; i < 3; i++ {
		req, ok := mgr.NextRequest()
		require.True(t, ok)
		seen[req.Index] = true
	}
	_, ok := mgr.NextRequest()
	require.False(t, ok, "no MISSING piece should remain")
	require.Len(t, seen, 3)
}

func TestOnPieceValidatesAndWrites(t *testing.T) {
	block := []byte("aaaa")
	m := buildSingleFileTorrent(4, block)
	dir := t.TempDir()
	mgr, err := NewManager(m, dir)
	require.NoError(t, err)

	req, ok := mgr.NextRequest()
	require.True(t, ok)
	require.EqualValues(t, 0, req.Index)

	err = mgr.OnPiece(message.Piece, message.PieceMessage{Index: 0, Begin: 0, Block: block})
	require.NoError(t, err)
	require.True(t, mgr.Completed())

	written, err := os.ReadFile(mgr.OutputName)
	require.NoError(t, err)
	require.Equal(t, block, written)
}

func TestOnPieceRejectsHashMismatchAndRevertsToMissing(t *testing.T) {
	m := buildSingleFileTorrent(4, []byte("aaaa"))
	mgr, err := NewManager(m, t.TempDir())
	require.NoError(t, err)

	_, ok := mgr.NextRequest()
	require.True(t, ok)

	err = mgr.OnPiece(message.Piece, message.PieceMessage{Index: 0, Begin: 0, Block: []byte("bogus")})
	require.Error(t, err)
	require.False(t, mgr.Completed())

	req, ok := mgr.NextRequest()
	require.True(t, ok, "piece should be MISSING again and selectable")
	require.EqualValues(t, 0, req.Index)
}

func TestRevertMakesAPendingPieceSelectableAgain(t *testing.T) {
	m := buildSingleFileTorrent(4, []byte("aaaa"), []byte("bbbb"))
	mgr, err := NewManager(m, t.TempDir())
	require.NoError(t, err)

	req, ok := mgr.NextRequest()
	require.True(t, ok)

	mgr.Revert(req.Index)

	again, ok := mgr.NextRequest()
	require.True(t, ok)
	require.Equal(t, req.Index, again.Index, "reverted piece should be handed out again")
}

func TestRevertOnCompletedPieceIsNoop(t *testing.T) {
	block := []byte("aaaa")
	m := buildSingleFileTorrent(4, block)
	mgr, err := NewManager(m, t.TempDir())
	require.NoError(t, err)

	_, ok := mgr.NextRequest()
	require.True(t, ok)
	require.NoError(t, mgr.OnPiece(message.Piece, message.PieceMessage{Index: 0, Block: block}))
	require.True(t, mgr.Completed())

	mgr.Revert(0)
	require.True(t, mgr.Completed(), "reverting a completed piece must not un-complete it")
}

func TestOnPieceRejectsNonPieceID(t *testing.T) {
	m := buildSingleFileTorrent(4, []byte("aaaa"))
	mgr, err := NewManager(m, t.TempDir())
	require.NoError(t, err)

	err = mgr.OnPiece(message.Request, message.PieceMessage{Index: 0, Block: []byte("aaaa")})
	require.Error(t, err)
}

func TestOnPieceRejectsOutOfRangeIndex(t *testing.T) {
	m := buildSingleFileTorrent(4, []byte("aaaa"))
	mgr, err := NewManager(m, t.TempDir())
	require.NoError(t, err)

	err = mgr.OnPiece(message.Piece, message.PieceMessage{Index: 9, Block: []byte("aaaa")})
	require.Error(t, err)
}

func TestMultiFilePieceStraddlesFileBoundary(t *testing.T) {
	fileA := []byte("AAAAAAAA") // 8 bytes
	fileB := []byte("BBBBBBBB") // 8 bytes
	pieceLen := int64(6)
	// Concatenation: AAAAAAAA BBBBBBBB (16 bytes) split into pieces of 6:
	// piece0 = AAAAAA, piece1 = AABBBB, piece2 = BBBB
	concat := append(append([]byte{}, fileA...), fileB...)
	var pieces [][]byte
	for i := int64(0); i < int64(len(concat)); i += pieceLen {
		end := i + pieceLen
		if end > int64(len(concat)) {
			end = int64(len(concat))
		}
		pieces = append(pieces, concat[i:end])
	}

	var digest []byte
	for _, p := range pieces {
		sum := sha1.Sum(p)
		digest = append(digest, sum[:]...)
	}

	m := &metainfo.Metainfo{
		Name:             "content",
		PieceLengthBytes: pieceLen,
		FileList: []metainfo.FileEntry{
			{Path: []string{"a.bin"}, Length: int64(len(fileA))},
			{Path: []string{"b.bin"}, Length: int64(len(fileB))},
		},
		Pieces: digest,
	}

	dir := t.TempDir()
	mgr, err := NewManager(m, dir)
	require.NoError(t, err)

	for i, p := range pieces {
		err := mgr.OnPiece(message.Piece, message.PieceMessage{Index: uint32(i), Block: p})
		require.NoError(t, err)
	}
	require.True(t, mgr.Completed())

	gotA, err := os.ReadFile(filepath.Join(mgr.OutputName, "a.bin"))
	require.NoError(t, err)
	require.Equal(t, fileA, gotA)

	gotB, err := os.ReadFile(filepath.Join(mgr.OutputName, "b.bin"))
	require.NoError(t, err)
	require.Equal(t, fileB, gotB)
}

func TestNewManagerDisambiguatesCollidingOutputName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "content.bin"), []byte("existing"), 0o644))

	m := buildSingleFileTorrent(4, []byte("aaaa"))
	mgr, err := NewManager(m, dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "content(1).bin"), mgr.OutputName)
}

func TestConcurrentNextRequestIsLinearizable(t *testing.T) {
	blocks := make([][]byte, 50)
	for i := range blocks {
		blocks[i] = []byte{byte(i), byte(i + 1), byte(i + 2), byte(i + 3)}
	}
	m := buildSingleFileTorrent(4, blocks...)
	mgr, err := NewManager(m, t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[uint32]int{}
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				req, ok := mgr.NextRequest()
				if !ok {
					return
				}
				mu.Lock()
				seen[req.Index]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, len(blocks))
	for _, count := range seen {
		require.Equal(t, 1, count, "every piece must be handed out exactly once")
	}
}
