package peer

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arlowe/torrentd/message"
	"github.com/arlowe/torrentd/metainfo"
	"github.com/arlowe/torrentd/piece"
)

func writeContent(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 13 % 241)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return data
}

func newTestPeer(t *testing.T, port int) *Peer {
	t.Helper()
	p, err := New(port, "http://tracker.example")
	require.NoError(t, err)
	return p
}

func TestHandshakeMismatchDropsConnectionBeforePieceData(t *testing.T) {
	seeder := newTestPeer(t, 0)
	dir := t.TempDir()
	contentPath := filepath.Join(dir, "content.bin")
	data := writeContent(t, contentPath, 1000)

	torrentPath := filepath.Join(dir, "content.bin.torrent")
	_, _, err := metainfo.Create(metainfo.CreateOptions{
		InputPath:   contentPath,
		Trackers:    []string{"http://tracker.example/announce"},
		PieceLength: 500,
		OutputPath:  torrentPath,
	})
	require.NoError(t, err)
	m, err := metainfo.Parse(torrentPath)
	require.NoError(t, err)

	seeder.mu.Lock()
	seeder.seeding[m.InfoHash] = SeedEntry{TorrentFilepath: torrentPath, ContentFilepath: contentPath}
	seeder.mu.Unlock()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		seeder.handleUploader(conn)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var wrongHash [20]byte
	copy(wrongHash[:], []byte("wrong-info-hash-2020"))
	hs := message.Handshake{InfoHash: wrongHash, PeerID: [20]byte{1}}
	_, err = conn.Write(hs.Encode())
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err, "connection should be closed without any handshake reply or piece data")

	_ = data
}

// TestDownloadFromPeerRevertsPendingPieceOnDisconnect generalizes
// scenario S4 (a hash-mismatch reverting a piece) to a disconnect: a
// peer that accepts a request and then drops the connection without
// replying must not permanently strand that piece at PENDING, or no
// other peer's NextRequest call would ever select it again.
func TestDownloadFromPeerRevertsPendingPieceOnDisconnect(t *testing.T) {
	leecher := newTestPeer(t, 0)
	dir := t.TempDir()
	contentPath := filepath.Join(dir, "content.bin")
	original := writeContent(t, contentPath, 2000)

	torrentPath := filepath.Join(dir, "content.bin.torrent")
	_, _, err := metainfo.Create(metainfo.CreateOptions{
		InputPath:   contentPath,
		Trackers:    []string{"http://tracker.example/announce"},
		PieceLength: 700,
		OutputPath:  torrentPath,
	})
	require.NoError(t, err)
	m, err := metainfo.Parse(torrentPath)
	require.NoError(t, err)

	outDir := t.TempDir()
	mgr, err := piece.NewManager(m, outDir)
	require.NoError(t, err)

	// A peer that completes the handshake, then closes as soon as it
	// receives a single Request, simulating a stalled/disconnecting peer.
	badLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer badLn.Close()
	go func() {
		conn, err := badLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		hs, err := message.ReadHandshake(conn)
		if err != nil {
			return
		}
		reply := message.Handshake{InfoHash: hs.InfoHash, PeerID: [20]byte{2}}
		if _, err := conn.Write(reply.Encode()); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, _ = message.ReadLengthPrefixed(conn)
		// Drop the connection without ever sending a Piece reply.
	}()

	badHost, badPortStr, err := net.SplitHostPort(badLn.Addr().String())
	require.NoError(t, err)
	_ = badHost
	badPort, err := strconv.Atoi(badPortStr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	leecher.downloadFromPeer(ctx, mgr, m, peerAddress{IP: "127.0.0.1", Port: badPort})

	require.False(t, mgr.Completed(), "the bad peer must not have completed the download")
	_, ok := mgr.NextRequest()
	require.True(t, ok, "the piece requested from the disconnecting peer must be selectable again")

	// Reset: a fresh manager against a real seeder finishes the job.
	mgr2, err := piece.NewManager(m, t.TempDir())
	require.NoError(t, err)

	seeder := newTestPeer(t, 0)
	seeder.mu.Lock()
	seeder.seeding[m.InfoHash] = SeedEntry{TorrentFilepath: torrentPath, ContentFilepath: contentPath}
	seeder.mu.Unlock()

	goodLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer goodLn.Close()
	go func() {
		for {
			conn, err := goodLn.Accept()
			if err != nil {
				return
			}
			go seeder.handleUploader(conn)
		}
	}()
	_, goodPortStr, err := net.SplitHostPort(goodLn.Addr().String())
	require.NoError(t, err)
	goodPort, err := strconv.Atoi(goodPortStr)
	require.NoError(t, err)

	leecher.downloadFromPeer(ctx, mgr2, m, peerAddress{IP: "127.0.0.1", Port: goodPort})
	require.True(t, mgr2.Completed())
	got, err := os.ReadFile(mgr2.OutputName)
	require.NoError(t, err)
	require.Equal(t, original, got)
}

func TestDownloadFromPeerEndToEnd(t *testing.T) {
	seeder := newTestPeer(t, 0)
	dir := t.TempDir()
	contentPath := filepath.Join(dir, "content.bin")
	original := writeContent(t, contentPath, 2000)

	torrentPath := filepath.Join(dir, "content.bin.torrent")
	_, _, err := metainfo.Create(metainfo.CreateOptions{
		InputPath:   contentPath,
		Trackers:    []string{"http://tracker.example/announce"},
		PieceLength: 700,
		OutputPath:  torrentPath,
	})
	require.NoError(t, err)
	m, err := metainfo.Parse(torrentPath)
	require.NoError(t, err)

	seeder.mu.Lock()
	seeder.seeding[m.InfoHash] = SeedEntry{TorrentFilepath: torrentPath, ContentFilepath: contentPath}
	seeder.mu.Unlock()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go seeder.handleUploader(conn)
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	_ = host

	leecher := newTestPeer(t, 0)
	outDir := t.TempDir()
	mgr, err := piece.NewManager(m, outDir)
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	leecher.downloadFromPeer(ctx, mgr, m, peerAddress{IP: "127.0.0.1", Port: port})

	require.True(t, mgr.Completed())
	got, err := os.ReadFile(mgr.OutputName)
	require.NoError(t, err)
	require.Equal(t, original, got)
}

