package peer

import (
	"context"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/arlowe/torrentd/message"
	"github.com/arlowe/torrentd/metainfo"
)

// ErrProtocol re-exports message.ErrProtocol under the peer package so
// callers don't need to import message just to compare causes.
var ErrProtocol = message.ErrProtocol

// ErrNetwork is the sentinel cause for listen/accept/dial/timeout
// failures on the peer-wire TCP transport.
var ErrNetwork = errors.New("peer: network error")

// maxRequestsPerConnection bounds how many Request/Piece round-trips the
// seeding side serves on a single inbound connection before closing it,
// per spec §4.5.
const maxRequestsPerConnection = 300

const (
	handshakeReadTimeout = 10 * time.Second
	seedRequestTimeout   = 12 * time.Second
	dialTimeout          = 12 * time.Second
	handshakeRoundTrip   = 12 * time.Second
	leechLengthTimeout   = 20 * time.Second
	leechBodyTimeout     = 24 * time.Second
)

// ListenAndServe accepts inbound connections on the peer's configured
// port until ctx is canceled, handling each with handleUploader in its
// own goroutine.
func (p *Peer) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addrForPort(p.Port))
	if err != nil {
		return errors.Wrapf(ErrNetwork, "listening on port %d: %v", p.Port, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errors.Wrap(ErrNetwork, err.Error())
			}
		}
		go p.handleUploader(conn)
	}
}

func addrForPort(port int) string {
	return ":" + strconv.Itoa(port)
}

// handleUploader serves one inbound connection: handshake, then up to
// maxRequestsPerConnection Request/Piece round-trips, per spec §4.5
// "Seeding (server) side".
func (p *Peer) handleUploader(conn net.Conn) {
	defer conn.Close()
	addr := conn.RemoteAddr().String()

	conn.SetReadDeadline(time.Now().Add(handshakeReadTimeout))
	hs, err := message.ReadHandshake(conn)
	if err != nil {
		logger.Printf("seeder: invalid handshake from %s: %v", addr, err)
		return
	}

	p.mu.Lock()
	entry, ok := p.seeding[hs.InfoHash]
	p.mu.Unlock()
	if !ok {
		logger.Printf("seeder: no seed for info_hash %x requested by %s", hs.InfoHash, addr)
		return
	}

	m, err := metainfo.Parse(entry.TorrentFilepath)
	if err != nil {
		logger.Printf("seeder: failed to parse torrent for %x: %v", hs.InfoHash, err)
		return
	}

	reply := message.Handshake{InfoHash: hs.InfoHash, PeerID: p.ID}
	if _, err := conn.Write(reply.Encode()); err != nil {
		logger.Printf("seeder: writing handshake reply to %s: %v", addr, err)
		return
	}

	for attempts := 0; attempts < maxRequestsPerConnection; attempts++ {
		conn.SetReadDeadline(time.Now().Add(seedRequestTimeout))
		id, body, err := message.ReadLengthPrefixed(conn)
		if err != nil {
			logger.Printf("seeder: connection to %s ended: %v", addr, err)
			return
		}
		if id != message.Request {
			logger.Printf("seeder: unexpected message id %d from %s", id, addr)
			return
		}
		req, err := message.DecodeRequest(body)
		if err != nil {
			logger.Printf("seeder: malformed request from %s: %v", addr, err)
			return
		}

		block, err := readPieceForSeeding(m, entry.ContentFilepath, int(req.Index), int64(req.Length))
		if err != nil {
			logger.Printf("seeder: reading piece %d for %s: %v", req.Index, addr, err)
			return
		}

		pieceMsg := message.PieceMessage{Index: req.Index, Begin: req.Begin, Block: block}
		if _, err := conn.Write(pieceMsg.Encode()); err != nil {
			logger.Printf("seeder: writing piece %d to %s: %v", req.Index, addr, err)
			return
		}
	}
}

// readPieceForSeeding reads length bytes for piece index from the
// seeded content, splitting across file boundaries for multi-file
// torrents, mirroring the piece manager's write-side offset rules.
func readPieceForSeeding(m *metainfo.Metainfo, contentPath string, index int, length int64) ([]byte, error) {
	offset := int64(index) * m.PieceLengthBytes

	if !m.IsMultifile() {
		f, err := os.Open(contentPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		buf := make([]byte, length)
		if _, err := f.ReadAt(buf, offset); err != nil {
			return nil, err
		}
		return buf, nil
	}

	block := make([]byte, 0, length)
	var start int64
	pos := offset
	end := offset + length
	for _, file := range m.FileList {
		fileEnd := start + file.Length
		if pos < fileEnd && end > start {
			localOffset := pos - start
			readLen := fileEnd - pos
			if readLen > end-pos {
				readLen = end - pos
			}

			full := joinPath(contentPath, file.Path)
			f, err := os.Open(full)
			if err != nil {
				return nil, err
			}
			chunk := make([]byte, readLen)
			_, err = f.ReadAt(chunk, localOffset)
			f.Close()
			if err != nil {
				return nil, err
			}
			block = append(block, chunk...)
			pos += readLen
		}
		start = fileEnd
		if pos >= end {
			break
		}
	}
	return block, nil
}

func joinPath(root string, parts []string) string {
	full := root
	for _, part := range parts {
		full += string(os.PathSeparator) + part
	}
	return full
}
