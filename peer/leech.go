package peer

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/arlowe/torrentd/message"
	"github.com/arlowe/torrentd/metainfo"
	"github.com/arlowe/torrentd/piece"
)

// ErrNoPeers is the sentinel cause for a leech attempt that exhausted
// its zero-peers retry budget (spec scenario S6).
var ErrNoPeers = errors.New("peer: no peers available")

// maxZeroPeerRetries bounds how many times the leech loop tolerates an
// empty peer list before giving up, per spec §4.5 step 2.
const maxZeroPeerRetries = 3

// Leech downloads torrentPath into outputDir, blocking until the
// download completes or fails. On completion the torrent is registered
// as seeding and a fresh "started" announce is sent.
func (p *Peer) Leech(ctx context.Context, torrentPath, outputDir string) error {
	m, err := metainfo.Parse(torrentPath)
	if err != nil {
		return errors.Wrap(err, "peer: parsing torrent for leech")
	}

	mgr, err := piece.NewManager(m, outputDir)
	if err != nil {
		return errors.Wrap(err, "peer: allocating output")
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}
	session := &leechSession{manager: mgr, cancel: cancel, wg: wg}

	p.mu.Lock()
	p.leeching[m.InfoHash] = session
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.leeching, m.InfoHash)
		p.mu.Unlock()
	}()

	active := map[string]bool{}
	var activeMu sync.Mutex

	zeroStreak := 0
	for !mgr.Completed() {
		select {
		case <-sessionCtx.Done():
			wg.Wait()
			return sessionCtx.Err()
		default:
		}

		peers, err := p.fetchPeers(sessionCtx, torrentPath)
		if err != nil {
			logger.Printf("leech: fetching peers: %v", err)
		}

		if len(peers) == 0 {
			zeroStreak++
			if zeroStreak >= maxZeroPeerRetries {
				wg.Wait()
				return errors.Wrap(ErrNoPeers, "no peers after retries")
			}
			sleepOrDone(sessionCtx, loopInterval)
			continue
		}
		zeroStreak = 0

		for _, peerAddr := range peers {
			key := peerAddr.IP + ":" + strconv.Itoa(peerAddr.Port)
			activeMu.Lock()
			if active[key] {
				activeMu.Unlock()
				continue
			}
			active[key] = true
			activeMu.Unlock()

			wg.Add(1)
			go func(addr peerAddress) {
				defer wg.Done()
				defer func() {
					activeMu.Lock()
					delete(active, addr.IP+":"+strconv.Itoa(addr.Port))
					activeMu.Unlock()
				}()
				p.downloadFromPeer(sessionCtx, mgr, m, addr)
			}(peerAddr)
		}

		sleepOrDone(sessionCtx, loopInterval)
	}

	wg.Wait()

	p.mu.Lock()
	p.seeding[m.InfoHash] = SeedEntry{TorrentFilepath: torrentPath, ContentFilepath: mgr.OutputName}
	p.mu.Unlock()

	if _, err := p.announce(ctx, torrentPath, "started"); err != nil {
		logger.Printf("leech: post-completion announce failed: %v", err)
	}
	return nil
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type peerAddress struct {
	IP   string
	Port int
}

// fetchPeers asks the tracker for the current swarm for torrentPath's
// info-hash, retrying transient tracker errors with bounded exponential
// backoff rather than failing the whole leech attempt on one hiccup.
func (p *Peer) fetchPeers(ctx context.Context, torrentPath string) ([]peerAddress, error) {
	var reply *announceReply

	op := func() error {
		r, err := p.announce(ctx, torrentPath, "")
		if err != nil {
			return err
		}
		reply = r
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}

	peers := make([]peerAddress, 0, len(reply.Peers))
	for _, peerInfo := range reply.Peers {
		peers = append(peers, peerAddress{IP: peerInfo.IP, Port: peerInfo.Port})
	}
	return peers, nil
}

// downloadFromPeer connects to addr, performs the handshake, and loops
// requesting pieces until the manager is complete, the peer closes, or
// a framing/verification error occurs. Any error only drops this
// connection; other peers keep running (spec §4.5, §7).
func (p *Peer) downloadFromPeer(ctx context.Context, mgr *piece.Manager, m *metainfo.Metainfo, addr peerAddress) {
	target := net.JoinHostPort(addr.IP, strconv.Itoa(addr.Port))

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		logger.Printf("leech: dialing %s: %v", target, err)
		return
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(handshakeRoundTrip))
	hs := message.Handshake{InfoHash: m.InfoHash, PeerID: p.ID}
	if _, err := conn.Write(hs.Encode()); err != nil {
		logger.Printf("leech: sending handshake to %s: %v", target, err)
		return
	}
	reply, err := message.ReadHandshake(conn)
	if err != nil {
		logger.Printf("leech: reading handshake from %s: %v", target, err)
		return
	}
	if reply.InfoHash != m.InfoHash {
		logger.Printf("leech: info_hash mismatch from %s", target)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if mgr.Completed() {
			return
		}

		req, ok := mgr.NextRequest()
		if !ok {
			return
		}

		conn.SetDeadline(time.Now().Add(handshakeRoundTrip))
		if _, err := conn.Write(req.Encode()); err != nil {
			logger.Printf("leech: sending request to %s: %v", target, err)
			mgr.Revert(req.Index)
			return
		}

		// One deadline covers both the length-prefix read and the body
		// read inside ReadLengthPrefixed (20 s + 24 s budget per spec
		// §4.5, applied as a single combined socket deadline since both
		// reads happen inside one call).
		conn.SetReadDeadline(time.Now().Add(leechLengthTimeout + leechBodyTimeout))
		id, body, err := message.ReadLengthPrefixed(conn)
		if err != nil {
			logger.Printf("leech: reading piece from %s: %v", target, err)
			mgr.Revert(req.Index)
			return
		}

		pieceMsg, err := message.DecodePiece(body)
		if err != nil {
			logger.Printf("leech: malformed piece from %s: %v", target, err)
			mgr.Revert(req.Index)
			return
		}

		// OnPiece reverts the index it was given on hash-mismatch/write
		// failure; when the reply carried another message ID or another
		// index, the requested piece is still PENDING and is reverted here.
		if err := mgr.OnPiece(id, pieceMsg); err != nil {
			logger.Printf("leech: rejecting piece from %s: %v", target, err)
			if id != message.Piece || pieceMsg.Index != req.Index {
				mgr.Revert(req.Index)
			}
			return
		}
	}
}
