// Package peer implements the piece-exchange engine: a peer that
// simultaneously seeds content it already holds and leeches content it
// is still acquiring, announcing its participation to a tracker.
package peer

import (
	"context"
	"encoding/hex"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/arlowe/torrentd/piece"
)

var logger = log.New(io.Discard, "peer: ", log.LstdFlags)

// SetVerbose switches the package logger to stderr (or back to
// discarding output).
func SetVerbose(v bool) {
	if v {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(io.Discard)
	}
}

// loopInterval is the peer's own retry/re-announce cadence: how long it
// waits between tracker peer-list polls, both on the "no peers yet"
// retry path and the steady-state swarm loop.
const loopInterval = 12 * time.Second

// SeedEntry is one torrent this peer currently seeds.
type SeedEntry struct {
	TorrentFilepath string
	ContentFilepath string
}

// leechSession is one torrent currently being downloaded: its piece
// manager plus the explicit cancellation/lifetime handle for its
// background connection goroutines (REDESIGN FLAGS target: no detached
// fire-and-forget tasks).
type leechSession struct {
	manager *piece.Manager
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
}

// Peer is one node in the swarm: it holds an identity, a set of
// torrents it seeds, a set of torrents it is leeching, and the tracker
// it announces to.
type Peer struct {
	ID         [20]byte
	IP         string
	Port       int
	TrackerURL string

	httpClient *http.Client

	mu       sync.Mutex
	seeding  map[[20]byte]SeedEntry
	leeching map[[20]byte]*leechSession
}

// New builds a Peer with a freshly generated identity and resolved local
// IP, listening on port and announcing to trackerURL.
func New(port int, trackerURL string) (*Peer, error) {
	id, err := newPeerID()
	if err != nil {
		return nil, err
	}
	ip, err := localIP()
	if err != nil {
		return nil, err
	}
	return &Peer{
		ID:         id,
		IP:         ip,
		Port:       port,
		TrackerURL: trackerURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		seeding:    make(map[[20]byte]SeedEntry),
		leeching:   make(map[[20]byte]*leechSession),
	}, nil
}

// SeedStatus is one entry in the control facade's GET /status "seeding"
// list.
type SeedStatus struct {
	InfoHash string
	Filepath string
}

// LeechStatus is one entry in the control facade's GET /status
// "leeching" list.
type LeechStatus struct {
	InfoHash string
	Output   string
	Percent  float64
}

// Status reports every seeding and leeching torrent this peer currently
// tracks.
func (p *Peer) Status() ([]SeedStatus, []LeechStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seeding := make([]SeedStatus, 0, len(p.seeding))
	for hash, entry := range p.seeding {
		seeding = append(seeding, SeedStatus{InfoHash: hexHash(hash), Filepath: entry.ContentFilepath})
	}

	leeching := make([]LeechStatus, 0, len(p.leeching))
	for hash, session := range p.leeching {
		leeching = append(leeching, LeechStatus{
			InfoHash: hexHash(hash),
			Output:   session.manager.OutputName,
			Percent:  session.manager.PercentDownloaded(),
		})
	}
	return seeding, leeching
}

// Shutdown cancels every in-flight leech session and sends a "stopped"
// announce for every seeding torrent. This corrects the source's
// shutdown-hook bug (DESIGN NOTES ambiguity b): the source ranged over
// an unbound method instead of calling it, so no stopped event was ever
// sent; here every seeding entry's torrent file is re-read and announced
// exactly once.
func (p *Peer) Shutdown(ctx context.Context) {
	p.mu.Lock()
	sessions := make([]*leechSession, 0, len(p.leeching))
	for _, s := range p.leeching {
		sessions = append(sessions, s)
	}
	entries := make([]SeedEntry, 0, len(p.seeding))
	for _, e := range p.seeding {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
	}
	for _, s := range sessions {
		s.wg.Wait()
	}

	for _, entry := range entries {
		if _, err := p.announce(ctx, entry.TorrentFilepath, "stopped"); err != nil {
			logger.Printf("shutdown announce failed for %s: %v", entry.TorrentFilepath, err)
		}
	}
}

func hexHash(h [20]byte) string {
	return hex.EncodeToString(h[:])
}
