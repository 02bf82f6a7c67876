package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrIO is the sentinel cause for JSON-store and blob-file failures.
var ErrIO = errors.New("tracker: storage error")

// PeerRecord is one (ip, port) pair registered for a swarm.
type PeerRecord struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// TorrentRecord is the metadata the tracker keeps for one uploaded
// metainfo, alongside the on-disk path of the stored blob.
type TorrentRecord struct {
	FilePath    string `json:"file_path"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Store is the tracker's JSON-file-backed state: a peer list per
// info-hash and a torrent-metadata record per info-hash, plus the
// directory holding the uploaded .torrent blobs. Every mutating
// operation re-reads the backing files, mutates, and re-writes them
// under mu, so concurrent HTTP handlers serialize on the same process-
// wide lock rather than racing on partial JSON writes.
type Store struct {
	mu sync.Mutex

	peersPath    string
	torrentsPath string
	blobDir      string
}

// NewStore ensures the backing files and blob directory exist under dir
// and returns a Store rooted there.
func NewStore(dir string) (*Store, error) {
	s := &Store{
		peersPath:    filepath.Join(dir, "tracker_peers.json"),
		torrentsPath: filepath.Join(dir, "tracker_torrents.json"),
		blobDir:      filepath.Join(dir, "tracker_torrents"),
	}
	if err := os.MkdirAll(s.blobDir, 0o755); err != nil {
		return nil, errors.Wrapf(ErrIO, "creating blob directory: %v", err)
	}
	if err := initJSONFile(s.peersPath); err != nil {
		return nil, err
	}
	if err := initJSONFile(s.torrentsPath); err != nil {
		return nil, err
	}
	return s, nil
}

func initJSONFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		return errors.Wrapf(ErrIO, "initializing %s: %v", path, err)
	}
	return nil
}

func (s *Store) readPeers() (map[string][]PeerRecord, error) {
	var m map[string][]PeerRecord
	if err := readJSON(s.peersPath, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string][]PeerRecord{}
	}
	return m, nil
}

func (s *Store) writePeers(m map[string][]PeerRecord) error {
	return writeJSON(s.peersPath, m)
}

func (s *Store) readTorrents() (map[string]TorrentRecord, error) {
	var m map[string]TorrentRecord
	if err := readJSON(s.torrentsPath, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]TorrentRecord{}
	}
	return m, nil
}

func (s *Store) writeTorrents(m map[string]TorrentRecord) error {
	return writeJSON(s.torrentsPath, m)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(ErrIO, "reading %s: %v", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(ErrIO, "decoding %s: %v", path, err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(ErrIO, "encoding %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(ErrIO, "writing %s: %v", path, err)
	}
	return nil
}

// Announce registers or removes peer for infoHash depending on event
// ("started" adds if absent, "stopped" removes if present, any other
// value including empty performs no mutation) and returns the complete
// current swarm for infoHash.
func (s *Store) Announce(infoHash string, peer PeerRecord, event string) ([]PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers, err := s.readPeers()
	if err != nil {
		return nil, err
	}
	swarm := peers[infoHash]

	switch event {
	case "started":
		if !containsPeer(swarm, peer) {
			swarm = append(swarm, peer)
		}
	case "stopped":
		swarm = removePeer(swarm, peer)
	}

	peers[infoHash] = swarm
	if err := s.writePeers(peers); err != nil {
		return nil, err
	}
	return swarm, nil
}

func containsPeer(swarm []PeerRecord, p PeerRecord) bool {
	for _, existing := range swarm {
		if existing == p {
			return true
		}
	}
	return false
}

func removePeer(swarm []PeerRecord, p PeerRecord) []PeerRecord {
	out := swarm[:0]
	for _, existing := range swarm {
		if existing != p {
			out = append(out, existing)
		}
	}
	return out
}

// UploadTorrent persists blob as a new .torrent file keyed by infoHash,
// unless a record already exists and its blob still exists on disk, in
// which case the existing record is kept unchanged (idempotent
// re-upload, spec scenario S5).
func (s *Store) UploadTorrent(infoHash string, blob []byte, name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	torrents, err := s.readTorrents()
	if err != nil {
		return err
	}

	if existing, ok := torrents[infoHash]; ok {
		if _, statErr := os.Stat(existing.FilePath); statErr == nil {
			return nil
		}
	}

	blobPath := filepath.Join(s.blobDir, uuid.New().String()+".torrent")
	if err := os.WriteFile(blobPath, blob, 0o644); err != nil {
		return errors.Wrapf(ErrIO, "writing blob %s: %v", blobPath, err)
	}

	torrents[infoHash] = TorrentRecord{
		FilePath:    blobPath,
		Name:        name,
		Description: description,
	}
	return s.writeTorrents(torrents)
}

// ListTorrents returns every stored torrent's name/description, info-hash
// keyed, with FilePath omitted (internal detail, per spec §4.6).
func (s *Store) ListTorrents() (map[string]TorrentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	torrents, err := s.readTorrents()
	if err != nil {
		return nil, err
	}
	out := make(map[string]TorrentRecord, len(torrents))
	for hash, rec := range torrents {
		out[hash] = TorrentRecord{Name: rec.Name, Description: rec.Description}
	}
	return out, nil
}

// GetTorrent returns the full stored record (including FilePath) for
// infoHash, or an error if unknown.
func (s *Store) GetTorrent(infoHash string) (TorrentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	torrents, err := s.readTorrents()
	if err != nil {
		return TorrentRecord{}, err
	}
	rec, ok := torrents[infoHash]
	if !ok {
		return TorrentRecord{}, errors.Wrapf(ErrNotFound, "info_hash %s", infoHash)
	}
	return rec, nil
}

// ErrNotFound is the sentinel cause for an unknown info-hash lookup.
var ErrNotFound = errors.New("tracker: info_hash not found")
