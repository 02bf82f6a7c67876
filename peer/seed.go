package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/arlowe/torrentd/metainfo"
)

// ErrTracker is the sentinel cause for tracker-communication failures.
var ErrTracker = errors.New("peer: tracker error")

// ErrConfig is the sentinel cause for invalid seed/leech arguments.
var ErrConfig = errors.New("peer: invalid configuration")

// SeedOptions configures Seed, mirroring the control facade's POST /seed
// body (spec §6, §4.7).
type SeedOptions struct {
	InputPath       string
	Trackers        []string
	PieceLength     int64
	TorrentFilepath string
	Name            string
	Description     string
	Public          bool
}

// announceReply mirrors the tracker's GET/POST /announce JSON response.
type announceReply struct {
	Peers []struct {
		IP   string `json:"ip"`
		Port int    `json:"port"`
	} `json:"peers"`
	Interval int `json:"interval"`
}

// Seed creates a metainfo file for opts.InputPath (overwriting any file
// already at the torrent path), registers it in the seeding set, and
// announces it to the tracker: a full upload when opts.Public is true,
// or a bare "started" announce otherwise.
func (p *Peer) Seed(ctx context.Context, opts SeedOptions) (*metainfo.Metainfo, error) {
	if opts.InputPath == "" {
		return nil, errors.Wrap(ErrConfig, "input_path is required")
	}
	if _, err := os.Stat(opts.InputPath); err != nil {
		return nil, errors.Wrapf(ErrConfig, "input_path: %v", err)
	}

	pieceLength := opts.PieceLength
	if pieceLength == 0 {
		pieceLength = metainfo.DefaultPieceLength
	}
	trackers := metainfo.BuildAnnounceList(p.TrackerURL, opts.Trackers)

	torrentPath := opts.TorrentFilepath
	if torrentPath == "" {
		torrentPath = opts.InputPath + ".torrent"
	}

	_, outPath, err := metainfo.Create(metainfo.CreateOptions{
		InputPath:   opts.InputPath,
		Trackers:    trackers,
		PieceLength: pieceLength,
		CreatedBy:   "torrentd",
		OutputPath:  torrentPath,
	})
	if err != nil {
		return nil, errors.Wrap(err, "peer: creating metainfo")
	}

	m, err := metainfo.Parse(outPath)
	if err != nil {
		return nil, errors.Wrap(err, "peer: parsing created metainfo")
	}

	p.mu.Lock()
	p.seeding[m.InfoHash] = SeedEntry{TorrentFilepath: outPath, ContentFilepath: opts.InputPath}
	p.mu.Unlock()

	if opts.Public {
		name := opts.Name
		if name == "" {
			name = m.Filename()
		}
		if err := p.uploadTorrent(ctx, outPath, name, opts.Description); err != nil {
			return nil, err
		}
	} else if _, err := p.announce(ctx, outPath, "started"); err != nil {
		return nil, err
	}

	return m, nil
}

// announce sends a GET /announce to the tracker for torrentPath's
// metainfo, with the given event ("started", "stopped", or "" for a
// plain peer-list refresh), and returns the decoded reply.
func (p *Peer) announce(ctx context.Context, torrentPath, event string) (*announceReply, error) {
	m, err := metainfo.Parse(torrentPath)
	if err != nil {
		return nil, errors.Wrap(err, "peer: parsing torrent for announce")
	}

	q := url.Values{}
	q.Set("info_hash", hexHash(m.InfoHash))
	q.Set("port", strconv.Itoa(p.Port))
	q.Set("ip", p.IP)
	if event != "" {
		q.Set("event", event)
	}

	reqURL := m.TrackerURL() + "/announce?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(ErrTracker, err.Error())
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrTracker, "announce request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Wrapf(ErrTracker, "announce returned status %d", resp.StatusCode)
	}

	var reply announceReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, errors.Wrapf(ErrTracker, "decoding announce reply: %v", err)
	}
	return &reply, nil
}

// uploadTorrent POSTs torrentPath's bytes to the tracker's /announce,
// registering the swarm with a "started" event in the same request.
func (p *Peer) uploadTorrent(ctx context.Context, torrentPath, name, description string) error {
	m, err := metainfo.Parse(torrentPath)
	if err != nil {
		return errors.Wrap(err, "peer: parsing torrent for upload")
	}

	blob, err := os.ReadFile(torrentPath)
	if err != nil {
		return errors.Wrapf(ErrConfig, "reading torrent file: %v", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("name", name); err != nil {
		return errors.Wrap(ErrTracker, err.Error())
	}
	if err := writer.WriteField("comment", description); err != nil {
		return errors.Wrap(ErrTracker, err.Error())
	}
	part, err := writer.CreateFormFile("file", filepath.Base(torrentPath))
	if err != nil {
		return errors.Wrap(ErrTracker, err.Error())
	}
	if _, err := io.Copy(part, bytes.NewReader(blob)); err != nil {
		return errors.Wrap(ErrTracker, err.Error())
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(ErrTracker, err.Error())
	}

	q := url.Values{}
	q.Set("info_hash", hexHash(m.InfoHash))
	q.Set("port", strconv.Itoa(p.Port))
	q.Set("ip", p.IP)

	reqURL := m.TrackerURL() + "/announce?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return errors.Wrap(ErrTracker, err.Error())
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(ErrTracker, "upload request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusFound {
		return errors.Wrapf(ErrTracker, "upload returned status %d", resp.StatusCode)
	}
	return nil
}
