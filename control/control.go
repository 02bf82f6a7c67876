// Package control implements the peer daemon's local HTTP/JSON facade:
// the minimal RPC surface torrentctl (and other local tooling) uses to
// drive a running peer (spec §4.7, §6).
package control

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/arlowe/torrentd/peer"
)

var logger = log.New(io.Discard, "control: ", log.LstdFlags)

// SetVerbose switches the package logger to stderr (or back to
// discarding output).
func SetVerbose(v bool) {
	if v {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(io.Discard)
	}
}

// Server exposes a running *peer.Peer over HTTP/JSON.
type Server struct {
	p          *peer.Peer
	trackerURL string
	httpClient *http.Client
	router     *mux.Router
}

// NewServer builds a control Server fronting p, proxying /torrents
// requests to trackerURL.
func NewServer(p *peer.Peer, trackerURL string) *Server {
	s := &Server{
		p:          p,
		trackerURL: trackerURL,
		httpClient: http.DefaultClient,
		router:     mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/seed", s.handleSeed).Methods(http.MethodPost)
	s.router.HandleFunc("/leech", s.handleLeech).Methods(http.MethodPost)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/torrents", s.handleListTorrents).Methods(http.MethodGet)
	s.router.HandleFunc("/torrents/{info_hash}", s.handleGetTorrent).Methods(http.MethodGet)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, err error) {
	logger.Printf("error: %v", err)
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForError(err error) int {
	switch errors.Cause(err) {
	case peer.ErrConfig:
		return http.StatusBadRequest
	case peer.ErrTracker:
		return http.StatusBadGateway
	case peer.ErrNetwork:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

type seedRequest struct {
	InputPath       string   `json:"input_path"`
	Trackers        []string `json:"trackers"`
	PieceLength     int64    `json:"piece_length"`
	TorrentFilepath string   `json:"torrent_filepath"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Public          *bool    `json:"public"`
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errors.Wrap(peer.ErrConfig, "decoding request body"))
		return
	}
	if req.InputPath == "" {
		respondError(w, http.StatusBadRequest, errors.Wrap(peer.ErrConfig, "input_path is required"))
		return
	}
	public := true
	if req.Public != nil {
		public = *req.Public
	}

	m, err := s.p.Seed(r.Context(), peer.SeedOptions{
		InputPath:       req.InputPath,
		Trackers:        req.Trackers,
		PieceLength:     req.PieceLength,
		TorrentFilepath: req.TorrentFilepath,
		Name:            req.Name,
		Description:     req.Description,
		Public:          public,
	})
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "seeding " + m.Filename()})
}

type leechRequest struct {
	TorrentFilepath string `json:"torrent_filepath"`
	OutputDir       string `json:"output_dir"`
}

func (s *Server) handleLeech(w http.ResponseWriter, r *http.Request) {
	var req leechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errors.Wrap(peer.ErrConfig, "decoding request body"))
		return
	}
	if req.TorrentFilepath == "" {
		respondError(w, http.StatusBadRequest, errors.Wrap(peer.ErrConfig, "torrent_filepath is required"))
		return
	}
	if _, err := os.Stat(req.TorrentFilepath); err != nil {
		respondError(w, http.StatusBadRequest, errors.Wrapf(peer.ErrConfig, "torrent_filepath: %v", err))
		return
	}
	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = "."
	}

	go func() {
		if err := s.p.Leech(context.Background(), req.TorrentFilepath, outputDir); err != nil {
			logger.Printf("leech of %s failed: %v", req.TorrentFilepath, err)
		}
	}()

	respondJSON(w, http.StatusOK, map[string]string{
		"message":      "download process initiated in background",
		"torrent_file": req.TorrentFilepath,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	seeding, leeching := s.p.Status()

	seedingOut := make([][2]string, 0, len(seeding))
	for _, entry := range seeding {
		seedingOut = append(seedingOut, [2]string{entry.InfoHash, entry.Filepath})
	}

	leechingOut := make([]interface{}, 0, len(leeching))
	for _, entry := range leeching {
		leechingOut = append(leechingOut, []interface{}{entry.InfoHash, entry.Output, entry.Percent})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"seeding":  seedingOut,
		"leeching": leechingOut,
	})
}

func (s *Server) handleListTorrents(w http.ResponseWriter, r *http.Request) {
	resp, err := s.httpClient.Get(s.trackerURL + "/torrents")
	if err != nil {
		respondError(w, http.StatusBadGateway, errors.Wrapf(peer.ErrTracker, "proxying /torrents: %v", err))
		return
	}
	defer resp.Body.Close()
	proxyResponse(w, resp)
}

func (s *Server) handleGetTorrent(w http.ResponseWriter, r *http.Request) {
	infoHash := mux.Vars(r)["info_hash"]
	resp, err := s.httpClient.Get(s.trackerURL + "/torrents/" + infoHash)
	if err != nil {
		respondError(w, http.StatusBadGateway, errors.Wrapf(peer.ErrTracker, "proxying /torrents/%s: %v", infoHash, err))
		return
	}
	defer resp.Body.Close()
	proxyResponse(w, resp)
}

func proxyResponse(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
