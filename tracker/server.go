// Package tracker implements the HTTP announce/metadata service that
// links peers into swarms: GET/POST /announce, GET /torrents, and
// GET /torrents/{info_hash}.
package tracker

import (
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

var logger = log.New(io.Discard, "tracker: ", log.LstdFlags)

// SetVerbose switches the package logger to stderr (or back to
// discarding output).
func SetVerbose(v bool) {
	if v {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(io.Discard)
	}
}

// Server is the tracker HTTP service.
type Server struct {
	store            *Store
	announceInterval int
	router           *mux.Router
}

// NewServer builds a Server backed by store, replying with
// announceInterval seconds in every announce response.
func NewServer(store *Store, announceInterval int) *Server {
	s := &Server{store: store, announceInterval: announceInterval, router: mux.NewRouter()}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/announce", s.handleAnnounceGet).Methods(http.MethodGet)
	s.router.HandleFunc("/announce", s.handleAnnouncePost).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents", s.handleListTorrents).Methods(http.MethodGet)
	s.router.HandleFunc("/torrents/{info_hash}", s.handleGetTorrent).Methods(http.MethodGet)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the JSON shape of every non-2xx response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, err error) {
	logger.Printf("error: %v", err)
	respondJSON(w, status, ErrorResponse{Error: err.Error()})
}

func statusForError(err error) int {
	switch errors.Cause(err) {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrIO:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "Tracker is running."})
}

// announceReply is the response to a GET or redirected POST /announce.
type announceReply struct {
	Peers    []PeerRecord `json:"peers"`
	Interval int          `json:"interval"`
}

func (s *Server) handleAnnounceGet(w http.ResponseWriter, r *http.Request) {
	infoHash := r.URL.Query().Get("info_hash")
	if infoHash == "" {
		respondError(w, http.StatusBadRequest, errors.New("tracker: info_hash is required"))
		return
	}
	port, err := strconv.Atoi(r.URL.Query().Get("port"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.Wrap(err, "tracker: port is required"))
		return
	}

	ip := r.URL.Query().Get("ip")
	if ip == "" {
		ip = requestIP(r)
	}
	event := r.URL.Query().Get("event")

	swarm, err := s.store.Announce(infoHash, PeerRecord{IP: ip, Port: port}, event)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, announceReply{Peers: swarm, Interval: s.announceInterval})
}

func requestIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleAnnouncePost(w http.ResponseWriter, r *http.Request) {
	infoHash := r.URL.Query().Get("info_hash")
	if infoHash == "" {
		respondError(w, http.StatusBadRequest, errors.New("tracker: info_hash is required"))
		return
	}
	port := r.URL.Query().Get("port")
	ip := r.URL.Query().Get("ip")

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, errors.Wrap(err, "tracker: parsing upload"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.Wrap(err, "tracker: missing file field"))
		return
	}
	defer file.Close()

	blob, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusInternalServerError, errors.Wrap(ErrIO, "tracker: reading upload"))
		return
	}

	name := r.FormValue("name")
	if name != "" {
		name += ".torrent"
	} else {
		name = header.Filename
	}
	comment := r.FormValue("comment")

	if err := s.store.UploadTorrent(infoHash, blob, name, comment); err != nil {
		respondError(w, statusForError(err), err)
		return
	}

	redirect := "/announce?info_hash=" + infoHash + "&port=" + port
	if ip != "" {
		redirect += "&ip=" + ip
	}
	redirect += "&event=started"
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (s *Server) handleListTorrents(w http.ResponseWriter, r *http.Request) {
	torrents, err := s.store.ListTorrents()
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, torrents)
}

func (s *Server) handleGetTorrent(w http.ResponseWriter, r *http.Request) {
	infoHash := mux.Vars(r)["info_hash"]
	rec, err := s.store.GetTorrent(infoHash)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	blob, err := os.ReadFile(rec.FilePath)
	if err != nil {
		respondError(w, http.StatusInternalServerError, errors.Wrapf(ErrIO, "reading blob: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+rec.Name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}
