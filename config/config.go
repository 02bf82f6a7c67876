// Package config loads runtime configuration for the tracker and peer
// daemons: defaults, overridden by TORRENTD_* environment variables,
// overridden in turn by explicit CLI flags.
package config

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// ErrConfig is the sentinel cause for invalid configuration values.
var ErrConfig = errors.New("config: invalid configuration")

// Defaults mirror the original peer/tracker config loaders' constants.
const (
	DefaultPieceLength      = 262144
	DefaultAnnounceInterval = 1800
	DefaultTrackerAddr      = ":8000"
	DefaultPeerPort         = 6881
	DefaultControlAddr      = ":7000"
	DefaultDownloadDir      = "./downloads"
)

// Tracker holds the tracker daemon's configuration.
type Tracker struct {
	Addr             string
	StateDir         string
	AnnounceInterval int
}

// Peer holds the peer daemon's configuration.
type Peer struct {
	Port        int
	ControlAddr string
	TrackerURL  string
	DownloadDir string
	PieceLength int64
}

// LoadTracker builds Tracker config from defaults, then environment,
// then any non-zero-value flag overrides passed in.
func LoadTracker(flagAddr, flagStateDir string) (Tracker, error) {
	cfg := Tracker{
		Addr:             DefaultTrackerAddr,
		StateDir:         ".",
		AnnounceInterval: DefaultAnnounceInterval,
	}
	if v := os.Getenv("TORRENTD_TRACKER_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("TORRENTD_ANNOUNCE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Tracker{}, errors.Wrapf(ErrConfig, "TORRENTD_ANNOUNCE_INTERVAL=%q: %v", v, err)
		}
		cfg.AnnounceInterval = n
	}
	if flagAddr != "" {
		cfg.Addr = flagAddr
	}
	if flagStateDir != "" {
		cfg.StateDir = flagStateDir
	}
	return cfg, nil
}

// LoadPeer builds Peer config from defaults, then environment, then any
// non-zero-value flag overrides passed in.
func LoadPeer(flagPort int, flagControlAddr, flagTrackerURL, flagDownloadDir string, flagPieceLength int64) (Peer, error) {
	cfg := Peer{
		Port:        DefaultPeerPort,
		ControlAddr: DefaultControlAddr,
		DownloadDir: DefaultDownloadDir,
		PieceLength: DefaultPieceLength,
	}

	if v := os.Getenv("TORRENTD_PEER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Peer{}, errors.Wrapf(ErrConfig, "TORRENTD_PEER_PORT=%q: %v", v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("TORRENTD_CONTROL_ADDR"); v != "" {
		cfg.ControlAddr = v
	}
	if v := os.Getenv("TORRENTD_DOWNLOAD_DIR"); v != "" {
		cfg.DownloadDir = v
	}
	if v := os.Getenv("TORRENTD_PIECE_LENGTH"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Peer{}, errors.Wrapf(ErrConfig, "TORRENTD_PIECE_LENGTH=%q: %v", v, err)
		}
		cfg.PieceLength = n
	}
	cfg.TrackerURL = flagTrackerURL

	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagControlAddr != "" {
		cfg.ControlAddr = flagControlAddr
	}
	if flagDownloadDir != "" {
		cfg.DownloadDir = flagDownloadDir
	}
	if flagPieceLength != 0 {
		cfg.PieceLength = flagPieceLength
	}

	if cfg.TrackerURL == "" {
		return Peer{}, errors.Wrap(ErrConfig, "tracker URL is required")
	}
	return cfg, nil
}
