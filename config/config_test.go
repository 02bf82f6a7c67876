package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadPeerDefaults(t *testing.T) {
	cfg, err := LoadPeer(0, "", "http://tracker.example", "", 0)
	require.NoError(t, err)
	require.Equal(t, DefaultPeerPort, cfg.Port)
	require.Equal(t, DefaultControlAddr, cfg.ControlAddr)
	require.EqualValues(t, DefaultPieceLength, cfg.PieceLength)
	require.Equal(t, "http://tracker.example", cfg.TrackerURL)
}

func TestLoadPeerFlagOverridesDefault(t *testing.T) {
	cfg, err := LoadPeer(9000, ":9001", "http://tracker.example", "/tmp/dl", 4096)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, ":9001", cfg.ControlAddr)
	require.Equal(t, "/tmp/dl", cfg.DownloadDir)
	require.EqualValues(t, 4096, cfg.PieceLength)
}

func TestLoadPeerRequiresTrackerURL(t *testing.T) {
	_, err := LoadPeer(0, "", "", "", 0)
	require.Error(t, err)
}

func TestLoadTrackerDefaults(t *testing.T) {
	cfg, err := LoadTracker("", "")
	require.NoError(t, err)
	require.Equal(t, DefaultTrackerAddr, cfg.Addr)
}
