package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arlowe/torrentd/peer"
)

func newTestPeer(t *testing.T, trackerURL string) *peer.Peer {
	t.Helper()
	p, err := peer.New(0, trackerURL)
	require.NoError(t, err)
	return p
}

func performRequest(handler http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHandleSeedRejectsMissingInputPath(t *testing.T) {
	s := NewServer(newTestPeer(t, "http://tracker.example"), "http://tracker.example")
	w := performRequest(s, http.MethodPost, "/seed", []byte(`{}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSeedRejectsMissingFile(t *testing.T) {
	s := NewServer(newTestPeer(t, "http://tracker.example"), "http://tracker.example")
	body, _ := json.Marshal(map[string]string{"input_path": "/does/not/exist"})
	w := performRequest(s, http.MethodPost, "/seed", body)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleLeechRejectsMissingTorrentFile(t *testing.T) {
	s := NewServer(newTestPeer(t, "http://tracker.example"), "http://tracker.example")
	body, _ := json.Marshal(map[string]string{"torrent_filepath": "/does/not/exist.torrent"})
	w := performRequest(s, http.MethodPost, "/leech", body)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStatusReportsEmptyPeer(t *testing.T) {
	s := NewServer(newTestPeer(t, "http://tracker.example"), "http://tracker.example")
	w := performRequest(s, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Seeding  [][2]string     `json:"seeding"`
		Leeching [][]interface{} `json:"leeching"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Empty(t, body.Seeding)
	require.Empty(t, body.Leeching)
}

func TestHandleListTorrentsProxiesUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/torrents", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"abc":{"name":"demo"}}`))
	}))
	defer upstream.Close()

	s := NewServer(newTestPeer(t, upstream.URL), upstream.URL)
	w := performRequest(s, http.MethodGet, "/torrents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"abc":{"name":"demo"}}`, w.Body.String())
}

func TestHandleGetTorrentProxiesUpstreamBlob(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/torrents/deadbeef", r.URL.Path)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("bencoded-bytes"))
	}))
	defer upstream.Close()

	s := NewServer(newTestPeer(t, upstream.URL), upstream.URL)
	w := performRequest(s, http.MethodGet, "/torrents/deadbeef", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	require.Equal(t, []byte("bencoded-bytes"), w.Body.Bytes())
}

func TestHandleGetTorrentProxiesUpstream404(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer upstream.Close()

	s := NewServer(newTestPeer(t, upstream.URL), upstream.URL)
	w := performRequest(s, http.MethodGet, "/torrents/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSeedAcceptsValidRequest(t *testing.T) {
	dir := t.TempDir()
	contentPath := filepath.Join(dir, "content.bin")
	require.NoError(t, os.WriteFile(contentPath, bytes.Repeat([]byte{7}, 1000), 0o644))

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"peers":[],"interval":1800}`))
	}))
	defer upstream.Close()

	s := NewServer(newTestPeer(t, upstream.URL), upstream.URL)
	body, _ := json.Marshal(map[string]interface{}{
		"input_path": contentPath,
		"public":     false,
	})
	w := performRequest(s, http.MethodPost, "/seed", body)
	require.Equal(t, http.StatusOK, w.Code)
}
