package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noctonic/dirstream/internal/catalog"
	"github.com/noctonic/dirstream/internal/config"
	"github.com/noctonic/dirstream/internal/domain"
	"github.com/noctonic/dirstream/internal/hub"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Host:                "127.0.0.1",
		Port:                "0",
		WatchDir:            t.TempDir(),
		HeartbeatInterval:   time.Minute,
		QueueCapacity:       16,
		MaxConnections:      100,
		MaxConnectionsPerIP: 100,
		ConnectionRate:      1000,
		ConnectionBurst:     1000,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *hub.Hub) {
	t.Helper()

	cat, err := catalog.New(cfg.WatchDir)
	require.NoError(t, err)

	h := hub.New(cfg.QueueCapacity, clockwork.NewRealClock())
	t.Cleanup(h.Stop)

	return NewServer(cfg, h, cat, clockwork.NewRealClock(), func() bool { return true }), h
}

func TestHealthLive(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "uptime")
}

func TestHealthReady(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestHealthReady_WatcherLost(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	srv.watcherAlive = func() bool { return false }

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "watcher", body["failed_check"])
}

func TestVersionEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "version")
}

func TestFilesEndpoint(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WatchDir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WatchDir, "b.txt"), []byte("world"), 0o644))

	srv, _ := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Root  string          `json:"root"`
		Count int             `json:"count"`
		Files []catalog.Entry `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, cfg.WatchDir, body.Root)
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Files, 2)
	assert.Equal(t, filepath.Join(cfg.WatchDir, "a.txt"), body.Files[0].Path)
}

func TestSSE_RejectsOverGlobalLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConnections = 0
	srv, _ := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(LimitReasonGlobal), body["reason"])
}

// sseClient connects to the stream endpoint and hands back a scanner over
// the response body. The connection closes when ctx is cancelled.
func sseClient(t *testing.T, ctx context.Context, baseURL, path string, header http.Header) *bufio.Scanner {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	require.NoError(t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	return bufio.NewScanner(resp.Body)
}

// readFrame reads one SSE frame (up to the blank line) and returns its lines.
func readFrame(t *testing.T, scanner *bufio.Scanner) []string {
	t.Helper()

	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(lines) == 0 {
				continue
			}
			return lines
		}
		lines = append(lines, line)
	}
	t.Fatalf("stream ended while reading frame: %v", scanner.Err())
	return nil
}

func TestSSE_AckThenEvent(t *testing.T) {
	srv, h := newTestServer(t, testConfig(t))
	ts := httptest.NewServer(srv.echo)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	scanner := sseClient(t, ctx, ts.URL, "/sse", nil)

	ack := readFrame(t, scanner)
	require.Equal(t, []string{": ok"}, ack)

	h.Publish(domain.Change{Kind: domain.KindCreated, Path: "/data/a.txt", Time: time.Now()})

	frame := readFrame(t, scanner)
	require.Len(t, frame, 3)
	assert.Equal(t, "id: 1", frame[0])
	assert.Equal(t, "event: created", frame[1])
	assert.True(t, strings.HasPrefix(frame[2], "data: "))

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame[2], "data: ")), &payload))
	assert.Equal(t, "/data/a.txt", payload["path"])
}

func TestSSE_ResumptionEmitsGap(t *testing.T) {
	srv, h := newTestServer(t, testConfig(t))
	ts := httptest.NewServer(srv.echo)
	defer ts.Close()

	for i := 0; i < 5; i++ {
		h.Publish(domain.Change{Kind: domain.KindModified, Path: "/data/a.txt", Time: time.Now()})
	}
	require.Eventually(t, func() bool { return h.CurrentSeq() == 5 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set("Last-Event-ID", "2")
	scanner := sseClient(t, ctx, ts.URL, "/sse", header)

	ack := readFrame(t, scanner)
	require.Equal(t, []string{": ok"}, ack)

	frame := readFrame(t, scanner)
	require.Len(t, frame, 3)
	assert.Equal(t, "event: gap", frame[1])

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame[2], "data: ")), &payload))
	assert.Equal(t, float64(3), payload["from"])
	assert.Equal(t, float64(5), payload["to"])

	// Live records resume after the gap.
	h.Publish(domain.Change{Kind: domain.KindDeleted, Path: "/data/a.txt", Time: time.Now()})
	frame = readFrame(t, scanner)
	assert.Equal(t, "id: 6", frame[0])
	assert.Equal(t, "event: deleted", frame[1])
}

func TestSSE_PathFilter(t *testing.T) {
	cfg := testConfig(t)
	srv, h := newTestServer(t, cfg)
	ts := httptest.NewServer(srv.echo)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := filepath.Join(cfg.WatchDir, "logs")
	scanner := sseClient(t, ctx, ts.URL, "/sse?path=logs", nil)
	readFrame(t, scanner) // ack

	h.Publish(domain.Change{Kind: domain.KindCreated, Path: filepath.Join(cfg.WatchDir, "other", "x.txt"), Time: time.Now()})
	h.Publish(domain.Change{Kind: domain.KindCreated, Path: filepath.Join(sub, "app.log"), Time: time.Now()})

	frame := readFrame(t, scanner)
	assert.Equal(t, "id: 2", frame[0])
	assert.Equal(t, "event: created", frame[1])
}

func TestSSE_PathFilterMatchesExactFile(t *testing.T) {
	cfg := testConfig(t)
	srv, h := newTestServer(t, cfg)
	ts := httptest.NewServer(srv.echo)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	scanner := sseClient(t, ctx, ts.URL, "/sse?path=a.txt", nil)
	readFrame(t, scanner) // ack

	h.Publish(domain.Change{Kind: domain.KindCreated, Path: filepath.Join(cfg.WatchDir, "b.txt"), Time: time.Now()})
	h.Publish(domain.Change{Kind: domain.KindModified, Path: filepath.Join(cfg.WatchDir, "a.txt"), Time: time.Now()})

	frame := readFrame(t, scanner)
	assert.Equal(t, "id: 2", frame[0])
	assert.Equal(t, "event: modified", frame[1])
}

func TestSSE_HubStoppedReturnsErrorStatus(t *testing.T) {
	srv, h := newTestServer(t, testConfig(t))
	h.Stop()

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSSE_ClosingOnHubStop(t *testing.T) {
	srv, h := newTestServer(t, testConfig(t))
	ts := httptest.NewServer(srv.echo)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	scanner := sseClient(t, ctx, ts.URL, "/sse", nil)
	readFrame(t, scanner) // ack

	h.Stop()

	frame := readFrame(t, scanner)
	require.Len(t, frame, 3)
	assert.Equal(t, "event: closing", frame[1])
}

func TestCorrelationIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Correlation-ID", "abcd1234")
	rec = httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, "abcd1234", rec.Header().Get("X-Correlation-ID"))
}
