package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora-ai/mentora/internal/executor"
	"github.com/mentora-ai/mentora/internal/supervisor"
	"github.com/mentora-ai/mentora/internal/syllabus"
	"github.com/mentora-ai/mentora/internal/tool"
	"github.com/mentora-ai/mentora/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	exec := executor.New(tool.Static{}, 4, 32)
	t.Cleanup(exec.Close)

	sup := supervisor.New(supervisor.Params{
		Config:   (&types.Config{TickMS: 60_000}).WithDefaults(),
		Executor: exec,
		Syllabus: syllabus.Default(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sup.Shutdown(ctx)
	})

	return New(DefaultConfig(), sup, syllabus.Default())
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestSyllabusEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/syllabus", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Addition")
}

func TestPostMessageStartsSession(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/session/learner-1/message", messageRequest{Content: "hello"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Accepted  bool   `json:"accepted"`
		SessionID string `json:"sessionID"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	assert.NotEmpty(t, resp.SessionID)

	rec = doJSON(t, srv, http.MethodGet, "/session/", nil)
	assert.Contains(t, rec.Body.String(), "learner-1")
}

func TestPostMessageRequiresContent(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/session/learner-1/message", messageRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSession(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/session/ghost/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	doJSON(t, srv, http.MethodPost, "/session/learner-1/message", messageRequest{Content: "hello"})

	rec = doJSON(t, srv, http.MethodGet, "/session/learner-1/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view types.PublicView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "learner-1", view.LearnerID)
	assert.NotEmpty(t, view.State)
}

func TestStopSession(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodDelete, "/session/ghost/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	doJSON(t, srv, http.MethodPost, "/session/learner-1/message", messageRequest{Content: "hello"})

	rec = doJSON(t, srv, http.MethodDelete, "/session/learner-1/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := doJSON(t, srv, http.MethodGet, "/session/learner-1/", nil)
		return rec.Code == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)
}

// readSSE reads lines from a stream until match appears or the context
// expires.
func readSSE(t *testing.T, ctx context.Context, url, match string) bool {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), match) {
			return true
		}
	}
	return false
}

func TestSessionStreamDeliversMessages(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	found := make(chan bool, 1)
	go func() {
		// Connecting starts the session; the welcome message arrives as a
		// system_message event.
		found <- readSSE(t, ctx, ts.URL+"/session/learner-sse/stream", "event: system_message")
	}()

	select {
	case ok := <-found:
		assert.True(t, ok, "no system_message on stream")
	case <-ctx.Done():
		t.Fatal("stream read timed out")
	}
}

func scanFor(sc *bufio.Scanner, match string) bool {
	for sc.Scan() {
		if strings.Contains(sc.Text(), match) {
			return true
		}
	}
	return false
}

func openStream(t *testing.T, ctx context.Context, url string) (*http.Response, *bufio.Scanner) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sc := bufio.NewScanner(resp.Body)
	require.True(t, scanFor(sc, "event: connected"))
	return resp, sc
}

// A learner reconnects by opening a second stream; the first connection
// then closes. Output must keep flowing to the live stream.
func TestReconnectKeepsNewStream(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()
	streamURL := ts.URL + "/session/learner-rc/stream"

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	resp1, _ := openStream(t, ctx1, streamURL)
	defer resp1.Body.Close()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel2()
	resp2, sc2 := openStream(t, ctx2, streamURL)
	defer resp2.Body.Close()

	// Old connection drops after the new one is bound.
	cancel1()
	time.Sleep(50 * time.Millisecond)

	rec := doJSON(t, srv, http.MethodPost, "/session/learner-rc/message", messageRequest{Content: "hello"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	found := make(chan bool, 1)
	go func() { found <- scanFor(sc2, "event: system_message") }()
	select {
	case ok := <-found:
		assert.True(t, ok, "reconnected stream received no tutor output")
	case <-ctx2.Done():
		t.Fatal("stream read timed out")
	}
}

func TestGlobalEventStream(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	assert.True(t, readSSE(t, ctx, ts.URL+"/event", "event: connected"))
}
