package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/plantpulse/internal/broadcast"
	"github.com/pscheid92/plantpulse/internal/platform/correlation"
)

type fakeRegistry struct {
	mu           sync.Mutex
	registered   int
	unregistered int
	registerErr  error
	viewerIDs    []string
}

func (f *fakeRegistry) Register(ctx context.Context, conn *websocket.Conn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, _ := correlation.ID(ctx)
	f.viewerIDs = append(f.viewerIDs, id)
	if f.registerErr != nil {
		_ = conn.Close()
		return f.registerErr
	}
	f.registered++
	return nil
}

func (f *fakeRegistry) Unregister(*websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered++
}

func (f *fakeRegistry) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered, f.unregistered
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return websocket.DefaultDialer.Dial(url, header)
}

func TestHandler_RegistersAndUnregistersViewer(t *testing.T) {
	registry := &fakeRegistry{}
	srv := httptest.NewServer(NewHandler(registry, NewCheckOrigin(nil, false)))
	defer srv.Close()

	conn, _, err := dial(t, srv, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		registered, _ := registry.counts()
		return registered == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)))
	_ = conn.Close()

	require.Eventually(t, func() bool {
		_, unregistered := registry.counts()
		return unregistered == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHandler_PassesViewerIDToRegistry(t *testing.T) {
	registry := &fakeRegistry{}
	srv := httptest.NewServer(NewHandler(registry, NewCheckOrigin(nil, false)))
	defer srv.Close()

	first, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	defer first.Close()
	second, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	defer second.Close()

	require.Eventually(t, func() bool {
		registered, _ := registry.counts()
		return registered == 2
	}, time.Second, 5*time.Millisecond)

	registry.mu.Lock()
	ids := append([]string(nil), registry.viewerIDs...)
	registry.mu.Unlock()
	require.Len(t, ids, 2)
	assert.True(t, strings.HasPrefix(ids[0], correlation.ScopeViewer+"-"))
	assert.True(t, strings.HasPrefix(ids[1], correlation.ScopeViewer+"-"))
	assert.NotEqual(t, ids[0], ids[1])
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	registry := &fakeRegistry{}
	srv := httptest.NewServer(NewHandler(registry, NewCheckOrigin(nil, false)))
	defer srv.Close()

	_, resp, err := dial(t, srv, http.Header{"Origin": []string{"https://evil.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	registered, _ := registry.counts()
	assert.Zero(t, registered)
}

func TestHandler_CapacityClosesConnection(t *testing.T) {
	registry := &fakeRegistry{registerErr: fmt.Errorf("%w (%d)", broadcast.ErrCapacity, 1)}
	srv := httptest.NewServer(NewHandler(registry, NewCheckOrigin(nil, false)))
	defer srv.Close()

	conn, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	_, unregistered := registry.counts()
	assert.Zero(t, unregistered, "a rejected viewer is never unregistered")
}
