package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsewatch/pulsewatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(payload, &msg))

	return msg
}

func TestHub_ConnectedAcknowledgment(t *testing.T) {
	hub := NewHub(0, testLogger())
	defer hub.Shutdown()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)

	msg := readEvent(t, conn)
	assert.Equal(t, "connected", msg["type"])
}

func TestHub_PingPong(t *testing.T) {
	hub := NewHub(0, testLogger())
	defer hub.Shutdown()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	readEvent(t, conn) // connected ack

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	msg := readEvent(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestHub_MalformedInboundIgnored(t *testing.T) {
	hub := NewHub(0, testLogger())
	defer hub.Shutdown()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	readEvent(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	// The malformed frame is dropped, the ping still gets a pong.
	msg := readEvent(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestHub_BroadcastReachesAllViewers(t *testing.T) {
	hub := NewHub(0, testLogger())
	defer hub.Shutdown()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	first := dialHub(t, srv)
	second := dialHub(t, srv)
	readEvent(t, first)
	readEvent(t, second)

	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(ServiceCreated{Service: &domain.Service{
		ID:             "svc-1",
		OrganizationID: "org-1",
		Name:           "API",
		Status:         domain.ServiceStatusOperational,
	}})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readEvent(t, conn)
		assert.Equal(t, "service_created", msg["type"])
		assert.Equal(t, "org-1", msg["organization_id"])

		service, ok := msg["service"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "svc-1", service["id"])
		assert.Equal(t, "API", service["name"])
	}
}

func TestHub_DisconnectedViewerIsRemoved(t *testing.T) {
	hub := NewHub(0, testLogger())
	defer hub.Shutdown()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	readEvent(t, conn)

	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Broadcasting with no viewers must not panic.
	hub.Broadcast(ServiceDeleted{ServiceID: "svc-1", OrganizationID: "org-1"})
}

func TestHub_RepeatedCloseAndUnregisterAreIdempotent(t *testing.T) {
	hub := NewHub(0, testLogger())
	defer hub.Shutdown()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	readEvent(t, conn)

	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.mu.RLock()
	var client *connection
	for c := range hub.connections {
		client = c
	}
	hub.mu.RUnlock()
	require.NotNil(t, client)

	// A viewer can be torn down from the read loop, the write loop, and
	// shutdown at once; every path after the first must be a no-op.
	client.close()
	client.close()
	assert.Equal(t, 0, hub.ConnectionCount())

	hub.unregister(client)
	assert.Equal(t, 0, hub.ConnectionCount())

	// Broadcasting to the gone viewer must not block or panic.
	hub.Broadcast(ServiceDeleted{ServiceID: "svc-1", OrganizationID: "org-1"})
}

func TestHub_ShutdownClosesViewersAndRejectsNew(t *testing.T) {
	hub := NewHub(0, testLogger())

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	readEvent(t, conn)

	hub.Shutdown()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, 0, hub.ConnectionCount())

	// New viewers are turned away after shutdown.
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		require.NoError(t, late.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, readErr := late.ReadMessage()
		assert.Error(t, readErr)
		_ = late.Close()
	}
	assert.Equal(t, 0, hub.ConnectionCount())
}
