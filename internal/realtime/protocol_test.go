package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/septivank/machine-telemetry-worker/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantType   string
		wantStatus string
		wantError  string
		subscribed bool
	}{
		{
			name:       "subscribe",
			raw:        `{"type":"subscribe","machine_id":7}`,
			wantType:   TypeSubscriptionUpdate,
			wantStatus: "subscribed",
			subscribed: true,
		},
		{
			name:      "subscribe without machine",
			raw:       `{"type":"subscribe"}`,
			wantType:  TypeError,
			wantError: "machine_id is required",
		},
		{
			name:     "ping",
			raw:      `{"type":"command","command":"ping"}`,
			wantType: TypePong,
		},
		{
			name:      "unknown command",
			raw:       `{"type":"command","command":"reboot"}`,
			wantType:  TypeError,
			wantError: "Unknown command: reboot",
		},
		{
			name:      "unknown type",
			raw:       `{"type":"history"}`,
			wantType:  TypeError,
			wantError: "Unknown message type: history",
		},
		{
			name:      "malformed json",
			raw:       `{"type":`,
			wantType:  TypeError,
			wantError: "Invalid JSON format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager()
			tr := &fakeTransport{}
			m.Connect("c1", "", tr)

			m.HandleMessage(context.Background(), "c1", []byte(tt.raw))

			msgs := tr.messages(t)
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.wantType, msgs[0]["type"])
			if tt.wantStatus != "" {
				assert.Equal(t, tt.wantStatus, msgs[0]["status"])
			}
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, msgs[0]["message"])
			}
			assert.Equal(t, tt.subscribed, len(m.Subscriptions("c1")) > 0)
			assert.True(t, m.IsConnected("c1"), "protocol errors keep the connection open")
		})
	}
}

func TestHandleMessage_Unsubscribe(t *testing.T) {
	m := newTestManager()
	tr := &fakeTransport{}
	m.Connect("c1", "", tr)
	ctx := context.Background()

	m.HandleMessage(ctx, "c1", []byte(`{"type":"subscribe","machine_id":3}`))
	m.HandleMessage(ctx, "c1", []byte(`{"type":"unsubscribe","machine_id":3}`))

	msgs := tr.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "unsubscribed", msgs[1]["status"])
	assert.Equal(t, float64(3), msgs[1]["machine_id"])
	assert.Empty(t, m.WatchedMachines())
}

func TestHandleMessage_UnknownClientIsIgnored(t *testing.T) {
	m := newTestManager()

	m.HandleMessage(context.Background(), "ghost", []byte(`{"type":"subscribe","machine_id":1}`))

	assert.Empty(t, m.WatchedMachines())
}

func TestHandler_WebsocketSession(t *testing.T) {
	m := newTestManager()
	h := NewHandler(m, config.WebSocketConfig{SendBuffer: 16, MaxMessageSize: 4096}, zap.NewNop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?client_id=dash-1&user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readJSON := func() map[string]any {
		t.Helper()
		var msg map[string]any
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	greeting := readJSON()
	assert.Equal(t, TypeConnectionEstablished, greeting["type"])
	assert.Equal(t, "dash-1", greeting["client_id"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "machine_id": 7}))
	update := readJSON()
	assert.Equal(t, TypeSubscriptionUpdate, update["type"])
	assert.Equal(t, []int64{7}, m.Subscriptions("dash-1"))

	assert.Equal(t, 1, m.BroadcastToMachine(context.Background(), 7, sampleEvent(7)))
	event := readJSON()
	assert.Equal(t, TypeAnomalyDetected, event["type"])

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !m.IsConnected("dash-1") }, 5*time.Second, 20*time.Millisecond)
	assert.Empty(t, m.WatchedMachines())
}
