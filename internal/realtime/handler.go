package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/septivank/machine-telemetry-worker/internal/config"
	"github.com/septivank/machine-telemetry-worker/internal/logging"
	"go.uber.org/zap"
)

// Handler upgrades HTTP requests to realtime sessions
type Handler struct {
	manager  *Manager
	upgrader websocket.Upgrader
	cfg      config.WebSocketConfig
	logger   *zap.Logger
}

// NewHandler creates a websocket upgrade handler
func NewHandler(manager *Manager, cfg config.WebSocketConfig, logger *zap.Logger) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		cfg:    cfg,
		logger: logger,
	}
}

// ServeHTTP accepts ?client_id= and ?user_id=. A missing client id is
// generated so that every session has one.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	userID := r.URL.Query().Get("user_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("client_id", clientID))
		return
	}

	clientLogger := logging.WithClientID(h.logger, clientID)
	client := NewClient(conn, h.cfg.SendBuffer, h.cfg.MaxMessageSize, clientLogger)
	handle := h.manager.Connect(clientID, userID, client)

	go client.WritePump()

	// the request context ends with ServeHTTP; the session outlives it
	ctx := context.WithoutCancel(r.Context())
	_ = h.manager.SendToClient(ctx, clientID, ConnectionEstablished{
		Type:      TypeConnectionEstablished,
		ClientID:  clientID,
		Timestamp: time.Now().UTC(),
	})

	go client.ReadPump(ctx, h.manager, handle)
}
