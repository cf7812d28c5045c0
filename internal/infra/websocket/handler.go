package websocket

import (
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/openctemio/docflow/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers on other origins may follow workflows; groups carry no secrets.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests to hub connections.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler returns a Handler serving hub.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: log,
	}
}

// ServeWS upgrades GET /ws and attaches the connection to the hub.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		return
	}

	client := newClient(h.hub, conn, clientAddr(r), h.logger)
	if !h.hub.attach(client) {
		client.goingAway()
		return
	}
	h.logger.Debug("websocket client connected",
		"client_id", client.ID,
		"remote_addr", client.Addr,
	)

	go client.writeLoop()
	go client.readLoop()
}

// clientAddr strips the port. RealIP middleware may already have done so.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
