package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/psds-microservice/call-relay-service/internal/errs"
	"github.com/psds-microservice/call-relay-service/internal/model"
	"github.com/psds-microservice/call-relay-service/internal/service"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Gateway is what the WebSocket handler needs from the coordinator.
type Gateway interface {
	NewSession(remoteAddr string) *service.Session
	Connect(s *service.Session) error
	Disconnect(s *service.Session)
	Submit(s *service.Session, env *model.Envelope) error
}

// ChatWSHandler handles WebSocket connections on /ws.
type ChatWSHandler struct {
	hub        Gateway
	upgrader   websocket.Upgrader
	maxMsgSize int64
	logger     *zap.Logger
}

// NewChatWSHandler creates the WebSocket handler.
func NewChatWSHandler(hub Gateway, readBuf, writeBuf int, maxMessageSize int64, logger *zap.Logger) *ChatWSHandler {
	return &ChatWSHandler{
		hub:        hub,
		maxMsgSize: maxMessageSize,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			// Pages are served by an external web server on another origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and runs the session until the connection drops.
// Identity is bound later by a login event, not by the URL.
func (h *ChatWSHandler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	if h.maxMsgSize > 0 {
		conn.SetReadLimit(h.maxMsgSize)
	}

	sess := h.hub.NewSession(conn.RemoteAddr().String())
	if err := h.hub.Connect(sess); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		_ = conn.Close()
		return
	}

	go h.writePump(conn, sess)
	h.readPump(conn, sess)
}

func (h *ChatWSHandler) readPump(conn *websocket.Conn, s *service.Session) {
	defer func() {
		h.hub.Disconnect(s)
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env model.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				h.logger.Warn("frame exceeds WS_MAX_MESSAGE_SIZE, closing session",
					zap.String("session_id", s.ID), zap.Int64("limit", h.maxMsgSize))
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Debug("read error", zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}
		if env.Type == "" {
			h.logger.Debug("event without type dropped", zap.String("session_id", s.ID))
			continue
		}
		if err := h.hub.Submit(s, &env); err != nil {
			if !errors.Is(err, errs.ErrHubStopped) {
				h.logger.Warn("submit failed", zap.Error(err))
			}
			return
		}
	}
}

// writePump is the only writer on conn. It exits when the hub closes s.Send.
func (h *ChatWSHandler) writePump(conn *websocket.Conn, s *service.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case env, ok := <-s.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				h.logger.Debug("write error", zap.String("session_id", s.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
