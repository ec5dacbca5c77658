package api

import (
	"encoding/json"
	"net/http"
	"sync"

	iface "SketchDetect/interface"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn serialises writes; the release hook writes from another goroutine.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsConn) close(reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	_ = w.conn.Close()
}

// stream accepts pointer events as JSON text frames. Only failures are
// answered. A dropped connection ends any open stroke but keeps the session.
func (s *Server) stream(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.mgr.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the response
		return
	}
	conn := &wsConn{conn: raw}
	raw.SetReadLimit(64 * 1024)
	if !sess.OnRelease(func() { conn.close("session released") }) {
		// released between lookup and handshake
		conn.close("session released")
		return
	}

	for {
		mt, msg, err := raw.ReadMessage()
		if err != nil {
			_ = sess.Pointer(iface.PointerEvent{Type: "mouseup"})
			s.log.Debug("stream closed", zap.String("sessionID", id), zap.Error(err))
			return
		}
		if mt != websocket.TextMessage {
			_ = conn.writeJSON(gin.H{"error": "unsupported message type"})
			continue
		}
		var ev iface.PointerEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			_ = conn.writeJSON(gin.H{"error": "invalid event: " + err.Error()})
			continue
		}
		if err := sess.Pointer(ev); err != nil {
			_ = conn.writeJSON(gin.H{"error": err.Error()})
		}
	}
}
