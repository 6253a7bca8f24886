package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // OnlyAllowLocal already restricts to localhost
	},
}

// Message types on the speed test stream.
const (
	MessageEvent  = "event"
	MessageResult = "result"
	MessageError  = "error"
)

// StreamMessage is one frame of GET /api/speedtest/ws.
type StreamMessage struct {
	Type   string             `json:"type"`
	Event  *model.SpeedEvent  `json:"event,omitempty"`
	Result *model.SpeedResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
	Code   int                `json:"code,omitempty"`
}

type streamWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *streamWriter) send(msg StreamMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// speedTestWS runs a speed test and streams its events, then the result
// or the error, and closes the socket. Closing the socket from the
// client side cancels the run.
func (h *handlers) speedTestWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	w := &streamWriter{conn: conn}
	result, err := h.svc.RunSpeedTest(ctx, func(ev model.SpeedEvent) {
		if err := w.send(StreamMessage{Type: MessageEvent, Event: &ev}); err != nil {
			util.Debug("Speed test stream write: %v", err)
		}
	})
	if err != nil {
		_ = w.send(StreamMessage{Type: MessageError, Error: err.Error(), Code: statusFor(err)})
	} else {
		_ = w.send(StreamMessage{Type: MessageResult, Result: result})
	}

	w.mu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.mu.Unlock()
}
