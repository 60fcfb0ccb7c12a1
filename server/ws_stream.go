package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"hlsrelay/logger"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteWait = 10 * time.Second

// websocketBase 将 http(s) 前缀转换为 ws(s)
func websocketBase(publicBaseURL string) string {
	switch {
	case strings.HasPrefix(publicBaseURL, "https://"):
		return "wss://" + strings.TrimPrefix(publicBaseURL, "https://")
	case strings.HasPrefix(publicBaseURL, "http://"):
		return "ws://" + strings.TrimPrefix(publicBaseURL, "http://")
	default:
		return publicBaseURL
	}
}

// wsSink sends every chunk it receives as one binary message.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Write(p []byte) (int, error) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WebSocketStreamHandler redeems a signed /ws/stream link. The manifest is
// fetched before upgrading so resolution failures still get an HTTP status.
// Segment bytes follow as binary messages, then a "done" text message.
func (h *APIHandler) WebSocketStreamHandler(w http.ResponseWriter, r *http.Request) {
	sr, _ := SignedRequestFromContext(r.Context())
	locator, ok := sr.Params.Get(paramURL)
	if !ok || locator == "" {
		writeError(w, r, errMissingParam)
		return
	}

	m, err := h.fetcher.Fetch(r.Context(), locator)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 读循环只用于发现客户端断开
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	reqID := RequestIDFromContext(r.Context())
	written, err := h.assembler.Assemble(ctx, m, &wsSink{conn: conn})
	deadline := time.Now().Add(wsWriteWait)
	if err != nil {
		logger.Warn("websocket 推流中断",
			logger.String("request_id", reqID),
			logger.Int64("bytes", written),
			logger.ErrorField(err))
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "segment fetch failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		return
	}

	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("done")); err != nil {
		logger.Warn("websocket write", logger.ErrorField(err))
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
