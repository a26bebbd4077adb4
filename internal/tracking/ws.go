package tracking

import (
	"errors"
	"net/http"
	"time"

	"github.com/floratech/rose-counter/internal/shared"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait       = 10 * time.Second
	maxFrameMessage = 8 * 1024 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StreamSocket is the websocket variant of the frame endpoint: the client
// sends one frame per message and reads the result before sending the
// next. The single read loop enforces the one-in-flight-frame contract.
func (h *Handler) StreamSocket(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		sessionID = c.Request().Header.Get(sessionHeader)
	}
	if sessionID == "" {
		return shared.BadRequest("missing_session_id", "Missing session ID")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return err
	}
	defer ws.Close()

	ws.SetReadLimit(maxFrameMessage)
	ctx := c.Request().Context()

	for {
		msgType, msg, err := ws.ReadMessage()
		if err != nil {
			return nil
		}

		var frame []byte
		switch msgType {
		case websocket.TextMessage:
			frame, err = decodeFrame(string(msg))
		case websocket.BinaryMessage:
			frame, err = validateFrame(msg)
		default:
			continue
		}
		if err != nil {
			if werr := h.writeSocket(ws, wsError{Status: "error", Message: "frame could not be decoded"}); werr != nil {
				return nil
			}
			continue
		}

		result, err := h.coordinator.ProcessFrame(ctx, sessionID, frame)
		if err != nil {
			if errors.Is(err, shared.ErrSessionNotFound) {
				h.writeSocket(ws, wsError{Status: "error", Message: "session not found or expired"})
				return nil
			}
			h.logger.Error("websocket frame failed", "session_id", sessionID, "error", err)
			if werr := h.writeSocket(ws, wsError{Status: "error", Message: "processing error"}); werr != nil {
				return nil
			}
			continue
		}

		if err := h.writeSocket(ws, frameResponse(result)); err != nil {
			return nil
		}
	}
}

func (h *Handler) writeSocket(ws *websocket.Conn, v any) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(v)
}
