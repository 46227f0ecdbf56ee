package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, code, errMsg string, fields map[string]string) error {
	return WriteTyped(conn, ErrorResponse{
		Event:  EventError,
		Code:   code,
		Error:  errMsg,
		Fields: fields,
	})
}

// ReadMessage reads one raw frame. It sets a read deadline that a heartbeat
// cadence must beat.
func ReadMessage(conn *websocket.Conn, idle time.Duration) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(idle))
	_, data, err := conn.ReadMessage()
	return data, err
}
