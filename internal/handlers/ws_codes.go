// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes used by the room handler.
const (
	ServerStoppedError websocket.StatusCode = 3000 // The room server loop has exited.
	JoinRejectedError  websocket.StatusCode = 3001 // The join could not be completed.
)
