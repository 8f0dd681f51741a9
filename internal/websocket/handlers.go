package websocket

import (
	"relay-service/internal/origin"

	"github.com/gorilla/websocket"
)

// NewUpgrader returns an upgrader that admits browser origins matching
// allowed.
func NewUpgrader(allowed *origin.Matcher) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     allowed.CheckOrigin,
	}
}
