package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket relays one user's trade/order/position notifications. The
// user id comes from the JWT (AuthMiddleware, if mounted ahead of this
// route) or, failing that, a user_id query parameter — the same
// fallback TradingView-style embedded dashboards rely on since they
// cannot attach an Authorization header to a WebSocket handshake.
func (s *Server) websocket(c *gin.Context) {
	userID := CurrentUserID(c)
	if userID == "" {
		userID = c.Query("user_id")
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Notify == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"notifications not ready"}`))
		return
	}

	stream, unsub := s.Notify.Subscribe(userID, 100)
	defer unsub()

	for msg := range stream {
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
