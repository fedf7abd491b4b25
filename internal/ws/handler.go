package ws

import (
	"net/http"

	"qafala_backend/internal/logger"
	"qafala_backend/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// HandleStock upgrades to the live stock feed. The token query parameter
// is optional; when given it must be valid. ?drop= limits the feed to one
// drop.
func HandleStock(hub *Hub, allowedOrigin string) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}

	return func(c *gin.Context) {
		var userID int64
		if token := c.Query("token"); token != "" {
			id, err := service.ParseJWT(token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			userID = id
		}

		var dropID *uuid.UUID
		if raw := c.Query("drop"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid drop id"})
				return
			}
			dropID = &id
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("ws upgrade error", "error", err)
			return
		}

		client := NewClient(userID, dropID, conn, hub)
		go client.Run()
	}
}
