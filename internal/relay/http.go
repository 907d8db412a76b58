package relay

import (
	"net/http"
	"strings"

	"live-interview-chat/backend/pkg/errors"
	"live-interview-chat/backend/pkg/ws"

	"github.com/gin-gonic/gin"
)

// Handler exposes the relay over HTTP for instances (or sidecars) that
// cannot reach redis directly. Requests carry a shared bearer token.
type Handler struct {
	relay *Relay
	token string
}

// NewHandler creates the HTTP relay surface. An empty token disables it.
func NewHandler(relay *Relay, token string) *Handler {
	return &Handler{relay: relay, token: token}
}

// Submit handles POST /internal/relay: authenticate, validate and fan the
// event out to locally connected clients.
func (h *Handler) Submit(c *gin.Context) {
	if h.token == "" {
		c.Error(errors.NewPermissionError("RELAY_DISABLED", "Relay endpoint is not configured"))
		return
	}
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != h.token {
		c.Error(errors.NewAuthError("BAD_RELAY_TOKEN", "Invalid relay token"))
		return
	}

	var req ws.RelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError("BAD_PAYLOAD", "Malformed relay request"))
		return
	}
	if req.RoomID == "" {
		c.Error(errors.NewValidationError("ROOM_REQUIRED", "room_id is required"))
		return
	}

	delivered, ok := h.relay.Deliver(req)
	if !ok {
		c.Error(errors.NewValidationError("BAD_KIND", "Unknown relay event type"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}
