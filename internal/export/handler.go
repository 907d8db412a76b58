package export

import (
	"net/http"
	"time"

	"live-interview-chat/backend/pkg/errors"
	"live-interview-chat/backend/pkg/jwt"
	"live-interview-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Handler is the HTTP surface for exports: generation for clients that are
// not on a socket, plus artifact download for both.
type Handler struct {
	service *Service
}

// NewHandler creates the export HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the export endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/exports/room", h.CreateRoomExport)
	rg.POST("/exports/private", h.CreatePrivateExport)
	rg.POST("/exports/moderation", h.CreateModerationExport)
	rg.GET("/exports/:id", h.Download)
}

type exportRequest struct {
	RoomID         string    `json:"room_id"`
	Identity       string    `json:"identity"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	Format         string    `json:"format"`
	IncludeDeleted bool      `json:"include_deleted"`
}

func (h *Handler) CreateRoomExport(c *gin.Context) {
	claims, req, ok := h.bind(c)
	if !ok {
		return
	}
	artifact, err := h.service.ExportRoomChat(claims.UserID, claims.Role,
		req.RoomID, req.From, req.To, Format(req.Format), req.IncludeDeleted)
	if err != nil {
		c.Error(err)
		return
	}
	h.respond(c, artifact)
}

func (h *Handler) CreatePrivateExport(c *gin.Context) {
	claims, req, ok := h.bind(c)
	if !ok {
		return
	}
	artifact, err := h.service.ExportPrivateMessages(claims.UserID, claims.Role,
		req.Identity, req.From, req.To, Format(req.Format))
	if err != nil {
		c.Error(err)
		return
	}
	h.respond(c, artifact)
}

func (h *Handler) CreateModerationExport(c *gin.Context) {
	claims, req, ok := h.bind(c)
	if !ok {
		return
	}
	artifact, err := h.service.ExportModerationLog(claims.UserID, claims.Role,
		req.RoomID, req.From, req.To, Format(req.Format))
	if err != nil {
		c.Error(err)
		return
	}
	h.respond(c, artifact)
}

// Download streams the artifact bytes with attachment headers.
func (h *Handler) Download(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.Error(errors.NewAuthError("AUTH_REQUIRED", "Authentication required"))
		return
	}

	artifact, err := h.service.Fetch(c.Param("id"), claims.UserID)
	if err != nil {
		c.Error(err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+artifact.FileName+`"`)
	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}

func (h *Handler) bind(c *gin.Context) (*jwt.Claims, *exportRequest, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.Error(errors.NewAuthError("AUTH_REQUIRED", "Authentication required"))
		return nil, nil, false
	}
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError("BAD_PAYLOAD", "Malformed export request"))
		return nil, nil, false
	}
	return claims, &req, true
}

func (h *Handler) respond(c *gin.Context, artifact *Artifact) {
	c.JSON(http.StatusCreated, gin.H{
		"artifact_id":  artifact.ID,
		"kind":         artifact.Kind,
		"format":       artifact.Format,
		"record_count": artifact.RecordCount,
		"size_bytes":   artifact.SizeBytes,
		"expires_at":   artifact.ExpiresAt,
		"download_url": "/api/v1/exports/" + artifact.ID,
	})
}
