package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"live-interview-chat/backend/internal/export"
	"live-interview-chat/backend/internal/models"
	"live-interview-chat/backend/internal/moderation"
	"live-interview-chat/backend/internal/pipeline"
	"live-interview-chat/backend/internal/private"
	"live-interview-chat/backend/internal/repository"
	"live-interview-chat/backend/internal/room"
	"live-interview-chat/backend/internal/textproc"
	"live-interview-chat/backend/pkg/errors"
	"live-interview-chat/backend/pkg/logger"
	"live-interview-chat/backend/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// RelayPublisher forwards room events to the other instances of the
// cluster. A nil publisher means single-instance operation.
type RelayPublisher interface {
	Publish(roomID string, kind ws.RelayKind, payload any)
}

// Config tunes the socket handler.
type Config struct {
	AllowedOrigins  []string
	SendBuffer      int
	HistorySnapshot int
}

// Handler owns the websocket surface: it upgrades connections, runs the
// pumps and dispatches inbound envelopes to the domain services.
type Handler struct {
	cfg      Config
	registry *room.Registry
	pipeline *pipeline.Pipeline
	engine   *moderation.Engine
	private  *private.Service
	exports  *export.Service
	messages repository.MessageRepository
	emoji    *textproc.EmojiExpander
	relay    RelayPublisher
	log      *logger.Logger

	upgrader websocket.Upgrader
}

// NewHandler wires the socket handler to the domain services. relay may be
// nil when no cross-instance fanout is configured.
func NewHandler(
	cfg Config,
	registry *room.Registry,
	pipe *pipeline.Pipeline,
	engine *moderation.Engine,
	privateSvc *private.Service,
	exports *export.Service,
	messages repository.MessageRepository,
	emoji *textproc.EmojiExpander,
	relay RelayPublisher,
	log *logger.Logger,
) *Handler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.HistorySnapshot <= 0 {
		cfg.HistorySnapshot = 50
	}
	h := &Handler{
		cfg:      cfg,
		registry: registry,
		pipeline: pipe,
		engine:   engine,
		private:  privateSvc,
		exports:  exports,
		messages: messages,
		emoji:    emoji,
		relay:    relay,
		log:      log,
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeWs upgrades the request and starts the client pumps.
func (h *Handler) ServeWs(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}
	conn.EnableWriteCompression(true)

	client := &Client{
		conn:    conn,
		send:    make(chan []byte, h.cfg.SendBuffer),
		handler: h,
	}
	client.state = h.registry.OnConnect(client)

	go client.writePump()
	go client.readPump()
}

func (h *Handler) dispatch(c *Client, data []byte) {
	var env ws.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.sendError(c, errors.NewValidationError("BAD_ENVELOPE", "Malformed message envelope"))
		return
	}

	var err error
	switch env.Type {
	case ws.EventAuth:
		err = h.handleAuth(c, env.Payload)
	case ws.EventJoinRoom:
		err = h.handleJoin(c, env.Payload)
	case ws.EventLeaveRoom:
		err = h.registry.LeaveRoom(c.state)
	case ws.EventMessage:
		err = h.handleMessage(c, env.Payload)
	case ws.EventTyping:
		err = h.handleTyping(c)
	case ws.EventPing:
		h.registry.Touch(c.state)
		c.reply(ws.EventPong, nil)
	case ws.EventReaction:
		err = h.handleReaction(c, env.Payload)
	case ws.EventPrivateMessage:
		err = h.handlePrivateMessage(c, env.Payload)
	case ws.EventPrivateHistory:
		err = h.handlePrivateHistory(c, env.Payload)
	case ws.EventPrivateRead:
		err = h.handlePrivateRead(c, env.Payload)
	case ws.EventPrivateDelete:
		err = h.handlePrivateDelete(c, env.Payload)
	case ws.EventBlockUser:
		err = h.handleBlock(c, env.Payload, true)
	case ws.EventUnblockUser:
		err = h.handleBlock(c, env.Payload, false)
	case ws.EventAppealSubmit:
		err = h.handleAppealSubmit(c, env.Payload)
	case ws.EventAppealResolve:
		err = h.handleAppealResolve(c, env.Payload)
	case ws.EventExportRoom, ws.EventExportPrivate, ws.EventExportModeration:
		err = h.handleExport(c, env.Type, env.Payload)
	default:
		err = errors.NewValidationError("UNKNOWN_EVENT", "Unknown event type")
	}

	if err != nil {
		h.sendError(c, err)
	}
}

func (h *Handler) handleAuth(c *Client, payload json.RawMessage) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.NewValidationError("BAD_PAYLOAD", "Malformed auth payload")
	}

	claims, err := h.registry.Authenticate(c.state, req.Token)
	if err != nil {
		return err
	}

	c.reply(ws.EventAuthenticated, ws.Member{
		Identity:    claims.UserID,
		DisplayName: claims.DisplayName,
		Role:        string(claims.Role),
	})
	return nil
}

func (h *Handler) handleJoin(c *Client, payload json.RawMessage) error {
	var req struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.NewValidationError("BAD_PAYLOAD", "Malformed join payload")
	}

	state := h.registry.SnapshotOf(c.state)
	if state.Authenticated() {
		if err := h.engine.CheckJoin(state.Identity, req.RoomID); err != nil {
			return err
		}
	}

	members, err := h.registry.JoinRoom(c.state, req.RoomID)
	if err != nil {
		return err
	}

	c.reply(ws.EventJoined, map[string]any{
		"room_id": req.RoomID,
		"members": members,
	})

	// Recent history so the joiner has context before live traffic.
	if recent, err := h.messages.RecentByRoom(req.RoomID, h.cfg.HistorySnapshot); err != nil {
		h.log.LogError(err, "history snapshot failed", "room_id", req.RoomID)
	} else if len(recent) > 0 {
		c.reply(ws.EventChatHistory, map[string]any{"messages": recent})
	}

	h.publishRelay(req.RoomID, ws.RelayUserJoined, ws.Member{
		Identity:    state.Identity,
		DisplayName: state.DisplayName,
		Role:        string(state.Role),
	})
	return nil
}

func (h *Handler) handleMessage(c *Client, payload json.RawMessage) error {
	var req struct {
		Content string             `json:"content"`
		Type    models.MessageType `json:"message_type"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.NewValidationError("BAD_PAYLOAD", "Malformed message payload")
	}

	result, err := h.pipeline.HandleChat(c.state, req.Content, req.Type)
	if err != nil {
		return err
	}

	if result.Command != nil {
		c.reply(ws.EventCommandResult, map[string]any{"reply": result.Command.Reply})
		return nil
	}

	h.publishRelay(result.Message.RoomID, ws.RelayMessage, result.Message)
	return nil
}

func (h *Handler) handleTyping(c *Client) error {
	state := h.registry.SnapshotOf(c.state)
	if state.RoomID == "" {
		return errors.NewStateError("NOT_IN_ROOM", "Join a room first")
	}
	payload := map[string]any{
		"identity":     state.Identity,
		"display_name": state.DisplayName,
	}
	h.registry.BroadcastEvent(state.RoomID, ws.EventTyping, payload, state.Identity)
	h.publishRelay(state.RoomID, ws.RelayTyping, payload)
	return nil
}

func (h *Handler) handleReaction(c *Client, payload json.RawMessage) error {
	var req struct {
		MessageID string `json:"message_id"`
		Shortcode string `json:"shortcode"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.NewValidationError("BAD_PAYLOAD", "Malformed reaction payload")
	}
	state := h.registry.SnapshotOf(c.state)
	if state.RoomID == "" {
		return errors.NewStateError("NOT_IN_ROOM", "Join a room first")
	}

	glyph, ok := h.emoji.Lookup(req.Shortcode)
	if !ok {
		return errors.NewValidationError("UNKNOWN_EMOJI", "Unknown emoji shortcode")
	}

	h.registry.BroadcastEvent(state.RoomID, ws.EventReaction, map[string]any{
		"message_id": req.MessageID,
		"shortcode":  req.Shortcode,
		"emoji":      glyph,
		"identity":   state.Identity,
	}, "")
	return nil
}

func (h *Handler) handlePrivateMessage(c *Client, payload json.RawMessage) error {
	state := h.registry.SnapshotOf(c.state)
	if !state.Authenticated() {
		return errors.NewStateError("NOT_AUTHENTICATED", "Authenticate first")
	}
	var req struct {
		RecipientID string `json:"recipient_id"`
		Content     string `json:"content"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.NewValidationError("BAD_PAYLOAD", "Malformed private message payload")
	}

	delivery, err := h.private.Send(state.Identity, state.DisplayName, req.RecipientID, req.Content)
	if err != nil {
		return err
	}
	c.reply(ws.EventPrivateAck, delivery)
	return nil
}

func (h *Handler) handlePrivateHistory(c *Client, payload json.RawMessage) error {
	state := h.registry.SnapshotOf(c.state)
	if !state.Authenticated() {
		return errors.NewStateError("NOT_AUTHENTICATED", "Authenticate first")
	}
	var req struct {
		OtherID string     `json:"other_id"`
		Limit   int        `json:"limit"`
		Offset  int        `json:"offset"`
		Before  *time.Time `json:"before,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.NewValidationError("BAD_PAYLOAD", "Malformed history payload")
	}

	if req.Before != nil {
		messages, err := h.private.HistoryBefore(state.Identity, req.OtherID, *req.Before, req.Limit)
		if err != nil {
			return err
		}
		c.reply(ws.EventPrivateHistory, map[string]any{"messages": messages})
		return nil
	}

	page, err := h.private.History(state.Identity, req.OtherID, req.Limit, req.Offset)
	if err != nil {
		return err
	}
	c.reply(ws.EventPrivateHistory, page)
	return nil
}

func (h *Handler) handlePrivateRead(c *Client, payload json.RawMessage) error {
	state := h.registry.SnapshotOf(c.state)
	if !state.Authenticated() {
		return errors.NewStateError("NOT_AUTHENTICATED", "Authenticate first")
	}
	var req struct {
		OtherID string `json:"other_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.NewValidationError("BAD_PAYLOAD", "Malformed read payload")
	}

	marked, err := h.private.MarkRead(state.Identity, req.OtherID)
	if err != nil {
		return err
	}
	c.reply(ws.EventPrivateRead, map[string]any{"marked": marked})
	return nil
}

func (h *Handler) handlePrivateDelete(c *Client, payload json.RawMessage) error {
	state := h.registry.SnapshotOf(c.state)
	if !state.Authenticated() {
		return errors.NewStateError("NOT_AUTHENTICATED", "Authenticate first")
	}
	var req struct {
		MessageID uint   `json:"message_id"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.NewValidationError("BAD_PAYLOAD", "Malformed delete payload")
	}

	if err := h.private.Delete(state.Identity, state.Role, req.MessageID, req.Reason); err != nil {
		return err
	}
	c.reply(ws.EventPrivateDelete, map[string]any{"message_id": req.MessageID, "deleted": true})
	return nil
}

func (h *Handler) handleBlock(c *Client, payload json.RawMessage, block bool) error {
	state := h.registry.SnapshotOf(c.state)
	if !state.Authenticated() {
		return errors.NewStateError("NOT_AUTHENTICATED", "Authenticate first")
	}
	var req struct {
		Identity string `json:"identity"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.NewValidationError("BAD_PAYLOAD", "Malformed block payload")
	}

	var err error
	eventType := ws.EventBlockUser
	if block {
		err = h.private.Block(state.Identity, req.Identity)
	} else {
		err = h.private.Unblock(state.Identity, req.Identity)
		eventType = ws.EventUnblockUser
	}
	if err != nil {
		return err
	}
	c.reply(eventType, map[string]any{"identity": req.Identity})
	return nil
}

func (h *Handler) handleAppealSubmit(c *Client, payload json.RawMessage) error {
	state := h.registry.SnapshotOf(c.state)
	if !state.Authenticated() {
		return errors.NewStateError("NOT_AUTHENTICATED", "Authenticate first")
	}
	var req struct {
		ViolationID string `json:"violation_id"`
		Reason      string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.NewValidationError("BAD_PAYLOAD", "Malformed appeal payload")
	}

	appeal, err := h.engine.SubmitAppeal(state.Identity, req.ViolationID, req.Reason)
	if err != nil {
		return err
	}
	c.reply(ws.EventAppealSubmit, appeal)
	return nil
}

func (h *Handler) handleAppealResolve(c *Client, payload json.RawMessage) error {
	state := h.registry.SnapshotOf(c.state)
	if !state.Authenticated() {
		return errors.NewStateError("NOT_AUTHENTICATED", "Authenticate first")
	}
	var req struct {
		AppealID string `json:"appeal_id"`
		Approve  bool   `json:"approve"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.NewValidationError("BAD_PAYLOAD", "Malformed appeal payload")
	}

	actor := moderation.Actor{ID: state.Identity, Role: state.Role}
	appeal, err := h.engine.ResolveAppeal(actor, req.AppealID, req.Approve, req.Reason)
	if err != nil {
		return err
	}
	c.reply(ws.EventAppealResolve, appeal)
	return nil
}

func (h *Handler) handleExport(c *Client, eventType ws.EventType, payload json.RawMessage) error {
	state := h.registry.SnapshotOf(c.state)
	if !state.Authenticated() {
		return errors.NewStateError("NOT_AUTHENTICATED", "Authenticate first")
	}
	var req struct {
		RoomID         string    `json:"room_id"`
		Identity       string    `json:"identity"`
		From           time.Time `json:"from"`
		To             time.Time `json:"to"`
		Format         string    `json:"format"`
		IncludeDeleted bool      `json:"include_deleted"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.NewValidationError("BAD_PAYLOAD", "Malformed export payload")
	}

	var artifact *export.Artifact
	var err error
	switch eventType {
	case ws.EventExportRoom:
		artifact, err = h.exports.ExportRoomChat(state.Identity, state.Role,
			req.RoomID, req.From, req.To, export.Format(req.Format), req.IncludeDeleted)
	case ws.EventExportPrivate:
		artifact, err = h.exports.ExportPrivateMessages(state.Identity, state.Role,
			req.Identity, req.From, req.To, export.Format(req.Format))
	case ws.EventExportModeration:
		artifact, err = h.exports.ExportModerationLog(state.Identity, state.Role,
			req.RoomID, req.From, req.To, export.Format(req.Format))
	}
	if err != nil {
		return err
	}

	c.reply(ws.EventExportReady, map[string]any{
		"artifact_id":  artifact.ID,
		"kind":         artifact.Kind,
		"format":       artifact.Format,
		"record_count": artifact.RecordCount,
		"size_bytes":   artifact.SizeBytes,
		"expires_at":   artifact.ExpiresAt,
		"download_url": "/api/v1/exports/" + artifact.ID,
	})
	return nil
}

func (h *Handler) publishRelay(roomID string, kind ws.RelayKind, payload any) {
	if h.relay == nil {
		return
	}
	h.relay.Publish(roomID, kind, payload)
}

func (h *Handler) sendError(c *Client, err error) {
	appErr := errors.FromError(err)
	c.reply(ws.EventError, appErr)
}
