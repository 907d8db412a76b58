package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"live-interview-chat/backend/internal/models"
	"live-interview-chat/backend/internal/repository"
	"live-interview-chat/backend/pkg/cache"
	"live-interview-chat/backend/pkg/errors"
	"live-interview-chat/backend/pkg/jwt"
	"live-interview-chat/backend/pkg/logger"

	"github.com/google/uuid"
)

// Format selects the artifact encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Kind names what an artifact contains.
type Kind string

const (
	KindRoomChat   Kind = "room_chat"
	KindPrivate    Kind = "private_messages"
	KindModeration Kind = "moderation_log"
)

// AuditSource supplies the moderation audit log for exports.
type AuditSource interface {
	QueryAudit(roomID string, from, to time.Time, limit int) ([]models.AuditEntry, error)
}

// Artifact is a generated export held in memory until its TTL lapses.
type Artifact struct {
	ID          string    `json:"artifact_id"`
	Kind        Kind      `json:"kind"`
	Format      Format    `json:"format"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"-"`
	RecordCount int       `json:"record_count"`
	SizeBytes   int       `json:"size_bytes"`
	RequestedBy string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Config tunes export generation.
type Config struct {
	ArtifactTTL time.Duration
	MaxRecords  int
}

// DefaultConfig returns the default export tuning.
func DefaultConfig() Config {
	return Config{
		ArtifactTTL: 15 * time.Minute,
		MaxRecords:  10000,
	}
}

// Service generates downloadable exports of room chat, private messages and
// moderation logs. Artifacts live in an in-memory TTL store; downloads are
// restricted to the identity that requested them.
type Service struct {
	cfg       Config
	messages  repository.MessageRepository
	private   repository.PrivateRepository
	audit     AuditSource
	artifacts *cache.Cache
	log       *logger.Logger

	now func() time.Time
}

// NewService creates the export service.
func NewService(cfg Config, messages repository.MessageRepository, private repository.PrivateRepository, audit AuditSource, log *logger.Logger) *Service {
	if cfg.ArtifactTTL <= 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		cfg:       cfg,
		messages:  messages,
		private:   private,
		audit:     audit,
		artifacts: cache.NewCache(cfg.ArtifactTTL, time.Minute, 0),
		log:       log,
		now:       time.Now,
	}
}

// ExportRoomChat generates an export of a room's chat log. Hosts and
// moderators only; includeDeleted additionally requires a moderator-capable
// role, which hosts have.
func (s *Service) ExportRoomChat(actorID string, actorRole jwt.Role, roomID string, from, to time.Time, format Format, includeDeleted bool) (*Artifact, error) {
	if !actorRole.CanModerate() {
		return nil, errors.NewPermissionError("MODERATOR_REQUIRED", "Only hosts and moderators may export room chat")
	}
	if roomID == "" {
		return nil, errors.NewValidationError("ROOM_REQUIRED", "room_id is required")
	}
	format, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}

	records, err := s.messages.ByRoomWindow(roomID, from, to, includeDeleted, s.cfg.MaxRecords)
	if err != nil {
		return nil, errors.NewPersistenceError("EXPORT_QUERY_FAILED", "Could not read the chat log")
	}

	var data []byte
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(records, "", "  ")
	case FormatCSV:
		data, err = chatCSV(records)
	}
	if err != nil {
		return nil, errors.NewInternalServerError("EXPORT_ENCODE_FAILED", "Could not encode the export")
	}

	return s.store(KindRoomChat, format, actorID, len(records),
		fmt.Sprintf("room-%s-chat.%s", roomID, format), data), nil
}

// ExportPrivateMessages generates an export of every private message the
// identity sent or received. Identities may export their own messages;
// admins may export anyone's.
func (s *Service) ExportPrivateMessages(actorID string, actorRole jwt.Role, identity string, from, to time.Time, format Format) (*Artifact, error) {
	if identity == "" {
		identity = actorID
	}
	if identity != actorID && actorRole != jwt.RoleAdmin {
		return nil, errors.NewPermissionError("NOT_OWN_MESSAGES", "Only your own private messages can be exported")
	}
	format, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}

	records, err := s.private.MessagesByParticipant(identity, from, to, s.cfg.MaxRecords)
	if err != nil {
		return nil, errors.NewPersistenceError("EXPORT_QUERY_FAILED", "Could not read the private messages")
	}

	var data []byte
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(records, "", "  ")
	case FormatCSV:
		data, err = privateCSV(records)
	}
	if err != nil {
		return nil, errors.NewInternalServerError("EXPORT_ENCODE_FAILED", "Could not encode the export")
	}

	return s.store(KindPrivate, format, actorID, len(records),
		fmt.Sprintf("private-%s.%s", identity, format), data), nil
}

// ExportModerationLog generates an export of the moderation audit log for a
// room (or globally with an empty roomID). Moderator roles only.
func (s *Service) ExportModerationLog(actorID string, actorRole jwt.Role, roomID string, from, to time.Time, format Format) (*Artifact, error) {
	if !actorRole.CanModerate() {
		return nil, errors.NewPermissionError("MODERATOR_REQUIRED", "Only moderators may export moderation logs")
	}
	format, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}

	records, err := s.audit.QueryAudit(roomID, from, to, s.cfg.MaxRecords)
	if err != nil {
		return nil, errors.NewPersistenceError("EXPORT_QUERY_FAILED", "Could not read the audit log")
	}

	var data []byte
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(records, "", "  ")
	case FormatCSV:
		data, err = auditCSV(records)
	}
	if err != nil {
		return nil, errors.NewInternalServerError("EXPORT_ENCODE_FAILED", "Could not encode the export")
	}

	name := "moderation-log." + string(format)
	if roomID != "" {
		name = fmt.Sprintf("room-%s-moderation.%s", roomID, format)
	}
	return s.store(KindModeration, format, actorID, len(records), name, data), nil
}

// Fetch returns a stored artifact. Only the requesting identity may fetch
// it; an expired or unknown ID yields the same error either way.
func (s *Service) Fetch(artifactID, actorID string) (*Artifact, error) {
	value, ok := s.artifacts.Get(artifactID)
	if !ok {
		return nil, errors.NewValidationError("UNKNOWN_ARTIFACT", "Export not found or expired")
	}
	artifact := value.(*Artifact)
	if artifact.RequestedBy != actorID {
		return nil, errors.NewValidationError("UNKNOWN_ARTIFACT", "Export not found or expired")
	}
	return artifact, nil
}

func (s *Service) store(kind Kind, format Format, actorID string, count int, fileName string, data []byte) *Artifact {
	now := s.now()
	artifact := &Artifact{
		ID:          uuid.New().String(),
		Kind:        kind,
		Format:      format,
		FileName:    fileName,
		ContentType: contentType(format),
		Data:        data,
		RecordCount: count,
		SizeBytes:   len(data),
		RequestedBy: actorID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.ArtifactTTL),
	}
	s.artifacts.SetWithExpiration(artifact.ID, artifact, s.cfg.ArtifactTTL)

	s.log.Info("export generated",
		"kind", string(kind),
		"format", string(format),
		"records", count,
		"bytes", artifact.SizeBytes,
		"requested_by", actorID,
	)
	return artifact
}

func normalizeFormat(format Format) (Format, error) {
	switch format {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", errors.NewValidationError("BAD_FORMAT", "Format must be json or csv")
	}
}

func contentType(format Format) string {
	if format == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

func chatCSV(records []models.Message) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"external_id", "room_id", "sender_id", "sender_name", "type", "content", "timestamp", "deleted"}); err != nil {
		return nil, err
	}
	for _, m := range records {
		if err := w.Write([]string{
			m.ExternalID, m.RoomID, m.SenderID, m.SenderName, string(m.Type),
			m.Content, m.Timestamp.UTC().Format(time.RFC3339), strconv.FormatBool(m.Deleted),
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func privateCSV(records []models.PrivateMessage) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "conversation_id", "sender_id", "content", "created_at", "read_at", "deleted"}); err != nil {
		return nil, err
	}
	for _, m := range records {
		readAt := ""
		if m.ReadAt != nil {
			readAt = m.ReadAt.UTC().Format(time.RFC3339)
		}
		if err := w.Write([]string{
			strconv.FormatUint(uint64(m.ID), 10),
			strconv.FormatUint(uint64(m.ConversationID), 10),
			m.SenderID, m.Content,
			m.CreatedAt.UTC().Format(time.RFC3339),
			readAt,
			strconv.FormatBool(m.Deleted),
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func auditCSV(records []models.AuditEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"event_id", "event_type", "actor_id", "target_id", "room_id", "detail", "created_at"}); err != nil {
		return nil, err
	}
	for _, e := range records {
		if err := w.Write([]string{
			e.EventID, e.EventType, e.ActorID, e.TargetID, e.RoomID, e.Detail,
			e.CreatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
