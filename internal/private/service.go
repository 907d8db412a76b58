package private

import (
	"time"

	"live-interview-chat/backend/internal/models"
	"live-interview-chat/backend/internal/repository"
	"live-interview-chat/backend/internal/room"
	"live-interview-chat/backend/internal/textproc"
	"live-interview-chat/backend/pkg/errors"
	"live-interview-chat/backend/pkg/jwt"
	"live-interview-chat/backend/pkg/logger"
	"live-interview-chat/backend/pkg/ws"
)

// Service implements direct messaging between two identities: delivery,
// blocking, read state, soft deletion and history pagination. Private
// messages are persisted before delivery; a failed write rejects the send.
type Service struct {
	repo      repository.PrivateRepository
	registry  *room.Registry
	profanity *textproc.ProfanityFilter
	maxLength int
	log       *logger.Logger

	now func() time.Time
}

// NewService creates the private messaging service.
func NewService(repo repository.PrivateRepository, registry *room.Registry, profanity *textproc.ProfanityFilter, maxLength int, log *logger.Logger) *Service {
	if maxLength <= 0 {
		maxLength = 2000
	}
	return &Service{
		repo:      repo,
		registry:  registry,
		profanity: profanity,
		maxLength: maxLength,
		log:       log,
		now:       time.Now,
	}
}

// Delivery is the payload pushed to the recipient's live connections and
// echoed back to the sender as the acknowledgment.
type Delivery struct {
	MessageID      uint      `json:"message_id"`
	ConversationID uint      `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	RecipientID    string    `json:"recipient_id"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
}

// Send delivers a private message from sender to recipient. A block in
// either direction rejects the send without revealing which side blocks.
func (s *Service) Send(senderID, senderName, recipientID, content string) (*Delivery, error) {
	if recipientID == "" {
		return nil, errors.NewValidationError("RECIPIENT_REQUIRED", "recipient is required")
	}
	if recipientID == senderID {
		return nil, errors.NewValidationError("SELF_MESSAGE", "Cannot message yourself")
	}
	if content == "" {
		return nil, errors.NewValidationError("EMPTY_MESSAGE", "Message is empty")
	}
	if len([]rune(content)) > s.maxLength {
		return nil, errors.NewValidationError("MESSAGE_TOO_LONG", "Message exceeds the maximum length")
	}

	blocked, err := s.repo.IsBlocked(senderID, recipientID)
	if err != nil {
		return nil, errors.NewPersistenceError("BLOCK_QUERY_FAILED", "Could not check block state")
	}
	if blocked {
		return nil, errors.NewPermissionError("BLOCKED", "Messages between these users are blocked")
	}

	scan := s.profanity.Scan(content)
	if scan.Action == textproc.ProfanityBlock {
		return nil, errors.NewModerationBlockError("PROFANITY", "Message contains disallowed language")
	}

	conv, err := s.repo.GetOrCreateConversation(senderID, recipientID)
	if err != nil {
		return nil, errors.NewPersistenceError("CONVERSATION_FAILED", "Could not open the conversation")
	}

	msg := &models.PrivateMessage{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        scan.Filtered,
		CreatedAt:      s.now(),
	}
	if err := s.repo.SavePrivateMessage(msg); err != nil {
		return nil, errors.NewPersistenceError("PRIVATE_WRITE_FAILED", "Could not store the message")
	}

	delivery := &Delivery{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		SenderID:       senderID,
		SenderName:     senderName,
		RecipientID:    recipientID,
		Content:        msg.Content,
		SentAt:         msg.CreatedAt,
	}

	// Push to every live connection of the recipient. An offline recipient
	// simply reads from history later.
	frame := ws.MustMarshal(ws.EventPrivateMessage, delivery)
	for _, conn := range s.registry.ConnectionsByIdentity(recipientID) {
		conn.Enqueue(frame)
	}

	return delivery, nil
}

// HistoryPage is one page of conversation history.
type HistoryPage struct {
	ConversationID uint                    `json:"conversation_id"`
	Messages       []models.PrivateMessage `json:"messages"`
	Total          int64                   `json:"total"`
	Limit          int                     `json:"limit"`
	Offset         int                     `json:"offset"`
}

// History returns a page of the conversation between requester and other,
// newest first. Soft-deleted messages appear with their content blanked.
func (s *Service) History(requesterID, otherID string, limit, offset int) (*HistoryPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	conv, err := s.repo.GetConversation(requesterID, otherID)
	if err != nil {
		return nil, errors.NewPersistenceError("HISTORY_QUERY_FAILED", "Could not load the conversation")
	}
	if conv == nil {
		return &HistoryPage{Messages: []models.PrivateMessage{}, Limit: limit, Offset: offset}, nil
	}

	messages, total, err := s.repo.HistoryPage(conv.ID, limit, offset)
	if err != nil {
		return nil, errors.NewPersistenceError("HISTORY_QUERY_FAILED", "Could not load the conversation")
	}
	redactDeleted(messages)

	return &HistoryPage{
		ConversationID: conv.ID,
		Messages:       messages,
		Total:          total,
		Limit:          limit,
		Offset:         offset,
	}, nil
}

// HistoryBefore returns up to limit messages older than the cursor, for
// infinite-scroll clients.
func (s *Service) HistoryBefore(requesterID, otherID string, before time.Time, limit int) ([]models.PrivateMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if before.IsZero() {
		before = s.now()
	}

	conv, err := s.repo.GetConversation(requesterID, otherID)
	if err != nil {
		return nil, errors.NewPersistenceError("HISTORY_QUERY_FAILED", "Could not load the conversation")
	}
	if conv == nil {
		return nil, nil
	}

	messages, err := s.repo.HistoryBefore(conv.ID, before, limit)
	if err != nil {
		return nil, errors.NewPersistenceError("HISTORY_QUERY_FAILED", "Could not load the conversation")
	}
	redactDeleted(messages)
	return messages, nil
}

// MarkRead stamps every unread message the other party sent to the reader
// and notifies the other party's live connections. Returns the count marked.
func (s *Service) MarkRead(readerID, otherID string) (int64, error) {
	conv, err := s.repo.GetConversation(readerID, otherID)
	if err != nil {
		return 0, errors.NewPersistenceError("READ_UPDATE_FAILED", "Could not update read state")
	}
	if conv == nil {
		return 0, nil
	}

	at := s.now()
	marked, err := s.repo.MarkRead(conv.ID, readerID, at)
	if err != nil {
		return 0, errors.NewPersistenceError("READ_UPDATE_FAILED", "Could not update read state")
	}

	if marked > 0 {
		frame := ws.MustMarshal(ws.EventPrivateRead, map[string]any{
			"conversation_id": conv.ID,
			"reader_id":       readerID,
			"read_at":         at,
			"count":           marked,
		})
		for _, conn := range s.registry.ConnectionsByIdentity(otherID) {
			conn.Enqueue(frame)
		}
	}
	return marked, nil
}

// Delete soft-deletes a private message. Allowed for the sender and for
// moderator roles; the record survives for exports, its content blanked in
// history reads.
func (s *Service) Delete(actorID string, actorRole jwt.Role, messageID uint, reason string) error {
	msg, err := s.repo.GetPrivateMessage(messageID)
	if err != nil {
		return errors.NewPersistenceError("DELETE_FAILED", "Could not load the message")
	}
	if msg == nil {
		return errors.NewValidationError("UNKNOWN_MESSAGE", "No such message")
	}
	if msg.Deleted {
		return errors.NewStateError("ALREADY_DELETED", "Message is already deleted")
	}
	if msg.SenderID != actorID && !actorRole.CanModerate() {
		return errors.NewPermissionError("NOT_MESSAGE_OWNER", "Only the sender or a moderator may delete")
	}

	if err := s.repo.SoftDeletePrivate(messageID, actorID, reason); err != nil {
		return errors.NewPersistenceError("DELETE_FAILED", "Could not delete the message")
	}
	return nil
}

// Block makes the pair unable to message each other until Unblock. Blocking
// an already-blocked identity is a no-op.
func (s *Service) Block(blockerID, blockedID string) error {
	if blockedID == "" || blockedID == blockerID {
		return errors.NewValidationError("BAD_TARGET", "Cannot block this identity")
	}

	existing, err := s.repo.BlocksOf(blockerID)
	if err != nil {
		return errors.NewPersistenceError("BLOCK_FAILED", "Could not update block state")
	}
	for _, b := range existing {
		if b.BlockedID == blockedID {
			return nil
		}
	}

	block := &models.Block{BlockerID: blockerID, BlockedID: blockedID, CreatedAt: s.now()}
	if err := s.repo.SaveBlock(block); err != nil {
		return errors.NewPersistenceError("BLOCK_FAILED", "Could not update block state")
	}
	s.log.Info("user blocked", "blocker", blockerID, "blocked", blockedID)
	return nil
}

// Unblock removes the blocker's block. Unblocking an identity that was not
// blocked is a no-op.
func (s *Service) Unblock(blockerID, blockedID string) error {
	if _, err := s.repo.DeleteBlock(blockerID, blockedID); err != nil {
		return errors.NewPersistenceError("BLOCK_FAILED", "Could not update block state")
	}
	return nil
}

// UnreadCount reports how many unread messages the other party has sent.
func (s *Service) UnreadCount(readerID, otherID string) (int64, error) {
	conv, err := s.repo.GetConversation(readerID, otherID)
	if err != nil {
		return 0, errors.NewPersistenceError("HISTORY_QUERY_FAILED", "Could not load the conversation")
	}
	if conv == nil {
		return 0, nil
	}
	count, err := s.repo.UnreadCount(conv.ID, readerID)
	if err != nil {
		return 0, errors.NewPersistenceError("HISTORY_QUERY_FAILED", "Could not load the conversation")
	}
	return count, nil
}

func redactDeleted(messages []models.PrivateMessage) {
	for i := range messages {
		if messages[i].Deleted {
			messages[i].Content = ""
		}
	}
}
