package repository

import (
	"errors"
	"time"

	"live-interview-chat/backend/internal/models"

	"gorm.io/gorm"
)

type PrivateRepository interface {
	GetOrCreateConversation(a, b string) (*models.PrivateConversation, error)
	GetConversation(a, b string) (*models.PrivateConversation, error)
	SavePrivateMessage(message *models.PrivateMessage) error
	HistoryPage(conversationID uint, limit, offset int) ([]models.PrivateMessage, int64, error)
	HistoryBefore(conversationID uint, before time.Time, limit int) ([]models.PrivateMessage, error)
	MarkRead(conversationID uint, readerID string, at time.Time) (int64, error)
	GetPrivateMessage(id uint) (*models.PrivateMessage, error)
	SoftDeletePrivate(id uint, deletedBy, reason string) error
	UnreadCount(conversationID uint, readerID string) (int64, error)
	ConversationsOf(identity string) ([]models.PrivateConversation, error)
	MessagesByParticipant(identity string, from, to time.Time, limit int) ([]models.PrivateMessage, error)

	SaveBlock(block *models.Block) error
	DeleteBlock(blockerID, blockedID string) (int64, error)
	IsBlocked(a, b string) (bool, error)
	BlocksOf(blockerID string) ([]models.Block, error)
}

type GormPrivateRepository struct {
	db *gorm.DB
}

func NewGormPrivateRepository(db *gorm.DB) *GormPrivateRepository {
	return &GormPrivateRepository{db: db}
}

func (r *GormPrivateRepository) GetOrCreateConversation(a, b string) (*models.PrivateConversation, error) {
	key := models.PairKey(a, b)
	var conv models.PrivateConversation
	err := r.db.Where("pair_key = ?", key).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if a > b {
		a, b = b, a
	}
	conv = models.PrivateConversation{PairKey: key, ParticipantA: a, ParticipantB: b}
	if err := r.db.Create(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *GormPrivateRepository) GetConversation(a, b string) (*models.PrivateConversation, error) {
	var conv models.PrivateConversation
	err := r.db.Where("pair_key = ?", models.PairKey(a, b)).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *GormPrivateRepository) SavePrivateMessage(message *models.PrivateMessage) error {
	return r.db.Create(message).Error
}

// HistoryPage returns one page of a conversation, newest first, plus the
// total count so clients can render pagination.
func (r *GormPrivateRepository) HistoryPage(conversationID uint, limit, offset int) ([]models.PrivateMessage, int64, error) {
	var total int64
	if err := r.db.Model(&models.PrivateMessage{}).
		Where("conversation_id = ?", conversationID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var messages []models.PrivateMessage
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	return messages, total, err
}

func (r *GormPrivateRepository) HistoryBefore(conversationID uint, before time.Time, limit int) ([]models.PrivateMessage, error) {
	var messages []models.PrivateMessage
	err := r.db.Where("conversation_id = ? AND created_at < ?", conversationID, before).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// MarkRead stamps every unread message addressed to the reader. Returns the
// number of messages marked.
func (r *GormPrivateRepository) MarkRead(conversationID uint, readerID string, at time.Time) (int64, error) {
	res := r.db.Model(&models.PrivateMessage{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, readerID).
		Update("read_at", at)
	return res.RowsAffected, res.Error
}

func (r *GormPrivateRepository) GetPrivateMessage(id uint) (*models.PrivateMessage, error) {
	var message models.PrivateMessage
	err := r.db.First(&message, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *GormPrivateRepository) SoftDeletePrivate(id uint, deletedBy, reason string) error {
	return r.db.Model(&models.PrivateMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"deleted":       true,
			"deleted_by":    deletedBy,
			"delete_reason": reason,
		}).Error
}

func (r *GormPrivateRepository) UnreadCount(conversationID uint, readerID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.PrivateMessage{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL AND deleted = ?",
			conversationID, readerID, false).
		Count(&count).Error
	return count, err
}

func (r *GormPrivateRepository) ConversationsOf(identity string) ([]models.PrivateConversation, error) {
	var convs []models.PrivateConversation
	err := r.db.Where("participant_a = ? OR participant_b = ?", identity, identity).
		Find(&convs).Error
	return convs, err
}

// MessagesByParticipant collects every private message the identity sent or
// received, for exports.
func (r *GormPrivateRepository) MessagesByParticipant(identity string, from, to time.Time, limit int) ([]models.PrivateMessage, error) {
	convs, err := r.ConversationsOf(identity)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, nil
	}
	ids := make([]uint, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}

	var messages []models.PrivateMessage
	q := r.db.Where("conversation_id IN ?", ids)
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at <= ?", to)
	}
	err = q.Order("created_at ASC").Limit(limit).Find(&messages).Error
	return messages, err
}

func (r *GormPrivateRepository) SaveBlock(block *models.Block) error {
	return r.db.Create(block).Error
}

func (r *GormPrivateRepository) DeleteBlock(blockerID, blockedID string) (int64, error) {
	res := r.db.Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&models.Block{})
	return res.RowsAffected, res.Error
}

// IsBlocked reports whether either side of the pair blocks the other.
func (r *GormPrivateRepository) IsBlocked(a, b string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Block{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)",
			a, b, b, a).
		Count(&count).Error
	return count > 0, err
}

func (r *GormPrivateRepository) BlocksOf(blockerID string) ([]models.Block, error) {
	var blocks []models.Block
	err := r.db.Where("blocker_id = ?", blockerID).Find(&blocks).Error
	return blocks, err
}
