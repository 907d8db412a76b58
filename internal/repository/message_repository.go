package repository

import (
	"time"

	"live-interview-chat/backend/internal/models"

	"gorm.io/gorm"
)

type MessageRepository interface {
	SaveMessage(message *models.Message) error
	GetByExternalID(externalID string) (*models.Message, error)
	RecentByRoom(roomID string, limit int) ([]models.Message, error)
	ByRoomWindow(roomID string, from, to time.Time, includeDeleted bool, limit int) ([]models.Message, error)
	SoftDelete(externalID, deletedBy, reason string) error
	CountByRoom(roomID string) (int64, error)
}

type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) SaveMessage(message *models.Message) error {
	return r.db.Create(message).Error
}

func (r *GormMessageRepository) GetByExternalID(externalID string) (*models.Message, error) {
	var message models.Message
	err := r.db.Where("external_id = ?", externalID).First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// RecentByRoom returns the newest non-deleted messages in chronological
// order, used for the history snapshot a joiner receives.
func (r *GormMessageRepository) RecentByRoom(roomID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.Where("room_id = ? AND deleted = ?", roomID, false).
		Order("timestamp DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *GormMessageRepository) ByRoomWindow(roomID string, from, to time.Time, includeDeleted bool, limit int) ([]models.Message, error) {
	var messages []models.Message
	q := r.db.Where("room_id = ?", roomID)
	if !from.IsZero() {
		q = q.Where("timestamp >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("timestamp <= ?", to)
	}
	if !includeDeleted {
		q = q.Where("deleted = ?", false)
	}
	err := q.Order("timestamp ASC").Limit(limit).Find(&messages).Error
	return messages, err
}

func (r *GormMessageRepository) SoftDelete(externalID, deletedBy, reason string) error {
	return r.db.Model(&models.Message{}).
		Where("external_id = ?", externalID).
		Updates(map[string]interface{}{
			"deleted":       true,
			"deleted_by":    deletedBy,
			"delete_reason": reason,
		}).Error
}

func (r *GormMessageRepository) CountByRoom(roomID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Message{}).
		Where("room_id = ? AND deleted = ?", roomID, false).
		Count(&count).Error
	return count, err
}
