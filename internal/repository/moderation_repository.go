package repository

import (
	"errors"
	"time"

	"live-interview-chat/backend/internal/models"

	"gorm.io/gorm"
)

// GormModerationRepository backs the moderation engine's durable state:
// actions, appeals and the append-only audit log.
type GormModerationRepository struct {
	db *gorm.DB
}

func NewGormModerationRepository(db *gorm.DB) *GormModerationRepository {
	return &GormModerationRepository{db: db}
}

func (r *GormModerationRepository) SaveAction(action *models.ModerationAction) error {
	return r.db.Create(action).Error
}

func (r *GormModerationRepository) UpdateAction(action *models.ModerationAction) error {
	return r.db.Save(action).Error
}

func (r *GormModerationRepository) GetActionByID(externalID string) (*models.ModerationAction, error) {
	var action models.ModerationAction
	err := r.db.Where("external_id = ?", externalID).First(&action).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (r *GormModerationRepository) ListActiveActions() ([]models.ModerationAction, error) {
	var actions []models.ModerationAction
	err := r.db.Where("active = ? AND kind IN ?", true,
		[]models.ActionKind{models.ActionMute, models.ActionBan}).
		Find(&actions).Error
	return actions, err
}

func (r *GormModerationRepository) ListActionsByTarget(targetID string, limit int) ([]models.ModerationAction, error) {
	var actions []models.ModerationAction
	err := r.db.Where("target_id = ?", targetID).
		Order("created_at DESC").
		Limit(limit).
		Find(&actions).Error
	return actions, err
}

func (r *GormModerationRepository) SaveAppeal(appeal *models.Appeal) error {
	return r.db.Create(appeal).Error
}

func (r *GormModerationRepository) UpdateAppeal(appeal *models.Appeal) error {
	return r.db.Save(appeal).Error
}

func (r *GormModerationRepository) GetAppealByID(externalID string) (*models.Appeal, error) {
	var appeal models.Appeal
	err := r.db.Where("external_id = ?", externalID).First(&appeal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &appeal, nil
}

func (r *GormModerationRepository) ListAppealsByViolation(violationID string) ([]models.Appeal, error) {
	var appeals []models.Appeal
	err := r.db.Where("violation_id = ?", violationID).Find(&appeals).Error
	return appeals, err
}

func (r *GormModerationRepository) AppendAudit(entry *models.AuditEntry) error {
	return r.db.Create(entry).Error
}

// QueryAudit returns audit entries for a room inside [from, to], newest
// first. An empty roomID matches entries from every room.
func (r *GormModerationRepository) QueryAudit(roomID string, from, to time.Time, limit int) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	q := r.db.Model(&models.AuditEntry{})
	if roomID != "" {
		q = q.Where("room_id = ?", roomID)
	}
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at <= ?", to)
	}
	err := q.Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
