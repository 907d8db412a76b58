package moderation

import (
	"live-interview-chat/backend/internal/models"
	"live-interview-chat/backend/pkg/errors"

	"github.com/google/uuid"
)

// SubmitAppeal opens an appeal against a mute or ban. Only the sanctioned
// identity may appeal, and each violation admits one appeal.
func (e *Engine) SubmitAppeal(appellantID, violationID, reason string) (*models.Appeal, error) {
	violation, err := e.store.GetActionByID(violationID)
	if err != nil || violation == nil {
		return nil, errors.NewValidationError("UNKNOWN_VIOLATION", "No such violation")
	}
	if violation.TargetID != appellantID {
		return nil, errors.NewPermissionError("NOT_SANCTIONED_PARTY", "Only the sanctioned identity may appeal")
	}
	if violation.Kind != models.ActionMute && violation.Kind != models.ActionBan {
		return nil, errors.NewStateError("NOT_APPEALABLE", "Only mutes and bans can be appealed")
	}

	existing, err := e.store.ListAppealsByViolation(violationID)
	if err != nil {
		return nil, errors.NewPersistenceError("APPEAL_QUERY_FAILED", "Could not check prior appeals")
	}
	if len(existing) > 0 {
		return nil, errors.NewStateError("APPEAL_EXISTS", "This violation has already been appealed")
	}

	appeal := &models.Appeal{
		ExternalID:  uuid.New().String(),
		AppellantID: appellantID,
		ViolationID: violationID,
		Reason:      reason,
		Status:      models.AppealPending,
		CreatedAt:   e.now(),
	}
	if err := e.store.SaveAppeal(appeal); err != nil {
		return nil, errors.NewPersistenceError("APPEAL_WRITE_FAILED", "Could not record the appeal")
	}

	e.appendAudit(Actor{ID: appellantID}, "appeal_submitted", appellantID, violation.RoomID, reason)
	return appeal, nil
}

// ResolveAppeal settles a pending appeal. Approval reverses the sanction;
// denial leaves it standing. An appeal resolves exactly once: a second
// resolution is a state error.
func (e *Engine) ResolveAppeal(actor Actor, appealID string, approve bool, decisionReason string) (*models.Appeal, error) {
	if !actor.Role.CanModerate() {
		return nil, errors.NewPermissionError("MODERATOR_REQUIRED", "Only moderators may resolve appeals")
	}

	appeal, err := e.store.GetAppealByID(appealID)
	if err != nil || appeal == nil {
		return nil, errors.NewValidationError("UNKNOWN_APPEAL", "No such appeal")
	}
	if appeal.Status != models.AppealPending {
		return nil, errors.NewStateError("APPEAL_RESOLVED", "This appeal has already been resolved")
	}

	now := e.now()
	appeal.ReviewedBy = actor.ID
	appeal.DecisionReason = decisionReason
	appeal.ResolvedAt = &now
	if approve {
		appeal.Status = models.AppealApproved
	} else {
		appeal.Status = models.AppealDenied
	}

	if err := e.store.UpdateAppeal(appeal); err != nil {
		return nil, errors.NewPersistenceError("APPEAL_WRITE_FAILED", "Could not record the decision")
	}

	eventType := "appeal_denied"
	if approve {
		eventType = "appeal_approved"
		e.reverseSanction(actor, appeal.ViolationID)
	}
	e.appendAudit(actor, eventType, appeal.AppellantID, "", decisionReason)

	return appeal, nil
}

// reverseSanction lifts the sanction behind an approved appeal. A sanction
// that already lapsed leaves nothing to lift.
func (e *Engine) reverseSanction(actor Actor, violationID string) {
	violation, err := e.store.GetActionByID(violationID)
	if err != nil || violation == nil {
		return
	}
	switch violation.Kind {
	case models.ActionMute:
		if _, err := e.Unmute(actor, violation.TargetID, violation.RoomID, "appeal approved"); err != nil && !errors.IsKind(err, errors.KindState) {
			e.log.LogError(err, "failed to reverse mute after appeal", "violation_id", violationID)
		}
	case models.ActionBan:
		if _, err := e.Unban(actor, violation.TargetID, violation.RoomID, "appeal approved"); err != nil && !errors.IsKind(err, errors.KindState) {
			e.log.LogError(err, "failed to reverse ban after appeal", "violation_id", violationID)
		}
	}
}
