package moderation

import (
	"testing"
	"time"

	"live-interview-chat/backend/internal/models"
	apperrors "live-interview-chat/backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAppealHappyPath(t *testing.T) {
	e, _, _ := newTestEngine(t)

	mute, err := e.Mute(mod, "user-1", "room-1", time.Hour, "noisy")
	require.NoError(t, err)

	appeal, err := e.SubmitAppeal("user-1", mute.ExternalID, "I was quoting someone")
	require.NoError(t, err)
	assert.Equal(t, models.AppealPending, appeal.Status)
	assert.Equal(t, "user-1", appeal.AppellantID)
}

func TestSubmitAppealOnlySanctionedParty(t *testing.T) {
	e, _, _ := newTestEngine(t)

	mute, err := e.Mute(mod, "user-1", "room-1", time.Hour, "noisy")
	require.NoError(t, err)

	_, err = e.SubmitAppeal("someone-else", mute.ExternalID, "unfair")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindPermission))
}

func TestSubmitAppealRejectsWarnings(t *testing.T) {
	e, _, _ := newTestEngine(t)

	warn, err := e.Warn(mod, "user-1", "room-1", "minor", 1)
	require.NoError(t, err)

	_, err = e.SubmitAppeal("user-1", warn.ExternalID, "disagree")
	require.Error(t, err)
	assert.Equal(t, "NOT_APPEALABLE", apperrors.FromError(err).Code)
}

func TestSubmitAppealOncePerViolation(t *testing.T) {
	e, _, _ := newTestEngine(t)

	mute, err := e.Mute(mod, "user-1", "room-1", time.Hour, "noisy")
	require.NoError(t, err)

	_, err = e.SubmitAppeal("user-1", mute.ExternalID, "first")
	require.NoError(t, err)
	_, err = e.SubmitAppeal("user-1", mute.ExternalID, "second")
	require.Error(t, err)
	assert.Equal(t, "APPEAL_EXISTS", apperrors.FromError(err).Code)
}

func TestResolveAppealApproveLiftsSanction(t *testing.T) {
	e, _, _ := newTestEngine(t)

	mute, err := e.Mute(mod, "user-1", "room-1", time.Hour, "noisy")
	require.NoError(t, err)
	appeal, err := e.SubmitAppeal("user-1", mute.ExternalID, "please")
	require.NoError(t, err)
	require.Error(t, e.CheckGate("user-1", "room-1"))

	resolved, err := e.ResolveAppeal(mod, appeal.ExternalID, true, "convincing")
	require.NoError(t, err)
	assert.Equal(t, models.AppealApproved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)
	assert.NoError(t, e.CheckGate("user-1", "room-1"))
}

func TestResolveAppealDenyKeepsSanction(t *testing.T) {
	e, _, _ := newTestEngine(t)

	mute, err := e.Mute(mod, "user-1", "room-1", time.Hour, "noisy")
	require.NoError(t, err)
	appeal, err := e.SubmitAppeal("user-1", mute.ExternalID, "please")
	require.NoError(t, err)

	resolved, err := e.ResolveAppeal(mod, appeal.ExternalID, false, "not convincing")
	require.NoError(t, err)
	assert.Equal(t, models.AppealDenied, resolved.Status)
	assert.Error(t, e.CheckGate("user-1", "room-1"))
}

func TestResolveAppealExactlyOnce(t *testing.T) {
	e, _, _ := newTestEngine(t)

	mute, err := e.Mute(mod, "user-1", "room-1", time.Hour, "noisy")
	require.NoError(t, err)
	appeal, err := e.SubmitAppeal("user-1", mute.ExternalID, "please")
	require.NoError(t, err)

	_, err = e.ResolveAppeal(mod, appeal.ExternalID, false, "no")
	require.NoError(t, err)
	_, err = e.ResolveAppeal(mod, appeal.ExternalID, true, "changed my mind")
	require.Error(t, err)
	assert.Equal(t, "APPEAL_RESOLVED", apperrors.FromError(err).Code)
}

func TestResolveAppealRequiresModerator(t *testing.T) {
	e, _, _ := newTestEngine(t)

	mute, err := e.Mute(mod, "user-1", "room-1", time.Hour, "noisy")
	require.NoError(t, err)
	appeal, err := e.SubmitAppeal("user-1", mute.ExternalID, "please")
	require.NoError(t, err)

	_, err = e.ResolveAppeal(participant, appeal.ExternalID, true, "self-service")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindPermission))
}
