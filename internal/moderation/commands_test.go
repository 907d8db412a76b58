package moderation

import (
	"testing"
	"time"

	apperrors "live-interview-chat/backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandMuteWithDuration(t *testing.T) {
	e, _, _ := newTestEngine(t)

	result, err := e.ExecuteCommand(mod, "room-1", "mute @alice 10m being disruptive")
	require.NoError(t, err)
	assert.Contains(t, result.Reply, "alice has been muted until")
	assert.NotEmpty(t, result.Announcement)
	assert.Equal(t, StatusMuted, e.StatusOf("alice", "room-1"))
}

func TestCommandMutePermanent(t *testing.T) {
	e, _, _ := newTestEngine(t)

	result, err := e.ExecuteCommand(mod, "room-1", "mute alice")
	require.NoError(t, err)
	assert.Equal(t, "alice has been muted", result.Reply)
}

func TestCommandWarnAndStatus(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.ExecuteCommand(mod, "room-1", "warn alice too loud")
	require.NoError(t, err)

	result, err := e.ExecuteCommand(mod, "room-1", "status alice")
	require.NoError(t, err)
	assert.Equal(t, "alice is warned", result.Reply)
}

func TestCommandBanAndUnban(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.ExecuteCommand(mod, "room-1", "ban alice 1h trolling")
	require.NoError(t, err)
	require.Error(t, e.CheckJoin("alice", "room-1"))

	_, err = e.ExecuteCommand(mod, "room-1", "unban alice")
	require.NoError(t, err)
	assert.NoError(t, e.CheckJoin("alice", "room-1"))
}

func TestCommandClearmutes(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Mute(mod, "a", "room-1", time.Hour, "x")
	require.NoError(t, err)
	_, err = e.Mute(mod, "b", "room-1", time.Hour, "x")
	require.NoError(t, err)

	result, err := e.ExecuteCommand(mod, "room-1", "clearmutes")
	require.NoError(t, err)
	assert.Equal(t, "cleared 2 mute(s)", result.Reply)
}

func TestCommandRejectsUnknownVerb(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.ExecuteCommand(mod, "room-1", "dance")
	require.Error(t, err)
	assert.Equal(t, "UNKNOWN_COMMAND", apperrors.FromError(err).Code)
}

func TestCommandRejectsMissingTarget(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.ExecuteCommand(mod, "room-1", "mute")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestCommandRequiresModeratorRole(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.ExecuteCommand(participant, "room-1", "mute alice")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindPermission))

	_, err = e.ExecuteCommand(participant, "room-1", "status alice")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindPermission))
}
