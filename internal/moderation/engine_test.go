package moderation

import (
	"errors"
	"sync"
	"testing"
	"time"

	"live-interview-chat/backend/internal/models"
	apperrors "live-interview-chat/backend/pkg/errors"
	"live-interview-chat/backend/pkg/jwt"
	"live-interview-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store used by the engine tests.
type memStore struct {
	actions []*models.ModerationAction
	appeals []*models.Appeal
	audit   []*models.AuditEntry
	fail    bool
}

func (s *memStore) SaveAction(a *models.ModerationAction) error {
	if s.fail {
		return errors.New("store down")
	}
	cp := *a
	s.actions = append(s.actions, &cp)
	return nil
}

func (s *memStore) UpdateAction(a *models.ModerationAction) error {
	if s.fail {
		return errors.New("store down")
	}
	for i, existing := range s.actions {
		if existing.ExternalID == a.ExternalID {
			cp := *a
			s.actions[i] = &cp
			return nil
		}
	}
	return nil
}

func (s *memStore) GetActionByID(id string) (*models.ModerationAction, error) {
	for _, a := range s.actions {
		if a.ExternalID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListActiveActions() ([]models.ModerationAction, error) {
	var out []models.ModerationAction
	for _, a := range s.actions {
		if a.Active && (a.Kind == models.ActionMute || a.Kind == models.ActionBan) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *memStore) SaveAppeal(a *models.Appeal) error {
	if s.fail {
		return errors.New("store down")
	}
	cp := *a
	s.appeals = append(s.appeals, &cp)
	return nil
}

func (s *memStore) UpdateAppeal(a *models.Appeal) error {
	for i, existing := range s.appeals {
		if existing.ExternalID == a.ExternalID {
			cp := *a
			s.appeals[i] = &cp
			return nil
		}
	}
	return nil
}

func (s *memStore) GetAppealByID(id string) (*models.Appeal, error) {
	for _, a := range s.appeals {
		if a.ExternalID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListAppealsByViolation(violationID string) ([]models.Appeal, error) {
	var out []models.Appeal
	for _, a := range s.appeals {
		if a.ViolationID == violationID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *memStore) AppendAudit(e *models.AuditEntry) error {
	cp := *e
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *memStore) QueryAudit(roomID string, from, to time.Time, limit int) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	for _, e := range s.audit {
		if roomID != "" && e.RoomID != roomID {
			continue
		}
		out = append(out, *e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

var (
	mod         = Actor{ID: "mod-1", Role: jwt.RoleModerator}
	participant = Actor{ID: "user-1", Role: jwt.RoleParticipant}
)

func newTestEngine(t *testing.T) (*Engine, *memStore, *time.Time) {
	t.Helper()
	store := &memStore{}
	e := NewEngine(DefaultConfig(), store, logger.New(logger.Config{Level: "error"}))
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e, store, &now
}

func TestWarnRequiresModerator(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Warn(participant, "target", "room-1", "reason", 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindPermission))
}

func TestThreeWarningsEscalateToMute(t *testing.T) {
	e, _, _ := newTestEngine(t)

	for i := 0; i < 2; i++ {
		action, err := e.Warn(mod, "target", "room-1", "spamming", 1)
		require.NoError(t, err)
		assert.Equal(t, models.ActionWarn, action.Kind)
	}

	action, err := e.Warn(mod, "target", "room-1", "spamming", 1)
	require.NoError(t, err)
	assert.Equal(t, models.ActionMute, action.Kind)
	assert.True(t, action.Automatic)
	assert.Equal(t, StatusMuted, e.StatusOf("target", "room-1"))
}

func TestWarningsOutsideWindowDoNotEscalate(t *testing.T) {
	e, _, now := newTestEngine(t)

	for i := 0; i < 2; i++ {
		_, err := e.Warn(mod, "target", "room-1", "x", 1)
		require.NoError(t, err)
	}
	*now = now.Add(11 * time.Minute)

	action, err := e.Warn(mod, "target", "room-1", "x", 1)
	require.NoError(t, err)
	assert.Equal(t, models.ActionWarn, action.Kind)
}

func TestSevereWarningsEscalateToBan(t *testing.T) {
	e, _, _ := newTestEngine(t)

	for i := 0; i < 2; i++ {
		_, err := e.AutoWarn("target", "room-1", "severe content", 4)
		require.NoError(t, err)
	}

	action, err := e.AutoWarn("target", "room-1", "severe content", 4)
	require.NoError(t, err)
	assert.Equal(t, models.ActionBan, action.Kind)
	assert.Equal(t, StatusBanned, e.StatusOf("target", "room-1"))
}

func TestCheckGateMutedCarriesExpiry(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Mute(mod, "target", "room-1", 5*time.Minute, "noisy")
	require.NoError(t, err)

	err = e.CheckGate("target", "room-1")
	require.Error(t, err)
	appErr := apperrors.FromError(err)
	assert.Equal(t, apperrors.KindModerationBlock, appErr.Kind)
	assert.Equal(t, "MUTED", appErr.Code)
	require.NotNil(t, appErr.Expiry)
}

func TestMuteExpiresWithoutUnmute(t *testing.T) {
	e, _, now := newTestEngine(t)

	_, err := e.Mute(mod, "target", "room-1", 5*time.Minute, "noisy")
	require.NoError(t, err)
	require.Error(t, e.CheckGate("target", "room-1"))

	*now = now.Add(5*time.Minute + time.Second)
	assert.NoError(t, e.CheckGate("target", "room-1"))
	assert.Equal(t, StatusClear, e.StatusOf("target", "room-1"))
}

func TestPermanentMuteNeverExpires(t *testing.T) {
	e, _, now := newTestEngine(t)

	action, err := e.Mute(mod, "target", "room-1", 0, "permanent")
	require.NoError(t, err)
	assert.Nil(t, action.ExpiresAt)

	*now = now.Add(1000 * time.Hour)
	assert.Error(t, e.CheckGate("target", "room-1"))
}

func TestGlobalBanAppliesInEveryRoom(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Ban(mod, "target", "", time.Hour, "global")
	require.NoError(t, err)

	assert.Error(t, e.CheckGate("target", "room-1"))
	assert.Error(t, e.CheckGate("target", "room-2"))
	assert.Error(t, e.CheckJoin("target", "room-3"))
}

func TestCheckJoinIgnoresMutes(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Mute(mod, "target", "room-1", time.Hour, "noisy")
	require.NoError(t, err)

	// Muted identities may still join; they just cannot speak.
	assert.NoError(t, e.CheckJoin("target", "room-1"))
	assert.Error(t, e.CheckGate("target", "room-1"))
}

func TestUnmuteWithoutActiveMute(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Unmute(mod, "target", "room-1", "oops")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindState))
}

func TestUnbanRestoresAccess(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Ban(mod, "target", "room-1", time.Hour, "bad")
	require.NoError(t, err)
	require.Error(t, e.CheckJoin("target", "room-1"))

	_, err = e.Unban(mod, "target", "room-1", "forgiven")
	require.NoError(t, err)
	assert.NoError(t, e.CheckJoin("target", "room-1"))
}

func TestPersistenceFailureAbortsSanction(t *testing.T) {
	e, store, _ := newTestEngine(t)
	store.fail = true

	_, err := e.Mute(mod, "target", "room-1", time.Hour, "noisy")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindPersistence))

	// No in-memory state change without a durable record.
	store.fail = false
	assert.NoError(t, e.CheckGate("target", "room-1"))
}

func TestClearRoomMutes(t *testing.T) {
	e, store, _ := newTestEngine(t)

	_, err := e.Mute(mod, "a", "room-1", time.Hour, "x")
	require.NoError(t, err)
	_, err = e.Mute(mod, "b", "room-1", time.Hour, "x")
	require.NoError(t, err)
	_, err = e.Mute(mod, "c", "room-2", time.Hour, "x")
	require.NoError(t, err)

	cleared, err := e.ClearRoomMutes(mod, "room-1")
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	assert.NoError(t, e.CheckGate("a", "room-1"))
	assert.NoError(t, e.CheckGate("b", "room-1"))
	assert.Error(t, e.CheckGate("c", "room-2"))

	// Every lifted mute lands in the audit log individually.
	unmutes := 0
	for _, entry := range store.audit {
		if entry.EventType == string(models.ActionUnmute) {
			unmutes++
		}
	}
	assert.Equal(t, 2, unmutes)
}

func TestNewSanctionSupersedesPrior(t *testing.T) {
	e, store, _ := newTestEngine(t)

	first, err := e.Mute(mod, "target", "room-1", time.Hour, "first")
	require.NoError(t, err)
	_, err = e.Mute(mod, "target", "room-1", 2*time.Hour, "second")
	require.NoError(t, err)

	stored, err := store.GetActionByID(first.ExternalID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

// slowStore widens the store write window so overlapping sanctions would
// interleave if the engine let them.
type slowStore struct {
	*memStore
	mu    sync.Mutex
	delay time.Duration
}

func (s *slowStore) SaveAction(a *models.ModerationAction) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memStore.SaveAction(a)
}

func (s *slowStore) UpdateAction(a *models.ModerationAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memStore.UpdateAction(a)
}

func (s *slowStore) AppendAudit(e *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memStore.AppendAudit(e)
}

func TestConcurrentMutesLeaveOneActive(t *testing.T) {
	store := &slowStore{memStore: &memStore{}, delay: 10 * time.Millisecond}
	e := NewEngine(DefaultConfig(), store, logger.New(logger.Config{Level: "error"}))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Mute(mod, "target", "room-1", time.Hour, "concurrent")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// The later mute supersedes the earlier one in the store, so a restart
	// restores exactly one active mute.
	active := 0
	for _, a := range store.actions {
		if a.Kind == models.ActionMute && a.Active {
			active++
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, StatusMuted, e.StatusOf("target", "room-1"))
}

func TestLoadActivePrimesCache(t *testing.T) {
	store := &memStore{}
	expiry := time.Now().Add(time.Hour)
	store.actions = append(store.actions, &models.ModerationAction{
		ExternalID: "m-1",
		TargetID:   "target",
		RoomID:     "room-1",
		Kind:       models.ActionMute,
		Active:     true,
		ExpiresAt:  &expiry,
	})

	e := NewEngine(DefaultConfig(), store, logger.New(logger.Config{Level: "error"}))
	require.NoError(t, e.LoadActive())
	assert.Error(t, e.CheckGate("target", "room-1"))
}
