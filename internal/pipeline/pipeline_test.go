package pipeline

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"live-interview-chat/backend/internal/guard"
	"live-interview-chat/backend/internal/models"
	"live-interview-chat/backend/internal/moderation"
	"live-interview-chat/backend/internal/room"
	"live-interview-chat/backend/internal/textproc"
	apperrors "live-interview-chat/backend/pkg/errors"
	"live-interview-chat/backend/pkg/jwt"
	"live-interview-chat/backend/pkg/logger"
	"live-interview-chat/backend/pkg/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *fakeSender) Enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, data)
	return true
}

func (s *fakeSender) Close() {}

func (s *fakeSender) eventCount(t *testing.T, eventType ws.EventType) int {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, frame := range s.frames {
		var env ws.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		if env.Type == eventType {
			count++
		}
	}
	return count
}

func (s *fakeSender) lastMessage(t *testing.T) *models.Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		var env ws.Envelope
		require.NoError(t, json.Unmarshal(s.frames[i], &env))
		if env.Type == ws.EventMessage {
			var msg models.Message
			require.NoError(t, json.Unmarshal(env.Payload, &msg))
			return &msg
		}
	}
	return nil
}

type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (*jwt.Claims, error) {
	return &jwt.Claims{UserID: token, DisplayName: "User " + token, Role: jwt.RoleParticipant}, nil
}

type fakeMessageStore struct {
	mu    sync.Mutex
	saved []*models.Message
	fail  bool
}

func (s *fakeMessageStore) SaveMessage(msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("store down")
	}
	cp := *msg
	s.saved = append(s.saved, &cp)
	return nil
}

func (s *fakeMessageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// modStore is the minimal moderation.Store the engine needs in these tests.
type modStore struct {
	actions []*models.ModerationAction
}

func (s *modStore) SaveAction(a *models.ModerationAction) error {
	cp := *a
	s.actions = append(s.actions, &cp)
	return nil
}

func (s *modStore) UpdateAction(a *models.ModerationAction) error { return nil }

func (s *modStore) GetActionByID(id string) (*models.ModerationAction, error) {
	for _, a := range s.actions {
		if a.ExternalID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *modStore) ListActiveActions() ([]models.ModerationAction, error) { return nil, nil }
func (s *modStore) SaveAppeal(a *models.Appeal) error                     { return nil }
func (s *modStore) UpdateAppeal(a *models.Appeal) error                   { return nil }
func (s *modStore) GetAppealByID(id string) (*models.Appeal, error)       { return nil, nil }
func (s *modStore) ListAppealsByViolation(id string) ([]models.Appeal, error) {
	return nil, nil
}
func (s *modStore) AppendAudit(e *models.AuditEntry) error { return nil }
func (s *modStore) QueryAudit(roomID string, from, to time.Time, limit int) ([]models.AuditEntry, error) {
	return nil, nil
}

type fixture struct {
	pipe     *Pipeline
	registry *room.Registry
	engine   *moderation.Engine
	store    *fakeMessageStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.New(logger.Config{Level: "error"})
	registry := room.NewRegistry(stubValidator{}, time.Minute, log)
	engine := moderation.NewEngine(moderation.DefaultConfig(), &modStore{}, log)
	store := &fakeMessageStore{}
	pipe := New(
		Config{Scoring: DefaultScoringConfig()},
		guard.New(guard.DefaultConfig(), log),
		textproc.NewProfanityFilter(3, 1),
		textproc.NewFormatter(2000),
		textproc.NewEmojiExpander(),
		engine,
		store,
		registry,
		log,
	)
	return &fixture{pipe: pipe, registry: registry, engine: engine, store: store}
}

func (f *fixture) join(t *testing.T, identity, roomID string, role jwt.Role) (*room.Connection, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	conn := f.registry.OnConnect(sender)
	_, err := f.registry.Authenticate(conn, identity)
	require.NoError(t, err)
	conn.Role = role
	_, err = f.registry.JoinRoom(conn, roomID)
	require.NoError(t, err)
	return conn, sender
}

func TestAcceptedMessageBroadcastsToRoom(t *testing.T) {
	f := newFixture(t)
	alice, aliceSender := f.join(t, "alice", "room-1", jwt.RoleParticipant)
	_, bobSender := f.join(t, "bob", "room-1", jwt.RoleParticipant)

	result, err := f.pipe.HandleChat(alice, "nice answer :tada:", models.MessageTypeText)
	require.NoError(t, err)
	require.NotNil(t, result.Message)
	assert.Equal(t, 2, result.Recipients)
	assert.Equal(t, 1, f.store.count())

	// Sender and peer both receive the broadcast.
	assert.Equal(t, 1, aliceSender.eventCount(t, ws.EventMessage))
	assert.Equal(t, 1, bobSender.eventCount(t, ws.EventMessage))

	delivered := bobSender.lastMessage(t)
	require.NotNil(t, delivered)
	assert.Equal(t, "nice answer 🎉", delivered.Content)
	assert.Equal(t, "alice", delivered.SenderID)
}

func TestFormattedMessageCarriesMetadata(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.join(t, "alice", "room-1", jwt.RoleParticipant)
	_, bobSender := f.join(t, "bob", "room-1", jwt.RoleParticipant)

	result, err := f.pipe.HandleChat(alice, "**bold** text with a :smile: emoji", models.MessageTypeText)
	require.NoError(t, err)
	require.NotNil(t, result.Message)

	assert.Equal(t, "<strong>bold</strong> text with a 😄 emoji", result.Message.Content)
	assert.True(t, result.Message.HasFormatting)
	assert.Equal(t, 1, result.Message.EmojiCount)
	assert.Equal(t, 6, result.Message.WordCount)

	// The broadcast frame carries the same metadata the sender saw.
	delivered := bobSender.lastMessage(t)
	require.NotNil(t, delivered)
	assert.True(t, delivered.HasFormatting)
	assert.Equal(t, 1, delivered.EmojiCount)
}

func TestRequiresRoomMembership(t *testing.T) {
	f := newFixture(t)
	sender := &fakeSender{}
	conn := f.registry.OnConnect(sender)
	_, err := f.registry.Authenticate(conn, "alice")
	require.NoError(t, err)

	_, err = f.pipe.HandleChat(conn, "hello", models.MessageTypeText)
	require.Error(t, err)
	assert.Equal(t, "NOT_IN_ROOM", apperrors.FromError(err).Code)
}

func TestProfanityBlockRejectsWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.join(t, "alice", "room-1", jwt.RoleParticipant)
	_, bobSender := f.join(t, "bob", "room-1", jwt.RoleParticipant)

	_, err := f.pipe.HandleChat(alice, "fuck this question", models.MessageTypeText)
	require.Error(t, err)
	appErr := apperrors.FromError(err)
	assert.Equal(t, apperrors.KindModerationBlock, appErr.Kind)
	assert.Equal(t, "PROFANITY", appErr.Code)

	assert.Zero(t, f.store.count())
	assert.Zero(t, bobSender.eventCount(t, ws.EventMessage))
	assert.Equal(t, 1, alice.Violations)
}

func TestMildProfanityIsRedacted(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.join(t, "alice", "room-1", jwt.RoleParticipant)

	result, err := f.pipe.HandleChat(alice, "damn good answer", models.MessageTypeText)
	require.NoError(t, err)
	assert.Equal(t, "**** good answer", result.Message.Content)
	// The raw text keeps the original for moderator review.
	assert.Equal(t, "damn good answer", result.Message.RawContent)
}

func TestCommandDispatchesToModeration(t *testing.T) {
	f := newFixture(t)
	modConn, modSender := f.join(t, "mod-1", "room-1", jwt.RoleModerator)
	_, bobSender := f.join(t, "bob", "room-1", jwt.RoleParticipant)

	result, err := f.pipe.HandleChat(modConn, "/mute bob 10m disruptive", models.MessageTypeText)
	require.NoError(t, err)
	require.NotNil(t, result.Command)
	assert.Nil(t, result.Message)
	assert.Contains(t, result.Command.Reply, "bob has been muted")

	// The announcement goes out as a persisted system message.
	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, models.MessageTypeSystem, f.store.saved[0].Type)
	assert.Equal(t, 1, bobSender.eventCount(t, ws.EventSystem))
	assert.Equal(t, 1, modSender.eventCount(t, ws.EventSystem))

	assert.Equal(t, moderation.StatusMuted, f.engine.StatusOf("bob", "room-1"))
}

func TestMutedSenderIsRejected(t *testing.T) {
	f := newFixture(t)
	bob, _ := f.join(t, "bob", "room-1", jwt.RoleParticipant)
	_, aliceSender := f.join(t, "alice", "room-1", jwt.RoleParticipant)

	_, err := f.engine.Mute(moderation.Actor{ID: "mod-1", Role: jwt.RoleModerator}, "bob", "room-1", 5*time.Minute, "noisy")
	require.NoError(t, err)

	_, err = f.pipe.HandleChat(bob, "am I still muted", models.MessageTypeText)
	require.Error(t, err)
	appErr := apperrors.FromError(err)
	assert.Equal(t, "MUTED", appErr.Code)
	assert.NotNil(t, appErr.Expiry)
	assert.Zero(t, aliceSender.eventCount(t, ws.EventMessage))
}

func TestRateCapRejectsOverflow(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.join(t, "alice", "room-1", jwt.RoleParticipant)

	for i := 0; i < 10; i++ {
		_, err := f.pipe.HandleChat(alice, fmt.Sprintf("message number %d", i), models.MessageTypeText)
		require.NoError(t, err)
	}

	_, err := f.pipe.HandleChat(alice, "message number 10", models.MessageTypeText)
	require.Error(t, err)
	appErr := apperrors.FromError(err)
	assert.Equal(t, apperrors.KindRateLimit, appErr.Kind)
	assert.Greater(t, appErr.RetryAfter, time.Duration(0))
}

func TestPersistenceFailureStillBroadcasts(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.join(t, "alice", "room-1", jwt.RoleParticipant)
	_, bobSender := f.join(t, "bob", "room-1", jwt.RoleParticipant)
	f.store.fail = true

	result, err := f.pipe.HandleChat(alice, "the store is down", models.MessageTypeText)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Recipients)
	assert.Zero(t, f.store.count())
	assert.Equal(t, 1, bobSender.eventCount(t, ws.EventMessage))
}

func TestSpamBlockInstallsPenalty(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.join(t, "alice", "room-1", jwt.RoleParticipant)

	var spamErr error
	for i := 0; i < 5; i++ {
		if _, err := f.pipe.HandleChat(alice, "buy my course now", models.MessageTypeText); err != nil {
			spamErr = err
			break
		}
	}
	require.Error(t, spamErr)
	assert.Equal(t, "SPAM", apperrors.FromError(spamErr).Code)

	// The penalty preempts later sends, commands included.
	_, err := f.pipe.HandleChat(alice, "a completely different message", models.MessageTypeText)
	require.Error(t, err)
	assert.Equal(t, "PENALTY_ACTIVE", apperrors.FromError(err).Code)

	_, err = f.pipe.HandleChat(alice, "/status alice", models.MessageTypeText)
	require.Error(t, err)
	assert.Equal(t, "PENALTY_ACTIVE", apperrors.FromError(err).Code)
}
