package private

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"live-interview-chat/backend/internal/models"
	"live-interview-chat/backend/internal/room"
	"live-interview-chat/backend/internal/textproc"
	apperrors "live-interview-chat/backend/pkg/errors"
	"live-interview-chat/backend/pkg/jwt"
	"live-interview-chat/backend/pkg/logger"
	"live-interview-chat/backend/pkg/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory PrivateRepository for the service tests.
type memRepo struct {
	mu     sync.Mutex
	convs  []*models.PrivateConversation
	msgs   []*models.PrivateMessage
	blocks []models.Block

	nextConv uint
	nextMsg  uint
}

func (r *memRepo) GetOrCreateConversation(a, b string) (*models.PrivateConversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := models.PairKey(a, b)
	for _, c := range r.convs {
		if c.PairKey == key {
			cp := *c
			return &cp, nil
		}
	}
	if a > b {
		a, b = b, a
	}
	r.nextConv++
	conv := &models.PrivateConversation{ID: r.nextConv, PairKey: key, ParticipantA: a, ParticipantB: b}
	r.convs = append(r.convs, conv)
	cp := *conv
	return &cp, nil
}

func (r *memRepo) GetConversation(a, b string) (*models.PrivateConversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := models.PairKey(a, b)
	for _, c := range r.convs {
		if c.PairKey == key {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) SavePrivateMessage(message *models.PrivateMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextMsg++
	message.ID = r.nextMsg
	cp := *message
	r.msgs = append(r.msgs, &cp)
	return nil
}

func (r *memRepo) conversationMessages(conversationID uint) []models.PrivateMessage {
	var out []models.PrivateMessage
	for _, m := range r.msgs {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memRepo) HistoryPage(conversationID uint, limit, offset int) ([]models.PrivateMessage, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.conversationMessages(conversationID)
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *memRepo) HistoryBefore(conversationID uint, before time.Time, limit int) ([]models.PrivateMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PrivateMessage
	for _, m := range r.conversationMessages(conversationID) {
		if m.CreatedAt.Before(before) {
			out = append(out, m)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memRepo) MarkRead(conversationID uint, readerID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var marked int64
	for _, m := range r.msgs {
		if m.ConversationID == conversationID && m.SenderID != readerID && m.ReadAt == nil {
			ts := at
			m.ReadAt = &ts
			marked++
		}
	}
	return marked, nil
}

func (r *memRepo) GetPrivateMessage(id uint) (*models.PrivateMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) SoftDeletePrivate(id uint, deletedBy, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.ID == id {
			m.Deleted = true
			m.DeletedBy = deletedBy
			m.DeleteReason = reason
		}
	}
	return nil
}

func (r *memRepo) UnreadCount(conversationID uint, readerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, m := range r.msgs {
		if m.ConversationID == conversationID && m.SenderID != readerID && m.ReadAt == nil && !m.Deleted {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) ConversationsOf(identity string) ([]models.PrivateConversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PrivateConversation
	for _, c := range r.convs {
		if c.ParticipantA == identity || c.ParticipantB == identity {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memRepo) MessagesByParticipant(identity string, from, to time.Time, limit int) ([]models.PrivateMessage, error) {
	convs, _ := r.ConversationsOf(identity)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PrivateMessage
	for _, c := range convs {
		for _, m := range r.msgs {
			if m.ConversationID != c.ID {
				continue
			}
			if !from.IsZero() && m.CreatedAt.Before(from) {
				continue
			}
			if !to.IsZero() && m.CreatedAt.After(to) {
				continue
			}
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) SaveBlock(block *models.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, *block)
	return nil
}

func (r *memRepo) DeleteBlock(blockerID, blockedID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []models.Block
	var removed int64
	for _, b := range r.blocks {
		if b.BlockerID == blockerID && b.BlockedID == blockedID {
			removed++
			continue
		}
		kept = append(kept, b)
	}
	r.blocks = kept
	return removed, nil
}

func (r *memRepo) IsBlocked(a, b string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, blk := range r.blocks {
		if (blk.BlockerID == a && blk.BlockedID == b) || (blk.BlockerID == b && blk.BlockedID == a) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) BlocksOf(blockerID string) ([]models.Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Block
	for _, b := range r.blocks {
		if b.BlockerID == blockerID {
			out = append(out, b)
		}
	}
	return out, nil
}

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

type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (*jwt.Claims, error) {
	return &jwt.Claims{UserID: token, DisplayName: "User " + token, Role: jwt.RoleParticipant}, nil
}

type fixture struct {
	svc      *Service
	repo     *memRepo
	registry *room.Registry
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.New(logger.Config{Level: "error"})
	repo := &memRepo{}
	registry := room.NewRegistry(stubValidator{}, time.Minute, log)
	svc := NewService(repo, registry, textproc.NewProfanityFilter(3, 1), 2000, log)
	f := &fixture{svc: svc, repo: repo, registry: registry, now: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)}
	svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) online(t *testing.T, identity string) *fakeSender {
	t.Helper()
	sender := &fakeSender{}
	conn := f.registry.OnConnect(sender)
	_, err := f.registry.Authenticate(conn, identity)
	require.NoError(t, err)
	return sender
}

func TestSendDeliversToLiveRecipient(t *testing.T) {
	f := newFixture(t)
	bobSender := f.online(t, "bob")

	delivery, err := f.svc.Send("alice", "Alice", "bob", "hello bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", delivery.SenderID)
	assert.Equal(t, "bob", delivery.RecipientID)
	assert.Equal(t, "hello bob", delivery.Content)
	assert.NotZero(t, delivery.MessageID)

	assert.Equal(t, 1, bobSender.eventCount(t, ws.EventPrivateMessage))
	assert.Len(t, f.repo.msgs, 1)
}

func TestSendToOfflineRecipientStillPersists(t *testing.T) {
	f := newFixture(t)

	delivery, err := f.svc.Send("alice", "Alice", "bob", "read this later")
	require.NoError(t, err)
	assert.NotZero(t, delivery.MessageID)
	assert.Len(t, f.repo.msgs, 1)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send("alice", "Alice", "alice", "hi me")
	require.Error(t, err)
	assert.Equal(t, "SELF_MESSAGE", apperrors.FromError(err).Code)

	_, err = f.svc.Send("alice", "Alice", "bob", "")
	require.Error(t, err)
	assert.Equal(t, "EMPTY_MESSAGE", apperrors.FromError(err).Code)

	_, err = f.svc.Send("alice", "Alice", "", "hi")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestSendRejectsProfanity(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send("alice", "Alice", "bob", "fuck off")
	require.Error(t, err)
	assert.Equal(t, "PROFANITY", apperrors.FromError(err).Code)
	assert.Empty(t, f.repo.msgs)
}

func TestBlockRejectsBothDirections(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Block("bob", "alice"))

	_, err := f.svc.Send("alice", "Alice", "bob", "hello")
	require.Error(t, err)
	assert.Equal(t, "BLOCKED", apperrors.FromError(err).Code)

	// The blocker cannot message through their own block either.
	_, err = f.svc.Send("bob", "Bob", "alice", "hello")
	require.Error(t, err)
	assert.Equal(t, "BLOCKED", apperrors.FromError(err).Code)
}

func TestBlockAndUnblockAreIdempotent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Block("bob", "alice"))
	require.NoError(t, f.svc.Block("bob", "alice"))
	assert.Len(t, f.repo.blocks, 1)

	require.NoError(t, f.svc.Unblock("bob", "alice"))
	require.NoError(t, f.svc.Unblock("bob", "alice"))
	assert.Empty(t, f.repo.blocks)

	_, err := f.svc.Send("alice", "Alice", "bob", "we are good again")
	require.NoError(t, err)
}

func TestBlockValidatesTarget(t *testing.T) {
	f := newFixture(t)

	require.Error(t, f.svc.Block("bob", "bob"))
	require.Error(t, f.svc.Block("bob", ""))
}

func TestMarkReadCountsAndNotifiesSender(t *testing.T) {
	f := newFixture(t)
	aliceSender := f.online(t, "alice")

	for i := 0; i < 2; i++ {
		_, err := f.svc.Send("alice", "Alice", "bob", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
		f.now = f.now.Add(time.Second)
	}

	unread, err := f.svc.UnreadCount("bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	marked, err := f.svc.MarkRead("bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)
	assert.Equal(t, 1, aliceSender.eventCount(t, ws.EventPrivateRead))

	// Nothing left to mark; no second receipt goes out.
	marked, err = f.svc.MarkRead("bob", "alice")
	require.NoError(t, err)
	assert.Zero(t, marked)
	assert.Equal(t, 1, aliceSender.eventCount(t, ws.EventPrivateRead))
}

func TestMarkReadWithoutConversation(t *testing.T) {
	f := newFixture(t)

	marked, err := f.svc.MarkRead("bob", "stranger")
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestDeleteBySender(t *testing.T) {
	f := newFixture(t)
	delivery, err := f.svc.Send("alice", "Alice", "bob", "delete me")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete("alice", jwt.RoleParticipant, delivery.MessageID, "typo"))

	err = f.svc.Delete("alice", jwt.RoleParticipant, delivery.MessageID, "again")
	require.Error(t, err)
	assert.Equal(t, "ALREADY_DELETED", apperrors.FromError(err).Code)
}

func TestDeleteRequiresOwnershipOrModerator(t *testing.T) {
	f := newFixture(t)
	delivery, err := f.svc.Send("alice", "Alice", "bob", "private note")
	require.NoError(t, err)

	err = f.svc.Delete("bob", jwt.RoleParticipant, delivery.MessageID, "not mine")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindPermission))

	require.NoError(t, f.svc.Delete("mod-1", jwt.RoleModerator, delivery.MessageID, "policy"))
}

func TestDeleteUnknownMessage(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Delete("alice", jwt.RoleParticipant, 999, "")
	require.Error(t, err)
	assert.Equal(t, "UNKNOWN_MESSAGE", apperrors.FromError(err).Code)
}

func TestHistoryPaginatesNewestFirst(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.svc.Send("alice", "Alice", "bob", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
		f.now = f.now.Add(time.Minute)
	}

	page, err := f.svc.History("bob", "alice", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "message 2", page.Messages[0].Content)
	assert.Equal(t, "message 1", page.Messages[1].Content)

	page, err = f.svc.History("bob", "alice", 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "message 0", page.Messages[0].Content)
}

func TestHistoryRedactsDeletedContent(t *testing.T) {
	f := newFixture(t)
	delivery, err := f.svc.Send("alice", "Alice", "bob", "oops, wrong person")
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete("alice", jwt.RoleParticipant, delivery.MessageID, "misdirected"))

	page, err := f.svc.History("bob", "alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].Deleted)
	assert.Empty(t, page.Messages[0].Content)
}

func TestHistoryWithoutConversation(t *testing.T) {
	f := newFixture(t)

	page, err := f.svc.History("alice", "stranger", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.Zero(t, page.Total)
}

func TestHistoryBeforeCursor(t *testing.T) {
	f := newFixture(t)
	var cutoff time.Time
	for i := 0; i < 3; i++ {
		if i == 2 {
			cutoff = f.now
		}
		_, err := f.svc.Send("alice", "Alice", "bob", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
		f.now = f.now.Add(time.Minute)
	}

	older, err := f.svc.HistoryBefore("bob", "alice", cutoff, 10)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "message 1", older[0].Content)
	assert.Equal(t, "message 0", older[1].Content)
}
