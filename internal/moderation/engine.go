package moderation

import (
	"fmt"
	"sync"
	"time"

	"live-interview-chat/backend/internal/models"
	"live-interview-chat/backend/pkg/errors"
	"live-interview-chat/backend/pkg/jwt"
	"live-interview-chat/backend/pkg/logger"

	"github.com/google/uuid"
)

// Store is the durable backend for moderation records. Writes here require
// strict durability: the engine applies no in-memory state change unless the
// store write succeeded.
type Store interface {
	SaveAction(action *models.ModerationAction) error
	UpdateAction(action *models.ModerationAction) error
	GetActionByID(externalID string) (*models.ModerationAction, error)
	ListActiveActions() ([]models.ModerationAction, error)

	SaveAppeal(appeal *models.Appeal) error
	UpdateAppeal(appeal *models.Appeal) error
	GetAppealByID(externalID string) (*models.Appeal, error)
	ListAppealsByViolation(violationID string) ([]models.Appeal, error)

	AppendAudit(entry *models.AuditEntry) error
	QueryAudit(roomID string, from, to time.Time, limit int) ([]models.AuditEntry, error)
}

// Config tunes auto-escalation. The thresholds are configuration, not
// constants: deployments adjust them per room culture.
type Config struct {
	WarningsBeforeMute int
	SevereBeforeBan    int
	EscalationWindow   time.Duration
	AutoMuteDuration   time.Duration
	AutoBanDuration    time.Duration
	SevereSeverity     int
}

// DefaultConfig returns the default escalation tuning.
func DefaultConfig() Config {
	return Config{
		WarningsBeforeMute: 3,
		SevereBeforeBan:    3,
		EscalationWindow:   10 * time.Minute,
		AutoMuteDuration:   5 * time.Minute,
		AutoBanDuration:    24 * time.Hour,
		SevereSeverity:     4,
	}
}

// Actor identifies who is issuing a moderation operation.
type Actor struct {
	ID   string
	Role jwt.Role
}

// System is the actor recorded for automatic escalations.
var System = Actor{ID: "system", Role: jwt.RoleAdmin}

// Status is the moderation state of an (identity, room) pair.
type Status string

const (
	StatusClear  Status = "clear"
	StatusWarned Status = "warned"
	StatusMuted  Status = "muted"
	StatusBanned Status = "banned"
)

type sanctionKey struct {
	identity string
	room     string
}

// Engine owns the per-(identity, room) moderation state machine. Active
// sanctions are cached in memory and mirrored to the store; the store write
// happens first so acknowledgments imply durability.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	store    Store
	log      *logger.Logger
	mutes    map[sanctionKey]*models.ModerationAction
	bans     map[sanctionKey]*models.ModerationAction
	warnings map[sanctionKey][]time.Time
	severe   map[sanctionKey][]time.Time

	now func() time.Time
}

// NewEngine creates an engine over the given store.
func NewEngine(cfg Config, store Store, log *logger.Logger) *Engine {
	if cfg.WarningsBeforeMute <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		log:      log,
		mutes:    make(map[sanctionKey]*models.ModerationAction),
		bans:     make(map[sanctionKey]*models.ModerationAction),
		warnings: make(map[sanctionKey][]time.Time),
		severe:   make(map[sanctionKey][]time.Time),
		now:      time.Now,
	}
}

// LoadActive primes the in-memory sanction cache from the store, used at
// startup so restarts keep mutes and bans in force.
func (e *Engine) LoadActive() error {
	actions, err := e.store.ListActiveActions()
	if err != nil {
		return errors.NewPersistenceError("MODERATION_LOAD_FAILED", "Could not load active sanctions")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for i := range actions {
		action := actions[i]
		if action.Expired(now) {
			continue
		}
		key := sanctionKey{identity: action.TargetID, room: action.RoomID}
		switch action.Kind {
		case models.ActionMute:
			e.mutes[key] = &action
		case models.ActionBan:
			e.bans[key] = &action
		}
	}
	return nil
}

// Warn issues a warning against the target and may escalate to an automatic
// mute when warnings accumulate inside the escalation window. The returned
// action is the escalation if one fired, otherwise the warning itself.
func (e *Engine) Warn(actor Actor, target, roomID, reason string, severity int) (*models.ModerationAction, error) {
	if !actor.Role.CanModerate() {
		return nil, errors.NewPermissionError("MODERATOR_REQUIRED", "Only moderators may warn")
	}
	return e.recordWarning(actor, target, roomID, reason, severity, false)
}

// AutoWarn records a warning raised by the pipeline's safety stages.
func (e *Engine) AutoWarn(target, roomID, reason string, severity int) (*models.ModerationAction, error) {
	return e.recordWarning(System, target, roomID, reason, severity, true)
}

func (e *Engine) recordWarning(actor Actor, target, roomID, reason string, severity int, automatic bool) (*models.ModerationAction, error) {
	warning := &models.ModerationAction{
		ExternalID: uuid.New().String(),
		TargetID:   target,
		RoomID:     roomID,
		Kind:       models.ActionWarn,
		Severity:   severity,
		Reason:     reason,
		IssuedBy:   actor.ID,
		Automatic:  automatic,
		Active:     true,
		CreatedAt:  e.now(),
	}
	if err := e.persistAction(warning, actor); err != nil {
		return nil, err
	}

	e.mu.Lock()
	key := sanctionKey{identity: target, room: roomID}
	now := e.now()
	e.warnings[key] = appendInWindow(e.warnings[key], now, e.cfg.EscalationWindow)
	warningCount := len(e.warnings[key])
	severeCount := 0
	if severity >= e.cfg.SevereSeverity {
		e.severe[key] = appendInWindow(e.severe[key], now, e.cfg.EscalationWindow)
		severeCount = len(e.severe[key])
	}
	e.mu.Unlock()

	// Severe violations escalate to a ban before the mute rule is consulted.
	if severeCount >= e.cfg.SevereBeforeBan {
		return e.applySanction(System, target, roomID, models.ActionBan,
			e.cfg.AutoBanDuration, "automatic ban after repeated severe violations", true)
	}
	if warningCount >= e.cfg.WarningsBeforeMute {
		return e.applySanction(System, target, roomID, models.ActionMute,
			e.cfg.AutoMuteDuration, "automatic mute after repeated warnings", true)
	}
	return warning, nil
}

// Mute suppresses the target's chat in the room. duration <= 0 is permanent.
func (e *Engine) Mute(actor Actor, target, roomID string, duration time.Duration, reason string) (*models.ModerationAction, error) {
	if !actor.Role.CanModerate() {
		return nil, errors.NewPermissionError("MODERATOR_REQUIRED", "Only moderators may mute")
	}
	return e.applySanction(actor, target, roomID, models.ActionMute, duration, reason, false)
}

// Ban suppresses all participation by the target in the room.
// duration <= 0 is permanent.
func (e *Engine) Ban(actor Actor, target, roomID string, duration time.Duration, reason string) (*models.ModerationAction, error) {
	if !actor.Role.CanModerate() {
		return nil, errors.NewPermissionError("MODERATOR_REQUIRED", "Only moderators may ban")
	}
	return e.applySanction(actor, target, roomID, models.ActionBan, duration, reason, false)
}

// Unmute lifts an active mute, returning the state machine to clear.
func (e *Engine) Unmute(actor Actor, target, roomID, reason string) (*models.ModerationAction, error) {
	return e.liftSanction(actor, target, roomID, models.ActionMute, models.ActionUnmute, reason)
}

// Unban lifts an active ban.
func (e *Engine) Unban(actor Actor, target, roomID, reason string) (*models.ModerationAction, error) {
	return e.liftSanction(actor, target, roomID, models.ActionBan, models.ActionUnban, reason)
}

// StatusOf reports the target's current state in the room, folding in
// lapsed expirations.
func (e *Engine) StatusOf(target, roomID string) Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := sanctionKey{identity: target, room: roomID}
	now := e.now()
	if ban := e.activeLocked(e.bans, key, now); ban != nil {
		return StatusBanned
	}
	if mute := e.activeLocked(e.mutes, key, now); mute != nil {
		return StatusMuted
	}
	if len(pruneWindow(e.warnings[key], now, e.cfg.EscalationWindow)) > 0 {
		return StatusWarned
	}
	return StatusClear
}

// CheckGate rejects senders with an active ban or mute in the room (or
// globally). Mute rejections carry the mute's expiry. Expired sanctions are
// cleared as a side effect: no explicit unmute is needed.
func (e *Engine) CheckGate(target, roomID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for _, key := range []sanctionKey{
		{identity: target, room: roomID},
		{identity: target, room: ""}, // global sanctions
	} {
		if ban := e.activeLocked(e.bans, key, now); ban != nil {
			err := errors.NewModerationBlockError("BANNED", "You are banned from this room")
			if ban.ExpiresAt != nil {
				err.WithExpiry(*ban.ExpiresAt)
			}
			return err
		}
		if mute := e.activeLocked(e.mutes, key, now); mute != nil {
			err := errors.NewModerationBlockError("MUTED", "You are muted in this room")
			if mute.ExpiresAt != nil {
				err.WithExpiry(*mute.ExpiresAt)
			}
			return err
		}
	}
	return nil
}

// CheckJoin rejects room joins for banned identities.
func (e *Engine) CheckJoin(target, roomID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for _, key := range []sanctionKey{
		{identity: target, room: roomID},
		{identity: target, room: ""},
	} {
		if ban := e.activeLocked(e.bans, key, now); ban != nil {
			err := errors.NewModerationBlockError("BANNED", "You are banned from this room")
			if ban.ExpiresAt != nil {
				err.WithExpiry(*ban.ExpiresAt)
			}
			return err
		}
	}
	return nil
}

// ClearRoomMutes lifts every active mute in the room. Each lifted mute is
// itemized in the audit log. Returns the number of mutes cleared.
func (e *Engine) ClearRoomMutes(actor Actor, roomID string) (int, error) {
	if !actor.Role.CanModerate() {
		return 0, errors.NewPermissionError("MODERATOR_REQUIRED", "Only moderators may clear mutes")
	}

	e.mu.Lock()
	var targets []string
	for key, mute := range e.mutes {
		if key.room == roomID && !mute.Expired(e.now()) {
			targets = append(targets, key.identity)
		}
	}
	e.mu.Unlock()

	cleared := 0
	for _, target := range targets {
		if _, err := e.Unmute(actor, target, roomID, "bulk clear"); err == nil {
			cleared++
		}
	}
	return cleared, nil
}

// PurgeExpired deactivates lapsed timed sanctions in the store and drops
// them from the cache, itemizing each in the audit log.
func (e *Engine) PurgeExpired(actor Actor) (int, error) {
	if !actor.Role.CanModerate() {
		return 0, errors.NewPermissionError("MODERATOR_REQUIRED", "Only moderators may purge violations")
	}

	e.mu.Lock()
	now := e.now()
	var expired []*models.ModerationAction
	for key, mute := range e.mutes {
		if mute.Expired(now) {
			expired = append(expired, mute)
			delete(e.mutes, key)
		}
	}
	for key, ban := range e.bans {
		if ban.Expired(now) {
			expired = append(expired, ban)
			delete(e.bans, key)
		}
	}
	e.mu.Unlock()

	purged := 0
	for _, action := range expired {
		action.Active = false
		if err := e.store.UpdateAction(action); err != nil {
			e.log.LogError(err, "failed to deactivate expired sanction", "action_id", action.ExternalID)
			continue
		}
		e.appendAudit(actor, "purge_expired", action.TargetID, action.RoomID,
			fmt.Sprintf("expired %s purged", action.Kind))
		purged++
	}
	return purged, nil
}

// AuditLog returns audit entries for a room inside the time window.
func (e *Engine) AuditLog(roomID string, from, to time.Time, limit int) ([]models.AuditEntry, error) {
	entries, err := e.store.QueryAudit(roomID, from, to, limit)
	if err != nil {
		return nil, errors.NewPersistenceError("AUDIT_QUERY_FAILED", "Could not query the audit log")
	}
	return entries, nil
}

func (e *Engine) applySanction(actor Actor, target, roomID string, kind models.ActionKind, duration time.Duration, reason string, automatic bool) (*models.ModerationAction, error) {
	action := &models.ModerationAction{
		ExternalID: uuid.New().String(),
		TargetID:   target,
		RoomID:     roomID,
		Kind:       kind,
		Reason:     reason,
		IssuedBy:   actor.ID,
		Automatic:  automatic,
		Active:     true,
		CreatedAt:  e.now(),
	}
	if duration > 0 {
		expiry := action.CreatedAt.Add(duration)
		action.ExpiresAt = &expiry
	}

	// A new sanction of the same kind supersedes the prior active one. The
	// prior read, the store writes and the cache update stay inside one
	// critical section: overlapping sanctions for the same key serialize
	// here, never leaving two active rows in the store.
	key := sanctionKey{identity: target, room: roomID}
	e.mu.Lock()
	defer e.mu.Unlock()

	var prior *models.ModerationAction
	switch kind {
	case models.ActionMute:
		prior = e.mutes[key]
	case models.ActionBan:
		prior = e.bans[key]
	}
	if prior != nil {
		prior.Active = false
		if err := e.store.UpdateAction(prior); err != nil {
			prior.Active = true
			return nil, errors.NewPersistenceError("MODERATION_WRITE_FAILED", "Could not supersede the prior sanction")
		}
	}
	if err := e.persistAction(action, actor); err != nil {
		return nil, err
	}

	switch kind {
	case models.ActionMute:
		e.mutes[key] = action
	case models.ActionBan:
		e.bans[key] = action
	}

	e.log.Info("sanction applied",
		"kind", string(kind),
		"target", target,
		"room_id", roomID,
		"issued_by", actor.ID,
		"automatic", automatic,
	)
	return action, nil
}

func (e *Engine) liftSanction(actor Actor, target, roomID string, kind, liftKind models.ActionKind, reason string) (*models.ModerationAction, error) {
	if !actor.Role.CanModerate() {
		return nil, errors.NewPermissionError("MODERATOR_REQUIRED", "Only moderators may lift sanctions")
	}

	// Same critical section discipline as applySanction: the active read,
	// the store writes and the cache delete must not interleave with a
	// concurrent sanction on the same key.
	key := sanctionKey{identity: target, room: roomID}
	e.mu.Lock()
	defer e.mu.Unlock()

	var active *models.ModerationAction
	switch kind {
	case models.ActionMute:
		active = e.activeLocked(e.mutes, key, e.now())
	case models.ActionBan:
		active = e.activeLocked(e.bans, key, e.now())
	}
	if active == nil {
		return nil, errors.NewStateError("NO_ACTIVE_SANCTION",
			fmt.Sprintf("No active %s for this identity in the room", kind))
	}

	active.Active = false
	if err := e.store.UpdateAction(active); err != nil {
		active.Active = true
		return nil, errors.NewPersistenceError("MODERATION_WRITE_FAILED", "Could not lift the sanction")
	}

	lift := &models.ModerationAction{
		ExternalID: uuid.New().String(),
		TargetID:   target,
		RoomID:     roomID,
		Kind:       liftKind,
		Reason:     reason,
		IssuedBy:   actor.ID,
		Active:     false,
		CreatedAt:  e.now(),
	}
	if err := e.persistAction(lift, actor); err != nil {
		return nil, err
	}

	switch kind {
	case models.ActionMute:
		delete(e.mutes, key)
	case models.ActionBan:
		delete(e.bans, key)
	}

	return lift, nil
}

// persistAction writes the action and its audit entry. Moderation writes
// require durability before acknowledgment, so failures abort the operation.
func (e *Engine) persistAction(action *models.ModerationAction, actor Actor) error {
	if err := e.store.SaveAction(action); err != nil {
		e.log.LogError(err, "moderation write failed", "kind", string(action.Kind), "target", action.TargetID)
		return errors.NewPersistenceError("MODERATION_WRITE_FAILED", "Could not record the moderation action")
	}
	e.appendAudit(actor, string(action.Kind), action.TargetID, action.RoomID, action.Reason)
	return nil
}

func (e *Engine) appendAudit(actor Actor, eventType, target, roomID, detail string) {
	entry := &models.AuditEntry{
		EventID:   uuid.New().String(),
		EventType: eventType,
		ActorID:   actor.ID,
		TargetID:  target,
		RoomID:    roomID,
		Detail:    detail,
		CreatedAt: e.now(),
	}
	if err := e.store.AppendAudit(entry); err != nil {
		e.log.LogError(err, "audit append failed", "event_type", eventType)
	}
}

// activeLocked returns the cached sanction if still in force, clearing it
// when its expiry has lapsed.
func (e *Engine) activeLocked(cache map[sanctionKey]*models.ModerationAction, key sanctionKey, now time.Time) *models.ModerationAction {
	action, ok := cache[key]
	if !ok {
		return nil
	}
	if action.Expired(now) {
		delete(cache, key)
		// Best-effort store sync; the expiry itself already cleared the state.
		action.Active = false
		if err := e.store.UpdateAction(action); err != nil {
			e.log.LogError(err, "failed to deactivate expired sanction", "action_id", action.ExternalID)
		}
		return nil
	}
	return action
}

func appendInWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	return append(pruneWindow(times, now, window), now)
}

func pruneWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
