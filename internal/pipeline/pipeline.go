package pipeline

import (
	"strings"
	"time"

	"live-interview-chat/backend/internal/guard"
	"live-interview-chat/backend/internal/models"
	"live-interview-chat/backend/internal/moderation"
	"live-interview-chat/backend/internal/room"
	"live-interview-chat/backend/internal/textproc"
	"live-interview-chat/backend/pkg/errors"
	"live-interview-chat/backend/pkg/logger"
	"live-interview-chat/backend/pkg/resilience"
	"live-interview-chat/backend/pkg/ws"

	"github.com/google/uuid"
)

// MessageStore persists accepted chat messages. Chat writes are
// best-effort: a failure is logged and the message still broadcasts.
type MessageStore interface {
	SaveMessage(msg *models.Message) error
}

// Config tunes the pipeline.
type Config struct {
	CommandPrefix    string
	MaxMessageLength int
	Scoring          ScoringConfig
}

// Result is what a handled inbound chat event produced. Exactly one of
// Message or Command is set.
type Result struct {
	Message    *models.Message
	Command    *moderation.CommandResult
	Recipients int
}

// Pipeline runs every inbound chat message through the fixed stage order:
// command detection, moderation gate, profanity, content scoring,
// formatting, emoji expansion, rate/spam, persistence, broadcast. A message
// is either fully rejected (sender notified, nothing persisted or
// broadcast) or fully accepted.
type Pipeline struct {
	cfg       Config
	guard     *guard.Guard
	profanity *textproc.ProfanityFilter
	formatter *textproc.Formatter
	emoji     *textproc.EmojiExpander
	engine    *moderation.Engine
	store     MessageStore
	registry  *room.Registry
	breaker   *resilience.CircuitBreaker
	scorer    *scorer
	log       *logger.Logger
}

// New wires the pipeline stages together.
func New(
	cfg Config,
	g *guard.Guard,
	filter *textproc.ProfanityFilter,
	formatter *textproc.Formatter,
	emoji *textproc.EmojiExpander,
	engine *moderation.Engine,
	store MessageStore,
	registry *room.Registry,
	log *logger.Logger,
) *Pipeline {
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "/"
	}
	return &Pipeline{
		cfg:       cfg,
		guard:     g,
		profanity: filter,
		formatter: formatter,
		emoji:     emoji,
		engine:    engine,
		store:     store,
		registry:  registry,
		breaker:   resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("message-store"), log),
		scorer:    newScorer(cfg.Scoring),
		log:       log,
	}
}

// HandleChat processes one inbound chat message from a connection. The
// connection's identity and membership are read once as a locked snapshot;
// the sweeper may rewrite the live fields mid-flight.
func (p *Pipeline) HandleChat(conn *room.Connection, rawText string, msgType models.MessageType) (*Result, error) {
	state := p.registry.SnapshotOf(conn)
	if !state.Authenticated() {
		return nil, errors.NewStateError("NOT_AUTHENTICATED", "Authenticate before sending messages")
	}
	if state.RoomID == "" {
		return nil, errors.NewStateError("NOT_IN_ROOM", "Join a room before sending messages")
	}
	if msgType == "" {
		msgType = models.MessageTypeText
	}

	// Stage 1: command detection. Commands bypass the chat pipeline and go
	// to the moderation interpreter; an active guard penalty still preempts.
	if strings.HasPrefix(rawText, p.cfg.CommandPrefix) && len(rawText) > len(p.cfg.CommandPrefix) {
		if err := p.checkPenalty(state.Identity); err != nil {
			return nil, p.reject(err)
		}
		cmd, err := p.engine.ExecuteCommand(
			moderation.Actor{ID: state.Identity, Role: state.Role},
			state.RoomID,
			strings.TrimPrefix(rawText, p.cfg.CommandPrefix),
		)
		if err != nil {
			return nil, p.reject(err)
		}
		if cmd.Announcement != "" {
			p.announce(state.RoomID, cmd.Announcement)
		}
		messagesTotal.WithLabelValues("command").Inc()
		return &Result{Command: cmd}, nil
	}

	// Stage 2: moderation gate, guard penalty first.
	if err := p.checkPenalty(state.Identity); err != nil {
		return nil, p.reject(err)
	}
	if err := p.engine.CheckGate(state.Identity, state.RoomID); err != nil {
		return nil, p.reject(err)
	}

	// Stage 3: profanity filtering.
	scan := p.profanity.Scan(rawText)
	if scan.Action == textproc.ProfanityBlock {
		if scan.AutoWarn {
			if _, err := p.engine.AutoWarn(state.Identity, state.RoomID, "profanity", scan.MaxSeverity); err != nil {
				p.log.LogError(err, "auto warning failed", "identity", state.Identity)
			}
		}
		p.registry.RecordViolation(conn)
		return nil, p.reject(errors.NewModerationBlockError("PROFANITY", "Message contains disallowed language"))
	}
	content := scan.Filtered

	// Stage 4: rule-based content scoring.
	if verdict := p.scorer.Score(content); !verdict.Allowed {
		if _, err := p.engine.AutoWarn(state.Identity, state.RoomID, verdict.Reason, verdict.Severity); err != nil {
			p.log.LogError(err, "auto warning failed", "identity", state.Identity)
		}
		p.registry.RecordViolation(conn)
		return nil, p.reject(errors.NewModerationBlockError("CONTENT_REJECTED", "Message rejected: "+verdict.Reason))
	}

	// Stage 5: formatting validation and rendering.
	rendered, meta, err := p.formatter.Render(content)
	if err != nil {
		return nil, p.reject(err)
	}

	// Stage 6: emoji expansion.
	rendered, emojiCount := p.emoji.Expand(rendered)

	// Stage 7: rate limiting and spam scoring.
	if err := p.guard.CheckRate(state.Identity, state.Role); err != nil {
		return nil, p.reject(err)
	}
	if verdict, reason := p.guard.ScoreSpam(state.Identity, rawText, state.Role); verdict == guard.VerdictBlock {
		p.registry.RecordViolation(conn)
		return nil, p.reject(errors.NewModerationBlockError("SPAM", "Message rejected as spam: "+reason))
	} else if verdict == guard.VerdictWarn {
		p.log.Warn("spam heuristics flagged message", "identity", state.Identity, "reason", reason)
	}

	msg := &models.Message{
		ExternalID:    uuid.New().String(),
		RoomID:        state.RoomID,
		SenderID:      state.Identity,
		SenderName:    state.DisplayName,
		RawContent:    rawText,
		Content:       rendered,
		Type:          msgType,
		EmojiCount:    emojiCount,
		HasFormatting: meta.HasFormatting,
		WordCount:     meta.WordCount,
		CharCount:     meta.CharCount,
		LinkCount:     len(meta.Links),
		Mentions:      strings.Join(meta.Mentions, ","),
		Timestamp:     time.Now().UTC(),
	}

	// Stage 8: persistence. Best-effort for chat: a store failure is logged
	// and the message still broadcasts, trading durability for liveness.
	if err := p.breaker.Execute(func() error { return p.store.SaveMessage(msg) }); err != nil {
		persistenceFailures.Inc()
		p.log.LogError(err, "message persistence failed, broadcasting anyway",
			"room_id", state.RoomID,
			"message_id", msg.ExternalID,
		)
	}

	// Stage 9: broadcast to every member of the room, sender included.
	recipients := p.registry.BroadcastEvent(state.RoomID, ws.EventMessage, msg, "")
	broadcastsTotal.Add(float64(recipients))
	messagesTotal.WithLabelValues("accepted").Inc()

	return &Result{Message: msg, Recipients: recipients}, nil
}

// checkPenalty converts an active guard penalty into a rate-limit error
// carrying the remaining duration.
func (p *Pipeline) checkPenalty(identity string) error {
	penalty, active := p.guard.ActivePenalty(identity)
	if !active {
		return nil
	}
	return errors.NewRateLimitError(
		"PENALTY_ACTIVE",
		"You are temporarily blocked: "+penalty.Reason,
		time.Until(penalty.ExpiresAt),
	)
}

// announce persists and broadcasts a room-wide system message.
func (p *Pipeline) announce(roomID, text string) {
	msg := &models.Message{
		ExternalID: uuid.New().String(),
		RoomID:     roomID,
		SenderID:   "system",
		SenderName: "System",
		RawContent: text,
		Content:    text,
		Type:       models.MessageTypeSystem,
		Timestamp:  time.Now().UTC(),
	}
	if err := p.breaker.Execute(func() error { return p.store.SaveMessage(msg) }); err != nil {
		persistenceFailures.Inc()
		p.log.LogError(err, "system message persistence failed", "room_id", roomID)
	}
	p.registry.BroadcastEvent(roomID, ws.EventSystem, msg, "")
}

func (p *Pipeline) reject(err error) error {
	messagesTotal.WithLabelValues("rejected").Inc()
	rejectionsTotal.WithLabelValues(string(errors.KindOf(err))).Inc()
	return err
}
