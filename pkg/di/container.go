package di

import (
	"fmt"

	"live-interview-chat/backend/internal/export"
	"live-interview-chat/backend/internal/guard"
	"live-interview-chat/backend/internal/moderation"
	"live-interview-chat/backend/internal/pipeline"
	"live-interview-chat/backend/internal/private"
	"live-interview-chat/backend/internal/relay"
	"live-interview-chat/backend/internal/repository"
	"live-interview-chat/backend/internal/room"
	"live-interview-chat/backend/internal/textproc"
	"live-interview-chat/backend/internal/ws"
	"live-interview-chat/backend/pkg/config"
	"live-interview-chat/backend/pkg/jwt"
	"live-interview-chat/backend/pkg/logger"
	sharedredis "live-interview-chat/backend/shared/redis"

	"gorm.io/gorm"
)

// Container holds the application's wired components.
type Container struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *gorm.DB

	JWTService *jwt.Service

	MessageRepo    *repository.GormMessageRepository
	ModerationRepo *repository.GormModerationRepository
	PrivateRepo    *repository.GormPrivateRepository

	Registry  *room.Registry
	Guard     *guard.Guard
	Profanity *textproc.ProfanityFilter
	Formatter *textproc.Formatter
	Emoji     *textproc.EmojiExpander
	Engine    *moderation.Engine
	Pipeline  *pipeline.Pipeline
	Private   *private.Service
	Export    *export.Service
	Relay     *relay.Relay
	WSHandler *ws.Handler
}

// New builds the container from configuration. The relay stays nil when
// cross-instance fanout is disabled.
func New(cfg *config.Config, log *logger.Logger, db *gorm.DB) (*Container, error) {
	c := &Container{Config: cfg, Logger: log, DB: db}

	c.JWTService = jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry)

	c.MessageRepo = repository.NewGormMessageRepository(db)
	c.ModerationRepo = repository.NewGormModerationRepository(db)
	c.PrivateRepo = repository.NewGormPrivateRepository(db)

	c.Registry = room.NewRegistry(c.JWTService, cfg.Chat.HeartbeatInterval, log)

	c.Guard = guard.New(guard.Config{
		Window:             cfg.Chat.RateWindow,
		ParticipantCap:     cfg.Chat.ParticipantCap,
		HostCap:            cfg.Chat.HostCap,
		ModeratorCap:       cfg.Chat.ModeratorCap,
		MaxRepetitionRatio: cfg.Spam.MaxRepetitionRatio,
		DuplicateLimit:     cfg.Spam.DuplicateLimit,
		DuplicateMemory:    cfg.Spam.DuplicateMemory,
		MaxLinks:           cfg.Spam.MaxLinks,
		PenaltyDuration:    cfg.Spam.PenaltyDuration,
	}, log)

	c.Profanity = textproc.NewProfanityFilter(cfg.Moderation.ProfanitySeverity, 1)
	c.Formatter = textproc.NewFormatter(cfg.Chat.MaxMessageLength)
	c.Emoji = textproc.NewEmojiExpander()

	c.Engine = moderation.NewEngine(moderation.Config{
		WarningsBeforeMute: cfg.Moderation.WarningsBeforeMute,
		SevereBeforeBan:    cfg.Moderation.SevereBeforeBan,
		EscalationWindow:   cfg.Moderation.EscalationWindow,
		AutoMuteDuration:   cfg.Moderation.AutoMuteDuration,
		AutoBanDuration:    cfg.Moderation.AutoBanDuration,
		SevereSeverity:     moderation.DefaultConfig().SevereSeverity,
	}, c.ModerationRepo, log)
	if err := c.Engine.LoadActive(); err != nil {
		return nil, fmt.Errorf("loading active sanctions: %w", err)
	}

	c.Pipeline = pipeline.New(pipeline.Config{
		CommandPrefix:    cfg.Chat.CommandPrefix,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		Scoring: pipeline.ScoringConfig{
			MaxCapsRatio:       cfg.Moderation.MaxCapsRatio,
			MaxLinksPerMessage: cfg.Moderation.MaxLinksPerMessage,
		},
	}, c.Guard, c.Profanity, c.Formatter, c.Emoji, c.Engine, c.MessageRepo, c.Registry, log)

	c.Private = private.NewService(c.PrivateRepo, c.Registry, c.Profanity, cfg.Chat.MaxMessageLength, log)

	c.Export = export.NewService(export.Config{
		ArtifactTTL: cfg.Export.ArtifactTTL,
		MaxRecords:  cfg.Export.MaxRecords,
	}, c.MessageRepo, c.PrivateRepo, c.ModerationRepo, log)

	if cfg.Redis.RelayEnabled {
		client, err := sharedredis.NewClient(cfg.Redis.Addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		c.Relay = relay.New(client, c.Registry, log)
	}

	var publisher ws.RelayPublisher
	if c.Relay != nil {
		publisher = c.Relay
	}
	c.WSHandler = ws.NewHandler(ws.Config{
		AllowedOrigins:  cfg.Security.AllowedOrigins,
		SendBuffer:      cfg.Chat.SendBuffer,
		HistorySnapshot: cfg.Chat.HistorySnapshot,
	}, c.Registry, c.Pipeline, c.Engine, c.Private, c.Export, c.MessageRepo, c.Emoji, publisher, log)

	return c, nil
}
