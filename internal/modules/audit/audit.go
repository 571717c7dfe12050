package audit

import (
	"context"
	"time"

	"guardian/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

const (
	EventBan            = "ban"
	EventKick           = "kick"
	EventMute           = "mute"
	EventUnmute         = "unmute"
	EventMuteExpired    = "mute_expired"
	EventWarn           = "warn"
	EventClearWarns     = "clear_warns"
	EventPurge          = "purge"
	EventAntiLink       = "anti_link"
	EventLockdown       = "lockdown"
	EventLockdownLifted = "lockdown_lifted"
	EventSettings       = "settings"
	EventActionFailed   = "action_failed"
)

type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	now    func() time.Time
	notify func(context.Context, storage.AuditLog)
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{store: store, logger: logger, now: time.Now}
}

func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit persist failed", zap.String("event", event), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	l.logger.Info("audit", zap.String("level", level), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details))
}
