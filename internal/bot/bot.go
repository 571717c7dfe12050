package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"guardian/internal/analytics"
	"guardian/internal/config"
	"guardian/internal/fun"
	"guardian/internal/lockdown"
	"guardian/internal/modules/antilink"
	"guardian/internal/modules/antiraid"
	"guardian/internal/modules/audit"
	"guardian/internal/mute"
	"guardian/internal/nettools"
	"guardian/internal/raid"
	"guardian/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	audit     *audit.Logger
	analytics *analytics.Service
	session   *discordgo.Session
	roles     roleRemover

	ledger   *mute.Ledger
	sweeper  *mute.Sweeper
	monitor  *raid.Monitor
	antiraid *antiraid.Module
	antilink *antilink.Module
	lockdown *lockdown.Manager
	fun      *fun.Table
	nettools *nettools.Tools

	mutedRoleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, mutes mute.Persister, auditLogger *audit.Logger, analyticsEngine *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		audit:     auditLogger,
		analytics: analyticsEngine,
		session:   session,
		roles:     session,
		ledger:    mute.NewLedger(mutes),
		fun:       fun.NewTable(cfg.Fun),
		nettools:  nettools.New(cfg.NetTools.PerUserPerMinute, time.Duration(cfg.NetTools.MaxTimeoutSeconds)*time.Second),
	}

	interval := time.Duration(cfg.SweepIntervalSeconds) * time.Second
	b.sweeper = mute.NewSweeper(b.ledger, interval, b.expireMute, logger)
	window := time.Duration(cfg.Defaults.RaidWindowSeconds) * time.Second
	b.monitor = raid.NewMonitor(window, b.engageLockdown)
	b.antiraid = antiraid.New(b.monitor, window, auditLogger)
	b.antilink = antilink.New(antilink.FromSession(session), auditLogger, time.Duration(cfg.Notifications.LinkNoticeSeconds)*time.Second)
	b.lockdown = lockdown.New(lockdown.FromSession(session), logger)
	if b.audit != nil {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			if !b.cfg.Notifications.AuditToChannel {
				return
			}
			b.notifyAudit(ctx, entry)
		})
	}

	return b, nil
}

func (b *Bot) Start(ctx context.Context) error {
	if err := b.ledger.Load(ctx); err != nil {
		return fmt.Errorf("load mutes: %w", err)
	}
	b.logger.Info("mutes restored", zap.Int("count", b.ledger.Len()))

	locked, err := b.store.LockedGuilds(ctx)
	if err != nil {
		return fmt.Errorf("load lockdowns: %w", err)
	}
	if resumed := b.antiraid.Resume(locked); resumed > 0 {
		b.logger.Info("lockdowns resumed", zap.Int("count", resumed))
	}

	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.sweeper.Run(runCtx)
	}()
	b.logger.Info("mute sweeper started", zap.Duration("interval", b.sweeper.Interval()))
	if b.cfg.AuditRetentionDays > 0 {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.runAuditCleanup(runCtx)
		}()
	}

	return nil
}

func (b *Bot) runAuditCleanup(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		if err := b.store.CleanupAuditLogs(ctx, b.cfg.AuditRetentionDays); err != nil && ctx.Err() == nil {
			b.logger.Warn("audit cleanup failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// notifyAudit mirrors warning-level moderation events to the guild's alert
// channel. Lockdowns post their own alert.
func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	if entry.Level == audit.LevelInfo || entry.Event == audit.EventLockdown {
		return
	}
	settings := b.guildSettings(ctx, entry.GuildID)
	if settings.AlertChannelID == "" {
		return
	}
	embed := b.commandEmbed(auditTitle(entry.Event), truncate(entry.Details, 4000), b.cfg.Notifications.EmbedColors.Warning, []*discordgo.MessageEmbedField{
		{Name: "Member", Value: "<@" + entry.UserID + ">", Inline: true},
	})
	if _, err := b.session.ChannelMessageSendEmbed(settings.AlertChannelID, embed); err != nil {
		b.logger.Warn("audit notify failed", zap.String("guild_id", entry.GuildID), zap.Error(err))
	}
}

func auditTitle(event string) string {
	switch event {
	case audit.EventBan:
		return "Member banned"
	case audit.EventKick:
		return "Member kicked"
	case audit.EventMute:
		return "Member muted"
	case audit.EventActionFailed:
		return "Moderation action failed"
	default:
		return event
	}
}

// Close shuts the gateway so no new commands arrive, stops the sweeper,
// waits for an in-flight tick, and writes the ledger one last time.
func (b *Bot) Close(ctx context.Context) {
	if b.session != nil {
		_ = b.session.Close()
	}
	if b.cancel != nil {
		b.cancel()
	}
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("sweeper did not stop before shutdown deadline")
	}

	if err := b.ledger.Flush(ctx); err != nil {
		b.logger.Error("final mute flush failed", zap.Error(err))
	}
}

// Ready reports whether the gateway connection is up, for /health.
func (b *Bot) Ready() bool {
	return b.session != nil && b.session.DataReady
}

func (b *Bot) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !b.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("connecting"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}

	ctx := context.Background()
	settings := b.guildSettings(ctx, msg.GuildID)
	if !settings.AntiLink {
		return
	}
	if b.isModerator(msg.GuildID, msg.Member, settings) {
		return
	}

	removed, err := b.antilink.HandleMessage(ctx, msg.Message, b.allowlist(ctx, msg.GuildID))
	if err != nil {
		b.logger.Warn("anti-link action failed", zap.String("guild_id", msg.GuildID), zap.String("channel_id", msg.ChannelID), zap.Error(err))
		return
	}
	if removed {
		b.logger.Debug("link removed", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.Author.ID))
	}
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.Member.User == nil {
		return
	}
	ctx := context.Background()
	guildID := event.GuildID
	userID := event.Member.User.ID
	settings := b.guildSettings(ctx, guildID)

	// leaving and rejoining does not shed an active mute
	if record, muted := b.ledger.Get(guildID, userID); muted {
		roleID := record.RoleID
		var err error
		if roleID == "" {
			roleID, err = b.ensureMutedRole(guildID, settings.MutedRoleName)
		}
		if err == nil {
			if err := b.session.GuildMemberRoleAdd(guildID, userID, roleID); err != nil {
				b.logger.Warn("reapply muted role failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
			}
		}
	}

	decision := b.antiraid.HandleJoin(ctx, guildID, userID, time.Now(), antiraid.Settings{
		Enabled: settings.AntiRaid,
		Joins:   settings.RaidJoins,
		Window:  time.Duration(settings.RaidWindowSeconds) * time.Second,
	})
	if decision.Triggered {
		b.logger.Warn("raid detected", zap.String("guild_id", guildID), zap.Int("joins", decision.Count), zap.Error(decision.Err))
	}
}

// expireMute is the sweeper callback; it lifts the muted role once the
// ledger has already dropped the record.
func (b *Bot) expireMute(ctx context.Context, record mute.Record) error {
	roleID, ok := b.mutedRoleFor(ctx, record.GuildID, record)
	if !ok {
		return fmt.Errorf("muted role for %s/%s not found", record.GuildID, record.MemberID)
	}
	if err := b.roles.GuildMemberRoleRemove(record.GuildID, record.MemberID, roleID); err != nil {
		if isUnknownMember(err) {
			return nil
		}
		return err
	}
	detail := "expired"
	if record.Malformed {
		detail = "malformed stored expiry"
	}
	b.audit.Log(ctx, audit.LevelInfo, record.GuildID, record.MemberID, audit.EventMuteExpired, detail)
	return nil
}

// engageLockdown is the raid monitor callback.
func (b *Bot) engageLockdown(ctx context.Context, guildID string) error {
	settings := b.guildSettings(ctx, guildID)
	err := b.lockdown.Apply(ctx, guildID, lockdown.Alert{ChannelID: settings.AlertChannelID, ModRoleID: settings.ModRoleID})
	if errors.Is(err, lockdown.ErrActive) {
		return nil
	}
	settings.LockdownEnabled = true
	if upsertErr := b.store.UpsertGuildSettings(ctx, settings); upsertErr != nil {
		b.logger.Warn("persist lockdown flag failed", zap.Error(upsertErr))
	}
	return err
}

func (b *Bot) guildSettings(ctx context.Context, guildID string) storage.GuildSettings {
	defaults := storage.GuildSettings{
		GuildID:           guildID,
		ModRoleID:         b.cfg.Defaults.ModRoleID,
		MutedRoleName:     b.cfg.Defaults.MutedRoleName,
		AlertChannelID:    b.cfg.Defaults.AlertChannelID,
		AntiLink:          b.cfg.Defaults.AntiLink,
		AntiRaid:          b.cfg.Defaults.AntiRaid,
		RaidJoins:         b.cfg.Defaults.RaidJoins,
		RaidWindowSeconds: b.cfg.Defaults.RaidWindowSeconds,
	}

	settings, err := b.store.GetGuildSettings(ctx, guildID, defaults)
	if err != nil {
		b.logger.Warn("guild settings fallback", zap.Error(err))
		return defaults
	}
	return settings
}

func (b *Bot) allowlist(ctx context.Context, guildID string) map[string]struct{} {
	allowlist := make(map[string]struct{})
	domains, err := b.store.ListDomainAllow(ctx, guildID)
	if err != nil {
		b.logger.Warn("allowlist lookup failed", zap.Error(err))
		return allowlist
	}
	for _, domain := range domains {
		allowlist[domain] = struct{}{}
	}
	return allowlist
}

func isUnknownMember(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code == discordgo.ErrCodeUnknownMember
	}
	return false
}
