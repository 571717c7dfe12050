package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guardian/internal/lockdown"
	"guardian/internal/modules/audit"
	"guardian/internal/storage"
	"guardian/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) handleSettings(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	settings := b.guildSettings(ctx, interaction.GuildID)
	key := options.stringValue("key", "")
	if key == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Settings", "", b.cfg.Notifications.EmbedColors.Action, settingsFields(settings)), true)
		return
	}

	if err := applySetting(&settings, key, options.stringValue("value", "")); err != nil {
		b.respondError(session, interaction, err.Error())
		return
	}
	if err := b.store.UpsertGuildSettings(ctx, settings); err != nil {
		b.logger.Warn("settings update failed", zap.Error(err))
		b.respondError(session, interaction, "Could not save settings.")
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, actorID(interaction), audit.EventSettings, fmt.Sprintf("%s=%s", key, options.stringValue("value", "")))
	b.respondEmbed(session, interaction, b.commandEmbed("Settings updated", "`"+key+"` saved.", b.cfg.Notifications.EmbedColors.Action, settingsFields(settings)), true)
}

func settingsFields(settings storage.GuildSettings) []*discordgo.MessageEmbedField {
	orNone := func(value, prefix string) string {
		if value == "" {
			return "not set"
		}
		return prefix + value + ">"
	}
	return []*discordgo.MessageEmbedField{
		{Name: "muted_role_name", Value: settings.MutedRoleName, Inline: true},
		{Name: "mod_role_id", Value: orNone(settings.ModRoleID, "<@&"), Inline: true},
		{Name: "alert_channel", Value: orNone(settings.AlertChannelID, "<#"), Inline: true},
		{Name: "anti_link", Value: fmt.Sprintf("%t", settings.AntiLink), Inline: true},
		{Name: "anti_raid", Value: fmt.Sprintf("%t", settings.AntiRaid), Inline: true},
		{Name: "raid_joins", Value: fmt.Sprintf("%d", settings.RaidJoins), Inline: true},
		{Name: "raid_window", Value: fmt.Sprintf("%ds", settings.RaidWindowSeconds), Inline: true},
		{Name: "lockdown", Value: fmt.Sprintf("%t", settings.LockdownEnabled), Inline: true},
	}
}

func (b *Bot) handleLockdown(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	guildID := interaction.GuildID
	settings := b.guildSettings(ctx, guildID)

	switch options.stringValue("state", "status") {
	case "on":
		if !b.monitor.Lock(guildID) && b.lockdown.Active(guildID) {
			b.respondError(session, interaction, "The server is already locked down.")
			return
		}
		b.deferResponse(session, interaction, false)
		err := b.lockdown.Apply(ctx, guildID, lockdown.Alert{ChannelID: settings.AlertChannelID, ModRoleID: settings.ModRoleID, Reason: "manual"})
		if errors.Is(err, lockdown.ErrActive) {
			b.editResponse(session, interaction, "The server is already locked down.")
			return
		}
		settings.LockdownEnabled = true
		b.persistSettings(ctx, settings)
		b.audit.Log(ctx, audit.LevelWarn, guildID, actorID(interaction), audit.EventLockdown, "manual")
		if err != nil {
			b.logger.Warn("manual lockdown incomplete", zap.String("guild_id", guildID), zap.Error(err))
			b.editResponse(session, interaction, ":lock: Lockdown engaged, some channels could not be locked.")
			return
		}
		b.editResponse(session, interaction, ":lock: Lockdown engaged.")
	case "off":
		b.deferResponse(session, interaction, false)
		b.monitor.Release(guildID)
		err := b.lockdown.Restore(ctx, guildID)
		settings.LockdownEnabled = false
		b.persistSettings(ctx, settings)
		b.audit.Log(ctx, audit.LevelInfo, guildID, actorID(interaction), audit.EventLockdownLifted, "manual")
		if err != nil {
			b.logger.Warn("lockdown restore incomplete", zap.String("guild_id", guildID), zap.Error(err))
			b.editResponse(session, interaction, ":unlock: Lockdown lifted, some channels could not be restored.")
			return
		}
		b.editResponse(session, interaction, ":unlock: Lockdown lifted.")
	default:
		state := "normal"
		if b.antiraid.Locked(guildID) {
			state = "locked"
		}
		fields := []*discordgo.MessageEmbedField{
			{Name: "State", Value: state, Inline: true},
			{Name: "Recent joins", Value: fmt.Sprintf("%d in %ds", b.monitor.CountRecent(guildID, time.Now(), time.Duration(settings.RaidWindowSeconds)*time.Second), settings.RaidWindowSeconds), Inline: true},
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Lockdown", "", b.cfg.Notifications.EmbedColors.Action, fields), true)
	}
}

func (b *Bot) persistSettings(ctx context.Context, settings storage.GuildSettings) {
	if err := b.store.UpsertGuildSettings(ctx, settings); err != nil {
		b.logger.Warn("settings update failed", zap.String("guild_id", settings.GuildID), zap.Error(err))
	}
}

func (b *Bot) handleAllowLink(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	action := options.stringValue("action", "list")
	domain := utils.NormalizeDomain(options.stringValue("domain", ""))
	if action != "list" && domain == "" {
		b.respondError(session, interaction, "Give a domain such as example.com.")
		return
	}

	var err error
	switch action {
	case "add":
		err = b.store.AddDomainAllow(ctx, interaction.GuildID, domain)
	case "remove":
		err = b.store.RemoveDomainAllow(ctx, interaction.GuildID, domain)
	}
	if err != nil {
		b.logger.Warn("allowlist update failed", zap.Error(err))
		b.respondError(session, interaction, "Could not update the allowlist.")
		return
	}

	domains, err := b.store.ListDomainAllow(ctx, interaction.GuildID)
	if err != nil {
		b.respondError(session, interaction, "Could not load the allowlist.")
		return
	}
	description := "No domains are allowlisted."
	if len(domains) > 0 {
		description = truncate(strings.Join(domains, "\n"), 4000)
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Allowed domains", description, b.cfg.Notifications.EmbedColors.Action, nil), true)
}

func (b *Bot) handleModLog(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	days := options.intValue("days", 7)
	if days < 1 || days > 90 {
		days = 7
	}
	report, err := b.analytics.Report(ctx, interaction.GuildID, time.Now().AddDate(0, 0, -days))
	if err != nil {
		b.logger.Warn("modlog report failed", zap.Error(err))
		b.respondError(session, interaction, "Could not build the report.")
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed(fmt.Sprintf("Moderation log, last %d days", days), report.Format(), b.cfg.Notifications.EmbedColors.Action, nil), true)
}

func (b *Bot) handleSync(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if err := b.registerCommands(); err != nil {
		b.logger.Warn("command sync failed", zap.Error(err))
		b.respondError(session, interaction, "Command sync failed.")
		return
	}
	b.respond(session, interaction, "Commands synced.", true)
}
