package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guardian/internal/modules/audit"
	"guardian/internal/mute"
	"guardian/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	options := newOptionMap(data.Options)

	if interaction.GuildID == "" && data.Name != "avatar" && data.Name != "fun" {
		b.respondError(session, interaction, "This command only works in a server.")
		return
	}

	switch data.Name {
	case "ban":
		b.handleBan(ctx, session, interaction, options)
	case "kick":
		b.handleKick(ctx, session, interaction, options)
	case "mute":
		b.handleMute(ctx, session, interaction, options)
	case "unmute":
		b.handleUnmute(ctx, session, interaction, options)
	case "mutes":
		b.handleMutes(session, interaction)
	case "purge":
		b.handlePurge(ctx, session, interaction, options)
	case "warn":
		b.handleWarn(ctx, session, interaction, options)
	case "warnings":
		b.handleWarnings(ctx, session, interaction, options)
	case "clearwarns":
		b.handleClearWarns(ctx, session, interaction, options)
	case "lockdown":
		b.handleLockdown(ctx, session, interaction, options)
	case "settings":
		b.handleSettings(ctx, session, interaction, options)
	case "allowlink":
		b.handleAllowLink(ctx, session, interaction, options)
	case "modlog":
		b.handleModLog(ctx, session, interaction, options)
	case "sync":
		b.handleSync(session, interaction)
	case "userinfo":
		b.handleUserInfo(session, interaction, options)
	case "serverinfo":
		b.handleServerInfo(session, interaction)
	case "avatar":
		b.handleAvatar(session, interaction, options)
	case "poll":
		b.handlePoll(session, interaction, options)
	case "fun":
		b.handleFun(session, interaction, options)
	case "checkport":
		b.handleCheckPort(ctx, session, interaction, options)
	case "dnslookup":
		b.handleDNSLookup(ctx, session, interaction, options)
	default:
		b.respondError(session, interaction, "Unknown command.")
	}
}

func (b *Bot) handleBan(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	targetID, ok := b.target(session, interaction, options)
	if !ok {
		return
	}
	reason := options.stringValue("reason", "No reason provided")
	days := options.intValue("delete_days", 0)
	if days < 0 || days > 7 {
		b.respondError(session, interaction, "delete_days must be between 0 and 7.")
		return
	}

	if err := session.GuildBanCreateWithReason(interaction.GuildID, targetID, reason, days); err != nil {
		b.actionFailed(ctx, session, interaction, "ban", targetID, err)
		return
	}
	b.audit.Log(ctx, audit.LevelWarn, interaction.GuildID, targetID, audit.EventBan, fmt.Sprintf("moderator=%s reason=%s delete_days=%d", actorID(interaction), reason, days))
	b.respondEmbed(session, interaction, b.actionEmbed("Member banned", fmt.Sprintf("<@%s> was banned.", targetID), reason), false)
}

func (b *Bot) handleKick(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	targetID, ok := b.target(session, interaction, options)
	if !ok {
		return
	}
	reason := options.stringValue("reason", "No reason provided")

	if err := session.GuildMemberDeleteWithReason(interaction.GuildID, targetID, reason); err != nil {
		b.actionFailed(ctx, session, interaction, "kick", targetID, err)
		return
	}
	b.audit.Log(ctx, audit.LevelWarn, interaction.GuildID, targetID, audit.EventKick, fmt.Sprintf("moderator=%s reason=%s", actorID(interaction), reason))
	b.respondEmbed(session, interaction, b.actionEmbed("Member kicked", fmt.Sprintf("<@%s> was kicked.", targetID), reason), false)
}

func (b *Bot) handleMute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	targetID, ok := b.target(session, interaction, options)
	if !ok {
		return
	}
	duration, err := parseMuteDuration(options.stringValue("duration", "0"))
	if err != nil {
		b.respondError(session, interaction, err.Error())
		return
	}
	reason := options.stringValue("reason", "No reason provided")

	settings := b.guildSettings(ctx, interaction.GuildID)
	roleID, err := b.ensureMutedRole(interaction.GuildID, settings.MutedRoleName)
	if err != nil {
		b.actionFailed(ctx, session, interaction, "mute", targetID, err)
		return
	}
	if err := session.GuildMemberRoleAdd(interaction.GuildID, targetID, roleID); err != nil {
		b.actionFailed(ctx, session, interaction, "mute", targetID, err)
		return
	}

	record := b.ledger.Mute(interaction.GuildID, targetID, duration, mute.Details{Reason: reason, ModeratorID: actorID(interaction), RoleID: roleID})
	b.audit.Log(ctx, audit.LevelWarn, interaction.GuildID, targetID, audit.EventMute, fmt.Sprintf("moderator=%s duration=%s reason=%s", record.ModeratorID, duration, reason))
	b.respondEmbed(session, interaction, b.actionEmbed("Member muted", fmt.Sprintf("<@%s> was muted %s.", targetID, formatDuration(duration)), reason), false)
}

func (b *Bot) handleUnmute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	targetID := options.userID("member")
	if targetID == "" {
		b.respondError(session, interaction, "Pick a member.")
		return
	}

	if err := b.liftMute(ctx, interaction.GuildID, targetID); err != nil {
		if errors.Is(err, errNotMuted) {
			b.respondError(session, interaction, fmt.Sprintf("<@%s> is not muted.", targetID))
			return
		}
		b.actionFailed(ctx, session, interaction, "unmute", targetID, err)
		return
	}

	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, targetID, audit.EventUnmute, "moderator="+actorID(interaction))
	b.respondEmbed(session, interaction, b.actionEmbed("Member unmuted", fmt.Sprintf("<@%s> can speak again.", targetID), ""), false)
}

func (b *Bot) handleMutes(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	records := b.ledger.List(interaction.GuildID)
	if len(records) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Active mutes", "Nobody is muted.", b.cfg.Notifications.EmbedColors.Action, nil), true)
		return
	}
	lines := make([]string, 0, len(records))
	for _, record := range records {
		until := "indefinitely"
		if record.ExpiresAt != nil {
			until = fmt.Sprintf("until <t:%d:R>", record.ExpiresAt.Unix())
		}
		line := fmt.Sprintf("<@%s> %s", record.MemberID, until)
		if record.Reason != "" {
			line += " (" + record.Reason + ")"
		}
		lines = append(lines, line)
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Active mutes", truncate(strings.Join(lines, "\n"), 4000), b.cfg.Notifications.EmbedColors.Action, nil), true)
}

func (b *Bot) handlePurge(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	amount := options.intValue("amount", 0)
	if amount < 1 || amount > 100 {
		b.respondError(session, interaction, "amount must be between 1 and 100.")
		return
	}
	b.deferResponse(session, interaction, true)

	messages, err := session.ChannelMessages(interaction.ChannelID, amount, "", "", "")
	if err != nil {
		b.editResponse(session, interaction, "Could not read channel history.")
		b.logger.Warn("purge history failed", zap.String("channel_id", interaction.ChannelID), zap.Error(err))
		return
	}
	// bulk delete rejects messages older than two weeks
	cutoff := time.Now().Add(-14 * 24 * time.Hour)
	ids := make([]string, 0, len(messages))
	for _, message := range messages {
		if message.Timestamp.After(cutoff) {
			ids = append(ids, message.ID)
		}
	}

	switch len(ids) {
	case 0:
	case 1:
		err = session.ChannelMessageDelete(interaction.ChannelID, ids[0])
	default:
		err = session.ChannelMessagesBulkDelete(interaction.ChannelID, ids)
	}
	if err != nil {
		b.editResponse(session, interaction, "Could not delete messages.")
		b.logger.Warn("purge failed", zap.String("channel_id", interaction.ChannelID), zap.Error(err))
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, actorID(interaction), audit.EventPurge, fmt.Sprintf("channel=%s deleted=%d", interaction.ChannelID, len(ids)))
	b.editResponse(session, interaction, fmt.Sprintf("Deleted %d messages.", len(ids)))
}

func (b *Bot) handleWarn(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	targetID, ok := b.target(session, interaction, options)
	if !ok {
		return
	}
	reason := options.stringValue("reason", "No reason provided")

	count, err := b.store.AddWarning(ctx, storage.Warning{
		GuildID:     interaction.GuildID,
		MemberID:    targetID,
		Reason:      reason,
		ModeratorID: actorID(interaction),
		CreatedAt:   time.Now(),
	})
	if err != nil {
		b.actionFailed(ctx, session, interaction, "warn", targetID, err)
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, targetID, audit.EventWarn, fmt.Sprintf("moderator=%s count=%d reason=%s", actorID(interaction), count, reason))
	b.respondEmbed(session, interaction, b.actionEmbed("Member warned", fmt.Sprintf("<@%s> now has %d warning(s).", targetID, count), reason), false)
}

func (b *Bot) handleWarnings(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	targetID := options.userID("member")
	warnings, err := b.store.ListWarnings(ctx, interaction.GuildID, targetID)
	if err != nil {
		b.logger.Warn("list warnings failed", zap.Error(err))
		b.respondError(session, interaction, "Could not load warnings.")
		return
	}
	if len(warnings) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Warnings", fmt.Sprintf("<@%s> has no warnings.", targetID), b.cfg.Notifications.EmbedColors.Action, nil), true)
		return
	}
	lines := make([]string, 0, len(warnings))
	for i, warning := range warnings {
		lines = append(lines, fmt.Sprintf("%d. <t:%d:d> by <@%s>: %s", i+1, warning.CreatedAt.Unix(), warning.ModeratorID, warning.Reason))
	}
	b.respondEmbed(session, interaction, b.commandEmbed(fmt.Sprintf("Warnings (%d)", len(warnings)), truncate(strings.Join(lines, "\n"), 4000), b.cfg.Notifications.EmbedColors.Warning, nil), true)
}

func (b *Bot) handleClearWarns(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	targetID := options.userID("member")
	cleared, err := b.store.ClearWarnings(ctx, interaction.GuildID, targetID)
	if err != nil {
		b.logger.Warn("clear warnings failed", zap.Error(err))
		b.respondError(session, interaction, "Could not clear warnings.")
		return
	}
	if !cleared {
		b.respondEmbed(session, interaction, b.commandEmbed("Warnings", fmt.Sprintf("<@%s> has no warnings.", targetID), b.cfg.Notifications.EmbedColors.Action, nil), true)
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, targetID, audit.EventClearWarns, "moderator="+actorID(interaction))
	b.respondEmbed(session, interaction, b.actionEmbed("Warnings cleared", fmt.Sprintf("Cleared all warnings for <@%s>.", targetID), ""), false)
}

// target resolves the member option and applies the self-target policy,
// responding with an error when the command must not proceed.
func (b *Bot) target(session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) (string, bool) {
	targetID := options.userID("member")
	if targetID == "" {
		b.respondError(session, interaction, "Pick a member.")
		return "", false
	}
	botID := ""
	if session.State != nil && session.State.User != nil {
		botID = session.State.User.ID
	}
	if err := checkTarget(actorID(interaction), targetID, botID); err != nil {
		b.respondError(session, interaction, err.Error())
		return "", false
	}
	return targetID, true
}

func (b *Bot) actionFailed(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, action, targetID string, err error) {
	b.logger.Warn("moderation action failed", zap.String("action", action), zap.String("guild_id", interaction.GuildID), zap.String("user_id", targetID), zap.Error(err))
	b.audit.Log(ctx, audit.LevelWarn, interaction.GuildID, targetID, audit.EventActionFailed, fmt.Sprintf("action=%s error=%v", action, err))

	message := fmt.Sprintf("Could not %s <@%s>.", action, targetID)
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeMissingPermissions {
		message += " I am missing permissions or my role is too low."
	}
	b.respondError(session, interaction, message)
}

func actorID(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

func (b *Bot) isModerator(guildID string, member *discordgo.Member, settings storage.GuildSettings) bool {
	if member == nil {
		return false
	}
	if hasRole(member, settings.ModRoleID) {
		return true
	}
	if member.Permissions != 0 {
		return hasPermission(member, discordgo.PermissionManageMessages)
	}
	// message events carry no computed permissions
	if member.User == nil {
		return false
	}
	perms, err := b.session.State.MessagePermissions(&discordgo.Message{GuildID: guildID, Author: member.User, Member: member})
	if err != nil {
		return false
	}
	return perms&discordgo.PermissionManageMessages != 0 || perms&discordgo.PermissionAdministrator != 0
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

func (b *Bot) actionEmbed(title, description, reason string) *discordgo.MessageEmbed {
	var fields []*discordgo.MessageEmbedField
	if reason != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Reason", Value: truncate(reason, 1024)})
	}
	return b.commandEmbed(title, description, b.cfg.Notifications.EmbedColors.Action, fields)
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	}); err != nil {
		b.logger.Warn("interaction respond failed", zap.Error(err))
	}
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	}); err != nil {
		b.logger.Warn("interaction respond failed", zap.Error(err))
	}
}

func (b *Bot) respondError(session *discordgo.Session, interaction *discordgo.InteractionCreate, message string) {
	b.respondEmbed(session, interaction, b.commandEmbed("Error", message, b.cfg.Notifications.EmbedColors.Error, nil), true)
}

func (b *Bot) deferResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}); err != nil {
		b.logger.Warn("interaction defer failed", zap.Error(err))
	}
}

func (b *Bot) editResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string) {
	if _, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		b.logger.Warn("interaction edit failed", zap.Error(err))
	}
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
