package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guardian/internal/mute"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const mutedDeny = discordgo.PermissionSendMessages | discordgo.PermissionVoiceSpeak | discordgo.PermissionAddReactions

var errNotMuted = errors.New("member is not muted")

// roleRemover is the one REST call lifting a mute needs.
type roleRemover interface {
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
}

// liftMute takes the muted role off first and drops the ledger record only
// once that worked, so a failed call leaves the mute tracked.
func (b *Bot) liftMute(ctx context.Context, guildID, memberID string) error {
	record, tracked := b.ledger.Get(guildID, memberID)
	roleID, found := b.mutedRoleFor(ctx, guildID, record)
	if !found && !tracked {
		return errNotMuted
	}
	if found {
		if err := b.roles.GuildMemberRoleRemove(guildID, memberID, roleID); err != nil && !isUnknownMember(err) {
			return err
		}
	}
	b.ledger.Unmute(guildID, memberID)
	return nil
}

// mutedRoleFor prefers the role recorded at mute time over the guild's
// current muted role name.
func (b *Bot) mutedRoleFor(ctx context.Context, guildID string, record mute.Record) (string, bool) {
	if record.RoleID != "" {
		return record.RoleID, true
	}
	settings := b.guildSettings(ctx, guildID)
	return b.findRole(guildID, settings.MutedRoleName)
}

func (b *Bot) findRole(guildID, name string) (string, bool) {
	roles, err := b.guildRoles(guildID)
	if err != nil {
		b.logger.Warn("role lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return "", false
	}
	for _, role := range roles {
		if strings.EqualFold(role.Name, name) {
			return role.ID, true
		}
	}
	return "", false
}

func (b *Bot) guildRoles(guildID string) ([]*discordgo.Role, error) {
	if guild, err := b.session.State.Guild(guildID); err == nil && len(guild.Roles) > 0 {
		return guild.Roles, nil
	}
	return b.session.GuildRoles(guildID)
}

// ensureMutedRole returns the muted role, creating it when missing and
// denying it send, speak and react on every channel. Overwrite failures are
// logged and skipped.
func (b *Bot) ensureMutedRole(guildID, name string) (string, error) {
	b.mutedRoleMu.Lock()
	defer b.mutedRoleMu.Unlock()

	if roleID, ok := b.findRole(guildID, name); ok {
		return roleID, nil
	}

	permissions := int64(0)
	role, err := b.session.GuildRoleCreate(guildID, &discordgo.RoleParams{Name: name, Permissions: &permissions})
	if err != nil {
		return "", fmt.Errorf("create muted role: %w", err)
	}
	b.logger.Info("muted role created", zap.String("guild_id", guildID), zap.String("role_id", role.ID))

	channels, err := b.session.GuildChannels(guildID)
	if err != nil {
		b.logger.Warn("muted role overwrites skipped", zap.String("guild_id", guildID), zap.Error(err))
		return role.ID, nil
	}
	for _, channel := range channels {
		if err := b.session.ChannelPermissionSet(channel.ID, role.ID, discordgo.PermissionOverwriteTypeRole, 0, mutedDeny); err != nil {
			b.logger.Warn("muted role overwrite failed", zap.String("channel_id", channel.ID), zap.Error(err))
		}
	}
	return role.ID, nil
}
