// Package lockdown denies @everyone the Send Messages permission across a
// guild's text channels and puts the previous overwrites back on release.
package lockdown

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrActive = errors.New("lockdown already active")

// Discord is the slice of the REST API lockdowns need.
type Discord interface {
	GuildChannels(guildID string) ([]*discordgo.Channel, error)
	ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64) error
	ChannelPermissionDelete(channelID, targetID string) error
	ChannelMessageSend(channelID, content string) (*discordgo.Message, error)
}

type sessionDiscord struct {
	session *discordgo.Session
}

func FromSession(session *discordgo.Session) Discord {
	return sessionDiscord{session: session}
}

func (s sessionDiscord) GuildChannels(guildID string) ([]*discordgo.Channel, error) {
	return s.session.GuildChannels(guildID)
}

func (s sessionDiscord) ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64) error {
	return s.session.ChannelPermissionSet(channelID, targetID, targetType, allow, deny)
}

func (s sessionDiscord) ChannelPermissionDelete(channelID, targetID string) error {
	return s.session.ChannelPermissionDelete(channelID, targetID)
}

func (s sessionDiscord) ChannelMessageSend(channelID, content string) (*discordgo.Message, error) {
	return s.session.ChannelMessageSend(channelID, content)
}

// Alert controls where the lockdown notice goes and who it pings.
type Alert struct {
	ChannelID string
	ModRoleID string
	Reason    string
}

type channelSnapshot struct {
	allow   int64
	deny    int64
	hasPerm bool
}

type Manager struct {
	mu        sync.Mutex
	discord   Discord
	logger    *zap.Logger
	snapshots map[string]map[string]channelSnapshot
}

func New(discord Discord, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		discord:   discord,
		logger:    logger,
		snapshots: make(map[string]map[string]channelSnapshot),
	}
}

func (m *Manager) Active(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.snapshots[guildID]
	return ok
}

// Apply locks every text channel it can and posts the alert. Channels that
// fail are skipped and reported in the returned error.
func (m *Manager) Apply(ctx context.Context, guildID string, alert Alert) error {
	m.mu.Lock()
	if _, exists := m.snapshots[guildID]; exists {
		m.mu.Unlock()
		return ErrActive
	}
	// reserve the slot so a concurrent Apply backs off
	m.snapshots[guildID] = map[string]channelSnapshot{}
	m.mu.Unlock()

	channels, err := m.discord.GuildChannels(guildID)
	if err != nil {
		m.mu.Lock()
		delete(m.snapshots, guildID)
		m.mu.Unlock()
		return fmt.Errorf("list channels: %w", err)
	}

	snapshot := make(map[string]channelSnapshot)
	var errs error
	firstWritable := ""
	for _, channel := range channels {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		if !isTextChannel(channel) {
			continue
		}
		snap := everyoneOverwrite(channel, guildID)
		deny := snap.deny | discordgo.PermissionSendMessages
		if err := m.discord.ChannelPermissionSet(channel.ID, guildID, discordgo.PermissionOverwriteTypeRole, snap.allow&^discordgo.PermissionSendMessages, deny); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("lock channel %s: %w", channel.ID, err))
			continue
		}
		snapshot[channel.ID] = unlocked(snap)
		if firstWritable == "" {
			firstWritable = channel.ID
		}
	}

	m.mu.Lock()
	m.snapshots[guildID] = snapshot
	m.mu.Unlock()

	target := alert.ChannelID
	if target == "" {
		target = firstWritable
	}
	if target != "" {
		if _, err := m.discord.ChannelMessageSend(target, AlertMessage(alert)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("send alert: %w", err))
		}
	}

	m.logger.Warn("lockdown applied",
		zap.String("guild_id", guildID),
		zap.Int("channels", len(snapshot)),
		zap.String("reason", alert.Reason),
		zap.Error(errs),
	)
	return errs
}

// Restore puts the saved overwrites back. Without a snapshot, which happens
// after a restart, it only clears the Send Messages deny bit.
func (m *Manager) Restore(ctx context.Context, guildID string) error {
	m.mu.Lock()
	snapshot, ok := m.snapshots[guildID]
	delete(m.snapshots, guildID)
	m.mu.Unlock()

	if !ok {
		return m.clearDeny(ctx, guildID)
	}

	var errs error
	for channelID, snap := range snapshot {
		var err error
		if snap.hasPerm {
			err = m.discord.ChannelPermissionSet(channelID, guildID, discordgo.PermissionOverwriteTypeRole, snap.allow, snap.deny)
		} else {
			err = m.discord.ChannelPermissionDelete(channelID, guildID)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("restore channel %s: %w", channelID, err))
		}
	}
	m.logger.Info("lockdown restored", zap.String("guild_id", guildID), zap.Int("channels", len(snapshot)), zap.Error(errs))
	return errs
}

// unlocked drops the Send Messages deny from a captured overwrite, so a
// restore never leaves @everyone unable to send, even when the deny came
// from a lockdown an earlier process never lifted.
func unlocked(snap channelSnapshot) channelSnapshot {
	snap.deny &^= discordgo.PermissionSendMessages
	if snap.allow == 0 && snap.deny == 0 {
		snap.hasPerm = false
	}
	return snap
}

func (m *Manager) clearDeny(ctx context.Context, guildID string) error {
	channels, err := m.discord.GuildChannels(guildID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	var errs error
	for _, channel := range channels {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		if !isTextChannel(channel) {
			continue
		}
		snap := everyoneOverwrite(channel, guildID)
		if !snap.hasPerm || snap.deny&discordgo.PermissionSendMessages == 0 {
			continue
		}
		deny := snap.deny &^ discordgo.PermissionSendMessages
		if snap.allow == 0 && deny == 0 {
			err = m.discord.ChannelPermissionDelete(channel.ID, guildID)
		} else {
			err = m.discord.ChannelPermissionSet(channel.ID, guildID, discordgo.PermissionOverwriteTypeRole, snap.allow, deny)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("unlock channel %s: %w", channel.ID, err))
		}
	}
	return errs
}

func AlertMessage(alert Alert) string {
	message := ":rotating_light: Anti-raid triggered, the server is locked down."
	if alert.Reason != "" {
		message = fmt.Sprintf(":rotating_light: Lockdown engaged (%s).", alert.Reason)
	}
	if alert.ModRoleID != "" {
		message += " <@&" + alert.ModRoleID + ">"
	}
	return message
}

func isTextChannel(channel *discordgo.Channel) bool {
	if channel == nil {
		return false
	}
	return channel.Type == discordgo.ChannelTypeGuildText || channel.Type == discordgo.ChannelTypeGuildNews
}

// everyoneOverwrite reads the @everyone overwrite, whose ID equals the guild ID.
func everyoneOverwrite(channel *discordgo.Channel, guildID string) channelSnapshot {
	for _, overwrite := range channel.PermissionOverwrites {
		if overwrite.Type == discordgo.PermissionOverwriteTypeRole && overwrite.ID == guildID {
			return channelSnapshot{allow: overwrite.Allow, deny: overwrite.Deny, hasPerm: true}
		}
	}
	return channelSnapshot{}
}
