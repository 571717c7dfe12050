package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func permissions(value int64) *int64 {
	return &value
}

func userOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionUser, Name: name, Description: description, Required: required}
}

func stringOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionString, Name: name, Description: description, Required: required}
}

func floatPtr(value float64) *float64 {
	return &value
}

func (b *Bot) commands() []*discordgo.ApplicationCommand {
	dmDisabled := false
	funChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0)
	for _, name := range b.fun.Names() {
		funChoices = append(funChoices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
	}
	settingChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(settingKeys))
	for _, key := range settingKeys {
		settingChoices = append(settingChoices, &discordgo.ApplicationCommandOptionChoice{Name: key, Value: key})
	}

	commands := []*discordgo.ApplicationCommand{
		{
			Name:                     "ban",
			Description:              "Ban a member",
			DefaultMemberPermissions: permissions(discordgo.PermissionBanMembers),
			DMPermission:             &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("member", "Member to ban", true),
				stringOption("reason", "Reason for the ban", false),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "delete_days",
					Description: "Days of messages to delete (0-7)",
					MinValue:    floatPtr(0),
					MaxValue:    7,
				},
			},
		},
		{
			Name:                     "kick",
			Description:              "Kick a member",
			DefaultMemberPermissions: permissions(discordgo.PermissionKickMembers),
			DMPermission:             &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("member", "Member to kick", true),
				stringOption("reason", "Reason for the kick", false),
			},
		},
		{
			Name:                     "mute",
			Description:              "Mute a member",
			DefaultMemberPermissions: permissions(discordgo.PermissionModerateMembers),
			DMPermission:             &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("member", "Member to mute", true),
				stringOption("duration", "Minutes or a duration like 1d12h, 0 for indefinite", false),
				stringOption("reason", "Reason for the mute", false),
			},
		},
		{
			Name:                     "unmute",
			Description:              "Unmute a member",
			DefaultMemberPermissions: permissions(discordgo.PermissionModerateMembers),
			DMPermission:             &dmDisabled,
			Options:                  []*discordgo.ApplicationCommandOption{userOption("member", "Member to unmute", true)},
		},
		{
			Name:                     "mutes",
			Description:              "List active mutes",
			DefaultMemberPermissions: permissions(discordgo.PermissionModerateMembers),
			DMPermission:             &dmDisabled,
		},
		{
			Name:                     "purge",
			Description:              "Delete recent messages in this channel",
			DefaultMemberPermissions: permissions(discordgo.PermissionManageMessages),
			DMPermission:             &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Number of messages (1-100)",
					Required:    true,
					MinValue:    floatPtr(1),
					MaxValue:    100,
				},
			},
		},
		{
			Name:                     "warn",
			Description:              "Warn a member",
			DefaultMemberPermissions: permissions(discordgo.PermissionModerateMembers),
			DMPermission:             &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("member", "Member to warn", true),
				stringOption("reason", "Reason for the warning", true),
			},
		},
		{
			Name:                     "warnings",
			Description:              "List a member's warnings",
			DefaultMemberPermissions: permissions(discordgo.PermissionModerateMembers),
			DMPermission:             &dmDisabled,
			Options:                  []*discordgo.ApplicationCommandOption{userOption("member", "Member to inspect", true)},
		},
		{
			Name:                     "clearwarns",
			Description:              "Clear a member's warnings",
			DefaultMemberPermissions: permissions(discordgo.PermissionModerateMembers),
			DMPermission:             &dmDisabled,
			Options:                  []*discordgo.ApplicationCommandOption{userOption("member", "Member to clear", true)},
		},
		{
			Name:                     "lockdown",
			Description:              "Lock or unlock the server",
			DefaultMemberPermissions: permissions(discordgo.PermissionManageChannels),
			DMPermission:             &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "state",
					Description: "on, off or status",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "on", Value: "on"},
						{Name: "off", Value: "off"},
						{Name: "status", Value: "status"},
					},
				},
			},
		},
		{
			Name:                     "settings",
			Description:              "Show or change guild settings",
			DefaultMemberPermissions: permissions(discordgo.PermissionManageServer),
			DMPermission:             &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "key",
					Description: "Setting to change",
					Choices:     settingChoices,
				},
				stringOption("value", "New value", false),
			},
		},
		{
			Name:                     "allowlink",
			Description:              "Manage domains exempt from anti-link",
			DefaultMemberPermissions: permissions(discordgo.PermissionManageServer),
			DMPermission:             &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "add, remove or list",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "add", Value: "add"},
						{Name: "remove", Value: "remove"},
						{Name: "list", Value: "list"},
					},
				},
				stringOption("domain", "Domain such as example.com", false),
			},
		},
		{
			Name:                     "modlog",
			Description:              "Summarise recent moderation events",
			DefaultMemberPermissions: permissions(discordgo.PermissionViewAuditLogs),
			DMPermission:             &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "days",
					Description: "How far back to look (1-90)",
					MinValue:    floatPtr(1),
					MaxValue:    90,
				},
			},
		},
		{
			Name:                     "sync",
			Description:              "Re-register slash commands",
			DefaultMemberPermissions: permissions(discordgo.PermissionAdministrator),
			DMPermission:             &dmDisabled,
		},
		{
			Name:         "userinfo",
			Description:  "Show information about a member",
			DMPermission: &dmDisabled,
			Options:      []*discordgo.ApplicationCommandOption{userOption("member", "Member to inspect", false)},
		},
		{
			Name:         "serverinfo",
			Description:  "Show information about this server",
			DMPermission: &dmDisabled,
		},
		{
			Name:        "avatar",
			Description: "Show a user's avatar",
			Options:     []*discordgo.ApplicationCommandOption{userOption("user", "User to show", false)},
		},
		{
			Name:         "poll",
			Description:  "Start a reaction poll",
			DMPermission: &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("question", "Poll question", true),
				stringOption("option1", "First option", true),
				stringOption("option2", "Second option", true),
				stringOption("option3", "Third option", false),
			},
		},
	}

	if len(funChoices) > 0 {
		commands = append(commands, &discordgo.ApplicationCommand{
			Name:        "fun",
			Description: "Novelty replies",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "Which one",
					Required:    true,
					Choices:     funChoices,
				},
			},
		})
	}

	if b.cfg.NetTools.Enabled {
		commands = append(commands,
			&discordgo.ApplicationCommand{
				Name:                     "checkport",
				Description:              "Check whether a TCP port is reachable",
				DefaultMemberPermissions: permissions(discordgo.PermissionManageServer),
				DMPermission:             &dmDisabled,
				Options: []*discordgo.ApplicationCommandOption{
					stringOption("host", "Host name or IP", true),
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "port",
						Description: "TCP port",
						Required:    true,
						MinValue:    floatPtr(1),
						MaxValue:    65535,
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "timeout",
						Description: "Seconds to wait",
						MinValue:    floatPtr(1),
						MaxValue:    float64(b.cfg.NetTools.MaxTimeoutSeconds),
					},
				},
			},
			&discordgo.ApplicationCommand{
				Name:                     "dnslookup",
				Description:              "Resolve a host name",
				DefaultMemberPermissions: permissions(discordgo.PermissionManageServer),
				DMPermission:             &dmDisabled,
				Options:                  []*discordgo.ApplicationCommandOption{stringOption("host", "Host name", true)},
			},
		)
	}

	return commands
}

// registerCommands overwrites the command set, scoped to the test guild when
// one is configured so changes show up immediately.
func (b *Bot) registerCommands() error {
	appID := b.cfg.ApplicationID
	if appID == "" && b.session.State != nil && b.session.State.User != nil {
		appID = b.session.State.User.ID
	}
	if appID == "" {
		return fmt.Errorf("application id unknown")
	}

	registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.cfg.TestGuildID, b.commands())
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	b.logger.Info("commands registered", zap.Int("count", len(registered)), zap.String("guild_id", b.cfg.TestGuildID))
	return nil
}
