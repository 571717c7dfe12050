package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"guardian/internal/config"
	"guardian/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/xhit/go-str2duration/v2"
)

var (
	errSelfTarget = errors.New("you cannot target yourself")
	errBotTarget  = errors.New("you cannot target the bot")
)

type optionMap map[string]*discordgo.ApplicationCommandInteractionDataOption

func newOptionMap(options []*discordgo.ApplicationCommandInteractionDataOption) optionMap {
	m := make(optionMap, len(options))
	for _, option := range options {
		m[option.Name] = option
	}
	return m
}

func (m optionMap) stringValue(name, fallback string) string {
	if option, ok := m[name]; ok {
		return option.StringValue()
	}
	return fallback
}

func (m optionMap) intValue(name string, fallback int) int {
	if option, ok := m[name]; ok {
		return int(option.IntValue())
	}
	return fallback
}

func (m optionMap) userID(name string) string {
	option, ok := m[name]
	if !ok {
		return ""
	}
	if id, ok := option.Value.(string); ok {
		return id
	}
	return ""
}

// parseMuteDuration accepts a bare number of minutes or a duration such as
// "1d12h". Zero means indefinite.
func parseMuteDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" || value == "0" {
		return 0, nil
	}
	if minutes, err := strconv.Atoi(value); err == nil {
		if minutes < 0 {
			return 0, fmt.Errorf("duration must not be negative")
		}
		return time.Duration(minutes) * time.Minute, nil
	}
	duration, err := str2duration.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	if duration < 0 {
		return 0, fmt.Errorf("duration must not be negative")
	}
	return duration, nil
}

func formatDuration(duration time.Duration) string {
	if duration <= 0 {
		return "indefinitely"
	}
	return "for " + str2duration.String(duration)
}

// checkTarget refuses destructive commands aimed at the caller or the bot.
func checkTarget(actorID, targetID, botID string) error {
	switch {
	case targetID == actorID:
		return errSelfTarget
	case botID != "" && targetID == botID:
		return errBotTarget
	default:
		return nil
	}
}

var settingKeys = []string{"muted_role_name", "mod_role_id", "alert_channel", "anti_link", "anti_raid", "raid_joins", "raid_window"}

// applySetting validates value for key and stores it on settings.
func applySetting(settings *storage.GuildSettings, key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case "muted_role_name":
		if value == "" {
			return errors.New("role name must not be empty")
		}
		settings.MutedRoleName = value
	case "mod_role_id":
		settings.ModRoleID = trimMention(value, "<@&")
	case "alert_channel":
		settings.AlertChannelID = trimMention(value, "<#")
	case "anti_link":
		settings.AntiLink = config.ParseBool(value)
	case "anti_raid":
		settings.AntiRaid = config.ParseBool(value)
	case "raid_joins":
		joins, err := strconv.Atoi(value)
		if err != nil || joins < 1 || joins > 1000 {
			return errors.New("raid_joins must be between 1 and 1000")
		}
		settings.RaidJoins = joins
	case "raid_window":
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds < 1 || seconds > 3600 {
			return errors.New("raid_window must be between 1 and 3600 seconds")
		}
		settings.RaidWindowSeconds = seconds
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func trimMention(value, prefix string) string {
	value = strings.TrimPrefix(value, prefix)
	return strings.TrimSuffix(value, ">")
}

func hasPermission(member *discordgo.Member, permission int64) bool {
	if member == nil {
		return false
	}
	if member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return member.Permissions&permission == permission
}

func hasRole(member *discordgo.Member, roleID string) bool {
	if member == nil || roleID == "" {
		return false
	}
	for _, id := range member.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}

func pollOptions(options optionMap) ([]string, error) {
	var choices []string
	for _, name := range []string{"option1", "option2", "option3"} {
		if value := strings.TrimSpace(options.stringValue(name, "")); value != "" {
			choices = append(choices, value)
		}
	}
	if len(choices) < 2 {
		return nil, errors.New("a poll needs at least two options")
	}
	return choices, nil
}

var pollEmoji = []string{"1️⃣", "2️⃣", "3️⃣"}
