package main

import (
	"errors"
	"net/url"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/oauth2"
)

var discordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

const invitePermissions = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionReadMessageHistory |
	discordgo.PermissionAddReactions |
	discordgo.PermissionManageMessages |
	discordgo.PermissionManageChannels |
	discordgo.PermissionManageRoles |
	discordgo.PermissionKickMembers |
	discordgo.PermissionBanMembers |
	discordgo.PermissionModerateMembers

// InviteURL builds the bot authorization link. Bot invites carry no
// redirect, so the code grant response_type is dropped.
func InviteURL(applicationID, guildID string) (string, error) {
	if applicationID == "" {
		return "", errors.New("application id is required")
	}
	cfg := oauth2.Config{
		ClientID: applicationID,
		Endpoint: discordEndpoint,
		Scopes:   []string{"bot", "applications.commands"},
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("permissions", strconv.FormatInt(int64(invitePermissions), 10)),
	}
	if guildID != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("guild_id", guildID),
			oauth2.SetAuthURLParam("disable_guild_select", "true"),
		)
	}

	parsed, err := url.Parse(cfg.AuthCodeURL("", opts...))
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Del("response_type")
	query.Del("state")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
