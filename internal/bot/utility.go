package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guardian/internal/nettools"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) handleUserInfo(session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	userID := options.userID("member")
	if userID == "" {
		userID = actorID(interaction)
	}
	member, err := session.GuildMember(interaction.GuildID, userID)
	if err != nil || member.User == nil {
		b.respondError(session, interaction, "That member is not in this server.")
		return
	}

	created, _ := discordgo.SnowflakeTimestamp(member.User.ID)
	roles := make([]string, 0, len(member.Roles))
	for _, roleID := range member.Roles {
		roles = append(roles, "<@&"+roleID+">")
	}
	rolesValue := "None"
	if len(roles) > 0 {
		rolesValue = truncate(strings.Join(roles, " "), 1024)
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "ID", Value: member.User.ID, Inline: true},
		{Name: "Created", Value: fmt.Sprintf("<t:%d:D>", created.Unix()), Inline: true},
		{Name: "Joined", Value: fmt.Sprintf("<t:%d:D>", member.JoinedAt.Unix()), Inline: true},
		{Name: "Roles", Value: rolesValue},
	}
	if record, muted := b.ledger.Get(interaction.GuildID, userID); muted {
		value := "Indefinitely"
		if record.ExpiresAt != nil {
			value = fmt.Sprintf("Until <t:%d:f>", record.ExpiresAt.Unix())
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Muted", Value: value, Inline: true})
	}
	embed := b.commandEmbed(member.User.Username, "<@"+member.User.ID+">", b.cfg.Notifications.EmbedColors.Action, fields)
	embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: member.User.AvatarURL("256")}
	b.respondEmbed(session, interaction, embed, false)
}

func (b *Bot) handleServerInfo(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	guild, err := session.State.Guild(interaction.GuildID)
	if err != nil {
		guild, err = session.Guild(interaction.GuildID)
	}
	if err != nil {
		b.respondError(session, interaction, "Could not load server information.")
		return
	}

	created, _ := discordgo.SnowflakeTimestamp(guild.ID)
	members := guild.MemberCount
	if members == 0 {
		members = guild.ApproximateMemberCount
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Owner", Value: "<@" + guild.OwnerID + ">", Inline: true},
		{Name: "Members", Value: fmt.Sprintf("%d", members), Inline: true},
		{Name: "Channels", Value: fmt.Sprintf("%d", len(guild.Channels)), Inline: true},
		{Name: "Roles", Value: fmt.Sprintf("%d", len(guild.Roles)), Inline: true},
		{Name: "Created", Value: fmt.Sprintf("<t:%d:D>", created.Unix()), Inline: true},
	}
	embed := b.commandEmbed(guild.Name, "", b.cfg.Notifications.EmbedColors.Action, fields)
	if guild.Icon != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: discordgo.EndpointGuildIcon(guild.ID, guild.Icon)}
	}
	b.respondEmbed(session, interaction, embed, false)
}

func (b *Bot) handleAvatar(session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	var user *discordgo.User
	if option, ok := options["user"]; ok {
		user = option.UserValue(session)
	}
	if user == nil && interaction.Member != nil {
		user = interaction.Member.User
	}
	if user == nil {
		user = interaction.User
	}
	if user == nil {
		b.respondError(session, interaction, "Could not resolve that user.")
		return
	}
	embed := b.commandEmbed(user.Username+"'s avatar", "", b.cfg.Notifications.EmbedColors.Action, nil)
	embed.Image = &discordgo.MessageEmbedImage{URL: user.AvatarURL("1024")}
	b.respondEmbed(session, interaction, embed, false)
}

func (b *Bot) handlePoll(session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	choices, err := pollOptions(options)
	if err != nil {
		b.respondError(session, interaction, err.Error())
		return
	}
	lines := make([]string, 0, len(choices))
	for i, choice := range choices {
		lines = append(lines, pollEmoji[i]+" "+choice)
	}
	question := options.stringValue("question", "Poll")
	b.respondEmbed(session, interaction, b.commandEmbed(":bar_chart: "+question, strings.Join(lines, "\n"), b.cfg.Notifications.EmbedColors.Action, nil), false)

	message, err := session.InteractionResponse(interaction.Interaction)
	if err != nil {
		b.logger.Warn("poll message lookup failed", zap.Error(err))
		return
	}
	for i := range choices {
		if err := session.MessageReactionAdd(message.ChannelID, message.ID, pollEmoji[i]); err != nil {
			b.logger.Warn("poll reaction failed", zap.Error(err))
			return
		}
	}
}

func (b *Bot) handleFun(session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	name := options.stringValue("name", "")
	reply, ok := b.fun.Pick(name, "<@"+actorID(interaction)+">")
	if !ok {
		b.respondError(session, interaction, "Unknown fun command.")
		return
	}
	b.respond(session, interaction, reply, false)
}

func (b *Bot) handleCheckPort(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	if !b.allowNetTool(session, interaction) {
		return
	}
	host := options.stringValue("host", "")
	port := options.intValue("port", 0)
	timeout := time.Duration(options.intValue("timeout", 3)) * time.Second

	b.deferResponse(session, interaction, true)
	result, err := b.nettools.CheckPort(ctx, host, port, timeout)
	if err != nil {
		b.editResponse(session, interaction, netToolError(err))
		return
	}
	b.editResponse(session, interaction, result.String())
}

func (b *Bot) handleDNSLookup(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	if !b.allowNetTool(session, interaction) {
		return
	}
	b.deferResponse(session, interaction, true)
	result, err := b.nettools.Lookup(ctx, options.stringValue("host", ""))
	if err != nil {
		b.editResponse(session, interaction, netToolError(err))
		return
	}
	b.editResponse(session, interaction, "```\n"+truncate(result.String(), 1900)+"\n```")
}

func (b *Bot) allowNetTool(session *discordgo.Session, interaction *discordgo.InteractionCreate) bool {
	if !b.cfg.NetTools.Enabled {
		b.respondError(session, interaction, "Network tools are disabled.")
		return false
	}
	if !b.nettools.Allow(actorID(interaction), time.Now()) {
		b.respondError(session, interaction, "Slow down, try again in a minute.")
		return false
	}
	return true
}

func netToolError(err error) string {
	switch {
	case errors.Is(err, nettools.ErrInvalidHost), errors.Is(err, nettools.ErrInvalidPort), errors.Is(err, nettools.ErrRestricted):
		return err.Error()
	default:
		return "Lookup failed: " + err.Error()
	}
}
