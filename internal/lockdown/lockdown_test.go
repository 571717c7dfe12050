package lockdown

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type overwrite struct {
	allow int64
	deny  int64
}

type fakeDiscord struct {
	channels  []*discordgo.Channel
	perms     map[string]overwrite
	deleted   []string
	messages  map[string][]string
	failLock  map[string]bool
	listError error
}

func newFakeDiscord(channels ...*discordgo.Channel) *fakeDiscord {
	return &fakeDiscord{
		channels: channels,
		perms:    make(map[string]overwrite),
		messages: make(map[string][]string),
		failLock: make(map[string]bool),
	}
}

func (f *fakeDiscord) GuildChannels(guildID string) ([]*discordgo.Channel, error) {
	if f.listError != nil {
		return nil, f.listError
	}
	return f.channels, nil
}

func (f *fakeDiscord) ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64) error {
	if f.failLock[channelID] {
		return errors.New("missing access")
	}
	f.perms[channelID] = overwrite{allow: allow, deny: deny}
	return nil
}

func (f *fakeDiscord) ChannelPermissionDelete(channelID, targetID string) error {
	delete(f.perms, channelID)
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeDiscord) ChannelMessageSend(channelID, content string) (*discordgo.Message, error) {
	f.messages[channelID] = append(f.messages[channelID], content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

const (
	sendMessages = int64(discordgo.PermissionSendMessages)
	attachFiles  = int64(discordgo.PermissionAttachFiles)
	addReactions = int64(discordgo.PermissionAddReactions)
)

func textChannel(id string, overwrites ...*discordgo.PermissionOverwrite) *discordgo.Channel {
	return &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeGuildText, PermissionOverwrites: overwrites}
}

func TestApplyAndRestore(t *testing.T) {
	ctx := context.Background()
	existing := &discordgo.PermissionOverwrite{ID: "9", Type: discordgo.PermissionOverwriteTypeRole, Allow: addReactions, Deny: attachFiles}
	discord := newFakeDiscord(
		&discordgo.Channel{ID: "voice", Type: discordgo.ChannelTypeGuildVoice},
		textChannel("general", existing),
		textChannel("memes"),
	)
	manager := New(discord, zap.NewNop())

	require.NoError(t, manager.Apply(ctx, "9", Alert{ModRoleID: "mods"}))
	assert.True(t, manager.Active("9"))

	assert.Equal(t, attachFiles|sendMessages, discord.perms["general"].deny)
	assert.Equal(t, addReactions, discord.perms["general"].allow)
	assert.Equal(t, sendMessages, discord.perms["memes"].deny)
	_, touchedVoice := discord.perms["voice"]
	assert.False(t, touchedVoice)

	// without an alert channel the notice goes to the first locked channel
	require.Len(t, discord.messages["general"], 1)
	assert.Contains(t, discord.messages["general"][0], "<@&mods>")

	assert.ErrorIs(t, manager.Apply(ctx, "9", Alert{}), ErrActive)

	require.NoError(t, manager.Restore(ctx, "9"))
	assert.False(t, manager.Active("9"))
	assert.Equal(t, overwrite{allow: addReactions, deny: attachFiles}, discord.perms["general"])
	assert.Equal(t, []string{"memes"}, discord.deleted)
}

func TestApplyReportsChannelFailures(t *testing.T) {
	discord := newFakeDiscord(textChannel("locked-out"), textChannel("ok"))
	discord.failLock["locked-out"] = true
	manager := New(discord, nil)

	err := manager.Apply(context.Background(), "9", Alert{ChannelID: "alerts"})
	assert.Error(t, err)
	assert.True(t, manager.Active("9"))
	assert.Equal(t, sendMessages, discord.perms["ok"].deny)
	assert.Len(t, discord.messages["alerts"], 1)
}

func TestApplyListFailureReleasesSlot(t *testing.T) {
	discord := newFakeDiscord()
	discord.listError = errors.New("gateway down")
	manager := New(discord, nil)

	assert.Error(t, manager.Apply(context.Background(), "9", Alert{}))
	assert.False(t, manager.Active("9"))
}

func TestRestoreWithoutSnapshotClearsDeny(t *testing.T) {
	discord := newFakeDiscord(
		textChannel("a", &discordgo.PermissionOverwrite{ID: "9", Type: discordgo.PermissionOverwriteTypeRole, Deny: sendMessages}),
		textChannel("b", &discordgo.PermissionOverwrite{ID: "9", Type: discordgo.PermissionOverwriteTypeRole, Deny: sendMessages | attachFiles}),
		textChannel("c"),
	)
	manager := New(discord, nil)

	require.NoError(t, manager.Restore(context.Background(), "9"))
	assert.Equal(t, []string{"a"}, discord.deleted)
	assert.Equal(t, attachFiles, discord.perms["b"].deny)
	_, touched := discord.perms["c"]
	assert.False(t, touched)
}

func TestRestoreDropsDenyLeftFromEarlierLockdown(t *testing.T) {
	ctx := context.Background()
	discord := newFakeDiscord(
		textChannel("general", &discordgo.PermissionOverwrite{ID: "9", Type: discordgo.PermissionOverwriteTypeRole, Deny: sendMessages}),
		textChannel("rules", &discordgo.PermissionOverwrite{ID: "9", Type: discordgo.PermissionOverwriteTypeRole, Allow: addReactions, Deny: sendMessages | attachFiles}),
	)
	// a fresh manager has no memory of the lockdown that set these denies
	manager := New(discord, nil)

	require.NoError(t, manager.Apply(ctx, "9", Alert{ChannelID: "alerts"}))
	assert.Equal(t, sendMessages, discord.perms["general"].deny)

	require.NoError(t, manager.Restore(ctx, "9"))
	assert.Equal(t, []string{"general"}, discord.deleted)
	_, stillSet := discord.perms["general"]
	assert.False(t, stillSet)
	assert.Equal(t, overwrite{allow: addReactions, deny: attachFiles}, discord.perms["rules"])
}

func TestAlertMessage(t *testing.T) {
	assert.Equal(t, ":rotating_light: Anti-raid triggered, the server is locked down.", AlertMessage(Alert{}))
	assert.Equal(t, ":rotating_light: Lockdown engaged (manual). <@&5>", AlertMessage(Alert{Reason: "manual", ModRoleID: "5"}))
}
