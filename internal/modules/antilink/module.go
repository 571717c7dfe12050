package antilink

import (
	"context"
	"fmt"
	"time"

	"guardian/internal/modules/audit"
	"guardian/internal/utils"

	"github.com/bwmarrin/discordgo"
)

type Discord interface {
	ChannelMessageDelete(channelID, messageID string) error
	ChannelMessageSend(channelID, content string) (*discordgo.Message, error)
}

type sessionDiscord struct {
	session *discordgo.Session
}

func FromSession(session *discordgo.Session) Discord {
	return sessionDiscord{session: session}
}

func (s sessionDiscord) ChannelMessageDelete(channelID, messageID string) error {
	return s.session.ChannelMessageDelete(channelID, messageID)
}

func (s sessionDiscord) ChannelMessageSend(channelID, content string) (*discordgo.Message, error) {
	return s.session.ChannelMessageSend(channelID, content)
}

type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Module struct {
	discord   Discord
	audit     *audit.Logger
	clock     Clock
	noticeTTL time.Duration
}

func New(discord Discord, auditLogger *audit.Logger, noticeTTL time.Duration) *Module {
	return &Module{discord: discord, audit: auditLogger, clock: realClock{}, noticeTTL: noticeTTL}
}

func (m *Module) WithClock(clock Clock) {
	m.clock = clock
}

// HandleMessage deletes msg when it carries a link outside the allowlist and
// posts a notice that removes itself after noticeTTL. It reports whether the
// message was removed.
func (m *Module) HandleMessage(ctx context.Context, msg *discordgo.Message, allowlist map[string]struct{}) (bool, error) {
	if msg == nil || msg.Author == nil || !utils.ContainsURL(msg.Content) {
		return false, nil
	}
	offending := ""
	for _, raw := range utils.ExtractURLs(msg.Content) {
		_, domain, err := utils.NormalizeURL(raw)
		if err == nil && utils.DomainAllowed(domain, allowlist) {
			continue
		}
		offending = raw
		break
	}
	if offending == "" {
		return false, nil
	}

	if err := m.discord.ChannelMessageDelete(msg.ChannelID, msg.ID); err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	if m.audit != nil {
		m.audit.Log(ctx, audit.LevelInfo, msg.GuildID, msg.Author.ID, audit.EventAntiLink, "url="+offending)
	}

	notice, err := m.discord.ChannelMessageSend(msg.ChannelID, fmt.Sprintf("<@%s> links are not allowed here.", msg.Author.ID))
	if err != nil {
		return true, fmt.Errorf("send notice: %w", err)
	}
	if m.noticeTTL > 0 && notice != nil {
		channelID, noticeID := notice.ChannelID, notice.ID
		m.clock.AfterFunc(m.noticeTTL, func() {
			_ = m.discord.ChannelMessageDelete(channelID, noticeID)
		})
	}
	return true, nil
}
