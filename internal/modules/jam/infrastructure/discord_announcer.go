package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"

	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// Embed colors.
const (
	colorNowPlaying = 0x1DB954
)

// messageSender is the part of *discordgo.Session the announcer uses.
type messageSender interface {
	ChannelMessageSendEmbed(
		channelID string,
		embed *discordgo.MessageEmbed,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// Ensure DiscordAnnouncer implements Announcer.
var _ ports.Announcer = (*DiscordAnnouncer)(nil)

// DiscordAnnouncer posts "Now Playing" embeds to a text channel. Only the
// latest announcement is kept; the previous one is deleted.
type DiscordAnnouncer struct {
	sender    messageSender
	channelID snowflake.ID

	mu          sync.Mutex
	lastMessage snowflake.ID
}

// NewDiscordAnnouncer creates an announcer posting to channelID.
func NewDiscordAnnouncer(sender messageSender, channelID snowflake.ID) *DiscordAnnouncer {
	return &DiscordAnnouncer{sender: sender, channelID: channelID}
}

// AnnounceNowPlaying replaces the previous announcement with one for track.
func (a *DiscordAnnouncer) AnnounceNowPlaying(
	ctx context.Context,
	track domain.Track,
	requesterName string,
) error {
	embed := nowPlayingEmbed(track, requesterName, time.Now())

	msg, err := a.sender.ChannelMessageSendEmbed(a.channelID.String(), embed, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send now playing: %w", err)
	}
	messageID, err := snowflake.Parse(msg.ID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	previous := a.lastMessage
	a.lastMessage = messageID
	a.mu.Unlock()

	if previous != 0 {
		if err := a.sender.ChannelMessageDelete(
			a.channelID.String(),
			previous.String(),
			discordgo.WithContext(ctx),
		); err != nil {
			slog.Warn("failed to delete previous announcement", "message", previous, "error", err)
		}
	}
	return nil
}

func nowPlayingEmbed(track domain.Track, requesterName string, at time.Time) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name: "Now Playing",
		},
		Title:     track.DisplayTitle(),
		Color:     colorNowPlaying,
		Timestamp: at.UTC().Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Requested by %s", requesterName),
		},
	}

	if track.Artist != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Artist",
			Value:  track.Artist,
			Inline: true,
		})
	}
	// Only show duration when the catalog knows it
	if track.Duration > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Duration",
			Value:  track.FormattedDuration(),
			Inline: true,
		})
	}
	return embed
}
