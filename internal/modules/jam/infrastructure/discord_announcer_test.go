package infrastructure

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

type mockSender struct {
	sent    []*discordgo.MessageEmbed
	deleted []string
	sendErr error
	nextID  int
}

func (m *mockSender) ChannelMessageSendEmbed(
	_ string,
	embed *discordgo.MessageEmbed,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.nextID++
	m.sent = append(m.sent, embed)
	return &discordgo.Message{ID: strconv.Itoa(m.nextID)}, nil
}

func (m *mockSender) ChannelMessageDelete(_, messageID string, _ ...discordgo.RequestOption) error {
	m.deleted = append(m.deleted, messageID)
	return nil
}

func TestDiscordAnnouncer_ReplacesPreviousMessage(t *testing.T) {
	sender := &mockSender{}
	announcer := NewDiscordAnnouncer(sender, 100)
	ctx := context.Background()

	tracks := []domain.Track{
		domain.NewTrack("track:1", "One", "Band", 3*time.Minute),
		domain.NewTrack("track:2", "", "", 0),
	}
	for _, track := range tracks {
		if err := announcer.AnnounceNowPlaying(ctx, track, "Bob"); err != nil {
			t.Fatalf("announce: %v", err)
		}
	}

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(sender.sent))
	}
	if len(sender.deleted) != 1 || sender.deleted[0] != "1" {
		t.Errorf("expected first message deleted, got %v", sender.deleted)
	}

	first := sender.sent[0]
	if first.Title != "One" || first.Footer.Text != "Requested by Bob" {
		t.Errorf("unexpected embed: %q / %q", first.Title, first.Footer.Text)
	}
	if len(first.Fields) != 2 || first.Fields[1].Value != "03:00" {
		t.Errorf("expected artist and duration fields, got %d fields", len(first.Fields))
	}

	second := sender.sent[1]
	if second.Title != "track:2" {
		t.Errorf("expected URI as title, got %q", second.Title)
	}
	if len(second.Fields) != 0 {
		t.Errorf("expected no fields without metadata, got %d", len(second.Fields))
	}
}

func TestDiscordAnnouncer_SendError(t *testing.T) {
	sendErr := errors.New("missing access")
	announcer := NewDiscordAnnouncer(&mockSender{sendErr: sendErr}, 100)

	err := announcer.AnnounceNowPlaying(context.Background(), domain.Track{URI: "track:1"}, "Bob")
	if !errors.Is(err, sendErr) {
		t.Errorf("expected %v, got %v", sendErr, err)
	}
}
