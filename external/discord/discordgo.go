package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/teleconsult/internal/notify"
)

var _ notify.Notifier = (*Notifier)(nil)

// Notifier posts to a single staff channel over the Discord REST API. It never
// opens a gateway connection.
type Notifier struct {
	session   *discordgo.Session
	channelID string

	nameOnce    sync.Once
	channelName string
}

func NewNotifier(token, channelID string) (*Notifier, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &Notifier{session: s, channelID: channelID}, nil
}

func (n *Notifier) CallStarted(ctx context.Context, ev notify.CallStarted) error {
	if err := n.SendChannelMessage(ctx, callStartedMessage(ev)); err != nil {
		return fmt.Errorf("post call started notice to %s: %w", n.describeChannel(), err)
	}
	return nil
}

func (n *Notifier) CallEnded(ctx context.Context, ev notify.CallEnded) error {
	content := callEndedMessage(ev)
	var err error
	if len(ev.Transcript) > 0 && ev.TranscriptFilename != "" {
		err = n.SendChannelMessageWithFile(ctx, content, ev.TranscriptFilename, ev.Transcript)
	} else {
		err = n.SendChannelMessage(ctx, content)
	}
	if err != nil {
		return fmt.Errorf("post call ended notice to %s: %w", n.describeChannel(), err)
	}
	return nil
}

func (n *Notifier) SendChannelMessage(ctx context.Context, content string) error {
	_, err := n.session.ChannelMessageSend(n.channelID, content, discordgo.WithContext(ctx))
	return err
}

func (n *Notifier) SendChannelMessageWithFile(ctx context.Context, content, filename string, body []byte) error {
	_, err := n.session.ChannelMessageSendComplex(n.channelID, &discordgo.MessageSend{
		Content: content,
		Files: []*discordgo.File{
			{Name: filename, ContentType: "text/plain", Reader: bytes.NewReader(body)},
		},
	}, discordgo.WithContext(ctx))
	return err
}

// describeChannel names the channel in errors, resolving it once.
func (n *Notifier) describeChannel() string {
	n.nameOnce.Do(func() {
		channel, err := n.session.Channel(n.channelID)
		switch {
		case err == nil && channel != nil && channel.Name != "":
			n.channelName = channel.Name
		case isRESTNotFound(err):
			slog.Warn("discord notify channel does not exist", "channel_id", n.channelID)
		}
	})
	if n.channelName == "" {
		return "channel " + n.channelID
	}
	return fmt.Sprintf("#%s (%s)", n.channelName, n.channelID)
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusNotFound
}
