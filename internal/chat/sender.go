package chat

import (
	"context"
	"strings"

	"github.com/fitzbot/fitzbot/internal/actions"
	"github.com/rs/zerolog"
)

// LogSender writes outgoing chat to the log. It stands in for a platform
// client, which is wired outside this module.
type LogSender struct {
	Channel string
	Logger  zerolog.Logger
}

var _ actions.ChatSender = LogSender{}

// Say logs text.
func (s LogSender) Say(_ context.Context, text string) error {
	s.Logger.Info().Str("channel", s.Channel).Str("text", text).Msg("say")
	return nil
}

// Multi fans one message out to several senders, returning the first error.
type Multi []actions.ChatSender

// Say sends text to every sender.
func (m Multi) Say(ctx context.Context, text string) error {
	var first error
	for _, s := range m {
		if err := s.Say(ctx, text); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Channel normalizes a channel name to its "#name" form.
func Channel(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || strings.HasPrefix(name, "#") {
		return name
	}
	return "#" + name
}
