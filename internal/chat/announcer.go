package chat

import (
	"context"
	"time"

	"github.com/fitzbot/fitzbot/internal/actions"
	"github.com/rs/zerolog"
)

// AnnouncerConfig configures the startup greeting and the repeated reminder.
// Both texts are templates rendered with {{bot}}.
type AnnouncerConfig struct {
	BotName  string
	Online   string
	Reminder string

	// Interval between reminders. Zero sends the reminder once at startup.
	Interval time.Duration
}

// Announcer posts the greeting and reminder to chat.
type Announcer struct {
	sender actions.ChatSender
	config AnnouncerConfig
	logger zerolog.Logger
}

// NewAnnouncer creates an announcer.
func NewAnnouncer(sender actions.ChatSender, cfg AnnouncerConfig, logger zerolog.Logger) *Announcer {
	return &Announcer{sender: sender, config: cfg, logger: logger}
}

// Run greets chat, then repeats the reminder every interval until ctx is done.
func (a *Announcer) Run(ctx context.Context) error {
	a.say(ctx, a.config.Online)
	a.say(ctx, a.config.Reminder)
	if a.config.Interval <= 0 || a.config.Reminder == "" {
		return nil
	}

	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.say(ctx, a.config.Reminder)
		}
	}
}

func (a *Announcer) say(ctx context.Context, text string) {
	if text == "" {
		return
	}
	out, err := actions.Render(text, map[string]any{"bot": a.config.BotName})
	if err != nil {
		a.logger.Warn().Err(err).Msg("announcement template failed, using raw text")
		out = text
	}
	if err := a.sender.Say(ctx, out); err != nil && ctx.Err() == nil {
		a.logger.Warn().Err(err).Msg("failed to post announcement")
	}
}
