// Package chat turns chat messages into queue events and provides chat
// senders for the queue's say effect.
package chat

import (
	"context"
	"strconv"
	"strings"

	"github.com/fitzbot/fitzbot/internal/actions"
	"github.com/fitzbot/fitzbot/internal/eventmap"
	"github.com/fitzbot/fitzbot/internal/logging"
	"github.com/fitzbot/fitzbot/internal/ratelimit"
	"github.com/rs/zerolog"
)

// Event names fired for chat messages.
const (
	EventChat    = "chat"
	EventModChat = "modchat"
	EventSubChat = "subchat"
)

const hueCommand = "!hue"

// Message is one inbound chat message.
type Message struct {
	Channel    string `json:"channel"`
	User       string `json:"user"`
	Text       string `json:"text"`
	Moderator  bool   `json:"moderator"`
	Subscriber bool   `json:"subscriber"`
}

// Dispatcher is the part of the action queue the parser drives.
type Dispatcher interface {
	FireEvent(name string, opts actions.FireOptions) bool
	PushToQueue(def *eventmap.Definition, fields map[string]any) error
}

// Outcome reports what Handle did with a message.
type Outcome struct {
	Throttled bool     `json:"throttled"`
	Hue       bool     `json:"hue"`
	Command   string   `json:"command,omitempty"`
	Fired     []string `json:"fired,omitempty"`
}

// Parser routes chat messages.
type Parser struct {
	queue    Dispatcher
	limiter  *ratelimit.Limiter
	commands map[string]Command
	logger   zerolog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithLimiter throttles commands per chatter. Moderators are exempt.
func WithLimiter(l *ratelimit.Limiter) Option { return func(p *Parser) { p.limiter = l } }

// WithCommand registers a built-in command, matched on the first word.
func WithCommand(name string, cmd Command) Option {
	return func(p *Parser) { p.commands[strings.ToLower(name)] = cmd }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option { return func(p *Parser) { p.logger = logger } }

// NewParser creates a parser feeding queue.
func NewParser(queue Dispatcher, opts ...Option) *Parser {
	p := &Parser{
		queue:    queue,
		commands: make(map[string]Command),
		logger:   logging.Component("chat"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes one message. "!hue <0-1000>" pushes a hue action
// directly; anything else fires modchat and subchat for privileged senders,
// then chat, each with the lowercased first word as the tier name.
func (p *Parser) Handle(ctx context.Context, msg Message) Outcome {
	var out Outcome
	text := strings.ToLower(strings.TrimSpace(msg.Text))
	if text == "" {
		return out
	}
	words := strings.Fields(text)
	first := words[0]

	// Only commands are throttled; plain chat still reaches the chat event.
	if strings.HasPrefix(first, "!") && !msg.Moderator && p.limiter != nil && !p.limiter.Allow(strings.ToLower(msg.User)) {
		p.logger.Debug().Str("user", msg.User).Str("command", first).Msg("command throttled")
		out.Throttled = true
		return out
	}

	data := map[string]any{
		"user":    msg.User,
		"message": msg.Text,
		"channel": msg.Channel,
	}

	if first == hueCommand && len(words) > 1 {
		if hue, ok := parseHue(words[1]); ok {
			def := eventmap.List(eventmap.Record{"hue": hue})
			if err := p.queue.PushToQueue(def, data); err != nil {
				p.logger.Warn().Err(err).Str("user", msg.User).Msg("failed to push hue")
				return out
			}
			out.Hue = true
			return out
		}
	}

	if cmd, ok := p.commands[first]; ok {
		if err := cmd.Run(ctx, msg); err != nil {
			p.logger.Warn().Err(err).Str("command", first).Msg("command failed")
		}
		out.Command = first
	}

	opts := actions.FireOptions{Name: first, Context: data}
	if msg.Moderator && p.queue.FireEvent(EventModChat, opts) {
		out.Fired = append(out.Fired, EventModChat)
	}
	if msg.Subscriber && p.queue.FireEvent(EventSubChat, opts) {
		out.Fired = append(out.Fired, EventSubChat)
	}
	if p.queue.FireEvent(EventChat, opts) {
		out.Fired = append(out.Fired, EventChat)
	}
	return out
}

func parseHue(s string) (float64, bool) {
	hue, err := strconv.ParseFloat(s, 64)
	if err != nil || hue < 0 || hue > 1000 {
		return 0, false
	}
	return hue, true
}
