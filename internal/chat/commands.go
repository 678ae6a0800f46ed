package chat

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/fitzbot/fitzbot/internal/actions"
)

// Command is a built-in chat command that replies directly instead of going
// through the event map.
type Command interface {
	Run(ctx context.Context, msg Message) error
}

// CommandFunc adapts a function to Command.
type CommandFunc func(ctx context.Context, msg Message) error

// Run calls f.
func (f CommandFunc) Run(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Dice replies with a roll of a six-sided die.
func Dice(sender actions.ChatSender, intn func(int) int) Command {
	if intn == nil {
		intn = rand.Intn
	}
	return CommandFunc(func(ctx context.Context, msg Message) error {
		return sender.Say(ctx, fmt.Sprintf("@%s rolled a %d", msg.User, intn(6)+1))
	})
}

// PingPong plays a rally against chat: two "Pong!" replies, then a coin flip
// decides the point and the running score is announced.
type PingPong struct {
	mu      sync.Mutex
	sender  actions.ChatSender
	botName string
	intn    func(int) int
	rally   int
	botWins int
	chatWin int
}

// NewPingPong creates the game. intn may be nil.
func NewPingPong(sender actions.ChatSender, botName string, intn func(int) int) *PingPong {
	if intn == nil {
		intn = rand.Intn
	}
	return &PingPong{sender: sender, botName: botName, intn: intn}
}

// Run plays one shot.
func (g *PingPong) Run(ctx context.Context, msg Message) error {
	g.mu.Lock()
	g.rally++
	var reply string
	switch {
	case g.rally < 3:
		reply = "Pong!"
	case g.intn(2) == 1:
		g.botWins++
		g.rally = 0
		reply = fmt.Sprintf("%s missed the shot... %s wins! The score is - %s: %d Chat: %d",
			msg.User, g.botName, g.botName, g.botWins, g.chatWin)
	default:
		g.chatWin++
		g.rally = 0
		reply = fmt.Sprintf("%s missed the shot... %s wins! The score is - %s: %d Chat: %d",
			g.botName, msg.User, g.botName, g.botWins, g.chatWin)
	}
	g.mu.Unlock()
	return g.sender.Say(ctx, reply)
}
