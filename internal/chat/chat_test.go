package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fitzbot/fitzbot/internal/actions"
	"github.com/fitzbot/fitzbot/internal/eventmap"
	"github.com/fitzbot/fitzbot/internal/ratelimit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fire struct {
	event string
	opts  actions.FireOptions
}

type fakeDispatcher struct {
	mu      sync.Mutex
	fires   []fire
	pushes  []*eventmap.Definition
	fields  []map[string]any
	matches map[string]bool
}

func (f *fakeDispatcher) FireEvent(name string, opts actions.FireOptions) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fires = append(f.fires, fire{event: name, opts: opts})
	return f.matches[name]
}

func (f *fakeDispatcher) PushToQueue(def *eventmap.Definition, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, def)
	f.fields = append(f.fields, fields)
	return nil
}

func (f *fakeDispatcher) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, fi := range f.fires {
		names = append(names, fi.event)
	}
	return names
}

type captureSender struct {
	mu   sync.Mutex
	said []string
}

func (c *captureSender) Say(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.said = append(c.said, text)
	return nil
}

func TestHueCommandPushesDirectly(t *testing.T) {
	d := &fakeDispatcher{}
	p := NewParser(d, WithLogger(zerolog.Nop()))

	out := p.Handle(context.Background(), Message{User: "Viewer", Text: "!HUE 250"})
	require.True(t, out.Hue)
	require.Empty(t, d.events())
	require.Len(t, d.pushes, 1)
	require.Equal(t, eventmap.KindList, d.pushes[0].Kind)
	require.Equal(t, 250.0, d.pushes[0].Actions[0]["hue"])
	require.Equal(t, "Viewer", d.fields[0]["user"])
}

func TestHueCommandOutOfRangeFallsThrough(t *testing.T) {
	d := &fakeDispatcher{}
	p := NewParser(d, WithLogger(zerolog.Nop()))

	for _, text := range []string{"!hue 1001", "!hue -1", "!hue red", "!hue"} {
		out := p.Handle(context.Background(), Message{User: "v", Text: text})
		require.False(t, out.Hue, text)
	}
	require.Empty(t, d.pushes)
	require.Equal(t, []string{"chat", "chat", "chat", "chat"}, d.events())
	require.Equal(t, "!hue", d.fires[0].opts.Name)
}

func TestPrivilegedSendersFireExtraEvents(t *testing.T) {
	d := &fakeDispatcher{matches: map[string]bool{EventModChat: true, EventChat: true}}
	p := NewParser(d, WithLogger(zerolog.Nop()))

	out := p.Handle(context.Background(), Message{
		Channel:    "#fitz",
		User:       "Mod",
		Text:       "!Scene Red please",
		Moderator:  true,
		Subscriber: true,
	})
	require.Equal(t, []string{EventModChat, EventSubChat, EventChat}, d.events())
	require.Equal(t, []string{EventModChat, EventChat}, out.Fired)

	opts := d.fires[2].opts
	require.Equal(t, "!scene", opts.Name)
	require.Nil(t, opts.Number)
	require.Equal(t, "Mod", opts.Context["user"])
	require.Equal(t, "!Scene Red please", opts.Context["message"])
	require.Equal(t, "#fitz", opts.Context["channel"])
}

func TestThrottlePerUser(t *testing.T) {
	d := &fakeDispatcher{}
	now := time.Unix(1700000000, 0)
	limiter := ratelimit.New(ratelimit.Limit{PerSecond: 0.1, Burst: 1}, ratelimit.WithClock(func() time.Time { return now }))
	p := NewParser(d, WithLimiter(limiter), WithLogger(zerolog.Nop()))

	require.False(t, p.Handle(context.Background(), Message{User: "Spam", Text: "!scream"}).Throttled)
	require.True(t, p.Handle(context.Background(), Message{User: "spam", Text: "!scream"}).Throttled)
	require.False(t, p.Handle(context.Background(), Message{User: "spam", Text: "just chatting"}).Throttled)
	require.False(t, p.Handle(context.Background(), Message{User: "other", Text: "!scream"}).Throttled)
	require.False(t, p.Handle(context.Background(), Message{User: "spam", Text: "!scream", Moderator: true}).Throttled)

	require.Equal(t, []string{"chat", "chat", "chat", "modchat", "chat"}, d.events())
}

func TestEmptyMessageIgnored(t *testing.T) {
	d := &fakeDispatcher{}
	p := NewParser(d, WithLogger(zerolog.Nop()))
	require.Equal(t, Outcome{}, p.Handle(context.Background(), Message{User: "v", Text: "   "}))
	require.Empty(t, d.events())
}

func TestBuiltinCommands(t *testing.T) {
	d := &fakeDispatcher{}
	sender := &captureSender{}
	rolls := []int{5, 1}
	p := NewParser(d,
		WithLogger(zerolog.Nop()),
		WithCommand("!dice", Dice(sender, func(int) int {
			r := rolls[0]
			rolls = rolls[1:]
			return r
		})),
		WithCommand("!failing", CommandFunc(func(context.Context, Message) error { return errors.New("boom") })),
	)

	out := p.Handle(context.Background(), Message{User: "viewer", Text: "!dice"})
	require.Equal(t, "!dice", out.Command)
	p.Handle(context.Background(), Message{User: "viewer", Text: "!DICE"})
	require.Equal(t, []string{"@viewer rolled a 6", "@viewer rolled a 2"}, sender.said)

	// commands still fire the chat event so the map can react too
	out = p.Handle(context.Background(), Message{User: "viewer", Text: "!failing"})
	require.Equal(t, "!failing", out.Command)
	require.Len(t, d.events(), 3)
}

func TestPingPong(t *testing.T) {
	sender := &captureSender{}
	flips := []int{1, 0}
	game := NewPingPong(sender, "fitzbot", func(int) int {
		f := flips[0]
		flips = flips[1:]
		return f
	})
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, game.Run(ctx, Message{User: "viewer"}))
	}
	require.Equal(t, []string{
		"Pong!",
		"Pong!",
		"viewer missed the shot... fitzbot wins! The score is - fitzbot: 1 Chat: 0",
		"Pong!",
		"Pong!",
		"fitzbot missed the shot... viewer wins! The score is - fitzbot: 1 Chat: 1",
	}, sender.said)
}

func TestSenders(t *testing.T) {
	a, b := &captureSender{}, &captureSender{}
	failing := actions.ChatFunc(func(context.Context, string) error { return errors.New("offline") })

	err := Multi{a, failing, b, LogSender{Channel: "#fitz", Logger: zerolog.Nop()}}.Say(context.Background(), "hello")
	require.EqualError(t, err, "offline")
	require.Equal(t, []string{"hello"}, a.said)
	require.Equal(t, []string{"hello"}, b.said)

	require.Equal(t, "#fitzbros", Channel(" FitzBros "))
	require.Equal(t, "#fitz", Channel("#fitz"))
	require.Equal(t, "", Channel(""))
}

func TestAnnouncerGreetsThenRepeats(t *testing.T) {
	sender := &captureSender{}
	a := NewAnnouncer(sender, AnnouncerConfig{
		BotName:  "fitzbot",
		Online:   "{{bot}} is online!",
		Reminder: "Try {{bot}}'s commands: '!hue', '!dice'",
		Interval: 5 * time.Millisecond,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.said) >= 4
	}, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Equal(t, "fitzbot is online!", sender.said[0])
	for _, line := range sender.said[1:] {
		require.Equal(t, "Try fitzbot's commands: '!hue', '!dice'", line)
	}
}

func TestAnnouncerWithoutIntervalReturns(t *testing.T) {
	sender := &captureSender{}
	a := NewAnnouncer(sender, AnnouncerConfig{BotName: "fitzbot", Online: "{{bot}} is online!"}, zerolog.Nop())
	require.NoError(t, a.Run(context.Background()))
	require.Equal(t, []string{"fitzbot is online!"}, sender.said)
}
