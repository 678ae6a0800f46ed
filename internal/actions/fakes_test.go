package actions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fitzbot/fitzbot/internal/eventmap"
)

var errMissingSound = errors.New("sound file not found")

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeLights struct {
	recorder
	colors []Color
}

func (f *fakeLights) SetScene(_ context.Context, id string) error {
	f.add("scene:" + id)
	return nil
}

func (f *fakeLights) PickColor(_ context.Context, c Color) error {
	f.mu.Lock()
	f.colors = append(f.colors, c)
	f.mu.Unlock()
	f.add("color")
	return nil
}

func (f *fakeLights) lastColor() Color {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.colors[len(f.colors)-1]
}

type fakeSounds struct {
	recorder
	missing map[string]bool
}

func (f *fakeSounds) PlaySound(_ context.Context, path string) error {
	if f.missing[path] {
		return errMissingSound
	}
	f.add("sound:" + path)
	return nil
}

type fakeSpeaker struct{ recorder }

func (f *fakeSpeaker) Speak(_ context.Context, text string) error {
	f.add("speak:" + text)
	return nil
}

type fakeBroadcaster struct{ recorder }

func (f *fakeBroadcaster) Broadcast(payload []byte) { f.add(string(payload)) }

// slowChat records messages and tracks how many Say calls overlap.
type slowChat struct {
	recorder
	hold    time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (c *slowChat) Say(_ context.Context, text string) error {
	n := c.active.Add(1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(c.hold)
	c.add(text)
	c.active.Add(-1)
	return nil
}

type fakeExternal map[string]any

func (f fakeExternal) Latest() map[string]any { return f }

type harness struct {
	queue    *Queue
	lights   *fakeLights
	sounds   *fakeSounds
	speaker  *fakeSpeaker
	chat     *slowChat
	observer *fakeBroadcaster
}

func newHarness(snap *eventmap.Snapshot, opts ...Option) *harness {
	h := &harness{
		lights:   &fakeLights{},
		sounds:   &fakeSounds{missing: map[string]bool{}},
		speaker:  &fakeSpeaker{},
		chat:     &slowChat{},
		observer: &fakeBroadcaster{},
	}
	base := []Option{
		WithLights(h.lights),
		WithSoundPlayer(h.sounds),
		WithSpeaker(h.speaker),
		WithChat(h.chat),
		WithBroadcaster(h.observer),
	}
	h.queue = New(Config{AllowAudio: true, DelayUnit: time.Millisecond}, snap, append(base, opts...)...)
	return h
}

func snapshot(events eventmap.EventMap, globals map[string]any) *eventmap.Snapshot {
	if globals == nil {
		globals = map[string]any{}
	}
	return &eventmap.Snapshot{Events: events, Globals: globals, LoadedAt: time.Now()}
}

func say(text string) eventmap.Record { return eventmap.Record{"say": text} }
