// Package actions implements the action queue: event dispatch, variant
// selection, timestamp offsets, context merging and sequential execution of
// action effects against injected collaborators.
package actions

import (
	"context"
	"errors"
	"time"

	"github.com/fitzbot/fitzbot/internal/eventmap"
)

// Queue errors.
var (
	ErrNotActionable   = errors.New("definition is not actionable")
	ErrEmptyActionList = errors.New("action list is empty")
	ErrQueueClosed     = errors.New("action queue is closed")
)

// Config contains queue configuration.
type Config struct {
	// AllowAudio gates sound and speech effects. Toggle at runtime with
	// SetAllowAudio.
	AllowAudio bool

	// DelayUnit is the duration of one unit of delay, beforeDelay and
	// timestamp. Default: 1 second.
	DelayUnit time.Duration

	// ResultBuffer sizes the Results channel. Default: 100.
	ResultBuffer int
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		AllowAudio:   true,
		DelayUnit:    time.Second,
		ResultBuffer: 100,
	}
}

// Color is a light state change. Hue is on the bridge scale (0-65535); nil
// members are left unchanged.
type Color struct {
	Hue *int  `json:"hue,omitempty"`
	Bri *int  `json:"bri,omitempty"`
	Sat *int  `json:"sat,omitempty"`
	On  *bool `json:"on,omitempty"`
}

// Lights drives the light controller.
type Lights interface {
	SetScene(ctx context.Context, sceneID string) error
	PickColor(ctx context.Context, color Color) error
}

// SoundPlayer plays a sound file.
type SoundPlayer interface {
	PlaySound(ctx context.Context, path string) error
}

// Speaker synthesizes speech.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// ChatSender posts a message to the bound chat channel.
type ChatSender interface {
	Say(ctx context.Context, text string) error
}

// ChatFunc adapts a function to ChatSender.
type ChatFunc func(ctx context.Context, text string) error

// Say calls f.
func (f ChatFunc) Say(ctx context.Context, text string) error { return f(ctx, text) }

// Broadcaster fans a payload out to every websocket observer.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// VariableStore is the variable table as seen by the queue.
type VariableStore interface {
	Fields() map[string]any
	Set(name string, value float64) error
	Offset(name string, delta float64) (float64, error)
}

// SnapshotProvider supplies transient external data (for example the latest
// video link) merged beneath globals at enqueue time.
type SnapshotProvider interface {
	Latest() map[string]any
}

// Journal records dispatch history. Implementations must not block for long;
// the queue calls them inline.
type Journal interface {
	RecordFire(ctx context.Context, rec FireRecord) error
	RecordAction(ctx context.Context, res ActionResult) error
}

// FireOptions selects a tier and supplies per-fire context.
type FireOptions struct {
	// Number selects the highest numeric tier not exceeding it.
	Number *float64

	// Name selects a named tier when Number is absent.
	Name string

	// Context is merged into every action of the batch.
	Context map[string]any
}

// Num is a helper for FireOptions.Number.
func Num(v float64) *float64 { return &v }

// FireRecord describes one FireEvent call.
type FireRecord struct {
	ID      string
	Event   string
	Number  *float64
	Name    string
	Tier    string
	Matched bool
	Actions int
	Context map[string]any
	FiredAt time.Time
}

// Action is a resolved action waiting in the queue. The merge layers captured
// at enqueue time are kept apart so variables can be overlaid between the
// context and the literal fields when the action runs.
type Action struct {
	ID      string
	BatchID string
	Event   string

	Snapshot map[string]any
	Globals  map[string]any
	Context  map[string]any

	// Fields are the action's literal fields, including any computed
	// beforeDelay.
	Fields eventmap.Record

	EnqueuedAt time.Time
}

// EffectResult is the outcome of evaluating one effect field.
type EffectResult struct {
	Effect  string
	Value   string
	Skipped bool
	Err     error
}

// ActionResult is emitted after each action runs.
type ActionResult struct {
	ActionID string
	BatchID  string
	ChainID  string
	Event    string
	Effects  []EffectResult
	Started  time.Time
	Duration time.Duration
}

// Failed returns the effects that returned an error.
func (r ActionResult) Failed() []EffectResult {
	var failed []EffectResult
	for _, e := range r.Effects {
		if e.Err != nil {
			failed = append(failed, e)
		}
	}
	return failed
}

// Success reports whether every effect succeeded.
func (r ActionResult) Success() bool {
	return len(r.Failed()) == 0
}

// Stats contains queue statistics.
type Stats struct {
	// Running indicates a chain is in flight.
	Running bool

	// Pending is the number of queued actions.
	Pending int

	// Chains is the number of chains started.
	Chains int64

	// Fired counts FireEvent calls; Matched counts those that enqueued.
	Fired   int64
	Matched int64

	// Actions is the number of actions executed.
	Actions int64

	// EffectFailures is the number of effects that returned an error.
	EffectFailures int64

	// LastActionAt is when the last action finished.
	LastActionAt *time.Time

	// LoadedAt is the load time of the current event map.
	LoadedAt *time.Time
}
