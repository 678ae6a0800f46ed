package actions

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fitzbot/fitzbot/internal/eventmap"
	"github.com/fitzbot/fitzbot/internal/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// chatEvents are fired for chat messages. Most have no bound action, and an
// event map may leave them out entirely, so neither case is logged.
var chatEvents = map[string]bool{"chat": true, "modchat": true, "subchat": true}

// Queue is the action dispatcher. Any number of event sources may call
// FireEvent and PushToQueue concurrently; a single chain goroutine executes
// queued actions one at a time.
type Queue struct {
	config Config
	logger zerolog.Logger

	snapshot   atomic.Pointer[eventmap.Snapshot]
	allowAudio atomic.Bool

	lights    Lights
	sounds    SoundPlayer
	speaker   Speaker
	chat      ChatSender
	observers Broadcaster
	variables VariableStore
	external  SnapshotProvider
	journal   Journal
	intn      func(int) int

	// Runtime state
	mu      sync.Mutex
	pending []*Action
	running bool
	closed  bool
	idle    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	// Stats
	stats    Stats
	statsMu  sync.RWMutex
	resultCh chan ActionResult
}

// Option wires a collaborator into the queue.
type Option func(*Queue)

// WithLights sets the light controller.
func WithLights(l Lights) Option { return func(q *Queue) { q.lights = l } }

// WithSoundPlayer sets the sound player.
func WithSoundPlayer(p SoundPlayer) Option { return func(q *Queue) { q.sounds = p } }

// WithSpeaker sets the speech synthesizer.
func WithSpeaker(s Speaker) Option { return func(q *Queue) { q.speaker = s } }

// WithChat sets the chat sender.
func WithChat(c ChatSender) Option { return func(q *Queue) { q.chat = c } }

// WithBroadcaster sets the websocket observer channel.
func WithBroadcaster(b Broadcaster) Option { return func(q *Queue) { q.observers = b } }

// WithVariables sets the variable table.
func WithVariables(v VariableStore) Option { return func(q *Queue) { q.variables = v } }

// WithSnapshotProvider sets the external lookup snapshot.
func WithSnapshotProvider(p SnapshotProvider) Option { return func(q *Queue) { q.external = p } }

// WithJournal records fires and action results.
func WithJournal(j Journal) Option { return func(q *Queue) { q.journal = j } }

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option { return func(q *Queue) { q.logger = logger } }

// WithRand overrides variant selection. intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option { return func(q *Queue) { q.intn = intn } }

// New creates a queue. The snapshot may be nil until the first Reload.
func New(config Config, snapshot *eventmap.Snapshot, opts ...Option) *Queue {
	defaults := DefaultConfig()
	if config.DelayUnit <= 0 {
		config.DelayUnit = defaults.DelayUnit
	}
	if config.ResultBuffer <= 0 {
		config.ResultBuffer = defaults.ResultBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		config:   config,
		logger:   logging.Component("actions"),
		intn:     rand.Intn,
		ctx:      ctx,
		cancel:   cancel,
		resultCh: make(chan ActionResult, config.ResultBuffer),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.allowAudio.Store(config.AllowAudio)
	if snapshot != nil {
		q.Reload(snapshot)
	}
	return q
}

// Reload swaps the event map. Actions already queued keep the globals they
// were enqueued with.
func (q *Queue) Reload(snapshot *eventmap.Snapshot) {
	if snapshot == nil {
		return
	}
	q.snapshot.Store(snapshot)

	loadedAt := snapshot.LoadedAt
	q.statsMu.Lock()
	q.stats.LoadedAt = &loadedAt
	q.statsMu.Unlock()

	q.logger.Info().
		Int("events", len(snapshot.Events)).
		Int("files", len(snapshot.Files)).
		Msg("event map loaded")
}

// Snapshot returns the current event map.
func (q *Queue) Snapshot() *eventmap.Snapshot {
	return q.snapshot.Load()
}

// Events returns the sorted names of the current event map.
func (q *Queue) Events() []string {
	return q.snapshot.Load().Names()
}

// SetAllowAudio toggles sound and speech effects.
func (q *Queue) SetAllowAudio(allow bool) {
	q.allowAudio.Store(allow)
	q.logger.Info().Bool("allow_audio", allow).Msg("audio toggled")
}

// AllowAudio reports whether sound and speech effects run.
func (q *Queue) AllowAudio() bool {
	return q.allowAudio.Load()
}

// FireEvent dispatches a named event. A number selects the highest numeric
// tier not exceeding it; otherwise a name selects a named tier; otherwise a
// directly actionable event is used. It reports whether anything was
// enqueued.
func (q *Queue) FireEvent(name string, opts FireOptions) bool {
	rec := FireRecord{
		ID:      uuid.NewString(),
		Event:   name,
		Number:  opts.Number,
		Name:    opts.Name,
		Context: fireContext(opts),
		FiredAt: time.Now().UTC(),
	}
	defer q.recordFire(rec.ID, &rec)

	q.statsMu.Lock()
	q.stats.Fired++
	q.statsMu.Unlock()

	snap := q.snapshot.Load()
	def, ok := snap.Lookup(name)
	if !ok {
		if !chatEvents[name] {
			q.logger.Warn().Str("event", name).Msg("unknown event")
		}
		return false
	}

	log := q.logger.With().Str("event", name).Logger()

	switch {
	case opts.Number != nil:
		var selected *eventmap.NumericTier
		for _, tier := range def.NumericTiers() {
			if *opts.Number >= tier.Threshold {
				t := tier
				selected = &t
			}
		}
		if selected != nil {
			if selected.Definition.Actionable() {
				rec.Tier = selected.Key
				return q.dispatch(&rec, selected.Definition, snap)
			}
			log.Warn().Str("tier", selected.Key).Msg("selected tier is not actionable")
		}
	case opts.Name != "":
		if child, ok := def.Tier(opts.Name); ok && child.Actionable() {
			rec.Tier = opts.Name
			return q.dispatch(&rec, child, snap)
		}
	}

	if def.Actionable() {
		return q.dispatch(&rec, def, snap)
	}

	if !chatEvents[name] {
		log.Info().
			Interface("number", opts.Number).
			Str("name", opts.Name).
			Msg("no action matched")
	}
	return false
}

func (q *Queue) dispatch(rec *FireRecord, def *eventmap.Definition, snap *eventmap.Snapshot) bool {
	n, err := q.push(rec.ID, rec.Event, def, rec.Context, snap)
	if err != nil {
		q.logger.Warn().Err(err).Str("event", rec.Event).Str("tier", rec.Tier).Msg("failed to enqueue event")
		return false
	}
	rec.Matched = true
	rec.Actions = n

	q.statsMu.Lock()
	q.stats.Matched++
	q.statsMu.Unlock()
	return true
}

// PushToQueue enqueues an actionable definition directly. A variant group
// contributes one uniformly chosen option. Empty or non-actionable input is
// rejected without touching the queue.
func (q *Queue) PushToQueue(def *eventmap.Definition, fields map[string]any) error {
	_, err := q.push(uuid.NewString(), "", def, cloneMap(fields), q.snapshot.Load())
	return err
}

func (q *Queue) push(batchID, event string, def *eventmap.Definition, fields map[string]any, snap *eventmap.Snapshot) (int, error) {
	records, err := q.resolve(def)
	if err != nil {
		q.logger.Warn().Err(err).Str("event", event).Msg("push rejected")
		return 0, err
	}
	records = ConvertOffsets(records)

	var external map[string]any
	if q.external != nil {
		external = q.external.Latest()
	}
	var globals map[string]any
	if snap != nil {
		globals = snap.Globals
	}

	now := time.Now().UTC()
	batch := make([]*Action, len(records))
	for i, record := range records {
		batch[i] = &Action{
			ID:         uuid.NewString(),
			BatchID:    batchID,
			Event:      event,
			Snapshot:   external,
			Globals:    globals,
			Context:    fields,
			Fields:     record,
			EnqueuedAt: now,
		}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrQueueClosed
	}
	q.pending = append(q.pending, batch...)
	q.startLocked()
	q.mu.Unlock()

	q.logger.Debug().
		Str("event", event).
		Str("batch_id", batchID).
		Int("actions", len(batch)).
		Msg("actions enqueued")
	return len(batch), nil
}

func (q *Queue) resolve(def *eventmap.Definition) ([]eventmap.Record, error) {
	if !def.Actionable() {
		return nil, ErrNotActionable
	}
	var records []eventmap.Record
	switch def.Kind {
	case eventmap.KindList:
		records = def.Actions
	case eventmap.KindVariants:
		if len(def.Variants) == 0 {
			return nil, ErrEmptyActionList
		}
		records = def.Variants[q.intn(len(def.Variants))]
	}
	if len(records) == 0 {
		return nil, ErrEmptyActionList
	}
	return records, nil
}

// startLocked starts a chain if none is in flight. Caller holds q.mu.
func (q *Queue) startLocked() {
	if q.running || q.closed || len(q.pending) == 0 {
		return
	}
	q.running = true
	q.idle = make(chan struct{})

	q.statsMu.Lock()
	q.stats.Chains++
	q.statsMu.Unlock()

	go q.runChain(uuid.NewString())
}

// runChain drains the queue. The lock is held only while popping.
func (q *Queue) runChain(chainID string) {
	log := q.logger.With().Str("chain_id", chainID).Logger()
	log.Debug().Msg("chain started")

	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.ctx.Err() != nil {
			q.running = false
			close(q.idle)
			q.mu.Unlock()
			log.Debug().Msg("chain drained")
			return
		}
		action := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		result := q.runAction(action)
		result.ChainID = chainID
		q.finish(result)
	}
}

func (q *Queue) finish(result ActionResult) {
	failures := len(result.Failed())
	now := time.Now().UTC()

	q.statsMu.Lock()
	q.stats.Actions++
	q.stats.EffectFailures += int64(failures)
	q.stats.LastActionAt = &now
	q.statsMu.Unlock()

	if q.journal != nil {
		if err := q.journal.RecordAction(q.ctx, result); err != nil {
			q.logger.Warn().Err(err).Str("action_id", result.ActionID).Msg("failed to journal action")
		}
	}

	select {
	case q.resultCh <- result:
	default:
		q.logger.Debug().Str("action_id", result.ActionID).Msg("result channel full, dropping")
	}
}

func (q *Queue) recordFire(id string, rec *FireRecord) {
	if q.journal == nil {
		return
	}
	if err := q.journal.RecordFire(q.ctx, *rec); err != nil {
		q.logger.Warn().Err(err).Str("fire_id", id).Msg("failed to journal fire")
	}
}

// Results returns the channel of action results. Results are dropped when
// nobody reads.
func (q *Queue) Results() <-chan ActionResult {
	return q.resultCh
}

// Pending returns the number of queued actions.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Running reports whether a chain is in flight.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Stats returns current queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	running, pending := q.running, len(q.pending)
	q.mu.Unlock()

	q.statsMu.RLock()
	defer q.statsMu.RUnlock()
	stats := q.stats
	stats.Running = running
	stats.Pending = pending
	return stats
}

// WaitIdle blocks until no chain is in flight and the queue is empty.
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if !q.running {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close rejects further pushes and interrupts any sleeping chain. Queued
// actions that have not started are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	q.logger.Info().Int("dropped", dropped).Msg("action queue closed")
}

func fireContext(opts FireOptions) map[string]any {
	ctx := cloneMap(opts.Context)
	if ctx == nil {
		ctx = make(map[string]any)
	}
	if opts.Number != nil {
		ctx["number"] = *opts.Number
	}
	if opts.Name != "" {
		ctx["name"] = opts.Name
	}
	return ctx
}
