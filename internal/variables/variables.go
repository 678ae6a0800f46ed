// Package variables holds the named numeric counters that actions mutate and
// observers query.
package variables

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrEmptyName is returned when a mutation names no variable.
var ErrEmptyName = errors.New("variable name is required")

// Broadcaster fans a payload out to every connected observer.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// Update is the broadcast and reply envelope: {"variable": {"name": value}}.
type Update struct {
	Variable map[string]float64 `json:"variable"`
}

// Request is an inbound observer query: {"variables": ["a", "b"]}.
type Request struct {
	Variables []string `json:"variables"`
}

// Table is a process-lifetime map of variable name to value. Unknown names
// read as zero. Every mutation is broadcast to observers.
type Table struct {
	mu          sync.RWMutex
	values      map[string]float64
	broadcaster Broadcaster
	logger      zerolog.Logger
}

// Option configures a Table.
type Option func(*Table)

// WithBroadcaster sets the observer channel that receives mutations.
func WithBroadcaster(b Broadcaster) Option {
	return func(t *Table) { t.broadcaster = b }
}

// WithLogger sets the table's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Table) { t.logger = logger }
}

// New creates an empty table.
func New(opts ...Option) *Table {
	t := &Table{
		values: make(map[string]float64),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetBroadcaster replaces the observer channel. Used when the hub is built
// after the table.
func (t *Table) SetBroadcaster(b Broadcaster) {
	t.mu.Lock()
	t.broadcaster = b
	t.mu.Unlock()
}

// Get returns the current value, zero if unset.
func (t *Table) Get(name string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values[name]
}

// Set assigns a value and broadcasts it.
func (t *Table) Set(name string, value float64) error {
	if name == "" {
		return ErrEmptyName
	}
	t.mu.Lock()
	t.values[name] = value
	b := t.broadcaster
	t.mu.Unlock()

	t.publish(b, name, value)
	return nil
}

// Offset adds delta to the current value (zero if unset), broadcasts the
// result and returns it.
func (t *Table) Offset(name string, delta float64) (float64, error) {
	if name == "" {
		return 0, ErrEmptyName
	}
	t.mu.Lock()
	value := t.values[name] + delta
	t.values[name] = value
	b := t.broadcaster
	t.mu.Unlock()

	t.publish(b, name, value)
	return value, nil
}

// All returns a copy of every set variable.
func (t *Table) All() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

// Fields returns the variables as template fields.
func (t *Table) Fields() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]any, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

// Query returns the values of the requested names; unknown names are zero.
func (t *Table) Query(names []string) map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(names))
	for _, name := range names {
		out[name] = t.values[name]
	}
	return out
}

// HandleMessage answers an observer query. It returns the reply to send back
// to the requesting observer only, and false when the message is not a
// variable query.
func (t *Table) HandleMessage(data []byte) ([]byte, bool) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil || req.Variables == nil {
		return nil, false
	}
	reply, err := json.Marshal(Update{Variable: t.Query(req.Variables)})
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to encode variable reply")
		return nil, false
	}
	return reply, true
}

func (t *Table) publish(b Broadcaster, name string, value float64) {
	t.logger.Debug().Str("variable", name).Float64("value", value).Msg("variable updated")
	if b == nil {
		return
	}
	payload, err := json.Marshal(Update{Variable: map[string]float64{name: value}})
	if err != nil {
		t.logger.Warn().Err(err).Str("variable", name).Msg("failed to encode variable update")
		return
	}
	b.Broadcast(payload)
}
