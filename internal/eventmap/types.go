// Package eventmap loads and resolves the declarative event map that drives
// the action queue.
package eventmap

import (
	"sort"
	"strconv"
	"time"
)

// Reserved document keys.
const (
	keyImport  = "import"
	keyImports = "imports"
	keyOneOf   = "oneOf"
)

// Kind identifies the shape of a Definition.
type Kind int

const (
	KindInvalid Kind = iota
	KindList
	KindVariants
	KindTiered
)

func (k Kind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindVariants:
		return "oneOf"
	case KindTiered:
		return "tiered"
	default:
		return "invalid"
	}
}

// Record is a single action record: literal effect fields plus free-form
// template data.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Definition is one node of the event map.
type Definition struct {
	Kind     Kind
	Actions  []Record
	Variants [][]Record
	Tiers    map[string]*Definition
}

// List builds an actionable list definition.
func List(records ...Record) *Definition {
	if records == nil {
		records = []Record{}
	}
	return &Definition{Kind: KindList, Actions: records}
}

// Variants builds a oneOf group.
func Variants(options ...[]Record) *Definition {
	if options == nil {
		options = [][]Record{}
	}
	return &Definition{Kind: KindVariants, Variants: options}
}

// Tiered builds a dispatch node keyed by number thresholds or names.
func Tiered(tiers map[string]*Definition) *Definition {
	return &Definition{Kind: KindTiered, Tiers: tiers}
}

// Actionable reports whether the node can be pushed to the queue directly.
// Tier maps are intermediate dispatch nodes only.
func (d *Definition) Actionable() bool {
	if d == nil {
		return false
	}
	return d.Kind == KindList || d.Kind == KindVariants
}

// Tier returns the named child of a tiered node.
func (d *Definition) Tier(name string) (*Definition, bool) {
	if d == nil || d.Kind != KindTiered {
		return nil, false
	}
	child, ok := d.Tiers[name]
	return child, ok
}

// NumericTier is a tier whose key parses as a number.
type NumericTier struct {
	Key        string
	Threshold  float64
	Definition *Definition
}

// NumericTiers returns the numeric-keyed children sorted by threshold.
func (d *Definition) NumericTiers() []NumericTier {
	if d == nil || d.Kind != KindTiered {
		return nil
	}
	tiers := make([]NumericTier, 0, len(d.Tiers))
	for key, child := range d.Tiers {
		threshold, err := strconv.ParseFloat(key, 64)
		if err != nil {
			continue
		}
		tiers = append(tiers, NumericTier{Key: key, Threshold: threshold, Definition: child})
	}
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].Threshold < tiers[j].Threshold
	})
	return tiers
}

// EventMap maps event names to their definitions.
type EventMap map[string]*Definition

// Snapshot is an immutable, fully resolved configuration.
type Snapshot struct {
	Events  EventMap
	Globals map[string]any

	// Files lists every document touched while resolving, in load order.
	Files    []string
	LoadedAt time.Time
}

// Lookup returns the definition for an event name.
func (s *Snapshot) Lookup(name string) (*Definition, bool) {
	if s == nil {
		return nil, false
	}
	def, ok := s.Events[name]
	return def, ok
}

// Names returns the sorted event names.
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Events))
	for name := range s.Events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
