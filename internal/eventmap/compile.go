package eventmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/go-viper/mapstructure/v2"
)

// ErrInvalidDefinition reports a malformed event definition or action record.
var ErrInvalidDefinition = errors.New("invalid event definition")

// Effects is the typed view of an action record's recognized effect fields.
type Effects struct {
	Timestamp    *float64      `mapstructure:"timestamp"`
	BeforeDelay  *float64      `mapstructure:"beforeDelay"`
	Delay        *float64      `mapstructure:"delay"`
	Scene        string        `mapstructure:"scene"`
	Sound        string        `mapstructure:"sound"`
	Light        *Light        `mapstructure:"light"`
	Hue          *float64      `mapstructure:"hue"`
	Websocket    string        `mapstructure:"websocket"`
	Notification *Notification `mapstructure:"notification"`
	Say          string        `mapstructure:"say"`
	Speak        string        `mapstructure:"speak"`
	Variable     *VariableOp   `mapstructure:"variable"`
}

// Light sets hue (degrees, 0-360), brightness, saturation and power.
type Light struct {
	Hue *float64 `mapstructure:"hue"`
	Bri *int     `mapstructure:"bri"`
	Sat *int     `mapstructure:"sat"`
	On  *bool    `mapstructure:"on"`
}

// Notification is broadcast to observers. A bare string is shorthand for Text.
type Notification struct {
	Text  string `mapstructure:"text" json:"text"`
	Image string `mapstructure:"image" json:"image,omitempty"`
	Color string `mapstructure:"color" json:"color,omitempty"`
}

// VariableOp assigns or increments a variable.
type VariableOp struct {
	Name   string   `mapstructure:"name"`
	Set    *float64 `mapstructure:"set"`
	Offset *float64 `mapstructure:"offset"`
}

var (
	notificationType = reflect.TypeOf(Notification{})
	effectFields     = effectFieldIndex()
)

// effectFieldIndex maps each recognized effect key to its Effects field.
func effectFieldIndex() map[string]int {
	t := reflect.TypeOf(Effects{})
	index := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		index[t.Field(i).Tag.Get("mapstructure")] = i
	}
	return index
}

// IsEffect reports whether key is a recognized effect field.
func IsEffect(key string) bool {
	_, ok := effectFields[key]
	return ok
}

// DecodeEffects reads the recognized effect fields of a record and fails on
// the first malformed one, in key order. Unknown keys are ignored; they
// remain available to templates.
func DecodeEffects(fields map[string]any) (Effects, error) {
	effects, errs := DecodeEachEffect(fields)
	if len(errs) == 0 {
		return effects, nil
	}
	keys := make([]string, 0, len(errs))
	for key := range errs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return Effects{}, errs[keys[0]]
}

// DecodeEachEffect decodes every recognized effect field on its own. A field
// that fails to decode is left unset and its error is reported under its key.
func DecodeEachEffect(fields map[string]any) (Effects, map[string]error) {
	var effects Effects
	var errs map[string]error
	target := reflect.ValueOf(&effects).Elem()
	for key, value := range fields {
		i, ok := effectFields[key]
		if !ok {
			continue
		}
		if err := decodeEffect(key, value, &effects); err != nil {
			target.Field(i).Set(reflect.Zero(target.Field(i).Type()))
			if errs == nil {
				errs = make(map[string]error)
			}
			errs[key] = err
		}
	}
	return effects, errs
}

func decodeEffect(key string, value any, effects *Effects) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           effects,
		WeaklyTypedInput: true,
		DecodeHook:       effectsHook,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(map[string]any{key: value})
}

// effectsHook accepts the legacy bare-string notification and lets
// structured websocket payloads be written inline.
func effectsHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to == notificationType && from.Kind() == reflect.String {
		return map[string]any{"text": data}, nil
	}
	if to.Kind() == reflect.String && (from.Kind() == reflect.Map || from.Kind() == reflect.Slice) {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	}
	return data, nil
}

// Compile turns a resolved document tree into typed definitions, validating
// every action record on the way.
func Compile(tree map[string]any) (EventMap, error) {
	events := make(EventMap, len(tree))
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def, err := compileNode(tree[name], name)
		if err != nil {
			return nil, err
		}
		events[name] = def
	}
	return events, nil
}

// CompileDefinition compiles a single definition node.
func CompileDefinition(node any) (*Definition, error) {
	return compileNode(node, "definition")
}

func compileNode(node any, where string) (*Definition, error) {
	switch n := node.(type) {
	case []any:
		actions, err := compileList(n, where)
		if err != nil {
			return nil, err
		}
		return List(actions...), nil

	case map[string]any:
		if raw, ok := n[keyOneOf]; ok {
			return compileVariants(raw, where)
		}
		tiers := make(map[string]*Definition, len(n))
		for key, child := range n {
			def, err := compileNode(child, where+"."+key)
			if err != nil {
				return nil, err
			}
			tiers[key] = def
		}
		return Tiered(tiers), nil

	default:
		return nil, fmt.Errorf("%w: %s: expected an action list, oneOf group or tier map, got %T", ErrInvalidDefinition, where, node)
	}
}

func compileVariants(raw any, where string) (*Definition, error) {
	options, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s.oneOf: expected a list, got %T", ErrInvalidDefinition, where, raw)
	}
	variants := make([][]Record, 0, len(options))
	for i, option := range options {
		items, ok := option.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s.oneOf[%d]: expected an action list, got %T", ErrInvalidDefinition, where, i, option)
		}
		actions, err := compileList(items, fmt.Sprintf("%s.oneOf[%d]", where, i))
		if err != nil {
			return nil, err
		}
		variants = append(variants, actions)
	}
	return Variants(variants...), nil
}

func compileList(items []any, where string) ([]Record, error) {
	actions := make([]Record, 0, len(items))
	for i, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d]: expected an action record, got %T", ErrInvalidDefinition, where, i, item)
		}
		if _, err := DecodeEffects(fields); err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", ErrInvalidDefinition, where, i, err)
		}
		actions = append(actions, Record(fields))
	}
	return actions, nil
}
