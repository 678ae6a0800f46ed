package actions

import (
	"fmt"
	"strconv"

	"github.com/fitzbot/fitzbot/internal/eventmap"
)

const (
	fieldTimestamp   = "timestamp"
	fieldBeforeDelay = "beforeDelay"
)

// ConvertOffsets copies a batch and turns each absolute timestamp (units from
// batch start) into a beforeDelay relative to the previous timestamped
// action. Records without a timestamp are copied unchanged.
func ConvertOffsets(records []eventmap.Record) []eventmap.Record {
	out := make([]eventmap.Record, len(records))
	elapsed := 0.0
	for i, record := range records {
		clone := record.Clone()
		if raw, ok := clone[fieldTimestamp]; ok {
			if ts, ok := toFloat(raw); ok {
				clone[fieldBeforeDelay] = ts - elapsed
				elapsed = ts
			}
		}
		out[i] = clone
	}
	return out
}

// MergeContext flattens the layers an action runs with. Later layers win:
//
//	snapshot < globals < context < variables < action
//
// The action's literal fields always take precedence over a variable of the
// same name.
func MergeContext(snapshot, globals, context, variables, action map[string]any) map[string]any {
	size := len(snapshot) + len(globals) + len(context) + len(variables) + len(action)
	merged := make(map[string]any, size)
	for _, layer := range []map[string]any{snapshot, globals, context, variables, action} {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}

// Merged returns the action's fields overlaid on the given variables.
func (a *Action) Merged(variables map[string]any) map[string]any {
	return MergeContext(a.Snapshot, a.Globals, a.Context, variables, a.Fields)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func describe(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
