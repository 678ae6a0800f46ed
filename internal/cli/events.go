package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fitzbot/fitzbot/internal/botd"
	"github.com/fitzbot/fitzbot/internal/config"
	"github.com/fitzbot/fitzbot/internal/eventmap"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(eventsCmd)
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List configured events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshot, err := loadSnapshot(GetConfig(), projectDir)
		if err != nil {
			return err
		}
		return writeEvents(cmd.OutOrStdout(), snapshot)
	},
}

type eventSummary struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Actions int      `json:"actions,omitempty"`
	Options int      `json:"options,omitempty"`
	Tiers   []string `json:"tiers,omitempty"`
}

func loadSnapshot(cfg *config.Config, dir string) (*eventmap.Snapshot, error) {
	eventsPath, globalsPath, err := botd.ResolveEventMap(cfg.Events, dir)
	if err != nil {
		return nil, err
	}
	return eventmap.Load(eventsPath, globalsPath)
}

func summarize(snapshot *eventmap.Snapshot) []eventSummary {
	names := snapshot.Names()
	out := make([]eventSummary, 0, len(names))
	for _, name := range names {
		def, _ := snapshot.Lookup(name)
		s := eventSummary{Name: name, Kind: def.Kind.String()}
		switch def.Kind {
		case eventmap.KindList:
			s.Actions = len(def.Actions)
		case eventmap.KindVariants:
			s.Options = len(def.Variants)
		case eventmap.KindTiered:
			s.Tiers = tierKeys(def)
		}
		out = append(out, s)
	}
	return out
}

// tierKeys lists numeric tiers by threshold, then named tiers alphabetically.
func tierKeys(def *eventmap.Definition) []string {
	numeric := def.NumericTiers()
	seen := make(map[string]bool, len(numeric))
	keys := make([]string, 0, len(def.Tiers))
	for _, tier := range numeric {
		keys = append(keys, tier.Key)
		seen[tier.Key] = true
	}
	named := make([]string, 0, len(def.Tiers)-len(numeric))
	for key := range def.Tiers {
		if !seen[key] {
			named = append(named, key)
		}
	}
	sort.Strings(named)
	return append(keys, named...)
}

func writeEvents(out io.Writer, snapshot *eventmap.Snapshot) error {
	summaries := summarize(snapshot)
	if IsJSONOutput() {
		return writeJSON(out, summaries)
	}

	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		def, _ := snapshot.Lookup(s.Name)
		var detail string
		switch def.Kind {
		case eventmap.KindList:
			detail = fmt.Sprintf("%d actions", s.Actions)
		case eventmap.KindVariants:
			detail = fmt.Sprintf("%d options", s.Options)
		case eventmap.KindTiered:
			detail = strings.Join(s.Tiers, ", ")
		}
		rows = append(rows, []string{s.Name, formatKind(def.Kind), detail})
	}
	return writeTable(out, []string{"EVENT", "KIND", "DETAIL"}, rows)
}
