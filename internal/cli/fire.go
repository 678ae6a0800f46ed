package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fitzbot/fitzbot/internal/actions"
	"github.com/fitzbot/fitzbot/internal/config"
	"github.com/fitzbot/fitzbot/internal/eventmap"
	"github.com/fitzbot/fitzbot/internal/variables"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const dryRunResultBuffer = 1024

var (
	fireNumber     float64
	fireName       string
	fireSet        []string
	fireRealDelays bool
	fireTimeout    time.Duration
)

func init() {
	rootCmd.AddCommand(fireCmd)

	fireCmd.Flags().Float64Var(&fireNumber, "number", 0, "amount used to pick a numeric tier")
	fireCmd.Flags().StringVar(&fireName, "name", "", "named tier to pick when no --number is given")
	fireCmd.Flags().StringArrayVar(&fireSet, "set", nil, "context field as key=value (repeatable)")
	fireCmd.Flags().BoolVar(&fireRealDelays, "real-delays", false, "sleep for delays instead of skipping them")
	fireCmd.Flags().DurationVar(&fireTimeout, "timeout", time.Minute, "give up waiting for the chain after this long")
}

var fireCmd = &cobra.Command{
	Use:   "fire <event>",
	Short: "Dry-run an event and print the effects it would perform",
	Long: `Fire an event against the event map without touching lights, audio or
chat. Every effect is printed in execution order with its rendered value.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseSetFlags(fireSet)
		if err != nil {
			return err
		}
		opts := actions.FireOptions{Name: fireName, Context: fields}
		if cmd.Flags().Changed("number") {
			opts.Number = actions.Num(fireNumber)
		}

		snapshot, err := loadSnapshot(GetConfig(), projectDir)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), fireTimeout)
		defer cancel()
		return runFire(ctx, cmd.OutOrStdout(), GetConfig(), snapshot, args[0], opts)
	},
}

// parseSetFlags turns key=value pairs into context fields. Values are read
// as YAML scalars so numbers and booleans keep their type.
func parseSetFlags(pairs []string) (map[string]any, error) {
	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		if _, isMap := value.(map[string]any); isMap {
			value = raw
		}
		if _, isList := value.([]any); isList {
			value = raw
		}
		fields[key] = value
	}
	return fields, nil
}

// dryRun satisfies every collaborator and does nothing.
type dryRun struct{}

func (dryRun) SetScene(context.Context, string) error         { return nil }
func (dryRun) PickColor(context.Context, actions.Color) error { return nil }
func (dryRun) PlaySound(context.Context, string) error        { return nil }
func (dryRun) Speak(context.Context, string) error            { return nil }
func (dryRun) Say(context.Context, string) error              { return nil }
func (dryRun) Broadcast([]byte)                               {}

type fireOutput struct {
	Event   string         `json:"event"`
	Fired   bool           `json:"fired"`
	Actions []actionOutput `json:"actions"`
}

type actionOutput struct {
	ID      string         `json:"id"`
	Effects []effectOutput `json:"effects"`
}

type effectOutput struct {
	Effect  string `json:"effect"`
	Value   string `json:"value,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

func runFire(ctx context.Context, out io.Writer, cfg *config.Config, snapshot *eventmap.Snapshot, event string, opts actions.FireOptions) error {
	delayUnit := time.Microsecond
	if fireRealDelays {
		delayUnit = cfg.Queue.DelayUnit
	}

	var sink dryRun
	queue := actions.New(actions.Config{
		AllowAudio:   cfg.Queue.AllowAudio,
		DelayUnit:    delayUnit,
		ResultBuffer: dryRunResultBuffer,
	}, snapshot,
		actions.WithLights(sink),
		actions.WithSoundPlayer(sink),
		actions.WithSpeaker(sink),
		actions.WithChat(sink),
		actions.WithBroadcaster(sink),
		actions.WithVariables(variables.New()),
		actions.WithLogger(zerolog.Nop()),
	)
	defer queue.Close()

	result := fireOutput{Event: event, Fired: queue.FireEvent(event, opts)}
	if result.Fired {
		if err := queue.WaitIdle(ctx); err != nil {
			return fmt.Errorf("wait for %s: %w", event, err)
		}
	}

	results := queue.Results()
drain:
	for {
		select {
		case res := <-results:
			action := actionOutput{ID: res.ActionID}
			for _, eff := range res.Effects {
				e := effectOutput{Effect: eff.Effect, Value: eff.Value, Skipped: eff.Skipped}
				if eff.Err != nil {
					e.Error = eff.Err.Error()
				}
				action.Effects = append(action.Effects, e)
			}
			result.Actions = append(result.Actions, action)
		default:
			break drain
		}
	}

	if IsJSONOutput() {
		return writeJSON(out, result)
	}
	if !result.Fired {
		fmt.Fprintln(out, formatStatusLabel(false, fmt.Sprintf("%s: nothing matched", event)))
		return nil
	}
	for i, action := range result.Actions {
		fmt.Fprintf(out, "%s %d\n", render(styleTitle, "action"), i+1)
		for _, eff := range action.Effects {
			line := fmt.Sprintf("  %-12s %s", eff.Effect, eff.Value)
			switch {
			case eff.Error != "":
				line = render(styleError, line+"  ("+eff.Error+")")
			case eff.Skipped:
				line = render(styleMuted, line+"  (skipped)")
			}
			fmt.Fprintln(out, line)
		}
	}
	return nil
}
