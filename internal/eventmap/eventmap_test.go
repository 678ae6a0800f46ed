package eventmap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadResolvesImports(t *testing.T) {
	dir := t.TempDir()
	root := writeDoc(t, dir, "events.yaml", `imports:
  - shared.yaml
bits:
  100:
    - say: "Thanks {{user}}"
  500:
    import: tiers/big.yaml
follow:
  - sound: sounds/ding.mp3
  - import: tail.yaml
raid:
  oneOf:
    - - say: one
    - import: raid2.yaml
`)
	writeDoc(t, dir, "shared.yaml", "subscribe:\n  - say: sub\n")
	writeDoc(t, dir, "tiers/big.yaml", "- say: big\n- import: ../tail.yaml\n")
	writeDoc(t, dir, "tail.yaml", "- delay: 1\n- say: done\n")
	writeDoc(t, dir, "raid2.yaml", "- say: two\n- say: three\n")

	snap, err := Load(root, "")
	require.NoError(t, err)

	require.Equal(t, []string{"bits", "follow", "raid", "subscribe"}, snap.Names())

	bits, ok := snap.Lookup("bits")
	require.True(t, ok)
	require.Equal(t, KindTiered, bits.Kind)
	require.False(t, bits.Actionable())

	big, ok := bits.Tier("500")
	require.True(t, ok)
	require.Equal(t, KindList, big.Kind)
	require.Len(t, big.Actions, 3)
	require.Equal(t, "done", big.Actions[2]["say"])

	follow, _ := snap.Lookup("follow")
	require.Len(t, follow.Actions, 3)
	require.Equal(t, "sounds/ding.mp3", follow.Actions[0]["sound"])

	raid, _ := snap.Lookup("raid")
	require.Equal(t, KindVariants, raid.Kind)
	require.Len(t, raid.Variants, 2)
	require.Len(t, raid.Variants[1], 2)

	subscribe, _ := snap.Lookup("subscribe")
	require.True(t, subscribe.Actionable())

	abs := func(name string) string {
		p, err := filepath.Abs(filepath.Join(dir, name))
		require.NoError(t, err)
		return p
	}
	require.ElementsMatch(t, []string{
		abs("events.yaml"),
		abs("shared.yaml"),
		abs("tiers/big.yaml"),
		abs("tail.yaml"),
		abs("raid2.yaml"),
	}, snap.Files)
}

func TestImportedKeysOverrideLocalKeys(t *testing.T) {
	dir := t.TempDir()
	root := writeDoc(t, dir, "events.yaml", "imports: [more.yaml]\nfollow:\n  - say: local\n")
	writeDoc(t, dir, "more.yaml", "follow:\n  - say: imported\n")

	snap, err := Load(root, "")
	require.NoError(t, err)
	follow, _ := snap.Lookup("follow")
	require.Equal(t, "imported", follow.Actions[0]["say"])
}

func TestLoadGlobals(t *testing.T) {
	dir := t.TempDir()
	root := writeDoc(t, dir, "events.yaml", "follow:\n  - say: hi\n")
	globals := writeDoc(t, dir, "globals.yaml", "channel: fitzbros\ndiscord: https://discord.gg/x\n")

	snap, err := Load(root, globals)
	require.NoError(t, err)
	require.Equal(t, "fitzbros", snap.Globals["channel"])
	require.Len(t, snap.Files, 2)
}

func TestJSONAndYAMLTierKeysAgree(t *testing.T) {
	dir := t.TempDir()
	jsonPath := writeDoc(t, dir, "events.json", `{"bits": {"100": [{"say": "json"}]}}`)
	yamlPath := writeDoc(t, dir, "events.yaml", "bits:\n  100:\n    - say: yaml\n")

	for _, path := range []string{jsonPath, yamlPath} {
		snap, err := Load(path, "")
		require.NoError(t, err)
		bits, _ := snap.Lookup("bits")
		tiers := bits.NumericTiers()
		require.Len(t, tiers, 1)
		require.Equal(t, "100", tiers[0].Key)
		require.Equal(t, float64(100), tiers[0].Threshold)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr error
	}{
		{
			name: "cycle",
			files: map[string]string{
				"events.yaml": "follow:\n  import: a.yaml\n",
				"a.yaml":      "import: b.yaml\n",
				"b.yaml":      "import: a.yaml\n",
			},
			wantErr: ErrImportCycle,
		},
		{
			name: "spliced import is not a list",
			files: map[string]string{
				"events.yaml": "follow:\n  - import: map.yaml\n",
				"map.yaml":    "say: nope\n",
			},
			wantErr: ErrImportNotList,
		},
		{
			name: "oneOf option import is not a list",
			files: map[string]string{
				"events.yaml": "raid:\n  oneOf:\n    - import: map.yaml\n",
				"map.yaml":    "say: nope\n",
			},
			wantErr: ErrImportNotList,
		},
		{
			name: "imports fragment is not a mapping",
			files: map[string]string{
				"events.yaml": "imports: [list.yaml]\n",
				"list.yaml":   "- say: nope\n",
			},
			wantErr: ErrImportNotMapping,
		},
		{
			name: "import target is not a path",
			files: map[string]string{
				"events.yaml": "follow:\n  import: 12\n",
			},
			wantErr: ErrInvalidImport,
		},
		{
			name: "bad effect type",
			files: map[string]string{
				"events.yaml": "follow:\n  - delay: soon\n",
			},
			wantErr: ErrInvalidDefinition,
		},
		{
			name: "scalar definition",
			files: map[string]string{
				"events.yaml": "follow: hello\n",
			},
			wantErr: ErrInvalidDefinition,
		},
		{
			name: "oneOf option is not a list",
			files: map[string]string{
				"events.yaml": "raid:\n  oneOf:\n    - say: one\n",
			},
			wantErr: ErrInvalidDefinition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeDoc(t, dir, name, content)
			}
			_, err := Load(filepath.Join(dir, "events.yaml"), "")
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.wantErr), "got %v", err)

			var loadErr *LoadError
			require.ErrorAs(t, err, &loadErr)
			require.NotEmpty(t, loadErr.Files)
		})
	}
}

func TestDecodeEffects(t *testing.T) {
	effects, err := DecodeEffects(map[string]any{
		"timestamp":    2,
		"delay":        "1.5",
		"hue":          0,
		"light":        map[string]any{"hue": 120, "bri": 254, "on": true},
		"notification": "{{user}} followed",
		"websocket":    map[string]any{"confetti": true},
		"variable":     map[string]any{"name": "score", "offset": 1},
		"user":         "someone",
	})
	require.NoError(t, err)

	require.Equal(t, 2.0, *effects.Timestamp)
	require.Equal(t, 1.5, *effects.Delay)
	require.NotNil(t, effects.Hue)
	require.Equal(t, 0.0, *effects.Hue)
	require.Equal(t, 120.0, *effects.Light.Hue)
	require.Equal(t, 254, *effects.Light.Bri)
	require.Nil(t, effects.Light.Sat)
	require.True(t, *effects.Light.On)
	require.Equal(t, "{{user}} followed", effects.Notification.Text)
	require.JSONEq(t, `{"confetti": true}`, effects.Websocket)
	require.Equal(t, "score", effects.Variable.Name)
	require.Nil(t, effects.Variable.Set)
	require.Equal(t, 1.0, *effects.Variable.Offset)
	require.Nil(t, effects.BeforeDelay)
}

func TestDecodeEachEffectIsolatesBadFields(t *testing.T) {
	effects, errs := DecodeEachEffect(map[string]any{
		"light": "red",
		"say":   "still here",
		"delay": map[string]any{"bad": true},
	})
	require.Len(t, errs, 2)
	require.Contains(t, errs, "light")
	require.Contains(t, errs, "delay")
	require.Nil(t, effects.Light)
	require.Nil(t, effects.Delay)
	require.Equal(t, "still here", effects.Say)

	_, err := DecodeEffects(map[string]any{"light": "red", "say": "x"})
	require.Error(t, err)
	require.True(t, IsEffect("light"))
	require.False(t, IsEffect("user"))
}

func TestNumericTiersSorted(t *testing.T) {
	def := Tiered(map[string]*Definition{
		"500":     List(),
		"100":     List(),
		"special": List(),
		"1000":    List(),
	})
	tiers := def.NumericTiers()
	require.Len(t, tiers, 3)
	require.Equal(t, "100", tiers[0].Key)
	require.Equal(t, "500", tiers[1].Key)
	require.Equal(t, "1000", tiers[2].Key)
}

func TestFindDocument(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeDoc(t, second, "events.json", "{}")
	writeDoc(t, second, "globals.yml", "{}")

	path, ok := FindDocument(EventsDocument, []string{first, second})
	require.True(t, ok)
	require.Equal(t, filepath.Join(second, "events.json"), path)

	_, ok = FindDocument("missing", []string{first, second})
	require.False(t, ok)
}

type reloadRecorder struct {
	mu        sync.Mutex
	snapshots []*Snapshot
}

func (r *reloadRecorder) record(s *Snapshot) {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, s)
	r.mu.Unlock()
}

func (r *reloadRecorder) last() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	return r.snapshots[len(r.snapshots)-1]
}

func (r *reloadRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func TestWatcherReloadsOnTransitiveImportChange(t *testing.T) {
	dir := t.TempDir()
	root := writeDoc(t, dir, "events.yaml", "follow:\n  import: middle.yaml\n")
	writeDoc(t, dir, "middle.yaml", "- import: deep/leaf.yaml\n")
	leaf := writeDoc(t, dir, "deep/leaf.yaml", "- say: before\n")

	initial, err := Load(root, "")
	require.NoError(t, err)

	recorder := &reloadRecorder{}
	w, err := NewWatcher(root, "", initial, recorder.record, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	require.Len(t, w.Files(), 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(leaf, []byte("- say: after\n"), 0644))

	require.Eventually(t, func() bool {
		snap := recorder.last()
		if snap == nil {
			return false
		}
		follow, ok := snap.Lookup("follow")
		return ok && len(follow.Actions) == 1 && follow.Actions[0]["say"] == "after"
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherReloadFailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	root := writeDoc(t, dir, "events.yaml", "follow:\n  - say: ok\n")

	initial, err := Load(root, "")
	require.NoError(t, err)

	recorder := &reloadRecorder{}
	w, err := NewWatcher(root, "", initial, recorder.record)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(root, []byte("follow: [\n"), 0644))
	snap, err := w.Reload()
	require.Error(t, err)
	require.Nil(t, snap)
	require.Zero(t, recorder.count())
	require.Len(t, w.Files(), 1)

	require.NoError(t, os.WriteFile(root, []byte("follow:\n  - say: fixed\n"), 0644))
	snap, err = w.Reload()
	require.NoError(t, err)
	require.Equal(t, 1, recorder.count())
	follow, _ := snap.Lookup("follow")
	require.Equal(t, "fixed", follow.Actions[0]["say"])
}

func TestWatcherReportsFailures(t *testing.T) {
	dir := t.TempDir()
	root := writeDoc(t, dir, "events.yaml", "follow:\n  - say: ok\n")

	initial, err := Load(root, "")
	require.NoError(t, err)

	var failures []error
	w, err := NewWatcher(root, "", initial, func(*Snapshot) {}, WithFailureHandler(func(err error) {
		failures = append(failures, err)
	}))
	require.NoError(t, err)

	writeDoc(t, dir, "events.yaml", "follow:\n  import: gone.yaml\n")
	_, err = w.Reload()
	require.Error(t, err)
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures[0], err)
}
