package variables

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	payloads []string
}

func (r *recordingBroadcaster) Broadcast(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, string(payload))
}

func TestOffsetTwiceBroadcastsRunningValue(t *testing.T) {
	b := &recordingBroadcaster{}
	table := New(WithBroadcaster(b))

	require.Equal(t, 0.0, table.Get("deaths"))

	v, err := table.Offset("deaths", 1)
	require.NoError(t, err)
	require.Equal(t, 1.0, v)

	v, err = table.Offset("deaths", 1)
	require.NoError(t, err)
	require.Equal(t, 2.0, v)

	require.Equal(t, 2.0, table.Get("deaths"))
	require.Len(t, b.payloads, 2)
	require.JSONEq(t, `{"variable":{"deaths":1}}`, b.payloads[0])
	require.JSONEq(t, `{"variable":{"deaths":2}}`, b.payloads[1])
}

func TestSetOverwritesAndBroadcasts(t *testing.T) {
	b := &recordingBroadcaster{}
	table := New(WithBroadcaster(b))

	require.NoError(t, table.Set("goal", 50))
	require.NoError(t, table.Set("goal", 10))
	require.Equal(t, 10.0, table.Get("goal"))
	require.Equal(t, map[string]float64{"goal": 10}, table.All())
	require.Len(t, b.payloads, 2)
}

func TestEmptyNameRejected(t *testing.T) {
	table := New()
	require.ErrorIs(t, table.Set("", 1), ErrEmptyName)
	_, err := table.Offset("", 1)
	require.ErrorIs(t, err, ErrEmptyName)
	require.Empty(t, table.All())
}

func TestHandleMessage(t *testing.T) {
	b := &recordingBroadcaster{}
	table := New(WithBroadcaster(b))
	require.NoError(t, table.Set("a", 3))

	reply, ok := table.HandleMessage([]byte(`{"variables":["a","b"]}`))
	require.True(t, ok)
	require.JSONEq(t, `{"variable":{"a":3,"b":0}}`, string(reply))

	// queries are not broadcast and do not create variables
	require.Len(t, b.payloads, 1)
	require.Equal(t, map[string]float64{"a": 3}, table.All())

	_, ok = table.HandleMessage([]byte(`{"hello":"world"}`))
	require.False(t, ok)
	_, ok = table.HandleMessage([]byte(`not json`))
	require.False(t, ok)
}

func TestConcurrentOffsets(t *testing.T) {
	table := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = table.Offset("hits", 1)
		}()
	}
	wg.Wait()
	require.Equal(t, 50.0, table.Get("hits"))
}
