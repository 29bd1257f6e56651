package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_DeliversToAllListeners(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	var mu sync.Mutex
	var got []string
	for i := 0; i < 2; i++ {
		_, err := bus.Subscribe("s", func(data []byte) {
			mu.Lock()
			got = append(got, string(data))
			mu.Unlock()
			wg.Done()
		})
		require.NoError(t, err)
	}
	_, err := bus.Subscribe("other", func([]byte) { t.Error("bridge:bus_test - wrong subject delivered") })
	require.NoError(t, err)

	require.NoError(t, bus.Publish("s", []byte("hello")))
	wg.Wait()
	assert.Equal(t, []string{"hello", "hello"}, got)
}

func TestMemoryBus_CopiesPayload(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	got := make(chan []byte, 1)
	_, err := bus.Subscribe("s", func(data []byte) { got <- data })
	require.NoError(t, err)

	payload := []byte("abc")
	require.NoError(t, bus.Publish("s", payload))
	payload[0] = 'x'

	select {
	case data := <-got:
		assert.Equal(t, "abc", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("bridge:bus_test - no delivery")
	}
}

func TestMemoryBus_UnsubscribeAndClose(t *testing.T) {
	bus := NewMemoryBus()
	sub, err := bus.Subscribe("s", func([]byte) {})
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Listeners("s"))

	require.NoError(t, sub.Unsubscribe())
	assert.Zero(t, bus.Listeners("s"))
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, bus.Publish("s", []byte("nobody")))

	bus.Close()
	assert.ErrorIs(t, bus.Publish("s", nil), ErrBusClosed)
	_, err = bus.Subscribe("s", func([]byte) {})
	assert.ErrorIs(t, err, ErrBusClosed)
}
