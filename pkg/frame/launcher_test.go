package frame

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/embedrpc/pkg/bridge"
	"github.com/morezero/embedrpc/pkg/commsutil"
)

func TestLauncher_EmbedAndRemove(t *testing.T) {
	bus := bridge.NewMemoryBus()
	var seen []bridge.EmbedRequest
	launcher := NewLauncher(bus, func(req bridge.EmbedRequest) *Dispatcher {
		seen = append(seen, req)
		return NewDispatcher()
	})

	req := bridge.EmbedRequest{ContextID: "a", Address: testAddress, Mount: "#slot"}
	s, err := launcher.Embed(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, []bridge.EmbedRequest{req}, seen)

	f, ok := launcher.Frame("a")
	require.True(t, ok)
	assert.Equal(t, "a", f.ContextID())
	assert.Equal(t, 1, bus.Listeners(commsutil.BuildFrameSubject("a")))

	_, err = launcher.Embed(context.Background(), req)
	assert.ErrorIs(t, err, ErrAlreadyLaunched)

	require.NoError(t, s.Remove())
	require.NoError(t, s.Remove())
	_, ok = launcher.Frame("a")
	assert.False(t, ok)
	assert.Zero(t, bus.Listeners(commsutil.BuildFrameSubject("a")))

	assert.ErrorIs(t, launcher.Remove("a"), ErrNotLaunched)
}

func TestLauncher_StopAll(t *testing.T) {
	bus := bridge.NewMemoryBus()
	launcher := NewLauncher(bus, nil)
	for _, id := range []string{"b", "a", "c"} {
		_, err := launcher.Embed(context.Background(), bridge.EmbedRequest{ContextID: id, Address: testAddress})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, launcher.Active())

	launcher.StopAll()
	assert.Empty(t, launcher.Active())
}

func TestLauncher_InvalidRequest(t *testing.T) {
	launcher := NewLauncher(bridge.NewMemoryBus(), nil)
	_, err := launcher.Embed(context.Background(), bridge.EmbedRequest{Address: testAddress})
	assert.Error(t, err)
	assert.Empty(t, launcher.Active())
}
