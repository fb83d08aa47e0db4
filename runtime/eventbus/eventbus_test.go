package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-mesh/mesh-core/runtime/eventbus"
)

func TestBusDeliversInOrder(t *testing.T) {
	b := eventbus.New(8)
	b.Push(eventbus.NewAgentRegistered("a1", 1))
	b.Push(eventbus.NewRegistryConnected())

	ctx := context.Background()
	ev1, ok := b.Next(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, eventbus.KindAgentRegistered, ev1.Kind())

	ev2, ok := b.Next(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, eventbus.KindRegistryConnected, ev2.Kind())
}

func TestBusCoalescesConsecutiveDependencyChanged(t *testing.T) {
	b := eventbus.New(8)
	b.Push(eventbus.NewDependencyChanged("widgets", "a1", "http://a1"))
	b.Push(eventbus.NewDependencyChanged("widgets", "a2", "http://a2"))

	ctx := context.Background()
	ev, ok := b.Next(ctx, time.Second)
	require.True(t, ok)
	dc, ok := ev.(eventbus.DependencyChangedEvent)
	require.True(t, ok)
	assert.Equal(t, "a2", dc.AgentID)

	_, ok = b.Next(ctx, 10*time.Millisecond)
	assert.False(t, ok, "coalesced events should leave exactly one entry")
}

func TestBusDropsOldestNonCriticalUnderPressure(t *testing.T) {
	b := eventbus.New(2)
	b.Push(eventbus.NewRegistryDisconnected())
	b.Push(eventbus.NewRegistryConnected())
	b.Push(eventbus.NewHealthCheckDue())

	ctx := context.Background()
	ev, ok := b.Next(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, eventbus.KindRegistryConnected, ev.Kind())
}

func TestBusNeverDropsCriticalEvents(t *testing.T) {
	b := eventbus.New(2)
	b.Push(eventbus.NewRegistrationFailed(assert.AnError))
	b.Push(eventbus.NewRegistryConnected())
	b.Push(eventbus.NewHealthCheckDue())

	ctx := context.Background()
	var kinds []eventbus.Kind
	for i := 0; i < 3; i++ {
		ev, ok := b.Next(ctx, 50*time.Millisecond)
		if !ok {
			break
		}
		kinds = append(kinds, ev.Kind())
	}
	assert.Contains(t, kinds, eventbus.KindRegistrationFailed)
}

func TestBusNextTimesOutWhenEmpty(t *testing.T) {
	b := eventbus.New(8)
	_, ok := b.Next(context.Background(), 20*time.Millisecond)
	assert.False(t, ok)
}

func TestBusCloseEmitsShutdown(t *testing.T) {
	b := eventbus.New(8)
	b.Close()
	ev, ok := b.Next(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, eventbus.KindShutdown, ev.Kind())
}
