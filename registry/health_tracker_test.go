package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/registry"
	"github.com/mcp-mesh/mesh-core/registry/store/memory"
)

func seedAgent(t *testing.T, s *memory.Store, agentID string, lastSeen time.Time, status mesh.AgentStatus) {
	t.Helper()
	rec := &mesh.AgentRecord{
		AgentSpec: mesh.AgentSpec{
			Name:               agentID,
			Namespace:          "default",
			HeartbeatIntervalS: 1,
		},
		AgentID:  agentID,
		Endpoint: "http://127.0.0.1:9000",
		Status:   status,
		LastSeen: lastSeen,
	}
	require.NoError(t, s.SaveAgent(context.Background(), rec))
}

func TestHealthTrackerSweepMarksUnhealthyAfterMultiplier(t *testing.T) {
	s := memory.New()
	seedAgent(t, s, "agent-1", time.Now().Add(-4*time.Second), mesh.StatusHealthy)

	tracker := registry.NewHealthTracker(s, registry.WithUnhealthyMultiplier(3), registry.WithOfflineMultiplier(10))
	transitions, err := tracker.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, transitions, 1)
	assert.Equal(t, "agent-1", transitions[0].AgentID)
	assert.Equal(t, mesh.StatusHealthy, transitions[0].From)
	assert.Equal(t, mesh.StatusUnhealthy, transitions[0].To)

	rec, err := s.GetAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, mesh.StatusUnhealthy, rec.Status)
}

func TestHealthTrackerSweepMarksOfflineAfterMultiplier(t *testing.T) {
	s := memory.New()
	seedAgent(t, s, "agent-1", time.Now().Add(-11*time.Second), mesh.StatusHealthy)

	tracker := registry.NewHealthTracker(s, registry.WithUnhealthyMultiplier(3), registry.WithOfflineMultiplier(10))
	transitions, err := tracker.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, transitions, 1)
	assert.Equal(t, mesh.StatusOffline, transitions[0].To)
}

func TestHealthTrackerSweepLeavesRecentAgentsUntouched(t *testing.T) {
	s := memory.New()
	seedAgent(t, s, "agent-1", time.Now(), mesh.StatusHealthy)

	tracker := registry.NewHealthTracker(s, registry.WithUnhealthyMultiplier(3), registry.WithOfflineMultiplier(10))
	transitions, err := tracker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, transitions)
}

func TestHealthTrackerSweepSkipsAlreadyOfflineAgents(t *testing.T) {
	s := memory.New()
	seedAgent(t, s, "agent-1", time.Now().Add(-time.Hour), mesh.StatusOffline)

	tracker := registry.NewHealthTracker(s, registry.WithUnhealthyMultiplier(3), registry.WithOfflineMultiplier(10))
	transitions, err := tracker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, transitions)
}

func TestHealthTrackerRunSweepsOnIntervalUntilClosed(t *testing.T) {
	s := memory.New()
	seedAgent(t, s, "agent-1", time.Now().Add(-4*time.Second), mesh.StatusHealthy)

	tracker := registry.NewHealthTracker(s, registry.WithUnhealthyMultiplier(3), registry.WithOfflineMultiplier(10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker.Run(ctx, 20*time.Millisecond)
	defer tracker.Close()

	require.Eventually(t, func() bool {
		rec, err := s.GetAgent(context.Background(), "agent-1")
		return err == nil && rec.Status == mesh.StatusUnhealthy
	}, time.Second, 10*time.Millisecond)
}
