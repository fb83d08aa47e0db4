package heartbeat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/runtime/heartbeat"
)

func TestRegisterPostsAgentSpec(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/agents", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(mesh.RegisterResult{AgentID: "agent-1", ResourceVersion: 1})
	}))
	defer server.Close()

	client := heartbeat.NewRegistryClient(server.URL, nil)
	result, err := client.Register(context.Background(), mesh.AgentSpec{Name: "a"}, "http://agent")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", result.AgentID)
}

func TestHeartbeatReportsNotModifiedOn304(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	client := heartbeat.NewRegistryClient(server.URL, nil)
	result, err := client.Heartbeat(context.Background(), "agent-1", mesh.StatusHealthy, "hash", nil)
	require.NoError(t, err)
	assert.True(t, result.NotModified)
}

func TestProbeReturnsErrorOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := heartbeat.NewRegistryClient(server.URL, nil)
	err := client.Probe(context.Background(), "agent-1")
	assert.Error(t, err)
}

func TestUnregisterToleratesAlreadyGone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := heartbeat.NewRegistryClient(server.URL, nil)
	err := client.Unregister(context.Background(), "agent-1")
	assert.NoError(t, err)
}
