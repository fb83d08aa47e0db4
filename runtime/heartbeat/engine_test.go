package heartbeat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/runtime/eventbus"
	"github.com/mcp-mesh/mesh-core/runtime/heartbeat"
	"github.com/mcp-mesh/mesh-core/runtime/proxy"
)

func TestEngineRegisterInstallsTopologyAndPushesEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(mesh.RegisterResult{
			AgentID:         "agent-1",
			ResourceVersion: 1,
			ResolvedTopology: []mesh.ToolRef{
				{Capability: "widgets", Endpoint: "http://peer", FunctionName: "make"},
			},
		})
	}))
	defer server.Close()

	client := heartbeat.NewRegistryClient(server.URL, nil)
	bus := eventbus.New(16)
	inv := proxy.NewInvoker("agent-1", nil)
	spec := mesh.AgentSpec{Name: "a", HeartbeatIntervalS: 1}

	engine := heartbeat.NewEngine(client, spec, "http://agent-1", bus, inv)
	err := engine.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "agent-1", engine.AgentID())

	ev, ok := bus.Next(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, eventbus.KindAgentRegistered, ev.Kind())

	_, bound := inv.Table().Lookup("widgets")
	assert.True(t, bound)
}

func TestEngineRegisterFailurePushesRegistrationFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "INVALID_SPEC"})
	}))
	defer server.Close()

	client := heartbeat.NewRegistryClient(server.URL, nil)
	bus := eventbus.New(16)
	inv := proxy.NewInvoker("agent-1", nil)

	engine := heartbeat.NewEngine(client, mesh.AgentSpec{Name: "a"}, "http://agent-1", bus, inv)
	err := engine.Register(context.Background())
	require.Error(t, err)

	ev, ok := bus.Next(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, eventbus.KindRegistrationFailed, ev.Kind())
}

func TestEngineRunShutdownUnregistersAndClosesBus(t *testing.T) {
	unregistered := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(mesh.RegisterResult{AgentID: "agent-1", ResourceVersion: 1})
		case http.MethodDelete:
			select {
			case unregistered <- struct{}{}:
			default:
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	client := heartbeat.NewRegistryClient(server.URL, nil)
	bus := eventbus.New(16)
	inv := proxy.NewInvoker("agent-1", nil)
	spec := mesh.AgentSpec{Name: "a", HeartbeatIntervalS: 1}

	engine := heartbeat.NewEngine(client, spec, "http://agent-1", bus, inv)
	require.NoError(t, engine.Register(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine.Run did not return after cancel")
	}

	select {
	case <-unregistered:
	case <-time.After(time.Second):
		t.Fatal("unregister was not called on shutdown")
	}

	sawShutdown := false
	for {
		ev, ok := bus.Next(context.Background(), time.Second)
		if !ok {
			break
		}
		if ev.Kind() == eventbus.KindShutdown {
			sawShutdown = true
		}
	}
	assert.True(t, sawShutdown, "bus should deliver Shutdown before closing")
}
