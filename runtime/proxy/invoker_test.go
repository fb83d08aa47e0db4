package proxy_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/runtime/proxy"
)

func TestInvokeReturnsToolUnavailableWhenNoBinding(t *testing.T) {
	inv := proxy.NewInvoker("self", nil)
	_, err := inv.Invoke(context.Background(), "widgets", "do_thing", nil, 0, 0)

	var unavailable *mesh.ToolUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "widgets", unavailable.Capability)
}

func TestInvokeUsesSelfCallShortcutForOwnAgent(t *testing.T) {
	inv := proxy.NewInvoker("self", nil)
	inv.SetTable(proxy.NewTable().WithBinding("widgets", []mesh.ToolRef{{AgentID: "self", Capability: "widgets"}}))

	called := false
	inv.RegisterLocal("widgets", func(ctx context.Context, functionName string, arguments map[string]any) (any, bool, error) {
		called = true
		return "local-result", true, nil
	})

	result, err := inv.Invoke(context.Background(), "widgets", "do_thing", nil, 0, 0)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "local-result", result.Result)
}

func TestInvokeCallsRemotePeerOverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tools/call", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("x-trace-id"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": "remote-result"})
	}))
	defer server.Close()

	inv := proxy.NewInvoker("self", nil)
	inv.SetTable(proxy.NewTable().WithBinding("widgets", []mesh.ToolRef{{AgentID: "peer", Endpoint: server.URL, Capability: "widgets"}}))

	result, err := inv.Invoke(context.Background(), "widgets", "do_thing", map[string]any{"x": 1}, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, "remote-result", result.Result)
}

func TestInvokeWrapsExhaustedRetriesAsToolCallFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	inv := proxy.NewInvoker("self", nil)
	inv.SetTable(proxy.NewTable().WithBinding("widgets", []mesh.ToolRef{{AgentID: "peer", Endpoint: server.URL, Capability: "widgets"}}))

	_, err := inv.Invoke(context.Background(), "widgets", "do_thing", nil, 200, 1)

	var failed *mesh.ToolCallFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "widgets", failed.Capability)
	assert.Equal(t, "do_thing", failed.FunctionName)
}

func TestInvokePropagatesPeerErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": -32000, "message": "boom"},
		})
	}))
	defer server.Close()

	inv := proxy.NewInvoker("self", nil)
	inv.SetTable(proxy.NewTable().WithBinding("widgets", []mesh.ToolRef{{AgentID: "peer", Endpoint: server.URL, Capability: "widgets"}}))

	_, err := inv.Invoke(context.Background(), "widgets", "do_thing", nil, 0, 0)
	require.Error(t, err)

	var failed *mesh.ToolCallFailedError
	require.True(t, errors.As(err, &failed))
}
