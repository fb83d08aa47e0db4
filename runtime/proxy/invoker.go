package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/runtime/a2a/retry"
	"github.com/mcp-mesh/mesh-core/runtime/tracing"
)

// LocalHandler serves a capability in-process, bypassing HTTP entirely. An
// Invoker consults it before ever building an outbound request (spec §4.3:
// "a self-dependency — a tool depending on a capability its own agent
// provides — is shortcut in-process, never round-tripping through HTTP").
type LocalHandler func(ctx context.Context, functionName string, arguments map[string]any) (any, bool, error)

// Invoker resolves a capability against the current Table and places the
// call, either in-process (self-dependency shortcut) or over HTTP via an MCP
// JSON-RPC "tools/call" request, with retry/backoff and optional SSE
// streaming. Grounded on runtime/mcp/caller.go's Caller shape and
// runtime/a2a/retry for the backoff policy.
type Invoker struct {
	ownAgentID string
	table      atomic.Pointer[Table]
	locals     sync.Map // capability -> LocalHandler

	clientsMu sync.Mutex
	clients   map[string]*http.Client

	allowlist []string
}

// NewInvoker creates an Invoker for the agent identified by ownAgentID. The
// table starts empty; callers install bindings via SetTable as the
// heartbeat/topology layer resolves dependencies.
func NewInvoker(ownAgentID string, allowlist []string) *Invoker {
	inv := &Invoker{
		ownAgentID: ownAgentID,
		clients:    make(map[string]*http.Client),
		allowlist:  allowlist,
	}
	inv.table.Store(NewTable())
	return inv
}

// SetTable atomically swaps in a new proxy table snapshot (copy-on-write;
// spec §5).
func (inv *Invoker) SetTable(t *Table) { inv.table.Store(t) }

// SetOwnAgentID updates the agent ID used for the self-dependency shortcut.
// Needed when an Invoker is constructed before the registry has assigned an
// ID (spec §4.2: registration returns agent_id on first contact).
func (inv *Invoker) SetOwnAgentID(agentID string) { inv.ownAgentID = agentID }

// Table returns the current table snapshot.
func (inv *Invoker) Table() *Table { return inv.table.Load() }

// RegisterLocal installs an in-process handler for capability, enabling the
// self-dependency shortcut.
func (inv *Invoker) RegisterLocal(capability string, handler LocalHandler) {
	inv.locals.Store(capability, handler)
}

// CallResult is the outcome of a non-streaming Invoke.
type CallResult struct {
	Result     any
	Structured bool
}

// Invoke resolves capability against the current table and performs the
// call. timeoutMs and retryCount come from the owning ToolSpec's
// proxy-tuning kwargs (0 timeoutMs means no deadline is imposed beyond ctx's
// own).
func (inv *Invoker) Invoke(ctx context.Context, capability, functionName string, arguments map[string]any, timeoutMs, retryCount int) (CallResult, error) {
	ref, ok := inv.table.Load().Lookup(capability)
	if !ok {
		return CallResult{}, &mesh.ToolUnavailableError{Capability: capability}
	}

	if ref.AgentID == inv.ownAgentID {
		if v, ok := inv.locals.Load(capability); ok {
			handler := v.(LocalHandler)
			result, handled, err := handler(ctx, functionName, arguments)
			if handled {
				if err != nil {
					return CallResult{}, &mesh.ToolCallFailedError{Capability: capability, FunctionName: functionName, Cause: err}
				}
				return CallResult{Result: result}, nil
			}
		}
	}

	if timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	cfg := retry.DefaultConfig()
	if retryCount > 0 {
		cfg.MaxAttempts = retryCount + 1
	} else {
		cfg.MaxAttempts = 1
	}

	var result CallResult
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		r, callErr := inv.call(ctx, ref, functionName, arguments)
		if callErr != nil {
			return callErr
		}
		result = r
		return nil
	})
	if err != nil {
		return CallResult{}, &mesh.ToolCallFailedError{Capability: capability, FunctionName: functionName, Cause: err}
	}
	return result, nil
}

type rpcRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result     any  `json:"result"`
	Structured bool `json:"structured,omitempty"`
	Error      *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (inv *Invoker) call(ctx context.Context, ref mesh.ToolRef, functionName string, arguments map[string]any) (CallResult, error) {
	body, err := json.Marshal(rpcRequest{Tool: functionName, Arguments: arguments})
	if err != nil {
		return CallResult{}, err
	}

	url := ref.Endpoint + "/tools/call"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return CallResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectHeaders(ctx, req.Header, nil, inv.allowlist)

	resp, err := inv.clientFor(ref.Endpoint).Do(req)
	if err != nil {
		return CallResult{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return CallResult{}, err
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return CallResult{}, &retry.HTTPStatusError{StatusCode: resp.StatusCode, Message: string(data)}
	}
	if resp.StatusCode >= 400 {
		return CallResult{}, fmt.Errorf("peer returned status %d: %s", resp.StatusCode, string(data))
	}

	var rpc rpcResponse
	if err := json.Unmarshal(data, &rpc); err != nil {
		return CallResult{}, err
	}
	if rpc.Error != nil {
		return CallResult{}, fmt.Errorf("peer error %d: %s", rpc.Error.Code, rpc.Error.Message)
	}
	return CallResult{Result: rpc.Result, Structured: rpc.Structured}, nil
}

func (inv *Invoker) clientFor(endpoint string) *http.Client {
	inv.clientsMu.Lock()
	defer inv.clientsMu.Unlock()
	if c, ok := inv.clients[endpoint]; ok {
		return c
	}
	c := &http.Client{Timeout: 0}
	inv.clients[endpoint] = c
	return c
}
