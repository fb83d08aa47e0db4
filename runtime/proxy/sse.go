package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/runtime/tracing"
)

// StreamChunk is one incremental result delivered by InvokeStream. Final is
// set on the chunk that carries the tool's terminal result.
type StreamChunk struct {
	Data  json.RawMessage
	Final bool
	Err   error
}

// InvokeStream resolves capability exactly as Invoke does, but places the
// call over SSE and delivers incremental chunks on the returned channel. It
// is used for ToolSpec.Streaming tools (spec §4.3). Grounded on
// runtime/mcp/ssecaller.go's CallTool and readSSEEvent.
func (inv *Invoker) InvokeStream(ctx context.Context, capability, functionName string, arguments map[string]any) (<-chan StreamChunk, error) {
	ref, ok := inv.table.Load().Lookup(capability)
	if !ok {
		return nil, &mesh.ToolUnavailableError{Capability: capability}
	}

	body, err := json.Marshal(rpcRequest{Tool: functionName, Arguments: arguments})
	if err != nil {
		return nil, &mesh.ToolCallFailedError{Capability: capability, FunctionName: functionName, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ref.Endpoint+"/tools/call", bytes.NewReader(body))
	if err != nil {
		return nil, &mesh.ToolCallFailedError{Capability: capability, FunctionName: functionName, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	tracing.InjectHeaders(ctx, req.Header, nil, inv.allowlist)

	resp, err := inv.clientFor(ref.Endpoint).Do(req)
	if err != nil {
		return nil, &mesh.ToolCallFailedError{Capability: capability, FunctionName: functionName, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &mesh.ToolCallFailedError{
			Capability:   capability,
			FunctionName: functionName,
			Cause:        fmt.Errorf("peer returned status %d: %s", resp.StatusCode, string(raw)),
		}
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		reader := bufio.NewReader(resp.Body)
		for {
			event, data, err := readSSEEvent(reader)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					out <- StreamChunk{Err: err}
				}
				return
			}
			switch event {
			case "response":
				out <- StreamChunk{Data: json.RawMessage(data), Final: true}
				return
			case "error":
				out <- StreamChunk{Err: fmt.Errorf("peer stream error: %s", string(data))}
				return
			case "close":
				return
			default:
				out <- StreamChunk{Data: json.RawMessage(data)}
			}
		}
	}()
	return out, nil
}

// readSSEEvent parses one SSE event (event:/data: lines terminated by a
// blank line), adapted from runtime/mcp's SSE caller.
func readSSEEvent(reader *bufio.Reader) (string, []byte, error) {
	var event string
	var data []byte
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if event == "" && len(data) == 0 {
				continue
			}
			return event, data, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if after, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			chunk := after
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, chunk...)
			continue
		}
	}
}
