package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mcp-mesh/mesh-core/mesh"
)

// RegistryClient is the heartbeat engine's view of the registry REST API
// (spec §6): register, probe, heartbeat, unregister. Grounded on
// registry/service.go's handler shapes — this is the client side of that
// same wire contract.
type RegistryClient struct {
	baseURL string
	http    *http.Client
}

// NewRegistryClient builds a RegistryClient against baseURL (e.g.
// "http://registry:8080").
func NewRegistryClient(baseURL string, httpClient *http.Client) *RegistryClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &RegistryClient{baseURL: baseURL, http: httpClient}
}

// Register performs POST /agents.
func (c *RegistryClient) Register(ctx context.Context, spec mesh.AgentSpec, endpoint string) (mesh.RegisterResult, error) {
	body, err := json.Marshal(struct {
		mesh.AgentSpec
		Endpoint string `json:"endpoint"`
	}{spec, endpoint})
	if err != nil {
		return mesh.RegisterResult{}, err
	}

	var result mesh.RegisterResult
	err = c.doJSON(ctx, http.MethodPost, "/agents", body, http.StatusCreated, &result)
	return result, err
}

// Probe performs HEAD /agents/{id}, returning nil only on a 2xx response.
func (c *RegistryClient) Probe(ctx context.Context, agentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/agents/"+agentID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("registry probe status %d", resp.StatusCode)
	}
	return nil
}

// heartbeatRequest mirrors registry/service.go's heartbeatRequest wire shape.
type heartbeatRequest struct {
	Status      mesh.AgentStatus `json:"status,omitempty"`
	ContentHash string           `json:"content_hash"`
	Spec        *mesh.AgentSpec  `json:"spec,omitempty"`
}

// Heartbeat performs POST /agents/{id}/heartbeat. A 304 response is reported
// as HeartbeatResult{NotModified: true} with no topology change.
func (c *RegistryClient) Heartbeat(ctx context.Context, agentID string, status mesh.AgentStatus, contentHash string, spec *mesh.AgentSpec) (mesh.HeartbeatResult, error) {
	body, err := json.Marshal(heartbeatRequest{Status: status, ContentHash: contentHash, Spec: spec})
	if err != nil {
		return mesh.HeartbeatResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agents/"+agentID+"/heartbeat", bytes.NewReader(body))
	if err != nil {
		return mesh.HeartbeatResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return mesh.HeartbeatResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return mesh.HeartbeatResult{NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return mesh.HeartbeatResult{}, fmt.Errorf("registry heartbeat status %d", resp.StatusCode)
	}

	var result mesh.HeartbeatResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return mesh.HeartbeatResult{}, err
	}
	return result, nil
}

// Unregister performs DELETE /agents/{id} with ctx's deadline.
func (c *RegistryClient) Unregister(ctx context.Context, agentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/agents/"+agentID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("registry unregister status %d", resp.StatusCode)
	}
	return nil
}

func (c *RegistryClient) doJSON(ctx context.Context, method, path string, body []byte, wantStatus int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("registry %s %s status %d", method, path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
