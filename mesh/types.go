// Package mesh defines the wire and domain types shared by the registry,
// the agent runtime, and the tracing plane: AgentSpec, ToolSpec, Selector,
// AgentRecord, ToolRef, TraceInfo, and the mesh lifecycle event payloads.
package mesh

import (
	"encoding/json"
	"time"
)

// AgentStatus is the health state the registry assigns to an AgentRecord.
type AgentStatus string

const (
	StatusPending   AgentStatus = "pending"
	StatusHealthy   AgentStatus = "healthy"
	StatusDegraded  AgentStatus = "degraded"
	StatusUnhealthy AgentStatus = "unhealthy"
	StatusOffline   AgentStatus = "offline"
)

// FilterMode selects how the resolver narrows candidates for one capability.
type FilterMode string

const (
	// FilterBestMatch returns the single highest-scoring candidate.
	FilterBestMatch FilterMode = "best_match"
	// FilterAll returns every candidate surviving tag/version filtering, ranked.
	FilterAll FilterMode = "all"
	// FilterAny ignores selector filters and returns every healthy candidate
	// of the requested capability.
	FilterAny FilterMode = "*"
)

type (
	// AgentSpec is the immutable descriptor a host language SDK hands to the
	// runtime at process startup.
	AgentSpec struct {
		Name               string          `json:"name"`
		Version            string          `json:"version"`
		Namespace          string          `json:"namespace"`
		HTTPHost           string          `json:"http_host"`
		HTTPPort           int             `json:"http_port"`
		HeartbeatIntervalS int             `json:"heartbeat_interval_s"`
		Runtime            string          `json:"runtime"`
		Tools              []ToolSpec      `json:"tools"`
		LLMAgents          []LlmAgentSpec  `json:"llm_agents,omitempty"`
		Extra              json.RawMessage `json:"extra,omitempty"`
	}

	// ToolSpec describes one locally implemented tool and the mesh
	// dependencies it requires to run.
	ToolSpec struct {
		FunctionName  string     `json:"function_name"`
		Capability    string     `json:"capability"`
		Version       string     `json:"version"`
		Description   string     `json:"description"`
		Tags          []string   `json:"tags,omitempty"`
		Dependencies  []Selector `json:"dependencies,omitempty"`
		InputSchema   string     `json:"input_schema,omitempty"`
		LlmFilter     []Selector `json:"llm_filter,omitempty"`
		LlmProvider   *Selector  `json:"llm_provider,omitempty"`

		// Proxy-tuning kwargs.
		TimeoutMs             int               `json:"timeout_ms,omitempty"`
		RetryCount            int               `json:"retry_count,omitempty"`
		Streaming             bool              `json:"streaming,omitempty"`
		CustomHeaders         map[string]string `json:"custom_headers,omitempty"`
		SessionRequired       bool              `json:"session_required,omitempty"`
		Stateful              bool              `json:"stateful,omitempty"`
		AutoSessionManagement bool              `json:"auto_session_management,omitempty"`
	}

	// LlmAgentSpec configures one agentic-loop invocation point declared by
	// the host language SDK.
	LlmAgentSpec struct {
		Name             string     `json:"name"`
		Provider         Selector   `json:"provider"`
		Filter           []Selector `json:"filter"`
		FilterMode       FilterMode `json:"filter_mode,omitempty"`
		MaxIterations    int        `json:"max_iterations"`
		SystemPrompt     string     `json:"system_prompt,omitempty"`
		SystemPromptURI  string     `json:"system_prompt_uri,omitempty"`
		StructuredSchema string     `json:"structured_schema,omitempty"`
	}

	// Selector names a capability plus the tag/version constraints used both
	// for dependency declarations and LLM tool filtering.
	Selector struct {
		Capability        string   `json:"capability"`
		Tags              []string `json:"tags,omitempty"`
		VersionConstraint string   `json:"version_constraint,omitempty"`
		Namespace         string   `json:"namespace,omitempty"`
	}

	// AgentRecord is the registry-side view of one agent: its spec plus the
	// bookkeeping fields the registry owns.
	AgentRecord struct {
		AgentSpec
		AgentID         string      `json:"agent_id"`
		Endpoint        string      `json:"endpoint"`
		Status          AgentStatus `json:"status"`
		LastSeen        time.Time   `json:"last_seen"`
		ResourceVersion uint64      `json:"resource_version"`
		ContentHash     string      `json:"content_hash"`
	}

	// ToolRef is one resolver result: a concrete remote (or local) tool
	// endpoint a proxy can be built against.
	ToolRef struct {
		AgentID      string   `json:"agent_id"`
		Endpoint     string   `json:"endpoint"`
		FunctionName string   `json:"function_name"`
		Capability   string   `json:"capability"`
		Tags         []string `json:"tags,omitempty"`
		Version      string   `json:"version"`
		InputSchema  string   `json:"input_schema,omitempty"`
		Score        float64  `json:"score"`
	}

	// TraceInfo identifies one causal position in a distributed call chain.
	TraceInfo struct {
		TraceID       string `json:"trace_id"`
		SpanID        string `json:"span_id"`
		ParentSpanID  string `json:"parent_span_id,omitempty"`
		StartEpochMs  int64  `json:"start_epoch_ms"`
	}

	// GenerationMeta summarizes one LLM agentic-loop invocation.
	GenerationMeta struct {
		InputTokens  int     `json:"input_tokens"`
		OutputTokens int     `json:"output_tokens"`
		LatencyMs    int64   `json:"latency_ms"`
		Iterations   int     `json:"iterations"`
		Model        string  `json:"model"`
	}

	// RegisterResult is returned by the registry in response to POST /agents.
	RegisterResult struct {
		AgentID         string     `json:"agent_id"`
		ResourceVersion uint64     `json:"resource_version"`
		ResolvedTopology []ToolRef `json:"resolved_topology,omitempty"`
	}

	// HeartbeatResult is returned in response to POST /agents/{id}/heartbeat.
	HeartbeatResult struct {
		ResourceVersion uint64    `json:"resource_version"`
		Topology        []ToolRef `json:"topology"`
		NotModified     bool      `json:"-"`
	}
)

// Key returns the (namespace, name) uniqueness key for an AgentSpec.
func (s AgentSpec) Key() string {
	ns := s.Namespace
	if ns == "" {
		ns = "default"
	}
	return ns + "/" + s.Name
}
