package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/registry/store"
	"github.com/mcp-mesh/mesh-core/runtime/telemetry"
)

// TraceSink accepts span batches posted to `POST /traces` (spec §4.1's
// "XADD mesh:trace" semantic endpoint). It is a pure sink: the registry does
// not interpret spans, only fans them out to whatever downstream tracing
// store the caller wires in (see runtime/tracing for the agent-side
// publisher that calls this endpoint).
type TraceSink interface {
	Publish(ctx context.Context, spans []json.RawMessage) error
}

// Service exposes a Registry over the REST API described in spec §6: a thin
// net/http + gorilla/mux transport layer in front of the Registry's plain Go
// methods, a service-struct-behind-thin-transport shape without the
// generated gRPC layer.
type Service struct {
	registry *Registry
	trace    TraceSink
	logger   telemetry.Logger
}

// ServiceOptions configures a Service. Trace may be nil, in which case
// POST /traces accepts and discards span batches.
type ServiceOptions struct {
	Registry *Registry
	Trace    TraceSink
	Logger   telemetry.Logger
}

// NewService builds a Service around the given Registry.
func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Service{registry: opts.Registry, trace: opts.Trace, logger: logger}
}

// Router builds the gorilla/mux router exposing the registry's REST API.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/agents", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/agents", s.handleDiscover).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}", s.handleTouch).Methods(http.MethodHead)
	r.HandleFunc("/agents/{id}", s.handleUnregister).Methods(http.MethodDelete)
	r.HandleFunc("/agents/{id}/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}/topology", s.handleTopology).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/traces", s.handleTraces).Methods(http.MethodPost)
	return r
}

type registerRequest struct {
	mesh.AgentSpec
	Endpoint string `json:"endpoint"`
}

func (s *Service) handleRegister(w http.ResponseWriter, req *http.Request) {
	var body registerRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SPEC", err.Error())
		return
	}

	result, err := s.registry.Register(req.Context(), body.AgentSpec, body.Endpoint)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type heartbeatRequest struct {
	Status      mesh.AgentStatus `json:"status,omitempty"`
	ContentHash string           `json:"content_hash"`
	Spec        *mesh.AgentSpec  `json:"spec,omitempty"`
}

func (s *Service) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	var body heartbeatRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SPEC", err.Error())
		return
	}

	result, err := s.registry.Heartbeat(req.Context(), id, body.Status, body.ContentHash, body.Spec)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	if result.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleTouch(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if err := s.registry.Touch(req.Context(), id); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Service) handleUnregister(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if err := s.registry.Unregister(req.Context(), id); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleDiscover(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	sel := mesh.Selector{
		Capability:        q.Get("capability"),
		VersionConstraint: q.Get("version"),
		Namespace:         q.Get("namespace"),
		Tags:              parseTagsParam(q["tags"]),
	}
	mode := mesh.FilterMode(q.Get("mode"))
	if mode == "" {
		mode = mesh.FilterBestMatch
	}

	refs, err := s.registry.Discover(req.Context(), sel, mode)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refs)
}

func (s *Service) handleTopology(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	topo, err := s.registry.Topology(req.Context(), id)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topo)
}

// handleEvents serves the resource-version-cursored topology change stream
// as chunked JSON lines, one TopologyEvent per line, flushed as published.
func (s *Service) handleEvents(w http.ResponseWriter, req *http.Request) {
	var since uint64
	if raw := req.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_SPEC", "since must be a non-negative integer")
			return
		}
		since = v
	}
	namespace := req.URL.Query().Get("namespace")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAM_UNSUPPORTED", "response writer does not support streaming")
		return
	}

	ctx := req.Context()
	events, cancel := s.registry.Stream().Subscribe(ctx, since)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if namespace != "" && ev.Namespace != namespace {
				continue
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Service) handleTraces(w http.ResponseWriter, req *http.Request) {
	var spans []json.RawMessage
	if err := json.NewDecoder(req.Body).Decode(&spans); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SPEC", err.Error())
		return
	}
	if s.trace != nil {
		if err := s.trace.Publish(req.Context(), spans); err != nil {
			// Tracing failures are swallowed per spec §4.6 — log only, never
			// surface a 5xx for a span-sink failure.
			s.logger.Warn(req.Context(), "trace sink publish failed", "err", err)
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Service) writeRegistryError(w http.ResponseWriter, err error) {
	var invalid *mesh.InvalidSpecError
	var conflict *mesh.ConflictingRegistrationError
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, "INVALID_SPEC", err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseTagsParam accepts either repeated ?tags=a&tags=+b query values or a
// single comma-separated ?tags=a,+b,-c value and normalizes to one slice.
func parseTagsParam(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
