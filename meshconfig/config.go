// Package meshconfig implements the config resolver described in spec
// §4.7: deterministic ENV > AgentSpec > built-in-default priority, routable
// IP auto-detection for http_host=0.0.0.0, OS-assigned port handling for
// http_port=0, and fsnotify-based hot reload of a spec file (an ambient
// addition to spec §4.7, grounded on CirtusX-ctrl-ai-v1's internal/config
// fsnotify watcher idiom).
package meshconfig

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcp-mesh/mesh-core/mesh"
)

// Resolved is the fully-resolved runtime configuration for one agent
// process, after applying ENV > AgentSpec > default priority.
type Resolved struct {
	RegistryURL               string
	HTTPHost                  string
	HTTPPort                  int
	Namespace                 string
	LogLevel                  string
	DebugMode                 bool
	AutoRun                   bool
	AutoRunInterval           time.Duration
	DistributedTracingEnabled bool
	PropagateHeaders          []string
}

const (
	envPrefix              = "MCP_MESH_"
	defaultRegistryURL     = "http://localhost:8000"
	defaultLogLevel        = "info"
	defaultAutoRunInterval = 10 * time.Second
)

// Resolve applies the spec's §4.7 priority rule against the process
// environment and the given AgentSpec, filling in built-in defaults for
// anything neither source sets. http_host=0.0.0.0 triggers routable-IP
// auto-detection; http_port=0 is left as 0 for the caller to bind via
// ListenAssignedPort and then report back via update_port semantics.
func Resolve(spec mesh.AgentSpec) Resolved {
	r := Resolved{
		RegistryURL:      envOr("REGISTRY_URL", defaultRegistryURL),
		HTTPHost:         envOr("HTTP_HOST", spec.HTTPHost),
		Namespace:        envOr("NAMESPACE", orDefault(spec.Namespace, "default")),
		LogLevel:         envOr("LOG_LEVEL", defaultLogLevel),
		DebugMode:        envBoolOr("DEBUG_MODE", false),
		AutoRun:          envBoolOr("AUTO_RUN", false),
		AutoRunInterval:  envDurationOr("AUTO_RUN_INTERVAL", defaultAutoRunInterval),
		DistributedTracingEnabled: envBoolOr("DISTRIBUTED_TRACING_ENABLED", false) || envBoolOr("TRACING", false),
		PropagateHeaders: envListOr("PROPAGATE_HEADERS", nil),
	}

	port := spec.HTTPPort
	if raw := os.Getenv(envPrefix + "HTTP_PORT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			port = v
		}
	}
	r.HTTPPort = port

	if r.HTTPHost == "" || r.HTTPHost == "0.0.0.0" {
		r.HTTPHost = DetectRoutableIP()
	}
	return r
}

// DetectRoutableIP opens a UDP "connection" to a public address (no packets
// are actually sent for UDP) and reads the local address the OS would use,
// which is the host's routable IP for outbound traffic. Falls back to
// "localhost" if the lookup fails (spec §4.7).
func DetectRoutableIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return "localhost"
	}
	return addr.IP.String()
}

// ListenAssignedPort binds host:0 so the OS assigns a free port, returning
// the listener and the assigned port. Callers must call update_port
// semantics (re-heartbeat) once bound, per spec §4.7.
func ListenAssignedPort(host string) (net.Listener, int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	return ln, port, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return def
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func envBoolOr(key string, def bool) bool {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func envListOr(key string, def []string) []string {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
