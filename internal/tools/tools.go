// Package tools hosts the tool surface offered to the cognition path.
//
// The Host keeps a concurrent-safe registry of two tool kinds: built-in Go
// functions that run in-process ([Host.RegisterBuiltin]) and tools imported
// from external MCP servers over stdio or streamable-HTTP transports via the
// official MCP Go SDK ([Host.RegisterServer]). [Host.Definitions] feeds the
// registry to the LLM prompt; [Host.Execute] dispatches a call to wherever
// the tool lives, under a per-call timeout.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voxgate/voxgate/pkg/types"
)

// defaultCallTimeout bounds a single tool execution.
const defaultCallTimeout = 10 * time.Second

// Transport selects how the host connects to an external MCP server.
type Transport string

const (
	// TransportStdio launches the server as a subprocess and speaks MCP over
	// its stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP connects to a server's streamable-HTTP endpoint.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a known transport.
func (t Transport) IsValid() bool {
	switch t {
	case TransportStdio, TransportStreamableHTTP:
		return true
	}
	return false
}

// ServerConfig describes one external MCP tool server.
type ServerConfig struct {
	// Name identifies the server within the host. Must be unique; registering
	// the same name again replaces the old connection.
	Name string

	// Transport selects stdio or streamable-HTTP.
	Transport Transport

	// Command is the subprocess command line for stdio servers, split on
	// whitespace into executable + args.
	Command string

	// Env is extra environment variables for stdio subprocesses.
	Env map[string]string

	// URL is the endpoint for streamable-HTTP servers.
	URL string
}

// BuiltinTool is a tool implemented as a Go function that runs in-process.
type BuiltinTool struct {
	// Definition is the tool's public descriptor presented to the LLM.
	Definition types.ToolDefinition

	// Handler is invoked when Execute is called for this tool. args is a JSON
	// object string (e.g. "{}" or `{"key":"value"}`).
	Handler func(ctx context.Context, args string) (string, error)
}

// toolEntry holds the registry record for a single tool.
type toolEntry struct {
	def        types.ToolDefinition
	serverName string

	// builtinFn is non-nil for in-process tools.
	builtinFn func(ctx context.Context, args string) (string, error)
}

// builtinServerName is the pseudo server name used for in-process tools.
const builtinServerName = "__builtin__"

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
}

// Option configures a [Host].
type Option func(*Host)

// WithCallTimeout sets the per-call execution timeout. Defaults to 10s.
func WithCallTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.callTimeout = d
		}
	}
}

// Host is the tool registry and dispatcher.
//
// The zero value is not usable; create instances with [New]. All methods are
// safe for concurrent use.
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry  // key: tool name
	servers map[string]serverConn // key: server name

	// client is reused across all server connections; the SDK allows one
	// Client to manage multiple sessions concurrently.
	client *mcpsdk.Client

	callTimeout time.Duration
}

// New creates a ready-to-use Host.
func New(opts ...Option) *Host {
	h := &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "voxgate-tools", Version: "1.0.0"},
			nil,
		),
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterBuiltin registers an in-process tool. A tool with the same name is
// replaced.
func (h *Host) RegisterBuiltin(tool BuiltinTool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("tools: builtin tool must have a non-empty name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tools: builtin tool %q must have a non-nil handler", tool.Definition.Name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[tool.Definition.Name] = toolEntry{
		def:        tool.Definition,
		serverName: builtinServerName,
		builtinFn:  tool.Handler,
	}
	return nil
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue. If a server with the same Name is already registered, the
// old connection is closed and its tools are replaced.
func (h *Host) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("tools: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport

	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("tools: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: failed to connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tools: failed to list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.session.Close()
		for name, t := range h.tools {
			if t.serverName == cfg.Name {
				delete(h.tools, name)
			}
		}
	}

	h.servers[cfg.Name] = serverConn{session: session}
	for _, tool := range discovered {
		h.tools[tool.Name] = toolEntry{
			def: types.ToolDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaToMap(tool.InputSchema),
			},
			serverName: cfg.Name,
		}
	}
	return nil
}

// Definitions returns all registered tool definitions sorted by name, ready
// to offer to the LLM.
func (h *Host) Definitions() []types.ToolDefinition {
	h.mu.RLock()
	defs := make([]types.ToolDefinition, 0, len(h.tools))
	for _, e := range h.tools {
		defs = append(defs, e.def)
	}
	h.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute calls the named tool with JSON-encoded args under the per-call
// timeout. Builtin tools run in-process; external tools go through their
// server session. Application-level tool failures are returned as errors.
func (h *Host) Execute(ctx context.Context, name, args string) (string, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("tools: tool %q not found", name)
	}

	ctx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()

	if entry.builtinFn != nil {
		return entry.builtinFn(ctx, args)
	}
	return h.executeRemote(ctx, entry, args)
}

// executeRemote routes the call to the owning server session and
// concatenates all text content from the result.
func (h *Host) executeRemote(ctx context.Context, entry toolEntry, args string) (string, error) {
	h.mu.RLock()
	conn, ok := h.servers[entry.serverName]
	h.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("tools: server %q not found for tool %q", entry.serverName, entry.def.Name)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return "", fmt.Errorf("tools: invalid args JSON for tool %q: %w", entry.def.Name, err)
		}
	}

	result, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      entry.def.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return "", fmt.Errorf("tools: call to tool %q failed: %w", entry.def.Name, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("tools: tool %q reported an error: %s", entry.def.Name, sb.String())
	}
	return sb.String(), nil
}

// Close shuts down all server connections. After Close the Host must not be
// used again.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tools: error closing server %q: %w", name, err)
		}
		delete(h.servers, name)
	}
	h.tools = make(map[string]toolEntry)
	return firstErr
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// ParseServerSpecs parses the GATEWAY_TOOL_SERVERS format: a comma-separated
// list of name=target entries. Targets starting with http:// or https:// use
// the streamable-HTTP transport; everything else is treated as a stdio
// command line.
func ParseServerSpecs(spec string) ([]ServerConfig, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var configs []ServerConfig
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, target, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		target = strings.TrimSpace(target)
		if !ok || name == "" || target == "" {
			return nil, fmt.Errorf("tools: malformed server spec %q (want name=command or name=url)", part)
		}

		cfg := ServerConfig{Name: name}
		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			cfg.Transport = TransportStreamableHTTP
			cfg.URL = target
		} else {
			cfg.Transport = TransportStdio
			cfg.Command = target
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
