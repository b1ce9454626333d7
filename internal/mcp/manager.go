package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ServerSpec launches one named MCP server as a stdio subprocess.
type ServerSpec struct {
	Name    string
	Command string
	Args    []string
	Env     []string
}

// Manager owns a set of connected MCP servers and resolves tool calls by
// name across all of them. Used as the orchestrator's last-resort fallback
// for tool names that aren't registered built-ins (spec: MCP tools are
// pre-vetted by the operator and bypass the permission matrix).
type Manager struct {
	mu      sync.Mutex
	clients map[string]*Client  // server name -> client
	owner   map[string]string   // tool name -> server name
	tools   map[string][]Tool   // server name -> advertised tools
}

// NewManager connects to every given server, logging (but not failing on)
// individual connection errors so one misconfigured server doesn't take
// down the rest.
func NewManager(ctx context.Context, specs []ServerSpec) *Manager {
	m := &Manager{
		clients: make(map[string]*Client),
		owner:   make(map[string]string),
		tools:   make(map[string][]Tool),
	}
	for _, spec := range specs {
		client, err := NewClient(ctx, spec.Command, spec.Args, spec.Env)
		if err != nil {
			log.Warn().Err(err).Str("server", spec.Name).Msg("mcp: failed to launch server")
			continue
		}
		if _, err := client.Initialize(ctx, map[string]interface{}{"name": "ion", "version": "0.1.0"}); err != nil {
			log.Warn().Err(err).Str("server", spec.Name).Msg("mcp: failed to initialize server")
			_ = client.Close()
			continue
		}
		tools, err := client.ListTools(ctx)
		if err != nil {
			log.Warn().Err(err).Str("server", spec.Name).Msg("mcp: failed to list tools")
			_ = client.Close()
			continue
		}

		m.mu.Lock()
		m.clients[spec.Name] = client
		m.tools[spec.Name] = tools
		for _, t := range tools {
			m.owner[t.Name] = spec.Name
		}
		m.mu.Unlock()
		log.Info().Str("server", spec.Name).Int("tools", len(tools)).Msg("mcp: connected")
	}
	return m
}

// HasTool reports whether any connected server advertises toolName.
func (m *Manager) HasTool(toolName string) bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.owner[toolName]
	return ok
}

// CallTool dispatches a tool call to whichever server advertised it.
func (m *Manager) CallTool(ctx context.Context, toolName string, arguments interface{}) (*ToolResult, error) {
	m.mu.Lock()
	serverName, ok := m.owner[toolName]
	var client *Client
	if ok {
		client = m.clients[serverName]
	}
	m.mu.Unlock()
	if !ok || client == nil {
		return nil, fmt.Errorf("mcp: no connected server advertises tool %q", toolName)
	}
	return client.CallTool(ctx, toolName, arguments)
}

// ListAllTools returns every tool advertised across all connected servers,
// feeding the mcp_tools built-in's substring search.
func (m *Manager) ListAllTools(ctx context.Context) ([]Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Tool
	for _, tools := range m.tools {
		out = append(out, tools...)
	}
	return out, nil
}

// ContentText flattens a ToolResult's content blocks into plain text, the
// shape the orchestrator's tool.Result expects.
func ContentText(r *ToolResult) string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, b := range r.Content {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Close shuts down every connected server.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.clients {
		if err := c.Close(); err != nil {
			log.Debug().Err(err).Str("server", name).Msg("mcp: close")
		}
	}
}
