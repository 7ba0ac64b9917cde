package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport selects how an MCP server is reached.
type Transport string

const (
	// TransportStdio spawns the server as a subprocess and talks over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP uses the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a known transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes one MCP server that plugin intents may call.
type ServerConfig struct {
	Name      string
	Transport Transport

	// Command is the executable plus arguments for stdio servers, split on
	// whitespace.
	Command string

	// URL is the endpoint of a streamable-http server.
	URL string

	// Env holds extra environment variables for stdio servers.
	Env map[string]string
}

// ErrUnknownServer is returned when a tool call names a server that was never
// connected.
var ErrUnknownServer = errors.New("plugin: unknown mcp server")

// ErrToolFailed wraps application-level errors reported by an MCP tool.
var ErrToolFailed = errors.New("plugin: tool reported an error")

// ToolCaller invokes tools on named MCP servers.
type ToolCaller interface {
	// HasServer reports whether server is available for calls.
	HasServer(server string) bool

	// CallTool invokes tool on server and returns its concatenated text output.
	CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error)
}

var _ ToolCaller = (*MCPCaller)(nil)

// MCPCaller keeps one client session per configured MCP server.
//
//	c := plugin.NewMCPCaller()
//	err := c.Connect(ctx, plugin.ServerConfig{
//	    Name:      "forecast",
//	    Transport: plugin.TransportStdio,
//	    Command:   "/usr/local/bin/forecast-mcp --units metric",
//	})
//	defer c.Close()
type MCPCaller struct {
	client *mcpsdk.Client

	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession
}

// NewMCPCaller returns an MCPCaller with no connected servers.
func NewMCPCaller() *MCPCaller {
	return &MCPCaller{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "hark", Version: "1.0.0"},
			nil,
		),
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
}

// Connect opens a session to the server described by cfg. Connecting a name
// a second time replaces the earlier session.
func (c *MCPCaller) Connect(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("plugin: mcp server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("plugin: unknown transport %q for mcp server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		fields := strings.Fields(cfg.Command)
		if len(fields) == 0 {
			return fmt.Errorf("plugin: stdio mcp server %q requires a command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			keys := make([]string, 0, len(cfg.Env))
			for k := range cfg.Env {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				cmd.Env = append(cmd.Env, k+"="+cfg.Env[k])
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("plugin: streamable-http mcp server %q requires a url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("plugin: connect mcp server %q: %w", cfg.Name, err)
	}

	c.mu.Lock()
	old, replaced := c.sessions[cfg.Name]
	c.sessions[cfg.Name] = session
	c.mu.Unlock()

	if replaced {
		_ = old.Close()
	}
	slog.Info("mcp server connected", "server", cfg.Name, "transport", string(cfg.Transport))
	return nil
}

// HasServer implements [ToolCaller].
func (c *MCPCaller) HasServer(server string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[server]
	return ok
}

// CallTool implements [ToolCaller]. Only text content is returned; other
// content kinds are ignored.
func (c *MCPCaller) CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	c.mu.RLock()
	session, ok := c.sessions[server]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownServer, server)
	}

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("plugin: call %s/%s: %w", server, tool, err)
	}

	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("%w: %s/%s: %s", ErrToolFailed, server, tool, sb.String())
	}
	return sb.String(), nil
}

// Close closes every session and returns the joined errors.
func (c *MCPCaller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, session := range c.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("plugin: close mcp server %q: %w", name, err))
		}
		delete(c.sessions, name)
	}
	return errors.Join(errs...)
}
