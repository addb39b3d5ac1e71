package tracker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/mantelhq/triage/pkg/schema"
)

// ConnState is the connection lifecycle state of the Manager.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// session is the MCP client surface the manager needs. Satisfied by
// *client.Client and test fakes.
type session interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// dialFunc opens a transport to the ticket tracker's MCP endpoint.
type dialFunc func(ctx context.Context) (session, error)

// Config selects the MCP transport to the tracker.
type Config struct {
	// Transport is "stdio" or "http".
	Transport string
	// Command and Args spawn the tracker MCP server for stdio transport.
	Command string
	Args    []string
	Env     []string
	// URL is the streamable HTTP endpoint for http transport.
	URL string
}

// Manager owns the process-wide tracker connection. Connection establishment
// is get-or-create: concurrent callers share one in-flight dial through
// singleflight, so reconnection is idempotent from the caller's point of view.
type Manager struct {
	dial   dialFunc
	logger *slog.Logger
	group  singleflight.Group

	mu    sync.Mutex
	state ConnState
	sess  session
}

// NewManager creates a Manager for the configured transport.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dial dialFunc
	switch cfg.Transport {
	case "stdio":
		if cfg.Command == "" {
			return nil, schema.NewError(schema.ErrCodeConfig, "tracker stdio transport requires a command")
		}
		dial = func(ctx context.Context) (session, error) {
			return client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
		}
	case "http":
		if cfg.URL == "" {
			return nil, schema.NewError(schema.ErrCodeConfig, "tracker http transport requires a URL")
		}
		dial = func(ctx context.Context) (session, error) {
			c, err := client.NewStreamableHttpClient(cfg.URL)
			if err != nil {
				return nil, err
			}
			if err := c.Start(ctx); err != nil {
				return nil, err
			}
			return c, nil
		}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "unknown tracker transport: %q", cfg.Transport)
	}

	return &Manager{dial: dial, logger: logger}, nil
}

// newManagerWithDial is the test seam.
func newManagerWithDial(dial dialFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{dial: dial, logger: logger}
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// handle returns the connected session, dialing lazily when needed. All
// concurrent callers of a reconnect share one dial attempt.
func (m *Manager) handle(ctx context.Context) (session, error) {
	m.mu.Lock()
	if m.state == StateConnected && m.sess != nil {
		s := m.sess
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("connect", func() (any, error) {
		// Re-check: another caller may have connected while we queued.
		m.mu.Lock()
		if m.state == StateConnected && m.sess != nil {
			s := m.sess
			m.mu.Unlock()
			return s, nil
		}
		m.state = StateConnecting
		m.mu.Unlock()

		s, dialErr := m.dial(ctx)
		if dialErr != nil {
			m.setDisconnected()
			return nil, schema.NewErrorf(schema.ErrCodeConnectivity, "dial tracker: %v", dialErr).WithCause(dialErr)
		}

		initReq := mcp.InitializeRequest{}
		initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		initReq.Params.ClientInfo = mcp.Implementation{Name: "triage", Version: "0.1.0"}
		if _, initErr := s.Initialize(ctx, initReq); initErr != nil {
			_ = s.Close()
			m.setDisconnected()
			return nil, schema.NewErrorf(schema.ErrCodeConnectivity, "initialize tracker session: %v", initErr).WithCause(initErr)
		}

		m.mu.Lock()
		m.sess = s
		m.state = StateConnected
		m.mu.Unlock()

		m.logger.Info("tracker connected")
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(session), nil
}

func (m *Manager) setDisconnected() {
	m.mu.Lock()
	m.sess = nil
	m.state = StateDisconnected
	m.mu.Unlock()
}

// Invalidate clears the cached session so the next call reconnects.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	old := m.sess
	m.sess = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
		m.logger.Info("tracker session invalidated")
	}
}

// Close shuts down the manager, closing any live session.
func (m *Manager) Close() error {
	m.Invalidate()
	return nil
}

// Tools returns a snapshot of the tracker's capability catalog.
func (m *Manager) Tools(ctx context.Context) ([]schema.RemoteTool, error) {
	s, err := m.handle(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnectivity, "list tracker tools: %v", err).WithCause(err)
	}

	tools := make([]schema.RemoteTool, 0, len(res.Tools))
	for _, t := range res.Tools {
		var inputSchema json.RawMessage
		if raw, marshalErr := json.Marshal(t.InputSchema); marshalErr == nil {
			inputSchema = raw
		}
		tools = append(tools, schema.RemoteTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: inputSchema,
		})
	}
	return tools, nil
}

// Call invokes a named capability and returns the concatenated text content
// of the result. Transport failures carry CONNECTIVITY; results the tracker
// itself marks as errors carry TOOL_CALL.
func (m *Manager) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	s, err := m.handle(ctx)
	if err != nil {
		return "", err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := s.CallTool(ctx, req)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeConnectivity, "call tool %s: %v", name, err).
			WithCause(err).
			WithDetails(map[string]any{"tool": name})
	}

	text := textContent(res)
	if res.IsError {
		return "", schema.NewErrorf(schema.ErrCodeToolCall, "tool %s returned an error: %s", name, text).
			WithDetails(map[string]any{"tool": name})
	}
	return text, nil
}

func textContent(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
