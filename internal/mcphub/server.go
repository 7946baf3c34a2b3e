package mcphub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// serverConn tracks one connected capability server: its transport
// client, the tool descriptors it last reported, and its own
// consecutive-failure count so one server's trouble never touches
// another's (spec §4.7 "Partial failure").
type serverConn struct {
	manifest ServerManifest
	client   *mcpclient.Client
	connected atomic.Bool

	mu                  sync.RWMutex
	tools               map[string]ToolDescriptor
	consecutiveFailures int
	lastErr             string

	cancel context.CancelFunc
}

func (s *serverConn) snapshotTools() map[string]ToolDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ToolDescriptor, len(s.tools))
	for k, v := range s.tools {
		out[k] = v
	}
	return out
}

func (s *serverConn) lookupTool(name string) (ToolDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.tools[name]
	return d, ok
}

// createClient builds the mcp-go client for the manifest's transport,
// matching the teacher's per-transport switch (stdio/sse/streamable-http).
func createClient(m ServerManifest, secrets map[string]string) (*mcpclient.Client, error) {
	switch m.Transport {
	case TransportStdio:
		command := expandTokens(m.Command, secrets)
		args := expandArgs(m.Args, secrets)
		env := expandEnvMap(m.Env, secrets)
		return mcpclient.NewStdioMCPClient(command, mapToEnvSlice(env), args...)

	case TransportHTTPSSE:
		var opts []transport.ClientOption
		if len(m.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(m.Headers))
		}
		return mcpclient.NewSSEMCPClient(m.URL, opts...)

	case TransportHTTPStream:
		var opts []transport.StreamableHTTPCOption
		if len(m.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(m.Headers))
		}
		return mcpclient.NewStreamableHttpClient(m.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %q", m.Transport)
	}
}

// connectServer opens the transport, performs the MCP handshake, and
// discovers the server's tools, all within connectTimeout (spec §4.7
// "Connect").
func connectServer(ctx context.Context, m ServerManifest, secrets map[string]string, connectTimeout time.Duration) (*serverConn, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := createClient(m, secrets)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	if m.Transport != TransportStdio {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "renfield", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("list tools: %w", err)
	}

	sc := &serverConn{manifest: m, client: client, tools: toolsFromList(m.Name, listed.Tools)}
	sc.connected.Store(true)
	return sc, nil
}

func toolsFromList(server string, mcpTools []mcpgo.Tool) map[string]ToolDescriptor {
	out := make(map[string]ToolDescriptor, len(mcpTools))
	for _, t := range mcpTools {
		out[t.Name] = ToolDescriptor{
			Server:      server,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: convertSchema(t.InputSchema),
		}
	}
	return out
}

// convertSchema round-trips the typed MCP input schema through JSON to
// get a plain map gojsonschema can load directly.
func convertSchema(schema mcpgo.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if json.Unmarshal(data, &result) != nil {
		return nil
	}
	return result
}

// refresh re-lists the server's tools. Three consecutive failures mark
// the server unhealthy: its descriptors stay visible to admin
// endpoints but drop out of the Agent Loop's catalog (invariant I4).
func (s *serverConn) refresh(ctx context.Context) error {
	listed, err := s.client.ListTools(ctx, mcpgo.ListToolsRequest{})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.consecutiveFailures++
		s.lastErr = err.Error()
		if s.consecutiveFailures >= 3 {
			s.connected.Store(false)
		}
		return err
	}
	s.consecutiveFailures = 0
	s.lastErr = ""
	s.connected.Store(true)
	s.tools = toolsFromList(s.manifest.Name, listed.Tools)
	return nil
}

func (s *serverConn) close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.client != nil {
		_ = s.client.Close()
	}
}
