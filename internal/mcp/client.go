package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync/atomic"

	"mongoagent/internal/domain"
)

// protocolVersion is the MCP protocol version this client requests.
const protocolVersion = "2025-03-26"

// request is a JSON-RPC 2.0 request or notification. Notifications carry no
// ID and expect no response.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is a JSON-RPC 2.0 response; exactly one of Result or Error is set.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// --- MCP protocol shapes ---

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    struct{}   `json:"capabilities"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type toolsListResult struct {
	Tools []domain.ToolDescriptor `json:"tools"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callToolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Session is a streamable-HTTP MCP client session. Each JSON-RPC request is
// POSTed to the endpoint; the server may answer with a plain JSON body or a
// short SSE stream carrying the response event. A Session serves exactly one
// query pipeline at a time; concurrent queries need their own Session.
type Session struct {
	endpoint  string
	client    *http.Client
	sessionID string // Mcp-Session-Id issued during initialize
	nextID    atomic.Int64
}

// NewSession creates a session against the given streamable-HTTP endpoint.
// Initialize must be called before ListTools or CallTool.
func NewSession(endpoint string) *Session {
	return &Session{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

// Initialize performs the MCP handshake: the initialize request followed by
// the notifications/initialized notification.
func (s *Session) Initialize(ctx context.Context) error {
	params := initializeParams{ProtocolVersion: protocolVersion}
	params.ClientInfo = clientInfo{Name: "mongoagent", Version: "1.0"}

	var result initializeResult
	if err := s.call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("mcp initialize: %w", err)
	}
	if err := s.notify(ctx, "notifications/initialized"); err != nil {
		return fmt.Errorf("mcp initialized notification: %w", err)
	}
	return nil
}

// Connect asks the server to open its MongoDB connection. The server holds
// the connection; this client never touches the database directly.
func (s *Session) Connect(ctx context.Context, connectionString string) error {
	_, err := s.CallTool(ctx, "connect", map[string]any{"connectionString": connectionString})
	if err != nil {
		return fmt.Errorf("mcp connect: %w", err)
	}
	return nil
}

// ListTools implements domain.ToolSession.
func (s *Session) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	var result toolsListResult
	if err := s.call(ctx, "tools/list", struct{}{}, &result); err != nil {
		return nil, fmt.Errorf("mcp tools/list: %w", err)
	}
	return result.Tools, nil
}

// CallTool implements domain.ToolSession. Text content blocks are joined into
// the returned result. A result flagged isError comes back as an error so the
// invoker can record the fault and feed it to the model.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	var result callToolResult
	if err := s.call(ctx, "tools/call", callToolParams{Name: name, Arguments: args}, &result); err != nil {
		return "", fmt.Errorf("mcp tools/call %q: %w", name, err)
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("tool %q failed: %s", name, text.String())
	}
	return text.String(), nil
}

// call sends one JSON-RPC request and decodes its result into out.
func (s *Session) call(ctx context.Context, method string, params, out any) error {
	id := s.nextID.Add(1)
	body, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := s.post(ctx, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http status %s", resp.Status)
	}
	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		s.sessionID = sid
	}

	rpc, err := decodeResponse(resp)
	if err != nil {
		return err
	}
	if rpc.Error != nil {
		return rpc.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpc.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// notify sends a JSON-RPC notification; any response body is discarded.
func (s *Session) notify(ctx context.Context, method string) error {
	body, err := json.Marshal(request{JSONRPC: "2.0", Method: method})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	resp, err := s.post(ctx, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http status %s", resp.Status)
	}
	return nil
}

func (s *Session) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if s.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", s.sessionID)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	return resp, nil
}

// decodeResponse handles both response framings a streamable-HTTP server may
// use: a plain JSON body, or an SSE stream whose data lines carry the
// JSON-RPC response.
func decodeResponse(resp *http.Response) (*response, error) {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		var rpc response
		if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &rpc, nil
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var rpc response
		if err := json.Unmarshal([]byte(payload), &rpc); err != nil {
			continue // non-response event (e.g. a progress notification)
		}
		if len(rpc.Result) > 0 || rpc.Error != nil {
			return &rpc, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	return nil, fmt.Errorf("event stream ended without a response")
}

var _ domain.ToolSession = (*Session)(nil)
