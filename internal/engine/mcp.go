// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/moazbuilds/codemachine-orchestrator/internal/httpclient"
)

// MCPServerConfig describes one MCP server an engine should have access to
// for the lifetime of a workflow directory. Transport mirrors the split the
// teacher's mcptoolset uses: stdio for subprocess servers, sse/streamable-http
// for network-hosted ones.
type MCPServerConfig struct {
	Name      string
	Transport string // "stdio" (default), "sse", "streamable-http"
	Command   string
	Args      []string
	Env       map[string]string
	URL       string
}

// mcpState is the JSON document persisted at mcpStatePath, recording which
// servers were configured for a workflow directory and how many tools each
// exposed at configure time, so IsMCPConfigured survives process restarts.
type mcpState struct {
	Servers map[string]mcpServerState `json:"servers"`
}

type mcpServerState struct {
	Transport string `json:"transport"`
	ToolCount int    `json:"toolCount"`
}

// ConfigureMCP connects to every configured MCP server to validate it is
// reachable and exposes at least its advertised handshake, then persists a
// small state file under workflowDir so IsMCPConfigured survives restarts.
func (e *SubprocessEngine) ConfigureMCP(ctx context.Context, workflowDir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.cfg.MCP) == 0 {
		e.mcpConfigured[workflowDir] = true
		return nil
	}

	state := mcpState{Servers: make(map[string]mcpServerState, len(e.cfg.MCP))}
	for _, srv := range e.cfg.MCP {
		toolCount, err := configureMCPServer(ctx, srv)
		if err != nil {
			return fmt.Errorf("engine %s: configuring MCP server %s: %w", e.cfg.Name, srv.Name, err)
		}
		state.Servers[srv.Name] = mcpServerState{Transport: srv.Transport, ToolCount: toolCount}
	}

	if err := writeMCPState(workflowDir, &state); err != nil {
		return err
	}
	e.mcpConfigured[workflowDir] = true
	return nil
}

// CleanupMCP removes the persisted MCP state for workflowDir. Live server
// connections are per-call (see configureMCPServer), so there is nothing
// else to tear down.
func (e *SubprocessEngine) CleanupMCP(ctx context.Context, workflowDir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.mcpConfigured, workflowDir)
	if err := os.Remove(mcpStatePath(workflowDir)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsMCPConfigured reports whether ConfigureMCP has succeeded for
// workflowDir, either this process run or a prior one (via the persisted
// state file).
func (e *SubprocessEngine) IsMCPConfigured(workflowDir string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mcpConfigured[workflowDir] {
		return true
	}
	_, err := os.Stat(mcpStatePath(workflowDir))
	return err == nil
}

// configureMCPServer performs the MCP initialize/list-tools handshake for
// one server and returns the number of tools it advertised.
func configureMCPServer(ctx context.Context, srv MCPServerConfig) (int, error) {
	if srv.Transport == "" && srv.Command != "" {
		srv.Transport = "stdio"
	}
	switch srv.Transport {
	case "", "stdio":
		return configureStdioMCP(ctx, srv)
	case "sse", "streamable-http":
		return configureHTTPMCP(ctx, srv)
	default:
		return 0, fmt.Errorf("unsupported MCP transport %q", srv.Transport)
	}
}

// configureStdioMCP launches srv.Command as a subprocess MCP server via
// mcp-go and performs the initialize + tools/list handshake.
func configureStdioMCP(ctx context.Context, srv MCPServerConfig) (int, error) {
	env := make([]string, 0, len(srv.Env))
	for k, v := range srv.Env {
		env = append(env, k+"="+v)
	}

	mcpClient, err := client.NewStdioMCPClient(srv.Command, env, srv.Args...)
	if err != nil {
		return 0, fmt.Errorf("creating stdio MCP client: %w", err)
	}
	defer mcpClient.Close()

	if err := mcpClient.Start(ctx); err != nil {
		return 0, fmt.Errorf("starting stdio MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "codemachine-orchestrator",
		Version: "1.0.0",
	}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		return 0, fmt.Errorf("initializing stdio MCP server %s: %w", srv.Name, err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return 0, fmt.Errorf("listing tools for MCP server %s: %w", srv.Name, err)
	}
	return len(listResp.Tools), nil
}

// mcpRPCRequest/mcpRPCResponse mirror the minimal JSON-RPC envelope MCP
// servers speak over sse/streamable-http.
type mcpRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type mcpRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// configureHTTPMCP performs the MCP handshake over srv.URL using the
// retrying httpclient, for MCP servers reachable over sse/streamable-http.
func configureHTTPMCP(ctx context.Context, srv MCPServerConfig) (int, error) {
	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(3),
		httpclient.WithBaseDelay(2*time.Second),
		httpclient.WithHeaderParser(httpclient.ParseMCPRateLimitHeaders),
	)

	initResp, err := mcpHTTPCall(ctx, hc, srv.URL, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "codemachine-orchestrator", "version": "1.0.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return 0, fmt.Errorf("initializing MCP server %s: %w", srv.Name, err)
	}
	if initResp.Error != nil {
		return 0, fmt.Errorf("MCP server %s initialize error: %s", srv.Name, initResp.Error.Message)
	}

	listResp, err := mcpHTTPCall(ctx, hc, srv.URL, "tools/list", nil)
	if err != nil {
		return 0, fmt.Errorf("listing tools for MCP server %s: %w", srv.Name, err)
	}
	if listResp.Error != nil {
		return 0, fmt.Errorf("MCP server %s tools/list error: %s", srv.Name, listResp.Error.Message)
	}

	var result struct {
		Tools []json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(listResp.Result, &result); err != nil {
		return 0, fmt.Errorf("parsing tools/list result from %s: %w", srv.Name, err)
	}
	return len(result.Tools), nil
}

func mcpHTTPCall(ctx context.Context, hc *httpclient.Client, url, method string, params interface{}) (*mcpRPCResponse, error) {
	body, err := json.Marshal(mcpRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rpcResp mcpRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decoding MCP response: %w", err)
	}
	return &rpcResp, nil
}

func writeMCPState(workflowDir string, state *mcpState) error {
	path := mcpStatePath(workflowDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating MCP state dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling MCP state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing MCP state: %w", err)
	}
	return os.Rename(tmp, path)
}
