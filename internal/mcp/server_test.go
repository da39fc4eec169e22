package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/shakram02/sqlproxy/internal/proxy"
	"github.com/shakram02/sqlproxy/internal/sqlgen"
)

// session runs the server over the given request lines and returns each
// decoded response in order.
func session(t *testing.T, s *Server, lines ...string) []Response {
	t.Helper()

	var out strings.Builder
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	if err := s.Run(context.Background(), in, &out); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var responses []Response
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("Invalid response line %q: %v", scanner.Text(), err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func call(id int, tool string, args map[string]any) string {
	params, _ := json.Marshal(CallToolParams{Name: tool, Arguments: args})
	req, _ := json.Marshal(Request{JSONRPC: "2.0", ID: id, Method: "tools/call", Params: params})
	return string(req)
}

// toolResult decodes a tools/call result.
func toolResult(t *testing.T, resp Response) CallToolResult {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("Expected tool result, got JSON-RPC error %+v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	var res CallToolResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("Invalid tool result: %v", err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("Expected one content item, got %d", len(res.Content))
	}
	return res
}

func TestServer_Protocol(t *testing.T) {
	s := NewServer(proxy.New(), WithVersion("1.2.3"))

	responses := session(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":3,"method":"resources/list"}`,
		`{not json`,
		`{"jsonrpc":"1.0","id":4,"method":"ping"}`,
	)

	if len(responses) != 5 {
		t.Fatalf("Expected 5 responses (notification has none), got %d", len(responses))
	}

	init := responses[0].Result.(map[string]any)
	if init["protocolVersion"] != ProtocolVersion {
		t.Errorf("Expected protocol %s, got %v", ProtocolVersion, init["protocolVersion"])
	}
	if info := init["serverInfo"].(map[string]any); info["name"] != ServerName || info["version"] != "1.2.3" {
		t.Errorf("Unexpected serverInfo %v", info)
	}

	if responses[1].Error != nil || responses[1].ID != float64(2) {
		t.Errorf("Expected ping result for id 2, got %+v", responses[1])
	}

	expectedCodes := []int{MethodNotFound, ParseError, InvalidRequest}
	for i, code := range expectedCodes {
		resp := responses[i+2]
		if resp.Error == nil || resp.Error.Code != code {
			t.Errorf("Response %d: expected error code %d, got %+v", i+2, code, resp.Error)
		}
	}
}

func TestServer_ListTools(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		wantTools []string
	}{
		{
			name:      "engine tools",
			wantTools: []string{"connect_db", "disconnect_db", "db_info", "set_permissions", "get_permissions", "execute_sql"},
		},
		{
			name:      "with generator",
			opts:      []Option{WithGenerator(sqlgen.Mock{})},
			wantTools: []string{"connect_db", "disconnect_db", "db_info", "set_permissions", "get_permissions", "execute_sql", "generate_sql"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewServer(proxy.New(), tc.opts...)
			result, rpcErr := s.handleListTools()
			if rpcErr != nil {
				t.Fatalf("Expected no error, got %+v", rpcErr)
			}

			var names []string
			for _, tool := range result.Tools {
				names = append(names, tool.Name)
			}
			if strings.Join(names, ",") != strings.Join(tc.wantTools, ",") {
				t.Errorf("Expected tools %v, got %v", tc.wantTools, names)
			}
		})
	}
}

func TestServer_ToolScenario(t *testing.T) {
	engine := proxy.New()
	defer engine.Disconnect()
	s := NewServer(engine)

	responses := session(t, s,
		call(1, "execute_sql", map[string]any{"query": "SELECT 1"}),
		call(2, "connect_db", map[string]any{"db_type": "sqlite", "connection_string": "sqlite://:memory:"}),
		call(3, "execute_sql", map[string]any{"query": "CREATE TABLE t (id INTEGER)"}),
		call(4, "set_permissions", map[string]any{"allow_write_operations": true, "allow_ddl_operations": true}),
		call(5, "execute_sql", map[string]any{"query": "CREATE TABLE t (id INTEGER)"}),
		call(6, "execute_sql", map[string]any{"query": "INSERT INTO t VALUES (1), (2)"}),
		call(7, "execute_sql", map[string]any{"query": "DELETE FROM t", "dry_run": true}),
		call(8, "execute_sql", map[string]any{"query": "SELECT count(*) AS n FROM t"}),
		call(9, "get_permissions", nil),
		call(10, "db_info", nil),
		call(11, "disconnect_db", nil),
	)

	if len(responses) != 11 {
		t.Fatalf("Expected 11 responses, got %d", len(responses))
	}

	tests := []struct {
		idx      int
		isError  bool
		contains string
	}{
		{0, true, "not_connected"},
		{1, false, `"connected": true`},
		{2, true, "permission_denied"},
		{3, false, `"allow_ddl_operations": true`},
		{4, false, `"kind": "ddl"`},
		{5, false, `"affected_rows": 2`},
		{6, false, `"kind": "dry_run"`},
		{7, false, `"row_count": 1`},
		{8, false, `"allow_write_operations": true`},
		{9, false, `"type": "sqlite"`},
		{10, false, `"message": "disconnected"`},
	}

	for _, tc := range tests {
		res := toolResult(t, responses[tc.idx])
		if res.IsError != tc.isError {
			t.Errorf("Response %d: expected isError=%v, got %v (%s)", tc.idx, tc.isError, res.IsError, res.Content[0].Text)
		}
		if !strings.Contains(res.Content[0].Text, tc.contains) {
			t.Errorf("Response %d: expected text containing %q, got %s", tc.idx, tc.contains, res.Content[0].Text)
		}
	}

	// The dry run must not have deleted anything.
	if !strings.Contains(toolResult(t, responses[7]).Content[0].Text, "2") {
		t.Errorf("Expected 2 rows after dry run, got %s", toolResult(t, responses[7]).Content[0].Text)
	}
}

func TestServer_ToolErrors(t *testing.T) {
	s := NewServer(proxy.New())

	tests := []struct {
		name     string
		line     string
		wantCode int
		wantText string
	}{
		{"unknown tool", call(1, "drop_everything", nil), MethodNotFound, ""},
		{"generate without generator", call(2, "generate_sql", map[string]any{"question": "x"}), MethodNotFound, ""},
		{"missing query", call(3, "execute_sql", map[string]any{}), InvalidParams, ""},
		{"bad dry_run", call(4, "execute_sql", map[string]any{"query": "SELECT 1", "dry_run": "yes"}), InvalidParams, ""},
		{"missing permissions", call(5, "set_permissions", map[string]any{"allow_write_operations": true}), InvalidParams, ""},
		{"bad db type", call(6, "connect_db", map[string]any{"db_type": "oracle", "connection_string": "oracle://x"}), 0, "invalid_connection_string"},
		{"scheme mismatch", call(7, "connect_db", map[string]any{"db_type": "mysql", "connection_string": "postgresql://u@h/d"}), 0, "invalid_connection_string"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			responses := session(t, s, tc.line)
			if len(responses) != 1 {
				t.Fatalf("Expected one response, got %d", len(responses))
			}
			resp := responses[0]

			if tc.wantCode != 0 {
				if resp.Error == nil || resp.Error.Code != tc.wantCode {
					t.Errorf("Expected error code %d, got %+v", tc.wantCode, resp.Error)
				}
				return
			}

			res := toolResult(t, resp)
			if !res.IsError || !strings.Contains(res.Content[0].Text, tc.wantText) {
				t.Errorf("Expected tool error containing %q, got %+v", tc.wantText, res)
			}
		})
	}
}

func TestServer_GenerateSQL(t *testing.T) {
	s := NewServer(proxy.New(), WithGenerator(sqlgen.Mock{}))

	responses := session(t, s, call(1, "generate_sql", map[string]any{"question": "show all users"}))
	res := toolResult(t, responses[0])
	if res.IsError || !strings.Contains(res.Content[0].Text, "SELECT * FROM users ORDER BY id DESC;") {
		t.Errorf("Unexpected generate_sql result %+v", res)
	}
}
