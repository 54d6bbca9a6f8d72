package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rendis/actuator/internal/actions"
	"github.com/rendis/actuator/internal/auth"
	"github.com/rendis/actuator/internal/dispatch"
	"github.com/rendis/actuator/internal/parser"
	"github.com/rendis/actuator/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type helloParams struct {
	Name string `json:"name" jsonschema:"default=Doofus"`
}

type whoParams struct {
	Caller *auth.Authorization `json:"caller"`
}

type profile struct {
	Subject string   `json:"subject"`
	Scopes  []string `json:"scopes,omitempty"`
}

func newServer(t *testing.T, token string) *Server {
	t.Helper()
	reg := actions.NewRegistry()

	hello, err := actions.New("say_hello", func(_ context.Context, p helloParams) (string, error) {
		return "Hello " + p.Name + "!", nil
	}, actions.WithDescription("Greets someone."))
	require.NoError(t, err)

	whoami, err := actions.New("get_profile", func(_ context.Context, p whoParams) (profile, error) {
		return profile{Subject: p.Caller.Subject, Scopes: p.Caller.Scopes}, nil
	}, actions.WithAccessControl(auth.AllowAuthenticated), actions.WithVersion("1.2.0"))
	require.NoError(t, err)

	broken, err := actions.New("create_broken", func(context.Context, helloParams) (string, error) {
		return "", errors.New("disk on fire")
	})
	require.NoError(t, err)

	for _, m := range []*actions.ActionMeta{hello, whoami, broken} {
		require.NoError(t, reg.Register(m))
	}

	v := validation.NewJSONSchemaValidator()
	authorizer := auth.NewStaticAuthorizer(map[string]auth.Authorization{
		"agent-token": {Subject: "agent", Scopes: []string{"tools"}},
		"other-token": {Subject: "other"},
	})
	s, err := NewServer(ServerDeps{
		Registry: reg,
		Chain:    parser.DefaultChain(authorizer, v),
		Invoker:  dispatch.NewInvoker(v),
		Token:    token,
	})
	require.NoError(t, err)
	return s
}

func callTool(t *testing.T, s *Server, name string, args map[string]any, header http.Header) *mcp.CallToolResult {
	t.Helper()
	st := s.MCPServer().GetTool(name)
	require.NotNil(t, st, "tool %s should be registered", name)
	res, err := st.Handler(context.Background(), mcp.CallToolRequest{
		Header: header,
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return tc.Text
}

func TestNewServer_OneToolPerAction(t *testing.T) {
	s := newServer(t, "")

	tools := s.MCPServer().ListTools()
	require.Len(t, tools, 3)
	for _, name := range []string{"say_hello", "get_profile", "create_broken"} {
		assert.NotNil(t, s.MCPServer().GetTool(name), "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	s := newServer(t, "")

	hello := s.MCPServer().GetTool("say_hello").Tool
	assert.Equal(t, "Greets someone.", hello.Description)
	require.NotNil(t, hello.Annotations.ReadOnlyHint)
	assert.False(t, *hello.Annotations.ReadOnlyHint)

	var input map[string]any
	require.NoError(t, json.Unmarshal(hello.RawInputSchema, &input))
	assert.Contains(t, input["properties"], "name")

	profileTool := s.MCPServer().GetTool("get_profile").Tool
	assert.True(t, *profileTool.Annotations.ReadOnlyHint)
	assert.Equal(t, "get_profile v1.2.0", profileTool.Annotations.Title)
	assert.Equal(t, "Invoke the get_profile action", profileTool.Description)

	// the injected principal is not a tool argument
	require.NoError(t, json.Unmarshal(profileTool.RawInputSchema, &input))
	props, _ := input["properties"].(map[string]any)
	assert.NotContains(t, props, "caller")
}

func TestCallTool_Success(t *testing.T) {
	s := newServer(t, "")

	res := callTool(t, s, "say_hello", nil, nil)
	assert.False(t, res.IsError)
	assert.Equal(t, `"Hello Doofus!"`, text(t, res))

	res = callTool(t, s, "say_hello", map[string]any{"name": "Tim"}, nil)
	assert.Equal(t, `"Hello Tim!"`, text(t, res))
}

func TestCallTool_ValidationError(t *testing.T) {
	s := newServer(t, "")

	res := callTool(t, s, "say_hello", map[string]any{"name": 5}, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "VALIDATION_ERROR")
}

func TestCallTool_Authentication(t *testing.T) {
	s := newServer(t, "")
	res := callTool(t, s, "get_profile", nil, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "UNAUTHORIZED")

	// server token for stdio callers
	s = newServer(t, "agent-token")
	res = callTool(t, s, "get_profile", nil, nil)
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, map[string]any{"subject": "agent", "scopes": []any{"tools"}}, res.StructuredContent)

	// an HTTP header wins over the server token
	res = callTool(t, s, "get_profile", nil, http.Header{"Authorization": []string{"Bearer other-token"}})
	require.False(t, res.IsError, text(t, res))
	assert.JSONEq(t, `{"subject":"other"}`, text(t, res))
}

func TestCallTool_ServerErrorIsGeneric(t *testing.T) {
	s := newServer(t, "")

	res := callTool(t, s, "create_broken", nil, nil)
	assert.True(t, res.IsError)
	assert.Equal(t, "EXECUTION_ERROR: internal server error", text(t, res))
	assert.NotContains(t, text(t, res), "disk on fire")
}
