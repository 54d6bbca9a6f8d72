package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/actuator/internal/actions"
	"github.com/rendis/actuator/internal/dispatch"
	"github.com/rendis/actuator/internal/jsoncodec"
	"github.com/rendis/actuator/internal/logging"
	"github.com/rendis/actuator/internal/parser"
	"github.com/rendis/actuator/pkg/schema"
)

// tool is one action exposed over MCP.
type tool struct {
	definition mcp.Tool
	endpoint   *dispatch.Endpoint
}

func newTool(chain *parser.Chain, invoker *dispatch.Invoker, meta *actions.ActionMeta) (*tool, error) {
	ep, err := dispatch.NewEndpoint(chain, invoker, meta, nil)
	if err != nil {
		return nil, err
	}

	desc, err := dispatch.Describe(meta)
	if err != nil {
		return nil, err
	}
	inputSchema, err := jsoncodec.Marshal(desc.ParamsSchema)
	if err != nil {
		return nil, err
	}

	def := mcp.NewToolWithRawSchema(meta.Name, toolDescription(meta), json.RawMessage(inputSchema))
	readOnly := meta.Type == actions.Query
	def.Annotations.ReadOnlyHint = &readOnly
	if meta.Version != nil {
		def.Annotations.Title = meta.Name + " v" + meta.VersionString()
	}

	return &tool{definition: def, endpoint: ep}, nil
}

func toolDescription(meta *actions.ActionMeta) string {
	if meta.Description != "" {
		return meta.Description
	}
	return "Invoke the " + meta.Name + " action"
}

// handler returns the tool handler invoking t.
func (s *Server) handler(t *tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		body, err := jsoncodec.Marshal(args)
		if err != nil {
			return mcp.NewToolResultError("arguments must be a JSON object"), nil
		}

		r := schema.NewRequest(http.MethodPost, "/"+t.endpoint.Action().Name, body)
		if token := s.authorization(req); token != "" {
			r.SetHeader("Authorization", token)
		}

		out, err := t.endpoint.Call(ctx, r)
		if err != nil {
			return s.errorResult(ctx, t, err), nil
		}
		return marshalResult(out)
	}
}

func (s *Server) authorization(req mcp.CallToolRequest) string {
	if req.Header != nil {
		if v := req.Header.Get("Authorization"); v != "" {
			return v
		}
	}
	if s.token != "" {
		return "Bearer " + s.token
	}
	return ""
}

// errorResult reports client errors as-is and hides server error details.
func (s *Server) errorResult(ctx context.Context, t *tool, err error) *mcp.CallToolResult {
	var ae *schema.ActionError
	if !errors.As(err, &ae) || (!ae.IsClientError() && ae.Code != schema.ErrCodeTimeout) {
		logging.LogWith(ctx, s.logger).Error("tool call failed",
			slog.String("tool", t.definition.Name),
			slog.Any("error", err))
		return mcp.NewToolResultError(schema.ErrCodeExecution + ": internal server error")
	}
	text := ae.Code + ": " + ae.Message
	if len(ae.Details) > 0 {
		if d, mErr := jsoncodec.Marshal(ae.Details); mErr == nil {
			text += " " + string(d)
		}
	}
	return mcp.NewToolResultError(text)
}

// marshalResult converts a value to a JSON text tool result. Object results
// are also returned as structured content.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal result: " + err.Error()), nil
	}
	if obj, ok := v.(map[string]any); ok {
		return mcp.NewToolResultStructured(obj, string(data)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
