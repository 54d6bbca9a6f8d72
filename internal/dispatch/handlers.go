package dispatch

import (
	"context"
	"net/http"
	"strings"

	"github.com/rendis/actuator/internal/actions"
	"github.com/rendis/actuator/internal/jsoncodec"
	"github.com/rendis/actuator/internal/schemagen"
	"github.com/rendis/actuator/pkg/schema"
)

const contentTypeJSON = "application/json"

// ActionHandler invokes an action for POST requests whose last path segment
// is the action name.
type ActionHandler struct {
	endpoint *Endpoint
}

// NewActionHandler creates the handler.
func NewActionHandler(ep *Endpoint) *ActionHandler {
	return &ActionHandler{endpoint: ep}
}

func (h *ActionHandler) Match(req *schema.Request) bool {
	return req.Method == http.MethodPost && req.LastSegment() == h.endpoint.action.Name
}

func (h *ActionHandler) Handle(ctx context.Context, req *schema.Request) (*schema.Response, error) {
	out, err := h.endpoint.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	return JSONResponse(http.StatusOK, out)
}

// RouteHandler invokes an action for requests matching a web trigger. Pattern
// segments of the form {name} match any segment and are captured as path
// variables.
type RouteHandler struct {
	trigger  actions.WebTrigger
	pattern  []string
	endpoint *Endpoint
}

// NewRouteHandler creates the handler.
func NewRouteHandler(wt actions.WebTrigger, ep *Endpoint) *RouteHandler {
	return &RouteHandler{trigger: wt, pattern: schema.SplitPath(wt.Path), endpoint: ep}
}

func (h *RouteHandler) Match(req *schema.Request) bool {
	if req.Method != h.trigger.Method {
		return false
	}
	_, ok := h.vars(req.Path)
	return ok
}

func (h *RouteHandler) Handle(ctx context.Context, req *schema.Request) (*schema.Response, error) {
	vars, _ := h.vars(req.Path)
	routed := *req
	routed.Vars = vars

	out, err := h.endpoint.Call(ctx, &routed)
	if err != nil {
		return nil, err
	}
	if req.Method == http.MethodHead {
		return &schema.Response{Status: http.StatusOK, Headers: map[string]string{"Content-Type": contentTypeJSON}}, nil
	}
	return JSONResponse(http.StatusOK, out)
}

func (h *RouteHandler) vars(path []string) (map[string]string, bool) {
	if len(path) != len(h.pattern) {
		return nil, false
	}
	vars := map[string]string{}
	for i, seg := range h.pattern {
		if name, ok := strings.CutPrefix(seg, "{"); ok && strings.HasSuffix(name, "}") {
			vars[strings.TrimSuffix(name, "}")] = path[i]
			continue
		}
		if seg != path[i] {
			return nil, false
		}
	}
	return vars, true
}

// MetaHandler describes every registered action for GET or OPTIONS requests
// whose last path segment is "meta".
type MetaHandler struct {
	body []byte
}

// ActionDescription is one entry of the metadata document.
type ActionDescription struct {
	Name         string           `json:"name"`
	ParamsSchema any              `json:"params_schema"`
	ReturnSchema any              `json:"return_schema"`
	Doc          string           `json:"doc,omitempty"`
	Type         string           `json:"type"`
	Version      string           `json:"version,omitempty"`
	Triggers     []map[string]any `json:"triggers"`
}

// Describe renders an action's metadata. The parameter schema omits
// server-injected fields.
func Describe(m *actions.ActionMeta) (*ActionDescription, error) {
	params := m.ParamsSchema
	if len(m.Injections) > 0 {
		stripped, err := schemagen.Strip(params, m.Injections)
		if err != nil {
			return nil, err
		}
		params = stripped
	}
	ps, err := schemagen.JSON(params)
	if err != nil {
		return nil, err
	}
	rs, err := schemagen.JSON(m.ResultSchema)
	if err != nil {
		return nil, err
	}

	triggers := make([]map[string]any, 0, len(m.Triggers))
	for _, t := range m.Triggers {
		triggers = append(triggers, describeTrigger(t))
	}

	return &ActionDescription{
		Name:         m.Name,
		ParamsSchema: ps,
		ReturnSchema: rs,
		Doc:          strings.TrimSpace(m.Description),
		Type:         string(m.Type),
		Version:      m.VersionString(),
		Triggers:     triggers,
	}, nil
}

func describeTrigger(t actions.Trigger) map[string]any {
	d := map[string]any{"kind": string(t.Kind())}
	switch tt := t.(type) {
	case actions.WebTrigger:
		d["method"] = tt.Method
		d["path"] = tt.Path
	case actions.FixedRateTrigger:
		d["interval"] = tt.Interval.String()
	case actions.PubSubTrigger:
		d["channel"] = tt.Channel
		if tt.Filter != "" {
			d["filter"] = tt.Filter
		}
		if tt.Transform != "" {
			d["transform"] = tt.Transform
		}
	}
	return d
}

// NewMetaHandler renders the metadata document once.
func NewMetaHandler(metas []*actions.ActionMeta) (*MetaHandler, error) {
	descs := make([]*ActionDescription, 0, len(metas))
	for _, m := range metas {
		d, err := Describe(m)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	body, err := jsoncodec.Marshal(descs)
	if err != nil {
		return nil, err
	}
	return &MetaHandler{body: body}, nil
}

func (h *MetaHandler) Match(req *schema.Request) bool {
	return (req.Method == http.MethodGet || req.Method == http.MethodOptions) && req.LastSegment() == "meta"
}

func (h *MetaHandler) Handle(context.Context, *schema.Request) (*schema.Response, error) {
	return &schema.Response{
		Status:  http.StatusOK,
		Headers: map[string]string{"Content-Type": contentTypeJSON},
		Body:    h.body,
	}, nil
}

// NotFoundHandler matches every request and answers 404.
type NotFoundHandler struct{}

func (NotFoundHandler) Match(*schema.Request) bool { return true }

func (NotFoundHandler) Handle(_ context.Context, req *schema.Request) (*schema.Response, error) {
	return JSONResponse(http.StatusNotFound, errorBody{
		Code:    schema.ErrCodeNotFound,
		Message: "no action matches " + req.Method + " /" + strings.Join(req.Path, "/"),
	})
}

// JSONResponse renders v as a JSON response.
func JSONResponse(status int, v any) (*schema.Response, error) {
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &schema.Response{
		Status:  status,
		Headers: map[string]string{"Content-Type": contentTypeJSON},
		Body:    body,
	}, nil
}
