package schema

import "strings"

// Request is the transport-neutral inbound request every binding produces.
type Request struct {
	Method  string              `json:"method"`
	Path    []string            `json:"path"`
	Headers map[string]string   `json:"headers,omitempty"`
	Query   map[string][]string `json:"query,omitempty"`
	Body    []byte              `json:"body,omitempty"`

	// Vars holds path variables captured by a route pattern.
	Vars map[string]string `json:"vars,omitempty"`
}

// NewRequest builds a Request from a method and a slash separated path.
// Empty path segments are dropped.
func NewRequest(method, path string, body []byte) *Request {
	return &Request{
		Method:  strings.ToUpper(method),
		Path:    SplitPath(path),
		Headers: map[string]string{},
		Query:   map[string][]string{},
		Body:    body,
	}
}

// SplitPath splits a slash separated path into its non-empty segments.
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// LastSegment returns the final path segment, or "" for the root path.
func (r *Request) LastSegment() string {
	if len(r.Path) == 0 {
		return ""
	}
	return r.Path[len(r.Path)-1]
}

// Header returns the value of the named header. Lookups are case-insensitive.
func (r *Request) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// SetHeader sets a header value, replacing any case-insensitive match.
func (r *Request) SetHeader(name, value string) {
	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
	for k := range r.Headers {
		if strings.EqualFold(k, name) {
			delete(r.Headers, k)
		}
	}
	r.Headers[name] = value
}

// Param returns the first value of the named query parameter, or "".
func (r *Request) Param(name string) string {
	if vs := r.Query[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Response is the transport-neutral outbound response.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}
