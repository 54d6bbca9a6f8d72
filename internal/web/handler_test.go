package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rendis/actuator/internal/actions"
	"github.com/rendis/actuator/internal/dispatch"
	"github.com/rendis/actuator/internal/parser"
	"github.com/rendis/actuator/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type helloParams struct {
	Name string `json:"name" jsonschema:"default=Doofus"`
}

func newDispatcher(t *testing.T, greeting string, metrics *dispatch.Metrics) *dispatch.Dispatcher {
	t.Helper()
	reg := actions.NewRegistry()
	meta, err := actions.New("say_hello", func(_ context.Context, p helloParams) (string, error) {
		return greeting + " " + p.Name + "!", nil
	}, actions.WithTriggers(actions.Web("GET", "/greet/{name}")))
	require.NoError(t, err)
	require.NoError(t, reg.Register(meta))

	v := validation.NewJSONSchemaValidator()
	inv := dispatch.NewInvoker(v, dispatch.WithMetrics(metrics))
	d, err := dispatch.Build(reg, parser.DefaultChain(nil, v), inv, slog.Default())
	require.NoError(t, err)
	return d
}

func do(t *testing.T, h http.Handler, method, target, body string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := rec.Result()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(data)
}

func TestHandler_InvokesUnderBasePath(t *testing.T) {
	h := NewHandler(newDispatcher(t, "Hello", nil), WithBasePath("/api/"))

	res, body := do(t, h, http.MethodPost, "/api/say_hello", `{"name":"Tim"}`)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, `"Hello Tim!"`, body)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
	assert.NotEmpty(t, res.Header.Get(RequestIDHeader))

	res, _ = do(t, h, http.MethodPost, "/apix/say_hello", `{}`)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = do(t, h, http.MethodPost, "/other/say_hello", `{}`)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHandler_QueryAndRoute(t *testing.T) {
	h := NewHandler(newDispatcher(t, "Hello", nil))

	res, body := do(t, h, http.MethodGet, "/greet/Bo", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, `"Hello Bo!"`, body)

	res, body = do(t, h, http.MethodGet, "/meta", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "say_hello", entries[0]["name"])
}

func TestHandler_PropagatesRequestID(t *testing.T) {
	h := NewHandler(newDispatcher(t, "Hello", nil))

	req := httptest.NewRequest(http.MethodPost, "/say_hello", strings.NewReader(`{}`))
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestHandler_BodyTooLarge(t *testing.T) {
	h := NewHandler(newDispatcher(t, "Hello", nil), WithMaxBodyBytes(8))

	res, body := do(t, h, http.MethodPost, "/say_hello", `{"name":"a long name"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
	assert.Contains(t, body, "VALIDATION_ERROR")
}

func TestHandler_Swap(t *testing.T) {
	h := NewHandler(newDispatcher(t, "Hello", nil))
	_, body := do(t, h, http.MethodPost, "/say_hello", `{}`)
	assert.Equal(t, `"Hello Doofus!"`, body)

	h.Swap(newDispatcher(t, "Howdy", nil))
	_, body = do(t, h, http.MethodPost, "/say_hello", `{}`)
	assert.Equal(t, `"Howdy Doofus!"`, body)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := dispatch.NewMetrics(reg)
	require.NoError(t, metrics.Register())

	srv := NewServer(":0", NewHandler(newDispatcher(t, "Hello", metrics)), "/metrics", reg, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/say_hello", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `actuator_requests_total{action="say_hello",status="200"} 1`)
}
