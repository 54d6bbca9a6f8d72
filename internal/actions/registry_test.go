package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/rendis/actuator/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nameParams struct {
	Name string `json:"name" jsonschema:"default=Doofus"`
}

func hello(_ context.Context, p nameParams) (string, error) {
	return "Hello " + p.Name + "!", nil
}

func goodbye(_ context.Context, p nameParams) (string, error) {
	return "Goodbye " + p.Name + "!", nil
}

// stubAction builds a minimal action for registry tests.
func stubAction(t *testing.T, name string, opts ...Option) *ActionMeta {
	t.Helper()
	meta, err := New(name, hello, opts...)
	require.NoError(t, err)
	return meta
}

func TestRegistry_Register_Success(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubAction(t, "say_hello")))
	assert.Equal(t, 1, reg.Count())

	got, ok := reg.Lookup("say_hello")
	require.True(t, ok)
	assert.Equal(t, "say_hello", got.Name)
}

func TestRegistry_Register_LastWriteWins(t *testing.T) {
	var buf bytes.Buffer
	reg := NewRegistry()
	reg.SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	first := stubAction(t, "greet")
	second, err := New("greet", goodbye)
	require.NoError(t, err)

	require.NoError(t, reg.Register(first))
	assert.Empty(t, buf.String())
	require.NoError(t, reg.Register(second))

	assert.Equal(t, 1, reg.Count())
	got, ok := reg.Lookup("greet")
	require.True(t, ok)
	assert.Same(t, second, got)

	out, err := got.Call(context.Background(), reflectValue(nameParams{Name: "Ada"}))
	require.NoError(t, err)
	assert.Equal(t, "Goodbye Ada!", out.Interface())

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "action=greet")
}

func TestRegistry_Register_Nil(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(nil)
	require.Error(t, err)

	var ae *schema.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrCodeValidation, ae.Code)
}

func TestRegistry_Register_EmptyName(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&ActionMeta{})
	require.Error(t, err)

	var ae *schema.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrCodeValidation, ae.Code)
}

func TestRegistry_Get_NotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("missing")
	require.Error(t, err)

	var ae *schema.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrCodeNotFound, ae.Code)
	assert.Equal(t, 404, ae.Status())

	_, ok := reg.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistry_List_Sorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubAction(t, "zeta", WithDescription("last"))))
	require.NoError(t, reg.Register(stubAction(t, "alpha", WithDescription("  first\n"))))
	require.NoError(t, reg.Register(stubAction(t, "mid")))

	metas := reg.List()
	require.Len(t, metas, 3)
	assert.Equal(t, "alpha", metas[0].Name)
	assert.Equal(t, "first", metas[0].Description)
	assert.Equal(t, "mid", metas[1].Name)
	assert.Equal(t, "zeta", metas[2].Name)
}

func TestRegistry_List_Empty(t *testing.T) {
	assert.Empty(t, NewRegistry().List())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	reg.SetLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	const n = 50

	metas := make([]*ActionMeta, n)
	for i := range metas {
		metas[i] = stubAction(t, fmt.Sprintf("action_%d", i%10))
	}

	var wg sync.WaitGroup
	wg.Add(n * 3)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_ = reg.Register(metas[i])
		}(i)
		go func() {
			defer wg.Done()
			_, _ = reg.Get("action_0")
		}()
		go func() {
			defer wg.Done()
			_ = reg.List()
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, reg.Count())
}

// greeter is a discovery root.
type greeter struct {
	prefix string
}

type countParams struct {
	Limit int `json:"limit,omitempty"`
}

func (g *greeter) SayHello(_ context.Context, p nameParams) (string, error) {
	return g.prefix + p.Name, nil
}

func (g *greeter) ListGreetings(_ context.Context, p countParams) ([]string, error) {
	return make([]string, p.Limit), nil
}

func (g *greeter) InternalHelper(_ context.Context, p nameParams) (string, error) {
	return "", nil
}

// Helper has the wrong shape and is ignored.
func (g *greeter) Helper(s string) string { return s }

func (g *greeter) ActionOptions(method string) []Option {
	if method == "SayHello" {
		return []Option{WithDescription("Greets someone."), WithTriggers(Web("GET", "/greet/{name}"))}
	}
	return nil
}

func TestRegistry_Discover(t *testing.T) {
	reg := NewRegistry()
	n, err := reg.Discover(&greeter{prefix: "hi "}, "internal_*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	names := make([]string, 0, n)
	for _, m := range reg.List() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"list_greetings", "say_hello"}, names)

	hello, ok := reg.Lookup("say_hello")
	require.True(t, ok)
	assert.Equal(t, "Greets someone.", hello.Description)
	assert.Equal(t, Query, hello.Type)
	require.Len(t, hello.WebTriggers(), 1)

	out, err := hello.Call(context.Background(), reflectValue(nameParams{Name: "Bo"}))
	require.NoError(t, err)
	assert.Equal(t, "hi Bo", out.Interface())

	list, _ := reg.Lookup("list_greetings")
	assert.Equal(t, Query, list.Type)
}

func TestRegistry_Discover_DefaultExclude(t *testing.T) {
	reg := NewRegistry()
	n, err := reg.Discover(&greeter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

type brokenRoot struct{}

type untaggedParams struct {
	Name string
}

func (brokenRoot) Fine(_ context.Context, p nameParams) (string, error) { return "", nil }

func (brokenRoot) Broken(_ context.Context, p untaggedParams) (string, error) { return "", nil }

func TestRegistry_Discover_AllOrNothing(t *testing.T) {
	reg := NewRegistry()
	n, err := reg.Discover(brokenRoot{})
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Zero(t, reg.Count())

	var ae *schema.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrCodeSchemaDerivation, ae.Code)
	assert.Equal(t, "broken", ae.Action)
}

func TestRegistry_Discover_InvalidPattern(t *testing.T) {
	_, err := NewRegistry().Discover(&greeter{}, "[")
	assert.Error(t, err)
}
