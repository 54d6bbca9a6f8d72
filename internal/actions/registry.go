package actions

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"reflect"
	"sort"
	"sync"

	"github.com/rendis/actuator/pkg/schema"
)

// DefaultExclude is the exclusion pattern applied by Discover when none is given.
const DefaultExclude = "_*"

// Registry holds the registered actions. It is populated at startup and read
// concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*ActionMeta
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]*ActionMeta),
		logger:  slog.Default(),
	}
}

// SetLogger replaces the logger used for registration warnings.
func (r *Registry) SetLogger(l *slog.Logger) {
	if l != nil {
		r.logger = l
	}
}

// Register adds an action. An existing action with the same name is replaced
// and a warning is logged.
func (r *Registry) Register(meta *ActionMeta) error {
	if meta == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	if meta.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[meta.Name]; exists {
		r.logger.Warn("action re-registered, replacing previous definition",
			slog.String("action", meta.Name))
	}
	r.actions[meta.Name] = meta
	return nil
}

// Lookup returns the action registered under name.
func (r *Registry) Lookup(name string) (*ActionMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.actions[name]
	return meta, ok
}

// Get returns the action registered under name or a NOT_FOUND error.
func (r *Registry) Get(name string) (*ActionMeta, error) {
	meta, ok := r.Lookup(name)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not registered", name)
	}
	return meta, nil
}

// List returns all registered actions, sorted by name.
func (r *Registry) List() []*ActionMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metas := make([]*ActionMeta, 0, len(r.actions))
	for _, m := range r.actions {
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].Name < metas[j].Name
	})
	return metas
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// OptionProvider is implemented by discovery roots that configure their
// actions. method is the Go method name.
type OptionProvider interface {
	ActionOptions(method string) []Option
}

// Discover registers every exported method of root with action shape under
// its snake_case name. Methods whose Go or action name matches an exclusion
// glob are skipped; DefaultExclude applies when none is given. Metadata is
// derived for all methods before any is registered: if one fails, nothing
// is registered. It returns the number of actions registered.
func (r *Registry) Discover(root any, exclude ...string) (int, error) {
	if root == nil {
		return 0, schema.NewError(schema.ErrCodeValidation, "discovery root is nil")
	}
	if len(exclude) == 0 {
		exclude = []string{DefaultExclude}
	}
	for _, pattern := range exclude {
		if _, err := path.Match(pattern, ""); err != nil {
			return 0, schema.NewErrorf(schema.ErrCodeValidation, "invalid exclusion pattern %q", pattern).WithCause(err)
		}
	}

	provider, _ := root.(OptionProvider)

	v := reflect.ValueOf(root)
	t := v.Type()

	var (
		metas []*ActionMeta
		errs  []error
	)
	for i := range t.NumMethod() {
		m := t.Method(i)
		fn := v.Method(i)
		if !IsActionShape(fn.Type()) {
			continue
		}
		name := SnakeCase(m.Name)
		if excluded(exclude, m.Name, name) {
			continue
		}

		var opts []Option
		if provider != nil {
			opts = provider.ActionOptions(m.Name)
		}
		meta, err := NewFromFunc(name, fn, opts...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		metas = append(metas, meta)
	}

	if len(errs) > 0 {
		return 0, fmt.Errorf("discover %s: %w", t, errors.Join(errs...))
	}

	for _, meta := range metas {
		if err := r.Register(meta); err != nil {
			return 0, err
		}
	}
	return len(metas), nil
}

func excluded(patterns []string, names ...string) bool {
	for _, p := range patterns {
		for _, n := range names {
			if ok, _ := path.Match(p, n); ok {
				return true
			}
		}
	}
	return false
}
