package actions

import (
	"strings"
	"time"

	"github.com/rendis/actuator/internal/auth"
	"github.com/rendis/actuator/internal/schemagen"
)

// Option configures an action at construction time.
type Option func(*options)

type options struct {
	description string
	access      auth.AccessControl
	triggers    []Trigger
	timeout     time.Duration
	actionType  ActionType
	version     string
	deriver     *schemagen.Deriver
}

func defaultOptions() options {
	return options{
		access:  auth.AllowAll,
		timeout: DefaultTimeout,
		deriver: schemagen.Default(),
	}
}

// WithDescription sets the documentation shown in metadata. Surrounding
// whitespace is trimmed.
func WithDescription(doc string) Option {
	return func(o *options) { o.description = strings.TrimSpace(doc) }
}

// WithAccessControl sets the access policy. The default admits everyone.
func WithAccessControl(ac auth.AccessControl) Option {
	return func(o *options) {
		if ac != nil {
			o.access = ac
		}
	}
}

// WithTriggers appends triggers.
func WithTriggers(triggers ...Trigger) Option {
	return func(o *options) { o.triggers = append(o.triggers, triggers...) }
}

// WithTimeout bounds each invocation.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithActionType overrides action type inference.
func WithActionType(t ActionType) Option {
	return func(o *options) { o.actionType = t }
}

// WithVersion sets a semantic version, validated at construction.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithDeriver replaces the schema deriver, typically to add type mappings.
func WithDeriver(d *schemagen.Deriver) Option {
	return func(o *options) {
		if d != nil {
			o.deriver = d
		}
	}
}
