package actions

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TriggerKind names a trigger variant.
type TriggerKind string

const (
	KindWeb       TriggerKind = "web"
	KindFixedRate TriggerKind = "fixed_rate"
	KindPubSub    TriggerKind = "pubsub"
)

// Trigger describes one way an action can be reached.
type Trigger interface {
	Kind() TriggerKind
	String() string
}

// WebTrigger routes an HTTP method and path pattern to the action. Path
// segments of the form {name} capture a path variable.
type WebTrigger struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (WebTrigger) Kind() TriggerKind { return KindWeb }

func (t WebTrigger) String() string { return "web:" + t.Method + " " + t.Path }

// IsQuery reports whether the trigger uses a read-only HTTP method.
func (t WebTrigger) IsQuery() bool {
	return t.Method == http.MethodGet || t.Method == http.MethodHead
}

// FixedRateTrigger runs the action on a fixed interval with default parameters.
type FixedRateTrigger struct {
	Interval time.Duration `json:"interval"`
}

func (FixedRateTrigger) Kind() TriggerKind { return KindFixedRate }

func (t FixedRateTrigger) String() string { return "fixed_rate:" + t.Interval.String() }

// PubSubTrigger runs the action for events published on a channel. Filter is
// an optional boolean expression over the event; Transform is an optional jq
// program producing the parameters from the event. Without a transform the
// event payload is used as the parameters.
type PubSubTrigger struct {
	Channel   string `json:"channel"`
	Filter    string `json:"filter,omitempty"`
	Transform string `json:"transform,omitempty"`
}

func (PubSubTrigger) Kind() TriggerKind { return KindPubSub }

func (t PubSubTrigger) String() string { return "pubsub:" + t.Channel }

// Web returns a WebTrigger.
func Web(method, path string) WebTrigger {
	return WebTrigger{Method: method, Path: path}
}

// Every returns a FixedRateTrigger.
func Every(d time.Duration) FixedRateTrigger {
	return FixedRateTrigger{Interval: d}
}

// OnChannel returns a PubSubTrigger without filter or transform.
func OnChannel(channel string) PubSubTrigger {
	return PubSubTrigger{Channel: channel}
}

func normalizeTrigger(t Trigger) (Trigger, error) {
	switch tt := t.(type) {
	case WebTrigger:
		tt.Method = strings.ToUpper(strings.TrimSpace(tt.Method))
		if tt.Method == "" {
			return nil, errors.New("web trigger has no method")
		}
		if !strings.HasPrefix(tt.Path, "/") {
			return nil, fmt.Errorf("web trigger path %q must start with /", tt.Path)
		}
		return tt, nil
	case FixedRateTrigger:
		if tt.Interval <= 0 {
			return nil, fmt.Errorf("fixed rate interval must be positive, got %s", tt.Interval)
		}
		return tt, nil
	case PubSubTrigger:
		if tt.Channel == "" {
			return nil, errors.New("pubsub trigger has no channel")
		}
		return tt, nil
	case nil:
		return nil, errors.New("trigger is nil")
	default:
		return t, nil
	}
}
