// Package alert publishes eye-state changes to external sinks.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Kind distinguishes label changes from finished closures.
type Kind string

const (
	KindTransition Kind = "transition"
	KindEpisode    Kind = "episode"
)

// Event is the payload published for every label change and persisted episode.
type Event struct {
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id"`
	Frame     int       `json:"frame"`
	At        time.Time `json:"at"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Peak      string    `json:"peak,omitempty"`
	ClosureMS int64     `json:"closure_ms"`
	Blinks    int       `json:"blinks"`
	Abandoned bool      `json:"abandoned,omitempty"`
}

// Values flattens the event into string fields for stream entries.
func (e Event) Values() map[string]interface{} {
	v := map[string]interface{}{
		"kind":       string(e.Kind),
		"session_id": e.SessionID,
		"frame":      strconv.Itoa(e.Frame),
		"at":         e.At.UTC().Format(time.RFC3339Nano),
		"closure_ms": strconv.FormatInt(e.ClosureMS, 10),
		"blinks":     strconv.Itoa(e.Blinks),
	}
	if e.From != "" {
		v["from"] = e.From
	}
	if e.To != "" {
		v["to"] = e.To
	}
	if e.Peak != "" {
		v["peak"] = e.Peak
		v["abandoned"] = strconv.FormatBool(e.Abandoned)
	}
	return v
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Multi fans an event out to several publishers. One failing sink does not
// stop delivery to the others.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encode(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}
