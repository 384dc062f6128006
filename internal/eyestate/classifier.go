// Package eyestate measures eye openness from facial landmarks and classifies
// a subject as Active, Drowsy or Sleeping from how long the eyes stay closed.
package eyestate

import (
	"image/color"
	"time"
)

// Label is the classification shown for the subject.
type Label int

const (
	Active Label = iota
	Drowsy
	Sleeping
)

func (l Label) String() string {
	switch l {
	case Active:
		return "Active"
	case Drowsy:
		return "Drowsy"
	case Sleeping:
		return "Sleeping"
	default:
		return "Unknown"
	}
}

// Banner is the text drawn on annotated frames.
func (l Label) Banner() string {
	switch l {
	case Drowsy:
		return "Drowsy !"
	case Sleeping:
		return "SLEEPING !!!"
	default:
		return "Active :)"
	}
}

// Color is the display colour associated with the label.
func (l Label) Color() color.RGBA {
	switch l {
	case Drowsy:
		return color.RGBA{R: 255, A: 255}
	case Sleeping:
		return color.RGBA{B: 255, A: 255}
	default:
		return color.RGBA{G: 255, A: 255}
	}
}

// State is the eye state carried between frames. The zero value is the
// initial state: eyes open, all counters zero, label Active.
type State struct {
	Blinks int

	// Closing is true while a below-threshold closure is running.
	Closing         bool
	ClosureStart    time.Time
	ClosureDuration time.Duration
	// Peak is the most severe label reached during the current closure.
	Peak Label

	ActiveFrames int
	DrowsyFrames int
	SleepFrames  int

	Label Label
}

// Classifier applies Thresholds to successive EAR observations.
type Classifier struct {
	t Thresholds
}

// NewClassifier returns a classifier for the given thresholds.
func NewClassifier(t Thresholds) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{t: t}, nil
}

// Thresholds returns the policy the classifier was built with.
func (c *Classifier) Thresholds() Thresholds {
	return c.t
}

// Classify returns the state following prev after observing ear at now.
// prev is not modified.
func (c *Classifier) Classify(ear float64, now time.Time, prev State) State {
	next := prev

	if ear < c.t.Openness {
		if !next.Closing {
			next.Closing = true
			next.ClosureStart = now
			next.ClosureDuration = 0
			next.Peak = Active
		}
		// Clamp so a clock step backwards cannot shrink the duration.
		if d := now.Sub(next.ClosureStart); d > next.ClosureDuration {
			next.ClosureDuration = d
		}

		switch {
		case next.ClosureDuration > c.t.SleepAfter:
			next.SleepFrames++
			next.Label = Sleeping
		case next.ClosureDuration > c.t.DrowsyAfter:
			next.DrowsyFrames++
			next.Label = Drowsy
		}
		if next.Label > next.Peak && next.ClosureDuration > c.t.DrowsyAfter {
			next.Peak = next.Label
		}
		return next
	}

	if next.Closing {
		next.Blinks++
	}
	next.Closing = false
	next.ClosureStart = time.Time{}
	next.ClosureDuration = 0
	next.Peak = Active
	next.DrowsyFrames = 0
	next.SleepFrames = 0
	next.ActiveFrames++
	next.Label = Active
	return next
}

// Abandon drops an in-progress closure without counting a blink. The label
// is left as it was since the eyes were never seen reopening.
func (c *Classifier) Abandon(prev State) State {
	next := prev
	next.Closing = false
	next.ClosureStart = time.Time{}
	next.ClosureDuration = 0
	next.Peak = Active
	next.DrowsyFrames = 0
	next.SleepFrames = 0
	return next
}
