package eyestate

import (
	"fmt"
	"time"
)

// Thresholds holds the policy constants of the classifier.
type Thresholds struct {
	// Openness is the EAR below which the eyes count as closed.
	Openness float64
	// DrowsyAfter is the closure duration past which the subject is Drowsy.
	DrowsyAfter time.Duration
	// SleepAfter is the closure duration past which the subject is Sleeping.
	SleepAfter time.Duration
}

// DefaultThresholds returns 0.25 EAR, 200ms and 1s.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Openness:    0.25,
		DrowsyAfter: 200 * time.Millisecond,
		SleepAfter:  time.Second,
	}
}

// Validate checks that the thresholds describe a usable policy.
func (t Thresholds) Validate() error {
	if t.Openness <= 0 {
		return fmt.Errorf("%w: openness must be > 0, got %f", ErrInvalidThresholds, t.Openness)
	}
	if t.DrowsyAfter <= 0 {
		return fmt.Errorf("%w: drowsy duration must be > 0, got %s", ErrInvalidThresholds, t.DrowsyAfter)
	}
	if t.SleepAfter <= t.DrowsyAfter {
		return fmt.Errorf("%w: sleep duration (%s) must exceed drowsy duration (%s)", ErrInvalidThresholds, t.SleepAfter, t.DrowsyAfter)
	}
	return nil
}
