// Package monitor turns a stream of per-frame face detections into eye-state
// updates for a single subject.
package monitor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/vigil/internal/eyestate"
	"github.com/andresmejia3/vigil/internal/types"
	"go.uber.org/zap"
)

// ErrOutOfOrder is returned when a frame index does not increase.
var ErrOutOfOrder = errors.New("frame observed out of order")

// FaceLostPolicy decides what happens to a running closure when the face disappears.
type FaceLostPolicy int

const (
	// Hold freezes the state until the face comes back.
	Hold FaceLostPolicy = iota
	// Abandon drops the running closure after FaceLostGrace face-less frames.
	Abandon
)

func (p FaceLostPolicy) String() string {
	if p == Abandon {
		return "abandon"
	}
	return "hold"
}

// ParseFaceLostPolicy parses "hold" or "abandon".
func ParseFaceLostPolicy(s string) (FaceLostPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hold", "":
		return Hold, nil
	case "abandon":
		return Abandon, nil
	}
	return Hold, fmt.Errorf("invalid face-lost policy %q (use 'hold' or 'abandon')", s)
}

// Options configures a Monitor.
type Options struct {
	Thresholds    eyestate.Thresholds
	OnFaceLost    FaceLostPolicy
	FaceLostGrace int // Consecutive face-less frames tolerated before Abandon applies
}

// Observation is the landmark engine output for one frame.
type Observation struct {
	Index     int
	Timestamp time.Time
	Faces     []types.FaceResult
}

// Transition records a label change.
type Transition struct {
	From eyestate.Label
	To   eyestate.Label
	At   time.Time
}

// Episode summarises one closure that ended.
type Episode struct {
	Start     time.Time
	End       time.Time
	Duration  time.Duration
	Peak      eyestate.Label
	Abandoned bool // Ended by face loss rather than the eyes reopening
}

// Update is the result of observing one frame.
type Update struct {
	Index      int
	Timestamp  time.Time
	Face       *types.FaceResult // Subject face, nil if none was found
	EAR        float64
	State      eyestate.State
	Transition *Transition
	Episode    *Episode
}

// Stats are running totals for a session.
type Stats struct {
	Frames     int
	FaceFrames int
	Invalid    int
	Blinks     int
	Episodes   int
}

// Monitor owns the eye state of one subject. It is not safe for concurrent use.
type Monitor struct {
	classifier *eyestate.Classifier
	opts       Options
	logger     *zap.Logger

	state     eyestate.State
	lastIndex int
	seen      bool
	missed    int
	stats     Stats
}

// New builds a Monitor. A nil logger disables logging.
func New(opts Options, logger *zap.Logger) (*Monitor, error) {
	c, err := eyestate.NewClassifier(opts.Thresholds)
	if err != nil {
		return nil, err
	}
	if opts.FaceLostGrace < 1 {
		opts.FaceLostGrace = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{classifier: c, opts: opts, logger: logger}, nil
}

// State returns the current eye state.
func (m *Monitor) State() eyestate.State {
	return m.state
}

// Thresholds returns the classification policy in use.
func (m *Monitor) Thresholds() eyestate.Thresholds {
	return m.classifier.Thresholds()
}

// Stats returns running totals.
func (m *Monitor) Stats() Stats {
	s := m.stats
	s.Blinks = m.state.Blinks
	return s
}

// Observe feeds one frame to the monitor. Frames must arrive in increasing
// index order. A frame without faces is not an error. A frame whose subject
// has unusable landmarks returns an error wrapping eyestate.ErrInvalidLandmarks
// and leaves the state unchanged.
func (m *Monitor) Observe(obs Observation) (Update, error) {
	if m.seen && obs.Index <= m.lastIndex {
		return Update{}, fmt.Errorf("%w: frame %d after %d", ErrOutOfOrder, obs.Index, m.lastIndex)
	}
	m.seen = true
	m.lastIndex = obs.Index
	m.stats.Frames++

	upd := Update{Index: obs.Index, Timestamp: obs.Timestamp}

	face := Subject(obs.Faces)
	if face == nil {
		m.missed++
		if m.opts.OnFaceLost == Abandon && m.state.Closing && m.missed >= m.opts.FaceLostGrace {
			prev := m.state
			m.state = m.classifier.Abandon(prev)
			upd.Episode = m.episode(prev, obs.Timestamp, true)
			m.logger.Debug("closure abandoned after face loss",
				zap.Int("frame", obs.Index),
				zap.Int("missed_frames", m.missed),
				zap.Duration("closure", prev.ClosureDuration))
		}
		upd.State = m.state
		return upd, nil
	}
	m.missed = 0
	m.stats.FaceFrames++
	upd.Face = face

	ear, err := eyestate.FaceEAR(face.Landmarks)
	if err != nil {
		m.stats.Invalid++
		m.logger.Warn("skipping frame with invalid landmarks", zap.Int("frame", obs.Index), zap.Error(err))
		upd.State = m.state
		return upd, fmt.Errorf("frame %d: %w", obs.Index, err)
	}
	upd.EAR = ear

	prev := m.state
	m.state = m.classifier.Classify(ear, obs.Timestamp, prev)
	upd.State = m.state

	if prev.Label != m.state.Label {
		upd.Transition = &Transition{From: prev.Label, To: m.state.Label, At: obs.Timestamp}
		m.logger.Info("eye state changed",
			zap.Int("frame", obs.Index),
			zap.Stringer("from", prev.Label),
			zap.Stringer("to", m.state.Label),
			zap.Duration("closure", m.state.ClosureDuration))
	}
	if prev.Closing && !m.state.Closing {
		upd.Episode = m.episode(prev, obs.Timestamp, false)
	}
	return upd, nil
}

func (m *Monitor) episode(prev eyestate.State, end time.Time, abandoned bool) *Episode {
	m.stats.Episodes++
	return &Episode{
		Start:     prev.ClosureStart,
		End:       end,
		Duration:  prev.ClosureDuration,
		Peak:      prev.Peak,
		Abandoned: abandoned,
	}
}

// Subject picks the largest face, or nil when there is none.
func Subject(faces []types.FaceResult) *types.FaceResult {
	if len(faces) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(faces); i++ {
		if faces[i].Area() > faces[best].Area() {
			best = i
		}
	}
	f := faces[best]
	return &f
}
