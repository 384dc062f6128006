package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/andresmejia3/vigil/internal/alert"
	"github.com/andresmejia3/vigil/internal/capture"
	"github.com/andresmejia3/vigil/internal/eyestate"
	"github.com/andresmejia3/vigil/internal/monitor"
	"github.com/andresmejia3/vigil/internal/status"
	"github.com/andresmejia3/vigil/internal/store"
	"github.com/andresmejia3/vigil/internal/types"
	"go.uber.org/zap"
)

// frameResult wraps the output from a worker to be sent to the aggregator
type frameResult struct {
	Index     int
	Timestamp time.Time
	Data      []byte
	Faces     []types.FaceResult
}

// reorderBuffer restores frame order after the engine pool (Worker 2 might
// finish before Worker 1). Analysed indices are first, first+step, ...
type reorderBuffer struct {
	pending map[int]frameResult
	next    int
	step    int
}

func newReorderBuffer(first, step int) *reorderBuffer {
	return &reorderBuffer{pending: make(map[int]frameResult), next: first, step: step}
}

// Push stores r and returns every result that is now in order.
func (b *reorderBuffer) Push(r frameResult) []frameResult {
	b.pending[r.Index] = r

	var ready []frameResult
	for {
		frame, ok := b.pending[b.next]
		if !ok {
			return ready
		}
		delete(b.pending, b.next)
		ready = append(ready, frame)
		b.next += b.step
	}
}

// Len is the number of results waiting for an earlier frame.
func (b *reorderBuffer) Len() int {
	return len(b.pending)
}

// episodeStore is the part of the store the pipeline writes to.
type episodeStore interface {
	InsertEpisode(ctx context.Context, ep store.Episode) error
}

// sinks fans monitor updates out to persistence, alerts, the status server
// and the display. Any of them may be nil.
type sinks struct {
	sessionID string
	store     episodeStore
	alerts    alert.Publisher
	status    *status.Server
	displays  []capture.Display
	logger    *zap.Logger

	persisted int
}

// handle delivers one update. Only capture.ErrQuit and store failures stop the run;
// alert and display failures are logged.
func (s *sinks) handle(ctx context.Context, frame []byte, u monitor.Update) error {
	if err := s.show(frame, u); err != nil {
		return err
	}

	if t := u.Transition; t != nil {
		s.publish(ctx, alert.Event{
			Kind:      alert.KindTransition,
			SessionID: s.sessionID,
			Frame:     u.Index,
			At:        t.At,
			From:      t.From.String(),
			To:        t.To.String(),
			ClosureMS: u.State.ClosureDuration.Milliseconds(),
			Blinks:    u.State.Blinks,
		})
	}

	// Plain blinks are counted, not stored
	if ep := u.Episode; ep != nil && ep.Peak >= eyestate.Drowsy {
		if s.store != nil {
			err := s.store.InsertEpisode(ctx, store.Episode{
				SessionID: s.sessionID,
				StartedAt: ep.Start,
				EndedAt:   ep.End,
				Duration:  ep.Duration,
				Peak:      ep.Peak.String(),
				Abandoned: ep.Abandoned,
			})
			if err != nil {
				return err
			}
		}
		s.persisted++
		s.publish(ctx, alert.Event{
			Kind:      alert.KindEpisode,
			SessionID: s.sessionID,
			Frame:     u.Index,
			At:        ep.End,
			Peak:      ep.Peak.String(),
			ClosureMS: ep.Duration.Milliseconds(),
			Blinks:    u.State.Blinks,
			Abandoned: ep.Abandoned,
		})
	}
	return nil
}

// show refreshes the status server and the displays. It returns only capture.ErrQuit.
func (s *sinks) show(frame []byte, u monitor.Update) error {
	if s.status != nil {
		s.status.Update(status.NewSnapshot(s.sessionID, u))
	}

	for _, d := range s.displays {
		if err := d.Show(frame, u); err != nil {
			if errors.Is(err, capture.ErrQuit) {
				return err
			}
			s.logger.Warn("display failed", zap.Int("frame", u.Index), zap.Error(err))
		}
	}
	return nil
}

func (s *sinks) publish(ctx context.Context, e alert.Event) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Publish(ctx, e); err != nil {
		s.logger.Warn("alert delivery failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

func (s *sinks) close() {
	for _, d := range s.displays {
		if err := d.Close(); err != nil {
			s.logger.Warn("failed to close display", zap.Error(err))
		}
	}
	if s.alerts != nil {
		if err := s.alerts.Close(); err != nil {
			s.logger.Warn("failed to close alert publishers", zap.Error(err))
		}
	}
}
