package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/vigil/internal/eyestate"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/utils"
)

const (
	statusOK    = 0
	statusError = 1

	// maxResponse bounds a single response body. 64 faces is far more than a
	// driver-facing camera will ever see.
	maxResponse = 64 * (16 + eyestate.NumLandmarks*8)
)

// Config controls how the landmark engine is launched.
type Config struct {
	Script         string        // Path to the Python engine
	PredictorPath  string        // dlib shape_predictor_68_face_landmarks.dat
	UpsampleFactor int           // dlib detector upsampling (0 = none)
	ReadTimeout    time.Duration // Per-frame response timeout (0 = none)
}

// DefaultConfig points at the bundled engine and model locations.
func DefaultConfig() Config {
	return Config{
		Script:         "python/landmarks.py",
		PredictorPath:  "models/shape_predictor_68_face_landmarks.dat",
		UpsampleFactor: 0,
		ReadTimeout:    10 * time.Second,
	}
}

// LandmarkWorker drives one Python face/landmark engine process.
type LandmarkWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

// NewLandmarkWorker starts an engine process. The process is killed if ctx is cancelled.
func NewLandmarkWorker(ctx context.Context, id int, cfg Config) (*LandmarkWorker, error) {
	if _, err := os.Stat(cfg.PredictorPath); err != nil {
		return nil, fmt.Errorf("landmark model not found at %s: %w", cfg.PredictorPath, err)
	}

	py := utils.NewSafeCommandContext(ctx, "python3", "-u", cfg.Script,
		"--predictor", cfg.PredictorPath,
		"--upsample", fmt.Sprint(cfg.UpsampleFactor),
	)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &LandmarkWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Communicate sends one length-prefixed request and reads one length-prefixed response.
func (w *LandmarkWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	// Pipes from os.Pipe support deadlines; in-memory test pipes don't.
	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.ReadTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(w.ReadTimeout)); err == nil {
			defer d.SetReadDeadline(time.Time{})
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch engine crashes (e.g. missing dlib)
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("response too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame sends a JPEG frame and decodes the faces found in it.
// An engine-side failure is returned as an *EngineError; the process is still usable.
func (w *LandmarkWorker) ProcessFrame(jpeg []byte) ([]types.FaceResult, error) {
	resp, err := w.Communicate(jpeg)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(resp)
}

// EngineError is a failure reported by the engine for one frame.
type EngineError struct {
	Message string
}

func (e *EngineError) Error() string {
	return "python worker error: " + e.Message
}

// DecodeResponse parses a response payload.
//
//	OK:    [Status:0] [NumFaces u32] { [Box 4×i32] [Points 68×2×f32] } × NumFaces
//	Error: [Status:1] [MsgLen u32] [Msg]
func DecodeResponse(payload []byte) ([]types.FaceResult, error) {
	r := bytes.NewReader(payload)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty response: %w", err)
	}

	switch status {
	case statusOK:
	case statusError:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		msg := make([]byte, n)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, &EngineError{Message: string(msg)}
	default:
		return nil, fmt.Errorf("unknown response status %d", status)
	}

	var numFaces uint32
	if err := binary.Read(r, binary.BigEndian, &numFaces); err != nil {
		return nil, fmt.Errorf("failed to read face count: %w", err)
	}

	faces := make([]types.FaceResult, 0, numFaces)
	for i := uint32(0); i < numFaces; i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d: failed to read box: %w", i, err)
		}
		var pts [eyestate.NumLandmarks][2]float32
		if err := binary.Read(r, binary.BigEndian, &pts); err != nil {
			return nil, fmt.Errorf("face %d: failed to read landmarks: %w", i, err)
		}

		face := types.FaceResult{
			Box:       [4]int{int(box[0]), int(box[1]), int(box[2]), int(box[3])},
			Landmarks: make([]eyestate.Point, eyestate.NumLandmarks),
		}
		for j, p := range pts {
			face.Landmarks[j] = eyestate.Point{X: float64(p[0]), Y: float64(p[1])}
		}
		faces = append(faces, face)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes in response", r.Len())
	}
	return faces, nil
}

// Close shuts the engine down and waits for it to exit.
func (w *LandmarkWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
