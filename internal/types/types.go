package types

import (
	"time"

	"github.com/andresmejia3/vigil/internal/eyestate"
)

// FrameTask represents a single frame sent to a worker for processing
type FrameTask struct {
	Index     int
	Data      []byte    // JPEG bytes
	Timestamp time.Time // Capture time (camera) or stream position (file)
}

// FaceResult is one face decoded from the landmark engine's response
type FaceResult struct {
	Box       [4]int           // [left, top, right, bottom]
	Landmarks []eyestate.Point // 68 points, dlib ordering
}

// Area returns the bounding box area, used to pick the subject among several faces.
func (f FaceResult) Area() int {
	w := f.Box[2] - f.Box[0]
	h := f.Box[3] - f.Box[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}
