package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/andresmejia3/vigil/internal/eyestate"
	"github.com/andresmejia3/vigil/internal/monitor"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// landmarksWithEAR returns 68 points whose eyes both measure ear.
func landmarksWithEAR(ear float64) [][2]float64 {
	pts := make([][2]float64, eyestate.NumLandmarks)
	for i := range pts {
		pts[i] = [2]float64{float64(i), float64(i)}
	}
	h := 30 * ear
	for _, dx := range []float64{0, 60} {
		base := 36
		if dx > 0 {
			base = 42
		}
		pts[base+0] = [2]float64{dx, 0}
		pts[base+1] = [2]float64{dx + 10, -h / 2}
		pts[base+2] = [2]float64{dx + 20, -h / 2}
		pts[base+3] = [2]float64{dx + 30, 0}
		pts[base+4] = [2]float64{dx + 20, h / 2}
		pts[base+5] = [2]float64{dx + 10, h / 2}
	}
	return pts
}

func intPtr(i int) *int { return &i }

func jsonl(t *testing.T, frames []landmarkFrame) string {
	t.Helper()
	var b strings.Builder
	for _, f := range frames {
		line, err := json.Marshal(f)
		require.NoError(t, err)
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func newTestMonitor(t *testing.T) *monitor.Monitor {
	t.Helper()
	m, err := monitor.New(monitor.Options{Thresholds: eyestate.DefaultThresholds()}, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestRunClassify_JSON(t *testing.T) {
	// 0.25s per frame: closed from t=0.5, Drowsy at 0.75, Sleeping at 1.75 (1.25s closed)
	ears := []float64{0.30, 0.30, 0.10, 0.10, 0.10, 0.10, 0.10, 0.10, 0.30}
	var frames []landmarkFrame
	for i, ear := range ears {
		frames = append(frames, landmarkFrame{Frame: intPtr(i + 1), T: 0.25 * float64(i), Landmarks: landmarksWithEAR(ear)})
	}
	// A frame without a face holds the state
	frames = append(frames, landmarkFrame{Frame: intPtr(10), T: 2.25})

	var out bytes.Buffer
	require.NoError(t, runClassify(strings.NewReader(jsonl(t, frames)), &out, newTestMonitor(t), true))

	var got []classifiedFrame
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var c classifiedFrame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &c))
		got = append(got, c)
	}
	require.Len(t, got, 10)

	wantLabels := []string{"Active", "Active", "Active", "Drowsy", "Drowsy", "Drowsy", "Drowsy", "Sleeping", "Active", "Active"}
	for i, c := range got {
		require.Equal(t, wantLabels[i], c.Label, "frame %d", c.Frame)
	}
	require.InDelta(t, 0.30, got[0].EAR, 1e-9)
	require.Equal(t, int64(1000), got[6].ClosureMS)
	require.Equal(t, int64(1250), got[7].ClosureMS)
	require.Equal(t, 1, got[8].Blinks)
	require.Equal(t, int64(0), got[8].ClosureMS)
	require.False(t, got[9].Face)
	require.Equal(t, 1, got[9].Blinks)
}

func TestRunClassify_InvalidLandmarksReported(t *testing.T) {
	in := `{"frame": 1, "t": 0, "landmarks": [[0, 0], [1, 1]]}` + "\n"

	var out bytes.Buffer
	require.NoError(t, runClassify(strings.NewReader(in), &out, newTestMonitor(t), true))

	var c classifiedFrame
	require.NoError(t, json.Unmarshal(out.Bytes(), &c))
	require.Contains(t, c.Error, "invalid landmark")
	require.Equal(t, "Active", c.Label)
}

func TestRunClassify_Table(t *testing.T) {
	frames := []landmarkFrame{
		{Frame: intPtr(1), T: 0, Landmarks: landmarksWithEAR(0.3)},
		{Frame: intPtr(2), T: 0.5},
	}

	var out bytes.Buffer
	require.NoError(t, runClassify(strings.NewReader(jsonl(t, frames)), &out, newTestMonitor(t), false))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[0], "FRAME")
	require.Contains(t, lines[2], "0.300")
	require.Contains(t, lines[3], "-")
}

func TestRunClassify_RejectsBadInput(t *testing.T) {
	err := runClassify(strings.NewReader("not json\n"), &bytes.Buffer{}, newTestMonitor(t), false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 1")

	// Frame numbers must increase
	in := fmt.Sprintf("%s\n%s\n",
		`{"frame": 2, "t": 0}`,
		`{"frame": 1, "t": 0.1}`)
	err = runClassify(strings.NewReader(in), &bytes.Buffer{}, newTestMonitor(t), false)
	require.ErrorIs(t, err, monitor.ErrOutOfOrder)
}

func TestRunClassify_ZeroBasedFrames(t *testing.T) {
	in := `{"frame": 0, "t": 0, "landmarks": []}
{"frame": 1, "t": 0.1}
{"frame": 2, "t": 0.2}
`
	var out bytes.Buffer
	require.NoError(t, runClassify(strings.NewReader(in), &out, newTestMonitor(t), true))

	var frames []int
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var c classifiedFrame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &c))
		frames = append(frames, c.Frame)
	}
	require.Equal(t, []int{0, 1, 2}, frames)
}

func TestRunClassify_MissingFrameUsesLineNumber(t *testing.T) {
	in := `{"t": 0}
{"t": 0.1}
`
	var out bytes.Buffer
	require.NoError(t, runClassify(strings.NewReader(in), &out, newTestMonitor(t), true))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var c classifiedFrame
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &c))
	require.Equal(t, 2, c.Frame)
}
