package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// facePayload builds an OK response with one face whose point i is (i, i+0.5).
func facePayload(box [4]int32) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(0)                               // Status OK
	binary.Write(payload, binary.BigEndian, uint32(1)) // 1 Face
	binary.Write(payload, binary.BigEndian, box)

	var pts [68][2]float32
	for i := range pts {
		pts[i] = [2]float32{float32(i), float32(i) + 0.5}
	}
	binary.Write(payload, binary.BigEndian, pts)
	return payload.Bytes()
}

func framed(payload []byte) *MockCloser {
	m := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(m, binary.BigEndian, uint32(len(payload)))
	m.Write(payload)
	return m
}

func TestProcessFrame(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := framed(facePayload([4]int32{10, 20, 110, 140}))

	w := &LandmarkWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	faces, err := w.ProcessFrame(inputFrame)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	// Verify Go sent the correct data TO Python
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if binary.BigEndian.Uint32(sentData[:4]) != uint32(len(inputFrame)) {
		t.Errorf("Length header = %d, want %d", binary.BigEndian.Uint32(sentData[:4]), len(inputFrame))
	}

	if len(faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(faces))
	}
	if faces[0].Box != [4]int{10, 20, 110, 140} {
		t.Errorf("Box = %v", faces[0].Box)
	}
	if len(faces[0].Landmarks) != 68 {
		t.Fatalf("Expected 68 landmarks, got %d", len(faces[0].Landmarks))
	}
	p := faces[0].Landmarks[36]
	if math.Abs(p.X-36) > 1e-6 || math.Abs(p.Y-36.5) > 1e-6 {
		t.Errorf("Landmark 36 = %+v, want (36, 36.5)", p)
	}
}

func TestProcessFrame_NoFaces(t *testing.T) {
	payload := new(bytes.Buffer)
	payload.WriteByte(0)
	binary.Write(payload, binary.BigEndian, uint32(0))

	w := &LandmarkWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(payload.Bytes()),
	}

	faces, err := w.ProcessFrame([]byte("frame"))
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("Expected no faces, got %d", len(faces))
	}
}

func TestProcessFrame_Error(t *testing.T) {
	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(1) // Status ERROR

	errMsg := "cannot decode image"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	w := &LandmarkWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(payload.Bytes()),
	}

	_, err := w.ProcessFrame([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("Expected *EngineError, got %T", err)
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestProcessFrame_Crash(t *testing.T) {
	// Engine died before answering: the data pipe is empty.
	w := &LandmarkWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}

	if _, err := w.ProcessFrame([]byte("frame")); err == nil {
		t.Fatal("Expected error from empty pipe")
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	full := facePayload([4]int32{0, 0, 1, 1})

	tests := []struct {
		name    string
		payload []byte
	}{
		{"Empty", nil},
		{"Unknown status", []byte{7}},
		{"Truncated count", []byte{0, 0, 0}},
		{"Truncated landmarks", full[:len(full)-3]},
		{"Trailing bytes", append(append([]byte{}, full...), 0xFF)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeResponse(tt.payload); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}
