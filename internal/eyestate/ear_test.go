package eyestate

import (
	"errors"
	"math"
	"testing"
)

// openEye is a plausible open-eye contour: corners 30px apart, lids ~10px apart.
var openEye = [6]Point{
	{X: 0, Y: 0},
	{X: 10, Y: -5},
	{X: 20, Y: -5},
	{X: 30, Y: 0},
	{X: 20, Y: 5},
	{X: 10, Y: 5},
}

func TestEyeAspectRatio(t *testing.T) {
	got, err := EyeAspectRatio(openEye)
	if err != nil {
		t.Fatalf("EyeAspectRatio() error = %v", err)
	}
	// (10 + 10) / (2 * 30)
	want := 20.0 / 60.0
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("EyeAspectRatio() = %v, want %v", got, want)
	}
}

func TestEyeAspectRatio_Invariance(t *testing.T) {
	base, err := EyeAspectRatio(openEye)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		scale float64
		dx    float64
		dy    float64
	}{
		{"translated", 1, 120, -47},
		{"scaled up", 3.5, 0, 0},
		{"scaled down", 0.01, 0, 0},
		{"scaled and translated", 7, 640, 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var eye [6]Point
			for i, p := range openEye {
				eye[i] = Point{X: p.X*tt.scale + tt.dx, Y: p.Y*tt.scale + tt.dy}
			}
			got, err := EyeAspectRatio(eye)
			if err != nil {
				t.Fatalf("EyeAspectRatio() error = %v", err)
			}
			if math.Abs(got-base) > 1e-9 {
				t.Errorf("EyeAspectRatio() = %v, want %v", got, base)
			}
		})
	}
}

func TestEyeAspectRatio_Invalid(t *testing.T) {
	coincident := openEye
	coincident[3] = coincident[0]

	nan := openEye
	nan[2] = Point{X: math.NaN(), Y: 1}

	inf := openEye
	inf[4] = Point{X: 1, Y: math.Inf(1)}

	tests := []struct {
		name string
		eye  [6]Point
	}{
		{"Coincident corners", coincident},
		{"NaN coordinate", nan},
		{"Infinite coordinate", inf},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EyeAspectRatio(tt.eye)
			if !errors.Is(err, ErrInvalidLandmarks) {
				t.Errorf("EyeAspectRatio() error = %v, want ErrInvalidLandmarks", err)
			}
		})
	}
}

func TestFaceEAR(t *testing.T) {
	landmarks := make([]Point, NumLandmarks)
	for i := 0; i < 6; i++ {
		landmarks[36+i] = openEye[i]
		// Right eye: same shape, squashed vertically to half the opening.
		landmarks[42+i] = Point{X: openEye[i].X + 60, Y: openEye[i].Y / 2}
	}

	got, err := FaceEAR(landmarks)
	if err != nil {
		t.Fatalf("FaceEAR() error = %v", err)
	}
	want := (20.0/60.0 + 10.0/60.0) / 2
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("FaceEAR() = %v, want %v", got, want)
	}
}

func TestFaceEAR_WrongArity(t *testing.T) {
	for _, n := range []int{0, 5, 67, 69} {
		if _, err := FaceEAR(make([]Point, n)); !errors.Is(err, ErrInvalidLandmarks) {
			t.Errorf("FaceEAR(%d points) error = %v, want ErrInvalidLandmarks", n, err)
		}
	}
}

func TestFaceEAR_DegenerateEye(t *testing.T) {
	// All points at the origin: both eyes collapse.
	_, err := FaceEAR(make([]Point, NumLandmarks))
	if !errors.Is(err, ErrInvalidLandmarks) {
		t.Errorf("FaceEAR() error = %v, want ErrInvalidLandmarks", err)
	}
}
