package eyestate

import (
	"fmt"
	"math"
)

// NumLandmarks is the size of the 68-point landmark scheme the engine produces.
const NumLandmarks = 68

// Eye contour ranges within the 68-point scheme. These indices are a contract
// with the landmark engine and must not drift.
const (
	leftEyeStart  = 36
	rightEyeStart = 42
	eyePoints     = 6
)

// minCornerDist guards the EAR denominator. Corner points closer than this are
// treated as coincident.
const minCornerDist = 1e-9

// Point is a 2D image coordinate.
type Point struct {
	X float64
	Y float64
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func finite(p Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// EyeAspectRatio computes (|p1-p5| + |p2-p4|) / (2|p0-p3|) for one eye contour.
// p0 and p3 are the horizontal corners, the others are vertical lid pairs.
func EyeAspectRatio(eye [eyePoints]Point) (float64, error) {
	for i, p := range eye {
		if !finite(p) {
			return 0, fmt.Errorf("%w: eye point %d is not finite", ErrInvalidLandmarks, i)
		}
	}

	a := dist(eye[1], eye[5])
	b := dist(eye[2], eye[4])
	c := dist(eye[0], eye[3])
	if c < minCornerDist {
		return 0, fmt.Errorf("%w: eye corners coincide", ErrInvalidLandmarks)
	}
	return (a + b) / (2.0 * c), nil
}

// Eyes splits a 68-point landmark set into its left and right eye contours.
func Eyes(landmarks []Point) (left, right [eyePoints]Point, err error) {
	if len(landmarks) != NumLandmarks {
		return left, right, fmt.Errorf("%w: expected %d landmarks, got %d", ErrInvalidLandmarks, NumLandmarks, len(landmarks))
	}
	copy(left[:], landmarks[leftEyeStart:leftEyeStart+eyePoints])
	copy(right[:], landmarks[rightEyeStart:rightEyeStart+eyePoints])
	return left, right, nil
}

// FaceEAR returns the mean eye aspect ratio of both eyes.
func FaceEAR(landmarks []Point) (float64, error) {
	left, right, err := Eyes(landmarks)
	if err != nil {
		return 0, err
	}
	l, err := EyeAspectRatio(left)
	if err != nil {
		return 0, fmt.Errorf("left eye: %w", err)
	}
	r, err := EyeAspectRatio(right)
	if err != nil {
		return 0, fmt.Errorf("right eye: %w", err)
	}
	return (l + r) / 2.0, nil
}
