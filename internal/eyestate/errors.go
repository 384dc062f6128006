package eyestate

import "errors"

// ErrInvalidLandmarks is returned for landmark input the classifier cannot
// measure: wrong point count, coincident eye corners or non-finite values.
// A missing face is not an error and never produces it.
var ErrInvalidLandmarks = errors.New("invalid landmark input")

// ErrInvalidThresholds is returned by Thresholds.Validate.
var ErrInvalidThresholds = errors.New("invalid thresholds")
