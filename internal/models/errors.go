package models

import "errors"

// Error taxonomy shared by the feature, training, classifier and batch layers.
// Call sites wrap these with fmt.Errorf("...: %w", err); use errors.Is to test.
var (
	// ErrConfigurationMismatch means the active feature configuration differs
	// from the one the classifier was trained under.
	ErrConfigurationMismatch = errors.New("feature configuration mismatch")

	ErrEmptyTrainingSet    = errors.New("empty training set")
	ErrInsufficientClasses = errors.New("too few classes")
	ErrUntrainedModel      = errors.New("not trained")

	// ErrDimensionMismatch is returned when a feature vector width differs from
	// the width seen at training time.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrShapeMismatch covers mask/image and feature-map/grid disagreements.
	// Nothing is ever resized implicitly.
	ErrShapeMismatch = errors.New("shape mismatch")

	ErrLengthMismatch = errors.New("vectors and labels length mismatch")
	ErrIOFailure      = errors.New("image read failure")
)
