//go:build novideo

package video

import (
	"errors"
	"testing"
)

func TestCaptureUnavailable(t *testing.T) {
	if _, err := Open("clip.avi"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported from Open, got %v", err)
	}
	if _, err := FrameCount("clip.avi"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported from FrameCount, got %v", err)
	}
}
