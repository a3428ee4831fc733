//go:build novideo

package video

import "errors"

// ErrUnsupported is returned by Open in builds without OpenCV.
var ErrUnsupported = errors.New("video support not compiled in")

// Open always fails in builds without OpenCV.
func Open(path string) (Source, error) {
	return nil, ErrUnsupported
}

// FrameCount always fails in builds without OpenCV.
func FrameCount(path string) (int, error) {
	return 0, ErrUnsupported
}
