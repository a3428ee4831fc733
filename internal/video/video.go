// Package video turns a video file into a sequence of still frames that can
// be labeled or batch-segmented like any other image.
package video

import (
	"errors"
	"fmt"
	"image"

	"cellseg/pkg/visualization"
)

// Options select which frames are kept.
type Options struct {
	// FrameInterval keeps every n-th frame, starting with the first.
	FrameInterval int `yaml:"frameInterval"`

	// MaxFrames caps the number of kept frames; 0 means no cap.
	MaxFrames int `yaml:"maxFrames"`
}

// DefaultOptions keeps every frame up to 50.
func DefaultOptions() Options {
	return Options{FrameInterval: 1, MaxFrames: 50}
}

// Validate rejects a non-positive interval or a negative cap.
func (o Options) Validate() error {
	if o.FrameInterval < 1 {
		return fmt.Errorf("frame interval must be at least 1, got %d", o.FrameInterval)
	}
	if o.MaxFrames < 0 {
		return fmt.Errorf("max frames must not be negative, got %d", o.MaxFrames)
	}
	return nil
}

// Source yields decoded frames in order. Read returns ok=false at the end of
// the stream.
type Source interface {
	Read() (img image.Image, ok bool, err error)
	Close() error
}

// Frame is one kept frame.
type Frame struct {
	Index int // position in the source stream
	Image image.Image
}

// ErrNoFrames is returned when a source yields no frame at all.
var ErrNoFrames = errors.New("video contains no frames")

// Sample reads src and keeps frames according to o. Reading stops as soon
// as MaxFrames frames are kept.
func Sample(src Source, o Options) ([]Frame, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	var frames []Frame
	for index := 0; o.MaxFrames == 0 || len(frames) < o.MaxFrames; index++ {
		img, ok, err := src.Read()
		if err != nil {
			return frames, fmt.Errorf("frame %d: %w", index, err)
		}
		if !ok {
			break
		}
		if index%o.FrameInterval == 0 {
			frames = append(frames, Frame{Index: index, Image: img})
		}
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	return frames, nil
}

// FrameName is the file name of the i-th kept frame.
func FrameName(i int) string {
	return fmt.Sprintf("frame_%04d.png", i)
}

// SaveFrames writes frames to dir as frame_0000.png, frame_0001.png and so
// on, returning the written paths.
func SaveFrames(frames []Frame, dir string) ([]string, error) {
	images := make([]image.Image, len(frames))
	for i, f := range frames {
		images[i] = f.Image
	}
	return visualization.SaveSequence(images, dir, "frame", "png")
}

// Extract opens the video at path and returns the kept frames.
func Extract(path string, o Options) ([]Frame, error) {
	src, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return Sample(src, o)
}
