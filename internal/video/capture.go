//go:build !novideo

package video

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// capture reads frames through OpenCV.
type capture struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

// Open opens a video file for reading.
func Open(path string) (Source, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("failed to open video %s", path)
	}
	return &capture{vc: vc, mat: gocv.NewMat()}, nil
}

func (c *capture) Read() (image.Image, bool, error) {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, false, nil
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, false, err
	}
	return img, true, nil
}

func (c *capture) Close() error {
	c.mat.Close()
	return c.vc.Close()
}

// FrameCount reports the number of frames the container declares, which
// may be approximate.
func FrameCount(path string) (int, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return 0, err
	}
	defer vc.Close()
	return int(vc.Get(gocv.VideoCaptureFrameCount)), nil
}
