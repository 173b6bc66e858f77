package l1frames

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Source yields frames sequentially. Read returns false at end of stream or
// on a read failure; both end the run without error.
type Source interface {
	// Read decodes the next frame into dst.
	Read(dst *gocv.Mat) bool

	// PositionSeconds is the playback position reported after the last Read.
	PositionSeconds() float64

	// FPS is the nominal frame rate of the source.
	FPS() float64

	// FrameSize is the raw frame size as (width, height).
	FrameSize() image.Point

	// Close releases the underlying handle.
	Close() error
}

// VideoSource reads frames from a video file through OpenCV.
type VideoSource struct {
	path    string
	capture *gocv.VideoCapture
}

// OpenVideo opens the video at path. An unopenable source is an error.
func OpenVideo(path string) (*VideoSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		capture.Close()
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("failed to open video %s", path)
	}
	return &VideoSource{path: path, capture: capture}, nil
}

// Read implements Source.
func (v *VideoSource) Read(dst *gocv.Mat) bool {
	if ok := v.capture.Read(dst); !ok {
		return false
	}
	return !dst.Empty()
}

// PositionSeconds implements Source.
func (v *VideoSource) PositionSeconds() float64 {
	return v.capture.Get(gocv.VideoCapturePosMsec) / 1000
}

// FPS implements Source.
func (v *VideoSource) FPS() float64 {
	return v.capture.Get(gocv.VideoCaptureFPS)
}

// FrameSize implements Source.
func (v *VideoSource) FrameSize() image.Point {
	return image.Pt(
		int(v.capture.Get(gocv.VideoCaptureFrameWidth)),
		int(v.capture.Get(gocv.VideoCaptureFrameHeight)),
	)
}

// Path returns the file the source was opened from.
func (v *VideoSource) Path() string {
	return v.path
}

// Close implements Source.
func (v *VideoSource) Close() error {
	return v.capture.Close()
}

func (v *VideoSource) String() string {
	size := v.FrameSize()
	return fmt.Sprintf("%s (%dx%d @ %.2f fps)", v.path, size.X, size.Y, v.FPS())
}
