package output

import (
	"fmt"
	"image"

	"github.com/banshee-data/lane.report/internal/lane/l4distance"
	"github.com/banshee-data/lane.report/internal/monitoring"

	"gocv.io/x/gocv"
)

// DefaultCodec is the FourCC used for annotated video.
const DefaultCodec = "mp4v"

// OutputSize is the annotated video frame size for a raw source of the
// given size: half the width and half the height.
func OutputSize(source image.Point) image.Point {
	return image.Pt(source.X/2, source.Y/2)
}

// VideoSink writes annotated frames to a video file at a fixed size.
type VideoSink struct {
	path    string
	writer  *gocv.VideoWriter
	size    image.Point
	skipped int
}

// NewVideoSink opens path for writing with codec at fps. Frames are written
// at size; annotated frames of any other size are resized first.
func NewVideoSink(path, codec string, fps float64, size image.Point) (*VideoSink, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("invalid video size %dx%d", size.X, size.Y)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid video fps %v", fps)
	}
	if codec == "" {
		codec = DefaultCodec
	}

	w, err := gocv.VideoWriterFile(path, codec, fps, size.X, size.Y, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open video writer %s: %w", path, err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("failed to open video writer %s with codec %s", path, codec)
	}
	return &VideoSink{path: path, writer: w, size: size}, nil
}

// Size returns the output frame size.
func (v *VideoSink) Size() image.Point {
	return v.size
}

// Skipped is the number of frames that had no annotated image.
func (v *VideoSink) Skipped() int {
	return v.skipped
}

// WriteFrame implements pipeline.Sink.
func (v *VideoSink) WriteFrame(sample l4distance.Sample, annotated gocv.Mat) error {
	if annotated.Empty() {
		v.skipped++
		monitoring.Logf("video %s: frame %d has no image, skipped", v.path, sample.FrameIndex)
		return nil
	}

	if annotated.Cols() == v.size.X && annotated.Rows() == v.size.Y {
		return v.writer.Write(annotated)
	}

	resized := gocv.NewMat()
	defer resized.Close()
	if err := gocv.Resize(annotated, &resized, v.size, 0, 0, gocv.InterpolationLinear); err != nil {
		return fmt.Errorf("resize frame %d: %w", sample.FrameIndex, err)
	}
	return v.writer.Write(resized)
}

// Close finalises the video file.
func (v *VideoSink) Close() error {
	return v.writer.Close()
}
