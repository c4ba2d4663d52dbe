//go:build !opencv
// +build !opencv

package vision

import (
	"context"
	"image"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/handeye/internal/intrinsic"
	"github.com/banshee-data/handeye/internal/target"
)

// HoughDetector is unavailable without OpenCV.
type HoughDetector struct{}

// NewHoughDetector is a stub when OpenCV support is disabled.
// Build with -tags=opencv to enable Hough circle detection.
func NewHoughDetector(HoughParams) (*HoughDetector, error) {
	return nil, ErrOpenCVUnavailable
}

// DetectCircles always fails in stub builds.
func (*HoughDetector) DetectCircles(image.Image) ([]target.Circle, error) {
	return nil, ErrOpenCVUnavailable
}

// ChessboardDetector is unavailable without OpenCV.
type ChessboardDetector struct{}

// NewChessboardDetector is a stub when OpenCV support is disabled.
func NewChessboardDetector() (*ChessboardDetector, error) {
	return nil, ErrOpenCVUnavailable
}

// DetectCorners always fails in stub builds.
func (*ChessboardDetector) DetectCorners(image.Image, intrinsic.Board) ([]r2.Point, error) {
	return nil, ErrOpenCVUnavailable
}

// Camera is unavailable without OpenCV.
type Camera struct{}

// OpenCamera is a stub when OpenCV support is disabled.
func OpenCamera(CameraConfig) (*Camera, error) {
	return nil, ErrOpenCVUnavailable
}

// NextFrame always fails in stub builds.
func (*Camera) NextFrame(context.Context) (image.Image, error) {
	return nil, ErrOpenCVUnavailable
}

// Close is a no-op.
func (*Camera) Close() error { return nil }
