package vision

import (
	"errors"
	"fmt"

	"github.com/banshee-data/handeye/internal/intrinsic"
	"github.com/banshee-data/handeye/internal/target"
)

// ErrOpenCVUnavailable is returned by the OpenCV constructors in builds
// without -tags=opencv.
var ErrOpenCVUnavailable = errors.New("OpenCV support not enabled: rebuild with -tags=opencv")

// HoughParams configures the OpenCV Hough circle detector.
type HoughParams struct {
	BlurKernel  int     // odd Gaussian kernel size, 0 disables blurring
	BlurSigma   float64 // Gaussian sigma
	DP          float64 // inverse accumulator resolution
	MinDistPx   float64 // minimum distance between centres
	Param1      float64 // Canny upper threshold
	Param2      float64 // minimum circle perfectness in (0, 1]
	MinRadiusPx int
	MaxRadiusPx int
}

// DefaultHoughParams are tuned for a 20mm button at 10-30cm.
func DefaultHoughParams() HoughParams {
	return HoughParams{
		BlurKernel:  7,
		BlurSigma:   7,
		DP:          1.5,
		MinDistPx:   20,
		Param1:      50,
		Param2:      0.75,
		MinRadiusPx: 25,
		MaxRadiusPx: 40,
	}
}

// Validate reports parameters the gradient-alt Hough transform rejects.
func (p HoughParams) Validate() error {
	if p.MinRadiusPx <= 0 || p.MaxRadiusPx < p.MinRadiusPx {
		return fmt.Errorf("invalid radius range [%d, %d]", p.MinRadiusPx, p.MaxRadiusPx)
	}
	if p.DP <= 0 || p.MinDistPx <= 0 || p.Param1 <= 0 {
		return errors.New("dp, min distance and param1 must be positive")
	}
	if p.Param2 <= 0 || p.Param2 > 1 {
		return fmt.Errorf("param2 must be in (0, 1], got %g", p.Param2)
	}
	if p.BlurKernel < 0 || (p.BlurKernel != 0 && p.BlurKernel%2 == 0) {
		return fmt.Errorf("blur kernel must be odd or 0, got %d", p.BlurKernel)
	}
	return nil
}

// CameraConfig selects and sizes the capture device.
type CameraConfig struct {
	Device string // device index ("0") or path/URL
	Width  int
	Height int
}

var (
	_ target.CircleDetector    = (*BlobDetector)(nil)
	_ intrinsic.CornerDetector = (*ChessboardDetector)(nil)
	_ target.CircleDetector    = (*HoughDetector)(nil)
)
