//go:build opencv
// +build opencv

package vision

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"sync"

	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"

	"github.com/banshee-data/handeye/internal/intrinsic"
	"github.com/banshee-data/handeye/internal/pipeline"
	"github.com/banshee-data/handeye/internal/target"
)

// imageToGrayMat converts a Go image to a single-channel Mat.
func imageToGrayMat(img image.Image) (gocv.Mat, error) {
	rgb, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("convert image: %w", err)
	}
	defer rgb.Close()
	gray := gocv.NewMat()
	gocv.CvtColor(rgb, &gray, gocv.ColorRGBToGray)
	return gray, nil
}

// houghGradientAlt is OpenCV's HOUGH_GRADIENT_ALT, which gocv does not name.
// Its param2 is a perfectness ratio rather than an accumulator count.
const houghGradientAlt gocv.HoughMode = 4

// HoughDetector finds circles with OpenCV's Hough gradient transform.
type HoughDetector struct {
	params HoughParams
}

// NewHoughDetector returns a Hough circle detector.
func NewHoughDetector(p HoughParams) (*HoughDetector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &HoughDetector{params: p}, nil
}

// DetectCircles implements target.CircleDetector. Hough does not report a
// confidence, so earlier (stronger) accumulator peaks score higher.
func (d *HoughDetector) DetectCircles(img image.Image) ([]target.Circle, error) {
	gray, err := imageToGrayMat(img)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	src := gray
	if k := d.params.BlurKernel; k > 0 {
		blurred := gocv.NewMat()
		defer blurred.Close()
		gocv.GaussianBlur(gray, &blurred, image.Point{X: k, Y: k}, d.params.BlurSigma, d.params.BlurSigma, gocv.BorderDefault)
		src = blurred
	}

	circles := gocv.NewMat()
	defer circles.Close()
	gocv.HoughCirclesWithParams(src, &circles, houghGradientAlt,
		d.params.DP, d.params.MinDistPx,
		d.params.Param1, d.params.Param2,
		d.params.MinRadiusPx, d.params.MaxRadiusPx)
	if circles.Empty() || circles.Cols() == 0 {
		return nil, nil
	}

	out := make([]target.Circle, circles.Cols())
	for i := range out {
		out[i] = target.Circle{
			Center: r2.Point{
				X: float64(circles.GetFloatAt(0, i*3)),
				Y: float64(circles.GetFloatAt(0, i*3+1)),
			},
			Radius: float64(circles.GetFloatAt(0, i*3+2)),
			Score:  1 / float64(i+1),
		}
	}
	return out, nil
}

// ChessboardDetector finds chessboard corners with sub-pixel refinement.
type ChessboardDetector struct {
	// SubPixWindow is the half-size of the corner refinement window.
	SubPixWindow int
}

// NewChessboardDetector returns a detector using an 11x11 refinement window.
func NewChessboardDetector() (*ChessboardDetector, error) {
	return &ChessboardDetector{SubPixWindow: 11}, nil
}

// DetectCorners implements intrinsic.CornerDetector.
func (d *ChessboardDetector) DetectCorners(img image.Image, board intrinsic.Board) ([]r2.Point, error) {
	gray, err := imageToGrayMat(img)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	corners := gocv.NewMat()
	defer corners.Close()
	pattern := image.Point{X: board.Cols, Y: board.Rows}
	flags := gocv.CalibCBAdaptiveThresh | gocv.CalibCBNormalizeImage | gocv.CalibCBFastCheck
	if !gocv.FindChessboardCorners(gray, pattern, &corners, flags) {
		return nil, intrinsic.ErrCornersNotFound
	}
	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, 30, 0.001)
	win := image.Point{X: d.SubPixWindow, Y: d.SubPixWindow}
	gocv.CornerSubPix(gray, &corners, win, image.Point{X: -1, Y: -1}, criteria)

	if corners.Rows() != board.Corners() {
		return nil, fmt.Errorf("%w: got %d corners", intrinsic.ErrCornersNotFound, corners.Rows())
	}
	out := make([]r2.Point, corners.Rows())
	for i := range out {
		v := corners.GetVecfAt(i, 0)
		out[i] = r2.Point{X: float64(v[0]), Y: float64(v[1])}
	}
	return out, nil
}

// Camera is a frame source backed by an OpenCV VideoCapture.
type Camera struct {
	mu  sync.Mutex
	cap *gocv.VideoCapture
	buf gocv.Mat
}

// OpenCamera opens a capture device by index or path.
func OpenCamera(cfg CameraConfig) (*Camera, error) {
	var dev interface{} = cfg.Device
	if idx, err := strconv.Atoi(cfg.Device); err == nil {
		dev = idx
	}
	vc, err := gocv.OpenVideoCapture(dev)
	if err != nil {
		return nil, fmt.Errorf("open camera %q: %w", cfg.Device, err)
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	return &Camera{cap: vc, buf: gocv.NewMat()}, nil
}

// NextFrame reads one frame.
func (c *Camera) NextFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok := c.cap.Read(&c.buf); !ok || c.buf.Empty() {
		return nil, pipeline.ErrNoFrame
	}
	return c.buf.ToImage()
}

// Close releases the device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Close()
	return c.cap.Close()
}
