package config

import (
	"math"
	"time"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/handeye/internal/armlink"
	"github.com/banshee-data/handeye/internal/capture"
	"github.com/banshee-data/handeye/internal/compose"
	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/handeye"
	"github.com/banshee-data/handeye/internal/intrinsic"
	"github.com/banshee-data/handeye/internal/motion"
	"github.com/banshee-data/handeye/internal/servobus"
	"github.com/banshee-data/handeye/internal/target"
	"github.com/banshee-data/handeye/internal/vision"
)

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// IntrinsicBoard returns the chessboard geometry.
func (c *Config) IntrinsicBoard() intrinsic.Board {
	return intrinsic.Board{Cols: c.Board.GetCols(), Rows: c.Board.GetRows(), SquareSize: c.Board.GetSquareSize()}
}

// IntrinsicOptions returns the intrinsic calibration settings.
func (c *Config) IntrinsicOptions() intrinsic.Options {
	opts := intrinsic.DefaultOptions()
	opts.MinViews = c.HandEye.GetMinViews()
	opts.ImageWidth = c.Camera.GetWidth()
	opts.ImageHeight = c.Camera.GetHeight()
	return opts
}

// HandEyeOptions returns the hand-eye solver settings.
func (c *Config) HandEyeOptions() handeye.Options {
	return handeye.Options{
		MinRotationDeg:   c.HandEye.GetMinRotationDeg(),
		MinPairs:         c.HandEye.GetMinPairs(),
		MinAxisSpreadDeg: c.HandEye.GetMinAxisSpreadDeg(),
		Refine:           c.HandEye.GetRefine(),
	}
}

// BlobParams returns the pure-Go detector settings.
func (c *Config) BlobParams() vision.BlobParams {
	return vision.BlobParams{
		MinRadiusPx:    c.Detector.GetMinRadiusPx(),
		MaxRadiusPx:    c.Detector.GetMaxRadiusPx(),
		MinCircularity: c.Detector.GetMinCircularity(),
		Threshold:      uint8(c.Detector.GetThreshold()),
		Polarity:       vision.Polarity(c.Detector.GetPolarity()),
	}
}

// HoughParams returns the OpenCV detector settings.
func (c *Config) HoughParams() vision.HoughParams {
	d := c.Detector
	p := vision.DefaultHoughParams()
	p.BlurKernel = intOr(d.BlurKernel, p.BlurKernel)
	p.BlurSigma = floatOr(d.BlurSigma, p.BlurSigma)
	p.DP = floatOr(d.HoughDP, p.DP)
	p.MinDistPx = floatOr(d.MinDistPx, p.MinDistPx)
	p.Param1 = floatOr(d.Param1, p.Param1)
	p.Param2 = floatOr(d.Param2, p.Param2)
	p.MinRadiusPx = int(math.Floor(d.GetMinRadiusPx()))
	p.MaxRadiusPx = int(math.Ceil(d.GetMaxRadiusPx()))
	return p
}

// CameraConfig returns the capture device settings.
func (c *Config) CameraConfig() vision.CameraConfig {
	return vision.CameraConfig{Device: c.Camera.GetDevice(), Width: c.Camera.GetWidth(), Height: c.Camera.GetHeight()}
}

// TargetConfig returns the localizer settings.
func (c *Config) TargetConfig() target.Config {
	return target.Config{
		TargetDiameter: c.Localizer.GetTargetDiameter(),
		MaxDepth:       c.Localizer.GetMaxDepth(),
		FocalAxis:      target.FocalAxis(c.Localizer.GetFocalAxis()),
	}
}

// ComposeConfig returns the pose composer settings.
func (c *Config) ComposeConfig() compose.Config {
	a := c.Composer.GetApproach()
	axis := c.Composer.GetApproachAxis()
	return compose.Config{
		Mode:         compose.OrientationMode(c.Composer.GetOrientation()),
		Approach:     geometry.PoseVector{RX: a[0], RY: a[1], RZ: a[2]},
		ApproachAxis: r3.Vector{X: axis[0], Y: axis[1], Z: axis[2]}.Normalize(),
		Standoff:     c.Composer.GetStandoff(),
	}
}

// GateConfig returns the motion gate settings, including the safe joint
// pose when one is configured.
func (c *Config) GateConfig() motion.Config {
	m := c.Motion
	cfg := motion.DefaultConfig()
	cfg.MoveProfile = motion.Profile{
		Acceleration: m.GetAcceleration(),
		Velocity:     m.GetVelocity(),
		Timeout:      m.GetTimeout(),
	}
	cfg.DefaultTimeout = m.GetTimeout()
	cfg.StopTimeout = m.GetStopTimeout()
	cfg.PositionTolerance = m.GetPositionTolerance()
	cfg.Press.Depth = m.GetPressDepth()
	cfg.Press.Dwell = m.GetPressDwell()
	if joints := m.GetSafeJoints(); joints != nil {
		cfg.SafePose = motion.MoveJoints(joints, motion.Profile{
			Acceleration: m.GetSafeAcceleration(),
			Velocity:     m.GetSafeVelocity(),
			Timeout:      motion.SafeProfile.Timeout,
		})
	}
	return cfg
}

// CaptureConfig returns the capture session settings for the given
// session kind.
func (c *Config) CaptureConfig(kind string) capture.Config {
	cfg := capture.DefaultConfig()
	cfg.Root = c.Storage.GetImageRoot()
	cfg.Kind = kind
	cfg.Format = capture.Format(c.Storage.GetImageFormat())
	cfg.SettleDelay = c.Motion.GetSettleDelay()
	return cfg
}

// ArmOptions returns the arm link dial options.
func (c *Config) ArmOptions() armlink.Options {
	return armlink.Options{HandshakeTimeout: 5 * time.Second, CallTimeout: c.Devices.GetCallTimeout()}
}

// PortOptions returns the servo bus serial settings.
func (c *Config) PortOptions() servobus.PortOptions {
	return servobus.PortOptions{BaudRate: c.Devices.GetServoBaud()}
}

// ServoIDs returns the servo bus IDs in joint order.
func (c *Config) ServoIDs() []byte {
	ids := c.Devices.GetServoIDs()
	out := make([]byte, len(ids))
	for i, id := range ids {
		out[i] = byte(id)
	}
	return out
}
