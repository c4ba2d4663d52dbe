package config

import (
	"time"

	"github.com/banshee-data/handeye/internal/units"
)

// Detector kinds
const (
	DetectorBlob  = "blob"
	DetectorHough = "hough"
)

// Default returns a Config with every field set to its default.
func Default() *Config {
	safe := []float64{-144, -190, 100, -90, -126, -90}
	ids := []int{1, 2, 3, 4, 5, 6}
	return &Config{
		Camera: CameraConfig{
			Device:        ptrString("0"),
			Width:         ptrInt(1280),
			Height:        ptrInt(720),
			FrameInterval: ptrString("33ms"),
		},
		Board: BoardConfig{
			Cols:         ptrInt(9),
			Rows:         ptrInt(6),
			SquareSizeMM: ptrFloat64(25),
		},
		Detector: DetectorConfig{
			Kind:           ptrString(DetectorBlob),
			MinRadiusPx:    ptrFloat64(25),
			MaxRadiusPx:    ptrFloat64(40),
			MinCircularity: ptrFloat64(0.8),
			Threshold:      ptrInt(0),
			Polarity:       ptrString("dark"),
			BlurKernel:     ptrInt(7),
			BlurSigma:      ptrFloat64(7),
			HoughDP:        ptrFloat64(1.5),
			MinDistPx:      ptrFloat64(20),
			Param1:         ptrFloat64(50),
			Param2:         ptrFloat64(0.75),
		},
		Localizer: LocalizerConfig{
			TargetDiameterMM: ptrFloat64(20),
			MaxDepth:         ptrFloat64(1.5),
			FocalAxis:        ptrString("x"),
		},
		Composer: ComposerConfig{
			Orientation:  ptrString("fixed"),
			ApproachDeg:  &[3]float64{-90, -90, -90},
			ApproachAxis: &[3]float64{0, 0, 1},
			StandoffMM:   ptrFloat64(50),
		},
		Motion: MotionConfig{
			Timeout:             ptrString("30s"),
			StopTimeout:         ptrString("2s"),
			PositionToleranceMM: ptrFloat64(10),
			Acceleration:        ptrFloat64(0.2),
			Velocity:            ptrFloat64(0.05),
			SafeJointsDeg:       &safe,
			SafeAcceleration:    ptrFloat64(0.3),
			SafeVelocity:        ptrFloat64(0.08),
			SettleDelay:         ptrString("200ms"),
			PressDepthMM:        ptrFloat64(0),
			PressDwell:          ptrString("1s"),
		},
		HandEye: HandEyeConfig{
			MinRotationDeg:   ptrFloat64(2),
			MinPairs:         ptrInt(3),
			MinAxisSpreadDeg: ptrFloat64(2),
			Refine:           ptrBool(true),
			MaxBoardRMSPx:    ptrFloat64(1),
			MinViews:         ptrInt(3),
		},
		Storage: StorageConfig{
			DatabasePath: ptrString("handeye.db"),
			ImageRoot:    ptrString("handeye_images"),
			ArtifactDir:  ptrString("artifacts"),
			ImageFormat:  ptrString("jpeg"),
		},
		Devices: DevicesConfig{
			ArmURL:      ptrString("ws://192.168.10.200:3030"),
			CallTimeout: ptrString("5s"),
			ServoPort:   ptrString("/dev/ttyUSB0"),
			ServoBaud:   ptrInt(1000000),
			ServoIDs:    &ids,
		},
	}
}

var defaults = Default()

// GetDevice returns the camera device or the default.
func (c CameraConfig) GetDevice() string {
	if c.Device == nil {
		return *defaults.Camera.Device
	}
	return *c.Device
}

// GetWidth returns the requested frame width or the default.
func (c CameraConfig) GetWidth() int {
	if c.Width == nil {
		return *defaults.Camera.Width
	}
	return *c.Width
}

// GetHeight returns the requested frame height or the default.
func (c CameraConfig) GetHeight() int {
	if c.Height == nil {
		return *defaults.Camera.Height
	}
	return *c.Height
}

// GetFrameInterval returns the replay frame interval.
func (c CameraConfig) GetFrameInterval() time.Duration {
	return durationOr(c.FrameInterval, 33*time.Millisecond)
}

// GetCols returns the inner corners per row.
func (c BoardConfig) GetCols() int {
	if c.Cols == nil {
		return *defaults.Board.Cols
	}
	return *c.Cols
}

// GetRows returns the inner corners per column.
func (c BoardConfig) GetRows() int {
	if c.Rows == nil {
		return *defaults.Board.Rows
	}
	return *c.Rows
}

// GetSquareSize returns the square size in metres.
func (c BoardConfig) GetSquareSize() float64 {
	mm := *defaults.Board.SquareSizeMM
	if c.SquareSizeMM != nil {
		mm = *c.SquareSizeMM
	}
	return units.ToMetres(mm, units.MM)
}

// GetKind returns the detector kind.
func (c DetectorConfig) GetKind() string {
	if c.Kind == nil {
		return DetectorBlob
	}
	return *c.Kind
}

// GetMinRadiusPx returns the smallest accepted circle radius.
func (c DetectorConfig) GetMinRadiusPx() float64 {
	if c.MinRadiusPx == nil {
		return *defaults.Detector.MinRadiusPx
	}
	return *c.MinRadiusPx
}

// GetMaxRadiusPx returns the largest accepted circle radius.
func (c DetectorConfig) GetMaxRadiusPx() float64 {
	if c.MaxRadiusPx == nil {
		return *defaults.Detector.MaxRadiusPx
	}
	return *c.MaxRadiusPx
}

// GetMinCircularity returns the blob circularity threshold.
func (c DetectorConfig) GetMinCircularity() float64 {
	if c.MinCircularity == nil {
		return *defaults.Detector.MinCircularity
	}
	return *c.MinCircularity
}

// GetThreshold returns the grey threshold; 0 selects Otsu.
func (c DetectorConfig) GetThreshold() int {
	if c.Threshold == nil {
		return 0
	}
	return *c.Threshold
}

// GetPolarity returns dark or bright.
func (c DetectorConfig) GetPolarity() string {
	if c.Polarity == nil {
		return *defaults.Detector.Polarity
	}
	return *c.Polarity
}

// GetTargetDiameter returns the target diameter in metres.
func (c LocalizerConfig) GetTargetDiameter() float64 {
	mm := *defaults.Localizer.TargetDiameterMM
	if c.TargetDiameterMM != nil {
		mm = *c.TargetDiameterMM
	}
	return units.ToMetres(mm, units.MM)
}

// GetMaxDepth returns the farthest plausible target distance in metres.
func (c LocalizerConfig) GetMaxDepth() float64 {
	if c.MaxDepth == nil {
		return *defaults.Localizer.MaxDepth
	}
	return *c.MaxDepth
}

// GetFocalAxis returns x or y.
func (c LocalizerConfig) GetFocalAxis() string {
	if c.FocalAxis == nil {
		return *defaults.Localizer.FocalAxis
	}
	return *c.FocalAxis
}

// GetOrientation returns fixed or hold.
func (c ComposerConfig) GetOrientation() string {
	if c.Orientation == nil {
		return *defaults.Composer.Orientation
	}
	return *c.Orientation
}

// GetApproach returns the fixed approach orientation in radians.
func (c ComposerConfig) GetApproach() [3]float64 {
	deg := *defaults.Composer.ApproachDeg
	if c.ApproachDeg != nil {
		deg = *c.ApproachDeg
	}
	return [3]float64{units.DegToRad(deg[0]), units.DegToRad(deg[1]), units.DegToRad(deg[2])}
}

// GetApproachAxis returns the tool-frame approach direction.
func (c ComposerConfig) GetApproachAxis() [3]float64 {
	if c.ApproachAxis == nil {
		return *defaults.Composer.ApproachAxis
	}
	return *c.ApproachAxis
}

// GetStandoff returns the standoff in metres.
func (c ComposerConfig) GetStandoff() float64 {
	mm := *defaults.Composer.StandoffMM
	if c.StandoffMM != nil {
		mm = *c.StandoffMM
	}
	return units.ToMetres(mm, units.MM)
}

// GetTimeout returns the motion timeout.
func (c MotionConfig) GetTimeout() time.Duration {
	return durationOr(c.Timeout, 30*time.Second)
}

// GetStopTimeout returns the bound on the arm stop call.
func (c MotionConfig) GetStopTimeout() time.Duration {
	return durationOr(c.StopTimeout, 2*time.Second)
}

// GetPositionTolerance returns the post-move tolerance in metres.
func (c MotionConfig) GetPositionTolerance() float64 {
	mm := *defaults.Motion.PositionToleranceMM
	if c.PositionToleranceMM != nil {
		mm = *c.PositionToleranceMM
	}
	return units.ToMetres(mm, units.MM)
}

// GetAcceleration returns the approach acceleration in m/s².
func (c MotionConfig) GetAcceleration() float64 {
	if c.Acceleration == nil {
		return *defaults.Motion.Acceleration
	}
	return *c.Acceleration
}

// GetVelocity returns the approach velocity in m/s.
func (c MotionConfig) GetVelocity() float64 {
	if c.Velocity == nil {
		return *defaults.Motion.Velocity
	}
	return *c.Velocity
}

// GetSafeJoints returns the safe joint pose in radians, or nil when the
// return is disabled.
func (c MotionConfig) GetSafeJoints() []float64 {
	deg := *defaults.Motion.SafeJointsDeg
	if c.SafeJointsDeg != nil {
		deg = *c.SafeJointsDeg
	}
	if len(deg) == 0 {
		return nil
	}
	return units.DegreesToRadians(deg)
}

// GetSafeAcceleration returns the safe-pose joint acceleration in rad/s².
func (c MotionConfig) GetSafeAcceleration() float64 {
	if c.SafeAcceleration == nil {
		return *defaults.Motion.SafeAcceleration
	}
	return *c.SafeAcceleration
}

// GetSafeVelocity returns the safe-pose joint velocity in rad/s.
func (c MotionConfig) GetSafeVelocity() float64 {
	if c.SafeVelocity == nil {
		return *defaults.Motion.SafeVelocity
	}
	return *c.SafeVelocity
}

// GetPressDepth returns the press depth in metres; zero disables the press.
func (c MotionConfig) GetPressDepth() float64 {
	if c.PressDepthMM == nil {
		return units.ToMetres(*defaults.Motion.PressDepthMM, units.MM)
	}
	return units.ToMetres(*c.PressDepthMM, units.MM)
}

// GetPressDwell returns how long the press is held.
func (c MotionConfig) GetPressDwell() time.Duration {
	return durationOr(c.PressDwell, time.Second)
}

// GetSettleDelay returns the wait before reading the pose at capture.
func (c MotionConfig) GetSettleDelay() time.Duration {
	return durationOr(c.SettleDelay, 200*time.Millisecond)
}

// GetMinRotationDeg returns the smallest usable relative rotation.
func (c HandEyeConfig) GetMinRotationDeg() float64 {
	if c.MinRotationDeg == nil {
		return *defaults.HandEye.MinRotationDeg
	}
	return *c.MinRotationDeg
}

// GetMinPairs returns the fewest usable pairs.
func (c HandEyeConfig) GetMinPairs() int {
	if c.MinPairs == nil {
		return *defaults.HandEye.MinPairs
	}
	return *c.MinPairs
}

// GetMinAxisSpreadDeg returns the smallest accepted rotation axis spread.
func (c HandEyeConfig) GetMinAxisSpreadDeg() float64 {
	if c.MinAxisSpreadDeg == nil {
		return *defaults.HandEye.MinAxisSpreadDeg
	}
	return *c.MinAxisSpreadDeg
}

// GetRefine reports whether nonlinear refinement runs.
func (c HandEyeConfig) GetRefine() bool {
	if c.Refine == nil {
		return true
	}
	return *c.Refine
}

// GetMaxBoardRMSPx returns the board-pose reprojection limit.
func (c HandEyeConfig) GetMaxBoardRMSPx() float64 {
	if c.MaxBoardRMSPx == nil {
		return *defaults.HandEye.MaxBoardRMSPx
	}
	return *c.MaxBoardRMSPx
}

// GetMinViews returns the fewest views for intrinsic calibration.
func (c HandEyeConfig) GetMinViews() int {
	if c.MinViews == nil {
		return *defaults.HandEye.MinViews
	}
	return *c.MinViews
}

// GetDatabasePath returns the sqlite database path.
func (c StorageConfig) GetDatabasePath() string {
	if c.DatabasePath == nil {
		return *defaults.Storage.DatabasePath
	}
	return *c.DatabasePath
}

// GetImageRoot returns the capture image directory.
func (c StorageConfig) GetImageRoot() string {
	if c.ImageRoot == nil {
		return *defaults.Storage.ImageRoot
	}
	return *c.ImageRoot
}

// GetArtifactDir returns where calibration JSON files are written.
func (c StorageConfig) GetArtifactDir() string {
	if c.ArtifactDir == nil {
		return *defaults.Storage.ArtifactDir
	}
	return *c.ArtifactDir
}

// GetImageFormat returns jpeg or png.
func (c StorageConfig) GetImageFormat() string {
	if c.ImageFormat == nil {
		return *defaults.Storage.ImageFormat
	}
	return *c.ImageFormat
}

// GetArmURL returns the arm controller websocket URL.
func (c DevicesConfig) GetArmURL() string {
	if c.ArmURL == nil {
		return *defaults.Devices.ArmURL
	}
	return *c.ArmURL
}

// GetCallTimeout returns the default RPC timeout.
func (c DevicesConfig) GetCallTimeout() time.Duration {
	return durationOr(c.CallTimeout, 5*time.Second)
}

// GetServoPort returns the servo bus serial device.
func (c DevicesConfig) GetServoPort() string {
	if c.ServoPort == nil {
		return *defaults.Devices.ServoPort
	}
	return *c.ServoPort
}

// GetServoBaud returns the servo bus baud rate.
func (c DevicesConfig) GetServoBaud() int {
	if c.ServoBaud == nil {
		return *defaults.Devices.ServoBaud
	}
	return *c.ServoBaud
}

// GetServoIDs returns the servo IDs in joint order.
func (c DevicesConfig) GetServoIDs() []int {
	if c.ServoIDs == nil {
		return append([]int(nil), *defaults.Devices.ServoIDs...)
	}
	return append([]int(nil), *c.ServoIDs...)
}
