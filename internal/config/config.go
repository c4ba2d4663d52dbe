package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/handeye/internal/fsutil"
	"github.com/banshee-data/handeye/internal/handeye"
)

// DefaultConfigPath is the path to the canonical defaults file. Every field
// it sets matches the fallback returned by the corresponding Get* method.
const DefaultConfigPath = "config/handeye.defaults.yaml"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration. Every field is optional: nil means the
// documented default, returned by the section's Get* method. The same
// structure is read from JSON or YAML.
type Config struct {
	Camera    CameraConfig    `json:"camera" yaml:"camera"`
	Board     BoardConfig     `json:"board" yaml:"board"`
	Detector  DetectorConfig  `json:"detector" yaml:"detector"`
	Localizer LocalizerConfig `json:"localizer" yaml:"localizer"`
	Composer  ComposerConfig  `json:"composer" yaml:"composer"`
	Motion    MotionConfig    `json:"motion" yaml:"motion"`
	HandEye   HandEyeConfig   `json:"handeye" yaml:"handeye"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Devices   DevicesConfig   `json:"devices" yaml:"devices"`
}

// CameraConfig selects the frame source.
type CameraConfig struct {
	Device        *string `json:"device,omitempty" yaml:"device,omitempty"`
	Width         *int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height        *int    `json:"height,omitempty" yaml:"height,omitempty"`
	FrameInterval *string `json:"frame_interval,omitempty" yaml:"frame_interval,omitempty"` // replay pacing, e.g. "33ms"
}

// BoardConfig describes the calibration chessboard.
type BoardConfig struct {
	Cols         *int     `json:"cols,omitempty" yaml:"cols,omitempty"`
	Rows         *int     `json:"rows,omitempty" yaml:"rows,omitempty"`
	SquareSizeMM *float64 `json:"square_size_mm,omitempty" yaml:"square_size_mm,omitempty"`
}

// DetectorConfig tunes the circle detector.
type DetectorConfig struct {
	Kind           *string  `json:"kind,omitempty" yaml:"kind,omitempty"` // blob or hough
	MinRadiusPx    *float64 `json:"min_radius_px,omitempty" yaml:"min_radius_px,omitempty"`
	MaxRadiusPx    *float64 `json:"max_radius_px,omitempty" yaml:"max_radius_px,omitempty"`
	MinCircularity *float64 `json:"min_circularity,omitempty" yaml:"min_circularity,omitempty"`
	Threshold      *int     `json:"threshold,omitempty" yaml:"threshold,omitempty"` // 0 selects Otsu
	Polarity       *string  `json:"polarity,omitempty" yaml:"polarity,omitempty"`

	// Hough only
	BlurKernel *int     `json:"blur_kernel,omitempty" yaml:"blur_kernel,omitempty"`
	BlurSigma  *float64 `json:"blur_sigma,omitempty" yaml:"blur_sigma,omitempty"`
	HoughDP    *float64 `json:"hough_dp,omitempty" yaml:"hough_dp,omitempty"`
	MinDistPx  *float64 `json:"min_dist_px,omitempty" yaml:"min_dist_px,omitempty"`
	Param1     *float64 `json:"param1,omitempty" yaml:"param1,omitempty"`
	Param2     *float64 `json:"param2,omitempty" yaml:"param2,omitempty"` // circle perfectness in (0, 1]
}

// LocalizerConfig tunes depth recovery.
type LocalizerConfig struct {
	TargetDiameterMM *float64 `json:"target_diameter_mm,omitempty" yaml:"target_diameter_mm,omitempty"`
	MaxDepth         *float64 `json:"max_depth,omitempty" yaml:"max_depth,omitempty"` // metres
	FocalAxis        *string  `json:"focal_axis,omitempty" yaml:"focal_axis,omitempty"`
}

// ComposerConfig sets the commanded orientation and standoff.
type ComposerConfig struct {
	Orientation  *string     `json:"orientation,omitempty" yaml:"orientation,omitempty"` // fixed or hold
	ApproachDeg  *[3]float64 `json:"approach_deg,omitempty" yaml:"approach_deg,omitempty"`
	ApproachAxis *[3]float64 `json:"approach_axis,omitempty" yaml:"approach_axis,omitempty"`
	StandoffMM   *float64    `json:"standoff_mm,omitempty" yaml:"standoff_mm,omitempty"`
}

// MotionConfig bounds arm motion.
type MotionConfig struct {
	Timeout             *string  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	StopTimeout         *string  `json:"stop_timeout,omitempty" yaml:"stop_timeout,omitempty"`
	PositionToleranceMM *float64 `json:"position_tolerance_mm,omitempty" yaml:"position_tolerance_mm,omitempty"`
	Acceleration        *float64 `json:"acceleration,omitempty" yaml:"acceleration,omitempty"`
	Velocity            *float64 `json:"velocity,omitempty" yaml:"velocity,omitempty"`
	// SafeJointsDeg is the joint pose returned to after a move. An empty
	// list disables the return.
	SafeJointsDeg    *[]float64 `json:"safe_joints_deg,omitempty" yaml:"safe_joints_deg,omitempty"`
	SafeAcceleration *float64   `json:"safe_acceleration,omitempty" yaml:"safe_acceleration,omitempty"`
	SafeVelocity     *float64   `json:"safe_velocity,omitempty" yaml:"safe_velocity,omitempty"`
	SettleDelay      *string    `json:"settle_delay,omitempty" yaml:"settle_delay,omitempty"`
	// PressDepthMM is how far past the target the tool pushes before
	// retreating. Zero disables the press.
	PressDepthMM *float64 `json:"press_depth_mm,omitempty" yaml:"press_depth_mm,omitempty"`
	PressDwell   *string  `json:"press_dwell,omitempty" yaml:"press_dwell,omitempty"`
}

// HandEyeConfig holds the calibration acceptance thresholds.
type HandEyeConfig struct {
	MinRotationDeg   *float64 `json:"min_rotation_deg,omitempty" yaml:"min_rotation_deg,omitempty"`
	MinPairs         *int     `json:"min_pairs,omitempty" yaml:"min_pairs,omitempty"`
	MinAxisSpreadDeg *float64 `json:"min_axis_spread_deg,omitempty" yaml:"min_axis_spread_deg,omitempty"`
	Refine           *bool    `json:"refine,omitempty" yaml:"refine,omitempty"`
	MaxBoardRMSPx    *float64 `json:"max_board_rms_px,omitempty" yaml:"max_board_rms_px,omitempty"`
	MinViews         *int     `json:"min_views,omitempty" yaml:"min_views,omitempty"`
}

// StorageConfig locates persisted state.
type StorageConfig struct {
	DatabasePath *string `json:"database_path,omitempty" yaml:"database_path,omitempty"`
	ImageRoot    *string `json:"image_root,omitempty" yaml:"image_root,omitempty"`
	ArtifactDir  *string `json:"artifact_dir,omitempty" yaml:"artifact_dir,omitempty"`
	ImageFormat  *string `json:"image_format,omitempty" yaml:"image_format,omitempty"` // jpeg or png
}

// DevicesConfig addresses the hardware.
type DevicesConfig struct {
	ArmURL      *string `json:"arm_url,omitempty" yaml:"arm_url,omitempty"`
	CallTimeout *string `json:"call_timeout,omitempty" yaml:"call_timeout,omitempty"`
	ServoPort   *string `json:"servo_port,omitempty" yaml:"servo_port,omitempty"`
	ServoBaud   *int    `json:"servo_baud,omitempty" yaml:"servo_baud,omitempty"`
	ServoIDs    *[]int  `json:"servo_ids,omitempty" yaml:"servo_ids,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Load reads a Config from a .json, .yaml or .yml file. Fields omitted
// from the file keep their defaults, so partial configs are safe. Unknown
// fields are rejected.
func Load(fs fsutil.FileSystem, path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	info, err := fs.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := fs.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, ext == ".json")
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document.
func Parse(data []byte, isJSON bool) (*Config, error) {
	cfg := &Config{}
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// an empty document decodes to io.EOF
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or a parent. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(fsutil.OSFileSystem{}, path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func parseDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, *v)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func positive(name string, v *float64) error {
	if v != nil && *v <= 0 {
		return fmt.Errorf("%s must be positive, got %g", name, *v)
	}
	return nil
}

func oneOf(name string, v *string, allowed ...string) error {
	if v == nil {
		return nil
	}
	for _, a := range allowed {
		if *v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", name, strings.Join(allowed, ", "), *v)
}

// Validate checks that every set value is in range.
func (c *Config) Validate() error {
	checks := []error{
		c.Camera.validate(),
		c.Board.validate(),
		c.Detector.validate(),
		c.Localizer.validate(),
		c.Composer.validate(),
		c.Motion.validate(),
		c.HandEye.validate(),
		c.Storage.validate(),
		c.Devices.validate(),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c CameraConfig) validate() error {
	if c.Width != nil && *c.Width < 0 {
		return fmt.Errorf("camera.width must be non-negative, got %d", *c.Width)
	}
	if c.Height != nil && *c.Height < 0 {
		return fmt.Errorf("camera.height must be non-negative, got %d", *c.Height)
	}
	return parseDuration("camera.frame_interval", c.FrameInterval)
}

func (c BoardConfig) validate() error {
	if c.Cols != nil && *c.Cols < 2 {
		return fmt.Errorf("board.cols must be at least 2, got %d", *c.Cols)
	}
	if c.Rows != nil && *c.Rows < 2 {
		return fmt.Errorf("board.rows must be at least 2, got %d", *c.Rows)
	}
	return positive("board.square_size_mm", c.SquareSizeMM)
}

func (c DetectorConfig) validate() error {
	if err := oneOf("detector.kind", c.Kind, DetectorBlob, DetectorHough); err != nil {
		return err
	}
	if err := oneOf("detector.polarity", c.Polarity, "dark", "bright"); err != nil {
		return err
	}
	if err := positive("detector.min_radius_px", c.MinRadiusPx); err != nil {
		return err
	}
	if err := positive("detector.max_radius_px", c.MaxRadiusPx); err != nil {
		return err
	}
	if c.GetMaxRadiusPx() < c.GetMinRadiusPx() {
		return fmt.Errorf("detector.max_radius_px %g is below min_radius_px %g", c.GetMaxRadiusPx(), c.GetMinRadiusPx())
	}
	if c.MinCircularity != nil && (*c.MinCircularity <= 0 || *c.MinCircularity > 1) {
		return fmt.Errorf("detector.min_circularity must be in (0, 1], got %g", *c.MinCircularity)
	}
	if c.Threshold != nil && (*c.Threshold < 0 || *c.Threshold > 255) {
		return fmt.Errorf("detector.threshold must be between 0 and 255, got %d", *c.Threshold)
	}
	if c.BlurKernel != nil && *c.BlurKernel != 0 && *c.BlurKernel%2 == 0 {
		return fmt.Errorf("detector.blur_kernel must be odd or 0, got %d", *c.BlurKernel)
	}
	if c.Param2 != nil && (*c.Param2 <= 0 || *c.Param2 > 1) {
		return fmt.Errorf("detector.param2 must be in (0, 1], got %g", *c.Param2)
	}
	return positive("detector.hough_dp", c.HoughDP)
}

func (c LocalizerConfig) validate() error {
	if err := positive("localizer.target_diameter_mm", c.TargetDiameterMM); err != nil {
		return err
	}
	if err := positive("localizer.max_depth", c.MaxDepth); err != nil {
		return err
	}
	return oneOf("localizer.focal_axis", c.FocalAxis, "x", "y")
}

func (c ComposerConfig) validate() error {
	if err := oneOf("composer.orientation", c.Orientation, "fixed", "hold"); err != nil {
		return err
	}
	if c.ApproachAxis != nil && *c.ApproachAxis == [3]float64{} {
		return fmt.Errorf("composer.approach_axis must be non-zero")
	}
	if c.StandoffMM != nil && *c.StandoffMM < 0 {
		return fmt.Errorf("composer.standoff_mm must be non-negative, got %g", *c.StandoffMM)
	}
	return nil
}

func (c MotionConfig) validate() error {
	for name, v := range map[string]*string{
		"motion.timeout":      c.Timeout,
		"motion.stop_timeout": c.StopTimeout,
		"motion.settle_delay": c.SettleDelay,
		"motion.press_dwell":  c.PressDwell,
	} {
		if err := parseDuration(name, v); err != nil {
			return err
		}
	}
	if c.Timeout != nil && c.GetTimeout() == 0 {
		return fmt.Errorf("motion.timeout must be positive")
	}
	if c.PositionToleranceMM != nil && *c.PositionToleranceMM < 0 {
		return fmt.Errorf("motion.position_tolerance_mm must be non-negative, got %g", *c.PositionToleranceMM)
	}
	if c.PressDepthMM != nil && *c.PressDepthMM < 0 {
		return fmt.Errorf("motion.press_depth_mm must be non-negative, got %g", *c.PressDepthMM)
	}
	for name, v := range map[string]*float64{
		"motion.acceleration":      c.Acceleration,
		"motion.velocity":          c.Velocity,
		"motion.safe_acceleration": c.SafeAcceleration,
		"motion.safe_velocity":     c.SafeVelocity,
	} {
		if err := positive(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (c HandEyeConfig) validate() error {
	if c.MinRotationDeg != nil && *c.MinRotationDeg < 0 {
		return fmt.Errorf("handeye.min_rotation_deg must be non-negative, got %g", *c.MinRotationDeg)
	}
	if c.MinPairs != nil && *c.MinPairs < handeye.DefaultMinPairs {
		return fmt.Errorf("handeye.min_pairs must be at least %d, got %d", handeye.DefaultMinPairs, *c.MinPairs)
	}
	if c.MinViews != nil && *c.MinViews < 3 {
		return fmt.Errorf("handeye.min_views must be at least 3, got %d", *c.MinViews)
	}
	if c.MaxBoardRMSPx != nil && *c.MaxBoardRMSPx < 0 {
		return fmt.Errorf("handeye.max_board_rms_px must be non-negative, got %g", *c.MaxBoardRMSPx)
	}
	return nil
}

func (c StorageConfig) validate() error {
	return oneOf("storage.image_format", c.ImageFormat, "jpeg", "png")
}

func (c DevicesConfig) validate() error {
	if c.ArmURL != nil && *c.ArmURL != "" &&
		!strings.HasPrefix(*c.ArmURL, "ws://") && !strings.HasPrefix(*c.ArmURL, "wss://") {
		return fmt.Errorf("devices.arm_url must be a ws:// or wss:// URL, got %q", *c.ArmURL)
	}
	if err := parseDuration("devices.call_timeout", c.CallTimeout); err != nil {
		return err
	}
	if c.ServoBaud != nil && *c.ServoBaud <= 0 {
		return fmt.Errorf("devices.servo_baud must be positive, got %d", *c.ServoBaud)
	}
	if c.ServoIDs != nil {
		for _, id := range *c.ServoIDs {
			if id < 0 || id > 252 {
				return fmt.Errorf("devices.servo_ids: %d is outside 0..252", id)
			}
		}
	}
	return nil
}
