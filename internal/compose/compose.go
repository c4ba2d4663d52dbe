// Package compose turns a camera-frame target position into the base-frame
// pose the end-effector should move to.
package compose

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/target"
)

// ErrNoTargetPose is returned when there is no detection to compose. It is
// routine and should not be logged as an error.
var ErrNoTargetPose = errors.New("no target pose")

// OrientationMode selects the orientation of the commanded pose.
type OrientationMode string

const (
	// OrientationFixed uses a configured approach orientation in the base frame.
	OrientationFixed OrientationMode = "fixed"
	// OrientationHold keeps the end-effector's current orientation.
	OrientationHold OrientationMode = "hold"
)

// Config holds the composer settings.
type Config struct {
	Mode OrientationMode
	// Approach is the fixed orientation as XYZ Euler angles (radians), used
	// in OrientationFixed mode.
	Approach geometry.PoseVector
	// ApproachAxis is the tool-frame direction that points at the target.
	ApproachAxis r3.Vector
	// Standoff is the distance in metres kept back from the target along the
	// approach axis.
	Standoff float64
}

// DefaultConfig points the tool at the target from 5cm away with the fixed
// orientation used for button pressing.
func DefaultConfig() Config {
	return Config{
		Mode:         OrientationFixed,
		Approach:     geometry.PoseVector{RX: -math.Pi / 2, RY: -math.Pi / 2, RZ: -math.Pi / 2},
		ApproachAxis: r3.Vector{Z: 1},
		Standoff:     0.05,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Mode {
	case OrientationFixed, OrientationHold:
	default:
		return fmt.Errorf("unknown orientation mode %q", c.Mode)
	}
	if c.ApproachAxis.Norm() < 1e-9 {
		return errors.New("approach axis must be non-zero")
	}
	if c.Standoff < 0 {
		return fmt.Errorf("standoff must be non-negative, got %g", c.Standoff)
	}
	return nil
}

// TargetPose is the base-frame pose handed to the motion gate.
type TargetPose struct {
	Pose        geometry.Transform `json:"pose"`
	PointInBase r3.Vector          `json:"point_in_base"`
	Standoff    float64            `json:"standoff"`
	// Approach is the unit base-frame direction from Pose towards the target.
	Approach r3.Vector `json:"approach"`
}

// Composer chains the live end-effector pose, the hand-eye extrinsic and a
// camera-frame point.
type Composer struct {
	cameraInEEF geometry.Transform
	cfg         Config
	fixed       geometry.Rotation
	axis        r3.Vector
}

// NewComposer returns a Composer for the given extrinsic.
func NewComposer(cameraInEEF geometry.Transform, cfg Config) (*Composer, error) {
	if err := cameraInEEF.Validate(); err != nil {
		return nil, fmt.Errorf("extrinsic: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Composer{
		cameraInEEF: cameraInEEF,
		cfg:         cfg,
		fixed:       geometry.RotationFromEulerXYZ(cfg.Approach.RX, cfg.Approach.RY, cfg.Approach.RZ),
		axis:        cfg.ApproachAxis.Normalize(),
	}, nil
}

// PointInBase maps a camera-frame point through EEF ∘ X.
func (c *Composer) PointInBase(eefInBase geometry.Transform, pCam r3.Vector) r3.Vector {
	return geometry.Compose(eefInBase, c.cameraInEEF).Apply(pCam)
}

// Compose builds the target pose for a localization taken at eefInBase.
// The pose sits Standoff short of the target along the approach axis of the
// commanded orientation.
func (c *Composer) Compose(loc target.Localization, eefInBase geometry.Transform) (TargetPose, error) {
	if !loc.Found {
		return TargetPose{}, ErrNoTargetPose
	}
	p := c.PointInBase(eefInBase, loc.PointInCamera)

	rot := c.fixed
	if c.cfg.Mode == OrientationHold {
		rot = eefInBase.Rotation
	}
	approach := rot.Apply(c.axis)
	return TargetPose{
		Pose: geometry.Transform{
			Rotation:    rot,
			Translation: p.Sub(approach.Mul(c.cfg.Standoff)),
		},
		PointInBase: p,
		Standoff:    c.cfg.Standoff,
		Approach:    approach,
	}, nil
}
