package motion

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/handeye/internal/geometry"
)

// Arm is the controller interface the gate drives. Move blocks until the
// motion completes, fails, or ctx is cancelled.
type Arm interface {
	CurrentPose(ctx context.Context) (geometry.Transform, error)
	Move(ctx context.Context, cmd Command) error
	Stop(ctx context.Context) error
}

// CommandKind distinguishes Cartesian from joint-space moves.
type CommandKind string

const (
	// Cartesian moves the tool to a base-frame pose.
	Cartesian CommandKind = "cartesian"
	// Joint moves to absolute joint angles in radians.
	Joint CommandKind = "joint"
)

// Profile bounds a motion.
type Profile struct {
	Acceleration float64       `json:"acceleration"` // m/s² or rad/s²
	Velocity     float64       `json:"velocity"`     // m/s or rad/s
	Timeout      time.Duration `json:"timeout"`
}

// Default profiles for each phase of a press.
var (
	ApproachProfile = Profile{Acceleration: 0.2, Velocity: 0.05, Timeout: 30 * time.Second}
	PressProfile    = Profile{Acceleration: 0.1, Velocity: 0.02, Timeout: 20 * time.Second}
	RetreatProfile  = Profile{Acceleration: 0.2, Velocity: 0.05, Timeout: 30 * time.Second}
	SafeProfile     = Profile{Acceleration: 0.3, Velocity: 0.08, Timeout: 45 * time.Second}
)

// Command is a single move.
type Command struct {
	Kind    CommandKind        `json:"kind"`
	Pose    geometry.Transform `json:"pose,omitempty"`
	Joints  []float64          `json:"joints,omitempty"`
	Profile Profile            `json:"profile"`
}

// MoveTo returns a Cartesian command.
func MoveTo(pose geometry.Transform, p Profile) Command {
	return Command{Kind: Cartesian, Pose: pose, Profile: p}
}

// MoveJoints returns a joint-space command.
func MoveJoints(joints []float64, p Profile) Command {
	return Command{Kind: Joint, Joints: append([]float64(nil), joints...), Profile: p}
}

// Validate checks the command is well-formed.
func (c Command) Validate() error {
	switch c.Kind {
	case Cartesian:
		return c.Pose.Validate()
	case Joint:
		if len(c.Joints) == 0 {
			return fmt.Errorf("joint command has no joints")
		}
		return nil
	default:
		return fmt.Errorf("unknown command kind %q", c.Kind)
	}
}

func (c Command) String() string {
	if c.Kind == Joint {
		return fmt.Sprintf("movej %v", c.Joints)
	}
	return fmt.Sprintf("movel %v", geometry.PoseVectorFromTransform(c.Pose))
}
