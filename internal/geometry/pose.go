package geometry

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// PoseVector is the arm controller's Cartesian pose format: position in
// metres and fixed-axis XYZ Euler angles in radians.
type PoseVector struct {
	X  float64 `json:"x" yaml:"x"`
	Y  float64 `json:"y" yaml:"y"`
	Z  float64 `json:"z" yaml:"z"`
	RX float64 `json:"rx" yaml:"rx"`
	RY float64 `json:"ry" yaml:"ry"`
	RZ float64 `json:"rz" yaml:"rz"`
}

// Transform converts the pose vector to a rigid transform.
func (p PoseVector) Transform() Transform {
	return Transform{
		Rotation:    RotationFromEulerXYZ(p.RX, p.RY, p.RZ),
		Translation: r3.Vector{X: p.X, Y: p.Y, Z: p.Z},
	}
}

// PoseVectorFromTransform converts a transform to the arm pose format.
func PoseVectorFromTransform(t Transform) PoseVector {
	rx, ry, rz := t.Rotation.EulerXYZ()
	return PoseVector{
		X: t.Translation.X, Y: t.Translation.Y, Z: t.Translation.Z,
		RX: rx, RY: ry, RZ: rz,
	}
}

// Slice returns [x y z rx ry rz].
func (p PoseVector) Slice() []float64 {
	return []float64{p.X, p.Y, p.Z, p.RX, p.RY, p.RZ}
}

// PoseVectorFromSlice parses [x y z rx ry rz].
func PoseVectorFromSlice(v []float64) (PoseVector, error) {
	if len(v) != 6 {
		return PoseVector{}, fmt.Errorf("pose vector needs 6 values, got %d", len(v))
	}
	return PoseVector{X: v[0], Y: v[1], Z: v[2], RX: v[3], RY: v[4], RZ: v[5]}, nil
}

func (p PoseVector) String() string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f, %.4f, %.4f, %.4f)", p.X, p.Y, p.Z, p.RX, p.RY, p.RZ)
}
