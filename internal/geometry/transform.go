package geometry

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Transform is a rigid transform: the pose of frame B expressed in frame A.
// Applying it maps B coordinates to A coordinates.
type Transform struct {
	Rotation    Rotation  `json:"rotation"`
	Translation r3.Vector `json:"translation"`
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Rotation: IdentityRotation()}
}

// NewTransform validates r and returns the transform (r, t).
func NewTransform(r Rotation, t r3.Vector) (Transform, error) {
	if err := r.Validate(RotationTolerance); err != nil {
		return Transform{}, err
	}
	if !finite(t) {
		return Transform{}, fmt.Errorf("non-finite translation %v", t)
	}
	return Transform{Rotation: r, Translation: t}, nil
}

// MustTransform is NewTransform that panics on error. For constants and tests.
func MustTransform(r Rotation, t r3.Vector) Transform {
	tf, err := NewTransform(r, t)
	if err != nil {
		panic(err)
	}
	return tf
}

// Compose returns a∘b: apply b first, then a.
func Compose(a, b Transform) Transform {
	return Transform{
		Rotation:    a.Rotation.Mul(b.Rotation),
		Translation: a.Rotation.Apply(b.Translation).Add(a.Translation),
	}
}

// Inverse returns the exact inverse (Rᵀ, −Rᵀt).
func (t Transform) Inverse() Transform {
	rt := t.Rotation.Transpose()
	return Transform{
		Rotation:    rt,
		Translation: rt.Apply(t.Translation).Mul(-1),
	}
}

// Apply maps a point from the child frame to the parent frame.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return t.Rotation.Apply(p).Add(t.Translation)
}

// Validate checks the rotation block.
func (t Transform) Validate() error {
	if err := t.Rotation.Validate(RotationTolerance); err != nil {
		return err
	}
	if !finite(t.Translation) {
		return fmt.Errorf("non-finite translation %v", t.Translation)
	}
	return nil
}

// Near reports whether t and o differ by less than rotTol radians and
// transTol metres.
func (t Transform) Near(o Transform, rotTol, transTol float64) bool {
	return AngleBetween(t.Rotation, o.Rotation) <= rotTol &&
		t.Translation.Sub(o.Translation).Norm() <= transTol
}

// Distance returns the rotation (radians) and translation (metres) difference.
func Distance(a, b Transform) (rot, trans float64) {
	return AngleBetween(a.Rotation, b.Rotation), a.Translation.Sub(b.Translation).Norm()
}

// String formats the transform as translation and rotation vector.
func (t Transform) String() string {
	w := t.Rotation.RotVec()
	return fmt.Sprintf("t=[%.4f %.4f %.4f] r=[%.4f %.4f %.4f]",
		t.Translation.X, t.Translation.Y, t.Translation.Z, w.X, w.Y, w.Z)
}

func finite(v r3.Vector) bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
