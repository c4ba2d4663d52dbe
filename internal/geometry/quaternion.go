package geometry

import (
	"math"

	"github.com/golang/geo/r3"
)

// Quaternion is a unit quaternion W + Xi + Yj + Zk.
type Quaternion struct {
	W, X, Y, Z float64
}

// Norm returns the quaternion magnitude.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize returns q scaled to unit length with a non-negative scalar part.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 {
		return Quaternion{W: 1}
	}
	if q.W < 0 {
		n = -n
	}
	return Quaternion{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// Mul returns the Hamilton product q·o.
func (q Quaternion) Mul(o Quaternion) Quaternion {
	return Quaternion{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

// Vector returns the imaginary part.
func (q Quaternion) Vector() r3.Vector {
	return r3.Vector{X: q.X, Y: q.Y, Z: q.Z}
}

// RotationFromQuaternion converts a quaternion (normalized first) to a rotation matrix.
func RotationFromQuaternion(q Quaternion) Rotation {
	q = q.Normalize()
	w, x, y, z := q.W, q.X, q.Y, q.Z
	return Rotation{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

// Quaternion converts r to a unit quaternion with W >= 0 (Shepperd's method).
func (r Rotation) Quaternion() Quaternion {
	tr := r.Trace()
	var q Quaternion
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = Quaternion{
			W: s / 4,
			X: (r[2][1] - r[1][2]) / s,
			Y: (r[0][2] - r[2][0]) / s,
			Z: (r[1][0] - r[0][1]) / s,
		}
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := math.Sqrt(1+r[0][0]-r[1][1]-r[2][2]) * 2
		q = Quaternion{
			W: (r[2][1] - r[1][2]) / s,
			X: s / 4,
			Y: (r[0][1] + r[1][0]) / s,
			Z: (r[0][2] + r[2][0]) / s,
		}
	case r[1][1] > r[2][2]:
		s := math.Sqrt(1+r[1][1]-r[0][0]-r[2][2]) * 2
		q = Quaternion{
			W: (r[0][2] - r[2][0]) / s,
			X: (r[0][1] + r[1][0]) / s,
			Y: s / 4,
			Z: (r[1][2] + r[2][1]) / s,
		}
	default:
		s := math.Sqrt(1+r[2][2]-r[0][0]-r[1][1]) * 2
		q = Quaternion{
			W: (r[1][0] - r[0][1]) / s,
			X: (r[0][2] + r[2][0]) / s,
			Y: (r[1][2] + r[2][1]) / s,
			Z: s / 4,
		}
	}
	return q.Normalize()
}
