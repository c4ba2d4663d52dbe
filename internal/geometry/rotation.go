package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidRotation is returned when a matrix is not a proper rotation.
var ErrInvalidRotation = errors.New("invalid rotation matrix")

// RotationTolerance bounds the orthonormality residual ‖RᵀR − I‖ and |det R − 1|
// accepted by Validate and NewTransform.
const RotationTolerance = 1e-3

// smallAngle is where the exp/log maps switch to their series expansions.
const smallAngle = 1e-8

// Rotation is a 3x3 rotation matrix stored row-major.
type Rotation [3][3]float64

// IdentityRotation returns the identity rotation.
func IdentityRotation() Rotation {
	return Rotation{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Mul returns r·o.
func (r Rotation) Mul(o Rotation) Rotation {
	var out Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r[i][0]*o[0][j] + r[i][1]*o[1][j] + r[i][2]*o[2][j]
		}
	}
	return out
}

// Transpose returns rᵀ, which is the inverse of a proper rotation.
func (r Rotation) Transpose() Rotation {
	var out Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r[j][i]
		}
	}
	return out
}

// Apply rotates v.
func (r Rotation) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: r[0][0]*v.X + r[0][1]*v.Y + r[0][2]*v.Z,
		Y: r[1][0]*v.X + r[1][1]*v.Y + r[1][2]*v.Z,
		Z: r[2][0]*v.X + r[2][1]*v.Y + r[2][2]*v.Z,
	}
}

// Col returns column j as a vector.
func (r Rotation) Col(j int) r3.Vector {
	return r3.Vector{X: r[0][j], Y: r[1][j], Z: r[2][j]}
}

// Det returns the determinant.
func (r Rotation) Det() float64 {
	return r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
}

// Trace returns the sum of the diagonal.
func (r Rotation) Trace() float64 {
	return r[0][0] + r[1][1] + r[2][2]
}

// Dense copies r into a gonum matrix.
func (r Rotation) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		r[0][0], r[0][1], r[0][2],
		r[1][0], r[1][1], r[1][2],
		r[2][0], r[2][1], r[2][2],
	})
}

// RotationFromDense copies the upper-left 3x3 block of m. No validation is done.
func RotationFromDense(m mat.Matrix) Rotation {
	var r Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m.At(i, j)
		}
	}
	return r
}

// OrthonormalityError returns ‖RᵀR − I‖_F.
func (r Rotation) OrthonormalityError() float64 {
	p := r.Transpose().Mul(r)
	var sum float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			d := p[i][j]
			if i == j {
				d -= 1
			}
			sum += d * d
		}
	}
	return math.Sqrt(sum)
}

// Validate reports ErrInvalidRotation if r is not orthonormal with
// determinant +1 within tol.
func (r Rotation) Validate(tol float64) error {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(r[i][j]) || math.IsInf(r[i][j], 0) {
				return fmt.Errorf("%w: non-finite element at (%d,%d)", ErrInvalidRotation, i, j)
			}
		}
	}
	if e := r.OrthonormalityError(); e > tol {
		return fmt.Errorf("%w: orthonormality residual %.3g exceeds %.3g", ErrInvalidRotation, e, tol)
	}
	if d := r.Det(); math.Abs(d-1) > tol {
		return fmt.Errorf("%w: determinant %.6f", ErrInvalidRotation, d)
	}
	return nil
}

// Orthonormalize returns the rotation closest to m in the Frobenius norm.
// The result is forced to have determinant +1.
func Orthonormalize(m Rotation) (Rotation, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m.Dense(), mat.SVDFull); !ok {
		return Rotation{}, fmt.Errorf("%w: svd failed", ErrInvalidRotation)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	return closestRotation(&u, &v), nil
}

// closestRotation returns U·diag(1,1,det(UVᵀ))·Vᵀ.
func closestRotation(u, v *mat.Dense) Rotation {
	var uv mat.Dense
	uv.Mul(u, v.T())
	d := mat.NewDiagDense(3, []float64{1, 1, 1})
	if mat.Det(&uv) < 0 {
		d.SetDiag(2, -1)
	}
	var ud, out mat.Dense
	ud.Mul(u, d)
	out.Mul(&ud, v.T())
	return RotationFromDense(&out)
}

// RotationFromAxisAngle builds a rotation of angle radians about axis.
// A zero axis yields the identity.
func RotationFromAxisAngle(axis r3.Vector, angle float64) Rotation {
	n := axis.Norm()
	if n == 0 || angle == 0 {
		return IdentityRotation()
	}
	return RotationFromRotVec(axis.Mul(angle / n))
}

// RotationFromRotVec is the SO(3) exponential map of a rotation vector
// (axis scaled by angle).
func RotationFromRotVec(w r3.Vector) Rotation {
	theta := w.Norm()
	var a, b float64
	if theta < smallAngle {
		a = 1 - theta*theta/6
		b = 0.5 - theta*theta/24
	} else {
		a = math.Sin(theta) / theta
		b = (1 - math.Cos(theta)) / (theta * theta)
	}
	k := skew(w)
	k2 := k.Mul(k)
	var r Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = a*k[i][j] + b*k2[i][j]
		}
		r[i][i] += 1
	}
	return r
}

// RotVec is the SO(3) logarithm: axis scaled by angle, angle in [0, π].
func (r Rotation) RotVec() r3.Vector {
	v := r.vee()
	theta := r.Angle()
	switch {
	case theta < smallAngle:
		// sin θ ≈ θ, so v/2 is already the rotation vector.
		return v.Mul(0.5)
	case math.Pi-theta < 1e-6:
		return nearPiAxis(r).Mul(theta)
	default:
		return v.Mul(theta / (2 * math.Sin(theta)))
	}
}

// nearPiAxis extracts the rotation axis from the symmetric part of r when the
// antisymmetric part vanishes (θ ≈ π).
func nearPiAxis(r Rotation) r3.Vector {
	// R + I = 2 n nᵀ at θ = π; take the best-conditioned column.
	best, bestNorm := 0, -1.0
	for j := 0; j < 3; j++ {
		c := r.Col(j)
		switch j {
		case 0:
			c.X += 1
		case 1:
			c.Y += 1
		case 2:
			c.Z += 1
		}
		if n := c.Norm(); n > bestNorm {
			best, bestNorm = j, n
		}
	}
	c := r.Col(best)
	switch best {
	case 0:
		c.X += 1
	case 1:
		c.Y += 1
	case 2:
		c.Z += 1
	}
	n := c.Normalize()
	// Fix the sign using the residual antisymmetric part, if any.
	v := r3.Vector{X: r[2][1] - r[1][2], Y: r[0][2] - r[2][0], Z: r[1][0] - r[0][1]}
	if v.Dot(n) < 0 {
		n = n.Mul(-1)
	}
	return n
}

// AxisAngle returns a unit axis and an angle in [0, π]. The identity
// returns the +Z axis with zero angle.
func (r Rotation) AxisAngle() (r3.Vector, float64) {
	w := r.RotVec()
	theta := w.Norm()
	if theta == 0 {
		return r3.Vector{Z: 1}, 0
	}
	return w.Mul(1 / theta), theta
}

// Angle returns the rotation angle in [0, π].
// The atan2 form keeps full precision near zero, where acos of the trace
// cannot resolve angles below about 1e-8 rad.
func (r Rotation) Angle() float64 {
	return math.Atan2(r.vee().Norm()/2, (r.Trace()-1)/2)
}

// vee returns the vector of the antisymmetric part R − Rᵀ, which equals
// 2·sin θ·n for axis n.
func (r Rotation) vee() r3.Vector {
	return r3.Vector{
		X: r[2][1] - r[1][2],
		Y: r[0][2] - r[2][0],
		Z: r[1][0] - r[0][1],
	}
}

// AngleBetween returns the geodesic distance between two rotations.
func AngleBetween(a, b Rotation) float64 {
	return a.Transpose().Mul(b).Angle()
}

// RotationFromEulerXYZ builds R = Rz(rz)·Ry(ry)·Rx(rx), the fixed-axis
// convention used by the arm controller's pose vectors.
func RotationFromEulerXYZ(rx, ry, rz float64) Rotation {
	cx, sx := math.Cos(rx), math.Sin(rx)
	cy, sy := math.Cos(ry), math.Sin(ry)
	cz, sz := math.Cos(rz), math.Sin(rz)
	return Rotation{
		{cz * cy, cz*sy*sx - sz*cx, cz*sy*cx + sz*sx},
		{sz * cy, sz*sy*sx + cz*cx, sz*sy*cx - cz*sx},
		{-sy, cy * sx, cy * cx},
	}
}

// EulerXYZ is the inverse of RotationFromEulerXYZ. At gimbal lock
// (|ry| = π/2) rx is set to zero and rz absorbs the remaining rotation.
func (r Rotation) EulerXYZ() (rx, ry, rz float64) {
	sy := -r[2][0]
	sy = math.Max(-1, math.Min(1, sy))
	ry = math.Asin(sy)
	if math.Abs(sy) < 1-1e-9 {
		rx = math.Atan2(r[2][1], r[2][2])
		rz = math.Atan2(r[1][0], r[0][0])
		return rx, ry, rz
	}
	return 0, ry, math.Atan2(-r[0][1], r[1][1])
}

func skew(w r3.Vector) Rotation {
	return Rotation{
		{0, -w.Z, w.Y},
		{w.Z, 0, -w.X},
		{-w.Y, w.X, 0},
	}
}
