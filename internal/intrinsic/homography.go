package intrinsic

import (
	"errors"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/handeye/internal/geometry"
)

var errDegenerateHomography = errors.New("degenerate point configuration for homography")

// normalization returns the similarity that moves the centroid of pts to the
// origin with mean distance √2.
func normalization(pts []r2.Point) *mat.Dense {
	var c r2.Point
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))
	var mean float64
	for _, p := range pts {
		mean += p.Sub(c).Norm()
	}
	mean /= float64(len(pts))
	s := 1.0
	if mean > 0 {
		s = math.Sqrt2 / mean
	}
	return mat.NewDense(3, 3, []float64{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	})
}

func applyHomogeneous(t mat.Matrix, p r2.Point) r2.Point {
	x := t.At(0, 0)*p.X + t.At(0, 1)*p.Y + t.At(0, 2)
	y := t.At(1, 0)*p.X + t.At(1, 1)*p.Y + t.At(1, 2)
	w := t.At(2, 0)*p.X + t.At(2, 1)*p.Y + t.At(2, 2)
	return r2.Point{X: x / w, Y: y / w}
}

// findHomography estimates H with dst ~ H·src by the normalized DLT.
func findHomography(src, dst []r2.Point) (*mat.Dense, error) {
	n := len(src)
	if n < 4 || len(dst) != n {
		return nil, errDegenerateHomography
	}
	ts, td := normalization(src), normalization(dst)
	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		s := applyHomogeneous(ts, src[i])
		d := applyHomogeneous(td, dst[i])
		a.SetRow(2*i, []float64{-s.X, -s.Y, -1, 0, 0, 0, d.X * s.X, d.X * s.Y, d.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, -s.X, -s.Y, -1, d.Y * s.X, d.Y * s.Y, d.Y})
	}
	h, err := nullVector(a)
	if err != nil {
		return nil, err
	}
	hn := mat.NewDense(3, 3, h)

	var tdInv mat.Dense
	if err := tdInv.Inverse(td); err != nil {
		return nil, errDegenerateHomography
	}
	var tmp, out mat.Dense
	tmp.Mul(&tdInv, hn)
	out.Mul(&tmp, ts)
	if w := out.At(2, 2); math.Abs(w) > 1e-12 {
		out.Scale(1/w, &out)
	}
	return &out, nil
}

// nullVector returns the right singular vector of a with the smallest
// singular value.
func nullVector(a *mat.Dense) ([]float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, errDegenerateHomography
	}
	var v mat.Dense
	svd.VTo(&v)
	_, c := v.Dims()
	return mat.Col(nil, c-1, &v), nil
}

// poseFromHomography decomposes H = λ·K·[r1 r2 t] into the board pose in
// the camera frame. kInv is K⁻¹; pass the identity for normalized
// coordinates.
func poseFromHomography(kInv mat.Matrix, h mat.Matrix) (geometry.Transform, error) {
	var a mat.Dense
	a.Mul(kInv, h)
	col := func(j int) r3.Vector {
		return r3.Vector{X: a.At(0, j), Y: a.At(1, j), Z: a.At(2, j)}
	}
	a1, a2, a3 := col(0), col(1), col(2)
	n1 := a1.Norm()
	if n1 == 0 {
		return geometry.Transform{}, errDegenerateHomography
	}
	lambda := 2 / (n1 + a2.Norm())
	if a3.Z < 0 {
		lambda = -lambda
	}
	r1, r2v, t := a1.Mul(lambda), a2.Mul(lambda), a3.Mul(lambda)
	r3v := r1.Cross(r2v)
	raw := geometry.Rotation{
		{r1.X, r2v.X, r3v.X},
		{r1.Y, r2v.Y, r3v.Y},
		{r1.Z, r2v.Z, r3v.Z},
	}
	rot, err := geometry.Orthonormalize(raw)
	if err != nil {
		return geometry.Transform{}, err
	}
	return geometry.Transform{Rotation: rot, Translation: t}, nil
}
