// Package intrinsic estimates pinhole camera intrinsics and lens distortion
// from planar chessboard observations, and uses the resulting model to
// project, undistort and back-project pixels.
package intrinsic

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Distortion holds the Brown-Conrady coefficients in OpenCV order.
type Distortion struct {
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	P1 float64 `json:"p1"`
	P2 float64 `json:"p2"`
	K3 float64 `json:"k3"`
}

// Coefficients returns [k1 k2 p1 p2 k3].
func (d Distortion) Coefficients() [5]float64 {
	return [5]float64{d.K1, d.K2, d.P1, d.P2, d.K3}
}

// IsZero reports whether the model has no distortion.
func (d Distortion) IsZero() bool {
	return d == Distortion{}
}

// Model is a pinhole camera with zero skew plus lens distortion.
// Once produced by calibration it is treated as read-only.
type Model struct {
	FX         float64    `json:"fx"`
	FY         float64    `json:"fy"`
	CX         float64    `json:"cx"`
	CY         float64    `json:"cy"`
	Distortion Distortion `json:"distortion"`
	Width      int        `json:"width,omitempty"`
	Height     int        `json:"height,omitempty"`
}

// CameraMatrix returns K.
func (m Model) CameraMatrix() [3][3]float64 {
	return [3][3]float64{
		{m.FX, 0, m.CX},
		{0, m.FY, m.CY},
		{0, 0, 1},
	}
}

// Validate checks that focal lengths are positive and finite.
func (m Model) Validate() error {
	for _, v := range []float64{m.FX, m.FY, m.CX, m.CY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("camera matrix has non-finite entries")
		}
	}
	if m.FX <= 0 || m.FY <= 0 {
		return fmt.Errorf("focal lengths must be positive, got fx=%g fy=%g", m.FX, m.FY)
	}
	return nil
}

// distort applies the lens model to normalized image coordinates.
func (d Distortion) distort(x, y float64) (float64, float64) {
	rsq := x*x + y*y
	radial := 1 + d.K1*rsq + d.K2*rsq*rsq + d.K3*rsq*rsq*rsq
	xd := x*radial + 2*d.P1*x*y + d.P2*(rsq+2*x*x)
	yd := y*radial + d.P1*(rsq+2*y*y) + 2*d.P2*x*y
	return xd, yd
}

// undistortIterations bounds the fixed-point inversion of the lens model.
const undistortIterations = 20

// undistort inverts distort by fixed-point iteration.
func (d Distortion) undistort(xd, yd float64) (float64, float64) {
	if d.IsZero() {
		return xd, yd
	}
	x, y := xd, yd
	for i := 0; i < undistortIterations; i++ {
		rsq := x*x + y*y
		radial := 1 + d.K1*rsq + d.K2*rsq*rsq + d.K3*rsq*rsq*rsq
		if radial <= 0 {
			break
		}
		dx := 2*d.P1*x*y + d.P2*(rsq+2*x*x)
		dy := d.P1*(rsq+2*y*y) + 2*d.P2*x*y
		nx := (xd - dx) / radial
		ny := (yd - dy) / radial
		done := math.Abs(nx-x) < 1e-12 && math.Abs(ny-y) < 1e-12
		x, y = nx, ny
		if done {
			break
		}
	}
	return x, y
}

// Project maps a point in camera coordinates to a distorted pixel.
// Points at or behind the camera plane produce NaN.
func (m Model) Project(p r3.Vector) r2.Point {
	if p.Z <= 0 {
		return r2.Point{X: math.NaN(), Y: math.NaN()}
	}
	xd, yd := m.Distortion.distort(p.X/p.Z, p.Y/p.Z)
	return r2.Point{X: m.FX*xd + m.CX, Y: m.FY*yd + m.CY}
}

// Normalize maps a distorted pixel to undistorted normalized coordinates
// (the ray direction at z = 1).
func (m Model) Normalize(px r2.Point) r2.Point {
	xd := (px.X - m.CX) / m.FX
	yd := (px.Y - m.CY) / m.FY
	x, y := m.Distortion.undistort(xd, yd)
	return r2.Point{X: x, Y: y}
}

// Undistort maps a distorted pixel to where an ideal pinhole camera with the
// same camera matrix would have imaged it.
func (m Model) Undistort(px r2.Point) r2.Point {
	n := m.Normalize(px)
	return r2.Point{X: m.FX*n.X + m.CX, Y: m.FY*n.Y + m.CY}
}

// BackProject returns the camera-frame point on the ray through px at depth z.
func (m Model) BackProject(px r2.Point, z float64) r3.Vector {
	n := m.Normalize(px)
	return r3.Vector{X: n.X * z, Y: n.Y * z, Z: z}
}
