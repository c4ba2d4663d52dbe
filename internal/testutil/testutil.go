// Package testutil provides shared test fixtures for geometry-heavy tests:
// seeded random rigid transforms and tolerance assertions.
package testutil

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/handeye/internal/geometry"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewRand returns a deterministic generator for the given seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// RandomUnitVector returns a uniformly distributed unit vector.
func RandomUnitVector(rng *rand.Rand) r3.Vector {
	for {
		v := r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		if n := v.Norm(); n > 1e-6 {
			return v.Mul(1 / n)
		}
	}
}

// RandomRotation returns a rotation about a random axis with angle in
// [minAngle, maxAngle] radians.
func RandomRotation(rng *rand.Rand, minAngle, maxAngle float64) geometry.Rotation {
	angle := minAngle + rng.Float64()*(maxAngle-minAngle)
	return geometry.RotationFromAxisAngle(RandomUnitVector(rng), angle)
}

// RandomTransform returns a transform with a rotation of up to maxAngle
// radians and each translation component in [-maxTrans, maxTrans].
func RandomTransform(rng *rand.Rand, maxAngle, maxTrans float64) geometry.Transform {
	return geometry.Transform{
		Rotation: RandomRotation(rng, 0, maxAngle),
		Translation: r3.Vector{
			X: (2*rng.Float64() - 1) * maxTrans,
			Y: (2*rng.Float64() - 1) * maxTrans,
			Z: (2*rng.Float64() - 1) * maxTrans,
		},
	}
}

// AssertTransformNear fails the test when got differs from want by more than
// rotTolDeg degrees or transTol metres.
func AssertTransformNear(t testing.TB, got, want geometry.Transform, rotTolDeg, transTol float64) {
	t.Helper()
	rot, trans := geometry.Distance(got, want)
	if deg := rot * 180 / math.Pi; deg > rotTolDeg {
		t.Errorf("rotation differs by %.4f°, want <= %.4f°\ngot  %v\nwant %v", deg, rotTolDeg, got, want)
	}
	if trans > transTol {
		t.Errorf("translation differs by %.6fm, want <= %.6fm\ngot  %v\nwant %v", trans, transTol, got, want)
	}
}

// AssertVectorNear fails the test when |got - want| > tol.
func AssertVectorNear(t testing.TB, got, want r3.Vector, tol float64) {
	t.Helper()
	if d := got.Sub(want).Norm(); d > tol {
		t.Errorf("vector = %v, want %v (distance %.6g > %.6g)", got, want, d, tol)
	}
}
