package model

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Up is the world vertical. It doubles as the fallback direction for
// degenerate geometry.
var Up = mgl64.Vec3{0, 1, 0}

// IsFinite reports whether every component of v is a real number.
func IsFinite(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// IsFiniteQuat reports whether every component of q is a real number.
func IsFiniteQuat(q mgl64.Quat) bool {
	if math.IsNaN(q.W) || math.IsInf(q.W, 0) {
		return false
	}
	return IsFinite(q.V)
}

// IsFiniteScalar reports whether x is neither NaN nor infinite.
func IsFiniteScalar(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Direction returns v normalised together with its length. Vectors shorter
// than eps yield the fallback and ok=false instead of dividing by zero.
func Direction(v, fallback mgl64.Vec3, eps float64) (dir mgl64.Vec3, length float64, ok bool) {
	length = v.Len()
	if !(length > eps) || math.IsInf(length, 0) {
		return fallback, length, false
	}
	return v.Mul(1 / length), length, true
}

// IntegrateRotation advances q by the rotation vector theta (axis * angle)
// using the first-order quaternion derivative and renormalises.
func IntegrateRotation(q mgl64.Quat, theta mgl64.Vec3) mgl64.Quat {
	dq := mgl64.Quat{W: 0, V: theta.Mul(0.5)}.Mul(q)
	return q.Add(dq).Normalize()
}
