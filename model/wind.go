package model

import "github.com/go-gl/mathgl/mgl64"

// WindState is the wind seen by a body for one step.
type WindState struct {
	Ambient  mgl64.Vec3
	Apparent mgl64.Vec3
	// Speed is |Apparent| in m/s.
	Speed float64
	// Direction is the heading of Apparent in the horizontal plane, degrees,
	// 0 = +X.
	Direction float64
}
