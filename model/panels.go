package model

import "github.com/go-gl/mathgl/mgl64"

// Panel is one triangular aerodynamic surface. Vertices are listed
// counter-clockwise as seen from the front face, so (b-a) x (c-a) is the
// front normal.
type Panel struct {
	Name     string
	Vertices [3]AnchorID
}

// PanelCount is the number of sail panels.
const PanelCount = 4

// Panels is the only panel table. Geometry, aerodynamics, debug output and
// tests all read it; nothing else may list panel vertices.
var Panels = [PanelCount]Panel{
	{Name: "left_outer", Vertices: [3]AnchorID{Nose, LeadingEdgeLeft, IntermediateLeft}},
	{Name: "left_inner", Vertices: [3]AnchorID{Nose, IntermediateLeft, Center}},
	{Name: "right_inner", Vertices: [3]AnchorID{Nose, Center, IntermediateRight}},
	{Name: "right_outer", Vertices: [3]AnchorID{Nose, IntermediateRight, LeadingEdgeRight}},
}

// degenerateArea is the doubled-area cutoff below which a triangle has no
// usable normal.
const degenerateArea = 1e-12

// PanelSample is the per-step derived geometry of a panel. It is never
// cached between steps.
type PanelSample struct {
	Area     float64
	Centroid mgl64.Vec3
	Normal   mgl64.Vec3
	// Degenerate marks collapsed triangles; Normal is then Up and Area 0.
	Degenerate bool
}

// SampleTriangle computes area, centroid and unit normal of (a, b, c).
func SampleTriangle(a, b, c mgl64.Vec3) PanelSample {
	centroid := a.Add(b).Add(c).Mul(1.0 / 3.0)
	n, doubled, ok := Direction(b.Sub(a).Cross(c.Sub(a)), Up, degenerateArea)
	if !ok {
		return PanelSample{Centroid: centroid, Normal: Up, Degenerate: true}
	}
	return PanelSample{Area: 0.5 * doubled, Centroid: centroid, Normal: n}
}

// SampleLocal samples the panel in the body frame.
func (p Panel) SampleLocal(anchors AnchorSet) PanelSample {
	return SampleTriangle(anchors[p.Vertices[0]], anchors[p.Vertices[1]], anchors[p.Vertices[2]])
}

// Sample samples the panel from the body's current world pose.
func (p Panel) Sample(anchors *AnchorSet, b *Body) PanelSample {
	return SampleTriangle(
		anchors.World(b, p.Vertices[0]),
		anchors.World(b, p.Vertices[1]),
		anchors.World(b, p.Vertices[2]),
	)
}
