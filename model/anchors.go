package model

import "github.com/go-gl/mathgl/mgl64"

// AnchorID names a fixed point of the kite frame.
//
// Body frame: +X is the kite's right as seen by the handler, +Y runs along
// the spine towards the nose, +Z is the front-face normal (towards the
// handler). The origin is the sail's area centroid, which is also taken as
// the centre of mass.
type AnchorID int

const (
	Nose AnchorID = iota
	LeadingEdgeLeft
	LeadingEdgeRight
	IntermediateLeft
	IntermediateRight
	Center
	CtrlLeft
	CtrlRight

	AnchorCount
)

var anchorNames = [AnchorCount]string{
	Nose:              "nose",
	LeadingEdgeLeft:   "leading_edge_left",
	LeadingEdgeRight:  "leading_edge_right",
	IntermediateLeft:  "intermediate_left",
	IntermediateRight: "intermediate_right",
	Center:            "center",
	CtrlLeft:          "ctrl_left",
	CtrlRight:         "ctrl_right",
}

func (id AnchorID) String() string {
	if id < 0 || id >= AnchorCount {
		return "unknown"
	}
	return anchorNames[id]
}

// ParseAnchorID maps a snake_case anchor name back to its ID.
func ParseAnchorID(name string) (AnchorID, bool) {
	for i, n := range anchorNames {
		if n == name {
			return AnchorID(i), true
		}
	}
	return 0, false
}

// AnchorSet holds the body-frame position of every anchor.
type AnchorSet [AnchorCount]mgl64.Vec3

// DefaultAnchors is a 1.65 m span delta, already centred on its sail area
// centroid.
func DefaultAnchors() AnchorSet {
	return AnchorSet{
		Nose:              {0, 0.40, 0},
		LeadingEdgeLeft:   {-0.825, -0.25, 0},
		LeadingEdgeRight:  {0.825, -0.25, 0},
		IntermediateLeft:  {-0.4125, -0.15, 0},
		IntermediateRight: {0.4125, -0.15, 0},
		Center:            {0, -0.25, 0},
		CtrlLeft:          {-0.15, 0.05, 0.40},
		CtrlRight:         {0.15, 0.05, 0.40},
	}
}

// Recentered returns the set translated so that the sail area centroid sits
// at the origin.
func (a AnchorSet) Recentered() AnchorSet {
	var total float64
	var moment mgl64.Vec3
	for _, p := range Panels {
		s := p.SampleLocal(a)
		total += s.Area
		moment = moment.Add(s.Centroid.Mul(s.Area))
	}
	if total <= 0 {
		return a
	}
	c := moment.Mul(1 / total)
	out := a
	for i := range out {
		out[i] = out[i].Sub(c)
	}
	return out
}

// World returns the world-space position of id for the given body.
func (a *AnchorSet) World(b *Body, id AnchorID) mgl64.Vec3 {
	return b.LocalToWorld(a[id])
}

// Lowest returns the anchor with the smallest world height.
func (a *AnchorSet) Lowest(b *Body) (AnchorID, mgl64.Vec3) {
	best := AnchorID(0)
	bestPos := a.World(b, 0)
	for id := AnchorID(1); id < AnchorCount; id++ {
		p := a.World(b, id)
		if p.Y() < bestPos.Y() {
			best, bestPos = id, p
		}
	}
	return best, bestPos
}
