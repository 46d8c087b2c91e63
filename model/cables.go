package model

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Side selects one of the two control lines.
type Side int

const (
	Left Side = iota
	Right
)

// Sides lists both sides in solver order.
var Sides = [2]Side{Left, Right}

func (s Side) String() string {
	if s == Right {
		return "right"
	}
	return "left"
}

// ControlAnchor is the line attachment point of the side.
func (s Side) ControlAnchor() AnchorID {
	if s == Right {
		return CtrlRight
	}
	return CtrlLeft
}

// BridleAnchors are the three sail anchors whose bridles converge on the
// side's control point, in segment order.
func (s Side) BridleAnchors() [3]AnchorID {
	if s == Right {
		return [3]AnchorID{Nose, IntermediateRight, Center}
	}
	return [3]AnchorID{Nose, IntermediateLeft, Center}
}

// LineSpec describes the control lines. RestLength is shared by both lines;
// the remaining fields only feed the tension display.
type LineSpec struct {
	RestLength float64 // m
	Stiffness  float64 // N/m beyond rest length
	PreTension float64 // N
	MaxTension float64 // N
	Damping    float64 // N*s/m on outward radial speed
	LinearMass float64 // kg/m, sag estimate only
}

// DefaultLineSpec is a pair of 10 m sport-kite lines.
func DefaultLineSpec() LineSpec {
	return LineSpec{
		RestLength: 10,
		Stiffness:  2000,
		PreTension: 0.5,
		MaxTension: 250,
		Damping:    2,
		LinearMass: 0.0005,
	}
}

// BridleLengths holds the rest length of every bridle segment, indexed by
// side and then by the order of Side.BridleAnchors.
type BridleLengths [2][3]float64

// Bridle is one retaining cable from a sail anchor to a control point.
type Bridle struct {
	Anchor     AnchorID
	Side       Side
	RestLength float64
}

// Segments expands the lengths into the six bridle segments, left first.
func (l BridleLengths) Segments() []Bridle {
	out := make([]Bridle, 0, 6)
	for _, side := range Sides {
		for i, a := range side.BridleAnchors() {
			out = append(out, Bridle{Anchor: a, Side: side, RestLength: l[side][i]})
		}
	}
	return out
}

// Positive reports whether every segment has a finite positive length.
func (l BridleLengths) Positive() bool {
	for _, side := range l {
		for _, v := range side {
			if !(v > 0) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// MeasureBridles returns the anchor-to-control-point distances of a set.
func MeasureBridles(a AnchorSet) BridleLengths {
	var out BridleLengths
	for _, side := range Sides {
		ctrl := a[side.ControlAnchor()]
		for i, id := range side.BridleAnchors() {
			out[side][i] = a[id].Sub(ctrl).Len()
		}
	}
	return out
}

// Handler is the person flying the kite: a mid point between the hands and
// the distance between the two handles.
type Handler struct {
	Position   mgl64.Vec3
	Separation float64
}

// DefaultHandler stands at the origin with hands one metre up.
func DefaultHandler() Handler {
	return Handler{Position: mgl64.Vec3{0, 1, 0}, Separation: 0.5}
}

// Handles returns the left and right handle positions for a handler facing
// downwind. windDirDeg follows the wind convention (0 deg = +X).
func (h Handler) Handles(windDirDeg float64) [2]mgl64.Vec3 {
	rad := mgl64.DegToRad(windDirDeg)
	forward := mgl64.Vec3{math.Cos(rad), 0, math.Sin(rad)}
	right := forward.Cross(Up)
	half := right.Mul(h.Separation / 2)
	return [2]mgl64.Vec3{
		Left:  h.Position.Sub(half),
		Right: h.Position.Add(half),
	}
}
