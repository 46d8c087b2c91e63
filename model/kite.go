package model

import (
	"errors"
	"fmt"
)

// ErrInvalidDefinition is returned by KiteDefinition.Validate.
var ErrInvalidDefinition = errors.New("invalid kite definition")

// KiteDefinition is a named kite preset: frame geometry, mass properties
// and bridle rest lengths.
type KiteDefinition struct {
	Name    string
	Anchors AnchorSet
	Mass    float64 // kg
	Inertia float64 // kg*m^2
	Bridles BridleLengths
}

// DefaultKite is the stock 1.65 m delta with bridles at their geometric
// lengths.
func DefaultKite() KiteDefinition {
	anchors := DefaultAnchors()
	return KiteDefinition{
		Name:    "delta-165",
		Anchors: anchors,
		Mass:    0.31,
		Inertia: 0.08,
		Bridles: MeasureBridles(anchors),
	}
}

// Validate checks mass properties, anchors, panels and bridle lengths.
func (k KiteDefinition) Validate() error {
	if !(k.Mass > 0) || !IsFiniteScalar(k.Mass) {
		return fmt.Errorf("%w: %q mass must be positive, got %v", ErrInvalidDefinition, k.Name, k.Mass)
	}
	if !(k.Inertia > 0) || !IsFiniteScalar(k.Inertia) {
		return fmt.Errorf("%w: %q inertia must be positive, got %v", ErrInvalidDefinition, k.Name, k.Inertia)
	}
	for id, p := range k.Anchors {
		if !IsFinite(p) {
			return fmt.Errorf("%w: %q anchor %s is not finite", ErrInvalidDefinition, k.Name, AnchorID(id))
		}
	}
	for _, p := range Panels {
		if p.SampleLocal(k.Anchors).Degenerate {
			return fmt.Errorf("%w: %q panel %s is degenerate", ErrInvalidDefinition, k.Name, p.Name)
		}
	}
	if !k.Bridles.Positive() {
		return fmt.Errorf("%w: %q bridle rest lengths must be positive", ErrInvalidDefinition, k.Name)
	}
	return nil
}

// TotalArea is the summed sail area.
func (k KiteDefinition) TotalArea() float64 {
	var total float64
	for _, p := range Panels {
		total += p.SampleLocal(k.Anchors).Area
	}
	return total
}

// Span is the tip-to-tip leading edge distance.
func (k KiteDefinition) Span() float64 {
	return k.Anchors[LeadingEdgeRight].Sub(k.Anchors[LeadingEdgeLeft]).Len()
}

// AspectRatio is span^2 / area, or 0 for a kite without area.
func (k KiteDefinition) AspectRatio() float64 {
	area := k.TotalArea()
	if area <= 0 {
		return 0
	}
	span := k.Span()
	return span * span / area
}
