// core/scenario_loader.go
package core

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/kitesim/kb"
	"github.com/signalsfoundry/kitesim/model"
)

// KiteCatalog is a small summary of what was loaded from JSON.
type KiteCatalog struct {
	Names []string
}

// internal JSON shapes, unexported so the file format can evolve.
type kiteCatalogJSON struct {
	Kites []kiteJSON `json:"kites"`
}

type kiteJSON struct {
	Name    string  `json:"name"`
	Mass    float64 `json:"mass"`    // kg
	Inertia float64 `json:"inertia"` // kg*m^2
	// Anchors override the stock delta by snake_case name; missing anchors
	// keep their stock position.
	Anchors map[string][3]float64 `json:"anchors"`
	// Recenter translates the anchors onto the sail centroid. Defaults to true.
	Recenter *bool        `json:"recenter"`
	Bridles  *bridlesJSON `json:"bridles"` // optional; measured from anchors when absent
}

type bridlesJSON struct {
	Left  [3]float64 `json:"left"`  // nose, intermediate, center
	Right [3]float64 `json:"right"` // nose, intermediate, center
}

// LoadKiteCatalog reads kite presets from r, validates them (including
// bridle feasibility) and adds them to store.
func LoadKiteCatalog(store *kb.KnowledgeBase, r io.Reader) (*KiteCatalog, error) {
	if store == nil {
		return nil, fmt.Errorf("LoadKiteCatalog: kb is nil")
	}

	var payload kiteCatalogJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadKiteCatalog: decode failed: %w", err)
	}

	result := &KiteCatalog{Names: make([]string, 0, len(payload.Kites))}
	for i, js := range payload.Kites {
		def, err := js.definition()
		if err != nil {
			return nil, fmt.Errorf("LoadKiteCatalog: kite %d (%q): %w", i, js.Name, err)
		}
		if err := store.AddKite(def); err != nil {
			return nil, fmt.Errorf("LoadKiteCatalog: kite %q: %w", def.Name, err)
		}
		result.Names = append(result.Names, def.Name)
	}
	return result, nil
}

func (js kiteJSON) definition() (model.KiteDefinition, error) {
	if js.Name == "" {
		return model.KiteDefinition{}, fmt.Errorf("%w: empty name", model.ErrInvalidDefinition)
	}

	anchors := model.DefaultAnchors()
	names := make([]string, 0, len(js.Anchors))
	for name := range js.Anchors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		id, ok := model.ParseAnchorID(name)
		if !ok {
			return model.KiteDefinition{}, fmt.Errorf("%w: unknown anchor %q", model.ErrInvalidDefinition, name)
		}
		p := js.Anchors[name]
		anchors[id] = mgl64.Vec3{p[0], p[1], p[2]}
	}
	if js.Recenter == nil || *js.Recenter {
		anchors = anchors.Recentered()
	}

	def := model.KiteDefinition{
		Name:    js.Name,
		Anchors: anchors,
		Mass:    js.Mass,
		Inertia: js.Inertia,
		Bridles: model.MeasureBridles(anchors),
	}
	if js.Bridles != nil {
		def.Bridles = model.BridleLengths{model.Left: js.Bridles.Left, model.Right: js.Bridles.Right}
	}
	if err := def.Validate(); err != nil {
		return model.KiteDefinition{}, err
	}
	if _, err := PlaceControlPoints(def.Anchors, def.Bridles); err != nil {
		return model.KiteDefinition{}, err
	}
	return def, nil
}
