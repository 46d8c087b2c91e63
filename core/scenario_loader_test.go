// core/scenario_loader_test.go
package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/kitesim/kb"
	"github.com/signalsfoundry/kitesim/model"
)

func TestLoadKiteCatalog_PopulatesKB(t *testing.T) {
	jsonData := `
{
  "kites": [
    {
      "name": "delta-raw",
      "mass": 0.31,
      "inertia": 0.08,
      "anchors": {
        "nose":               [0, 0.65, 0],
        "leading_edge_left":  [-0.825, 0, 0],
        "leading_edge_right": [0.825, 0, 0],
        "intermediate_left":  [-0.4125, 0.1, 0],
        "intermediate_right": [0.4125, 0.1, 0],
        "center":             [0, 0, 0],
        "ctrl_left":          [-0.15, 0.3, 0.4],
        "ctrl_right":         [0.15, 0.3, 0.4]
      }
    },
    {
      "name": "trainer",
      "mass": 0.45,
      "inertia": 0.12,
      "bridles": {
        "left":  [0.56, 0.52, 0.53],
        "right": [0.56, 0.52, 0.53]
      }
    }
  ]
}
`
	store := kb.NewKnowledgeBase()

	catalog, err := LoadKiteCatalog(store, strings.NewReader(jsonData))
	if err != nil {
		t.Fatalf("LoadKiteCatalog returned error: %v", err)
	}
	if len(catalog.Names) != 2 || catalog.Names[0] != "delta-raw" {
		t.Fatalf("catalog names = %v", catalog.Names)
	}

	raw, err := store.GetKite("delta-raw")
	if err != nil {
		t.Fatalf("GetKite: %v", err)
	}
	// The raw frame is recentred onto the stock anchor positions.
	stock := model.DefaultAnchors()
	for id := range raw.Anchors {
		if !vecAlmostEqual(raw.Anchors[id], stock[id], 1e-12) {
			t.Fatalf("anchor %s = %v, want %v", model.AnchorID(id), raw.Anchors[id], stock[id])
		}
	}
	if !almostEqual(raw.Bridles[model.Left][0], 0.552268050859363, 1e-12) {
		t.Fatalf("measured nose bridle = %v", raw.Bridles[model.Left][0])
	}

	trainer, err := store.GetKite("trainer")
	if err != nil {
		t.Fatalf("GetKite: %v", err)
	}
	if trainer.Bridles[model.Right][1] != 0.52 || trainer.Mass != 0.45 {
		t.Fatalf("trainer = %+v", trainer)
	}
}

func TestLoadKiteCatalog_NoRecenter(t *testing.T) {
	jsonData := `{"kites":[{"name":"shifted","mass":0.3,"inertia":0.1,"recenter":false,
		"anchors":{"center":[0,-0.2,0]}}]}`
	store := kb.NewKnowledgeBase()
	if _, err := LoadKiteCatalog(store, strings.NewReader(jsonData)); err != nil {
		t.Fatalf("LoadKiteCatalog: %v", err)
	}
	k, _ := store.GetKite("shifted")
	if k.Anchors[model.Center] != (mgl64.Vec3{0, -0.2, 0}) {
		t.Fatalf("center = %v, want untouched override", k.Anchors[model.Center])
	}
}

func TestLoadKiteCatalog_Errors(t *testing.T) {
	cases := []struct {
		name string
		json string
		want error
	}{
		{"unknown anchor", `{"kites":[{"name":"x","mass":0.3,"inertia":0.1,"anchors":{"tail":[0,0,0]}}]}`, model.ErrInvalidDefinition},
		{"no mass", `{"kites":[{"name":"x","inertia":0.1}]}`, model.ErrInvalidDefinition},
		{"empty name", `{"kites":[{"mass":0.3,"inertia":0.1}]}`, model.ErrInvalidDefinition},
		{"infeasible bridles", `{"kites":[{"name":"x","mass":0.3,"inertia":0.1,"bridles":{"left":[0.05,0.5,0.5],"right":[0.55,0.5,0.5]}}]}`, ErrInfeasibleBridle},
		{"duplicate", `{"kites":[{"name":"x","mass":0.3,"inertia":0.1},{"name":"x","mass":0.3,"inertia":0.1}]}`, kb.ErrKiteExists},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadKiteCatalog(kb.NewKnowledgeBase(), strings.NewReader(tc.json))
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}

	if _, err := LoadKiteCatalog(kb.NewKnowledgeBase(), strings.NewReader(`{"kites": [`)); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := LoadKiteCatalog(nil, strings.NewReader(`{}`)); err == nil {
		t.Fatalf("expected error for nil kb")
	}
}
