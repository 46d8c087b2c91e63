package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/kitesim/core"
	"github.com/signalsfoundry/kitesim/model"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 6.0, s.Wind.Speed)
	assert.Equal(t, "randomwalk", s.Wind.Source)
	assert.Equal(t, 10.0, s.Lines.Length)
	assert.Equal(t, "rayleigh", s.Aero.Model)
	assert.Equal(t, model.DefaultKite().Name, s.Sim.Kite)
	assert.Equal(t, 10*time.Second, s.Sim.Duration)
	assert.Equal(t, "integrate-then-project", s.Sim.StepMode)
	assert.Equal(t, 60, s.Recorder.FlushEvery)
	assert.False(t, s.Metrics.Enabled)

	in := s.Inputs()
	assert.Equal(t, 6.0, in.WindSpeed)
	assert.Equal(t, 10.0, in.LineLength)
	assert.Equal(t, model.BridleLengths{}, in.Bridles)
	assert.Equal(t, 1.0, in.LiftScale)
	assert.Equal(t, core.DefaultIntegratorConfig().AngularDamping, in.AngularDamping)
	assert.Equal(t, core.DefaultSpawnPose(), s.SpawnPose())
	assert.Equal(t, model.DefaultHandler(), s.Handler())
	assert.Equal(t, model.DefaultLineSpec(), s.LineSpec())
}

func TestLoad_EmptyDirSkipsFile(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 60.0, s.Sim.FrameRate)
}

func TestLoad_FromYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := `
wind:
  speed: 9.5
  direction: 90
  turbulence: 20
  source: gust
lines:
  length: 25
  steer: 0.3
bridles:
  left: [0.56, 0.52, 0.53]
  right: [0.56, 0.52, 0.53]
aero:
  model: plate
  parallel: true
sim:
  step_mode: predict-correct
  frame_rate: 120
  duration: 2s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kitesim.yaml"), []byte(yaml), 0o644))

	s, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9.5, s.Wind.Speed)
	assert.Equal(t, 90.0, s.Wind.Direction)
	assert.Equal(t, 25.0, s.Lines.Length)
	assert.True(t, s.Aero.Parallel)
	assert.Equal(t, 2*time.Second, s.Sim.Duration)
	assert.Equal(t, time.Second/120, s.FramePeriod())

	b := s.BridleLengths()
	assert.Equal(t, [3]float64{0.56, 0.52, 0.53}, b[model.Left])
	assert.Equal(t, b[model.Left], b[model.Right])

	_, ok := s.TurbulenceSource().(*core.GustField)
	assert.True(t, ok, "gust source selects GustField")

	opts, err := s.SimulationOptions()
	require.NoError(t, err)
	sim, err := core.NewSimulation(model.DefaultKite(), opts...)
	require.NoError(t, err)
	assert.Equal(t, core.StepPredictCorrect, sim.Mode())
	assert.Equal(t, 25.0, sim.Lines().RestLengths[model.Left])
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KITESIM_WIND_SPEED", "12")
	t.Setenv("KITESIM_SIM_KITE", "trainer")
	t.Setenv("KITESIM_RECORDER_ENABLED", "true")

	s, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 12.0, s.Wind.Speed)
	assert.Equal(t, "trainer", s.Sim.Kite)
	assert.True(t, s.Recorder.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"malformed":      "wind: [",
		"unknown model":  "aero:\n  model: wedge\n",
		"bad step mode":  "sim:\n  step_mode: rk4\n",
		"zero rate":      "sim:\n  frame_rate: 0\n",
		"short bridles":  "bridles:\n  left: [0.5]\n  right: [0.5, 0.5, 0.5]\n",
		"one side only":  "bridles:\n  left: [0.5, 0.5, 0.5]\n",
		"negative lines": "lines:\n  length: -3\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "kitesim.yaml"), []byte(body), 0o644))
			_, err := Load(dir)
			assert.Error(t, err)
		})
	}
}
