package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/kitesim/core"
	"github.com/signalsfoundry/kitesim/model"
)

// EnvPrefix is prepended to every environment override, e.g.
// KITESIM_WIND_SPEED.
const EnvPrefix = "KITESIM"

// FileName is the optional config file looked up in the config directory.
const FileName = "kitesim"

// WindConfig holds the initial wind and the turbulence source.
type WindConfig struct {
	Speed      float64 `mapstructure:"speed"`
	Direction  float64 `mapstructure:"direction"`
	Turbulence float64 `mapstructure:"turbulence"`
	Source     string  `mapstructure:"source"` // randomwalk | gust
	Seed       uint64  `mapstructure:"seed"`
}

// LinesConfig holds the control lines and the handler.
type LinesConfig struct {
	Length           float64 `mapstructure:"length"`
	Steer            float64 `mapstructure:"steer"`
	Stiffness        float64 `mapstructure:"stiffness"`
	PreTension       float64 `mapstructure:"pre_tension"`
	MaxTension       float64 `mapstructure:"max_tension"`
	Damping          float64 `mapstructure:"damping"`
	LinearMass       float64 `mapstructure:"linear_mass"`
	HandleSeparation float64 `mapstructure:"handle_separation"`
	HandleHeight     float64 `mapstructure:"handle_height"`
}

// BridlesConfig overrides the preset's bridle lengths; empty keeps them.
type BridlesConfig struct {
	Left  []float64 `mapstructure:"left"`
	Right []float64 `mapstructure:"right"`
}

// AeroConfig selects the coefficient model and force multipliers.
type AeroConfig struct {
	Model      string  `mapstructure:"model"`
	LiftScale  float64 `mapstructure:"lift_scale"`
	DragScale  float64 `mapstructure:"drag_scale"`
	AirDensity float64 `mapstructure:"air_density"`
	Gravity    float64 `mapstructure:"gravity"`
	Parallel   bool    `mapstructure:"parallel"`
}

// DampingConfig holds integrator damping.
type DampingConfig struct {
	Linear  float64 `mapstructure:"linear"`
	Angular float64 `mapstructure:"angular"`
}

// SimConfig holds loop and spawn settings.
type SimConfig struct {
	Kite           string        `mapstructure:"kite"`
	Catalog        string        `mapstructure:"catalog"`
	StepMode       string        `mapstructure:"step_mode"`
	ClockMode      string        `mapstructure:"clock_mode"`
	FrameRate      float64       `mapstructure:"frame_rate"`
	Duration       time.Duration `mapstructure:"duration"`
	SpawnElevation float64       `mapstructure:"spawn_elevation"`
	SpawnTilt      float64       `mapstructure:"spawn_tilt"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Exporter    string `mapstructure:"exporter"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// RecorderConfig controls the sqlite flight recorder.
type RecorderConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	FlushEvery int    `mapstructure:"flush_every"`
}

// Settings is the typed configuration tree.
type Settings struct {
	Wind     WindConfig     `mapstructure:"wind"`
	Lines    LinesConfig    `mapstructure:"lines"`
	Bridles  BridlesConfig  `mapstructure:"bridles"`
	Aero     AeroConfig     `mapstructure:"aero"`
	Damping  DampingConfig  `mapstructure:"damping"`
	Sim      SimConfig      `mapstructure:"sim"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Recorder RecorderConfig `mapstructure:"recorder"`
}

// setDefaults registers every key so environment overrides work without a
// config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("wind.speed", 6.0)
	v.SetDefault("wind.direction", 0.0)
	v.SetDefault("wind.turbulence", 0.0)
	v.SetDefault("wind.source", "randomwalk")
	v.SetDefault("wind.seed", 1)

	line := model.DefaultLineSpec()
	handler := model.DefaultHandler()
	v.SetDefault("lines.length", line.RestLength)
	v.SetDefault("lines.steer", 0.0)
	v.SetDefault("lines.stiffness", line.Stiffness)
	v.SetDefault("lines.pre_tension", line.PreTension)
	v.SetDefault("lines.max_tension", line.MaxTension)
	v.SetDefault("lines.damping", line.Damping)
	v.SetDefault("lines.linear_mass", line.LinearMass)
	v.SetDefault("lines.handle_separation", handler.Separation)
	v.SetDefault("lines.handle_height", handler.Position.Y())

	v.SetDefault("bridles.left", []float64{})
	v.SetDefault("bridles.right", []float64{})

	aero := core.DefaultAeroConfig()
	v.SetDefault("aero.model", "rayleigh")
	v.SetDefault("aero.lift_scale", aero.LiftScale)
	v.SetDefault("aero.drag_scale", aero.DragScale)
	v.SetDefault("aero.air_density", aero.AirDensity)
	v.SetDefault("aero.gravity", aero.Gravity)
	v.SetDefault("aero.parallel", false)

	integ := core.DefaultIntegratorConfig()
	v.SetDefault("damping.linear", integ.LinearDamping)
	v.SetDefault("damping.angular", integ.AngularDamping)

	spawn := core.DefaultSpawnPose()
	v.SetDefault("sim.kite", model.DefaultKite().Name)
	v.SetDefault("sim.catalog", "")
	v.SetDefault("sim.step_mode", core.StepIntegrateThenProject.String())
	v.SetDefault("sim.clock_mode", "realtime")
	v.SetDefault("sim.frame_rate", 60.0)
	v.SetDefault("sim.duration", "10s")
	v.SetDefault("sim.spawn_elevation", spawn.Elevation)
	v.SetDefault("sim.spawn_tilt", spawn.Tilt)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "kitesim")

	v.SetDefault("recorder.enabled", false)
	v.SetDefault("recorder.path", "kitesim.db")
	v.SetDefault("recorder.flush_every", 60)
}

// Load reads kitesim.{yaml,json,toml} from configDir when present, applies
// KITESIM_* environment overrides and returns the typed settings. A missing
// file is not an error; a malformed one is.
func Load(configDir string) (Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(FileName)
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configDir != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("error decoding config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects settings the simulation cannot start from. Runtime
// inputs (wind, scales) are validated later by the simulation itself.
func (s Settings) Validate() error {
	if !(s.Sim.FrameRate > 0) {
		return fmt.Errorf("sim.frame_rate must be positive, got %v", s.Sim.FrameRate)
	}
	if !(s.Lines.Length > 0) {
		return fmt.Errorf("lines.length must be positive, got %v", s.Lines.Length)
	}
	if _, err := core.ParseStepMode(s.Sim.StepMode); err != nil {
		return fmt.Errorf("sim.step_mode: %w", err)
	}
	if _, err := core.CoefficientModelByName(s.Aero.Model); err != nil {
		return fmt.Errorf("aero.model: %w", err)
	}
	for name, b := range map[string][]float64{"left": s.Bridles.Left, "right": s.Bridles.Right} {
		if len(b) != 0 && len(b) != 3 {
			return fmt.Errorf("bridles.%s needs 3 lengths, got %d", name, len(b))
		}
	}
	if (len(s.Bridles.Left) == 0) != (len(s.Bridles.Right) == 0) {
		return fmt.Errorf("bridles.left and bridles.right must be set together")
	}
	return nil
}

// FramePeriod is the wall-clock period of one frame.
func (s Settings) FramePeriod() time.Duration {
	return time.Duration(float64(time.Second) / s.Sim.FrameRate)
}

// BridleLengths returns the configured lengths, or zero (unchanged) when
// none are set.
func (s Settings) BridleLengths() model.BridleLengths {
	var out model.BridleLengths
	if len(s.Bridles.Left) == 3 && len(s.Bridles.Right) == 3 {
		copy(out[model.Left][:], s.Bridles.Left)
		copy(out[model.Right][:], s.Bridles.Right)
	}
	return out
}

// Inputs maps the tunable settings onto simulation inputs.
func (s Settings) Inputs() core.Inputs {
	return core.Inputs{
		WindSpeed:      s.Wind.Speed,
		WindDirection:  s.Wind.Direction,
		Turbulence:     s.Wind.Turbulence,
		LineLength:     s.Lines.Length,
		Steer:          s.Lines.Steer,
		Bridles:        s.BridleLengths(),
		LiftScale:      s.Aero.LiftScale,
		DragScale:      s.Aero.DragScale,
		LinearDamping:  s.Damping.Linear,
		AngularDamping: s.Damping.Angular,
	}
}

// LineSpec returns the line parameters.
func (s Settings) LineSpec() model.LineSpec {
	return model.LineSpec{
		RestLength: s.Lines.Length,
		Stiffness:  s.Lines.Stiffness,
		PreTension: s.Lines.PreTension,
		MaxTension: s.Lines.MaxTension,
		Damping:    s.Lines.Damping,
		LinearMass: s.Lines.LinearMass,
	}
}

// Handler returns the handler placement.
func (s Settings) Handler() model.Handler {
	h := model.DefaultHandler()
	h.Position[1] = s.Lines.HandleHeight
	h.Separation = s.Lines.HandleSeparation
	return h
}

// SpawnPose returns the reset attitude.
func (s Settings) SpawnPose() core.SpawnPose {
	return core.SpawnPose{Elevation: s.Sim.SpawnElevation, Tilt: s.Sim.SpawnTilt}
}

// TurbulenceSource builds the configured turbulence generator.
func (s Settings) TurbulenceSource() core.TurbulenceSource {
	if strings.EqualFold(s.Wind.Source, "gust") {
		return core.NewGustField(int64(s.Wind.Seed))
	}
	return core.NewRandomWalk(s.Wind.Seed)
}

// SimulationOptions translates the settings into simulation options.
func (s Settings) SimulationOptions() ([]core.Option, error) {
	coeff, err := core.CoefficientModelByName(s.Aero.Model)
	if err != nil {
		return nil, err
	}
	mode, err := core.ParseStepMode(s.Sim.StepMode)
	if err != nil {
		return nil, err
	}
	aero := core.DefaultAeroConfig()
	aero.LiftScale, aero.DragScale = s.Aero.LiftScale, s.Aero.DragScale
	aero.AirDensity, aero.Gravity = s.Aero.AirDensity, s.Aero.Gravity

	integ := core.DefaultIntegratorConfig()
	integ.LinearDamping, integ.AngularDamping = s.Damping.Linear, s.Damping.Angular

	return []core.Option{
		core.WithCoefficientModel(coeff),
		core.WithStepMode(mode),
		core.WithTurbulence(s.TurbulenceSource()),
		core.WithParallelAero(s.Aero.Parallel),
		core.WithHandler(s.Handler()),
		core.WithLineSpec(s.LineSpec()),
		core.WithSpawnPose(s.SpawnPose()),
		core.WithAeroConfig(aero),
		core.WithIntegratorConfig(integ),
		core.WithWind(core.WindParams{Speed: s.Wind.Speed, Direction: s.Wind.Direction, Turbulence: s.Wind.Turbulence}),
	}, nil
}
