package core

import (
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"
	opensimplex "github.com/ojrac/opensimplex-go"
)

// VerticalTurbulence scales the vertical turbulence component relative to
// the horizontal ones.
const VerticalTurbulence = 0.3

// TurbulenceSource produces the temporally correlated turbulence added to
// the apparent wind. Sample advances the source by dt; intensity is in
// [0, 1]. The returned vector never exceeds speed*intensity in magnitude.
type TurbulenceSource interface {
	Sample(dt, speed, intensity float64) mgl64.Vec3
	Reset()
}

// RandomWalk is a bounded per-axis random walk driven by a seeded PCG.
type RandomWalk struct {
	seed  uint64
	rng   *rand.Rand
	state mgl64.Vec3

	// Gain scales the per-step increment relative to the clamp.
	Gain float64
	// Reversion pulls the walk back towards zero, 1/s.
	Reversion float64
	// Relax is the decay rate used while intensity is zero, 1/s.
	Relax float64
}

// NewRandomWalk seeds a walk. Equal seeds give equal sequences.
func NewRandomWalk(seed uint64) *RandomWalk {
	w := &RandomWalk{seed: seed, Gain: 2, Reversion: 0.5, Relax: 4}
	w.Reset()
	return w
}

// Reset restarts the sequence from the original seed.
func (w *RandomWalk) Reset() {
	w.rng = rand.New(rand.NewPCG(w.seed, w.seed^0x9e3779b97f4a7c15))
	w.state = mgl64.Vec3{}
}

func (w *RandomWalk) Sample(dt, speed, intensity float64) mgl64.Vec3 {
	limit := speed * intensity
	if !(limit > 0) || !(dt > 0) {
		w.state = w.state.Mul(math.Exp(-w.Relax * math.Max(dt, 0)))
		if w.state.Len() < 1e-6 {
			w.state = mgl64.Vec3{}
		}
		return w.state
	}

	sigma := limit * w.Gain * math.Sqrt(dt)
	step := mgl64.Vec3{
		w.rng.NormFloat64() * sigma,
		w.rng.NormFloat64() * sigma * VerticalTurbulence,
		w.rng.NormFloat64() * sigma,
	}
	w.state = w.state.Mul(math.Max(0, 1-w.Reversion*dt)).Add(step)
	w.state = clampLength(w.state, limit)
	return w.state
}

// GustField samples smooth opensimplex noise along simulation time, giving
// gusts that rise and fall instead of jittering.
type GustField struct {
	noise opensimplex.Noise
	t     float64

	// Frequency is the number of noise cells crossed per second.
	Frequency float64
}

// NewGustField builds a gust field from seed.
func NewGustField(seed int64) *GustField {
	return &GustField{noise: opensimplex.New(seed), Frequency: 0.35}
}

// Reset rewinds the field to t=0.
func (g *GustField) Reset() { g.t = 0 }

func (g *GustField) Sample(dt, speed, intensity float64) mgl64.Vec3 {
	if dt > 0 {
		g.t += dt
	}
	limit := speed * intensity
	if !(limit > 0) {
		return mgl64.Vec3{}
	}
	x := g.t * g.Frequency
	v := mgl64.Vec3{
		g.noise.Eval2(x, 0),
		g.noise.Eval2(x, 17.3) * VerticalTurbulence,
		g.noise.Eval2(x, 41.9),
	}.Mul(limit)
	return clampLength(v, limit)
}

func clampLength(v mgl64.Vec3, limit float64) mgl64.Vec3 {
	l := v.Len()
	if l > limit && l > 0 {
		return v.Mul(limit / l)
	}
	return v
}
