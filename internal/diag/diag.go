// Package diag is the structured fault sink shared by the physics
// components. Faults never change control flow; they are counted, forwarded
// to an optional recorder and logged with per-key rate limiting.
package diag

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/kitesim/internal/logging"
)

// Kind classifies a fault.
type Kind int

const (
	// KindConfig is a non-finite or out-of-range external parameter.
	KindConfig Kind = iota
	// KindNumerical is a non-finite value produced inside the pipeline or a
	// runaway velocity.
	KindNumerical
	// KindGeometry is a degenerate direction or triangle.
	KindGeometry

	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindNumerical:
		return "numerical"
	case KindGeometry:
		return "geometry"
	default:
		return "unknown"
	}
}

// Fault is one observed problem.
type Fault struct {
	Kind      Kind
	Component string // wind, aero, solver, integrator, simulation
	Key       string // rate-limit key; defaults to Component + "." + Message
	Message   string
	Fields    []logging.Field
}

func (f Fault) key() string {
	if f.Key != "" {
		return f.Key
	}
	return f.Component + "." + f.Message
}

// Recorder receives a notification for every fault, suppressed or not.
type Recorder interface {
	RecordFault(kind, component string)
}

// DefaultWindow is the minimum spacing between two log lines for one key.
const DefaultWindow = 5 * time.Second

// Sink is a rate-limited fault sink. A nil *Sink discards everything.
type Sink struct {
	mu       sync.Mutex
	log      logging.Logger
	window   time.Duration
	now      func() time.Time
	recorder Recorder

	entries map[string]*entry
	latched map[string]bool
	counts  [kindCount]uint64
}

type entry struct {
	lastLogged time.Time
	suppressed int
}

// Option customises a Sink.
type Option func(*Sink)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(s *Sink) {
		if d >= 0 {
			s.window = d
		}
	}
}

// WithRecorder forwards every fault to r. Several recorders are combined
// with Recorders.
func WithRecorder(r Recorder) Option {
	return func(s *Sink) { s.recorder = r }
}

// Recorders fans one notification out to every non-nil recorder.
func Recorders(rs ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multiRecorder []Recorder

func (m multiRecorder) RecordFault(kind, component string) {
	for _, r := range m {
		r.RecordFault(kind, component)
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSink constructs a sink logging through log.
func NewSink(log logging.Logger, opts ...Option) *Sink {
	if log == nil {
		log = logging.Noop()
	}
	s := &Sink{
		log:     log,
		window:  DefaultWindow,
		now:     time.Now,
		entries: make(map[string]*entry),
		latched: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report counts f and logs it unless the same key was logged within the
// window. The next line logged for a key carries the number of suppressed
// repeats.
func (s *Sink) Report(ctx context.Context, f Fault) {
	if s == nil {
		return
	}
	key := f.key()

	s.mu.Lock()
	s.count(f)
	now := s.now()
	e, ok := s.entries[key]
	if ok && now.Sub(e.lastLogged) < s.window {
		e.suppressed++
		s.mu.Unlock()
		return
	}
	suppressed := 0
	if ok {
		suppressed = e.suppressed
	}
	s.entries[key] = &entry{lastLogged: now}
	s.mu.Unlock()

	s.emit(ctx, f, key, suppressed)
}

// ReportOnce counts f and logs it only the first time its key is seen, until
// Clear is called for that key. Configuration faults use it so a bad
// parameter is logged once rather than every tick.
func (s *Sink) ReportOnce(ctx context.Context, f Fault) {
	if s == nil {
		return
	}
	key := f.key()

	s.mu.Lock()
	s.count(f)
	if s.latched[key] {
		s.mu.Unlock()
		return
	}
	s.latched[key] = true
	s.mu.Unlock()

	s.emit(ctx, f, key, 0)
}

// Clear re-arms ReportOnce for key, typically once the parameter is valid
// again.
func (s *Sink) Clear(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.latched, key)
	s.mu.Unlock()
}

// Count returns how many faults of kind were reported.
func (s *Sink) Count(kind Kind) uint64 {
	if s == nil || kind < 0 || kind >= kindCount {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[kind]
}

// Total returns the number of faults reported across all kinds.
func (s *Sink) Total() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var total uint64
	for _, c := range s.counts {
		total += c
	}
	return total
}

func (s *Sink) count(f Fault) {
	if f.Kind >= 0 && f.Kind < kindCount {
		s.counts[f.Kind]++
	}
	if s.recorder != nil {
		s.recorder.RecordFault(f.Kind.String(), f.Component)
	}
}

func (s *Sink) emit(ctx context.Context, f Fault, key string, suppressed int) {
	fields := make([]logging.Field, 0, len(f.Fields)+4)
	fields = append(fields,
		logging.String("fault_kind", f.Kind.String()),
		logging.String("component", f.Component),
		logging.String("fault_key", key),
	)
	if suppressed > 0 {
		fields = append(fields, logging.Int("suppressed", suppressed))
	}
	fields = append(fields, f.Fields...)

	if f.Kind == KindGeometry {
		s.log.Debug(ctx, f.Message, fields...)
		return
	}
	s.log.Warn(ctx, f.Message, fields...)
}
