// Package recorder persists published frames to SQLite so a flight can be
// replayed or analysed after the run.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/kitesim/core"
	"github.com/signalsfoundry/kitesim/model"
)

// DefaultFlushEvery is the number of buffered frames that triggers a write.
const DefaultFlushEvery = 60

// ErrNoRun is returned when frames are recorded before StartRun.
var ErrNoRun = errors.New("recorder: no active run")

// Run is one simulation session.
type Run struct {
	ID        string `db:"id"`
	Kite      string `db:"kite"`
	StepMode  string `db:"step_mode"`
	StartedAt int64  `db:"started_at"` // unix milliseconds
}

// FrameRow is the stored subset of a core.Frame.
type FrameRow struct {
	RunID         string  `db:"run_id"`
	Tick          int64   `db:"tick"`
	Time          float64 `db:"sim_time"`
	Paused        bool    `db:"paused"`
	PosX          float64 `db:"pos_x"`
	PosY          float64 `db:"pos_y"`
	PosZ          float64 `db:"pos_z"`
	QuatW         float64 `db:"quat_w"`
	QuatX         float64 `db:"quat_x"`
	QuatY         float64 `db:"quat_y"`
	QuatZ         float64 `db:"quat_z"`
	VelX          float64 `db:"vel_x"`
	VelY          float64 `db:"vel_y"`
	VelZ          float64 `db:"vel_z"`
	WindSpeed     float64 `db:"wind_speed"`
	TensionLeft   float64 `db:"tension_left"`
	TensionRight  float64 `db:"tension_right"`
	GroundContact bool    `db:"ground_contact"`
	Faults        int64   `db:"faults"`
}

// FaultRow is one fault notification tagged with the last recorded tick.
type FaultRow struct {
	RunID     string `db:"run_id"`
	Tick      int64  `db:"tick"`
	Kind      string `db:"kind"`
	Component string `db:"component"`
}

// FlushObserver receives batch write statistics.
// observability.RecorderCollector implements it.
type FlushObserver interface {
	ObserveFlush(n int, d time.Duration, err error)
	SetPending(n int)
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithFlushEvery sets the batch size; values below 1 flush on every frame.
func WithFlushEvery(n int) Option {
	return func(r *Recorder) {
		if n < 1 {
			n = 1
		}
		r.flushEvery = n
	}
}

// WithFlushObserver forwards flush statistics to o.
func WithFlushObserver(o FlushObserver) Option {
	return func(r *Recorder) { r.observer = o }
}

// Recorder buffers frames and writes them in batches, one transaction per
// flush. It is safe for concurrent use.
type Recorder struct {
	conn *sqlx.DB

	mu         sync.Mutex
	runID      string
	flushEvery int
	observer   FlushObserver
	lastTick   int64
	frames     []FrameRow
	faults     []FaultRow
}

// Open opens or creates a SQLite database at path and applies the schema.
func Open(path string, opts ...Option) (*Recorder, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	r := &Recorder{conn: conn, flushEvery: DefaultFlushEvery}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *Recorder) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kite TEXT NOT NULL,
		step_mode TEXT NOT NULL,
		started_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS frames (
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		sim_time REAL NOT NULL,
		paused INTEGER NOT NULL,
		pos_x REAL NOT NULL,
		pos_y REAL NOT NULL,
		pos_z REAL NOT NULL,
		quat_w REAL NOT NULL,
		quat_x REAL NOT NULL,
		quat_y REAL NOT NULL,
		quat_z REAL NOT NULL,
		vel_x REAL NOT NULL,
		vel_y REAL NOT NULL,
		vel_z REAL NOT NULL,
		wind_speed REAL NOT NULL,
		tension_left REAL NOT NULL,
		tension_right REAL NOT NULL,
		ground_contact INTEGER NOT NULL,
		faults INTEGER NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS faults (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		kind TEXT NOT NULL,
		component TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_faults_run ON faults(run_id, tick);
	`
	_, err := r.conn.Exec(schema)
	return err
}

// StartRun registers run and makes it the target of subsequent frames. Any
// frames buffered for the previous run are flushed first.
func (r *Recorder) StartRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("recorder: empty run id")
	}
	if err := r.Flush(ctx); err != nil && !errors.Is(err, ErrNoRun) {
		return err
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UnixMilli()
	}
	if _, err := r.conn.NamedExecContext(ctx,
		`INSERT INTO runs (id, kite, step_mode, started_at) VALUES (:id, :kite, :step_mode, :started_at)`, run); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	r.mu.Lock()
	r.runID = run.ID
	r.lastTick = 0
	r.mu.Unlock()
	return nil
}

// Record buffers f and flushes once the batch is full. Reset frames reuse
// tick numbers, so a repeated tick replaces the earlier row.
func (r *Recorder) Record(ctx context.Context, f core.Frame) error {
	r.mu.Lock()
	if r.runID == "" {
		r.mu.Unlock()
		return ErrNoRun
	}
	r.frames = append(r.frames, rowFromFrame(r.runID, f))
	r.lastTick = int64(f.Tick)
	full := len(r.frames) >= r.flushEvery
	pending := len(r.frames)
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.SetPending(pending)
	}
	if full {
		return r.Flush(ctx)
	}
	return nil
}

// RecordFault implements diag.Recorder. Faults are buffered with the last
// recorded tick and written on the next flush.
func (r *Recorder) RecordFault(kind, component string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runID == "" {
		return
	}
	r.faults = append(r.faults, FaultRow{RunID: r.runID, Tick: r.lastTick, Kind: kind, Component: component})
}

// Flush writes all buffered rows in one transaction. On failure the buffer
// is kept so a later flush can retry.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if r.runID == "" {
		r.mu.Unlock()
		return ErrNoRun
	}
	frames, faults := r.frames, r.faults
	r.frames, r.faults = nil, nil
	r.mu.Unlock()

	if len(frames) == 0 && len(faults) == 0 {
		return nil
	}

	start := time.Now()
	err := r.write(ctx, frames, faults)
	if r.observer != nil {
		r.observer.ObserveFlush(len(frames), time.Since(start), err)
	}
	if err != nil {
		r.mu.Lock()
		r.frames = append(frames, r.frames...)
		r.faults = append(faults, r.faults...)
		pending := len(r.frames)
		r.mu.Unlock()
		if r.observer != nil {
			r.observer.SetPending(pending)
		}
		return err
	}
	if r.observer != nil {
		r.observer.SetPending(0)
	}
	return nil
}

func (r *Recorder) write(ctx context.Context, frames []FrameRow, faults []FaultRow) error {
	tx, err := r.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(frames) > 0 {
		stmt, err := tx.PrepareNamedContext(ctx, `INSERT OR REPLACE INTO frames
			(run_id, tick, sim_time, paused, pos_x, pos_y, pos_z,
			 quat_w, quat_x, quat_y, quat_z, vel_x, vel_y, vel_z,
			 wind_speed, tension_left, tension_right, ground_contact, faults)
			VALUES (:run_id, :tick, :sim_time, :paused, :pos_x, :pos_y, :pos_z,
			 :quat_w, :quat_x, :quat_y, :quat_z, :vel_x, :vel_y, :vel_z,
			 :wind_speed, :tension_left, :tension_right, :ground_contact, :faults)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, f := range frames {
			if _, err := stmt.ExecContext(ctx, f); err != nil {
				return fmt.Errorf("insert frame %d: %w", f.Tick, err)
			}
		}
	}

	for _, f := range faults {
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO faults (run_id, tick, kind, component) VALUES (:run_id, :tick, :kind, :component)`, f); err != nil {
			return fmt.Errorf("insert fault: %w", err)
		}
	}

	return tx.Commit()
}

// Frames returns the stored frames of runID ordered by tick.
func (r *Recorder) Frames(ctx context.Context, runID string) ([]FrameRow, error) {
	var rows []FrameRow
	err := r.conn.SelectContext(ctx, &rows, `SELECT * FROM frames WHERE run_id = ? ORDER BY tick`, runID)
	return rows, err
}

// Faults returns the stored faults of runID in insertion order.
func (r *Recorder) Faults(ctx context.Context, runID string) ([]FaultRow, error) {
	var rows []FaultRow
	err := r.conn.SelectContext(ctx, &rows,
		`SELECT run_id, tick, kind, component FROM faults WHERE run_id = ? ORDER BY id`, runID)
	return rows, err
}

// Runs lists every recorded run, oldest first.
func (r *Recorder) Runs(ctx context.Context) ([]Run, error) {
	var runs []Run
	err := r.conn.SelectContext(ctx, &runs, `SELECT * FROM runs ORDER BY started_at, id`)
	return runs, err
}

// Close flushes pending rows and closes the database.
func (r *Recorder) Close() error {
	err := r.Flush(context.Background())
	if errors.Is(err, ErrNoRun) {
		err = nil
	}
	return errors.Join(err, r.conn.Close())
}

// Pose rebuilds the stored pose of a row.
func (f FrameRow) Pose() model.Pose {
	return model.Pose{
		Position:    mgl64.Vec3{f.PosX, f.PosY, f.PosZ},
		Orientation: mgl64.Quat{W: f.QuatW, V: mgl64.Vec3{f.QuatX, f.QuatY, f.QuatZ}},
	}
}

func rowFromFrame(runID string, f core.Frame) FrameRow {
	return FrameRow{
		RunID:         runID,
		Tick:          int64(f.Tick),
		Time:          f.Time,
		Paused:        f.Paused,
		PosX:          f.Position.X(),
		PosY:          f.Position.Y(),
		PosZ:          f.Position.Z(),
		QuatW:         f.Orientation.W,
		QuatX:         f.Orientation.V.X(),
		QuatY:         f.Orientation.V.Y(),
		QuatZ:         f.Orientation.V.Z(),
		VelX:          f.Velocity.X(),
		VelY:          f.Velocity.Y(),
		VelZ:          f.Velocity.Z(),
		WindSpeed:     f.Wind.Speed,
		TensionLeft:   f.Lines[model.Left].Tension,
		TensionRight:  f.Lines[model.Right].Tension,
		GroundContact: f.GroundContact,
		Faults:        int64(f.Faults),
	}
}
