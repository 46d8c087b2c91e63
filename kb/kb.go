package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/kitesim/model"
)

var (
	// ErrKiteExists is returned when adding a preset whose name is taken.
	ErrKiteExists = errors.New("kite already exists")
	// ErrKiteNotFound is returned for lookups of unknown presets.
	ErrKiteNotFound = errors.New("kite not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventKiteAdded EventType = iota
	EventKiteUpdated
	EventKiteRemoved
)

func (t EventType) String() string {
	switch t {
	case EventKiteAdded:
		return "added"
	case EventKiteUpdated:
		return "updated"
	case EventKiteRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when a preset changes.
type Event struct {
	Type EventType
	Kite model.KiteDefinition
}

// KnowledgeBase is an in-memory, thread-safe store of kite presets keyed by
// name. Definitions are stored and returned by value.
type KnowledgeBase struct {
	mu sync.RWMutex

	kites map[string]model.KiteDefinition

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		kites: make(map[string]model.KiteDefinition),
		subs:  make(map[int]func(Event)),
	}
}

// NewWithDefaults returns a KB holding the built-in delta preset.
func NewWithDefaults() *KnowledgeBase {
	kb := NewKnowledgeBase()
	_ = kb.AddKite(model.DefaultKite())
	return kb
}

// AddKite validates and stores a new preset.
func (kb *KnowledgeBase) AddKite(def model.KiteDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: empty name", model.ErrInvalidDefinition)
	}
	if err := def.Validate(); err != nil {
		return err
	}

	kb.mu.Lock()
	if _, exists := kb.kites[def.Name]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrKiteExists, def.Name)
	}
	kb.kites[def.Name] = def
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventKiteAdded, Kite: def})
	return nil
}

// UpdateKite replaces an existing preset.
func (kb *KnowledgeBase) UpdateKite(def model.KiteDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	kb.mu.Lock()
	if _, ok := kb.kites[def.Name]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrKiteNotFound, def.Name)
	}
	kb.kites[def.Name] = def
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventKiteUpdated, Kite: def})
	return nil
}

// RemoveKite deletes a preset.
func (kb *KnowledgeBase) RemoveKite(name string) error {
	kb.mu.Lock()
	def, ok := kb.kites[name]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrKiteNotFound, name)
	}
	delete(kb.kites, name)
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventKiteRemoved, Kite: def})
	return nil
}

// GetKite returns the preset called name.
func (kb *KnowledgeBase) GetKite(name string) (model.KiteDefinition, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	def, ok := kb.kites[name]
	if !ok {
		return model.KiteDefinition{}, fmt.Errorf("%w: %q", ErrKiteNotFound, name)
	}
	return def, nil
}

// ListKites returns a snapshot of all presets sorted by name.
func (kb *KnowledgeBase) ListKites() []model.KiteDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.KiteDefinition, 0, len(kb.kites))
	for _, k := range kb.kites {
		res = append(res, k)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// snapshotSubs copies the subscribers in registration order; callers hold mu.
func (kb *KnowledgeBase) snapshotSubs() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.subs[id])
	}
	return out
}

// notify runs outside the lock to avoid deadlocks.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
