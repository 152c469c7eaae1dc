// Package progress reports the download progress of remote assets.
//
// A Tracker polls a Loader on a single background goroutine and publishes
// state transitions to an Observer. Callers only enqueue start and stop
// commands; the tracked set is owned by the polling goroutine.
package progress

import (
	"math"
	"sync"
	"time"

	"github.com/kimhsiao/arcache/internal/config"
	"github.com/kimhsiao/arcache/internal/logging"
	"github.com/kimhsiao/arcache/internal/telemetry"
)

// Loader is the download collaborator being observed.
type Loader interface {
	IsLoading(id string) bool
	// Progress returns the fraction downloaded in [0, 1].
	Progress(id string) float64
	TryGetLoaded(id string) (interface{}, bool)
}

// EventKind classifies an Event.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
)

// Event is a state transition of a tracked item. Progress is in percent.
type Event struct {
	Kind        EventKind
	ItemID      string
	DisplayName string
	Progress    float64
}

// Observer receives events on the polling goroutine. OnProgress must not call
// Tracker.Close.
type Observer interface {
	OnProgress(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnProgress calls f(e).
func (f ObserverFunc) OnProgress(e Event) { f(e) }

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
)

type command struct {
	kind      commandKind
	id        string
	name      string
	immediate bool
}

// item is owned by the polling goroutine.
type item struct {
	id       string
	name     string
	progress float64
	// observed is set once the loader has reported the item as loading.
	observed bool
	removeAt time.Time
}

// Tracker tracks downloads until they finish, fail or are stopped.
type Tracker struct {
	loader       Loader
	observer     Observer
	pollInterval time.Duration
	graceDelay   time.Duration
	hysteresis   float64
	metrics      *telemetry.Metrics
	now          func() time.Time

	mu       sync.Mutex
	commands []command
	running  bool
	closed   bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	items map[string]*item
	order []string
}

// NewTracker creates an idle Tracker. A nil cfg uses the defaults; a nil
// observer discards events.
func NewTracker(loader Loader, observer Observer, cfg *config.TrackerConfig, metrics *telemetry.Metrics) *Tracker {
	t := &Tracker{
		loader:       loader,
		observer:     observer,
		pollInterval: config.DefaultPollInterval,
		graceDelay:   config.DefaultGraceDelay,
		hysteresis:   config.DefaultHysteresis,
		metrics:      metrics,
		now:          time.Now,
		stopCh:       make(chan struct{}),
		items:        make(map[string]*item),
	}
	if cfg != nil {
		t.pollInterval = cfg.PollInterval
		t.graceDelay = cfg.GraceDelay
		t.hysteresis = cfg.Hysteresis
	}
	return t
}

// StartTracking registers an item. Tracking an already tracked item only
// updates its display name. The polling loop is started if idle.
func (t *Tracker) StartTracking(id, displayName string) {
	t.enqueue(command{kind: cmdStart, id: id, name: displayName})
}

// StopTracking removes an item now, or marks it complete and removes it
// after the grace delay.
func (t *Tracker) StopTracking(id string, removeImmediately bool) {
	t.enqueue(command{kind: cmdStop, id: id, immediate: removeImmediately})
}

func (t *Tracker) enqueue(c command) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		logging.Debug("Ignoring command on closed tracker",
			map[string]interface{}{"item_id": c.id})
		return
	}
	t.commands = append(t.commands, c)
	if t.running {
		return
	}
	t.running = true
	t.wg.Add(1)
	go t.loop(t.stopCh)
}

// IsRunning reports whether the polling loop is active.
func (t *Tracker) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Close stops the polling loop and waits for it. Later calls do nothing.
// Calling Close from an Observer deadlocks.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.stopCh)
	t.mu.Unlock()

	t.wg.Wait()
	logging.Debug("Progress tracker closed", nil)
}

func (t *Tracker) loop(stopCh <-chan struct{}) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			t.mu.Lock()
			t.running = false
			t.mu.Unlock()
			return
		case <-ticker.C:
		}
		if idle := t.tick(); idle {
			return
		}
	}
}

// tick applies pending commands, expires finished items and polls the
// loader. It reports true once nothing is tracked or pending, in which case
// the loop is marked idle.
func (t *Tracker) tick() bool {
	t.mu.Lock()
	pending := t.commands
	t.commands = nil
	t.mu.Unlock()

	now := t.now()
	for _, c := range pending {
		t.apply(c, now)
	}
	for _, id := range append([]string(nil), t.order...) {
		if it, ok := t.items[id]; ok {
			t.poll(it, now)
		}
	}
	t.metrics.SetTracked(len(t.items))

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.items) == 0 && len(t.commands) == 0 {
		t.running = false
		return true
	}
	return false
}

func (t *Tracker) apply(c command, now time.Time) {
	it, tracked := t.items[c.id]
	switch c.kind {
	case cmdStart:
		if tracked {
			if it.name != c.name {
				it.name = c.name
				t.emit(EventUpdated, it)
			}
			return
		}
		it = &item{id: c.id, name: c.name}
		t.items[c.id] = it
		t.order = append(t.order, c.id)
		t.emit(EventAdded, it)

	case cmdStop:
		if !tracked {
			return
		}
		if c.immediate {
			t.remove(it)
			return
		}
		t.complete(it, now)
	}
}

func (t *Tracker) poll(it *item, now time.Time) {
	if !it.removeAt.IsZero() {
		if !now.Before(it.removeAt) {
			t.remove(it)
		}
		return
	}

	if t.loader.IsLoading(it.id) {
		p := clampPercent(t.loader.Progress(it.id))
		it.observed = true
		if math.Abs(p-it.progress) > t.hysteresis {
			it.progress = p
			t.emit(EventUpdated, it)
		}
		return
	}

	if _, ok := t.loader.TryGetLoaded(it.id); !ok {
		logging.Warn("Download failed",
			map[string]interface{}{"item_id": it.id, "name": it.name})
		t.remove(it)
		return
	}
	// Already cached: nothing to animate.
	if !it.observed {
		t.remove(it)
		return
	}
	t.complete(it, now)
}

func (t *Tracker) complete(it *item, now time.Time) {
	if !it.removeAt.IsZero() {
		return
	}
	if it.progress != 100 {
		it.progress = 100
		t.emit(EventUpdated, it)
	}
	it.removeAt = now.Add(t.graceDelay)
}

func (t *Tracker) remove(it *item) {
	delete(t.items, it.id)
	for i, id := range t.order {
		if id == it.id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.emit(EventRemoved, it)
}

func (t *Tracker) emit(kind EventKind, it *item) {
	if t.observer == nil {
		return
	}
	t.observer.OnProgress(Event{
		Kind:        kind,
		ItemID:      it.id,
		DisplayName: it.name,
		Progress:    it.progress,
	})
}

func clampPercent(fraction float64) float64 {
	if math.IsNaN(fraction) || fraction < 0 {
		return 0
	}
	if fraction > 1 {
		return 100
	}
	return fraction * 100
}
