// Package liveness tracks when each device last delivered a file and derives
// its display state.
//
// Two independent flags drive the state: RecentlyActive is set by MarkSeen and
// cleared by a per-device debounce timer, Stale is recomputed by Sweep against
// the staleness threshold. The display state is derived from both, so rapid
// uploads and a concurrent sweep can never leave a device in a wrong state.
package liveness

import (
	"sync"
	"time"

	"telegate/internal/clock"
)

// DefaultDebounce is how long a device shows Active after an upload.
const DefaultDebounce = 500 * time.Millisecond

// DisplayState is the operator-facing state of a device.
type DisplayState string

const (
	StateIdle   DisplayState = "idle"
	StateActive DisplayState = "active"
	StateStale  DisplayState = "stale"
)

// Device is a point-in-time copy of one device's state.
type Device struct {
	Label          string       `json:"label"`
	Configured     bool         `json:"configured"`
	LastSeen       time.Time    `json:"last_seen"`
	RecentlyActive bool         `json:"recently_active"`
	Stale          bool         `json:"stale"`
	State          DisplayState `json:"state"`
	// Version increases with every change to the device, so consumers can
	// drop a snapshot that arrives after a newer one.
	Version uint64 `json:"version"`
}

// NeverSeen reports whether the device has not delivered a file this run.
func (d Device) NeverSeen() bool {
	return d.LastSeen.IsZero()
}

// Observer receives debounce-driven state changes: Idle to Active on the first
// upload of a burst, and Active back to Idle or Stale when the debounce
// expires. It is called without the tracker lock held.
type Observer interface {
	DeviceStateChanged(Device)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Device)

func (f ObserverFunc) DeviceStateChanged(d Device) { f(d) }

// Options configures a Tracker.
type Options struct {
	Debounce time.Duration
	Clock    clock.Clock
	Observer Observer
}

type deviceState struct {
	label          string
	configured     bool
	lastSeen       time.Time
	recentlyActive bool
	stale          bool
	generation     uint64
	version        uint64
	timer          *clock.Timer
}

func (d *deviceState) snapshot() Device {
	return Device{
		Label:          d.label,
		Configured:     d.configured,
		LastSeen:       d.lastSeen,
		RecentlyActive: d.recentlyActive,
		Stale:          d.stale,
		State:          displayState(d.recentlyActive, d.stale),
		Version:        d.version,
	}
}

func displayState(recentlyActive, stale bool) DisplayState {
	switch {
	case recentlyActive:
		return StateActive
	case stale:
		return StateStale
	default:
		return StateIdle
	}
}

// Tracker owns the device table. All access goes through one mutex.
type Tracker struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	clock    clock.Clock
	debounce time.Duration
	observer Observer
	started  time.Time
	version  uint64
	devices  map[string]*deviceState
	order    []string
	closed   bool
}

// NewTracker creates a tracker with the configured devices registered up
// front. Other labels are added on first MarkSeen.
func NewTracker(configured []string, opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	t := &Tracker{
		clock:    opts.Clock,
		debounce: opts.Debounce,
		observer: opts.Observer,
		started:  opts.Clock.Now(),
		devices:  make(map[string]*deviceState, len(configured)),
	}
	for _, label := range configured {
		if _, ok := t.devices[label]; ok {
			continue
		}
		t.devices[label] = &deviceState{label: label, configured: true}
		t.order = append(t.order, label)
	}
	return t
}

// Started returns the reference time used for devices never seen.
func (t *Tracker) Started() time.Time {
	return t.started
}

// MarkSeen records an upload from label at now. LastSeen only moves forward.
// The device shows Active until the debounce window passes without another
// MarkSeen.
func (t *Tracker) MarkSeen(label string, now time.Time) Device {
	t.mu.Lock()
	d := t.deviceLocked(label)
	if now.After(d.lastSeen) {
		d.lastSeen = now
	}
	wasActive := d.recentlyActive
	d.recentlyActive = true
	d.generation++
	t.touchLocked(d)
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if !t.closed {
		generation := d.generation
		d.timer = t.clock.AfterFunc(t.debounce, func() { t.expire(label, generation) })
	}
	snap := d.snapshot()
	if wasActive {
		t.mu.Unlock()
		return snap
	}
	t.notifyUnlock(snap)
	return snap
}

func (t *Tracker) expire(label string, generation uint64) {
	t.mu.Lock()
	d, ok := t.devices[label]
	if !ok || d.generation != generation || !d.recentlyActive {
		t.mu.Unlock()
		return
	}
	d.recentlyActive = false
	d.timer = nil
	t.touchLocked(d)
	t.notifyUnlock(d.snapshot())
}

func (t *Tracker) touchLocked(d *deviceState) {
	t.version++
	d.version = t.version
}

// notifyUnlock releases t.mu and delivers d to the observer. notifyMu is taken
// before t.mu is released so observers see changes in the order they happened.
func (t *Tracker) notifyUnlock(d Device) {
	if t.observer == nil {
		t.mu.Unlock()
		return
	}
	t.notifyMu.Lock()
	t.mu.Unlock()
	defer t.notifyMu.Unlock()
	t.observer.DeviceStateChanged(d)
}

func (t *Tracker) deviceLocked(label string) *deviceState {
	d, ok := t.devices[label]
	if !ok {
		d = &deviceState{label: label}
		t.devices[label] = d
		t.order = append(t.order, label)
	}
	return d
}

// TransitionKind is a staleness edge.
type TransitionKind string

const (
	BecameStale TransitionKind = "stale"
	Recovered   TransitionKind = "recovered"
)

// Transition is emitted by Sweep when a device's Stale flag changes.
type Transition struct {
	Kind   TransitionKind
	Device Device
}

// Sweep recomputes every device's Stale flag: a device is stale when more
// than threshold has passed since it was last seen, or since the tracker
// started if it was never seen. Only edges are returned, so repeated sweeps
// over a stale device report it once.
func (t *Tracker) Sweep(now time.Time, threshold time.Duration) []Transition {
	return t.SweepReport(now, threshold, nil)
}

// SweepReport is Sweep with report called for each edge on the same ordered
// path as observer notifications: a debounce change that happens after the
// sweep is delivered after its reports.
func (t *Tracker) SweepReport(now time.Time, threshold time.Duration, report func(Transition)) []Transition {
	t.mu.Lock()
	transitions := t.sweepLocked(now, threshold)
	if report == nil || len(transitions) == 0 {
		t.mu.Unlock()
		return transitions
	}
	t.notifyMu.Lock()
	t.mu.Unlock()
	defer t.notifyMu.Unlock()
	for _, tr := range transitions {
		report(tr)
	}
	return transitions
}

func (t *Tracker) sweepLocked(now time.Time, threshold time.Duration) []Transition {
	var transitions []Transition
	for _, label := range t.order {
		d := t.devices[label]
		reference := d.lastSeen
		if reference.IsZero() {
			reference = t.started
		}
		stale := now.Sub(reference) > threshold
		if stale == d.stale {
			continue
		}
		d.stale = stale
		t.touchLocked(d)
		kind := Recovered
		if stale {
			kind = BecameStale
		}
		transitions = append(transitions, Transition{Kind: kind, Device: d.snapshot()})
	}
	return transitions
}

// Snapshot returns all devices, configured ones first in configuration order,
// then others in the order they were first seen.
func (t *Tracker) Snapshot() []Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Device, 0, len(t.order))
	for _, label := range t.order {
		out = append(out, t.devices[label].snapshot())
	}
	return out
}

// Get returns one device.
func (t *Tracker) Get(label string) (Device, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.devices[label]
	if !ok {
		return Device{}, false
	}
	return d.snapshot(), true
}

// Close cancels pending debounce timers. Later MarkSeen calls still update
// LastSeen but leave the device Active.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, d := range t.devices {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
	}
}
