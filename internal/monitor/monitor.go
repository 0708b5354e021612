// Package monitor keeps the selected input device in sync with the devices
// the OS currently reports.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/dictation-tray/internal/audio"
	"github.com/petems/dictation-tray/internal/power"
	"github.com/petems/dictation-tray/internal/selector"
)

var (
	// ErrScanSkipped is returned when a non-forced scan is dropped because
	// another scan is running or the last one finished too recently.
	ErrScanSkipped = errors.New("device scan skipped")

	// ErrSelectionPinned is returned for manual selection while a stream is
	// bound to the current device.
	ErrSelectionPinned = errors.New("device selection is pinned by an active stream")
)

const (
	DefaultInterval = 10 * time.Second
	DefaultCooldown = time.Second
)

// Executor runs notification callbacks in the UI-owning context.
type Executor interface {
	Post(fn func()) error
}

// Persister stores the selected device identity.
type Persister interface {
	PersistDevice(dev audio.Device) error
}

// Options configures a Monitor.
type Options struct {
	Catalog     audio.Catalog
	Preferences *selector.PreferenceIndex
	Executor    Executor
	Persister   Persister
	Logger      zerolog.Logger

	Interval time.Duration
	Cooldown time.Duration

	// Preferred is the device identity persisted by a previous run. It is
	// honoured by the first scan when both index and name still match.
	Preferred audio.Device

	Now func() time.Time
}

// State is an immutable view of the selection.
type State struct {
	Snapshot audio.Snapshot
	Current  audio.Device
	LastScan time.Time
	Scanned  bool
}

// Monitor owns the selection state. All writes happen while holding the
// scan gate; readers get copies through State.
type Monitor struct {
	catalog  audio.Catalog
	exec     Executor
	persist  Persister
	log      zerolog.Logger
	interval time.Duration
	cooldown time.Duration
	now      func() time.Time

	prefs atomic.Pointer[selector.PreferenceIndex]
	state atomic.Pointer[State]

	// gate admits one scan at a time. Fields below it are only touched
	// while holding it.
	gate      chan struct{}
	lastScan  time.Time
	preferred audio.Device

	pins     atomic.Int32
	deferred atomic.Bool
	requests chan struct{}

	subsMu sync.Mutex
	subs   []*subscriber
}

type subscriber struct {
	fn func(Change)
}

// New creates a monitor. The selection stays empty until the first scan.
func New(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Preferred == (audio.Device{}) {
		opts.Preferred.Index = audio.NoDevice
	}

	m := &Monitor{
		catalog:   opts.Catalog,
		exec:      opts.Executor,
		persist:   opts.Persister,
		log:       opts.Logger.With().Str("component", "monitor").Logger(),
		interval:  opts.Interval,
		cooldown:  opts.Cooldown,
		now:       opts.Now,
		gate:      make(chan struct{}, 1),
		preferred: opts.Preferred,
		requests:  make(chan struct{}, 1),
	}
	m.prefs.Store(opts.Preferences)
	m.state.Store(&State{Current: audio.Device{Index: audio.NoDevice}})
	return m
}

// State returns the current selection state.
func (m *Monitor) State() State {
	return *m.state.Load()
}

// Current returns the selected device; its Index is NoDevice when none is
// selected.
func (m *Monitor) Current() audio.Device {
	return m.state.Load().Current
}

// Preferences returns the active preference index.
func (m *Monitor) Preferences() *selector.PreferenceIndex {
	return m.prefs.Load()
}

// Subscribe registers fn for change notifications. Notifications are
// delivered through the executor in scan-completion order. The returned
// func removes the subscription.
func (m *Monitor) Subscribe(fn func(Change)) (unsubscribe func()) {
	s := &subscriber{fn: fn}
	m.subsMu.Lock()
	m.subs = append(m.subs, s)
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		m.subs = slices.DeleteFunc(m.subs, func(o *subscriber) bool { return o == s })
	}
}

// Scan runs a periodic or triggered scan. It is dropped with
// ErrScanSkipped when another scan holds the gate or the previous scan
// completed within the cooldown window.
func (m *Monitor) Scan(ctx context.Context) (State, error) {
	select {
	case m.gate <- struct{}{}:
	default:
		return m.State(), ErrScanSkipped
	}
	defer m.release()

	if !m.lastScan.IsZero() && m.now().Sub(m.lastScan) < m.cooldown {
		return m.State(), ErrScanSkipped
	}
	return m.scanLocked(ctx, scanRequest{reason: ReasonScan})
}

// Rescan forces a scan. It waits for any in-flight scan and ignores the
// cooldown.
func (m *Monitor) Rescan(ctx context.Context) (State, error) {
	if err := m.acquire(ctx); err != nil {
		return m.State(), err
	}
	defer m.release()
	return m.scanLocked(ctx, scanRequest{reason: ReasonScan})
}

// Request asks the Run loop for a scan without blocking. Requests coalesce
// and are subject to the cooldown.
func (m *Monitor) Request() {
	select {
	case m.requests <- struct{}{}:
	default:
	}
}

// Select makes idx the current device after re-validating it against a
// fresh scan.
func (m *Monitor) Select(ctx context.Context, idx audio.Index) (audio.Device, error) {
	if m.pins.Load() > 0 {
		return m.Current(), ErrSelectionPinned
	}
	if err := m.acquire(ctx); err != nil {
		return m.Current(), err
	}
	defer m.release()

	st, err := m.scanLocked(ctx, scanRequest{reason: ReasonManual, want: idx})
	if err != nil {
		return st.Current, err
	}
	if st.Current.Index != idx {
		return st.Current, fmt.Errorf("select device %d: %w", idx, audio.ErrDeviceInvalidated)
	}
	return st.Current, nil
}

// Fallback rescans and switches to the best device other than failed.
func (m *Monitor) Fallback(ctx context.Context, failed audio.Device) (audio.Device, error) {
	return m.Reselect(ctx, selector.ExcludeOf(failed.Index), ReasonFallback)
}

// Reselect rescans and picks the best device outside exclude, even when
// the current device is still present. Scan and selection happen under one
// gate hold so a periodic scan cannot interleave. When nothing outside
// exclude is available the current device is kept if still listed and
// ErrNoDeviceAvailable is returned.
func (m *Monitor) Reselect(ctx context.Context, exclude selector.Exclude, reason Reason) (audio.Device, error) {
	if err := m.acquire(ctx); err != nil {
		return m.Current(), err
	}
	defer m.release()

	st, err := m.scanLocked(ctx, scanRequest{
		reason:   reason,
		exclude:  exclude,
		reselect: true,
	})
	if err != nil {
		return st.Current, err
	}
	if !st.Current.Valid() || exclude.Has(st.Current.Index) {
		return st.Current, audio.ErrNoDeviceAvailable
	}
	return st.Current, nil
}

// Pin marks the current device as bound to a live stream. While pinned, a
// vanished selection is not replaced; replacement happens on the first scan
// after the last pin is released.
func (m *Monitor) Pin() (release func()) {
	m.pins.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			if m.pins.Add(-1) == 0 && m.deferred.Load() {
				m.Request()
			}
		})
	}
}

// SetPreferences swaps in a new preference index. Subscribers are told so
// menus can re-rank; the selection itself only moves on a later loss.
func (m *Monitor) SetPreferences(p *selector.PreferenceIndex) {
	old := m.prefs.Swap(p)
	if old.Equal(p) {
		return
	}
	m.log.Info().Int("rules", p.Len()).Msg("Microphone preferences updated")

	st := m.State()
	m.emit(Change{
		Old:      st.Current,
		New:      st.Current,
		Snapshot: st.Snapshot,
		Reason:   ReasonPreferences,
		At:       m.now(),
	})
}

// Run drives periodic scans until ctx is done. Sleep stops the timer and
// holds scan requests; wake forces a scan and restarts both.
func (m *Monitor) Run(ctx context.Context, events <-chan power.Event) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	tick := ticker.C
	requests := m.requests

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			m.scanQuietly(ctx)
		case <-requests:
			m.scanQuietly(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev {
			case power.WillSleep:
				m.log.Info().Msg("System sleeping, pausing device scans")
				ticker.Stop()
				tick = nil
				requests = nil
			case power.DidWake:
				m.log.Info().Msg("System woke, rescanning devices")
				if _, err := m.Rescan(ctx); err != nil && ctx.Err() == nil {
					m.log.Warn().Err(err).Msg("Wake rescan failed")
				}
				ticker.Reset(m.interval)
				tick = ticker.C
				requests = m.requests
			}
		}
	}
}

func (m *Monitor) scanQuietly(ctx context.Context) {
	if _, err := m.Scan(ctx); err != nil && !errors.Is(err, ErrScanSkipped) && ctx.Err() == nil {
		m.log.Debug().Err(err).Msg("Periodic scan failed")
	}
}

func (m *Monitor) acquire(ctx context.Context) error {
	select {
	case m.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) release() {
	<-m.gate
}

type scanRequest struct {
	reason   Reason
	exclude  selector.Exclude
	reselect bool
	want     audio.Index
}

// scanLocked performs one scan and commits the result. The gate must be
// held. A catalog error leaves the state untouched.
func (m *Monitor) scanLocked(ctx context.Context, req scanRequest) (State, error) {
	snap, err := m.catalog.Scan(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("Device scan failed, keeping previous state")
		return m.State(), err
	}

	now := m.now()
	m.lastScan = now
	old := m.State()
	next := State{
		Snapshot: snap,
		Current:  m.resolve(old, snap, req),
		LastScan: now,
		Scanned:  true,
	}
	m.state.Store(&next)

	if !old.Scanned {
		m.preferred = audio.Device{Index: audio.NoDevice}
	}

	change := Change{
		Old:         old.Current,
		New:         next.Current,
		ListChanged: !old.Snapshot.Equal(snap),
		Snapshot:    snap,
		Reason:      req.reason,
		At:          now,
	}
	if change.SelectionChanged() {
		m.logSwitch(change)
		if next.Current.Valid() {
			m.persistDevice(next.Current)
		}
	}
	if change.SelectionChanged() || change.ListChanged {
		m.emit(change)
	}
	return next, nil
}

// resolve decides the selection for a fresh snapshot.
func (m *Monitor) resolve(old State, snap audio.Snapshot, req scanRequest) audio.Device {
	cur := old.Current
	if req.reason == ReasonManual {
		if dev, ok := snap.Lookup(req.want); ok {
			return dev
		}
	}

	switch {
	case req.reselect:
		m.deferred.Store(false)
		if dev := m.pick(snap, req.exclude); dev.Valid() {
			return dev
		}
		if cur.Valid() && snap.Contains(cur) {
			dev, _ := snap.Lookup(cur.Index)
			m.log.Warn().Str("device", dev.Name).Msg("No alternative microphone, keeping current")
			return dev
		}
		return audio.Device{Index: audio.NoDevice}
	case !old.Scanned && m.preferred.Valid() && snap.Contains(m.preferred):
		dev, _ := snap.Lookup(m.preferred.Index)
		return dev
	case cur.Valid() && snap.Contains(cur):
		dev, _ := snap.Lookup(cur.Index)
		return dev
	case cur.Valid() && m.pins.Load() > 0:
		m.log.Warn().Str("device", cur.Name).Msg("Selected device vanished while recording, deferring switch")
		m.deferred.Store(true)
		return cur
	default:
		m.deferred.Store(false)
		return m.pick(snap, req.exclude)
	}
}

func (m *Monitor) pick(snap audio.Snapshot, exclude selector.Exclude) audio.Device {
	idx := selector.SelectBest(snap, m.prefs.Load(), exclude)
	if dev, ok := snap.Lookup(idx); ok {
		return dev
	}
	return audio.Device{Index: audio.NoDevice}
}

func (m *Monitor) logSwitch(c Change) {
	ev := m.log.Info()
	if !c.New.Valid() {
		ev = m.log.Warn()
	}
	ev.Str("from", c.Old.Name).
		Int("from_index", int(c.Old.Index)).
		Str("to", c.New.Name).
		Int("to_index", int(c.New.Index)).
		Stringer("reason", c.Reason).
		Msg("Microphone selection changed")
}

func (m *Monitor) persistDevice(dev audio.Device) {
	if m.persist == nil {
		return
	}
	if err := m.persist.PersistDevice(dev); err != nil {
		m.log.Error().Err(err).Str("device", dev.Name).Msg("Failed to persist selected device")
	}
}

func (m *Monitor) emit(c Change) {
	m.subsMu.Lock()
	subs := slices.Clone(m.subs)
	m.subsMu.Unlock()
	if len(subs) == 0 {
		return
	}

	deliver := func() {
		for _, s := range subs {
			s.fn(c)
		}
	}
	if m.exec == nil {
		deliver()
		return
	}
	if err := m.exec.Post(deliver); err != nil {
		m.log.Debug().Err(err).Msg("Dropping device change notification")
	}
}
