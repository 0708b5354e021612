package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/petems/dictation-tray/internal/audio"
	"github.com/petems/dictation-tray/internal/audio/audiotest"
	"github.com/petems/dictation-tray/internal/power"
	"github.com/petems/dictation-tray/internal/selector"
	"github.com/petems/dictation-tray/internal/ui"
)

type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (l *changeLog) add(c Change) {
	l.mu.Lock()
	l.changes = append(l.changes, c)
	l.mu.Unlock()
}

func (l *changeLog) all() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Change(nil), l.changes...)
}

type memPersister struct {
	mu    sync.Mutex
	saved []audio.Device
	err   error
}

func (p *memPersister) PersistDevice(dev audio.Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.saved = append(p.saved, dev)
	return nil
}

func (p *memPersister) last() audio.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.saved) == 0 {
		return audio.Device{Index: audio.NoDevice}
	}
	return p.saved[len(p.saved)-1]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	catalog *audiotest.Catalog
	persist *memPersister
	clock   *clock
	changes *changeLog
	mon     *Monitor
}

func scenarioPrefs() *selector.PreferenceIndex {
	return selector.NewPreferenceIndex(
		selector.Rule{Pattern: "yeti", Priority: 10},
		selector.Rule{Pattern: "airpods", Priority: 5},
	)
}

func newFixture(t *testing.T, prefs *selector.PreferenceIndex, devs ...audio.Device) *fixture {
	t.Helper()
	f := &fixture{
		catalog: audiotest.NewCatalog(devs...),
		persist: &memPersister{},
		clock:   &clock{now: time.Unix(1_700_000_000, 0)},
		changes: &changeLog{},
	}
	f.mon = New(Options{
		Catalog:     f.catalog,
		Preferences: prefs,
		Persister:   f.persist,
		Logger:      zerolog.Nop(),
		Cooldown:    time.Second,
		Now:         f.clock.Now,
	})
	f.mon.Subscribe(f.changes.add)
	return f
}

func scenarioDevices() []audio.Device {
	return audiotest.Devices("MacBook Mic", "Yeti X", "AirPods Pro")
}

func TestInitialScanSelectsPreferredDevice(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)

	st, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)
	require.Equal(t, audio.Index(1), st.Current.Index)
	require.Equal(t, "Yeti X", st.Current.Name)
	require.Equal(t, "Yeti X", f.persist.last().Name)

	changes := f.changes.all()
	require.Len(t, changes, 1)
	require.True(t, changes[0].ListChanged)
	require.Equal(t, audio.NoDevice, changes[0].Old.Index)
	require.Equal(t, KindSelectionAuto, changes[0].Kind())
}

func TestInitialScanWithoutPreferencesUsesFirstDevice(t *testing.T) {
	f := newFixture(t, selector.NewPreferenceIndex(), scenarioDevices()...)

	st, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)
	require.Equal(t, audio.Index(0), st.Current.Index)
}

func TestLostSelectionIsReplaced(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	_, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)

	devs := scenarioDevices()
	f.catalog.Set(devs[0], devs[2])
	f.clock.Advance(time.Minute)

	st, err := f.mon.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, audio.Index(2), st.Current.Index)

	changes := f.changes.all()
	require.Len(t, changes, 2)
	last := changes[1]
	require.Equal(t, audio.Index(1), last.Old.Index)
	require.Equal(t, audio.Index(2), last.New.Index)
	require.True(t, last.ListChanged)
	require.Equal(t, "AirPods Pro", f.persist.last().Name)
}

func TestRenamedIndexCountsAsLost(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	_, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)

	f.catalog.Set(audiotest.Devices("MacBook Mic", "USB Audio", "AirPods Pro")...)
	st, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AirPods Pro", st.Current.Name)
}

func TestNoOpScanEmitsNothing(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	_, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)

	_, err = f.mon.Rescan(context.Background())
	require.NoError(t, err)
	require.Len(t, f.changes.all(), 1)
}

func TestListChangeWithoutSelectionChange(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	_, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)

	f.catalog.Set(append(scenarioDevices(), audio.Device{Index: 3, Name: "Webcam", MaxInputChannels: 2})...)
	st, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Yeti X", st.Current.Name)

	changes := f.changes.all()
	require.Len(t, changes, 2)
	require.False(t, changes[1].SelectionChanged())
	require.Equal(t, KindListChanged, changes[1].Kind())
	require.Equal(t, 4, changes[1].Snapshot.Len())
}

func TestQueryErrorRetainsState(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	_, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)
	before := f.mon.State()

	f.catalog.Fail(errors.New("host API unavailable"))
	f.clock.Advance(time.Minute)
	_, err = f.mon.Scan(context.Background())

	var qe *audio.DeviceQueryError
	require.ErrorAs(t, err, &qe)
	require.Equal(t, before, f.mon.State())
	require.Len(t, f.changes.all(), 1)
}

func TestScanWithinCooldownIsDropped(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	_, err := f.mon.Scan(context.Background())
	require.NoError(t, err)

	f.clock.Advance(500 * time.Millisecond)
	_, err = f.mon.Scan(context.Background())
	require.ErrorIs(t, err, ErrScanSkipped)
	require.Equal(t, 1, f.catalog.Scans())

	_, err = f.mon.Rescan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, f.catalog.Scans())

	f.clock.Advance(2 * time.Second)
	_, err = f.mon.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, f.catalog.Scans())
}

func TestScansNeverOverlap(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	entered := f.catalog.Block()

	done := make(chan error, 1)
	go func() {
		_, err := f.mon.Rescan(context.Background())
		done <- err
	}()
	<-entered

	_, err := f.mon.Scan(context.Background())
	require.ErrorIs(t, err, ErrScanSkipped)

	forced := make(chan error, 1)
	go func() {
		_, err := f.mon.Rescan(context.Background())
		forced <- err
	}()

	select {
	case <-forced:
		t.Fatal("forced scan ran while another scan was in flight")
	case <-time.After(30 * time.Millisecond):
	}
	require.Equal(t, 1, f.catalog.Scans())

	f.catalog.Release()
	require.NoError(t, <-done)
	require.NoError(t, <-forced)
	require.Equal(t, 2, f.catalog.Scans())
}

func TestPersistedDeviceHonouredOnFirstScan(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	f.mon = New(Options{
		Catalog:     f.catalog,
		Preferences: scenarioPrefs(),
		Persister:   f.persist,
		Logger:      zerolog.Nop(),
		Now:         f.clock.Now,
		Preferred:   audio.Device{Index: 2, Name: "AirPods Pro"},
	})

	st, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AirPods Pro", st.Current.Name)
}

func TestPersistedDeviceIgnoredWhenNameDiffers(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	f.mon = New(Options{
		Catalog:     f.catalog,
		Preferences: scenarioPrefs(),
		Logger:      zerolog.Nop(),
		Now:         f.clock.Now,
		Preferred:   audio.Device{Index: 2, Name: "Old Headset"},
	})

	st, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Yeti X", st.Current.Name)
}

func TestManualSelect(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	_, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)

	dev, err := f.mon.Select(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, "MacBook Mic", dev.Name)
	require.Equal(t, "MacBook Mic", f.persist.last().Name)

	changes := f.changes.all()
	require.Equal(t, KindSelectionManual, changes[len(changes)-1].Kind())
}

func TestManualSelectOfVanishedDevice(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	_, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)

	_, err = f.mon.Select(context.Background(), 7)
	require.ErrorIs(t, err, audio.ErrDeviceInvalidated)
	require.Equal(t, "Yeti X", f.mon.Current().Name)
}

func TestManualSelectRejectedWhilePinned(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	_, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)

	release := f.mon.Pin()
	defer release()

	_, err = f.mon.Select(context.Background(), 0)
	require.ErrorIs(t, err, ErrSelectionPinned)
	require.Equal(t, "Yeti X", f.mon.Current().Name)
}

func TestFallbackExcludesFailedDevice(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), audiotest.Devices("MacBook Mic", "Yeti X", "AirPods Pro")...)
	_, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)

	f.catalog.Set(audiotest.Devices("MacBook Mic", "Yeti X")...)
	dev, err := f.mon.Fallback(context.Background(), audio.Device{Index: 1, Name: "Yeti X"})
	require.NoError(t, err)
	require.Equal(t, audio.Index(0), dev.Index)

	changes := f.changes.all()
	require.Equal(t, ReasonFallback, changes[len(changes)-1].Reason)
}

func TestReselectMovesOffPresentDevice(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	_, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)

	dev, err := f.mon.Reselect(context.Background(), selector.ExcludeOf(1), ReasonScan)
	require.NoError(t, err)
	require.Equal(t, "AirPods Pro", dev.Name)
	require.Equal(t, "AirPods Pro", f.persist.last().Name)

	changes := f.changes.all()
	last := changes[len(changes)-1]
	require.Equal(t, "Yeti X", last.Old.Name)
	require.False(t, last.ListChanged)
	require.Equal(t, KindSelectionAuto, last.Kind())
}

func TestFallbackWithNoCandidates(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), audiotest.Devices("Only Mic")...)
	_, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)

	before := len(f.changes.all())

	dev, err := f.mon.Fallback(context.Background(), audio.Device{Index: 0, Name: "Only Mic"})
	require.ErrorIs(t, err, audio.ErrNoDeviceAvailable)
	require.Equal(t, "Only Mic", dev.Name)
	require.Equal(t, "Only Mic", f.mon.Current().Name)
	require.Len(t, f.changes.all(), before)
}

func TestFallbackWithEmptyListClearsSelection(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), audiotest.Devices("Only Mic")...)
	_, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)

	f.catalog.Set()
	_, err = f.mon.Fallback(context.Background(), audio.Device{Index: 0, Name: "Only Mic"})
	require.ErrorIs(t, err, audio.ErrNoDeviceAvailable)
	require.False(t, f.mon.Current().Valid())
}

func TestPinDefersReplacement(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	_, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)

	release := f.mon.Pin()
	devs := scenarioDevices()
	f.catalog.Set(devs[0], devs[2])

	st, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Yeti X", st.Current.Name)
	require.Equal(t, 2, st.Snapshot.Len())

	release()
	st, err = f.mon.Rescan(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AirPods Pro", st.Current.Name)
}

func TestPersistFailureKeepsSelection(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	f.persist.err = errors.New("read-only file system")

	st, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Yeti X", st.Current.Name)
}

func TestSetPreferencesNotifiesOnlyOnChange(t *testing.T) {
	f := newFixture(t, scenarioPrefs(), scenarioDevices()...)
	_, err := f.mon.Rescan(context.Background())
	require.NoError(t, err)

	f.mon.SetPreferences(scenarioPrefs())
	require.Len(t, f.changes.all(), 1)

	f.mon.SetPreferences(selector.NewPreferenceIndex(selector.Rule{Pattern: "macbook", Priority: 20}))
	changes := f.changes.all()
	require.Len(t, changes, 2)
	require.Equal(t, KindPreferences, changes[1].Kind())
	require.Equal(t, "Yeti X", f.mon.Current().Name)
}

func TestNotificationsDeliveredInScanOrderThroughExecutor(t *testing.T) {
	d := ui.NewDispatcher(8)
	d.Start()
	defer d.Close()

	catalog := audiotest.NewCatalog(audiotest.Devices("A")...)
	mon := New(Options{Catalog: catalog, Executor: d, Logger: zerolog.Nop()})

	var mu sync.Mutex
	var sizes []int
	mon.Subscribe(func(c Change) {
		mu.Lock()
		sizes = append(sizes, c.Snapshot.Len())
		mu.Unlock()
	})

	for i := 2; i <= 6; i++ {
		names := make([]string, i)
		for j := range names {
			names[j] = string(rune('A' + j))
		}
		catalog.Set(audiotest.Devices(names...)...)
		_, err := mon.Rescan(context.Background())
		require.NoError(t, err)
	}
	require.NoError(t, d.Call(context.Background(), func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{2, 3, 4, 5, 6}, sizes)
}

func TestRunWakeForcesScanAndSleepPausesTimer(t *testing.T) {
	catalog := audiotest.NewCatalog(audiotest.Devices("Mic")...)
	mon := New(Options{Catalog: catalog, Logger: zerolog.Nop(), Interval: 5 * time.Millisecond})

	events := make(chan power.Event)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx, events) }()

	require.Eventually(t, func() bool { return catalog.Scans() >= 2 }, time.Second, time.Millisecond)

	events <- power.WillSleep
	time.Sleep(20 * time.Millisecond)
	paused := catalog.Scans()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, paused, catalog.Scans())

	events <- power.DidWake
	require.Eventually(t, func() bool { return catalog.Scans() > paused }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRequestWhileAsleepWaitsForWake(t *testing.T) {
	catalog := audiotest.NewCatalog(audiotest.Devices("Mic")...)
	mon := New(Options{Catalog: catalog, Logger: zerolog.Nop(), Interval: time.Hour})

	events := make(chan power.Event)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx, events)

	events <- power.WillSleep
	mon.Request()
	time.Sleep(30 * time.Millisecond)
	require.Zero(t, catalog.Scans())
	require.False(t, mon.State().Scanned)

	events <- power.DidWake
	require.Eventually(t, func() bool { return mon.State().Scanned }, time.Second, time.Millisecond)
	require.Equal(t, "Mic", mon.Current().Name)
}

func TestRequestTriggersScan(t *testing.T) {
	catalog := audiotest.NewCatalog(audiotest.Devices("Mic")...)
	mon := New(Options{Catalog: catalog, Logger: zerolog.Nop(), Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx, nil)

	mon.Request()
	require.Eventually(t, func() bool { return mon.State().Scanned }, time.Second, time.Millisecond)
	require.Equal(t, "Mic", mon.Current().Name)
}
