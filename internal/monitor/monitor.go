package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/verdrift/internal/errors"
	"github.com/conneroisu/verdrift/internal/fingerprint"
	"github.com/conneroisu/verdrift/internal/logging"
)

// Outcome classifies a single check.
type Outcome int

const (
	// OutcomeSkipped means another check was still in flight.
	OutcomeSkipped Outcome = iota
	// OutcomeNoBaseline means nothing has been seeded yet.
	OutcomeNoBaseline
	// OutcomeNotFound means the fetched page carries no fingerprint.
	OutcomeNotFound
	// OutcomeCurrent means the served build matches the baseline.
	OutcomeCurrent
	// OutcomeDrifted means a newer build is served.
	OutcomeDrifted
	// OutcomeFailed means the fetch or storage access failed.
	OutcomeFailed
)

// String returns the string representation of the Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeNoBaseline:
		return "no-baseline"
	case OutcomeNotFound:
		return "not-found"
	case OutcomeCurrent:
		return "current"
	case OutcomeDrifted:
		return "drifted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one CheckForUpdates call.
type Result struct {
	Outcome    Outcome
	Baseline   fingerprint.Fingerprint
	Observed   fingerprint.Fingerprint
	Resolution Resolution
	Err        error
	At         time.Time
}

// State is a snapshot of the monitor's transient run-state. Nothing in it
// is persisted.
type State struct {
	Polling    bool
	Visible    bool
	InFlight   bool
	Checks     uint64
	LastResult Result
}

// Ticker is the timer driving automatic checks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

func newRealTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

// Monitor watches one page for version drift.
type Monitor struct {
	cfg      Config
	store    Store
	fetcher  Fetcher
	handler  UpdateHandler
	reloader Reloader
	logger   logging.Logger

	newTicker func(time.Duration) Ticker
	now       func() time.Time

	inFlight atomic.Bool

	mu        sync.Mutex
	state     State
	stopTimer context.CancelFunc
	timerDone chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithStore sets the baseline store. Defaults to a MemoryStore.
func WithStore(s Store) Option { return func(m *Monitor) { m.store = s } }

// WithFetcher sets the page fetcher. Defaults to an HTTPFetcher.
func WithFetcher(f Fetcher) Option { return func(m *Monitor) { m.fetcher = f } }

// WithHandler sets the update handler. Defaults to a LogHandler.
func WithHandler(h UpdateHandler) Option { return func(m *Monitor) { m.handler = h } }

// WithReloader sets what runs after an accepted update has been persisted.
func WithReloader(r Reloader) Option { return func(m *Monitor) { m.reloader = r } }

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(m *Monitor) { m.logger = l } }

// WithTicker replaces the timer implementation.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(m *Monitor) { m.newTicker = newTicker }
}

// New creates a Monitor. The page starts out visible and idle.
func New(cfg Config, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:       cfg.withDefaults(),
		newTicker: newRealTicker,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = logging.NewNopLogger()
	}
	m.logger = m.logger.WithComponent("monitor")
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.fetcher == nil {
		m.fetcher = NewHTTPFetcher(nil)
	}
	if m.handler == nil {
		m.handler = &LogHandler{Logger: m.logger}
	}
	if m.reloader == nil {
		m.reloader = nopReloader{}
	}
	m.state.Visible = true

	return m, nil
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config { return m.cfg }

// State returns a snapshot of the run-state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.InFlight = m.inFlight.Load()
	return s
}

// Seed persists the fingerprint observed at page load as the baseline. It
// is a one-time initialisation, not a check. A zero fingerprint (page
// without a bundled entry script) disables nothing and writes nothing.
func (m *Monitor) Seed(ctx context.Context, fp fingerprint.Fingerprint) error {
	if fp.IsZero() {
		return nil
	}
	key := m.cfg.StorageKey()

	if m.cfg.SeedPolicy == SeedFirstLoad {
		existing, ok, err := m.store.Get(ctx, key)
		if err != nil {
			return err
		}
		if ok && existing != "" {
			m.logger.Debug(ctx, "Baseline already present", "baseline", existing)
			return nil
		}
	}

	if err := m.store.Set(ctx, key, fp.String()); err != nil {
		return err
	}
	m.logger.Debug(ctx, "Baseline seeded", "baseline", fp.String())
	return nil
}

// CheckForUpdates runs one comparison. A call made while another one is
// still fetching returns OutcomeSkipped immediately. Failures are logged and
// reported in the Result, never returned or panicked.
func (m *Monitor) CheckForUpdates(ctx context.Context) (res Result) {
	if !m.inFlight.CompareAndSwap(false, true) {
		return Result{Outcome: OutcomeSkipped, At: m.now()}
	}
	defer m.inFlight.Store(false)

	defer func() {
		if r := recover(); r != nil {
			err := errors.NewInternalError("CHECK_PANIC", fmt.Sprintf("check panicked: %v", r), nil)
			m.logger.Error(ctx, err, "Recovered from panic during check")
			res = Result{Outcome: OutcomeFailed, Err: err, At: m.now()}
		}
		m.mu.Lock()
		m.state.Checks++
		m.state.LastResult = res
		m.mu.Unlock()
	}()

	return m.check(ctx)
}

func (m *Monitor) check(ctx context.Context) Result {
	res := Result{At: m.now()}
	key := m.cfg.StorageKey()

	stored, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.Warn(ctx, err, "Failed to read baseline")
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	if !ok || stored == "" {
		res.Outcome = OutcomeNoBaseline
		return res
	}
	res.Baseline = fingerprint.Fingerprint(stored)

	html, err := m.fetcher.Fetch(ctx, m.cfg.URL)
	if err != nil {
		m.logger.Warn(ctx, err, "Update check failed, retrying on next tick", "url", m.cfg.URL)
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}

	observed, found := fingerprint.Extract(html)
	if !found {
		m.logger.Debug(ctx, "No fingerprint in fetched page", "url", m.cfg.URL)
		res.Outcome = OutcomeNotFound
		return res
	}
	res.Observed = observed

	if observed.Equal(res.Baseline) {
		res.Outcome = OutcomeCurrent
		return res
	}

	res.Outcome = OutcomeDrifted
	drift := Drift{
		URL:        m.cfg.URL,
		Baseline:   res.Baseline,
		Observed:   observed,
		DetectedAt: res.At,
	}
	m.logger.Info(ctx, "Version drift detected",
		"current", drift.Baseline.String(), "latest", drift.Observed.String())

	res.Resolution = m.handler.OnUpdate(ctx, drift)
	if res.Resolution != Accepted {
		return res
	}

	if err := m.store.Set(ctx, key, observed.String()); err != nil {
		m.logger.Warn(ctx, err, "Failed to persist accepted baseline")
		res.Err = err
		return res
	}
	if err := m.reloader.Reload(ctx, drift); err != nil {
		m.logger.Warn(ctx, err, "Reload after accepted update failed")
		res.Err = err
	}
	return res
}

// StartChecking (re)starts the periodic timer. Any timer already running is
// cancelled first, so at most one is ever active. Without AutoStart this is
// a no-op.
func (m *Monitor) StartChecking(ctx context.Context) {
	if !m.cfg.AutoStart {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	timerCtx, cancel := context.WithCancel(ctx)
	ticker := m.newTicker(m.cfg.PollInterval)
	done := make(chan struct{})

	m.stopTimer = cancel
	m.timerDone = done
	m.state.Polling = true

	go m.loop(timerCtx, ticker, done)
}

// StopChecking cancels the timer. It is idempotent and leaves an in-flight
// check running to completion.
func (m *Monitor) StopChecking() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Monitor) stopLocked() {
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
		m.timerDone = nil
	}
	m.state.Polling = false
}

func (m *Monitor) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer func() {
		ticker.Stop()
		m.mu.Lock()
		if m.timerDone == done {
			m.stopTimer = nil
			m.timerDone = nil
			m.state.Polling = false
		}
		m.mu.Unlock()
		close(done)
	}()

	// Checks outlive the timer: stopping prevents future ticks only.
	checkCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			go m.CheckForUpdates(checkCtx)
		}
	}
}

// SetVisible feeds a visibility change into the monitor. Going hidden stops
// the timer; becoming visible runs one immediate check and restarts the
// timer. Without PauseWhenHidden, and for repeated values, only the flag is
// recorded.
func (m *Monitor) SetVisible(ctx context.Context, visible bool) {
	m.mu.Lock()
	changed := m.state.Visible != visible
	m.state.Visible = visible
	m.mu.Unlock()

	if !m.cfg.PauseWhenHidden || !changed {
		return
	}

	if !visible {
		m.logger.Debug(ctx, "Page hidden, pausing checks")
		m.StopChecking()
		return
	}

	m.logger.Debug(ctx, "Page visible, checking now")
	m.CheckForUpdates(ctx)
	m.StartChecking(ctx)
}

// Run starts checking and blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.StartChecking(ctx)
	<-ctx.Done()
	m.StopChecking()
	return nil
}
