package pulsesync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// cycleKind distinguishes the three ways a cycle can start.
type cycleKind int

const (
	cycleStart  cycleKind = iota // immediate fetch issued by Start
	cycleManual                  // TriggerManual
	cycleAuto                    // ticker
)

func (k cycleKind) manual() bool {
	return k != cycleAuto
}

func (k cycleKind) mode() string {
	if k.manual() {
		return "manual"
	}
	return "auto"
}

// ticker is the subset of *time.Ticker the run loop needs.
type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Synchronizer polls one remote resource and notifies its consumer only
// when the fetched state changes meaningfully.
//
// A Synchronizer is created idle with [New], configured with
// [Synchronizer.Configure] and driven with [Synchronizer.Start],
// [Synchronizer.Stop] and [Synchronizer.TriggerManual]:
//
//	s, _ := pulsesync.New(fetcher,
//	    pulsesync.OnUpdate(func(snap pulsesync.Snapshot) { render(snap) }),
//	    pulsesync.OnError(func(e pulsesync.ErrorInfo) { showBanner(e) }),
//	)
//	_ = s.Configure(pulsesync.SyncConfig{
//	    Interval:       10 * time.Second,
//	    Params:         pulsesync.Params{"lat": "28.6139", "lon": "77.2090"},
//	    EqualityFields: []string{"traffic.currentSpeed", "traffic.congestionScore"},
//	})
//	_ = s.Start(ctx)
//	defer s.Stop()
//
// At most one automatic and one manual fetch are in flight at a time; a tick
// that fires while a fetch is running is skipped. Fetch failures are
// reported and never stop the schedule. All methods are safe for concurrent use.
type Synchronizer struct {
	fetcher   Fetcher
	name      string
	logger    *slog.Logger
	onUpdate  func(Snapshot)
	onError   func(ErrorInfo)
	onLoading func(bool)
	onHealth  func(Health)
	recorder  Recorder
	newTicker func(time.Duration) ticker

	// deliverMu serializes cycle completions so comparison, state mutation
	// and callbacks of two cycles never interleave. Stop waits on it unless
	// called from the delivering goroutine itself.
	deliverMu sync.Mutex

	mu             sync.Mutex
	deliverer      uint64 // goroutine holding deliverMu, 0 if none
	cfg            *SyncConfig
	equal          EqualFunc
	running        bool
	generation     uint64
	runCtx         context.Context
	cancel         context.CancelFunc
	ticker         ticker
	baseline       Snapshot
	hasBaseline    bool
	awaitingFirst  bool
	lastErr        *ErrorInfo
	health         Health
	autoInFlight   bool
	manualInFlight bool
	stats          Stats
}

// New creates an idle [Synchronizer] around the given fetcher.
//
// Returns an error if fetcher is nil or an option is invalid.
func New(fetcher Fetcher, opts ...SyncOption) (*Synchronizer, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher cannot be nil")
	}

	cfg := &syncConfig{name: "default"}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Synchronizer{
		fetcher:   fetcher,
		name:      cfg.name,
		logger:    logger.With("panel", cfg.name),
		onUpdate:  cfg.onUpdate,
		onError:   cfg.onError,
		onLoading: cfg.onLoading,
		onHealth:  cfg.onHealth,
		recorder:  cfg.recorder,
		newTicker: newTimeTicker,
		health:    HealthUnknown,
	}, nil
}

// Name returns the name given with [WithName].
func (s *Synchronizer) Name() string {
	return s.name
}

// Configure replaces the configuration.
//
// Configure may only be called while the synchronizer is stopped; otherwise
// it returns an error wrapping [ErrIllegalState]. It returns an error
// wrapping [ErrInvalidConfig] if the interval is not positive, no equality
// rule is given, or the fetcher rejects the params. A successful Configure
// drops any retained baseline, since it may describe different params.
func (s *Synchronizer) Configure(cfg SyncConfig) error {
	if s.Running() {
		return illegalState("configure called while running")
	}

	if err := cfg.validate(); err != nil {
		return err
	}
	if v, ok := s.fetcher.(ParamsValidator); ok {
		if err := v.ValidateParams(cfg.Params); err != nil {
			return fmt.Errorf("%w: params: %w", ErrInvalidConfig, err)
		}
	}

	cp := cfg.clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	// re-check: Start may have raced with validation
	if s.running {
		return illegalState("configure called while running")
	}
	s.cfg = &cp
	s.equal = cp.equalFunc()
	s.baseline = nil
	s.hasBaseline = false
	return nil
}

// Config returns a copy of the current configuration and whether one is set.
func (s *Synchronizer) Config() (SyncConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return SyncConfig{}, false
	}
	return s.cfg.clone(), true
}

// Start begins polling.
//
// Start runs one fetch immediately (with the loading phase shown and the
// result always delivered to the update callback) and then schedules a
// cycle every configured interval. Start is non-blocking and idempotent:
// calling it while running is a no-op. Cancelling ctx has the same effect
// on the schedule as [Synchronizer.Stop], except that state is kept until
// Stop is called.
//
// Returns an error wrapping [ErrIllegalState] if Configure was never called.
func (s *Synchronizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.cfg == nil {
		s.mu.Unlock()
		return illegalState("start called before configure")
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.generation++
	gen := s.generation
	s.runCtx = runCtx
	s.cancel = cancel
	s.awaitingFirst = true
	s.health = HealthUnknown
	s.manualInFlight = true
	s.ticker = s.newTicker(s.cfg.Interval)
	t := s.ticker
	interval := s.cfg.Interval
	s.mu.Unlock()

	s.logger.Info("synchronizer started", "interval", interval.String())

	go s.runCycle(runCtx, gen, cycleStart)
	go s.loop(runCtx, gen, t)
	return nil
}

// Stop halts polling.
//
// Stop cancels the ticker synchronously and cancels the context of any
// in-flight fetch. Results of cycles started before Stop are discarded:
// no callback fires for them. Stop clears the last error and, unless
// [SyncConfig.RetainBaselineOnStop] is set, the baseline.
//
// When Stop returns, no callback of the stopped run is executing or will
// execute, except the one Stop was called from.
//
// Stop is idempotent and safe to call before Start or from a callback.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.generation++
	s.cancel()
	s.ticker.Stop()
	s.ticker = nil
	s.autoInFlight = false
	s.manualInFlight = false
	s.lastErr = nil
	s.health = HealthUnknown
	if s.cfg != nil && !s.cfg.RetainBaselineOnStop {
		s.baseline = nil
		s.hasBaseline = false
	}
	deliverer := s.deliverer
	s.mu.Unlock()

	// wait out a delivery running on another goroutine; from inside a
	// callback the generation checks in complete keep the rest silent
	if deliverer == 0 || deliverer != curGoroutineID() {
		s.deliverMu.Lock()
		s.deliverMu.Unlock()
	}

	s.logger.Info("synchronizer stopped")
}

// TriggerManual runs one fetch outside the schedule.
//
// The loading callback receives true before the fetch and false after its
// result is delivered. A successful manual fetch always reaches the update
// callback, even when nothing changed, unless [SyncConfig.QuietManualFetch]
// is set. TriggerManual returns immediately.
//
// Returns an error wrapping [ErrIllegalState] if the synchronizer is not
// running or a manual fetch is already in flight; triggers are rejected,
// not queued.
func (s *Synchronizer) TriggerManual() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return illegalState("manual trigger while stopped")
	}
	if s.manualInFlight {
		s.mu.Unlock()
		return illegalState("manual fetch already in flight")
	}
	s.manualInFlight = true
	gen := s.generation
	ctx := s.runCtx
	s.mu.Unlock()

	go s.runCycle(ctx, gen, cycleManual)
	return nil
}

// Running reports whether the synchronizer is started.
func (s *Synchronizer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Baseline returns a copy of the last accepted snapshot.
func (s *Synchronizer) Baseline() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasBaseline {
		return nil, false
	}
	return s.baseline.Clone(), true
}

// LastError returns the most recent failure since the last success.
func (s *Synchronizer) LastError() (ErrorInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr == nil {
		return ErrorInfo{}, false
	}
	return *s.lastErr, true
}

// Health returns the current fetch health.
func (s *Synchronizer) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

// Stats returns a copy of the synchronizer's counters.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// loop fires automatic cycles until ctx is cancelled.
func (s *Synchronizer) loop(ctx context.Context, gen uint64, t ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			s.tick(ctx, gen)
		}
	}
}

// tick starts an automatic cycle unless one is still in flight.
func (s *Synchronizer) tick(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if !s.running || s.generation != gen {
		s.mu.Unlock()
		return
	}
	if s.autoInFlight || s.manualInFlight {
		s.stats.SkippedTicks++
		s.mu.Unlock()
		s.logger.Debug("tick skipped, fetch in flight")
		if s.recorder != nil {
			s.recorder.ObserveSkippedTick(s.name)
		}
		return
	}
	s.autoInFlight = true
	s.mu.Unlock()

	go s.runCycle(ctx, gen, cycleAuto)
}

// runCycle performs one fetch and delivers its outcome.
func (s *Synchronizer) runCycle(ctx context.Context, gen uint64, kind cycleKind) {
	if kind.manual() {
		s.deliverLoading(gen, true)
	}

	s.mu.Lock()
	params := copyParams(s.cfg.Params)
	s.mu.Unlock()

	correlationID := uuid.NewString()
	started := time.Now()
	snap, err := s.safeFetch(WithCorrelationID(ctx, correlationID), params, correlationID)

	s.complete(gen, kind, snap, err, time.Since(started), correlationID)
}

// safeFetch calls the fetcher with panic recovery. A panicking fetcher is
// reported as a bad response carrying the correlation ID.
func (s *Synchronizer) safeFetch(ctx context.Context, params Params, correlationID string) (snap Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("fetcher panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			snap = nil
			err = fmt.Errorf("%w: fetcher panic (correlation_id: %s)", ErrBadResponse, correlationID)
		}
	}()

	snap, err = s.fetcher.Fetch(ctx, params)
	if err == nil && snap == nil {
		err = fmt.Errorf("%w: empty snapshot", ErrBadResponse)
	}
	return snap, err
}

// deliverLoading emits a loading transition if gen is still current.
func (s *Synchronizer) deliverLoading(gen uint64, loading bool) {
	if s.onLoading == nil {
		return
	}

	s.lockDelivery()
	defer s.unlockDelivery()

	if !s.isCurrent(gen) {
		return
	}
	invokeSafe(s.logger, "loading", func() { s.onLoading(loading) })
}

// lockDelivery acquires deliverMu and records the delivering goroutine so
// a Stop issued from one of its callbacks does not wait on itself.
func (s *Synchronizer) lockDelivery() {
	s.deliverMu.Lock()
	id := curGoroutineID()
	s.mu.Lock()
	s.deliverer = id
	s.mu.Unlock()
}

func (s *Synchronizer) unlockDelivery() {
	s.mu.Lock()
	s.deliverer = 0
	s.mu.Unlock()
	s.deliverMu.Unlock()
}

var goroutinePrefix = []byte("goroutine ")

// curGoroutineID parses the current goroutine's ID from its stack header.
func curGoroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, goroutinePrefix)
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		buf = buf[:i]
	}
	id, err := strconv.ParseUint(string(buf), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("pulsesync: cannot parse goroutine id: %v", err))
	}
	return id
}

// isCurrent reports whether gen is the running generation.
func (s *Synchronizer) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.generation == gen
}

// complete applies a finished cycle to the state and issues callbacks.
//
// Completions from an older generation (the synchronizer was stopped, or
// stopped and restarted, while the fetch was in flight) are dropped.
func (s *Synchronizer) complete(gen uint64, kind cycleKind, snap Snapshot, fetchErr error, elapsed time.Duration, correlationID string) {
	s.lockDelivery()
	defer s.unlockDelivery()

	now := time.Now()

	s.mu.Lock()
	if !s.running || s.generation != gen {
		s.stats.Discarded++
		s.mu.Unlock()
		s.logger.Debug("discarding late completion",
			"mode", kind.mode(),
			"correlation_id", correlationID,
		)
		return
	}

	if kind.manual() {
		s.manualInFlight = false
	} else {
		s.autoInFlight = false
	}
	s.stats.Cycles++

	var (
		update       Snapshot
		errInfo      *ErrorInfo
		healthChange bool
		outcome      = "ok"
	)

	if fetchErr != nil {
		errKind, wrapped := classify(fetchErr)
		outcome = errKind.String()
		info := ErrorInfo{
			Kind:          errKind,
			Err:           wrapped,
			Manual:        kind.manual(),
			At:            now,
			CorrelationID: correlationID,
		}
		s.lastErr = &info
		errInfo = &info
		s.stats.Errors++
		if s.health != HealthFailing {
			s.health = HealthFailing
			healthChange = true
		}
	} else {
		s.lastErr = nil
		s.stats.LastSuccessAt = now
		if s.health != HealthOK {
			s.health = HealthOK
			healthChange = true
		}

		if s.shouldNotify(kind, snap) {
			s.baseline = snap.Clone()
			s.hasBaseline = true
			s.stats.Updates++
			s.stats.LastUpdateAt = now
			update = snap.Clone()
		}
		s.awaitingFirst = false
	}
	health := s.health
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.ObserveCycle(s.name, kind.mode(), outcome, elapsed)
		if update != nil {
			s.recorder.ObserveUpdate(s.name)
		}
	}

	if errInfo != nil {
		s.logger.Warn("fetch failed",
			"mode", kind.mode(),
			"kind", errInfo.Kind.String(),
			"correlation_id", correlationID,
			"latency_ms", elapsed.Milliseconds(),
			"error", errInfo.Err.Error(),
		)
		if s.onError != nil && s.isCurrent(gen) {
			info := *errInfo
			invokeSafe(s.logger, "error", func() { s.onError(info) })
		}
	} else {
		s.logger.Debug("fetch completed",
			"mode", kind.mode(),
			"changed", update != nil,
			"latency_ms", elapsed.Milliseconds(),
		)
		if update != nil && s.onUpdate != nil && s.isCurrent(gen) {
			invokeSafe(s.logger, "update", func() { s.onUpdate(update) })
		}
	}

	// a callback above may have stopped the synchronizer
	if !s.isCurrent(gen) {
		return
	}

	if healthChange && s.onHealth != nil {
		invokeSafe(s.logger, "health", func() { s.onHealth(health) })
	}

	if kind.manual() && s.onLoading != nil && s.isCurrent(gen) {
		invokeSafe(s.logger, "loading", func() { s.onLoading(false) })
	}
}

// shouldNotify decides whether a successful snapshot becomes the new
// baseline. Caller must hold s.mu.
func (s *Synchronizer) shouldNotify(kind cycleKind, snap Snapshot) bool {
	switch {
	case s.awaitingFirst, !s.hasBaseline:
		return true
	case kind == cycleStart:
		return true
	case kind == cycleManual && !s.cfg.QuietManualFetch:
		return true
	default:
		return !s.equal(s.baseline, snap)
	}
}

// invokeSafe calls a consumer callback with panic recovery.
// Panics are logged but do not propagate.
func invokeSafe(logger *slog.Logger, callback string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback panicked",
				"callback", callback,
				"panic", r,
			)
		}
	}()
	fn()
}
