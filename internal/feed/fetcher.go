package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/metrics"
)

// FetcherConfig holds the failover timings.
type FetcherConfig struct {
	FastPollInterval     time.Duration // REST interval while no stream is live
	BackstopPollInterval time.Duration // REST interval while the stream is live
	LivenessWindow       time.Duration // stream silence tolerated before polling takes over
	StreamRetryDelay     time.Duration
	MaxConsecutiveErrors int
	ErrorRetryDelay      time.Duration
}

// DefaultFetcherConfig returns the stock timings.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		FastPollInterval:     time.Second,
		BackstopPollInterval: 5 * time.Second,
		LivenessWindow:       3 * time.Second,
		StreamRetryDelay:     5 * time.Second,
		MaxConsecutiveErrors: 3,
		ErrorRetryDelay:      time.Second,
	}
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	d := DefaultFetcherConfig()
	if c.FastPollInterval <= 0 {
		c.FastPollInterval = d.FastPollInterval
	}
	if c.BackstopPollInterval <= 0 {
		c.BackstopPollInterval = d.BackstopPollInterval
	}
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = d.LivenessWindow
	}
	if c.StreamRetryDelay <= 0 {
		c.StreamRetryDelay = d.StreamRetryDelay
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	if c.ErrorRetryDelay <= 0 {
		c.ErrorRetryDelay = d.ErrorRetryDelay
	}
	return c
}

// BookCallback receives every normalized snapshot. It runs on the symbol's
// worker goroutine and gates the next delivery for that symbol.
type BookCallback func(domain.OrderBook)

// DegradedHook is told when a symbol enters or leaves synthetic fallback.
type DegradedHook func(sym domain.Symbol, degraded bool)

// Fetcher runs one worker per subscribed symbol. Each worker prefers the
// stream source, backs it with REST polling, and serves synthetic snapshots
// once REST has failed MaxConsecutiveErrors times in a row.
type Fetcher struct {
	stream   StreamSource
	snapshot SnapshotSource
	cfg      FetcherConfig
	logger   *slog.Logger
	now      func() time.Time

	cbMu       sync.RWMutex
	callback   BookCallback
	onDegraded DegradedHook

	mu      sync.Mutex
	workers map[domain.Symbol]*worker

	active atomic.Int32
}

// NewFetcher creates a Fetcher. Either source may be nil.
func NewFetcher(stream StreamSource, snapshot SnapshotSource, cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		stream:   stream,
		snapshot: snapshot,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(slog.String("component", "fetcher")),
		now:      time.Now,
		workers:  make(map[domain.Symbol]*worker),
	}
}

// SetOrderbookCallback installs the snapshot consumer. It may be swapped at
// any time; nil discards snapshots.
func (f *Fetcher) SetOrderbookCallback(cb BookCallback) {
	f.cbMu.Lock()
	defer f.cbMu.Unlock()
	f.callback = cb
}

// OnDegraded installs a hook fired on every degraded/recovered transition.
func (f *Fetcher) OnDegraded(hook DegradedHook) {
	f.cbMu.Lock()
	defer f.cbMu.Unlock()
	f.onDegraded = hook
}

// Start launches the worker for sym. Starting an already running symbol is
// a no-op. The worker lives until StopSymbol, Stop, or ctx cancellation.
func (f *Fetcher) Start(ctx context.Context, sym domain.Symbol) error {
	if sym == "" {
		return fmt.Errorf("feed: start: %w: empty symbol", domain.ErrValidation)
	}
	if f.stream == nil && f.snapshot == nil {
		f.logger.Warn("no market data source configured, serving synthetic snapshots",
			slog.String("symbol", sym.String()))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.workers[sym]; ok {
		return nil
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &worker{f: f, sym: sym, cancel: cancel}
	w.status = Status{Symbol: sym, State: StateIdle}
	f.workers[sym] = w

	f.active.Add(1)
	w.setState(StateStarting)
	w.run(wctx)
	return nil
}

// StopSymbol stops the worker for sym and waits for it to exit. It is a
// no-op for a symbol that is not running.
func (f *Fetcher) StopSymbol(sym domain.Symbol) {
	f.mu.Lock()
	w, ok := f.workers[sym]
	delete(f.workers, sym)
	f.mu.Unlock()
	if ok {
		w.stop()
	}
}

// Stop stops every worker and waits for all of them. Calling it again, or
// on a fetcher that never started, does nothing.
func (f *Fetcher) Stop() {
	f.mu.Lock()
	workers := make([]*worker, 0, len(f.workers))
	for sym, w := range f.workers {
		workers = append(workers, w)
		delete(f.workers, sym)
	}
	f.mu.Unlock()

	for _, w := range workers {
		w.cancel()
	}
	for _, w := range workers {
		w.stop()
	}
}

// Running reports whether a worker for sym is alive.
func (f *Fetcher) Running(sym domain.Symbol) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.workers[sym]
	return ok
}

// ActiveWorkers counts workers that have been started and not yet stopped.
func (f *Fetcher) ActiveWorkers() int {
	return int(f.active.Load())
}

// Status returns the worker status for sym.
func (f *Fetcher) Status(sym domain.Symbol) (Status, bool) {
	f.mu.Lock()
	w, ok := f.workers[sym]
	f.mu.Unlock()
	if !ok {
		return Status{Symbol: sym, State: StateStopped}, false
	}
	return w.snapshotStatus(), true
}

// Statuses returns the status of every running worker.
func (f *Fetcher) Statuses() []Status {
	f.mu.Lock()
	workers := make([]*worker, 0, len(f.workers))
	for _, w := range f.workers {
		workers = append(workers, w)
	}
	f.mu.Unlock()

	out := make([]Status, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.snapshotStatus())
	}
	return out
}

// Degraded reports whether any symbol is currently served synthetically.
func (f *Fetcher) Degraded() bool {
	for _, st := range f.Statuses() {
		if st.Degraded {
			return true
		}
	}
	return false
}

func (f *Fetcher) currentCallback() (BookCallback, DegradedHook) {
	f.cbMu.RLock()
	defer f.cbMu.RUnlock()
	return f.callback, f.onDegraded
}

// --------------------------------------------------------------------------
// Worker
// --------------------------------------------------------------------------

type worker struct {
	f      *Fetcher
	sym    domain.Symbol
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	// deliverMu serializes callback invocations for the symbol.
	deliverMu sync.Mutex
	lastTS    uint64

	lastStream atomic.Int64 // unix nanos of the last stream snapshot

	statusMu sync.Mutex
	status   Status
}

func (w *worker) run(ctx context.Context) {
	if w.f.stream != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.streamLoop(ctx)
		}()
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()
}

func (w *worker) stop() {
	w.once.Do(func() {
		w.cancel()
		w.wg.Wait()
		w.setState(StateStopped)
		w.f.active.Add(-1)
		w.f.logger.Info("fetcher worker stopped", slog.String("symbol", w.sym.String()))
	})
}

func (w *worker) streamLoop(ctx context.Context) {
	src := w.f.stream
	for {
		err := src.Stream(ctx, w.sym, func(book domain.OrderBook) {
			w.lastStream.Store(w.f.now().UnixNano())
			w.setState(StateStreaming)
			w.setDegraded(false)
			w.deliver(ctx, book, src.Name())
		})
		if ctx.Err() != nil {
			return
		}
		w.f.logger.Warn("depth stream disconnected, retrying",
			slog.String("symbol", w.sym.String()),
			slog.String("error", errString(err)),
			slog.Duration("retry_in", w.f.cfg.StreamRetryDelay),
		)
		if !sleepCtx(ctx, w.f.cfg.StreamRetryDelay) {
			return
		}
	}
}

func (w *worker) streamLive() bool {
	last := w.lastStream.Load()
	if last == 0 {
		return false
	}
	return w.f.now().Sub(time.Unix(0, last)) < w.f.cfg.LivenessWindow
}

// pollLoop runs the REST backstop and the synthetic fallback.
func (w *worker) pollLoop(ctx context.Context) {
	cfg := w.f.cfg

	// Give the stream one liveness window to come up before polling.
	if w.f.stream != nil && !sleepCtx(ctx, cfg.LivenessWindow) {
		return
	}

	for {
		wait := cfg.FastPollInterval
		if w.streamLive() {
			wait = cfg.BackstopPollInterval
		}

		book, err := w.fetchSnapshot(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err == nil:
			w.recordSuccess()
			if !w.streamLive() {
				w.setState(StatePolling)
			}
			w.deliver(ctx, book, w.f.snapshot.Name())
		default:
			errs := w.recordFailure(err)
			if errs >= cfg.MaxConsecutiveErrors && !w.streamLive() {
				w.setDegraded(true)
				w.setState(StateFallbackSynthetic)
				w.deliverSynthetic(ctx)
			}
			wait = w.errorWait()
		}

		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// errorWait is the delay after a failed snapshot. While the stream is
// live the REST poll is only a backstop and keeps the slow cadence, so a
// rate-limited endpoint is not hit every ErrorRetryDelay.
func (w *worker) errorWait() time.Duration {
	cfg := w.f.cfg
	if w.streamLive() {
		return max(cfg.ErrorRetryDelay, cfg.BackstopPollInterval)
	}
	return cfg.ErrorRetryDelay
}

var errNoSnapshotSource = errors.New("no snapshot source configured")

func (w *worker) fetchSnapshot(ctx context.Context) (domain.OrderBook, error) {
	if w.f.snapshot == nil {
		return domain.OrderBook{}, errNoSnapshotSource
	}
	return w.f.snapshot.Snapshot(ctx, w.sym)
}

func (w *worker) recordSuccess() {
	w.statusMu.Lock()
	w.status.ConsecutiveErrors = 0
	w.statusMu.Unlock()
	w.setDegraded(false)
}

func (w *worker) recordFailure(err error) int {
	metrics.RESTErrors.WithLabelValues(w.sym.String()).Inc()
	w.statusMu.Lock()
	w.status.ConsecutiveErrors++
	n := w.status.ConsecutiveErrors
	w.statusMu.Unlock()

	if !errors.Is(err, errNoSnapshotSource) {
		w.f.logger.Warn("rest snapshot failed",
			slog.String("symbol", w.sym.String()),
			slog.Int("consecutive_errors", n),
			slog.String("error", err.Error()),
		)
	}
	return n
}

// deliverSynthetic stamps the placeholder with max(now, last delivered) so
// timestamps never go backwards.
func (w *worker) deliverSynthetic(ctx context.Context) {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()
	ts := uint64(w.f.now().UnixMilli())
	if ts < w.lastTS {
		ts = w.lastTS
	}
	w.deliverLocked(ctx, SyntheticBook(w.sym, ts), SourceSynthetic)
}

// deliver hands book to the callback. Deliveries for one symbol never
// overlap, and none happen once ctx is done.
func (w *worker) deliver(ctx context.Context, book domain.OrderBook, source string) {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()
	w.deliverLocked(ctx, book, source)
}

func (w *worker) deliverLocked(ctx context.Context, book domain.OrderBook, source string) {
	if ctx.Err() != nil {
		return
	}
	if book.Timestamp > w.lastTS {
		w.lastTS = book.Timestamp
	}

	cb, _ := w.f.currentCallback()
	if cb != nil {
		cb(book)
	}

	metrics.SnapshotsDelivered.WithLabelValues(w.sym.String(), source).Inc()
	w.statusMu.Lock()
	w.status.LastSource = source
	w.status.LastUpdate = w.f.now()
	w.status.Delivered++
	w.statusMu.Unlock()
}

func (w *worker) setState(s State) {
	w.statusMu.Lock()
	prev := w.status.State
	w.status.State = s
	w.statusMu.Unlock()
	if prev == s {
		return
	}
	metrics.FetcherState.WithLabelValues(w.sym.String()).Set(float64(s))
	w.f.logger.Info("fetcher state changed",
		slog.String("symbol", w.sym.String()),
		slog.String("from", prev.String()),
		slog.String("to", s.String()),
	)
}

func (w *worker) setDegraded(degraded bool) {
	w.statusMu.Lock()
	prev := w.status.Degraded
	w.status.Degraded = degraded
	w.statusMu.Unlock()
	if prev == degraded {
		return
	}

	gauge := 0.0
	if degraded {
		gauge = 1
		w.f.logger.Warn("feed degraded, serving synthetic snapshots", slog.String("symbol", w.sym.String()))
	} else {
		w.f.logger.Info("feed recovered", slog.String("symbol", w.sym.String()))
	}
	metrics.FeedDegraded.WithLabelValues(w.sym.String()).Set(gauge)

	if _, hook := w.f.currentCallback(); hook != nil {
		hook(w.sym, degraded)
	}
}

func (w *worker) snapshotStatus() Status {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	return w.status
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
