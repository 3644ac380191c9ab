package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avcs-dna/sentinel/internal/actuator"
	"github.com/avcs-dna/sentinel/internal/anomaly"
	"github.com/avcs-dna/sentinel/internal/config"
	"github.com/avcs-dna/sentinel/internal/control"
	"github.com/avcs-dna/sentinel/internal/feature"
	"github.com/avcs-dna/sentinel/internal/metrics"
	"github.com/avcs-dna/sentinel/internal/risk"
	"github.com/avcs-dna/sentinel/internal/store"
	"github.com/avcs-dna/sentinel/pkg/types"
)

// ErrUnknownAsset is returned for operations addressing an asset id the
// engine has no registration for.
var ErrUnknownAsset = errors.New("engine: unknown asset")

// Engine coordinates the fleet: per-asset sample windows, the evaluation
// worker pool, the risk history store and the actuation layer. All public
// methods are safe for concurrent use.
type Engine struct {
	// runMu serializes EvaluateTick and Reload: a reload never swaps
	// components while a tick's evaluations are in flight.
	runMu sync.Mutex

	mu     sync.RWMutex
	cfg    *config.Config
	assets map[string]*asset

	store   *store.Store
	applier actuator.Applier
	jobs    chan job

	now func() time.Time
}

// asset is the per-asset mutable state. Its mutex orders window bookkeeping,
// the evaluation pipeline and external stop/reset signals; at most one
// evaluation is in flight per asset at any time.
type asset struct {
	mu  sync.Mutex
	cfg config.AssetConfig

	agg     *feature.Aggregator
	forest  *anomaly.Forest
	est     *risk.Estimator
	machine *control.Machine

	windowStart time.Time
	open        map[string][]types.Sample
	queue       []window
	evaluating  bool

	// last is carried forward when scoring fails on a degenerate vector.
	last *types.AnomalyResult

	// pending annotations (actuation faults) attach to the next record.
	pending []string

	sensorFault bool
	updatedAt   time.Time
}

// window is one closed evaluation window awaiting scoring.
type window struct {
	start, end time.Time
	samples    map[string][]types.Sample
}

type job struct {
	ctx context.Context
	a   *asset
	win window
	col *collector
	wg  *sync.WaitGroup
}

// TickResult is everything one evaluation cycle produced.
type TickResult struct {
	Records  []*types.RiskRecord
	Commands []*types.ControlCommand
}

// collector gathers results from concurrently evaluating workers.
type collector struct {
	mu  sync.Mutex
	res TickResult
}

func (c *collector) add(rec *types.RiskRecord, cmd *types.ControlCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.res.Records = append(c.res.Records, rec)
	if cmd != nil {
		c.res.Commands = append(c.res.Commands, cmd)
	}
}

// New builds an Engine from cfg. The anomaly model is constructed once per
// asset here; it is frozen until the next Reload.
func New(cfg *config.Config, applier actuator.Applier) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		assets:  make(map[string]*asset, len(cfg.Assets)),
		store:   store.New(cfg.Engine.Retention),
		applier: applier,
		jobs:    make(chan job),
		now:     time.Now,
	}
	for _, ac := range cfg.Assets {
		a, err := e.buildAsset(cfg, ac)
		if err != nil {
			return nil, err
		}
		e.assets[ac.ID] = a
	}
	return e, nil
}

func (e *Engine) buildAsset(cfg *config.Config, ac config.AssetConfig) (*asset, error) {
	labels := feature.Schema(ac.Channels)
	forest, err := anomaly.New(cfg.Calibration, ac.Channels, labels)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", ac.ID, err)
	}
	return &asset{
		cfg:         ac,
		agg:         feature.New(ac, cfg.Control.StaleWindowLimit),
		forest:      forest,
		est:         risk.New(cfg.Risk, ac),
		machine:     control.New(cfg.Control, ac),
		windowStart: e.now(),
		open:        make(map[string][]types.Sample),
	}, nil
}

// Run starts the evaluation worker pool and blocks until ctx is cancelled.
// The pool size is fixed for the engine's lifetime; Reload does not resize it.
func (e *Engine) Run(ctx context.Context) {
	e.mu.RLock()
	workers := e.cfg.Engine.Workers
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-e.jobs:
					e.evaluate(j)
				}
			}
		}()
	}
	wg.Wait()
}

// IngestReport summarizes one ingest batch.
type IngestReport struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Ingest adds samples to the asset's open window. Samples timestamped before
// the open window are late arrivals and are rejected, never applied
// retroactively; samples for channels the asset does not own are rejected.
func (e *Engine) Ingest(assetID string, samples []types.Sample) (IngestReport, error) {
	a, ok := e.lookup(assetID)
	if !ok {
		return IngestReport{}, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var rep IngestReport
	channels := make(map[string]bool, len(a.cfg.Channels))
	for _, ch := range a.cfg.Channels {
		channels[ch.ID] = true
	}
	var late int
	for _, s := range samples {
		switch {
		case !channels[s.Channel]:
			rep.Rejected++
		case s.At.Before(a.windowStart):
			rep.Rejected++
			late++
		default:
			a.open[s.Channel] = append(a.open[s.Channel], s)
			rep.Accepted++
		}
	}
	if late > 0 {
		slog.Warn("late samples rejected", "asset", assetID, "count", late,
			"window_start", a.windowStart)
		a.annotate(types.AnnotationLateSample)
	}
	metrics.SamplesIngested.WithLabelValues(assetID).Add(float64(rep.Accepted))
	metrics.SamplesRejected.WithLabelValues(assetID).Add(float64(rep.Rejected))
	return rep, nil
}

// EvaluateTick closes every window that has elapsed by now, dispatches at
// most one queued window per asset to the worker pool, and waits for all
// dispatched evaluations to finish. A full per-asset queue drops the newly
// closed window with a warning rather than buffering without bound.
func (e *Engine) EvaluateTick(ctx context.Context, now time.Time) TickResult {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.mu.RLock()
	depth := e.cfg.Engine.QueueDepth
	assets := make([]*asset, 0, len(e.assets))
	for _, a := range e.assets {
		assets = append(assets, a)
	}
	e.mu.RUnlock()

	col := &collector{}
	var wg sync.WaitGroup
	for _, a := range assets {
		a.closeDue(now, depth)
		win, ok := a.take()
		if !ok {
			continue
		}
		wg.Add(1)
		select {
		case e.jobs <- job{ctx: ctx, a: a, win: win, col: col, wg: &wg}:
		case <-ctx.Done():
			a.release()
			wg.Done()
		}
	}
	wg.Wait()
	return col.res
}

// closeDue rolls the open window forward past now, queueing each closed
// window for evaluation. Called with the engine tick, so normally at most
// one window closes per call.
func (a *asset) closeDue(now time.Time, depth int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for !now.Before(a.windowStart.Add(a.cfg.Window)) {
		end := a.windowStart.Add(a.cfg.Window)
		win := window{start: a.windowStart, end: end, samples: a.open}
		a.windowStart = end
		a.open = make(map[string][]types.Sample)
		if len(a.queue) >= depth {
			slog.Warn("evaluation backlog full, window dropped",
				"asset", a.cfg.ID, "window_end", end, "depth", depth)
			metrics.WindowsDropped.WithLabelValues(a.cfg.ID).Inc()
			continue
		}
		a.queue = append(a.queue, win)
	}
}

// take pops the oldest queued window and marks the asset evaluating. It
// returns false when the queue is empty or an evaluation is already in
// flight.
func (a *asset) take() (window, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.evaluating || len(a.queue) == 0 {
		return window{}, false
	}
	win := a.queue[0]
	a.queue = a.queue[1:]
	a.evaluating = true
	return win, true
}

func (a *asset) release() {
	a.mu.Lock()
	a.evaluating = false
	a.mu.Unlock()
}

// annotate queues a fault annotation for the asset's next risk record.
// Callers must hold a.mu. Duplicate annotations collapse to one.
func (a *asset) annotate(annotation string) {
	for _, p := range a.pending {
		if p == annotation {
			return
		}
	}
	a.pending = append(a.pending, annotation)
}

// EmergencyStop latches the asset into the stopped state and issues a
// zero-force command immediately, bypassing the command rate limit. Queued
// and buffered samples are discarded; an evaluation already in flight
// completes and is recorded, but its command is suppressed by the latch.
func (e *Engine) EmergencyStop(ctx context.Context, assetID string) error {
	a, ok := e.lookup(assetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}

	a.mu.Lock()
	a.queue = nil
	a.open = make(map[string][]types.Sample)
	cmd := a.machine.EmergencyStop(e.now())
	a.updatedAt = e.now()
	a.mu.Unlock()

	metrics.EmergencyStops.Inc()
	slog.Warn("emergency stop", "asset", assetID)
	if cmd != nil {
		e.apply(ctx, a, cmd)
	}
	return nil
}

// Reset releases a stopped asset back to healthy and restarts its window
// from now. It is a no-op for assets that are not stopped.
func (e *Engine) Reset(ctx context.Context, assetID string) error {
	a, ok := e.lookup(assetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}

	a.mu.Lock()
	cmd, reset := a.machine.Reset(e.now())
	if reset {
		a.queue = nil
		a.open = make(map[string][]types.Sample)
		a.windowStart = e.now()
		a.sensorFault = false
		a.last = nil
		a.updatedAt = e.now()
	}
	a.mu.Unlock()

	if !reset {
		return nil
	}
	slog.Info("asset reset", "asset", assetID)
	if cmd != nil {
		e.apply(ctx, a, cmd)
	}
	return nil
}

// Reload swaps in a new configuration. It waits for the current tick to
// drain, rebuilds every asset's components against the new config and
// calibration, and preserves each surviving asset's lifecycle state so the
// stopped latch is never lost across a reload. Histories of removed assets
// are dropped. The worker pool size is fixed at startup and is not affected.
func (e *Engine) Reload(cfg *config.Config) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*asset, len(cfg.Assets))
	for _, ac := range cfg.Assets {
		a, err := e.buildAsset(cfg, ac)
		if err != nil {
			return err
		}
		if old, ok := e.assets[ac.ID]; ok {
			old.mu.Lock()
			a.machine.Adopt(old.machine.State(), old.machine.SensorFault())
			a.sensorFault = old.sensorFault
			a.updatedAt = old.updatedAt
			old.mu.Unlock()
		}
		next[ac.ID] = a
	}
	for id := range e.assets {
		if _, ok := next[id]; !ok {
			e.store.Drop(id)
			slog.Info("asset unregistered", "asset", id)
		}
	}
	e.assets = next
	e.cfg = cfg
	e.store.SetRetention(cfg.Engine.Retention)
	slog.Info("configuration reloaded", "assets", len(next))
	return nil
}

// AssetView is a read-only snapshot of one asset for the API and the
// WebSocket hub.
type AssetView struct {
	ID          string            `json:"id"`
	State       string            `json:"state"`
	SensorFault bool              `json:"sensor_fault"`
	DamperForce float64           `json:"damper_force"`
	Window      time.Duration     `json:"window"`
	Channels    []string          `json:"channels"`
	Dampers     []string          `json:"dampers"`
	Latest      *types.RiskRecord `json:"latest,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Snapshot returns the current view of one asset.
func (e *Engine) Snapshot(assetID string) (AssetView, bool) {
	a, ok := e.lookup(assetID)
	if !ok {
		return AssetView{}, false
	}
	return e.view(a), true
}

// List returns a view of every registered asset, sorted by id.
func (e *Engine) List() []AssetView {
	e.mu.RLock()
	assets := make([]*asset, 0, len(e.assets))
	for _, a := range e.assets {
		assets = append(assets, a)
	}
	e.mu.RUnlock()

	views := make([]AssetView, 0, len(assets))
	for _, a := range assets {
		views = append(views, e.view(a))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// History returns up to limit risk records for the asset in ascending time
// order.
func (e *Engine) History(assetID string, limit int) ([]*types.RiskRecord, error) {
	if _, ok := e.lookup(assetID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	return e.store.History(assetID, limit), nil
}

func (e *Engine) view(a *asset) AssetView {
	a.mu.Lock()
	defer a.mu.Unlock()
	channels := make([]string, 0, len(a.cfg.Channels))
	for _, ch := range a.cfg.Channels {
		channels = append(channels, ch.ID)
	}
	v := AssetView{
		ID:          a.cfg.ID,
		State:       a.machine.State(),
		SensorFault: a.machine.SensorFault(),
		DamperForce: a.machine.DamperForce(),
		Window:      a.cfg.Window,
		Channels:    channels,
		Dampers:     a.cfg.Dampers,
		UpdatedAt:   a.updatedAt,
	}
	if rec, ok := e.store.Latest(a.cfg.ID); ok {
		v.Latest = rec
	}
	return v
}

func (e *Engine) lookup(assetID string) (*asset, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.assets[assetID]
	return a, ok
}
