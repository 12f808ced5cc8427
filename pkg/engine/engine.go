// Package engine owns the synchronization core's lifecycle: it wires
// every component built across pkg/clock, pkg/storage, pkg/provisional,
// pkg/outbox, pkg/bundle, pkg/applier, pkg/hydrator, pkg/scheduler,
// pkg/network, and pkg/api into one running instance, grounded on the
// teacher's Manager construction pattern (NewManager wiring a single
// struct's collaborators, with an explicit Shutdown).
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/posyncd/pkg/api"
	"github.com/cuemby/posyncd/pkg/applier"
	"github.com/cuemby/posyncd/pkg/bundle"
	"github.com/cuemby/posyncd/pkg/clock"
	"github.com/cuemby/posyncd/pkg/hydrator"
	"github.com/cuemby/posyncd/pkg/log"
	"github.com/cuemby/posyncd/pkg/metrics"
	"github.com/cuemby/posyncd/pkg/network"
	"github.com/cuemby/posyncd/pkg/outbox"
	"github.com/cuemby/posyncd/pkg/provisional"
	"github.com/cuemby/posyncd/pkg/remote"
	"github.com/cuemby/posyncd/pkg/scheduler"
	"github.com/cuemby/posyncd/pkg/storage"
	"github.com/cuemby/posyncd/pkg/syncerr"
	"github.com/cuemby/posyncd/pkg/types"
)

// Config configures a new Engine.
type Config struct {
	// DataDir holds the BoltDB file backing the local cache.
	DataDir string
	// OrganizationID scopes every remote read/write.
	OrganizationID string
	// Remote is the black-box document store. A host application
	// supplies its own implementation; remote.NewMemoryStore is a
	// fully-functional stand-in for demos and tests.
	Remote remote.Store
	// ProbeHost is resolved by the network monitor to decide internet
	// reachability.
	ProbeHost string
	// ForceServer, when true, makes every conflict resolve in the
	// remote's favor regardless of timestamp: an escape hatch for a
	// "reset this device" operation.
	ForceServer bool
}

// Engine is the single owning instance for one installed device.
type Engine struct {
	cfg Config

	logger zerolog.Logger

	store       storage.Store
	cache       *storage.Cache
	clock       *clock.Clock
	provisional *provisional.Store
	outbox      *outbox.Outbox
	bundles     *bundle.Engine
	committer   *bundle.Committer
	applierSvc  *applier.Applier
	hydrator    *hydrator.Hydrator
	api         *api.API
	monitor     *network.Monitor
	scheduler   *scheduler.Scheduler
	processed   *scheduler.ProcessedIDs
	collector   *metrics.Collector

	mu            sync.Mutex
	isSyncing     bool
	syncStartedAt time.Time
}

// New builds every collaborator and returns a not-yet-started Engine.
// Call Start to launch the background scheduler and network monitor.
func New(cfg Config) (*Engine, error) {
	if cfg.Remote == nil {
		return nil, fmt.Errorf("engine: Config.Remote is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create data dir: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	c, err := clock.New(store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("engine: load clock: %w", err)
	}

	prov, err := provisional.Load(store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("engine: load provisional overlays: %w", err)
	}

	ob, err := outbox.Load(store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("engine: load outbox: %w", err)
	}

	cache := storage.NewCache(store)
	bundles := bundle.New(c, prov)
	committer := bundle.NewCommitter(cfg.Remote, cache, prov)

	e := &Engine{
		cfg:         cfg,
		logger:      log.WithComponent("engine"),
		store:       store,
		cache:       cache,
		clock:       c,
		provisional: prov,
		outbox:      ob,
		bundles:     bundles,
		committer:   committer,
		hydrator:    hydrator.New(cfg.OrganizationID, cfg.Remote, cache, cfg.ForceServer),
		processed:   scheduler.NewProcessedIDs(),
	}

	e.applierSvc = applier.New(c, cache, prov, ob, &applierSender{engine: e}, e)
	e.api = api.New(e.applierSvc, bundles, ob, cache, prov, c, &bundleSender{engine: e}, e)
	e.collector = metrics.NewCollector(e)

	probeHost := cfg.ProbeHost
	if probeHost == "" {
		probeHost = "1.1.1.1"
	}
	prober := network.NewDNSProber(probeHost, 5*time.Second)
	e.monitor = network.New(prober, 30*time.Second, e.onConnectivityChange)

	e.scheduler = scheduler.New(scheduler.Jobs{
		HighPriority:   e.highPriorityCycle,
		Normal:         e.normalCycle,
		LowPriority:    e.lowPriorityCycle,
		DLQReap:        e.reapDeadLetters,
		StuckSyncCheck: e.clearStuckSync,
	})

	return e, nil
}

// allCollections lists every collection the startup and hydration
// cadences walk.
var allCollections = []types.Collection{
	types.CollectionProducts, types.CollectionPlayers, types.CollectionStaffUsers,
	types.CollectionAssignments, types.CollectionCharges, types.CollectionReports,
	types.CollectionOrganization,
}

// API returns the entity/bundle façade.
func (e *Engine) API() *api.API { return e.api }

// Start runs the once-per-launch startup hydration, then launches the
// network monitor, scheduler, and metrics collector. Startup errors are
// logged, not fatal: a host app still gets a working (if stale or
// empty) cache and the scheduled cadences will retry.
func (e *Engine) Start(ctx context.Context) {
	if err := e.Startup(ctx); err != nil {
		e.logger.Error().Err(err).Msg("startup hydration failed")
	}
	e.monitor.Start(ctx)
	e.scheduler.Start(ctx)
	e.collector.Start()
	e.logger.Info().Msg("engine started")
}

// Startup performs the awaited, once-per-launch hydration required by
// every collection's first sync. A collection already marked
// initialized for this organization is skipped, so a later launch
// returns immediately and lets the scheduled cadences keep it fresh
// instead of re-pulling everything on every start.
func (e *Engine) Startup(ctx context.Context) error {
	for _, collection := range allCollections {
		initialized, err := e.cache.IsInitialized(string(collection), e.cfg.OrganizationID)
		if err != nil {
			return fmt.Errorf("engine: check init marker for %s: %w", collection, err)
		}
		if initialized {
			continue
		}
		if err := e.hydrateOne(ctx, collection); err != nil {
			e.logger.Error().Err(err).Str("collection", string(collection)).Msg("startup hydration failed")
			continue
		}
		if err := e.cache.MarkInitialized(string(collection), e.cfg.OrganizationID); err != nil {
			return fmt.Errorf("engine: mark initialized for %s: %w", collection, err)
		}
	}
	return nil
}

// Shutdown stops every background task and releases the store.
func (e *Engine) Shutdown() error {
	e.collector.Stop()
	e.scheduler.Stop()
	e.monitor.Stop()
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("engine: close store: %w", err)
	}
	e.logger.Info().Msg("engine shut down")
	return nil
}

// IsOnline satisfies applier.OnlineChecker and metrics.StatusSource.
func (e *Engine) IsOnline() bool { return e.monitor.IsOnline() }

// IsSyncing satisfies metrics.StatusSource: whether a drain cycle is
// currently in flight. isSyncing is the engine's sole mutual-exclusion
// primitive for drain cycles.
func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isSyncing
}

func (e *Engine) MainQueueLength() int       { return e.outbox.Status().MainQueueLength }
func (e *Engine) DeadLetterQueueLength() int { return e.outbox.Status().DeadLetterLength }
func (e *Engine) PendingBundles() int        { return e.outbox.Status().PendingBundles }

func (e *Engine) OldestOperationAgeSeconds() float64 {
	st := e.outbox.Status()
	if st.OldestOperationMS == 0 {
		return 0
	}
	age := time.Since(time.UnixMilli(st.OldestOperationMS))
	return age.Seconds()
}

// Status is the full sync status surface exposed to callers.
type Status struct {
	IsOnline              bool
	IsSyncing             bool
	MainQueueLength       int
	DeadLetterQueueLength int
	PendingBundles        int
	OldestOperationAge    time.Duration
}

// Status reports the engine's current sync status.
func (e *Engine) Status() Status {
	st := e.outbox.Status()
	var age time.Duration
	if st.OldestOperationMS != 0 {
		age = time.Since(time.UnixMilli(st.OldestOperationMS))
	}
	return Status{
		IsOnline:              e.IsOnline(),
		IsSyncing:             e.IsSyncing(),
		MainQueueLength:       st.MainQueueLength,
		DeadLetterQueueLength: st.DeadLetterLength,
		PendingBundles:        st.PendingBundles,
		OldestOperationAge:    age,
	}
}

func (e *Engine) onConnectivityChange(online bool) {
	metrics.Online.Set(boolToFloat(online))
	if !online {
		return
	}
	// Coming back online: resurrect the dead-letter queue and drain
	// immediately rather than waiting for the next scheduled tick.
	if n := e.outbox.Resurrect(); n > 0 {
		e.logger.Info().Int("count", n).Msg("resurrected dead-lettered items on reconnect")
	}
	go func() { _ = e.drainCycle(context.Background()) }()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// drainCycle runs one outbox drain pass, guarded by isSyncing so
// concurrent triggers (scheduler tick + reconnect event) never overlap.
func (e *Engine) drainCycle(ctx context.Context) error {
	if !e.IsOnline() {
		return nil
	}

	e.mu.Lock()
	if e.isSyncing {
		e.mu.Unlock()
		return nil
	}
	e.isSyncing = true
	e.syncStartedAt = time.Now()
	e.mu.Unlock()
	metrics.Syncing.Set(1)

	defer func() {
		e.mu.Lock()
		e.isSyncing = false
		e.mu.Unlock()
		metrics.Syncing.Set(0)
	}()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SyncCycleDuration)

	result := e.outbox.Drain(&outboxSender{engine: e})
	if result.DeadLettered > 0 {
		metrics.DeadLetteredTotal.Add(float64(result.DeadLettered))
	}
	return nil
}

func (e *Engine) reapDeadLetters(ctx context.Context) error {
	if !e.IsOnline() {
		return nil
	}
	if n := e.outbox.ReapOlderThan(time.Hour); n > 0 {
		e.logger.Info().Int("count", n).Msg("dead-letter reaper requeued items for retry")
	}
	return nil
}

// clearStuckSync force-clears isSyncing if a drain cycle has been
// running for more than five minutes: a crash mid-drain should never
// wedge the engine offline forever.
func (e *Engine) clearStuckSync(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isSyncing && time.Since(e.syncStartedAt) > 5*time.Minute {
		e.logger.Warn().Msg("stuck-sync watchdog cleared a wedged sync flag")
		e.isSyncing = false
		metrics.Syncing.Set(0)
	}
	return nil
}

// highPriorityCycle is the 5s job: drain, then pull again if the drain
// had anything to push, so a peer's concurrent change to the same
// entity shows up immediately rather than waiting for the next normal
// cadence.
func (e *Engine) highPriorityCycle(ctx context.Context) error {
	hadWork := e.hasQueuedWork()
	if err := e.drainCycle(ctx); err != nil {
		return err
	}
	if hadWork {
		return e.hydrateAll(ctx)
	}
	return nil
}

// normalCycle is the 15s job: drain, then a quick hydration pass if
// the outbox had anything queued.
func (e *Engine) normalCycle(ctx context.Context) error {
	hadWork := e.hasQueuedWork()
	if err := e.drainCycle(ctx); err != nil {
		return err
	}
	if hadWork {
		return e.hydrateAll(ctx)
	}
	return nil
}

// lowPriorityCycle is the 60s job: a passive drain plus the
// processedIds cleanup. It never hydrates — that's covered by the
// high-priority and normal cadences.
func (e *Engine) lowPriorityCycle(ctx context.Context) error {
	if err := e.drainCycle(ctx); err != nil {
		return err
	}
	e.processed.Trim()
	return nil
}

func (e *Engine) hasQueuedWork() bool {
	st := e.outbox.Status()
	return st.MainQueueLength > 0 || st.PendingBundles > 0
}

func (e *Engine) hydrateAll(ctx context.Context) error {
	if !e.IsOnline() {
		return nil
	}
	for _, collection := range allCollections {
		if err := e.hydrateOne(ctx, collection); err != nil {
			e.logger.Error().Err(err).Str("collection", string(collection)).Msg("hydration failed")
		}
	}
	return nil
}

// hydrateOne pulls one collection's remote snapshot, reconciling it
// against whatever is already cached (including conflict resolution
// and deletion detection) in one call.
func (e *Engine) hydrateOne(ctx context.Context, collection types.Collection) error {
	result, err := e.hydrator.HydrateCollection(ctx, collection)
	if err != nil {
		return err
	}
	for _, d := range result.Deletions {
		e.logger.Info().Str("collection", string(d.Collection)).Str("entityId", d.EntityID).
			Msg("remote deletion detected")
	}
	return e.cache.SetLastSync(string(collection), time.Now())
}

// outboxSender adapts the Engine to outbox.Sender, used by the
// scheduled drain cycle.
type outboxSender struct {
	engine *Engine
}

func (s *outboxSender) SendOperation(op types.Operation) error {
	return s.engine.sendOperation(context.Background(), op)
}

func (s *outboxSender) SendBundle(b types.Bundle) error {
	return s.engine.sendBundle(context.Background(), b)
}

// applierSender adapts the Engine to applier.Sender, used for the
// applier's best-effort immediate-delivery fast path.
type applierSender struct {
	engine *Engine
}

func (s *applierSender) SendOperation(ctx context.Context, op types.Operation) error {
	return s.engine.sendOperation(ctx, op)
}

// bundleSender adapts the Engine to api.BundleSender, used for the
// API façade's best-effort immediate-commit fast path after enqueueing
// a bundle.
type bundleSender struct {
	engine *Engine
}

func (s *bundleSender) SendBundle(ctx context.Context, b types.Bundle) error {
	return s.engine.sendBundle(ctx, b)
}

func (e *Engine) sendOperation(ctx context.Context, op types.Operation) error {
	if e.processed.Seen(op.ID) {
		return nil
	}

	applied, err := e.cfg.Remote.AppliedOp(ctx, e.cfg.OrganizationID, op.ID)
	if err != nil {
		return syncerr.New(syncerr.KindRemoteNetwork, err)
	}
	if applied {
		e.processed.Mark(op.ID)
		return nil
	}

	write, ok, err := operationToWrite(op)
	if err != nil {
		return syncerr.New(syncerr.KindValidation, err)
	}
	if !ok {
		return nil
	}

	txn := remote.Transaction{
		OrganizationID: e.cfg.OrganizationID,
		Writes:         []remote.Write{write},
		AppliedOpIDs:   []string{op.ID},
	}
	if err := e.cfg.Remote.Commit(ctx, txn); err != nil {
		if op.Type == types.OpDelete {
			return syncerr.New(syncerr.KindNotFoundOnDelete, err)
		}
		return syncerr.New(syncerr.KindRemoteNetwork, err)
	}
	e.processed.Mark(op.ID)
	metrics.OperationsAppliedTotal.WithLabelValues(string(op.Type)).Inc()
	return nil
}

func (e *Engine) sendBundle(ctx context.Context, b types.Bundle) error {
	if err := e.committer.Commit(ctx, e.cfg.OrganizationID, b); err != nil {
		return syncerr.New(syncerr.KindOf(err), err)
	}
	metrics.BundlesCommittedTotal.WithLabelValues(string(b.Type)).Inc()
	return nil
}

func operationToWrite(op types.Operation) (remote.Write, bool, error) {
	switch op.Type {
	case types.OpCreate:
		fields, ok := op.Data.(map[string]any)
		if !ok {
			return remote.Write{}, false, fmt.Errorf("create payload must be a map")
		}
		return remote.Write{Collection: op.Collection, ID: op.EntityID, Kind: remote.WriteCreate, Fields: fields}, true, nil
	case types.OpUpdate:
		fields, ok := op.Data.(map[string]any)
		if !ok {
			return remote.Write{}, false, fmt.Errorf("update payload must be a map")
		}
		return remote.Write{Collection: op.Collection, ID: op.EntityID, Kind: remote.WriteUpdate, Fields: fields}, true, nil
	case types.OpDelete:
		return remote.Write{Collection: op.Collection, ID: op.EntityID, Kind: remote.WriteDelete}, true, nil
	case types.OpUpdateBalance:
		// Folded into the provisional overlay at apply time; the
		// remote effect ships as part of the owning bundle's
		// balanceDelta step, not as a standalone operation.
		return remote.Write{}, false, nil
	default:
		return remote.Write{}, false, fmt.Errorf("unhandled operation type %q", op.Type)
	}
}
