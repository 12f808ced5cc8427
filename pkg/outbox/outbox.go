// Package outbox implements the durable local queue that carries
// locally-originated writes to the remote store:
// FIFO ordering, duplicate rejection, retry classification, and a
// dead-letter queue for writes that exhaust their retries.
package outbox

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/posyncd/pkg/metrics"
	"github.com/cuemby/posyncd/pkg/storage"
	"github.com/cuemby/posyncd/pkg/syncerr"
	"github.com/cuemby/posyncd/pkg/types"
)

const (
	keyQueue   = "outbox_queue"
	keyBundles = "pending_bundles"
	keyDLQ     = "dead_letter_queue"

	// maxRetries bounds real (non-network) remote failures before an
	// item is moved to the dead-letter queue.
	maxRetries = 3
	// maxNetworkRetries is far more generous: network failures are
	// expected during normal offline operation.
	maxNetworkRetries = 15
	// staleAge marks an item old enough, with enough accumulated
	// retries, that it is dropped at load time rather than retried
	// forever.
	staleAge = 24 * time.Hour
)

// Item is one pending write: either a plain Operation or a Bundle,
// never both. Both shapes share the same retry bookkeeping.
type Item struct {
	ID             string          `json:"id"`
	Operation      *types.Operation `json:"operation,omitempty"`
	Bundle         *types.Bundle    `json:"bundle,omitempty"`
	Retries        int              `json:"retries"`
	NetworkRetries int              `json:"networkRetries"`
	LastError      string           `json:"lastError,omitempty"`
	LastAttemptMS  int64            `json:"lastAttempt,omitempty"`
	EnqueuedMS     int64            `json:"enqueued"`
	// NextAttemptMS gates retries behind the backoff computed for the
	// last classified failure; zero means due now.
	NextAttemptMS int64 `json:"nextAttempt,omitempty"`
}

func (it *Item) due(now int64) bool {
	return it.NextAttemptMS == 0 || it.NextAttemptMS <= now
}

func (it *Item) isBundle() bool { return it.Bundle != nil }

func (it *Item) collection() types.Collection {
	if it.isBundle() {
		return ""
	}
	return it.Operation.Collection
}

func (it *Item) entityID() string {
	if it.isBundle() {
		return ""
	}
	return it.Operation.EntityID
}

func (it *Item) opType() types.OpType {
	if it.isBundle() {
		return ""
	}
	return it.Operation.Type
}

// Outbox is the durable FIFO queue plus dead-letter store. Bundles
// drain ahead of plain operations.
type Outbox struct {
	mu sync.Mutex

	backing storage.Store

	queue   []*Item // plain operations, FIFO
	bundles []*Item // bundle items, FIFO
	dlq     []*Item
}

// Load reads the queue, bundle queue, and dead-letter queue from
// backing, dropping invalid, orphaned, or stale entries that have spent
// at least half their real-failure retry budget.
func Load(backing storage.Store) (*Outbox, error) {
	o := &Outbox{backing: backing}
	if err := loadItems(backing, keyQueue, &o.queue); err != nil {
		return nil, err
	}
	if err := loadItems(backing, keyBundles, &o.bundles); err != nil {
		return nil, err
	}
	if err := loadItems(backing, keyDLQ, &o.dlq); err != nil {
		return nil, err
	}
	o.queue = filterAtLoad(o.queue)
	o.bundles = filterAtLoad(o.bundles)
	return o, nil
}

func loadItems(store storage.Store, key string, out *[]*Item) error {
	raw, ok, err := store.LoadBlob(key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func filterAtLoad(items []*Item) []*Item {
	now := time.Now().UnixMilli()
	out := items[:0:0]
	for _, it := range items {
		if it == nil {
			continue
		}
		if !it.isBundle() && it.Operation.EntityID == "" && it.Operation.Type != types.OpCreate {
			continue // orphaned: no target entity for a non-create op
		}
		age := time.Duration(now-it.EnqueuedMS) * time.Millisecond
		if age > staleAge && it.Retries >= maxRetries/2 {
			continue // stale with at least half the real-failure budget spent: drop
		}
		out = append(out, it)
	}
	return out
}

func (o *Outbox) persist() error {
	if err := o.persistOne(keyQueue, o.queue); err != nil {
		return err
	}
	if err := o.persistOne(keyBundles, o.bundles); err != nil {
		return err
	}
	return o.persistOne(keyDLQ, o.dlq)
}

func (o *Outbox) persistOne(key string, items []*Item) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return o.backing.SaveBlob(key, data)
}

// EnqueueOperation appends op to the FIFO queue. Duplicate opIds are
// idempotent no-ops. A duplicate (collection, entityId, type) triple
// already pending replaces the earlier entry with the newer payload,
// since only the latest update for a given entity need ship.
func (o *Outbox) EnqueueOperation(op types.Operation) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, it := range o.queue {
		if it.ID == op.ID {
			return nil
		}
	}
	for i, it := range o.queue {
		if it.collection() == op.Collection && it.entityID() == op.EntityID && it.opType() == op.Type {
			o.queue[i] = &Item{ID: op.ID, Operation: &op, EnqueuedMS: time.Now().UnixMilli()}
			return o.persist()
		}
	}
	o.queue = append(o.queue, &Item{ID: op.ID, Operation: &op, EnqueuedMS: time.Now().UnixMilli()})
	return o.persist()
}

// EnqueueBundle appends bundle to the bundle queue, deduplicating by
// BundleID.
func (o *Outbox) EnqueueBundle(b types.Bundle) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, it := range o.bundles {
		if it.ID == b.BundleID {
			return nil
		}
	}
	o.bundles = append(o.bundles, &Item{ID: b.BundleID, Bundle: &b, EnqueuedMS: time.Now().UnixMilli()})
	return o.persist()
}

// Status is the outbox's contribution to the sync status surface.
type Status struct {
	MainQueueLength   int
	DeadLetterLength  int
	PendingBundles    int
	OldestOperationMS int64
}

// Status reports queue depths for the engine's status surface.
func (o *Outbox) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		MainQueueLength:  len(o.queue),
		DeadLetterLength: len(o.dlq),
		PendingBundles:   len(o.bundles),
	}
	for _, it := range o.queue {
		if st.OldestOperationMS == 0 || it.EnqueuedMS < st.OldestOperationMS {
			st.OldestOperationMS = it.EnqueuedMS
		}
	}
	for _, it := range o.bundles {
		if st.OldestOperationMS == 0 || it.EnqueuedMS < st.OldestOperationMS {
			st.OldestOperationMS = it.EnqueuedMS
		}
	}
	return st
}

// Sender delivers one outbox item to the remote. Returning a
// *syncerr.Error classifies the failure for retry purposes; any other
// error defaults to KindRemoteNetwork.
type Sender interface {
	SendOperation(op types.Operation) error
	SendBundle(b types.Bundle) error
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Sent      int
	Retried   int
	DeadLettered int
}

// batchSize and batchGap bound how aggressively a drain pass pushes
// items to the remote in one call.
const (
	batchSize = 10
	batchGap  = 100 * time.Millisecond
)

// Drain attempts delivery of every pending item, bundles first, in
// batches of batchSize with a pause between batches. It mutates retry
// counters and moves exhausted items to the dead-letter queue.
func (o *Outbox) Drain(sender Sender) DrainResult {
	var result DrainResult

	bundles := o.snapshotBundles()
	for i := 0; i < len(bundles); i += batchSize {
		end := min(i+batchSize, len(bundles))
		for _, it := range bundles[i:end] {
			o.attemptBundle(it, sender, &result)
		}
		if end < len(bundles) {
			time.Sleep(batchGap)
		}
	}

	ops := o.snapshotQueue()
	for i := 0; i < len(ops); i += batchSize {
		end := min(i+batchSize, len(ops))
		for _, it := range ops[i:end] {
			o.attemptOperation(it, sender, &result)
		}
		if end < len(ops) {
			time.Sleep(batchGap)
		}
	}

	o.mu.Lock()
	_ = o.persist()
	o.mu.Unlock()

	return result
}

func (o *Outbox) snapshotBundles() []*Item {
	o.mu.Lock()
	defer o.mu.Unlock()
	return dueItems(o.bundles)
}

func (o *Outbox) snapshotQueue() []*Item {
	o.mu.Lock()
	defer o.mu.Unlock()
	return dueItems(o.queue)
}

func dueItems(items []*Item) []*Item {
	now := time.Now().UnixMilli()
	out := make([]*Item, 0, len(items))
	for _, it := range items {
		if it.due(now) {
			out = append(out, it)
		}
	}
	return out
}

func (o *Outbox) attemptOperation(it *Item, sender Sender, result *DrainResult) {
	err := sender.SendOperation(*it.Operation)
	o.resolveAttempt(it, err, result, func(id string) {
		o.removeOp(id)
	})
}

func (o *Outbox) attemptBundle(it *Item, sender Sender, result *DrainResult) {
	err := sender.SendBundle(*it.Bundle)
	o.resolveAttempt(it, err, result, func(id string) {
		o.removeBundle(id)
	})
}

func (o *Outbox) resolveAttempt(it *Item, err error, result *DrainResult, remove func(string)) {
	if err == nil {
		remove(it.ID)
		result.Sent++
		return
	}

	kind := syncerr.KindOf(err)
	if kind == syncerr.KindNotFoundOnDelete || kind == syncerr.KindOrphaned {
		remove(it.ID)
		result.Sent++
		return
	}

	o.mu.Lock()
	now := time.Now()
	it.LastError = err.Error()
	it.LastAttemptMS = now.UnixMilli()
	var exhausted bool
	var attempt int
	if kind == syncerr.KindRemoteNetwork {
		it.NetworkRetries++
		attempt = it.NetworkRetries
		exhausted = it.NetworkRetries > maxNetworkRetries
	} else {
		it.Retries++
		attempt = it.Retries
		exhausted = it.Retries > maxRetries
	}
	if !exhausted {
		it.NextAttemptMS = now.Add(NextBackoff(kind, attempt)).UnixMilli()
	}
	o.mu.Unlock()

	if exhausted {
		remove(it.ID)
		o.moveToDLQ(it)
		result.DeadLettered++
		return
	}
	metrics.RetriesTotal.WithLabelValues(string(kind)).Inc()
	result.Retried++
}

func (o *Outbox) removeOp(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue = removeByID(o.queue, id)
}

func (o *Outbox) removeBundle(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bundles = removeByID(o.bundles, id)
}

func (o *Outbox) moveToDLQ(it *Item) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dlq = append(o.dlq, it)
}

func removeByID(items []*Item, id string) []*Item {
	out := items[:0:0]
	for _, it := range items {
		if it.ID != id {
			out = append(out, it)
		}
	}
	return out
}

// NextBackoff computes the retry delay for kind given the attempt
// count already made: network failures back off
// gently (min(5s * 1.5^n, 60s)), real failures more aggressively
// (min(1s * 2^n, 5min)).
func NextBackoff(kind syncerr.Kind, attempt int) time.Duration {
	if kind == syncerr.KindRemoteNetwork {
		d := time.Duration(float64(5*time.Second) * pow(1.5, attempt))
		if d > 60*time.Second {
			return 60 * time.Second
		}
		return d
	}
	d := time.Duration(float64(time.Second) * pow(2, attempt))
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Resurrect moves every dead-lettered item back onto its originating
// queue immediately, regardless of age, for the network-recovery
// transition.
func (o *Outbox) Resurrect() int {
	return o.resurrect(func(*Item) bool { return true })
}

// ReapOlderThan moves dead-lettered items enqueued more than age ago
// back onto their originating queue with retry counts reset.
func (o *Outbox) ReapOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age).UnixMilli()
	return o.resurrect(func(it *Item) bool { return it.EnqueuedMS <= cutoff })
}

func (o *Outbox) resurrect(match func(*Item) bool) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	remaining := o.dlq[:0:0]
	n := 0
	for _, it := range o.dlq {
		if !match(it) {
			remaining = append(remaining, it)
			continue
		}
		it.Retries = 0
		it.NetworkRetries = 0
		it.NextAttemptMS = 0
		if it.isBundle() {
			o.bundles = append(o.bundles, it)
		} else {
			o.queue = append(o.queue, it)
		}
		n++
	}
	o.dlq = remaining
	_ = o.persist()
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
