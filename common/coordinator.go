// Package common contains the transaction coordinator: it owns the object cache and the
// modified tracker of one transaction at a time, allocates identifiers and runs the
// flush, commit and abort protocols against a storage session.
package common

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/cache"
	"github.com/sharedcode/odb/persistent"
)

type bindingKey struct{}

// binding ties a context to one transaction of one coordinator.
type binding struct {
	coordinator *Coordinator
	tid         odb.UUID
}

// Coordinator drives transactions for a storage session. A coordinator serves one
// transaction at a time and is not safe for concurrent use; run one per goroutine.
type Coordinator struct {
	session   odb.StorageSession
	registry  *persistent.Registry
	opts      odb.Options
	cache     cache.ObjectCache
	tracker   *ModifiedTracker
	allocator *oidAllocator

	active   bool
	failed   bool
	flushing bool
	tid      odb.UUID
	// txCtx is the bound context, kept for flushes the cache triggers on its own.
	txCtx context.Context
	// created holds objects given an identifier in this transaction.
	created map[odb.OID]persistent.Object
	// touched holds objects marked dirty since the last checkpoint.
	touched map[odb.OID]persistent.Object
}

// NewCoordinator returns a closed coordinator over the session.
func NewCoordinator(session odb.StorageSession, registry *persistent.Registry, opts odb.Options) (*Coordinator, error) {
	if session == nil {
		return nil, fmt.Errorf("can't create coordinator, session is nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("can't create coordinator, class registry is nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("can't create coordinator, details: %w", err)
	}
	c := &Coordinator{
		session:  session,
		registry: registry,
		opts:     opts,
		tracker:  NewModifiedTracker(),
		created:  make(map[odb.OID]persistent.Object),
		touched:  make(map[odb.OID]persistent.Object),
	}
	c.allocator = newOIDAllocator(session, opts.OIDBlockSize, c.retry)
	c.cache = cache.New(opts, c.flushForCache)
	return c, nil
}

// FromContext returns the coordinator whose transaction is bound to ctx.
func FromContext(ctx context.Context) (*Coordinator, bool) {
	b, ok := ctx.Value(bindingKey{}).(*binding)
	if !ok || !b.coordinator.active || b.coordinator.tid != b.tid {
		return nil, false
	}
	return b.coordinator, true
}

// Registry returns the class registry used to materialize objects.
func (c *Coordinator) Registry() *persistent.Registry {
	return c.registry
}

func (c *Coordinator) Options() odb.Options {
	return c.opts
}

// IsActive reports whether a transaction is bound.
func (c *Coordinator) IsActive() bool {
	return c.active
}

// TransactionID returns the id of the bound transaction, or the nil UUID.
func (c *Coordinator) TransactionID() odb.UUID {
	if !c.active {
		return odb.NilUUID
	}
	return c.tid
}

// CachedCount returns the number of objects in the cache.
func (c *Coordinator) CachedCount() int {
	return c.cache.Count()
}

// ModifiedCount returns the number of objects waiting for the next flush.
func (c *Coordinator) ModifiedCount() int {
	return c.tracker.Len()
}

// Begin starts a transaction and returns the context bound to it. Pass that context to
// every operation of the transaction.
func (c *Coordinator) Begin(ctx context.Context) (context.Context, error) {
	if c.active {
		return ctx, odb.NewError(odb.AlreadyBound, fmt.Errorf("coordinator already has transaction %s bound", c.tid), nil)
	}
	if other, ok := FromContext(ctx); ok {
		return ctx, odb.NewError(odb.AlreadyBound, fmt.Errorf("context already bound to transaction %s", other.tid), nil)
	}
	c.tid = odb.NewUUID()
	c.active = true
	c.failed = false
	bctx := context.WithValue(ctx, bindingKey{}, &binding{coordinator: c, tid: c.tid})
	c.txCtx = bctx
	log.Debug("transaction began", "tid", c.tid.String())
	return bctx, nil
}

// checkOwner verifies a transaction is active and that ctx is bound to it.
func (c *Coordinator) checkOwner(ctx context.Context) error {
	if !c.active {
		return odb.NewError(odb.ClosedState, fmt.Errorf("no active transaction, call Begin first"), nil)
	}
	b, ok := ctx.Value(bindingKey{}).(*binding)
	if !ok || b.coordinator != c || b.tid != c.tid {
		return odb.NewError(odb.WrongOwner, fmt.Errorf("context is not bound to transaction %s", c.tid), nil)
	}
	return nil
}

// checkWritable is checkOwner plus rejection of a transaction whose flush failed.
func (c *Coordinator) checkWritable(ctx context.Context) error {
	if err := c.checkOwner(ctx); err != nil {
		return err
	}
	if c.failed {
		return odb.NewError(odb.StorageFailure, fmt.Errorf("transaction %s failed to flush, abort it", c.tid), nil)
	}
	return nil
}

// checkRead allows reads inside the owning transaction, or outside any transaction when
// non-transactional reads are enabled.
func (c *Coordinator) checkRead(ctx context.Context, obj persistent.Object) error {
	if c.active {
		return c.checkOwner(ctx)
	}
	if c.opts.NonTransactionalRead || (obj != nil && obj.PersistentState().AllowsNonTransactionalRead()) {
		return nil
	}
	return odb.NewError(odb.ClosedState, fmt.Errorf("no active transaction and non-transactional read is disabled"), nil)
}

func (c *Coordinator) retry(ctx context.Context, task func(ctx context.Context) error) error {
	return odb.Retry(ctx, c.opts.RetryCount, c.opts.RetryBaseDelay, task)
}

// Commit flushes all pending writes and releases the transaction. The binding is released
// even when the flush fails; a failed commit leaves storage in an unknown state and the
// cache hollowed.
func (c *Coordinator) Commit(ctx context.Context) error {
	if err := c.checkOwner(ctx); err != nil {
		return err
	}
	defer c.release()

	if c.failed {
		c.cache.HollowObjects()
		return odb.NewError(odb.StorageFailure, fmt.Errorf("transaction %s failed to flush earlier, commit status unknown", c.tid), nil)
	}
	if err := c.flush(ctx); err != nil {
		c.cache.HollowObjects()
		log.Error("commit failed", "tid", c.tid.String(), "error", err)
		return fmt.Errorf("commit of transaction %s failed, details: %w", c.tid, err)
	}
	if c.opts.RetainValues {
		c.cache.MakeObjectsNonTransactional()
	} else {
		c.cache.HollowObjects()
	}
	log.Debug("transaction committed", "tid", c.tid.String())
	return nil
}

// Abort discards the transaction. Objects created in it are evicted and lose their
// identifier. Modified objects get their pre-image back when RestoreValues is set and are
// hollowed otherwise.
func (c *Coordinator) Abort(ctx context.Context) error {
	if err := c.checkOwner(ctx); err != nil {
		return err
	}
	defer c.release()

	dec := persistent.NewDecoder(ctx, c)
	for oid, obj := range c.touched {
		if _, ok := c.created[oid]; ok {
			continue
		}
		if c.opts.RestoreValues {
			if img := c.cache.GetAndClearSavedImage(oid); img != nil && c.restore(obj, img, dec) {
				continue
			}
		}
		persistent.MakeHollow(obj)
	}
	c.detachCreated()
	log.Debug("transaction aborted", "tid", c.tid.String())
	return nil
}

// restore reloads a pre-image into the live instance.
func (c *Coordinator) restore(obj persistent.Object, img []byte, dec *persistent.Decoder) bool {
	obj.Hollow()
	if err := obj.UnmarshalPersistent(img, dec); err != nil {
		log.Warn("restore of pre-image failed, hollowing object", "oid", obj.PersistentState().OID().String(), "error", err)
		return false
	}
	s := obj.PersistentState()
	s.MarkStored()
	s.SetLockLevel(persistent.LockNone)
	s.SetNonTransactional(true, false)
	return true
}

// Clear discards the transaction and empties the cache without restoring anything.
func (c *Coordinator) Clear(ctx context.Context) error {
	if err := c.checkOwner(ctx); err != nil {
		return err
	}
	defer c.release()
	c.detachCreated()
	c.cache.EvictAll()
	log.Debug("transaction cleared", "tid", c.tid.String())
	return nil
}

func (c *Coordinator) detachCreated() {
	for oid, obj := range c.created {
		c.cache.Evict(oid)
		obj.PersistentState().Detach()
	}
}

// Checkpoint flushes pending writes without releasing the transaction. The flushed state
// becomes the baseline a later Abort restores to.
func (c *Coordinator) Checkpoint(ctx context.Context) error {
	if err := c.checkWritable(ctx); err != nil {
		return err
	}
	if err := c.flush(ctx); err != nil {
		return err
	}
	for oid := range c.touched {
		c.cache.GetAndClearSavedImage(oid)
	}
	c.touched = make(map[odb.OID]persistent.Object)
	c.created = make(map[odb.OID]persistent.Object)
	return nil
}

// Flush pushes pending writes to storage. Calling it while a flush runs is a no-op.
func (c *Coordinator) Flush(ctx context.Context) error {
	if err := c.checkWritable(ctx); err != nil {
		return err
	}
	return c.flush(ctx)
}

// flushForCache is the bounded cache's hook, run before it evicts.
func (c *Coordinator) flushForCache() error {
	if !c.active || c.failed || c.txCtx == nil {
		return nil
	}
	return c.flush(c.txCtx)
}

// flush serializes every tracked object in one pass. Serializing an object may give a
// newly reachable object an identifier, which appends it to the tracker; the iterator
// picks such entries up before the pass ends.
func (c *Coordinator) flush(ctx context.Context) error {
	if c.flushing {
		return nil
	}
	c.flushing = true
	defer func() { c.flushing = false }()

	enc := persistent.NewEncoder(ctx, c)
	var batch []odb.ObjectRecord
	batchBytes := 0
	it := c.tracker.Iterator()
	for {
		obj, ok := it.Next()
		if !ok {
			break
		}
		s := obj.PersistentState()
		if !s.IsNew() && !s.IsLoaded() {
			c.failed = true
			return odb.NewError(odb.NotLoadedOrNew, fmt.Errorf("object %s is %s, can't store it", s.OID(), s.Status()), s.OID())
		}
		if !s.IsNew() && !s.IsModified() {
			continue
		}
		data, err := obj.MarshalPersistent(enc)
		if err != nil {
			c.failed = true
			return fmt.Errorf("serialize object %s failed, details: %w", s.OID(), err)
		}
		batch = append(batch, odb.ObjectRecord{
			OID:       s.OID(),
			CID:       obj.ClassID(),
			ClassName: c.registry.Name(obj.ClassID()),
			Data:      data,
			IsNew:     s.IsNew(),
		})
		batchBytes += len(data)
		s.MarkStored()
		if batchBytes >= c.opts.FlushBatchBytes {
			if err := c.push(ctx, batch, batchBytes); err != nil {
				return err
			}
			batch = nil
			batchBytes = 0
		}
	}
	if err := c.push(ctx, batch, batchBytes); err != nil {
		return err
	}
	c.tracker.Clear()
	return nil
}

func (c *Coordinator) push(ctx context.Context, batch []odb.ObjectRecord, size int) error {
	if len(batch) == 0 {
		return nil
	}
	log.Debug("pushing flush batch", "tid", c.tid.String(), "records", len(batch), "bytes", size)
	// Storing the same records again overwrites them, so the push is retried.
	if err := c.retry(ctx, func(ctx context.Context) error {
		return c.session.StoreObjectBytes(ctx, batch)
	}); err != nil {
		c.failed = true
		log.Error("store of flush batch failed", "tid", c.tid.String(), "records", len(batch), "error", err)
		return storageFailure(fmt.Errorf("store of %d objects failed, details: %w", len(batch), err), nil)
	}
	return nil
}

// release unbinds the transaction and resets per transaction state.
func (c *Coordinator) release() {
	// Pre-images only serve Abort; a bounded cache never evicts an entry holding one.
	for oid := range c.touched {
		c.cache.GetAndClearSavedImage(oid)
	}
	c.cache.Trim()
	c.tracker.Clear()
	c.cache.ClearPrefetches()
	c.created = make(map[odb.OID]persistent.Object)
	c.touched = make(map[odb.OID]persistent.Object)
	c.active = false
	c.failed = false
	c.txCtx = nil
}

// Close discards an active transaction and empties the cache.
func (c *Coordinator) Close(ctx context.Context) error {
	if c.active {
		if err := c.Clear(c.txCtx); err != nil {
			return err
		}
	}
	c.cache.EvictAll()
	return nil
}
