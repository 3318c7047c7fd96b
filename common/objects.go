package common

import (
	"context"
	"fmt"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/persistent"
)

// MakePersistent makes obj a persistent root: it gets an identifier and is stored at the
// next flush. Objects it references become persistent when it is serialized.
func (c *Coordinator) MakePersistent(ctx context.Context, obj persistent.Object) (odb.OID, error) {
	return c.Reference(ctx, obj)
}

// Reference returns the identifier of obj, assigning one first if obj is new. Assignment
// registers obj with the cache and the modified tracker.
func (c *Coordinator) Reference(ctx context.Context, obj persistent.Object) (odb.OID, error) {
	s := obj.PersistentState()
	if oid := s.OID(); !oid.IsNil() {
		if p := s.Persister(); p != nil && p != persistent.Persister(c) {
			return odb.NilOID, odb.NewError(odb.WrongOwner, fmt.Errorf("object %s belongs to another coordinator", oid), oid)
		}
		return oid, nil
	}
	if err := c.checkWritable(ctx); err != nil {
		return odb.NilOID, err
	}
	cid := obj.ClassID()
	if c.registry.Name(cid) == "" {
		return odb.NilOID, fmt.Errorf("class id %d of %T is not registered", cid, obj)
	}
	oid, err := c.allocator.next(ctx, cid)
	if err != nil {
		return odb.NilOID, err
	}
	s.AssignOID(oid, c)
	s.SetLockLevel(persistent.LockWrite)
	c.cache.Add(oid, obj)
	c.tracker.Add(obj)
	c.created[oid] = obj
	return oid, nil
}

// GetObject returns the instance for oid. A cache miss yields a hollow instance of the
// stored class; its fields load on first access.
func (c *Coordinator) GetObject(ctx context.Context, oid odb.OID) (persistent.Object, error) {
	if oid.IsNil() {
		return nil, nil
	}
	if obj := c.cache.Get(oid); obj != nil {
		return obj, nil
	}
	if err := c.checkRead(ctx, nil); err != nil {
		return nil, err
	}
	var descs []odb.ClassDescriptor
	if err := c.retry(ctx, func(ctx context.Context) error {
		var err error
		descs, err = c.session.ClassInfoFor(ctx, []odb.OID{oid})
		return err
	}); err != nil {
		return nil, storageFailure(fmt.Errorf("class info for %s failed, details: %w", oid, err), oid)
	}
	if len(descs) != 1 || descs[0].CID == 0 {
		return nil, odb.NewError(odb.NotFound, fmt.Errorf("object %s not found", oid), oid)
	}
	cid := descs[0].CID
	if c.registry.Name(cid) == "" && descs[0].Name != "" {
		if byName, ok := c.registry.Lookup(descs[0].Name); ok {
			cid = byName
		}
	}
	obj, err := c.registry.New(cid)
	if err != nil {
		return nil, fmt.Errorf("materialize object %s failed, details: %w", oid, err)
	}
	obj.PersistentState().Bind(oid, c)
	c.cache.Add(oid, obj)
	return obj, nil
}

// Activate loads the fields of a hollow object. Queued prefetch candidates are loaded in
// the same storage round trip.
func (c *Coordinator) Activate(ctx context.Context, obj persistent.Object) error {
	s := obj.PersistentState()
	if !s.IsHollow() {
		return nil
	}
	if err := c.checkRead(ctx, obj); err != nil {
		return err
	}
	batch := []persistent.Object{obj}
	candidates := c.cache.GetAndClearPrefetches()
	for i, p := range candidates {
		if len(batch) > c.opts.PrefetchLimit {
			// The rest wait for the next activation.
			for _, rest := range candidates[i:] {
				c.cache.RequeuePrefetch(rest.PersistentState().OID())
			}
			break
		}
		if p.PersistentState().OID() != s.OID() {
			batch = append(batch, p)
		}
	}
	oids := make([]odb.OID, len(batch))
	for i := range batch {
		oids[i] = batch[i].PersistentState().OID()
	}

	var data [][]byte
	if err := c.retry(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.session.LoadObjectBytes(ctx, oids)
		return err
	}); err != nil {
		return storageFailure(fmt.Errorf("load of %d objects failed, details: %w", len(oids), err), s.OID())
	}
	if len(data) != len(oids) {
		return odb.NewError(odb.StorageFailure, fmt.Errorf("storage returned %d objects for %d identifiers", len(data), len(oids)), s.OID())
	}
	if data[0] == nil {
		return odb.NewError(odb.NotFound, fmt.Errorf("object %s not found", s.OID()), s.OID())
	}

	dec := persistent.NewDecoder(ctx, c)
	for i, o := range batch {
		if data[i] == nil || !o.PersistentState().IsHollow() {
			continue
		}
		if err := o.UnmarshalPersistent(data[i], dec); err != nil {
			o.Hollow()
			if i == 0 {
				return fmt.Errorf("decode object %s failed, details: %w", s.OID(), err)
			}
			continue
		}
		c.markActivated(o)
	}
	c.cache.Add(s.OID(), obj)
	return nil
}

func (c *Coordinator) markActivated(obj persistent.Object) {
	s := obj.PersistentState()
	s.MarkLoaded()
	if c.active {
		if s.LockLevel() < persistent.LockRead {
			s.SetLockLevel(persistent.LockRead)
		}
		return
	}
	s.SetNonTransactional(true, false)
}

// MarkDirty registers obj as modified in the bound transaction. With RestoreValues set,
// the object's state before its first modification is captured for Abort.
func (c *Coordinator) MarkDirty(ctx context.Context, obj persistent.Object) error {
	if err := c.checkWritable(ctx); err != nil {
		return err
	}
	s := obj.PersistentState()
	oid := s.OID()
	if oid.IsNil() {
		// Still transient; it is stored once something persistent references it.
		return nil
	}
	if s.Persister() != persistent.Persister(c) {
		return odb.NewError(odb.WrongOwner, fmt.Errorf("object %s belongs to another coordinator", oid), oid)
	}
	if s.IsHollow() {
		if err := c.Activate(ctx, obj); err != nil {
			return err
		}
	}
	// A bounded cache may have dropped the instance while it was clean.
	c.cache.Add(oid, obj)
	if _, seen := c.touched[oid]; !seen && c.opts.RestoreValues && s.IsLoaded() {
		img, err := obj.MarshalPersistent(persistent.NewEncoder(ctx, nil))
		if err != nil {
			return fmt.Errorf("capture pre-image of %s failed, details: %w", oid, err)
		}
		c.cache.SetSavedImage(oid, img)
	}
	s.MarkModified()
	s.SetLockLevel(persistent.LockWrite)
	c.touched[oid] = obj
	c.tracker.Add(obj)
	return nil
}

// LockForUpgrade raises the object's lock to upgrade, announcing an intended write.
func (c *Coordinator) LockForUpgrade(ctx context.Context, obj persistent.Object) error {
	if err := c.checkWritable(ctx); err != nil {
		return err
	}
	s := obj.PersistentState()
	if s.LockLevel() < persistent.LockUpgrade {
		s.SetLockLevel(persistent.LockUpgrade)
	}
	return nil
}

// Evict drops a clean object from the cache and hollows it. Pending writes are kept.
func (c *Coordinator) Evict(obj persistent.Object) {
	s := obj.PersistentState()
	if s.OID().IsNil() || s.IsNew() || s.IsModified() {
		return
	}
	if _, ok := c.touched[s.OID()]; ok {
		return
	}
	c.cache.Evict(s.OID())
	persistent.MakeHollow(obj)
}

// DeletePersistent removes obj from its class extent and from this transaction. The
// object becomes transient again.
func (c *Coordinator) DeletePersistent(ctx context.Context, obj persistent.Object) error {
	if err := c.checkWritable(ctx); err != nil {
		return err
	}
	s := obj.PersistentState()
	oid := s.OID()
	if oid.IsNil() {
		return nil
	}
	// Objects never flushed have no extent entry yet.
	if !s.IsNew() {
		if err := c.session.RemoveFromExtent(ctx, oid); err != nil {
			return storageFailure(fmt.Errorf("remove %s from extent failed, details: %w", oid, err), oid)
		}
	}
	c.tracker.Remove(oid)
	c.cache.Evict(oid)
	delete(c.created, oid)
	delete(c.touched, oid)
	s.Detach()
	return nil
}

// Extent lists the identifiers of the stored instances of a class.
func (c *Coordinator) Extent(ctx context.Context, cid odb.CID) ([]odb.OID, error) {
	if err := c.checkRead(ctx, nil); err != nil {
		return nil, err
	}
	er, ok := c.session.(odb.ExtentReader)
	if !ok {
		return nil, fmt.Errorf("session %T can't enumerate extents", c.session)
	}
	var r []odb.OID
	if err := c.retry(ctx, func(ctx context.Context) error {
		var err error
		r, err = er.Extent(ctx, cid)
		return err
	}); err != nil {
		return nil, storageFailure(fmt.Errorf("extent of class %d failed, details: %w", cid, err), cid)
	}
	return r, nil
}

// GetAs is GetObject with a type assertion to T.
func GetAs[T persistent.Object](ctx context.Context, c *Coordinator, oid odb.OID) (T, error) {
	var zero T
	obj, err := c.GetObject(ctx, oid)
	if err != nil || obj == nil {
		return zero, err
	}
	t, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("object %s is %T, not %T", oid, obj, zero)
	}
	return t, nil
}
