package memnative

import (
	"fmt"

	"github.com/shamaton/msgpack/v2"
	"golang.org/x/sys/unix"

	"github.com/objclass/goclass/types"
)

// record is the stored form of an object.
type record struct {
	Data    []byte `msgpack:"data"`
	Version uint64 `msgpack:"version"`
}

// txn is the object state staged by one invocation.
type txn struct {
	loaded  bool
	exists  bool
	dirty   bool
	data    []byte
	version uint64
}

func objectKey(oid string) []byte {
	return []byte("obj/" + oid)
}

func (r *Runtime) loadRecord(oid string) (record, bool, error) {
	bz, err := r.db.Get(objectKey(oid))
	if err != nil {
		return record{}, false, err
	}
	if bz == nil {
		return record{}, false, nil
	}
	var rec record
	if err := msgpack.Unmarshal(bz, &rec); err != nil {
		return record{}, false, fmt.Errorf("decoding object %q: %w", oid, err)
	}
	return rec, true, nil
}

// stage returns the staged object state, loading it on first use.
// Must be called with inv.mu held.
func (r *Runtime) stage(op string, inv *invocation) (*txn, error) {
	if inv.txn.loaded {
		return &inv.txn, nil
	}
	rec, ok, err := r.loadRecord(inv.oid)
	if err != nil {
		r.logger.Error().Err(err).Str("object", inv.oid).Msg("loading object")
		return nil, nativeErr(op, unix.EIO)
	}
	inv.txn = txn{loaded: true, exists: ok, data: rec.Data, version: rec.Version}
	return &inv.txn, nil
}

func (r *Runtime) commit(inv *invocation) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	t := &inv.txn
	if !t.dirty {
		return nil
	}

	batch := r.db.NewBatch()
	defer batch.Close()

	key := objectKey(inv.oid)
	if t.exists {
		bz, err := msgpack.Marshal(record{Data: t.data, Version: t.version + 1})
		if err != nil {
			return err
		}
		if err := batch.Set(key, bz); err != nil {
			return err
		}
	} else {
		if err := batch.Delete(key); err != nil {
			return err
		}
	}
	if err := batch.WriteSync(); err != nil {
		return err
	}
	r.logger.Debug().Str("object", inv.oid).Bool("exists", t.exists).Int("size", len(t.data)).Msg("committed object")
	return nil
}

func (r *Runtime) Remove(hctx types.Handle) error {
	inv, err := r.context("remove", hctx)
	if err != nil {
		return err
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()

	t, err := r.stage("remove", inv)
	if err != nil {
		return err
	}
	if !t.exists {
		return nativeErr("remove", unix.ENOENT)
	}
	t.exists, t.data, t.dirty = false, nil, true
	return nil
}

func (r *Runtime) Create(hctx types.Handle, exclusive bool) error {
	inv, err := r.context("create", hctx)
	if err != nil {
		return err
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()

	t, err := r.stage("create", inv)
	if err != nil {
		return err
	}
	if t.exists {
		if exclusive {
			return nativeErr("create", unix.EEXIST)
		}
		return nil
	}
	t.exists, t.data, t.dirty = true, nil, true
	return nil
}

func (r *Runtime) Read(hctx types.Handle, offset, length int) (types.Handle, error) {
	inv, err := r.context("read", hctx)
	if err != nil {
		return types.Handle{}, err
	}
	if offset < 0 || length < 0 {
		return types.Handle{}, nativeErr("read", unix.EINVAL)
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()

	t, err := r.stage("read", inv)
	if err != nil {
		return types.Handle{}, err
	}
	if !t.exists {
		return types.Handle{}, nativeErr("read", unix.ENOENT)
	}

	size := len(t.data)
	start, end := offset, size
	outside := offset > size
	if length > 0 {
		if outside || length > size-offset {
			outside = true
		} else {
			end = offset + length
		}
	}
	if outside {
		if r.cfg.RangePolicy == types.RangeStrict {
			return types.Handle{}, nativeErr("read", unix.ERANGE)
		}
		if start > size {
			start = size
		}
		end = size
	}

	h, err := inv.newBuffer(cloneBytes(t.data[start:end]))
	if err != nil {
		r.logger.Warn().Err(err).Str("object", inv.oid).Msg("read: cannot mint buffer")
		return types.Handle{}, nativeErr("read", unix.EMFILE)
	}
	return h, nil
}

func (r *Runtime) Write(hctx types.Handle, offset, length int, bl types.Handle) error {
	inv, err := r.context("write", hctx)
	if err != nil {
		return err
	}
	if offset < 0 || length < 0 {
		return nativeErr("write", unix.EINVAL)
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()

	src, err := inv.buffer("write", bl)
	if err != nil {
		return err
	}
	if len(src.data) < length {
		return nativeErr("write", unix.EINVAL)
	}
	t, err := r.stage("write", inv)
	if err != nil {
		return err
	}

	size := len(t.data)
	if offset > size && r.cfg.RangePolicy == types.RangeStrict {
		return nativeErr("write", unix.ERANGE)
	}
	if offset > r.cfg.MaxObjectSize-length {
		return nativeErr("write", unix.EFBIG)
	}
	end := offset + length
	if end > size {
		grown := make([]byte, end)
		copy(grown, t.data)
		t.data = grown
	} else {
		// never write through to bytes shared with the loaded record
		t.data = cloneBytes(t.data)
	}
	copy(t.data[offset:end], src.data[:length])
	t.exists, t.dirty = true, true
	return nil
}

// Object returns the committed contents of an object.
func (r *Runtime) Object(oid string) ([]byte, bool, error) {
	rec, ok, err := r.loadRecord(oid)
	if err != nil || !ok {
		return nil, ok, err
	}
	if rec.Data == nil {
		rec.Data = []byte{}
	}
	return rec.Data, true, nil
}

// PutObject stores data as the committed contents of an object, outside of
// any invocation.
func (r *Runtime) PutObject(oid string, data []byte) error {
	unlock := r.lockObject(oid)
	defer unlock()

	rec, _, err := r.loadRecord(oid)
	if err != nil {
		return err
	}
	bz, err := msgpack.Marshal(record{Data: cloneBytes(data), Version: rec.Version + 1})
	if err != nil {
		return err
	}
	return r.db.SetSync(objectKey(oid), bz)
}

// Version returns the commit count of an object, 0 if it never existed.
func (r *Runtime) Version(oid string) (uint64, error) {
	rec, _, err := r.loadRecord(oid)
	return rec.Version, err
}
