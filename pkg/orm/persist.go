package orm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"kvorm/pkg/keyspace"
)

// Save persists the dirty attributes, assigning an identifier from the model
// counter first when the instance is new. Each dirty relationship is
// reconciled against the value on disk before the write, so the backlinks of
// removed and added targets are updated.
//
// Attributes are written concurrently and there is no cross-key transaction:
// when Save fails, writes that already completed stay applied. Two concurrent
// saves touching the same relationship attribute diff against snapshots that
// can be stale and may lose a backlink update; callers that need otherwise
// must serialize saves of one entity themselves.
func (in *Instance) Save(ctx context.Context) error {
	return in.mapper.instrument(ctx, "save", func(ctx context.Context) error {
		if in.id == 0 {
			id, err := in.mapper.store.CounterIncrement(ctx, keyspace.Counter(in.model.name))
			if err != nil {
				return err
			}
			in.id = id
		}
		return in.saveAttrs(ctx, in.Dirty())
	})
}

func (in *Instance) saveAttrs(ctx context.Context, attrs []string) error {
	if len(attrs) == 0 {
		return nil
	}
	before, err := in.fetch(ctx, attrs)
	if err != nil {
		return err
	}

	store := in.mapper.store
	g, gctx := errgroup.WithContext(ctx)
	for _, attr := range attrs {
		f := in.model.fields[attr]
		key, value := in.key(attr), in.values[attr]
		g.Go(func() error { return f.ops.put(gctx, store, key, value) })
		if rel, ok := in.model.relations[attr]; ok {
			prev := before[attr]
			g.Go(func() error { return in.reconcile(gctx, rel, prev, value) })
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, attr := range attrs {
		delete(in.dirty, attr)
	}
	in.mapper.log.Debug("saved instance", "instance", in.String(), "attrs", attrs)
	return nil
}

// fetch reads the on-disk values of attrs concurrently.
func (in *Instance) fetch(ctx context.Context, attrs []string) (map[string]any, error) {
	values := make([]any, len(attrs))
	store := in.mapper.store
	g, gctx := errgroup.WithContext(ctx)
	for i, attr := range attrs {
		f := in.model.fields[attr]
		key := in.key(attr)
		g.Go(func() error {
			v, err := f.ops.get(gctx, store, key)
			values[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(attrs))
	for i, attr := range attrs {
		out[attr] = values[i]
	}
	return out, nil
}

// Load reads attrs from the store into the instance. The identifier is never
// read or overwritten. Unknown attribute names fail before any store access.
func (in *Instance) Load(ctx context.Context, attrs ...string) error {
	return in.mapper.instrument(ctx, "load", func(ctx context.Context) error {
		return in.load(ctx, attrs)
	})
}

func (in *Instance) load(ctx context.Context, attrs []string) error {
	names := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		if attr == IDAttr || slices.Contains(names, attr) {
			continue
		}
		if _, err := in.model.field(attr); err != nil {
			return err
		}
		names = append(names, attr)
	}
	if len(names) == 0 {
		return nil
	}
	if err := in.requireID(); err != nil {
		return err
	}
	values, err := in.fetch(ctx, names)
	if err != nil {
		return err
	}
	for attr, v := range values {
		in.values[attr] = v
		delete(in.dirty, attr)
	}
	return nil
}

// Delete removes the instance from the store. Every instance referencing it
// through an observed relationship has the reference removed and the
// corresponding backlink key is deleted; the instance's own relationships are
// detached from their targets; then all of its attribute keys are deleted.
// The cascade is best effort: failures are collected, the remaining steps
// still run, and the joined error is returned after the in-memory state has
// been reset to that of a new instance.
func (in *Instance) Delete(ctx context.Context) error {
	return in.mapper.instrument(ctx, "delete", func(ctx context.Context) error {
		if err := in.requireID(); err != nil {
			return err
		}

		var (
			mu   sync.Mutex
			errs []error
			wg   sync.WaitGroup
		)
		record := func(err error) {
			if err == nil {
				return
			}
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}

		for _, obs := range in.mapper.reg.ObservedBy(in.model.name) {
			wg.Go(func() { record(in.releaseObserver(ctx, obs)) })
		}
		for _, rel := range in.model.Relations() {
			wg.Go(func() { record(in.detach(ctx, rel)) })
		}
		wg.Wait()

		store := in.mapper.store
		for attr, f := range in.model.fields {
			key := in.key(attr)
			wg.Go(func() { record(f.ops.del(ctx, store, key)) })
		}
		wg.Wait()

		name := in.String()
		in.reset()
		err := errors.Join(errs...)
		if err != nil {
			in.mapper.log.Warn("delete cascade incomplete", "instance", name, "error", err)
		} else {
			in.mapper.log.Debug("deleted instance", "instance", name)
		}
		return err
	})
}

// Inc atomically increments an Integer attribute in the store and returns the
// new value.
func (in *Instance) Inc(ctx context.Context, attr string) (int64, error) {
	if err := in.typed(attr, TypeInteger); err != nil {
		return 0, err
	}
	if err := in.requireID(); err != nil {
		return 0, err
	}
	var n int64
	err := in.mapper.instrument(ctx, "inc", func(ctx context.Context) error {
		var err error
		n, err = in.mapper.store.CounterIncrement(ctx, in.key(attr))
		return err
	})
	if err != nil {
		return 0, err
	}
	in.values[attr] = n
	delete(in.dirty, attr)
	return n, nil
}

// RemoveID removes id from a multi-valued relationship attribute in the store
// and in memory without touching backlinks.
func (in *Instance) RemoveID(ctx context.Context, attr string, id int64) error {
	if err := in.typed(attr, TypeManyToMany, TypeOneToMany); err != nil {
		return err
	}
	if err := in.requireID(); err != nil {
		return err
	}
	if err := in.mapper.store.SetRemove(ctx, in.key(attr), formatID(id)); err != nil {
		return err
	}
	in.values[attr] = slices.DeleteFunc(in.values[attr].([]int64), func(v int64) bool { return v == id })
	return nil
}

// releaseObserver removes this instance from every holder recorded in the
// backlink for obs, then deletes the backlink.
func (in *Instance) releaseObserver(ctx context.Context, obs Observer) error {
	foreign, ok := in.mapper.reg.Model(obs.Model)
	if !ok {
		return fmt.Errorf("observer %s: %w", obs.Model, ErrUnknownModel)
	}
	rel, ok := foreign.RelationByAttr(obs.Attr)
	if !ok {
		return &AttributeError{Model: obs.Model, Attr: obs.Attr}
	}
	store := in.mapper.store
	bk := rel.backlinkKey(in.id)
	self := formatID(in.id)

	var holders []int64
	if rel.Kind.Pair().Multi() {
		members, err := store.SetMembers(ctx, bk)
		if err != nil {
			return err
		}
		if holders, err = parseIDs(bk, members); err != nil {
			return err
		}
	} else {
		v, ok, err := store.Get(ctx, bk)
		if err != nil {
			return err
		}
		if ok {
			h, err := parseID(v)
			if err != nil {
				return fmt.Errorf("%s: %w", bk, err)
			}
			holders = append(holders, h)
		}
	}

	var errs []error
	for _, h := range holders {
		key := keyspace.Attr(rel.Owner, h, rel.Attr)
		if rel.Kind.Multi() {
			errs = append(errs, store.SetRemove(ctx, key, self))
			continue
		}
		v, ok, err := store.Get(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok && v == self {
			errs = append(errs, store.Delete(ctx, key))
		}
	}
	if rel.Kind.Pair().Multi() {
		errs = append(errs, store.SetDelete(ctx, bk))
	} else {
		errs = append(errs, store.Delete(ctx, bk))
	}
	return errors.Join(errs...)
}

// detach unlinks this instance from the targets of rel as persisted on disk.
func (in *Instance) detach(ctx context.Context, rel *Relationship) error {
	f := in.model.fields[rel.Attr]
	current, err := f.ops.get(ctx, in.mapper.store, in.key(rel.Attr))
	if err != nil {
		return err
	}
	return in.reconcile(ctx, rel, current, f.ops.initial())
}
