package orm

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"kvorm/pkg/keyspace"
)

// Default page for Related.
const (
	DefaultLimit  = 10
	DefaultOffset = 0
)

// reconcile brings the backlinks of rel in line with a change of the forward
// value from before to after.
func (in *Instance) reconcile(ctx context.Context, rel *Relationship, before, after any) error {
	if !rel.Kind.Multi() {
		prev, _ := before.(int64)
		next, _ := after.(int64)
		if prev == next {
			return nil
		}
		if prev != 0 {
			if err := in.unlink(ctx, rel, prev); err != nil {
				return err
			}
		}
		if next != 0 {
			return in.link(ctx, rel, next)
		}
		return nil
	}

	prev, _ := before.([]int64)
	next, _ := after.([]int64)
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range prev {
		if !slices.Contains(next, id) {
			g.Go(func() error { return in.unlink(gctx, rel, id) })
		}
	}
	for _, id := range next {
		if !slices.Contains(prev, id) {
			g.Go(func() error { return in.link(gctx, rel, id) })
		}
	}
	return g.Wait()
}

// link records this instance in the backlink of target. For OneToMany and
// OneToOne the target is first released by its current holder.
func (in *Instance) link(ctx context.Context, rel *Relationship, target int64) error {
	store := in.mapper.store
	bk := rel.backlinkKey(target)
	self := formatID(in.id)

	switch rel.Kind {
	case ManyToMany, ManyToOne:
		return store.SetAdd(ctx, bk, self)
	case OneToMany, OneToOne:
		cur, ok, err := store.Get(ctx, bk)
		if err != nil {
			return err
		}
		if ok && cur != self {
			holder, err := parseID(cur)
			if err != nil {
				return fmt.Errorf("%s: %w", bk, err)
			}
			if err := in.release(ctx, rel, holder, target); err != nil {
				return err
			}
		}
		return store.Put(ctx, bk, self)
	}
	return nil
}

// release drops target from the forward attribute of its previous holder.
func (in *Instance) release(ctx context.Context, rel *Relationship, holder, target int64) error {
	store := in.mapper.store
	key := keyspace.Attr(rel.Owner, holder, rel.Attr)
	t := formatID(target)
	if rel.Kind == OneToMany {
		return store.SetRemove(ctx, key, t)
	}
	v, ok, err := store.Get(ctx, key)
	if err != nil || !ok || v != t {
		return err
	}
	return store.Delete(ctx, key)
}

// unlink removes this instance from the backlink of target.
func (in *Instance) unlink(ctx context.Context, rel *Relationship, target int64) error {
	store := in.mapper.store
	bk := rel.backlinkKey(target)
	self := formatID(in.id)

	switch rel.Kind {
	case ManyToMany, ManyToOne:
		return store.SetRemove(ctx, bk, self)
	case OneToMany, OneToOne:
		cur, ok, err := store.Get(ctx, bk)
		if err != nil || !ok || cur != self {
			return err
		}
		return store.Delete(ctx, bk)
	}
	return nil
}

func (in *Instance) relation(method string, multi bool) (*Relationship, error) {
	rel, ok := in.model.Relation(method)
	if !ok {
		return nil, &AttributeError{Model: in.model.name, Attr: method}
	}
	if rel.Kind.Multi() != multi {
		return nil, fmt.Errorf("%s.%s is %s: %w", in.model.name, method, rel.Kind, ErrTypeMismatch)
	}
	if rel.target == nil {
		return nil, ErrNotFinalized
	}
	return rel, nil
}

// Related loads a page of the instances referenced by the multi-valued
// relationship method. Trailing integer arguments select the page: two are
// (limit, offset), one is limit with offset 0, none gives DefaultLimit and
// DefaultOffset. The remaining arguments are attribute names loaded on each
// related instance. The relationship attribute itself is reloaded from the
// store first; results follow its ascending id order.
func (in *Instance) Related(ctx context.Context, method string, args ...any) ([]*Instance, error) {
	rel, err := in.relation(method, true)
	if err != nil {
		return nil, err
	}
	attrs, limit, offset, err := parseLoadArgs(args)
	if err != nil {
		return nil, err
	}
	if err := checkAttrs(rel.target, attrs); err != nil {
		return nil, err
	}

	var out []*Instance
	err = in.mapper.instrument(ctx, "related", func(ctx context.Context) error {
		if err := in.load(ctx, []string{rel.Attr}); err != nil {
			return err
		}
		ids := in.values[rel.Attr].([]int64)
		start := min(offset, len(ids))
		end := start + min(limit, len(ids)-start)
		page := ids[start:end]

		out = make([]*Instance, len(page))
		g, gctx := errgroup.WithContext(ctx)
		for i, id := range page {
			related := newInstance(in.mapper, rel.target)
			related.id = id
			out[i] = related
			g.Go(func() error { return related.load(gctx, attrs) })
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RelatedOne loads the instance referenced by the single-valued relationship
// method, reloading the reference from the store first. It returns nil when no
// instance is referenced.
func (in *Instance) RelatedOne(ctx context.Context, method string, attrs ...string) (*Instance, error) {
	rel, err := in.relation(method, false)
	if err != nil {
		return nil, err
	}
	if err := checkAttrs(rel.target, attrs); err != nil {
		return nil, err
	}

	var out *Instance
	err = in.mapper.instrument(ctx, "related", func(ctx context.Context) error {
		if err := in.load(ctx, []string{rel.Attr}); err != nil {
			return err
		}
		id, ok := in.values[rel.Attr].(int64)
		if !ok {
			return nil
		}
		related := newInstance(in.mapper, rel.target)
		related.id = id
		if err := related.load(ctx, attrs); err != nil {
			return err
		}
		out = related
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveRelation clears the single-valued relationship method and saves it,
// which removes this instance from the previous partner's backlink. It returns
// ErrNoRelation when nothing was stored.
func (in *Instance) RemoveRelation(ctx context.Context, method string) error {
	rel, err := in.relation(method, false)
	if err != nil {
		return err
	}
	if err := in.requireID(); err != nil {
		return err
	}
	return in.mapper.instrument(ctx, "remove_relation", func(ctx context.Context) error {
		stored, err := in.fetch(ctx, []string{rel.Attr})
		if err != nil {
			return err
		}
		if stored[rel.Attr] == nil {
			return fmt.Errorf("%s.%s: %w", in, method, ErrNoRelation)
		}
		in.values[rel.Attr] = nil
		return in.saveAttrs(ctx, []string{rel.Attr})
	})
}

func checkAttrs(model *Model, attrs []string) error {
	for _, attr := range attrs {
		if attr == IDAttr {
			continue
		}
		if _, err := model.field(attr); err != nil {
			return err
		}
	}
	return nil
}

// parseLoadArgs splits Related arguments into attribute names and the page.
func parseLoadArgs(args []any) (attrs []string, limit, offset int, err error) {
	limit, offset = DefaultLimit, DefaultOffset
	n := len(args)
	if n > 0 {
		if last, ok := toInt64(args[n-1]); ok {
			if n > 1 {
				if prev, ok := toInt64(args[n-2]); ok {
					limit, offset = int(prev), int(last)
					n -= 2
				} else {
					limit = int(last)
					n--
				}
			} else {
				limit = int(last)
				n--
			}
		}
	}
	if limit < 0 || offset < 0 {
		return nil, 0, 0, fmt.Errorf("limit %d, offset %d: %w", limit, offset, ErrInvalidArgument)
	}
	attrs = make([]string, 0, n)
	for _, a := range args[:n] {
		s, ok := a.(string)
		if !ok {
			return nil, 0, 0, fmt.Errorf("attribute name %v (%T): %w", a, a, ErrInvalidArgument)
		}
		attrs = append(attrs, s)
	}
	return attrs, limit, offset, nil
}
