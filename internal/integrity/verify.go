// Package integrity checks that every persisted relationship has a matching
// backlink.
package integrity

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"kvorm/pkg/keyspace"
	"kvorm/pkg/kv"
	"kvorm/pkg/orm"
)

// DefaultConcurrency bounds the entities checked in parallel.
const DefaultConcurrency = 8

// Issue is one backlink that does not reflect its forward relationship.
type Issue struct {
	// Key is the backlink key that was checked.
	Key string `json:"key"`
	// Expected is the id the backlink should hold.
	Expected string `json:"expected"`
	// Found describes what the backlink holds instead.
	Found string `json:"found"`
	// Source is the forward attribute key that refers to the backlink owner.
	Source string `json:"source"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: expected %s, found %s (from %s)", i.Key, i.Expected, i.Found, i.Source)
}

// Report summarises one verification run.
type Report struct {
	Entities int     `json:"entities"`
	Links    int     `json:"links"`
	Issues   []Issue `json:"issues"`
}

// OK reports whether no issue was found.
func (r Report) OK() bool { return len(r.Issues) == 0 }

// Verifier walks every entity up to its model counter. When the store can be
// dumped, entities saved under an explicit id above the counter are walked as
// well.
type Verifier struct {
	store       kv.Store
	reg         *orm.Registry
	concurrency int
}

// NewVerifier returns a verifier over store using the relationships of reg.
func NewVerifier(store kv.Store, reg *orm.Registry) *Verifier {
	return &Verifier{store: store, reg: reg, concurrency: DefaultConcurrency}
}

// Verify checks every forward relationship value against the backlink of
// each referenced entity.
func (v *Verifier) Verify(ctx context.Context) (Report, error) {
	var (
		mu     sync.Mutex
		report Report
	)
	extra, err := v.storedIDs(ctx)
	if err != nil {
		return Report{}, err
	}
	for _, model := range v.reg.Models() {
		rels := model.Relations()
		last, err := v.store.CounterGet(ctx, keyspace.Counter(model.Name()))
		if err != nil {
			return Report{}, err
		}
		ids := make([]int64, 0, max(last, 0))
		for id := int64(1); id <= last; id++ {
			ids = append(ids, id)
		}
		for id := range extra[model.Name()] {
			if id > last {
				ids = append(ids, id)
			}
		}
		report.Entities += len(ids)
		if len(rels) == 0 {
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(v.concurrency)
		for _, id := range ids {
			g.Go(func() error {
				links, issues, err := v.checkEntity(gctx, model.Name(), id, rels)
				if err != nil {
					return err
				}
				mu.Lock()
				report.Links += links
				report.Issues = append(report.Issues, issues...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Report{}, err
		}
	}
	sort.Slice(report.Issues, func(i, j int) bool {
		if report.Issues[i].Key != report.Issues[j].Key {
			return report.Issues[i].Key < report.Issues[j].Key
		}
		return report.Issues[i].Source < report.Issues[j].Source
	})
	return report, nil
}

// storedIDs collects entity ids per model from the keys of a dumpable store.
// It returns nil when the store cannot be dumped.
func (v *Verifier) storedIDs(ctx context.Context) (map[string]map[int64]struct{}, error) {
	d, ok := dumper(v.store)
	if !ok {
		return nil, nil
	}
	snap, err := d.Dump(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]map[int64]struct{})
	add := func(key string) {
		model, rest, ok := strings.Cut(key, "#")
		if !ok {
			return
		}
		if _, known := v.reg.Model(model); !known {
			return
		}
		raw, _, _ := strings.Cut(rest, ":")
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return
		}
		if ids[model] == nil {
			ids[model] = make(map[int64]struct{})
		}
		ids[model][id] = struct{}{}
	}
	for key := range snap.Scalars {
		add(key)
	}
	for key := range snap.Counters {
		add(key)
	}
	for key := range snap.Sets {
		add(key)
	}
	return ids, nil
}

// dumper finds a kv.Dumper behind any Unwrap chain of store decorators.
func dumper(s kv.Store) (kv.Dumper, bool) {
	for {
		if d, ok := s.(kv.Dumper); ok {
			return d, true
		}
		u, ok := s.(interface{ Unwrap() kv.Store })
		if !ok {
			return nil, false
		}
		s = u.Unwrap()
	}
}

func (v *Verifier) checkEntity(ctx context.Context, model string, id int64, rels []*orm.Relationship) (int, []Issue, error) {
	var (
		links  int
		issues []Issue
	)
	self := strconv.FormatInt(id, 10)
	for _, rel := range rels {
		source := keyspace.Attr(model, id, rel.Attr)
		targets, err := v.forward(ctx, source, rel.Kind)
		if err != nil {
			return 0, nil, err
		}
		for _, target := range targets {
			links++
			tid, err := strconv.ParseInt(target, 10, 64)
			if err != nil {
				issues = append(issues, Issue{Key: source, Expected: "an id", Found: strconv.Quote(target), Source: source})
				continue
			}
			bk := v.reg.BacklinkKey(rel.Target, tid, model, rel.Attr)
			issue, err := v.checkBacklink(ctx, bk, rel.Kind.Pair().Multi(), self)
			if err != nil {
				return 0, nil, err
			}
			if issue != nil {
				issue.Source = source
				issues = append(issues, *issue)
			}
		}
	}
	return links, issues, nil
}

func (v *Verifier) forward(ctx context.Context, key string, kind orm.Kind) ([]string, error) {
	if kind.Multi() {
		return v.store.SetMembers(ctx, key)
	}
	val, ok, err := v.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	return []string{val}, nil
}

func (v *Verifier) checkBacklink(ctx context.Context, key string, multi bool, self string) (*Issue, error) {
	if multi {
		ok, err := v.store.SetIsMember(ctx, key, self)
		if err != nil || ok {
			return nil, err
		}
		return &Issue{Key: key, Expected: self, Found: "no member"}, nil
	}
	val, ok, err := v.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	switch {
	case !ok:
		return &Issue{Key: key, Expected: self, Found: "nothing"}, nil
	case val != self:
		return &Issue{Key: key, Expected: self, Found: val}, nil
	}
	return nil, nil
}
