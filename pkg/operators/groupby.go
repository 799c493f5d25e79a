package operators

import (
	"sync"

	"github.com/go-logr/logr"

	"l7mp.io/delta-collections/pkg/cache"
	"l7mp.io/delta-collections/pkg/changeset"
	"l7mp.io/delta-collections/pkg/stream"
)

// Group pairs a group key with its own cache of the members currently
// mapped to that key. The member cache is a full source: it can be
// connected, watched, filtered and sorted like any other.
type Group[T any, K comparable, G comparable] struct {
	key   G
	cache *cache.Cache[T, K]
}

// Key returns the group key.
func (g *Group[T, K, G]) Key() G { return g.key }

// Cache returns the group's member cache.
func (g *Group[T, K, G]) Cache() *cache.Cache[T, K] { return g.cache }

// RegroupController broadcasts forced re-evaluation of every item's group
// key, for grouping functions that depend on mutable external state the
// stream cannot see.
type RegroupController struct {
	subject *stream.Subject[struct{}]
}

// NewRegroupController returns an idle controller.
func NewRegroupController() *RegroupController {
	return &RegroupController{subject: stream.NewSubject[struct{}](logr.Discard())}
}

// Regroup triggers the re-evaluation on every live subscription.
func (rc *RegroupController) Regroup() { rc.subject.Next(struct{}{}) }

// GroupOptions configures the group-by operator.
type GroupOptions struct {
	Logger logr.Logger
	// Regroup, when non-nil, lets the consumer force full re-evaluation.
	Regroup *RegroupController
}

// GroupBy partitions the upstream collection by groupFn, emitting a change
// set of groups: a group is created (Add) when the first member maps to a
// new key and destroyed (Remove) when its member count returns to zero.
// Membership changes within a group flow through the group's own cache.
// When an item's computed group key changes, the item is orphaned: removed
// from the old group and added to the new one.
func GroupBy[T any, K comparable, G comparable](src *stream.Stream[changeset.ChangeSet[T, K]], groupFn func(T) G, opts ...GroupOptions) *stream.Stream[changeset.ChangeSet[*Group[T, K, G], G]] {
	var options GroupOptions
	if len(opts) > 0 {
		options = opts[0]
	}
	log := options.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	} else {
		log = log.WithName("groupby")
	}

	return stream.New(func(sink stream.Sink[changeset.ChangeSet[*Group[T, K, G], G]]) stream.Subscription {
		g := &grouper[T, K, G]{
			groupFn:    groupFn,
			groups:     make(map[G]*Group[T, K, G]),
			itemGroups: make(map[K]G),
			log:        log,
		}

		// upstream delivery runs on producer goroutines, Regroup on the
		// consumer's: both paths share the grouper maps
		var mu sync.Mutex
		disposeGroups := func() {
			mu.Lock()
			defer mu.Unlock()
			for key, group := range g.groups {
				group.cache.Dispose()
				delete(g.groups, key)
			}
			clear(g.itemGroups)
		}

		subs := stream.CompositeSubscription{}

		subs = append(subs, src.Subscribe(&stream.Observer[changeset.ChangeSet[T, K]]{
			OnNext: func(cs changeset.ChangeSet[T, K]) {
				mu.Lock()
				defer mu.Unlock()
				if out := g.apply(cs); len(out) > 0 {
					sink.Next(out)
				}
			},
			OnError: func(err error) {
				disposeGroups()
				sink.Error(err)
			},
			OnComplete: func() {
				disposeGroups()
				sink.Complete()
			},
		}))

		if options.Regroup != nil {
			subs = append(subs, options.Regroup.subject.Subscribe(&stream.Observer[struct{}]{
				OnNext: func(struct{}) {
					mu.Lock()
					defer mu.Unlock()
					if out := g.regroup(); len(out) > 0 {
						sink.Next(out)
					}
				},
			}))
		}

		// completing the member streams is part of this subscription's
		// teardown: consumers holding Group.Cache() must not hang
		return stream.NewSubscription(func() {
			subs.Dispose()
			disposeGroups()
		})
	})
}

// grouper is the group-by shadow: the live groups plus an item to group-key
// index used to detect orphaning.
type grouper[T any, K comparable, G comparable] struct {
	groupFn    func(T) G
	groups     map[G]*Group[T, K, G]
	itemGroups map[K]G
	log        logr.Logger
}

func (g *grouper[T, K, G]) apply(cs changeset.ChangeSet[T, K]) changeset.ChangeSet[*Group[T, K, G], G] {
	var out changeset.ChangeSet[*Group[T, K, G], G]

	for _, change := range cs {
		switch change.Reason {
		case changeset.Remove:
			out = append(out, g.remove(change.Key)...)
		default:
			out = append(out, g.assign(change.Key, change.Current, change.Reason)...)
		}
	}
	return out
}

// assign routes an item to its computed group, orphaning it from a prior
// group with a different key.
func (g *grouper[T, K, G]) assign(key K, item T, reason changeset.ChangeReason) changeset.ChangeSet[*Group[T, K, G], G] {
	var out changeset.ChangeSet[*Group[T, K, G], G]

	groupKey := g.groupFn(item)
	if prevKey, ok := g.itemGroups[key]; ok && prevKey != groupKey {
		out = append(out, g.removeFromGroup(prevKey, key)...)
	}

	group, exists := g.groups[groupKey]
	if !exists {
		group = &Group[T, K, G]{key: groupKey, cache: cache.New[T, K](nil)}
		g.groups[groupKey] = group
		out = append(out, changeset.NewChange(changeset.Add, groupKey, group))
		g.log.V(4).Info("group created", "group", groupKey)
	}

	g.itemGroups[key] = groupKey
	_ = group.cache.Edit(func(u *cache.Updater[T, K]) {
		if reason == changeset.Refresh {
			if _, ok := u.Lookup(key); ok {
				u.Refresh(key)
				return
			}
		}
		u.AddOrUpdateWithKey(key, item)
	})

	return out
}

func (g *grouper[T, K, G]) remove(key K) changeset.ChangeSet[*Group[T, K, G], G] {
	groupKey, ok := g.itemGroups[key]
	if !ok {
		return nil
	}
	delete(g.itemGroups, key)
	return g.removeFromGroup(groupKey, key)
}

// removeFromGroup detaches one member, destroying the group when it becomes
// empty.
func (g *grouper[T, K, G]) removeFromGroup(groupKey G, key K) changeset.ChangeSet[*Group[T, K, G], G] {
	group, ok := g.groups[groupKey]
	if !ok {
		return nil
	}
	_ = group.cache.Remove(key)
	if group.cache.Count() > 0 {
		return nil
	}

	delete(g.groups, groupKey)
	group.cache.Dispose()
	g.log.V(4).Info("group destroyed", "group", groupKey)
	return changeset.ChangeSet[*Group[T, K, G], G]{
		changeset.NewChange(changeset.Remove, groupKey, group),
	}
}

// regroup re-evaluates every item's group key, processing orphans exactly
// as live updates do.
func (g *grouper[T, K, G]) regroup() changeset.ChangeSet[*Group[T, K, G], G] {
	var out changeset.ChangeSet[*Group[T, K, G], G]

	// snapshot: assign mutates itemGroups
	type member struct {
		key      K
		groupKey G
	}
	members := make([]member, 0, len(g.itemGroups))
	for key, groupKey := range g.itemGroups {
		members = append(members, member{key: key, groupKey: groupKey})
	}

	for _, m := range members {
		group, ok := g.groups[m.groupKey]
		if !ok {
			continue
		}
		item, ok := group.cache.Lookup(m.key)
		if !ok {
			continue
		}
		out = append(out, g.assign(m.key, item, changeset.Update)...)
	}
	return out
}
