package emit

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
)

// Pass is a stateless mutation over the unit/group sets. Passes are
// re-invoked until every pass in the list reports no further change; they
// receive mutable access but must leave the graph structurally valid.
type Pass interface {
	Name() string
	Run(og *OutputGraph) (changed bool, err error)
}

// RunPasses applies the passes repeatedly until a full round reports no
// change.
func RunPasses(og *OutputGraph, passes []Pass, log zerolog.Logger) error {
	if len(passes) == 0 {
		return nil
	}
	for round := 0; ; round++ {
		changed := false
		for _, p := range passes {
			c, err := p.Run(og)
			if err != nil {
				return engine.NewInternalError("optimization pass "+p.Name()+" failed", err)
			}
			if c {
				log.Debug().Str("pass", p.Name()).Int("round", round).Msg("pass mutated output graph")
				changed = true
			}
		}
		if !changed {
			return nil
		}
	}
}

// DefaultPasses returns the built-in optimization passes for a policy.
func DefaultPasses(policy Policy) []Pass {
	policy = policy.withDefaults()
	return []Pass{
		&CommonUnitsPass{MinShareCount: policy.MinShareCount, MinSize: policy.MinSharedSize},
		&RemoveEmptyGroupsPass{},
	}
}

// CommonUnitsPass extracts units shared across several groups into a
// common group referenced by every affected collection, so shared code is
// emitted once.
type CommonUnitsPass struct {
	// MinShareCount is the minimum number of sharing groups.
	MinShareCount int

	// MinSize excludes units with less content than this.
	MinSize int
}

// Name implements Pass.
func (p *CommonUnitsPass) Name() string { return "common-units" }

// Run implements Pass. Units sharing an identical set of source groups are
// extracted together into one shared group, keeping the pass idempotent:
// after extraction a unit belongs to exactly one group and no longer
// qualifies.
func (p *CommonUnitsPass) Run(og *OutputGraph) (bool, error) {
	minShare := p.MinShareCount
	if minShare <= 0 {
		minShare = 2
	}

	// signature (sorted group names) -> unit identities to extract.
	buckets := make(map[string][]*engine.Unit)
	sources := make(map[string][]*Group)

	for _, g := range og.Groups() {
		if g.Kind == GroupShared || g.Kind == GroupRuntime {
			continue
		}
		for _, u := range g.Units() {
			if p.MinSize > 0 && len(u.Content) < p.MinSize {
				continue
			}
			holders := eligibleHolders(og.GroupsOf(u.Identity))
			if len(holders) < minShare {
				continue
			}
			names := make([]string, len(holders))
			for i, h := range holders {
				names[i] = h.Name
			}
			sig := sharedGroupName(names)
			if _, ok := buckets[sig]; !ok {
				sources[sig] = holders
			}
			if !containsUnit(buckets[sig], u) {
				buckets[sig] = append(buckets[sig], u)
			}
		}
	}
	if len(buckets) == 0 {
		return false, nil
	}

	sigs := make([]string, 0, len(buckets))
	for sig := range buckets {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)

	for _, sig := range sigs {
		shared := og.NewGroup(sig, GroupShared, "")
		collSeen := make(map[*Collection]bool)
		for _, holder := range sources[sig] {
			if shared.Runtime == "" {
				shared.Runtime = holder.Runtime
			}
			for _, coll := range holder.Collections() {
				if !collSeen[coll] {
					collSeen[coll] = true
					coll.addGroup(shared)
				}
			}
		}
		for _, u := range buckets[sig] {
			for _, holder := range sources[sig] {
				og.RemoveUnit(u.Identity, holder)
			}
			og.AddUnit(u, shared)
		}
	}
	return true, nil
}

func eligibleHolders(groups []*Group) []*Group {
	var out []*Group
	for _, g := range groups {
		if g.Kind != GroupShared && g.Kind != GroupRuntime {
			out = append(out, g)
		}
	}
	return out
}

func containsUnit(units []*engine.Unit, u *engine.Unit) bool {
	for _, member := range units {
		if member == u {
			return true
		}
	}
	return false
}

// RemoveEmptyGroupsPass removes groups that ended up with no units and
// carry no runtime code.
type RemoveEmptyGroupsPass struct{}

// Name implements Pass.
func (p *RemoveEmptyGroupsPass) Name() string { return "remove-empty-groups" }

// Run implements Pass.
func (p *RemoveEmptyGroupsPass) Run(og *OutputGraph) (bool, error) {
	changed := false
	for _, g := range og.Groups() {
		if g.Size() == 0 && !g.HasRuntime {
			og.RemoveGroup(g)
			changed = true
		}
	}
	return changed, nil
}
