package orchestration

import (
	"context"
	"fmt"
	"sort"

	"github.com/mattsolo1/tuxplan/pkg/tuxapi"
)

// Snapshot is the merged remote state of a plan, keyed by uid. Every
// GetPlan call returns a fresh one.
type Snapshot struct {
	Builds map[string]tuxapi.Record `json:"builds"`
	Tests  map[string]tuxapi.Record `json:"tests"`
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Builds: make(map[string]tuxapi.Record),
		Tests:  make(map[string]tuxapi.Record),
	}
}

// pageCursor follows one paginated collection across requests.
type pageCursor struct {
	next *string
	done bool
}

// advance merges col into into and moves the cursor. A collection that is
// absent or has no next page is exhausted; later pages of an exhausted
// collection are ignored.
func (c *pageCursor) advance(col *tuxapi.Collection, into map[string]tuxapi.Record) {
	if c.done {
		return
	}
	if col == nil {
		c.next, c.done = nil, true
		return
	}
	if into != nil {
		for _, rec := range col.Results {
			if uid := rec.UID(); uid != "" {
				into[uid] = rec
			}
		}
	}
	c.next = col.Next
	c.done = col.Next == nil
}

// GetPlan fetches every page of the plan status and merges them. Each
// collection follows its own cursor; the call ends when all are
// exhausted. Any error aborts without a partial result.
func (p *Plan) GetPlan(ctx context.Context) (*Snapshot, error) {
	if p.UID == "" {
		return nil, ErrNotSubmitted
	}

	snap := newSnapshot()
	var builds, tests, oebuilds pageCursor

	buildsInto, oebuildsInto := snap.Builds, snap.Builds
	switch p.Kind {
	case PlanKindKernel:
		oebuildsInto = nil
	case PlanKindBitbake:
		buildsInto = nil
	}

	for pages := 0; ; pages++ {
		page, err := p.client.GetPlanPage(ctx, p.UID, tuxapi.Cursors{
			Builds:   builds.next,
			Tests:    tests.next,
			OEBuilds: oebuilds.next,
		})
		if err != nil {
			return nil, fmt.Errorf("get plan %s: %w", p.UID, err)
		}

		builds.advance(page.Builds, buildsInto)
		tests.advance(page.Tests, snap.Tests)
		oebuilds.advance(page.OEBuilds, oebuildsInto)

		if builds.done && tests.done && oebuilds.done {
			p.logger.Debug("Fetched plan state", "plan", p.UID, "pages", pages+1,
				"builds", len(snap.Builds), "tests", len(snap.Tests))
			return snap, nil
		}
	}
}

// UnitState is the normalized state of one build or test in a snapshot.
type UnitState struct {
	Kind       UnitKind `json:"kind"`
	UID        string   `json:"uid"`
	Label      string   `json:"label"`
	State      string   `json:"state"`
	Result     string   `json:"result,omitempty"`
	WaitingFor string   `json:"waiting_for,omitempty"`
}

// States lists every build and then every test of p, in submission
// order, with the state snap reports for it. Units missing from snap
// have an empty state.
func (p *Plan) States(snap *Snapshot) []UnitState {
	states := make([]UnitState, 0, len(p.Builds)+len(p.Tests))
	for _, b := range p.Builds {
		us := UnitState{Kind: UnitBuild, UID: b.UID, Label: b.Label()}
		if rec, ok := snap.Builds[b.UID]; ok {
			status := buildStatus(p.Kind, rec)
			us.State, us.Result = status.State, status.Result
		}
		states = append(states, us)
	}
	for _, t := range p.Tests {
		us := UnitState{Kind: UnitTest, UID: t.UID, Label: t.Label(), WaitingFor: t.WaitingFor}
		if rec, ok := snap.Tests[t.UID]; ok {
			status := testStatus(rec)
			us.State, us.Result = status.State, status.Result
		}
		states = append(states, us)
	}
	return states
}

// LoadPlan attaches to an already submitted plan. Builds and tests are
// rebuilt from the current remote state, ordered by uid, since the
// original document is not available.
func LoadPlan(ctx context.Context, client APIClient, uid string) (*Plan, error) {
	p := &Plan{
		UID:     uid,
		Group:   client.Group(),
		Project: client.Project(),
		client:  client,
		logger:  NewDefaultLogger(),
	}

	snap, err := p.GetPlan(ctx)
	if err != nil {
		return nil, err
	}

	byUID := make(map[string]*Build, len(snap.Builds))
	for _, buid := range sortedKeys(snap.Builds) {
		rec := snap.Builds[buid]
		b := &Build{UID: buid, DownloadURL: rec.String("download_url"), Entry: -1}
		if rec.String("toolchain") != "" {
			b.Spec = &BuildSpec{
				TargetArch: rec.String("target_arch"),
				Toolchain:  rec.String("toolchain"),
				Kconfig:    recordStrings(rec, "kconfig"),
			}
		} else {
			p.Kind = PlanKindBitbake
			b.Bake = &BakeSpec{
				Name:    rec.String("name"),
				Distro:  rec.String("distro"),
				Machine: rec.String("machine"),
				Target:  rec.String("target"),
			}
		}
		byUID[buid] = b
		p.Builds = append(p.Builds, b)
	}
	if p.Kind == "" {
		p.Kind = PlanKindKernel
	}

	for _, tuid := range sortedKeys(snap.Tests) {
		rec := snap.Tests[tuid]
		t := &Test{
			UID:        tuid,
			WaitingFor: rec.String("waiting_for"),
			Entry:      -1,
			Spec: TestSpec{
				Device: rec.String("device"),
				Tests:  recordStrings(rec, "tests"),
				Kernel: rec.String("kernel"),
			},
		}
		t.Build = byUID[t.WaitingFor]
		p.Tests = append(p.Tests, t)
	}
	return p, nil
}

func sortedKeys(m map[string]tuxapi.Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func recordStrings(rec tuxapi.Record, key string) []string {
	switch v := rec[key].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}
