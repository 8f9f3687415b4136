package module

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/starford/cmmgraph/internal/apperr"
)

// fixedAPI ranks every request with a constant.
type fixedAPI struct {
	Record
	rank Rank
}

func (f fixedAPI) Check(Criteria) Rank { return f.rank }

func newFixed(sig string, kind Kind, reg string, rank Rank) *Module {
	return &Module{
		Info: Info{Signature: sig, Version: Version{1, 0, 0}},
		APIs: []API{fixedAPI{Record: Record{Capability: kind, Path: reg}, rank: rank}},
	}
}

func TestRegistry_SelectHighestRank(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFixed("aaaa", KindFilter, "sw/x/color/icc.a", 3)))
	require.NoError(t, reg.Register(newFixed("bbbb", KindFilter, "sw/x/color/icc.b", 5)))

	c, ok := reg.Select(KindFilter, Criteria{})
	require.True(t, ok)
	require.Equal(t, "bbbb", c.Module.Info.Signature)
	require.Equal(t, Rank(5), c.Rank)
}

func TestRegistry_PreferredBoost(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFixed("aaaa", KindFilter, "sw/x/color/icc.a", 3)))
	require.NoError(t, reg.Register(newFixed("bbbb", KindFilter, "sw/x/color/icc.b", 5)))

	c, ok := reg.Select(KindFilter, Criteria{Preferred: "aaaa"})
	require.True(t, ok)
	require.Equal(t, "aaaa", c.Module.Info.Signature)
	require.Equal(t, Rank(30), c.Rank)
	require.Equal(t, Rank(3), c.Raw)
}

func TestRegistry_TiesResolvedByRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFixed("frst", KindFilter, "sw/x/a", 4)))
	require.NoError(t, reg.Register(newFixed("scnd", KindFilter, "sw/x/b", 4)))

	cands := reg.Query(KindFilter, Criteria{})
	require.Len(t, cands, 2)
	require.Equal(t, "frst", cands[0].Module.Info.Signature)
	require.Equal(t, "scnd", cands[1].Module.Info.Signature)
}

func TestRegistry_NoHandlerIsEmptyResult(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFixed("zero", KindFilter, "sw/x/a", 0)))
	require.NoError(t, reg.Register(newFixed("unkn", KindFilter, "sw/x/b", RankUnknown)))
	require.NoError(t, reg.Register(newFixed("exec", KindExecutor, "sw/x/c", 7)))

	_, ok := reg.Select(KindFilter, Criteria{})
	require.False(t, ok)
	require.Empty(t, reg.Query(KindFilter, Criteria{}))
}

func TestRegistry_APIVersionBonus(t *testing.T) {
	reg := NewRegistry()
	old := newFixed("oldv", KindFilter, "sw/x/a", 4)
	cur := newFixed("curv", KindFilter, "sw/x/b", 4)
	cur.Info.APIVersion = CoreAPIVersion
	require.NoError(t, reg.Register(old))
	require.NoError(t, reg.Register(cur))

	c, ok := reg.Select(KindFilter, Criteria{})
	require.True(t, ok)
	require.Equal(t, "curv", c.Module.Info.Signature)
	require.Equal(t, Rank(5), c.Raw)
}

func TestRegistry_LargeRanksKeepMagnitude(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFixed("low_", KindFilter, "sw/x/a", 12)))
	require.NoError(t, reg.Register(newFixed("high", KindFilter, "sw/x/b", 40)))

	c, ok := reg.Select(KindFilter, Criteria{})
	require.True(t, ok)
	require.Equal(t, "high", c.Module.Info.Signature)
	require.Equal(t, Rank(40), c.Rank)
	require.False(t, c.Preferred)
}

func TestRegistry_PreferredBeatsLargerRank(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFixed("pref", KindFilter, "sw/x/a", 1)))
	require.NoError(t, reg.Register(newFixed("huge", KindFilter, "sw/x/b", 1000)))

	cands := reg.Query(KindFilter, Criteria{Preferred: "pref"})
	require.Len(t, cands, 2)
	require.Equal(t, "pref", cands[0].Module.Info.Signature)
	require.True(t, cands[0].Preferred)
	require.Equal(t, Rank(10), cands[0].Rank)
	require.Equal(t, Rank(1000), cands[1].Rank)
}

func TestRegistry_DuplicateSignatureRejected(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFixed("dupl", KindFilter, "sw/x/a", 1)))
	err := reg.Register(newFixed("dupl", KindFilter, "sw/x/b", 1))
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestRegistry_DuplicateRegistrationCoexists(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFixed("aaaa", KindFilter, "sw/x/icc", 2)))
	require.NoError(t, reg.Register(newFixed("bbbb", KindFilter, "sw/x/icc", 1)))
	require.Len(t, reg.Query(KindFilter, Criteria{}), 2)
}

func TestRegistry_OverrideReplacesRegistration(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFixed("aaaa", KindFilter, "sw/x/icc", 8)))
	over := newFixed("bbbb", KindFilter, "sw/x/icc", 1)
	over.Info.Override = true
	require.NoError(t, reg.Register(over))

	cands := reg.Query(KindFilter, Criteria{})
	require.Len(t, cands, 1)
	require.Equal(t, "bbbb", cands[0].Module.Info.Signature)
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFixed("aaaa", KindFilter, "sw/x/a", 1)))
	require.True(t, reg.Unregister("aaaa"))
	require.False(t, reg.Unregister("aaaa"))
	require.Zero(t, reg.Count())
	_, ok := reg.Lookup("aaaa")
	require.False(t, ok)
}

func TestRegistry_InvalidModule(t *testing.T) {
	reg := NewRegistry()
	require.Error(t, reg.Register(nil))
	require.Error(t, reg.Register(&Module{Info: Info{Signature: "toolong"}, APIs: []API{Record{KindFilter, "a"}}}))
	require.Error(t, reg.Register(&Module{Info: Info{Signature: "none"}}))
}

type lifecycleAPI struct {
	Record
	inited, closed bool
	initErr        error
}

func (l *lifecycleAPI) Init() error  { l.inited = true; return l.initErr }
func (l *lifecycleAPI) Close() error { l.closed = true; return nil }

func TestRegistry_InitAndClose(t *testing.T) {
	reg := NewRegistry()
	api := &lifecycleAPI{Record: Record{KindFilter, "sw/x/life"}}
	require.NoError(t, reg.Register(&Module{Info: Info{Signature: "life"}, APIs: []API{api}}))
	require.True(t, api.inited)

	require.NoError(t, reg.Close())
	require.True(t, api.closed)
	require.Error(t, reg.Register(newFixed("late", KindFilter, "sw/x/a", 1)))
}

func TestRegistry_InitFailureNotRegistered(t *testing.T) {
	reg := NewRegistry()
	api := &lifecycleAPI{Record: Record{KindFilter, "sw/x/life"}, initErr: errors.New("no device")}
	require.Error(t, reg.Register(&Module{Info: Info{Signature: "life"}, APIs: []API{api}}))
	require.Zero(t, reg.Count())
}

type countingLocker struct {
	sync.Mutex
	locks, unlocks int
}

func (c *countingLocker) Lock()   { c.Mutex.Lock(); c.locks++ }
func (c *countingLocker) Unlock() { c.unlocks++; c.Mutex.Unlock() }

func TestRegistry_InjectedLockReleasedOnErrorPaths(t *testing.T) {
	l := &countingLocker{}
	reg := NewRegistry(WithLocker(l))
	require.NoError(t, reg.Register(newFixed("aaaa", KindFilter, "sw/x/a", 1)))
	require.Error(t, reg.Register(newFixed("aaaa", KindFilter, "sw/x/a", 1)))
	reg.Query(KindFilter, Criteria{})
	require.Equal(t, l.locks, l.unlocks)
}

func TestRecord_CheckUsesPattern(t *testing.T) {
	r := Record{Capability: KindFilter, Path: "sw/starford/imaging/icc.transform"}
	require.Equal(t, Rank(1), r.Check(Criteria{}))
	require.Equal(t, Rank(2), r.Check(Criteria{Pattern: "//imaging/icc"}))
	require.Equal(t, Rank(0), r.Check(Criteria{Pattern: "//imaging/root"}))
}

// The preferred module wins whenever its raw rank is non-zero, whatever
// the other candidates report.
func TestRegistry_PreferredAlwaysWins(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		reg := NewRegistry()
		n := rapid.IntRange(1, 8).Draw(t, "n")
		for i := 0; i < n; i++ {
			rank := Rank(rapid.IntRange(-1, 1000).Draw(t, fmt.Sprintf("rank%d", i)))
			if err := reg.Register(newFixed(fmt.Sprintf("m%03d", i), KindFilter, "sw/x/a", rank)); err != nil {
				t.Fatalf("register: %v", err)
			}
		}
		pick := rapid.IntRange(0, n-1).Draw(t, "pick")
		sig := fmt.Sprintf("m%03d", pick)
		mod, _ := reg.Lookup(sig)
		raw := mod.APIs[0].Check(Criteria{})

		c, ok := reg.Select(KindFilter, Criteria{Preferred: sig})
		if raw > 0 {
			if !ok || c.Module.Info.Signature != sig {
				t.Fatalf("preferred %s with raw rank %d not selected", sig, raw)
			}
		} else if ok && c.Module.Info.Signature == sig {
			t.Fatalf("preferred %s selected with raw rank %d", sig, raw)
		}
	})
}
