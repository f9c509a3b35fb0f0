package dht

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchUpsertSameLengthAndKeySet(t *testing.T) {
	tbl := NewTable()
	pairs := []KVPair{
		{Key: NewStringKey("a"), Value: NewU64Value(1)},
		{Key: NewStringKey("a"), Value: NewU64Value(2)},
		{Key: NewStringKey("b"), Value: NewU64Value(5)},
	}
	results := tbl.BatchUpsert(U64Add, pairs)
	require.Len(t, results, len(pairs))

	wantKeys := map[string]int{}
	for _, p := range pairs {
		wantKeys[string(p.Key.CanonicalBytes())]++
	}
	gotKeys := map[string]int{}
	for _, r := range results {
		gotKeys[string(r.Key.CanonicalBytes())]++
	}
	require.Equal(t, wantKeys, gotKeys)

	va, _ := tbl.Get(NewStringKey("a"))
	require.Equal(t, uint64(3), va.U64)
	vb, _ := tbl.Get(NewStringKey("b"))
	require.Equal(t, uint64(5), vb.U64)
}

func TestUpsertOnMissingKeyIsInsert(t *testing.T) {
	tbl := NewTable()
	action := tbl.Upsert(U64Add, NewStringKey("x"), NewU64Value(10))
	require.Equal(t, Inserted, action)
	v, ok := tbl.Get(NewStringKey("x"))
	require.True(t, ok)
	require.Equal(t, uint64(10), v.U64)
}

func TestUpsertNoChangeLeavesValueUnchanged(t *testing.T) {
	tbl := NewTable()
	tbl.Set(NewStringKey("x"), NewU64Value(10))
	before, _ := tbl.Get(NewStringKey("x"))

	action := tbl.Upsert(U64Add, NewStringKey("x"), NewU64Value(0))
	require.Equal(t, NoChange, action)

	after, _ := tbl.Get(NewStringKey("x"))
	require.Equal(t, before, after)
}

func TestRangeGetCompletenessViaPagination(t *testing.T) {
	tbl := NewTable()
	keys := []string{"alpha", "beta", "delta", "gamma", "epsilon"}
	for i, k := range keys {
		tbl.Set(NewStringKey(k), NewU64Value(uint64(i)))
	}

	var seen []Key
	lo := Unb()
	for {
		page := tbl.RangeGet(Range{Lo: lo, Hi: Unb()}, 2)
		if len(page) == 0 {
			break
		}
		for _, p := range page {
			seen = append(seen, p.Key)
		}
		lo = Excl(page[len(page)-1].Key)
	}

	require.Len(t, seen, len(keys))
	for i := 1; i < len(seen); i++ {
		require.True(t, Compare(seen[i-1], seen[i]) < 0, "expected strictly increasing canonical order")
	}

	gotSet := map[string]bool{}
	for _, k := range seen {
		gotSet[k.Str] = true
	}
	for _, k := range keys {
		require.True(t, gotSet[k], "missing key %s", k)
	}
}

func TestRangeGetBoundKinds(t *testing.T) {
	tbl := NewTable()
	for i := uint64(0); i < 5; i++ {
		tbl.Set(NewU64Key(i), NewU64Value(i))
	}

	incl := tbl.RangeGet(Range{Lo: Incl(NewU64Key(1)), Hi: Incl(NewU64Key(3))}, 0)
	require.Len(t, incl, 3)

	excl := tbl.RangeGet(Range{Lo: Excl(NewU64Key(1)), Hi: Excl(NewU64Key(3))}, 0)
	require.Len(t, excl, 1)
}

func TestAllTablesSortedAndDeduplicated(t *testing.T) {
	ts := NewTableSet()
	ts.Get("zeta")
	ts.Get("alpha")
	ts.Get("alpha")
	ts.Get("mu")

	names := ts.AllTables()
	require.Equal(t, []string{"alpha", "mu", "zeta"}, names)
}

func TestBatchGetOmitsAbsentKeys(t *testing.T) {
	tbl := NewTable()
	tbl.Set(NewStringKey("present"), NewU64Value(1))

	got := tbl.BatchGet([]Key{NewStringKey("present"), NewStringKey("missing")})
	require.Len(t, got, 1)
	require.Equal(t, "present", got[0].Key.Str)
}
