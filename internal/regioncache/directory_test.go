package regioncache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tablestore-io/gorange/internal/regioncache"
	"github.com/tablestore-io/gorange/storepb"
)

func loc(start, end, addr string) storepb.RegionLocation {
	var s, e storepb.Key
	if start != "" {
		s = storepb.Key(start)
	}
	if end != "" {
		e = storepb.Key(end)
	}
	return storepb.RegionLocation{
		Region:        storepb.RegionDescriptor{RegionName: "r-" + start, StartKey: s, EndKey: e, Table: storepb.TableDescriptor{Name: "t1"}},
		ServerAddress: addr,
	}
}

func TestLookupNotOpen(t *testing.T) {
	c := regioncache.New()
	_, err := c.Lookup("t1", storepb.Key("a"))
	require.Equal(t, storepb.KindNotOpen, storepb.KindOf(err))
}

func TestLookupFloorSemantics(t *testing.T) {
	c := regioncache.New()
	c.Install("t1", []storepb.RegionLocation{
		loc("", "m", "A"),
		loc("m", "", "B"),
	})

	got, err := c.Lookup("t1", storepb.Key(""))
	require.NoError(t, err)
	require.Equal(t, "A", got.ServerAddress)

	got, err = c.Lookup("t1", storepb.Key("a"))
	require.NoError(t, err)
	require.Equal(t, "A", got.ServerAddress)

	got, err = c.Lookup("t1", storepb.Key("m"))
	require.NoError(t, err)
	require.Equal(t, "B", got.ServerAddress)

	got, err = c.Lookup("t1", storepb.Key("zzzz"))
	require.NoError(t, err)
	require.Equal(t, "B", got.ServerAddress)
}

func TestSnapshotTailSlice(t *testing.T) {
	c := regioncache.New()
	c.Install("t1", []storepb.RegionLocation{
		loc("", "d", "A"),
		loc("d", "m", "B"),
		loc("m", "", "C"),
	})

	tail, err := c.Snapshot("t1", storepb.Key("e"))
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, "B", tail[0].ServerAddress)
	require.Equal(t, "C", tail[1].ServerAddress)

	full, err := c.Snapshot("t1", storepb.EmptyKey)
	require.NoError(t, err)
	require.Len(t, full, 3)
}

func TestInstallIsWholesaleReplacement(t *testing.T) {
	c := regioncache.New()
	c.Install("t1", []storepb.RegionLocation{loc("", "", "A")})
	require.Equal(t, 1, c.Len("t1"))

	c.Install("t1", []storepb.RegionLocation{loc("", "m", "B"), loc("m", "", "C")})
	require.Equal(t, 2, c.Len("t1"))
	got, err := c.Lookup("t1", storepb.Key(""))
	require.NoError(t, err)
	require.Equal(t, "B", got.ServerAddress)
}

func TestInvalidateRemovesWholeTable(t *testing.T) {
	c := regioncache.New()
	c.Install("t1", []storepb.RegionLocation{loc("", "m", "A"), loc("m", "", "B")})
	require.True(t, c.IsOpen("t1"))

	c.Invalidate("t1")
	require.False(t, c.IsOpen("t1"))
	require.Equal(t, 0, c.Len("t1"))
}

func TestInvalidateRegionInvalidatesOwningTable(t *testing.T) {
	c := regioncache.New()
	l := loc("", "", "A")
	c.Install("t1", []storepb.RegionLocation{l})
	c.InvalidateRegion(l)
	require.False(t, c.IsOpen("t1"))
}

func TestAllIsOrderedByStartKey(t *testing.T) {
	c := regioncache.New()
	c.Install("t1", []storepb.RegionLocation{
		loc("m", "", "C"),
		loc("", "d", "A"),
		loc("d", "m", "B"),
	})
	all := c.All("t1")
	require.Len(t, all, 3)
	require.Equal(t, []string{"A", "B", "C"}, []string{all[0].ServerAddress, all[1].ServerAddress, all[2].ServerAddress})
}
