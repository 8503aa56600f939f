package kv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tablestore-io/gorange/kv/kvtest"
	"github.com/tablestore-io/gorange/storepb"
)

func setupTwoRegionTable(t *testing.T, f *kvtest.Fixture) {
	descA := storepb.RegionDescriptor{RegionName: "t1-1", StartKey: storepb.EmptyKey, EndKey: storepb.Key("m")}
	descB := storepb.RegionDescriptor{RegionName: "t1-2", StartKey: storepb.Key("m"), EndKey: storepb.EmptyKey}
	rsA := f.AddUserRegion("t1", descA, "addr-B")
	rsB := f.AddUserRegion("t1", descB, "addr-C")

	rsA.PutRow("t1-1", storepb.Key("a"), map[string][]byte{"col:x": []byte("1")})
	rsA.PutRow("t1-1", storepb.Key("b"), map[string][]byte{"col:x": []byte("2")})
	rsA.PutRow("t1-1", storepb.Key("c"), map[string][]byte{"col:x": []byte("3")})
	rsB.PutRow("t1-2", storepb.Key("m"), map[string][]byte{"col:x": []byte("4")})
	rsB.PutRow("t1-2", storepb.Key("n"), map[string][]byte{"col:x": []byte("5")})
}

// TestScannerYieldsRowsInOrderAcrossRegions is spec.md §8 scenario 4 /
// testable property 4: a scanner yields rows across all of a table's
// regions in strictly increasing key order.
func TestScannerYieldsRowsInOrderAcrossRegions(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	setupTwoRegionTable(t, f)

	c := f.NewClient(fastOptions())
	ctx := context.Background()
	require.NoError(t, c.OpenTable(ctx, "t1"))

	sc, err := c.OpenScanner(ctx, "t1", []string{"col:x"}, storepb.EmptyKey)
	require.NoError(t, err)
	defer sc.Close(ctx)

	var keys []string
	for {
		row, ok, err := sc.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		keys = append(keys, string(row.Key))
	}
	require.Equal(t, []string{"a", "b", "c", "m", "n"}, keys)

	// Strictly increasing, per property 4.
	for i := 1; i < len(keys); i++ {
		require.Less(t, keys[i-1], keys[i])
	}
}

func TestScannerHonorsStartRowAndNeverYieldsBeforeIt(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	setupTwoRegionTable(t, f)

	c := f.NewClient(fastOptions())
	ctx := context.Background()
	require.NoError(t, c.OpenTable(ctx, "t1"))

	sc, err := c.OpenScanner(ctx, "t1", []string{"col:x"}, storepb.Key("b"))
	require.NoError(t, err)
	defer sc.Close(ctx)

	var keys []string
	for {
		row, ok, err := sc.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		keys = append(keys, string(row.Key))
	}
	require.Equal(t, []string{"b", "c", "m", "n"}, keys)
}

func TestScannerCloseIsIdempotentAndEndsIteration(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	setupTwoRegionTable(t, f)

	c := f.NewClient(fastOptions())
	ctx := context.Background()
	require.NoError(t, c.OpenTable(ctx, "t1"))

	sc, err := c.OpenScanner(ctx, "t1", []string{"col:x"}, storepb.EmptyKey)
	require.NoError(t, err)

	require.NoError(t, sc.Close(ctx))
	require.NoError(t, sc.Close(ctx))

	_, ok, err := sc.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
