package kv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tablestore-io/gorange/kv/kvtest"
	"github.com/tablestore-io/gorange/storepb"
)

func TestGetRejectsEmptyTableOrRow(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	c := f.NewClient(fastOptions())
	ctx := context.Background()

	_, err := c.Get(ctx, "", storepb.Key("r"), "col:x")
	require.Equal(t, storepb.KindIllegalArgument, storepb.KindOf(err))

	_, err = c.Get(ctx, "t1", storepb.EmptyKey, "col:x")
	require.Equal(t, storepb.KindIllegalArgument, storepb.KindOf(err))
}

func TestGetVersionsAndGetRow(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	desc := storepb.RegionDescriptor{RegionName: "t1-1", StartKey: storepb.EmptyKey, EndKey: storepb.EmptyKey}
	rs := f.AddUserRegion("t1", desc, "addr-B")
	rs.PutRow("t1-1", storepb.Key("r1"), map[string][]byte{
		"col:x": []byte("vx"),
		"col:y": []byte("vy"),
	})

	c := f.NewClient(fastOptions())
	ctx := context.Background()
	require.NoError(t, c.OpenTable(ctx, "t1"))

	versions, err := c.GetVersions(ctx, "t1", storepb.Key("r1"), "col:x", 3)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("vx")}, versions)

	versionsAt, err := c.GetVersionsAt(ctx, "t1", storepb.Key("r1"), "col:x", 12345, 1)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("vx")}, versionsAt)

	row, err := c.GetRow(ctx, "t1", storepb.Key("r1"))
	require.NoError(t, err)
	require.Len(t, row, 2)
	byCol := map[string][]byte{}
	for _, cv := range row {
		byCol[cv.Column] = cv.Value
	}
	require.Equal(t, []byte("vx"), byCol["col:x"])
	require.Equal(t, []byte("vy"), byCol["col:y"])
}

func TestIsMasterRunning(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	c := f.NewClient(fastOptions())

	require.True(t, c.IsMasterRunning(context.Background()))

	f.Cluster.Master().SetRunning(false)
	require.False(t, c.IsMasterRunning(context.Background()))
}

// TestListTables is the supplemented listTables() feature from the
// original implementation: one descriptor per table, not per region.
func TestListTables(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()

	f.AddUserRegion("t1", storepb.RegionDescriptor{RegionName: "t1-1", StartKey: storepb.EmptyKey, EndKey: storepb.Key("m")}, "addr-B")
	f.AddUserRegion("t1", storepb.RegionDescriptor{RegionName: "t1-2", StartKey: storepb.Key("m"), EndKey: storepb.EmptyKey}, "addr-C")
	f.AddUserRegion("t2", storepb.RegionDescriptor{RegionName: "t2-1", StartKey: storepb.EmptyKey, EndKey: storepb.EmptyKey}, "addr-D")

	c := f.NewClient(fastOptions())
	tables, err := c.ListTables(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(tables))
	for _, tbl := range tables {
		names = append(names, tbl.Name)
	}
	require.ElementsMatch(t, []string{"t1", "t2"}, names)
}
