package storepb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tablestore-io/gorange/storepb"
)

func TestIsReservedTableName(t *testing.T) {
	require.True(t, storepb.IsReservedTableName(storepb.RootTableName))
	require.True(t, storepb.IsReservedTableName(storepb.MetaTableName))
	require.False(t, storepb.IsReservedTableName("users"))
}

func TestRegionDescriptorContainsKey(t *testing.T) {
	open := storepb.RegionDescriptor{StartKey: storepb.Key("m"), EndKey: storepb.EmptyKey}
	require.True(t, open.ContainsKey(storepb.Key("zzz")))
	require.False(t, open.ContainsKey(storepb.Key("a")))
	require.True(t, open.ContainsKey(storepb.Key("m")))

	bounded := storepb.RegionDescriptor{StartKey: storepb.Key("a"), EndKey: storepb.Key("m")}
	require.True(t, bounded.ContainsKey(storepb.Key("a")))
	require.True(t, bounded.ContainsKey(storepb.Key("f")))
	require.False(t, bounded.ContainsKey(storepb.Key("m")))
	require.False(t, bounded.ContainsKey(storepb.Key("z")))

	fromEmpty := storepb.RegionDescriptor{StartKey: storepb.EmptyKey, EndKey: storepb.Key("m")}
	require.True(t, fromEmpty.ContainsKey(storepb.Key("")))
	require.True(t, fromEmpty.ContainsKey(storepb.Key("a")))
	require.False(t, fromEmpty.ContainsKey(storepb.Key("m")))
}

func TestCatalogRowAssigned(t *testing.T) {
	require.False(t, storepb.CatalogRow{}.Assigned())
	require.True(t, storepb.CatalogRow{Server: "10.0.0.1:9000"}.Assigned())
}
