package storepb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tablestore-io/gorange/storepb"
)

func TestKeyEmptySentinelSortsFirst(t *testing.T) {
	require.True(t, storepb.EmptyKey.IsEmpty())
	require.True(t, storepb.EmptyKey.Less(storepb.Key("a")))
	require.False(t, storepb.Key("a").Less(storepb.EmptyKey))
}

func TestKeyOrdering(t *testing.T) {
	require.True(t, storepb.Key("a").Less(storepb.Key("b")))
	require.False(t, storepb.Key("b").Less(storepb.Key("a")))
	require.False(t, storepb.Key("a").Less(storepb.Key("a")))
	require.Equal(t, 0, storepb.Key("a").Compare(storepb.Key("a")))
}

func TestKeyString(t *testing.T) {
	require.Equal(t, "<empty>", storepb.EmptyKey.String())
	require.Equal(t, "row", storepb.Key("row").String())
}
