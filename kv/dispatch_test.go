package kv_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tablestore-io/gorange/kv/kvtest"
	"github.com/tablestore-io/gorange/storepb"
)

// TestDispatchInvalidatesAndRetriesOnNotServingRegion is spec.md §8
// scenario 2: a stale cached location fails with NotServingRegion,
// the dispatcher invalidates and re-resolves via the catalog (which
// by then reflects the region having moved), and the retried RPC
// against the new location succeeds.
func TestDispatchInvalidatesAndRetriesOnNotServingRegion(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()

	desc := storepb.RegionDescriptor{RegionName: "t1-1", StartKey: storepb.EmptyKey, EndKey: storepb.EmptyKey}
	rsB := f.AddUserRegion("t1", desc, "addr-B")
	rsB.PutRow("t1-1", storepb.Key("a"), map[string][]byte{"col:x": []byte("stale")})

	c := f.NewClient(fastOptions())
	ctx := context.Background()
	require.NoError(t, c.OpenTable(ctx, "t1"))

	// The region moved to addr-D under a new region name; the meta
	// catalog row for this same start key is republished pointing
	// there, and B now refuses the cached request.
	movedDesc := storepb.RegionDescriptor{RegionName: "t1-1b", StartKey: storepb.EmptyKey, EndKey: storepb.EmptyKey}
	rsD := f.AddUserRegion("t1", movedDesc, "addr-D")
	rsD.PutRow("t1-1b", storepb.Key("a"), map[string][]byte{"col:x": []byte("fresh")})
	rsB.SetNotServing("t1-1", 1)

	v, err := c.Get(ctx, "t1", storepb.Key("a"), "col:x")
	require.NoError(t, err)
	require.Equal(t, []byte("fresh"), v)
}

// TestDispatchExhaustsRetriesAndSurfacesError ensures the dispatcher
// stops retrying once NumRetries attempts are spent and the location
// never stops being stale (property 3: at most N RPCs per user call).
func TestDispatchExhaustsRetriesAndSurfacesError(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()

	desc := storepb.RegionDescriptor{RegionName: "t1-1", StartKey: storepb.EmptyKey, EndKey: storepb.EmptyKey}
	rsB := f.AddUserRegion("t1", desc, "addr-B")

	c := f.NewClient(fastOptions())
	ctx := context.Background()
	require.NoError(t, c.OpenTable(ctx, "t1"))

	// Every lookup against this region keeps reporting stale, forever.
	rsB.SetNotServing("t1-1", 1000)

	_, err := c.Get(ctx, "t1", storepb.Key("a"), "col:x")
	require.Error(t, err)
	require.Equal(t, storepb.KindNotServingRegion, storepb.KindOf(err))
}

// TestDispatchDoesNotRetryNonStaleErrors checks that a non-stale error
// propagates immediately without driving cache invalidation or
// consuming the retry budget.
func TestDispatchDoesNotRetryNonStaleErrors(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()

	desc := storepb.RegionDescriptor{RegionName: "t1-1", StartKey: storepb.EmptyKey, EndKey: storepb.EmptyKey}
	rsB := f.AddUserRegion("t1", desc, "addr-B")

	c := f.NewClient(fastOptions())
	ctx := context.Background()
	require.NoError(t, c.OpenTable(ctx, "t1"))

	boom := errors.New("boom")
	rsB.FailNextGet("t1-1", boom)

	_, err := c.Get(ctx, "t1", storepb.Key("a"), "col:x")
	require.Error(t, err)
	require.ErrorIs(t, err, boom)

	// A fresh call against the same region now succeeds: the failure
	// above didn't invalidate the cached location.
	rsB.PutRow("t1-1", storepb.Key("a"), map[string][]byte{"col:x": []byte("ok")})
	v, err := c.Get(ctx, "t1", storepb.Key("a"), "col:x")
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), v)
}
