package kv_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tablestore-io/gorange/kv/kvtest"
	"github.com/tablestore-io/gorange/storepb"
)

func setupSingleRegionTable(f *kvtest.Fixture) string {
	desc := storepb.RegionDescriptor{RegionName: "t1-1", StartKey: storepb.EmptyKey, EndKey: storepb.EmptyKey}
	f.AddUserRegion("t1", desc, "addr-B")
	return "addr-B"
}

func TestSessionBeginPutCommitRoundTrip(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	setupSingleRegionTable(f)

	c := f.NewClient(fastOptions())
	ctx := context.Background()
	require.NoError(t, c.OpenTable(ctx, "t1"))

	lockID, err := c.Begin(ctx, "t1", storepb.Key("r1"))
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, lockID, "col:x", []byte("v1")))
	require.NoError(t, c.Commit(ctx, lockID))

	v, err := c.Get(ctx, "t1", storepb.Key("r1"), "col:x")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)
}

func TestSessionDeleteRemovesColumn(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	addr := setupSingleRegionTable(f)
	f.Cluster.RegionServer(addr).PutRow("t1-1", storepb.Key("r1"), map[string][]byte{"col:x": []byte("v1")})

	c := f.NewClient(fastOptions())
	ctx := context.Background()
	require.NoError(t, c.OpenTable(ctx, "t1"))

	lockID, err := c.Begin(ctx, "t1", storepb.Key("r1"))
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, lockID, "col:x"))
	require.NoError(t, c.Commit(ctx, lockID))

	v, err := c.Get(ctx, "t1", storepb.Key("r1"), "col:x")
	require.NoError(t, err)
	require.Nil(t, v)
}

// TestSessionAbortsOnPutFailure is spec.md §8 scenario 6: a failed
// Put triggers a best-effort Abort and leaves the session Idle
// regardless of the abort's own outcome, surfacing the original
// error unchanged.
func TestSessionAbortsOnPutFailure(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	addr := setupSingleRegionTable(f)

	c := f.NewClient(fastOptions())
	ctx := context.Background()
	require.NoError(t, c.OpenTable(ctx, "t1"))

	lockID, err := c.Begin(ctx, "t1", storepb.Key("r1"))
	require.NoError(t, err)

	boom := errors.New("write rejected")
	f.Cluster.RegionServer(addr).FailNextPut("t1-1", boom)

	err = c.Put(ctx, lockID, "col:x", []byte("v1"))
	require.Error(t, err)
	require.ErrorIs(t, err, boom)

	// The pinned state is cleared unconditionally: further mutation
	// calls against the same lock id now fail as NoActiveSession.
	err = c.Commit(ctx, lockID)
	require.Equal(t, storepb.KindNoActiveSession, storepb.KindOf(err))
}

func TestSessionCommitAndAbortAlwaysClearState(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	setupSingleRegionTable(f)

	c := f.NewClient(fastOptions())
	ctx := context.Background()
	require.NoError(t, c.OpenTable(ctx, "t1"))

	lockID, err := c.Begin(ctx, "t1", storepb.Key("r1"))
	require.NoError(t, err)
	require.NoError(t, c.Abort(ctx, lockID))

	// Idle: a second commit/abort on the same (now stale) lock id
	// fails with NoActiveSession rather than re-running server RPCs.
	err = c.Commit(ctx, lockID)
	require.Equal(t, storepb.KindNoActiveSession, storepb.KindOf(err))
	err = c.Abort(ctx, lockID)
	require.Equal(t, storepb.KindNoActiveSession, storepb.KindOf(err))
}

func TestMutationWithoutBeginFailsNoActiveSession(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	c := f.NewClient(fastOptions())
	ctx := context.Background()

	err := c.Put(ctx, 1, "col:x", []byte("v"))
	require.Equal(t, storepb.KindNoActiveSession, storepb.KindOf(err))
}

func TestBeginRejectsEmptyTableOrRow(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	c := f.NewClient(fastOptions())
	ctx := context.Background()

	_, err := c.Begin(ctx, "", storepb.Key("r1"))
	require.Equal(t, storepb.KindIllegalArgument, storepb.KindOf(err))

	_, err = c.Begin(ctx, "t1", storepb.EmptyKey)
	require.Equal(t, storepb.KindIllegalArgument, storepb.KindOf(err))
}
