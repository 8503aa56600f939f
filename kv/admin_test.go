package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tablestore-io/gorange/kv"
	"github.com/tablestore-io/gorange/kv/kvtest"
	"github.com/tablestore-io/gorange/storepb"
)

// TestCreateTableWaitsForFirstMetaRow is spec.md §8 scenario 5: the
// master RPC returns immediately, and CreateTable keeps polling the
// first meta region until a row for the new table appears.
func TestCreateTableWaitsForFirstMetaRow(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()

	f.Cluster.Master().CreateTableFunc = func(desc storepb.TableDescriptor) error {
		go func() {
			time.Sleep(15 * time.Millisecond)
			f.AddUserRegion(desc.Name, storepb.RegionDescriptor{
				RegionName: desc.Name + "-1",
				StartKey:   storepb.EmptyKey,
				EndKey:     storepb.EmptyKey,
			}, "addr-N")
		}()
		return nil
	}

	c := f.NewClient(kv.Options{MasterAddr: "master:0", Pause: 5 * time.Millisecond, NumRetries: 30})
	ctx := context.Background()

	err := c.CreateTable(ctx, storepb.TableDescriptor{Name: "newtbl"})
	require.NoError(t, err)
}

func TestCreateTableRejectsReservedName(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	c := f.NewClient(fastOptions())

	err := c.CreateTable(context.Background(), storepb.TableDescriptor{Name: storepb.MetaTableName})
	require.Equal(t, storepb.KindIllegalArgument, storepb.KindOf(err))
}

// TestDeleteTableWaitsForRowToDisappear waits for the opposite
// condition: the meta row for the table is gone.
func TestDeleteTableWaitsForRowToDisappear(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	desc := storepb.RegionDescriptor{RegionName: "t1-1", StartKey: storepb.EmptyKey, EndKey: storepb.EmptyKey}
	f.AddUserRegion("t1", desc, "addr-B")

	f.Cluster.Master().DeleteTableFunc = func(table string) error {
		go func() {
			time.Sleep(10 * time.Millisecond)
			f.MetaServer.PutRow("meta-1", storepb.Key("t1,"), map[string][]byte{})
		}()
		return nil
	}

	c := f.NewClient(kv.Options{MasterAddr: "master:0", Pause: 5 * time.Millisecond, NumRetries: 30})
	err := c.DeleteTable(context.Background(), "t1")
	require.NoError(t, err)
}

func TestEnableTableWaitsForOfflineFalse(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	desc := storepb.RegionDescriptor{RegionName: "t1-1", StartKey: storepb.EmptyKey, EndKey: storepb.EmptyKey, Offline: true}
	f.AddUserRegion("t1", desc, "addr-B")

	f.Cluster.Master().EnableTableFunc = func(table string) error {
		online := desc
		online.Offline = false
		f.AddUserRegion(table, online, "addr-B")
		return nil
	}

	c := f.NewClient(fastOptions())
	err := c.EnableTable(context.Background(), "t1")
	require.NoError(t, err)
}

func TestDisableTableWaitsForOfflineTrue(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()
	desc := storepb.RegionDescriptor{RegionName: "t1-1", StartKey: storepb.EmptyKey, EndKey: storepb.EmptyKey}
	f.AddUserRegion("t1", desc, "addr-B")

	f.Cluster.Master().DisableTableFunc = func(table string) error {
		offline := desc
		offline.Offline = true
		f.AddUserRegion(table, offline, "addr-B")
		return nil
	}

	c := f.NewClient(fastOptions())
	err := c.DisableTable(context.Background(), "t1")
	require.NoError(t, err)
}

func TestShutdownRelaysToMaster(t *testing.T) {
	f := kvtest.NewFixture()
	defer f.Close()

	var called bool
	f.Cluster.Master().ShutdownFunc = func() error {
		called = true
		return nil
	}

	c := f.NewClient(fastOptions())
	require.NoError(t, c.Shutdown(context.Background()))
	require.True(t, called)
}
