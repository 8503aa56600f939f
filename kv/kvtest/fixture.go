package kvtest

import (
	"github.com/tablestore-io/gorange/kv"
	"github.com/tablestore-io/gorange/rpc"
	"github.com/tablestore-io/gorange/storepb"
)

// rootServerAddr and metaServerAddr are the servers hosting the single
// root region and the single meta region a Fixture wires up;
// metaRegionName names that meta region.
const (
	rootServerAddr = "root-server:1"
	metaServerAddr = "meta-server:1"
	metaRegionName = "meta-1"
)

// Fixture wires a minimal master + root + meta topology, the
// prerequisite for resolving any user table (spec.md §4.D). Tests add
// user regions on top of it with AddUserRegion.
type Fixture struct {
	Cluster *Cluster

	RootServer *RegionServer
	MetaServer *RegionServer
}

// NewFixture builds a Fixture with a live master, a resolvable root
// region, and an empty (but resolvable) meta table.
func NewFixture() *Fixture {
	c := NewCluster()

	rootRS := c.AddRegionServer(rootServerAddr)
	rootRS.AddRegion(storepb.RegionDescriptor{
		RegionName: storepb.RootTableName,
		Table:      storepb.TableDescriptor{Name: storepb.RootTableName},
	})

	metaDesc := storepb.RegionDescriptor{
		RegionName: metaRegionName,
		Table:      storepb.TableDescriptor{Name: storepb.MetaTableName},
	}
	metaRS := c.AddRegionServer(metaServerAddr)
	metaRS.AddRegion(metaDesc)

	rootRS.PutCatalogRow(storepb.RootTableName, storepb.Key(storepb.MetaTableName), metaDesc, metaServerAddr)

	c.Master().SetRunning(true)
	c.Master().SetRootRegion(rootServerAddr)

	return &Fixture{Cluster: c, RootServer: rootRS, MetaServer: metaRS}
}

// AddUserRegion registers (or reuses) a region server at serverAddr
// serving desc, and publishes desc's catalog row in the fixture's
// meta region so resolveUserTable can find it. desc.Table is replaced
// by a descriptor named table.
func (f *Fixture) AddUserRegion(table string, desc storepb.RegionDescriptor, serverAddr string) *RegionServer {
	desc.Table = storepb.TableDescriptor{Name: table}
	rs := f.Cluster.RegionServer(serverAddr)
	if rs == nil {
		rs = f.Cluster.AddRegionServer(serverAddr)
	}
	rs.AddRegion(desc)

	rowKey := append([]byte(table+","), desc.StartKey...)
	f.MetaServer.PutCatalogRow(metaRegionName, storepb.Key(rowKey), desc, serverAddr)
	return rs
}

// UnassignUserRegion republishes desc's catalog row with no server,
// simulating a region that exists but has not yet been assigned.
func (f *Fixture) UnassignUserRegion(table string, desc storepb.RegionDescriptor) {
	desc.Table = storepb.TableDescriptor{Name: table}
	rowKey := append([]byte(table+","), desc.StartKey...)
	f.MetaServer.PutCatalogRow(metaRegionName, storepb.Key(rowKey), desc, "")
}

// NewClient builds a kv.Client wired to this fixture's cluster.
func (f *Fixture) NewClient(opts kv.Options) *kv.Client {
	pool := rpc.NewPoolWithDialer(f.Cluster)
	return kv.NewClientWithPool(opts, f.Cluster.Factory(), pool)
}

// Close releases the fixture's underlying transport.
func (f *Fixture) Close() { f.Cluster.Close() }
