// Package kvtest is an in-memory, in-process fake of the region
// server and master RPC surface (spec.md §6), used to exercise the
// client core's catalog resolution, dispatch, scanning, session, and
// admin wait-loop logic without a real region server/master
// implementation or wire-level RPC framing (both out of scope per
// spec.md §1). Grounded on cockroachdb/cockroach's
// kv_old/local_kv.go and local_test_cluster.go, which stand up an
// in-process store for exercising the client without real RPC.
package kvtest

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/tablestore-io/gorange/rpc"
)

// Cluster is a registry of fake region servers plus one fake master,
// addressed by plain strings. It implements rpc.Dialer so a
// kv.Client under test routes through a real rpc.Pool without a real
// network listener: every address dials the same bufconn listener,
// and address-to-fake resolution happens in Factory's ClientFactory,
// not in the transport itself.
type Cluster struct {
	lis *bufconn.Listener
	srv *grpc.Server

	mu      sync.Mutex
	servers map[string]*RegionServer
	master  *Master
}

// NewCluster starts an empty cluster with a fresh Master.
func NewCluster() *Cluster {
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	go func() { _ = srv.Serve(lis) }()
	return &Cluster{
		lis:     lis,
		srv:     srv,
		servers: make(map[string]*RegionServer),
		master:  NewMaster(),
	}
}

// Close stops the underlying bufconn listener's grpc.Server.
func (c *Cluster) Close() { c.srv.Stop() }

// Dial implements rpc.Dialer.
func (c *Cluster) Dial(ctx context.Context, address string) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return c.lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
}

// Master returns the cluster's single fake master.
func (c *Cluster) Master() *Master { return c.master }

// AddRegionServer registers a new, empty fake region server at addr.
func (c *Cluster) AddRegionServer(addr string) *RegionServer {
	rs := newRegionServer(addr)
	c.mu.Lock()
	c.servers[addr] = rs
	c.mu.Unlock()
	return rs
}

// RegionServer returns the fake already registered at addr, or nil.
func (c *Cluster) RegionServer(addr string) *RegionServer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.servers[addr]
}

// Factory returns an rpc.ClientFactory resolving addresses against
// this cluster's registered fakes. The pooled transport handle passed
// in by the dispatcher is ignored; see the Cluster doc comment.
func (c *Cluster) Factory() rpc.ClientFactory { return clusterFactory{c} }

type clusterFactory struct{ c *Cluster }

func (f clusterFactory) RegionServerClient(address string, _ interface{}) rpc.RegionServerClient {
	f.c.mu.Lock()
	rs, ok := f.c.servers[address]
	f.c.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("kvtest: no region server registered at %q", address))
	}
	return rs
}

func (f clusterFactory) MasterClient(address string, _ interface{}) rpc.MasterClient {
	return f.c.master
}
