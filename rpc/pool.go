// Package rpc implements the server connection pool (spec §4.A,
// component A) and declares the region-server/master RPC surface the
// rest of the client core consumes (spec §6). Wire framing and the
// region-server/master implementations themselves are out of scope
// (spec §1); this package only dials and pools the transport and
// exposes Go interfaces for the semantics the core depends on.
package rpc

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tablestore-io/gorange/internal/log"
)

// Dialer abstracts the transport-level connect, so tests can swap in
// an in-process implementation without a real listener.
type Dialer interface {
	Dial(ctx context.Context, address string) (*grpc.ClientConn, error)
}

// grpcDialer is the default Dialer, using insecure grpc transport
// credentials. Production deployments are expected to supply a Dialer
// configured with real credentials; that configuration is out of
// scope here (spec §1).
type grpcDialer struct{}

func (grpcDialer) Dial(ctx context.Context, address string) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
}

// Pool maps a server address to a reusable connection handle,
// connecting lazily and tolerating concurrent first-connects to the
// same address without producing duplicate handles (spec §4.A).
type Pool struct {
	dialer Dialer

	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn

	group singleflight.Group
}

// NewPool returns a connection pool backed by real gRPC dials.
func NewPool() *Pool {
	return NewPoolWithDialer(grpcDialer{})
}

// NewPoolWithDialer returns a connection pool backed by the given Dialer.
func NewPoolWithDialer(d Dialer) *Pool {
	return &Pool{dialer: d, conns: make(map[string]*grpc.ClientConn)}
}

// Connect returns the pooled handle for address, dialing it on first
// use. A second call for the same address returns the same handle.
// Concurrent first-connects to the same address are single-flighted so
// only one dial happens.
func (p *Pool) Connect(ctx context.Context, address string) (*grpc.ClientConn, error) {
	p.mu.RLock()
	conn, ok := p.conns[address]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	v, err, _ := p.group.Do(address, func() (interface{}, error) {
		p.mu.RLock()
		if conn, ok := p.conns[address]; ok {
			p.mu.RUnlock()
			return conn, nil
		}
		p.mu.RUnlock()

		log.VEventf(ctx, 2, "dialing %s", address)
		conn, err := p.dialer.Dial(ctx, address)
		if err != nil {
			return nil, storeUnreachable(address, err)
		}
		p.mu.Lock()
		p.conns[address] = conn
		p.mu.Unlock()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*grpc.ClientConn), nil
}

// Unreachable is returned by Connect when the dialer declares
// permanent failure (spec §4.A).
type Unreachable struct {
	Address string
	cause   error
}

func (e *Unreachable) Error() string {
	return errors.Wrapf(e.cause, "server at %s is unreachable", e.Address).Error()
}

func (e *Unreachable) Unwrap() error { return e.cause }

func storeUnreachable(address string, cause error) error {
	return &Unreachable{Address: address, cause: cause}
}
