package kv

import (
	"context"
	"sync"

	"github.com/tablestore-io/gorange/internal/log"
	"github.com/tablestore-io/gorange/internal/retry"
	"github.com/tablestore-io/gorange/rpc"
	"github.com/tablestore-io/gorange/storepb"
)

// masterLocator caches a live master handle, reconnecting and
// re-probing on failure (spec §4.B, component B).
type masterLocator struct {
	addr    string
	pool    *rpc.Pool
	factory rpc.ClientFactory
	opts    Options

	mu     sync.Mutex
	client rpc.MasterClient
}

func newMasterLocator(addr string, pool *rpc.Pool, factory rpc.ClientFactory, opts Options) *masterLocator {
	return &masterLocator{addr: addr, pool: pool, factory: factory, opts: opts}
}

// ensureMaster returns a live master client, probing liveness and
// retrying up to opts.NumRetries attempts with opts.Pause between
// them. A successful handle is cached for subsequent calls.
func (m *masterLocator) ensureMaster(ctx context.Context) (rpc.MasterClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	var lastErr error
	r := retry.Start(ctx, retry.Options{Pause: m.opts.Pause, MaxAttempts: m.opts.NumRetries})
	for r.Next() {
		handle, err := m.pool.Connect(ctx, m.addr)
		if err != nil {
			lastErr = err
			log.Warningf(ctx, "master connect attempt %d failed: %v", r.CurrentAttempt(), err)
			continue
		}
		client := m.factory.MasterClient(m.addr, handle)
		live, err := client.IsMasterRunning(ctx)
		if err != nil {
			lastErr = err
			log.Warningf(ctx, "master liveness probe attempt %d failed: %v", r.CurrentAttempt(), err)
			continue
		}
		if !live {
			lastErr = storepb.NewError(storepb.KindMasterNotRunning, "master at %s reported not running", m.addr)
			continue
		}
		m.client = client
		return client, nil
	}
	return nil, storepb.WrapError(storepb.KindMasterNotRunning, lastErr, "master unreachable after %d attempts", m.opts.NumRetries)
}

// reset drops the cached master handle, forcing re-resolution and a
// fresh liveness probe on the next ensureMaster call.
func (m *masterLocator) reset() {
	m.mu.Lock()
	m.client = nil
	m.mu.Unlock()
}
