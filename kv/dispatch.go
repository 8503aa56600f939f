package kv

import (
	"context"

	"github.com/tablestore-io/gorange/internal/log"
	"github.com/tablestore-io/gorange/internal/retry"
	"github.com/tablestore-io/gorange/rpc"
	"github.com/tablestore-io/gorange/storepb"
)

// regionOp is a per-row RPC bound to a resolved region, invoked by
// dispatch once a server handle is in hand.
type regionOp func(ctx context.Context, server rpc.RegionServerClient, loc storepb.RegionLocation) (interface{}, error)

// dispatch looks up row's owning region in table (which must already
// be open), invokes op against that region's server, and retries with
// invalidate-and-reresolve on stale-location errors, up to
// opts.NumRetries attempts total (spec §4.E, component E).
func (c *Client) dispatch(ctx context.Context, table string, row storepb.Key, op regionOp) (interface{}, error) {
	var lastErr error
	r := retry.Start(ctx, retry.Options{Pause: c.opts.Pause, MaxAttempts: c.opts.NumRetries})
	for r.Next() {
		loc, err := c.cache.Lookup(table, row)
		if err != nil {
			return nil, err
		}

		conn, err := c.pool.Connect(ctx, loc.ServerAddress)
		if err != nil {
			return nil, err
		}
		server := c.factory.RegionServerClient(loc.ServerAddress, conn)

		result, err := op(ctx, server, loc)
		if err == nil {
			return result, nil
		}
		if !storepb.IsStaleLocationError(err) {
			return nil, err
		}

		lastErr = err
		log.Warningf(ctx, "dispatch to %s attempt %d got stale location error: %v", loc.ServerAddress, r.CurrentAttempt(), err)
		c.cache.InvalidateRegion(loc)
		if r.IsLastAttempt() {
			break
		}
		if err := c.resolveTable(ctx, table); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}
