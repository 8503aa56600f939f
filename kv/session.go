package kv

import (
	"context"
	"math/rand"

	"github.com/google/uuid"

	"github.com/tablestore-io/gorange/internal/log"
	"github.com/tablestore-io/gorange/internal/retry"
	"github.com/tablestore-io/gorange/rpc"
	"github.com/tablestore-io/gorange/storepb"
)

// sessionState is the singleton update-session state pinned between a
// successful Begin and the terminating Commit/Abort (spec §4.G). This
// follows spec.md's singleton binding rather than design note 3's
// suggested alternative of returning an explicit session object from
// Begin; KindNoActiveSession exists because of that choice.
type sessionState struct {
	pinned   bool
	region   storepb.RegionLocation
	server   rpc.RegionServerClient
	clientID uint64
	traceID  uuid.UUID
	lockID   rpc.LockID
}

// Begin resolves row's region using the dispatcher's invalidate-and-
// retry semantics, pins the session to it, opens a server-side row
// lock, and returns the assigned lock id. The traceID distinguishes
// concurrent sessions across processes in logs; it plays no role in
// server-side locking, which keys off clientID alone.
func (c *Client) Begin(ctx context.Context, table string, row storepb.Key) (rpc.LockID, error) {
	if table == "" || row.IsEmpty() {
		return 0, storepb.NewError(storepb.KindIllegalArgument, "table and row must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	clientID := rand.Uint64()
	traceID := uuid.New()

	var lastErr error
	r := retry.Start(ctx, retry.Options{Pause: c.opts.Pause, MaxAttempts: c.opts.NumRetries})
	for r.Next() {
		loc, err := c.cache.Lookup(table, row)
		if err != nil {
			return 0, err
		}
		conn, err := c.pool.Connect(ctx, loc.ServerAddress)
		if err != nil {
			return 0, err
		}
		server := c.factory.RegionServerClient(loc.ServerAddress, conn)

		lockID, err := server.StartUpdate(ctx, loc.Region.RegionName, clientID, row)
		if err == nil {
			c.session = sessionState{
				pinned:   true,
				region:   loc,
				server:   server,
				clientID: clientID,
				traceID:  traceID,
				lockID:   lockID,
			}
			log.VEventf(ctx, 2, "session %s begun for row %s on %s", traceID, row, loc.ServerAddress)
			return lockID, nil
		}

		if !storepb.IsStaleLocationError(err) {
			return 0, err
		}
		lastErr = err
		c.cache.InvalidateRegion(loc)
		if r.IsLastAttempt() {
			break
		}
		if err := c.resolveTable(ctx, table); err != nil {
			return 0, err
		}
	}
	return 0, lastErr
}

// Put writes one column of the pinned session's row.
func (c *Client) Put(ctx context.Context, lockID rpc.LockID, column string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionMutate(ctx, lockID, func() error {
		return c.session.server.Put(ctx, c.session.region.Region.RegionName, c.session.clientID, lockID, column, value)
	})
}

// Delete removes one column of the pinned session's row.
func (c *Client) Delete(ctx context.Context, lockID rpc.LockID, column string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionMutate(ctx, lockID, func() error {
		return c.session.server.Delete(ctx, c.session.region.Region.RegionName, c.session.clientID, lockID, column)
	})
}

// sessionMutate is the shared put/delete body: on RPC failure it
// issues a best-effort abort to the pinned server (ignoring its
// error), clears the pinned state, and surfaces the original error.
func (c *Client) sessionMutate(ctx context.Context, lockID rpc.LockID, op func() error) error {
	if !c.session.pinned {
		return storepb.NewError(storepb.KindNoActiveSession, "no active update session")
	}
	if lockID != c.session.lockID {
		return storepb.NewError(storepb.KindIllegalArgument, "lock id does not match the active session")
	}

	err := op()
	if err == nil {
		return nil
	}
	traceID := c.session.traceID
	_ = c.session.server.Abort(ctx, c.session.region.Region.RegionName, c.session.clientID, lockID)
	c.session = sessionState{}
	log.VEventf(ctx, 2, "session %s aborted after mutation failure: %v", traceID, err)
	return err
}

// Commit finalizes the pinned session's mutations. The session state
// is cleared unconditionally on return, success or failure.
func (c *Client) Commit(ctx context.Context, lockID rpc.LockID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.pinned {
		return storepb.NewError(storepb.KindNoActiveSession, "no active update session")
	}
	region, server, clientID, traceID := c.session.region, c.session.server, c.session.clientID, c.session.traceID
	c.session = sessionState{}
	err := server.Commit(ctx, region.Region.RegionName, clientID, lockID)
	log.VEventf(ctx, 2, "session %s committed, err=%v", traceID, err)
	return err
}

// Abort discards the pinned session's mutations. The session state is
// cleared unconditionally on return, success or failure.
func (c *Client) Abort(ctx context.Context, lockID rpc.LockID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.pinned {
		return storepb.NewError(storepb.KindNoActiveSession, "no active update session")
	}
	region, server, clientID, traceID := c.session.region, c.session.server, c.session.clientID, c.session.traceID
	c.session = sessionState{}
	err := server.Abort(ctx, region.Region.RegionName, clientID, lockID)
	log.VEventf(ctx, 2, "session %s aborted, err=%v", traceID, err)
	return err
}
