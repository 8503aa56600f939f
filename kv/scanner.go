package kv

import (
	"context"

	"github.com/tablestore-io/gorange/internal/retry"
	"github.com/tablestore-io/gorange/rpc"
	"github.com/tablestore-io/gorange/storepb"
)

// Row is one row yielded by a Scanner.
type Row struct {
	Key     storepb.Key
	Columns []rpc.ColumnValue
}

// Scanner is a multi-region ordered iterator built over the catalog
// resolver and connection pool (spec §4.F, component F). It binds
// (columns, startRow) at construction and yields every row across the
// opened table's regions from startRow onward. A NotServingRegion
// error while opening the first region makes construction reload the
// table's directory and recompute its region snapshot; later regions
// are opened from that snapshot, and an error opening one of them is
// returned from Next.
type Scanner struct {
	client  *Client
	table   string
	columns []string

	regions []storepb.RegionLocation // remaining regions, current first
	closed  bool

	curServer rpc.RegionServerClient
	curID     rpc.ScannerID
	curOpen   bool
}

// OpenScanner constructs a Scanner over table (which must already be
// open) yielding columns for every row from startRow through the end
// of the table's key space.
func (c *Client) OpenScanner(ctx context.Context, table string, columns []string, startRow storepb.Key) (*Scanner, error) {
	if table == "" {
		return nil, storepb.NewError(storepb.KindIllegalArgument, "table name must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Scanner{client: c, table: table, columns: columns}

	var lastErr error
	r := retry.Start(ctx, retry.Options{Pause: c.opts.Pause, MaxAttempts: c.opts.NumRetries})
	for r.Next() {
		regions, err := c.cache.Snapshot(table, startRow)
		if err != nil {
			return nil, err
		}
		s.regions = regions

		err = s.openCurrent(ctx, startRow)
		if err == nil {
			return s, nil
		}
		if storepb.KindOf(err) != storepb.KindNotServingRegion {
			return nil, err
		}
		lastErr = err
		c.cache.Invalidate(table)
		if err := c.resolveTable(ctx, table); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// openCurrent opens a server-side scanner on the first remaining
// region, hinted at startRow.
func (s *Scanner) openCurrent(ctx context.Context, startRow storepb.Key) error {
	loc := s.regions[0]
	conn, err := s.client.pool.Connect(ctx, loc.ServerAddress)
	if err != nil {
		return err
	}
	server := s.client.factory.RegionServerClient(loc.ServerAddress, conn)
	id, err := server.OpenScanner(ctx, loc.Region.RegionName, s.columns, startRow)
	if err != nil {
		return err
	}
	s.curServer = server
	s.curID = id
	s.curOpen = true
	return nil
}

// advance closes the current region's scanner (if open), drops it
// from the remaining-regions list, and opens the next region's
// scanner hinted at the empty key, if any region remains.
func (s *Scanner) advance(ctx context.Context) error {
	if s.curOpen {
		_ = s.curServer.CloseScanner(ctx, s.curID)
		s.curOpen = false
	}
	s.regions = s.regions[1:]
	if len(s.regions) == 0 {
		return nil
	}
	return s.openCurrent(ctx, storepb.EmptyKey)
}

// Next returns the next row in strictly increasing key order, or
// ok=false once every region has been exhausted.
func (s *Scanner) Next(ctx context.Context) (Row, bool, error) {
	if s.closed {
		return Row{}, false, nil
	}
	for {
		if len(s.regions) == 0 {
			s.closed = true
			return Row{}, false, nil
		}
		key, cols, err := s.curServer.Next(ctx, s.curID)
		if err != nil {
			return Row{}, false, err
		}
		if len(cols) == 0 {
			if err := s.advance(ctx); err != nil {
				return Row{}, false, err
			}
			continue
		}
		return Row{Key: key, Columns: cols}, true, nil
	}
}

// Close releases any open server-side scanner. Safe to call more than
// once and after Next has already reached the end.
func (s *Scanner) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.curOpen {
		s.curOpen = false
		return s.curServer.CloseScanner(ctx, s.curID)
	}
	return nil
}
