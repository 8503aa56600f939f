package kv

import (
	"context"

	"github.com/tablestore-io/gorange/internal/retry"
	"github.com/tablestore-io/gorange/rpc"
	"github.com/tablestore-io/gorange/storepb"
)

// resolveTable populates the region directory cache for name,
// dispatching to the root/meta/user-table algorithm appropriate to
// its kind (spec §4.D, component D).
func (c *Client) resolveTable(ctx context.Context, name string) error {
	switch name {
	case storepb.RootTableName:
		return c.resolveRoot(ctx)
	case storepb.MetaTableName:
		return c.resolveMeta(ctx)
	default:
		return c.resolveUserTable(ctx, name)
	}
}

// resolveRoot locates the single root region: an outer loop validates
// a candidate address via the region's own self-describe RPC, an
// inner loop waits for the master to know a location at all.
func (c *Client) resolveRoot(ctx context.Context) error {
	master, err := c.master.ensureMaster(ctx)
	if err != nil {
		return err
	}

	var lastErr error
	outer := retry.Start(ctx, retry.Options{Pause: c.opts.Pause, MaxAttempts: c.opts.NumRetries})
	for outer.Next() {
		addr, ok, err := c.waitForRootLocation(ctx, master)
		if err != nil {
			lastErr = err
			continue
		}
		if !ok {
			lastErr = storepb.NewError(storepb.KindNoServerForRegion, "master never reported a root region location")
			continue
		}

		conn, err := c.pool.Connect(ctx, addr)
		if err != nil {
			lastErr = err
			continue
		}
		server := c.factory.RegionServerClient(addr, conn)
		desc, err := server.GetRegionInfo(ctx, storepb.RootTableName)
		if err != nil {
			if storepb.KindOf(err) == storepb.KindNotServingRegion {
				// Validation failed: the candidate address doesn't (yet)
				// serve root. Restart the outer loop after sleeping.
				lastErr = err
				continue
			}
			return err
		}

		loc := storepb.RegionLocation{Region: desc, ServerAddress: addr}
		c.cache.Install(storepb.RootTableName, []storepb.RegionLocation{loc})
		return nil
	}
	return storepb.WrapError(storepb.KindNoServerForRegion, lastErr, "could not resolve root region after %d attempts", c.opts.NumRetries)
}

// waitForRootLocation polls the master until it reports a root region
// address, sleeping pause between tries (the inner loop of
// resolveRoot).
func (c *Client) waitForRootLocation(ctx context.Context, master rpc.MasterClient) (string, bool, error) {
	inner := retry.Start(ctx, retry.Options{Pause: c.opts.Pause, MaxAttempts: c.opts.NumRetries})
	for inner.Next() {
		addr, ok, err := master.FindRootRegion(ctx)
		if err != nil {
			return "", false, err
		}
		if ok {
			return addr, true, nil
		}
	}
	return "", false, nil
}

// resolveMeta ensures root is resolved, then scans root's sole region
// for every meta region's descriptor and server address.
func (c *Client) resolveMeta(ctx context.Context) error {
	if !c.cache.IsOpen(storepb.RootTableName) {
		if err := c.resolveRoot(ctx); err != nil {
			return err
		}
	}
	rootLoc, err := c.cache.Lookup(storepb.RootTableName, storepb.EmptyKey)
	if err != nil {
		return err
	}

	locs, err := c.scanCatalogRegions(ctx, []storepb.RegionLocation{rootLoc}, storepb.MetaTableName)
	if err != nil {
		return err
	}
	c.cache.Install(storepb.MetaTableName, locs)
	return nil
}

// resolveUserTable ensures meta is resolved, then scans the tail
// slice of meta regions that could hold rows for table (the region
// covering table's name and every subsequent meta region).
func (c *Client) resolveUserTable(ctx context.Context, table string) error {
	if !c.cache.IsOpen(storepb.MetaTableName) {
		if err := c.resolveMeta(ctx); err != nil {
			return err
		}
	}
	tail, err := c.cache.Snapshot(storepb.MetaTableName, storepb.Key(table))
	if err != nil {
		return err
	}

	locs, err := c.scanCatalogRegions(ctx, tail, table)
	if err != nil {
		return err
	}
	c.cache.Install(table, locs)
	return nil
}

// scanCatalogRegion implements the shared "scan semantics for a
// catalog region" (spec §4.D): open a scanner on loc for
// {regionInfo, server} hinted at targetTable, and accumulate every
// contiguous row belonging to targetTable. The server-side scanner is
// always closed, on every exit path.
func (c *Client) scanCatalogRegion(ctx context.Context, loc storepb.RegionLocation, targetTable string) ([]storepb.RegionLocation, error) {
	conn, err := c.pool.Connect(ctx, loc.ServerAddress)
	if err != nil {
		return nil, err
	}
	server := c.factory.RegionServerClient(loc.ServerAddress, conn)

	scannerID, err := server.OpenScanner(ctx, loc.Region.RegionName, []string{"regionInfo", "server"}, storepb.Key(targetTable))
	if err != nil {
		return nil, err
	}
	defer func() { _ = server.CloseScanner(ctx, scannerID) }()

	var out []storepb.RegionLocation
	for {
		_, cols, err := server.Next(ctx, scannerID)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			break
		}
		row, err := decodeCatalogRow(cols)
		if err != nil {
			return nil, err
		}
		if row.Region.Table.Name != targetTable {
			break
		}
		if row.Region.Offline {
			return nil, storepb.NewError(storepb.KindTableOffline, "table %q has an offline region %s", targetTable, row.Region.RegionName)
		}
		if !row.Assigned() {
			return nil, storepb.NewError(storepb.KindNoServerForRegion, "region %s of table %q is unassigned", row.Region.RegionName, targetTable)
		}
		out = append(out, storepb.RegionLocation{Region: row.Region, ServerAddress: row.Server})
	}
	return out, nil
}

// scanCatalogRegions scans every location in locs in order, applying
// scanCatalogRegion, and retries the whole accumulation (discarding
// any partial result) up to opts.NumRetries times if any region
// reports an unassigned row. Distinguishes RegionNotFound (no rows
// collected on the first pass) from NoServerForRegion (rows exist but
// lack a server assignment), per spec §4.D.
func (c *Client) scanCatalogRegions(ctx context.Context, locs []storepb.RegionLocation, targetTable string) ([]storepb.RegionLocation, error) {
	var lastErr error
	sawAnyRow := false

	r := retry.Start(ctx, retry.Options{Pause: c.opts.Pause, MaxAttempts: c.opts.NumRetries})
	for r.Next() {
		var out []storepb.RegionLocation
		unassigned := false
		for _, loc := range locs {
			rows, err := c.scanCatalogRegion(ctx, loc, targetTable)
			if err != nil {
				if storepb.KindOf(err) == storepb.KindNoServerForRegion {
					unassigned = true
					lastErr = err
					sawAnyRow = true
					break
				}
				return nil, err
			}
			if len(rows) > 0 {
				sawAnyRow = true
			}
			out = append(out, rows...)
		}
		if unassigned {
			continue
		}
		if len(out) == 0 {
			lastErr = storepb.NewError(storepb.KindRegionNotFound, "no regions found for table %q", targetTable)
			continue
		}
		return out, nil
	}

	if sawAnyRow {
		return nil, storepb.WrapError(storepb.KindNoServerForRegion, lastErr, "table %q has unassigned regions after %d attempts", targetTable, c.opts.NumRetries)
	}
	return nil, storepb.WrapError(storepb.KindRegionNotFound, lastErr, "table %q not found after %d attempts", targetTable, c.opts.NumRetries)
}
