package kv

import (
	"context"

	"github.com/tablestore-io/gorange/internal/retry"
	"github.com/tablestore-io/gorange/storepb"
)

// CreateTable issues the master RPC then waits for the first meta
// region to show a row for the new table (spec §4.H, component H).
// The original implementation additionally saved and restored its
// single-slot table cache around this wait; that concern does not
// apply here since the region directory cache (component C) already
// holds every opened table's directory independently, so no table a
// caller has open is ever disturbed by this call.
func (c *Client) CreateTable(ctx context.Context, desc storepb.TableDescriptor) error {
	if desc.Name == "" {
		return storepb.NewError(storepb.KindIllegalArgument, "table name must not be empty")
	}
	if storepb.IsReservedTableName(desc.Name) {
		return storepb.NewError(storepb.KindIllegalArgument, "table name %q is reserved", desc.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	master, err := c.master.ensureMaster(ctx)
	if err != nil {
		return err
	}
	if err := master.CreateTable(ctx, desc); err != nil {
		return err
	}
	return c.waitForCondition(ctx, desc.Name, func(row storepb.CatalogRow, found bool) bool {
		return found && row.Region.Table.Name == desc.Name
	})
}

// DeleteTable issues the master RPC then waits for the first meta
// region to show no row for table.
func (c *Client) DeleteTable(ctx context.Context, table string) error {
	if table == "" {
		return storepb.NewError(storepb.KindIllegalArgument, "table name must not be empty")
	}
	if storepb.IsReservedTableName(table) {
		return storepb.NewError(storepb.KindIllegalArgument, "table name %q is reserved", table)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	master, err := c.master.ensureMaster(ctx)
	if err != nil {
		return err
	}
	if err := master.DeleteTable(ctx, table); err != nil {
		return err
	}
	c.cache.Invalidate(table)
	return c.waitForCondition(ctx, table, func(row storepb.CatalogRow, found bool) bool {
		return !found || row.Region.Table.Name != table
	})
}

// EnableTable issues the master RPC then waits for the first meta
// region's row for table to show offline=false.
func (c *Client) EnableTable(ctx context.Context, table string) error {
	if table == "" {
		return storepb.NewError(storepb.KindIllegalArgument, "table name must not be empty")
	}
	if storepb.IsReservedTableName(table) {
		return storepb.NewError(storepb.KindIllegalArgument, "table name %q is reserved", table)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	master, err := c.master.ensureMaster(ctx)
	if err != nil {
		return err
	}
	if err := master.EnableTable(ctx, table); err != nil {
		return err
	}
	return c.waitForCondition(ctx, table, func(row storepb.CatalogRow, found bool) bool {
		return found && row.Region.Table.Name == table && !row.Region.Offline
	})
}

// DisableTable issues the master RPC then waits for the first meta
// region's row for table to show offline=true.
func (c *Client) DisableTable(ctx context.Context, table string) error {
	if table == "" {
		return storepb.NewError(storepb.KindIllegalArgument, "table name must not be empty")
	}
	if storepb.IsReservedTableName(table) {
		return storepb.NewError(storepb.KindIllegalArgument, "table name %q is reserved", table)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	master, err := c.master.ensureMaster(ctx)
	if err != nil {
		return err
	}
	if err := master.DisableTable(ctx, table); err != nil {
		return err
	}
	return c.waitForCondition(ctx, table, func(row storepb.CatalogRow, found bool) bool {
		return found && row.Region.Table.Name == table && row.Region.Offline
	})
}

// AddColumn and DeleteColumn relay directly to the master; spec §4.H
// names only create/delete/enable/disable as having a wait-loop shape.
func (c *Client) AddColumn(ctx context.Context, table string, family storepb.ColumnFamily) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	master, err := c.master.ensureMaster(ctx)
	if err != nil {
		return err
	}
	return master.AddColumn(ctx, table, family)
}

func (c *Client) DeleteColumn(ctx context.Context, table string, columnName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	master, err := c.master.ensureMaster(ctx)
	if err != nil {
		return err
	}
	return master.DeleteColumn(ctx, table, columnName)
}

// Shutdown relays to the master and drops the cached master handle.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	master, err := c.master.ensureMaster(ctx)
	if err != nil {
		return err
	}
	err = master.Shutdown(ctx)
	c.master.reset()
	return err
}

// waitForCondition polls the first meta region that would host table,
// decoding its first row and checking cond, up to opts.NumRetries
// times with opts.Pause between polls (component H). cond receives
// found=false when the poll produced no row at all; callers decide
// what that means for their specific condition.
//
// The source's enable/disable loops increment their found-counter
// after testing it, so a poll with zero rows never reaches the
// NoSuchElement path on the very first iteration, which looks
// accidental (spec.md §9 open question). We make the same outcome an
// explicit choice here: a poll that finds no row yet is "not ready",
// not "no such table", for every one of these four operations.
func (c *Client) waitForCondition(ctx context.Context, table string, cond func(row storepb.CatalogRow, found bool) bool) error {
	if !c.cache.IsOpen(storepb.MetaTableName) {
		if err := c.resolveMeta(ctx); err != nil {
			return err
		}
	}
	firstMeta, err := c.cache.Lookup(storepb.MetaTableName, storepb.Key(table))
	if err != nil {
		return err
	}

	var lastErr error
	r := retry.Start(ctx, retry.Options{Pause: c.opts.Pause, MaxAttempts: c.opts.NumRetries})
	for r.Next() {
		row, found, err := c.pollFirstRow(ctx, firstMeta, table)
		if err != nil {
			return err
		}
		if cond(row, found) {
			return nil
		}
		lastErr = storepb.NewError(storepb.KindNoServerForRegion, "table %q did not reach the expected state after %d attempts", table, c.opts.NumRetries)
	}
	return lastErr
}

// pollFirstRow opens a scanner on loc restricted to regionInfo,
// hinted at table, reads the first row, and closes the scanner
// unconditionally before returning.
func (c *Client) pollFirstRow(ctx context.Context, loc storepb.RegionLocation, table string) (storepb.CatalogRow, bool, error) {
	conn, err := c.pool.Connect(ctx, loc.ServerAddress)
	if err != nil {
		return storepb.CatalogRow{}, false, err
	}
	server := c.factory.RegionServerClient(loc.ServerAddress, conn)

	id, err := server.OpenScanner(ctx, loc.Region.RegionName, []string{"regionInfo"}, storepb.Key(table))
	if err != nil {
		return storepb.CatalogRow{}, false, err
	}
	defer func() { _ = server.CloseScanner(ctx, id) }()

	_, cols, err := server.Next(ctx, id)
	if err != nil {
		return storepb.CatalogRow{}, false, err
	}
	if len(cols) == 0 {
		return storepb.CatalogRow{}, false, nil
	}
	row, err := decodeCatalogRow(cols)
	if err != nil {
		return storepb.CatalogRow{}, false, err
	}
	return row, true, nil
}
