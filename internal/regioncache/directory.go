// Package regioncache implements the region directory cache (spec §4.C,
// component C): a per-table ordered map from region start key to region
// location, supporting floor lookup and tail slicing. It is grounded on
// cockroachdb/cockroach's kvclient/kvcoord RangeDescriptorCache, but
// trades that cache's fine-grained, generation-based eviction for the
// coarser table-wide invalidation spec.md deliberately calls for (§4.C
// "Rationale").
package regioncache

import (
	"sync"

	"github.com/google/btree"

	"github.com/tablestore-io/gorange/storepb"
)

const btreeDegree = 32

type item struct {
	startKey storepb.Key
	loc      storepb.RegionLocation
}

func (a item) Less(than btree.Item) bool {
	return a.startKey.Less(than.(item).startKey)
}

// directory is the ordered map for one table: start key -> location.
// Invariant (spec §3): start keys are strictly ordered and the first
// entry's start key is empty.
type directory struct {
	tree *btree.BTree
}

func newDirectory() *directory {
	return &directory{tree: btree.New(btreeDegree)}
}

func (d *directory) insert(loc storepb.RegionLocation) {
	d.tree.ReplaceOrInsert(item{startKey: loc.Region.StartKey, loc: loc})
}

// floor returns the location with the greatest start key <= row.
func (d *directory) floor(row storepb.Key) (storepb.RegionLocation, bool) {
	var found item
	ok := false
	d.tree.DescendLessOrEqual(item{startKey: row}, func(i btree.Item) bool {
		found = i.(item)
		ok = true
		return false
	})
	return found.loc, ok
}

// tail returns every location from floor(from) through the end of the
// table's key space, in start-key order.
func (d *directory) tail(from storepb.Key) []storepb.RegionLocation {
	floorLoc, ok := d.floor(from)
	if !ok {
		return nil
	}
	var out []storepb.RegionLocation
	d.tree.AscendGreaterOrEqual(item{startKey: floorLoc.Region.StartKey}, func(i btree.Item) bool {
		out = append(out, i.(item).loc)
		return true
	})
	return out
}

// all returns every location in start-key order.
func (d *directory) all() []storepb.RegionLocation {
	var out []storepb.RegionLocation
	d.tree.Ascend(func(i btree.Item) bool {
		out = append(out, i.(item).loc)
		return true
	})
	return out
}

func (d *directory) len() int { return d.tree.Len() }

// Cache is the region directory cache C: table name -> ordered map of
// start key -> region location.
type Cache struct {
	mu   sync.RWMutex
	dirs map[string]*directory
}

// New returns an empty region directory cache.
func New() *Cache {
	return &Cache{dirs: make(map[string]*directory)}
}

// Lookup returns the location of the single region covering row within
// table's cached directory. Fails with storepb.KindNotOpen if table has
// never been installed.
func (c *Cache) Lookup(table string, row storepb.Key) (storepb.RegionLocation, error) {
	c.mu.RLock()
	d, ok := c.dirs[table]
	c.mu.RUnlock()
	if !ok {
		return storepb.RegionLocation{}, storepb.NewError(storepb.KindNotOpen, "table %q is not open", table)
	}
	loc, ok := d.floor(row)
	if !ok {
		return storepb.RegionLocation{}, storepb.NewError(storepb.KindRegionNotFound, "no cached region covers row in table %q", table)
	}
	return loc, nil
}

// Snapshot returns every cached location for table, from the region
// covering from through the last region, in start-key order. Taken
// atomically with respect to concurrent Install/Invalidate calls
// (spec §5 ordering guarantee (b)).
func (c *Cache) Snapshot(table string, from storepb.Key) ([]storepb.RegionLocation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.dirs[table]
	if !ok {
		return nil, storepb.NewError(storepb.KindNotOpen, "table %q is not open", table)
	}
	locs := d.tail(from)
	if locs == nil {
		return nil, storepb.NewError(storepb.KindRegionNotFound, "no cached region covers the requested range in table %q", table)
	}
	return locs, nil
}

// IsOpen reports whether table has an installed directory.
func (c *Cache) IsOpen(table string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.dirs[table]
	return ok
}

// Install atomically replaces table's entire directory with locs.
func (c *Cache) Install(table string, locs []storepb.RegionLocation) {
	d := newDirectory()
	for _, loc := range locs {
		d.insert(loc)
	}
	c.mu.Lock()
	c.dirs[table] = d
	c.mu.Unlock()
}

// Invalidate removes table's entire cached directory (spec §4.C
// "Rationale": a single stale entry invalidates the whole table,
// because splits/merges/moves commonly cascade across neighbors).
func (c *Cache) Invalidate(table string) {
	c.mu.Lock()
	delete(c.dirs, table)
	c.mu.Unlock()
}

// InvalidateRegion removes the directory of the table that loc belongs
// to, forcing a full reload on next access.
func (c *Cache) InvalidateRegion(loc storepb.RegionLocation) {
	c.Invalidate(loc.Region.Table.Name)
}

// All returns every cached location for table in start-key order, or
// nil if table is not open.
func (c *Cache) All(table string) []storepb.RegionLocation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.dirs[table]
	if !ok {
		return nil
	}
	return d.all()
}

// Len returns the number of cached regions for table (0 if not open).
func (c *Cache) Len(table string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if d, ok := c.dirs[table]; ok {
		return d.len()
	}
	return 0
}
