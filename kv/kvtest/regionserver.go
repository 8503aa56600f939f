package kvtest

import (
	"context"
	"sort"
	"sync"

	"github.com/tablestore-io/gorange/kv"
	"github.com/tablestore-io/gorange/rpc"
	"github.com/tablestore-io/gorange/storepb"
)

type storedRow struct {
	key     storepb.Key
	columns map[string][]byte
}

type lockHold struct {
	clientID uint64
	row      storepb.Key
	puts     map[string][]byte
	deletes  map[string]bool
}

type region struct {
	desc storepb.RegionDescriptor
	rows []storedRow // kept sorted by key

	// notServingHits, when > 0, makes the next that-many calls that
	// touch this region (GetRegionInfo, Get*, OpenScanner, StartUpdate) fail with
	// NotServingRegion, decrementing by one per call. Simulates a
	// region having moved out from under a stale cache entry.
	notServingHits int

	locks      map[rpc.LockID]*lockHold
	nextLockID rpc.LockID

	failNextPut error
	failNextGet error
}

type cursor struct {
	regionName string
	columns    []string
	rows       []storedRow // snapshot taken at OpenScanner time
	pos        int
}

// RegionServer is a fake implementation of rpc.RegionServerClient
// backing zero or more regions, each an independent ordered row store.
type RegionServer struct {
	addr string

	mu         sync.Mutex
	regions    map[string]*region
	scanners   map[rpc.ScannerID]*cursor
	nextScanID rpc.ScannerID
}

func newRegionServer(addr string) *RegionServer {
	return &RegionServer{
		addr:     addr,
		regions:  make(map[string]*region),
		scanners: make(map[rpc.ScannerID]*cursor),
	}
}

// Addr returns the address this fake was registered under.
func (s *RegionServer) Addr() string { return s.addr }

// AddRegion registers a region (catalog or user) this server now
// serves.
func (s *RegionServer) AddRegion(desc storepb.RegionDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions[desc.RegionName] = &region{desc: desc, locks: make(map[rpc.LockID]*lockHold)}
}

// SetNotServing makes the next n calls touching regionName fail with
// NotServingRegion, simulating a region that has moved.
func (s *RegionServer) SetNotServing(regionName string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.regions[regionName]; ok {
		r.notServingHits = n
	}
}

// SetOffline flips the Offline flag carried by regionName's own
// descriptor (as returned by GetRegionInfo).
func (s *RegionServer) SetOffline(regionName string, offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.regions[regionName]; ok {
		r.desc.Offline = offline
	}
}

// FailNextPut makes the next Put call against regionName's active
// lock return err instead of applying, used to exercise the update
// session's best-effort-abort-on-failure path.
func (s *RegionServer) FailNextPut(regionName string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.regions[regionName]; ok {
		r.failNextPut = err
	}
}

// FailNextGet makes the next Get call against regionName return err
// instead of looking up the row, used to exercise the dispatcher's
// "any other error propagates without retry" path (spec.md §4.E.5).
func (s *RegionServer) FailNextGet(regionName string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.regions[regionName]; ok {
		r.failNextGet = err
	}
}

// PutRow sets columns wholesale for rowKey within regionName,
// creating the row if absent.
func (s *RegionServer) PutRow(regionName string, rowKey storepb.Key, columns map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regions[regionName]
	if !ok {
		return
	}
	r.rows = insertRow(r.rows, rowKey, columns)
}

// PutCatalogRow adds a {regionInfo, server} catalog row for descRegion
// under rowKey within the catalog region regionName, the fake-server
// equivalent of a root/meta table row (spec.md §6 "Catalog row
// layout"). Passing server="" leaves the region unassigned.
func (s *RegionServer) PutCatalogRow(regionName string, rowKey storepb.Key, descRegion storepb.RegionDescriptor, server string) {
	cols := map[string][]byte{"regionInfo": kv.EncodeRegionInfo(descRegion)}
	if server != "" {
		cols["server"] = []byte(server)
	}
	s.PutRow(regionName, rowKey, cols)
}

func insertRow(rows []storedRow, key storepb.Key, columns map[string][]byte) []storedRow {
	i := sort.Search(len(rows), func(i int) bool { return !rows[i].key.Less(key) })
	if i < len(rows) && rows[i].key.Compare(key) == 0 {
		replaced := make(map[string][]byte, len(columns))
		for k, v := range columns {
			replaced[k] = v
		}
		rows[i].columns = replaced
		return rows
	}
	row := storedRow{key: key, columns: make(map[string][]byte, len(columns))}
	for k, v := range columns {
		row.columns[k] = v
	}
	out := make([]storedRow, 0, len(rows)+1)
	out = append(out, rows[:i]...)
	out = append(out, row)
	out = append(out, rows[i:]...)
	return out
}

func (s *RegionServer) takeNotServingHit(regionName string) error {
	r, ok := s.regions[regionName]
	if !ok {
		return storepb.NewError(storepb.KindNotServingRegion, "region %s not found on %s", regionName, s.addr)
	}
	if r.notServingHits > 0 {
		r.notServingHits--
		return storepb.NewError(storepb.KindNotServingRegion, "region %s not served here (fake)", regionName)
	}
	return nil
}

func (s *RegionServer) GetRegionInfo(ctx context.Context, regionName string) (storepb.RegionDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeNotServingHit(regionName); err != nil {
		return storepb.RegionDescriptor{}, err
	}
	return s.regions[regionName].desc, nil
}

func (s *RegionServer) Get(ctx context.Context, regionName string, row storepb.Key, column string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeNotServingHit(regionName); err != nil {
		return nil, err
	}
	r := s.regions[regionName]
	if r.failNextGet != nil {
		err := r.failNextGet
		r.failNextGet = nil
		return nil, err
	}
	for _, sr := range r.rows {
		if sr.key.Compare(row) == 0 {
			return sr.columns[column], nil
		}
	}
	return nil, nil
}

func (s *RegionServer) GetVersions(ctx context.Context, regionName string, row storepb.Key, column string, numVersions int) ([][]byte, error) {
	v, err := s.Get(ctx, regionName, row, column)
	if err != nil || v == nil {
		return nil, err
	}
	if numVersions <= 0 {
		numVersions = 1
	}
	out := make([][]byte, 0, numVersions)
	out = append(out, v)
	return out, nil
}

func (s *RegionServer) GetVersionsAt(ctx context.Context, regionName string, row storepb.Key, column string, timestampNanos int64, numVersions int) ([][]byte, error) {
	return s.GetVersions(ctx, regionName, row, column, numVersions)
}

func (s *RegionServer) GetRow(ctx context.Context, regionName string, row storepb.Key) ([]rpc.ColumnValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeNotServingHit(regionName); err != nil {
		return nil, err
	}
	r := s.regions[regionName]
	for _, sr := range r.rows {
		if sr.key.Compare(row) == 0 {
			return columnValues(sr.columns, nil), nil
		}
	}
	return nil, nil
}

func (s *RegionServer) OpenScanner(ctx context.Context, regionName string, columns []string, startRow storepb.Key) (rpc.ScannerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeNotServingHit(regionName); err != nil {
		return 0, err
	}
	r := s.regions[regionName]
	i := sort.Search(len(r.rows), func(i int) bool { return !r.rows[i].key.Less(startRow) })
	snapshot := append([]storedRow(nil), r.rows[i:]...)

	s.nextScanID++
	id := s.nextScanID
	s.scanners[id] = &cursor{regionName: regionName, columns: columns, rows: snapshot}
	return id, nil
}

func (s *RegionServer) Next(ctx context.Context, id rpc.ScannerID) (storepb.Key, []rpc.ColumnValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.scanners[id]
	if !ok {
		return nil, nil, storepb.NewError(storepb.KindIllegalArgument, "unknown scanner id %d", id)
	}
	if c.pos >= len(c.rows) {
		return nil, nil, nil
	}
	row := c.rows[c.pos]
	c.pos++
	return row.key, columnValues(row.columns, c.columns), nil
}

func (s *RegionServer) CloseScanner(ctx context.Context, id rpc.ScannerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scanners, id)
	return nil
}

func columnValues(all map[string][]byte, want []string) []rpc.ColumnValue {
	if len(want) == 0 {
		out := make([]rpc.ColumnValue, 0, len(all))
		for k, v := range all {
			out = append(out, rpc.ColumnValue{Column: k, Value: v})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Column < out[j].Column })
		return out
	}
	out := make([]rpc.ColumnValue, 0, len(want))
	for _, k := range want {
		if v, ok := all[k]; ok {
			out = append(out, rpc.ColumnValue{Column: k, Value: v})
		}
	}
	return out
}

func (s *RegionServer) StartUpdate(ctx context.Context, regionName string, clientID uint64, row storepb.Key) (rpc.LockID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeNotServingHit(regionName); err != nil {
		return 0, err
	}
	r := s.regions[regionName]
	r.nextLockID++
	id := r.nextLockID
	r.locks[id] = &lockHold{clientID: clientID, row: row, puts: make(map[string][]byte), deletes: make(map[string]bool)}
	return id, nil
}

func (s *RegionServer) Put(ctx context.Context, regionName string, clientID uint64, lock rpc.LockID, column string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regions[regionName]
	if !ok {
		return storepb.NewError(storepb.KindNotServingRegion, "region %s not found on %s", regionName, s.addr)
	}
	if r.failNextPut != nil {
		err := r.failNextPut
		r.failNextPut = nil
		return err
	}
	hold, ok := r.locks[lock]
	if !ok || hold.clientID != clientID {
		return storepb.NewError(storepb.KindLockException, "no active lock %d for client %d", lock, clientID)
	}
	delete(hold.deletes, column)
	hold.puts[column] = value
	return nil
}

func (s *RegionServer) Delete(ctx context.Context, regionName string, clientID uint64, lock rpc.LockID, column string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regions[regionName]
	if !ok {
		return storepb.NewError(storepb.KindNotServingRegion, "region %s not found on %s", regionName, s.addr)
	}
	hold, ok := r.locks[lock]
	if !ok || hold.clientID != clientID {
		return storepb.NewError(storepb.KindLockException, "no active lock %d for client %d", lock, clientID)
	}
	delete(hold.puts, column)
	hold.deletes[column] = true
	return nil
}

func (s *RegionServer) Abort(ctx context.Context, regionName string, clientID uint64, lock rpc.LockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regions[regionName]
	if !ok {
		return nil
	}
	delete(r.locks, lock)
	return nil
}

func (s *RegionServer) Commit(ctx context.Context, regionName string, clientID uint64, lock rpc.LockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regions[regionName]
	if !ok {
		return storepb.NewError(storepb.KindNotServingRegion, "region %s not found on %s", regionName, s.addr)
	}
	hold, ok := r.locks[lock]
	if !ok || hold.clientID != clientID {
		return storepb.NewError(storepb.KindLockException, "no active lock %d for client %d", lock, clientID)
	}
	delete(r.locks, lock)

	i := sort.Search(len(r.rows), func(i int) bool { return !r.rows[i].key.Less(hold.row) })
	var existing map[string][]byte
	if i < len(r.rows) && r.rows[i].key.Compare(hold.row) == 0 {
		existing = r.rows[i].columns
	} else {
		existing = make(map[string][]byte)
	}
	for col := range hold.deletes {
		delete(existing, col)
	}
	for col, val := range hold.puts {
		existing[col] = val
	}
	r.rows = insertRow(r.rows, hold.row, existing)
	return nil
}
