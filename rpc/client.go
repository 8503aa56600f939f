package rpc

import (
	"context"

	"github.com/tablestore-io/gorange/storepb"
)

// ColumnValue is one (column, value) pair as returned by a row read.
type ColumnValue struct {
	Column string
	Value  []byte
}

// RegionServerClient is the semantic surface of the region server RPCs
// the client core consumes (spec §6). Implementations are opaque
// remote collaborators; the core never constructs one directly, only
// through a ClientFactory bound to a pooled connection.
type RegionServerClient interface {
	// GetRegionInfo validates that regionName is currently served here.
	GetRegionInfo(ctx context.Context, regionName string) (storepb.RegionDescriptor, error)

	Get(ctx context.Context, regionName string, row storepb.Key, column string) ([]byte, error)
	GetVersions(ctx context.Context, regionName string, row storepb.Key, column string, numVersions int) ([][]byte, error)
	GetVersionsAt(ctx context.Context, regionName string, row storepb.Key, column string, timestampNanos int64, numVersions int) ([][]byte, error)
	GetRow(ctx context.Context, regionName string, row storepb.Key) ([]ColumnValue, error)

	OpenScanner(ctx context.Context, regionName string, columns []string, startRow storepb.Key) (ScannerID, error)
	// Next returns the next row's columns and its key. A zero-length
	// slice of columns signals end of this region's data.
	Next(ctx context.Context, id ScannerID) (storepb.Key, []ColumnValue, error)
	CloseScanner(ctx context.Context, id ScannerID) error

	StartUpdate(ctx context.Context, regionName string, clientID uint64, row storepb.Key) (LockID, error)
	Put(ctx context.Context, regionName string, clientID uint64, lock LockID, column string, value []byte) error
	Delete(ctx context.Context, regionName string, clientID uint64, lock LockID, column string) error
	Abort(ctx context.Context, regionName string, clientID uint64, lock LockID) error
	Commit(ctx context.Context, regionName string, clientID uint64, lock LockID) error
}

// MasterClient is the semantic surface of the master RPCs the client
// core consumes (spec §6).
type MasterClient interface {
	IsMasterRunning(ctx context.Context) (bool, error)
	FindRootRegion(ctx context.Context) (string, bool, error)

	CreateTable(ctx context.Context, desc storepb.TableDescriptor) error
	DeleteTable(ctx context.Context, table string) error
	AddColumn(ctx context.Context, table string, family storepb.ColumnFamily) error
	DeleteColumn(ctx context.Context, table string, columnName string) error
	EnableTable(ctx context.Context, table string) error
	DisableTable(ctx context.Context, table string) error
	Shutdown(ctx context.Context) error
}

// ScannerID identifies a server-side scanner cursor.
type ScannerID uint64

// LockID identifies a server-side row lock for an update session.
type LockID uint64

// ClientFactory builds RegionServerClient/MasterClient handles bound
// to a pooled transport connection. Swapped out in tests for an
// in-process fake.
type ClientFactory interface {
	RegionServerClient(address string, handle interface{}) RegionServerClient
	MasterClient(address string, handle interface{}) MasterClient
}
