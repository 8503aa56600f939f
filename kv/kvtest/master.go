package kvtest

import (
	"context"
	"sync"

	"github.com/tablestore-io/gorange/storepb"
)

// Master is a fake implementation of rpc.MasterClient.
type Master struct {
	mu sync.Mutex

	running           bool
	rootAddr          string
	rootKnown         bool
	pendingRootMisses int

	CreateTableFunc  func(desc storepb.TableDescriptor) error
	DeleteTableFunc  func(table string) error
	EnableTableFunc  func(table string) error
	DisableTableFunc func(table string) error
	AddColumnFunc    func(table string, family storepb.ColumnFamily) error
	DeleteColumnFunc func(table, column string) error
	ShutdownFunc     func() error
}

// NewMaster returns a fake master that is running but knows no root
// region location yet.
func NewMaster() *Master {
	return &Master{running: true}
}

// SetRunning controls the result of IsMasterRunning.
func (m *Master) SetRunning(v bool) {
	m.mu.Lock()
	m.running = v
	m.mu.Unlock()
}

// SetRootRegion makes FindRootRegion report addr as the root region's
// server.
func (m *Master) SetRootRegion(addr string) {
	m.mu.Lock()
	m.rootAddr = addr
	m.rootKnown = true
	m.mu.Unlock()
}

// DelayRootKnownFor makes the next n FindRootRegion calls report "not
// yet known" before answering with the address set by SetRootRegion.
func (m *Master) DelayRootKnownFor(n int) {
	m.mu.Lock()
	m.pendingRootMisses = n
	m.mu.Unlock()
}

func (m *Master) IsMasterRunning(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running, nil
}

func (m *Master) FindRootRegion(ctx context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingRootMisses > 0 {
		m.pendingRootMisses--
		return "", false, nil
	}
	if !m.rootKnown {
		return "", false, nil
	}
	return m.rootAddr, true, nil
}

func (m *Master) CreateTable(ctx context.Context, desc storepb.TableDescriptor) error {
	if m.CreateTableFunc != nil {
		return m.CreateTableFunc(desc)
	}
	return nil
}

func (m *Master) DeleteTable(ctx context.Context, table string) error {
	if m.DeleteTableFunc != nil {
		return m.DeleteTableFunc(table)
	}
	return nil
}

func (m *Master) AddColumn(ctx context.Context, table string, family storepb.ColumnFamily) error {
	if m.AddColumnFunc != nil {
		return m.AddColumnFunc(table, family)
	}
	return nil
}

func (m *Master) DeleteColumn(ctx context.Context, table string, column string) error {
	if m.DeleteColumnFunc != nil {
		return m.DeleteColumnFunc(table, column)
	}
	return nil
}

func (m *Master) EnableTable(ctx context.Context, table string) error {
	if m.EnableTableFunc != nil {
		return m.EnableTableFunc(table)
	}
	return nil
}

func (m *Master) DisableTable(ctx context.Context, table string) error {
	if m.DisableTableFunc != nil {
		return m.DisableTableFunc(table)
	}
	return nil
}

func (m *Master) Shutdown(ctx context.Context) error {
	if m.ShutdownFunc != nil {
		return m.ShutdownFunc()
	}
	return nil
}
