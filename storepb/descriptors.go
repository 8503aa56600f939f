package storepb

import "fmt"

const (
	// RootTableName is the reserved name of the single-region catalog
	// indexing the meta table.
	RootTableName = "-ROOT-"
	// MetaTableName is the reserved name of the multi-region catalog
	// indexing all user tables.
	MetaTableName = ".META."
)

// IsReservedTableName reports whether name is one of the two catalog
// table names, which user code is forbidden from using.
func IsReservedTableName(name string) bool {
	return name == RootTableName || name == MetaTableName
}

// ColumnFamily names one column family of a table descriptor.
type ColumnFamily struct {
	Name        string
	MaxVersions int
}

// TableDescriptor names a table and its column family definitions.
type TableDescriptor struct {
	Name     string
	Families []ColumnFamily
}

func (t TableDescriptor) String() string {
	return fmt.Sprintf("table %q (%d families)", t.Name, len(t.Families))
}

// RegionDescriptor is a contiguous key range of a table, served by one
// region server at a time.
type RegionDescriptor struct {
	// RegionName uniquely identifies the region across splits/merges.
	RegionName string
	StartKey   Key
	// EndKey is exclusive; an empty EndKey denotes +Inf.
	EndKey  Key
	Table   TableDescriptor
	Offline bool
}

// ContainsKey reports whether row falls within [StartKey, EndKey).
func (r RegionDescriptor) ContainsKey(row Key) bool {
	if row.Less(r.StartKey) {
		return false
	}
	if r.EndKey.IsEmpty() {
		return true
	}
	return row.Less(r.EndKey)
}

func (r RegionDescriptor) String() string {
	end := "+inf"
	if !r.EndKey.IsEmpty() {
		end = r.EndKey.String()
	}
	return fmt.Sprintf("%s[%s,%s)", r.RegionName, r.StartKey, end)
}

// RegionLocation pairs a region descriptor with the address of the
// server currently responsible for it.
type RegionLocation struct {
	Region        RegionDescriptor
	ServerAddress string
}

func (l RegionLocation) String() string {
	return fmt.Sprintf("%s@%s", l.Region, l.ServerAddress)
}

// CatalogRow is one row of the root or meta catalog table: a region
// descriptor plus (if assigned) the serving address. Server is empty
// when the region has not yet been assigned to a server.
type CatalogRow struct {
	Region RegionDescriptor
	Server string
}

// Assigned reports whether the row carries a server assignment.
func (c CatalogRow) Assigned() bool {
	return c.Server != ""
}
