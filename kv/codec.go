package kv

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tablestore-io/gorange/rpc"
	"github.com/tablestore-io/gorange/storepb"
)

// Wire-level RPC framing is out of scope (spec.md §1); there is no
// protobuf compiler available to generate a real codec from it. This
// is the client-internal stand-in for the regionInfo column's bytes
// that the resolver's decoder and any RegionServerClient/MasterClient
// implementation (including the fake used in tests) must agree on.

const catalogFieldSep = "\x00"

// EncodeRegionInfo serializes a region descriptor into catalog row
// bytes.
func EncodeRegionInfo(d storepb.RegionDescriptor) []byte {
	fields := []string{
		d.RegionName,
		string(d.StartKey),
		string(d.EndKey),
		d.Table.Name,
		strconv.FormatBool(d.Offline),
	}
	return []byte(strings.Join(fields, catalogFieldSep))
}

// DecodeRegionInfo is the inverse of EncodeRegionInfo.
func DecodeRegionInfo(b []byte) (storepb.RegionDescriptor, error) {
	fields := strings.Split(string(b), catalogFieldSep)
	if len(fields) != 5 {
		return storepb.RegionDescriptor{}, fmt.Errorf("malformed regionInfo: got %d fields", len(fields))
	}
	offline, err := strconv.ParseBool(fields[4])
	if err != nil {
		return storepb.RegionDescriptor{}, fmt.Errorf("malformed regionInfo offline flag: %w", err)
	}
	return storepb.RegionDescriptor{
		RegionName: fields[0],
		StartKey:   storepb.Key(fields[1]),
		EndKey:     storepb.Key(fields[2]),
		Table:      storepb.TableDescriptor{Name: fields[3]},
		Offline:    offline,
	}, nil
}

// decodeCatalogRow decodes the {regionInfo, server} columns of one
// catalog row (spec §6 "Catalog row layout").
func decodeCatalogRow(cols []rpc.ColumnValue) (storepb.CatalogRow, error) {
	var row storepb.CatalogRow
	for _, cv := range cols {
		switch cv.Column {
		case "regionInfo":
			desc, err := DecodeRegionInfo(cv.Value)
			if err != nil {
				return storepb.CatalogRow{}, err
			}
			row.Region = desc
		case "server":
			row.Server = string(cv.Value)
		}
	}
	return row, nil
}
