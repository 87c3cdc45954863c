// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package schema defines the versioned layout of enriched flow rows.
//
// The layout is shared between the enrichment transform, the rotating
// store and downstream consumers of the published files. Any change to
// the column set must bump Version so consumers can detect it.
package schema

import (
	"fmt"
	"strings"
)

// Version is stamped on every row. Bump on any incompatible layout change.
const Version uint32 = 5

// TableName is the name of the row-store table holding one rotation epoch.
const TableName = "flow"

// Column describes one column of the flow table.
type Column struct {
	Name string
	Type string
}

// Columns returns the ordered column set of the flow table. The order
// is also the order used by the store appender.
func Columns() []Column {
	return []Column{
		{"version", "UINTEGER"},
		{"id", "UUID"},
		{"observe", "VARCHAR"},
		{"stime", "UBIGINT"},
		{"etime", "UBIGINT"},
		{"dur", "UBIGINT"},
		{"rtt", "UBIGINT"},
		{"pcr", "INTEGER"},
		{"proto", "VARCHAR"},
		{"addr", "VARCHAR"},
		{"raddr", "VARCHAR"},
		{"port", "USMALLINT"},
		{"rport", "USMALLINT"},
		{"iflags", "VARCHAR"},
		{"uflags", "VARCHAR"},
		{"tcpseq", "UINTEGER"},
		{"rtcpseq", "UINTEGER"},
		{"vlan", "USMALLINT"},
		{"rvlan", "USMALLINT"},
		{"pkts", "UBIGINT"},
		{"rpkts", "UBIGINT"},
		{"bytes", "UBIGINT"},
		{"rbytes", "UBIGINT"},
		{"entropy", "UTINYINT"},
		{"rentropy", "UTINYINT"},
		{"iatmean", "UBIGINT"},
		{"riatmean", "UBIGINT"},
		{"iatstdev", "UBIGINT"},
		{"riatstdev", "UBIGINT"},
		{"spd", "VARCHAR"},
		{"smallpktcnt", "UINTEGER"},
		{"rsmallpktcnt", "UINTEGER"},
		{"largepktcnt", "UINTEGER"},
		{"rlargepktcnt", "UINTEGER"},
		{"nonemptypktcnt", "UINTEGER"},
		{"rnonemptypktcnt", "UINTEGER"},
		{"firstnonemptysize", "USMALLINT"},
		{"rfirstnonemptysize", "USMALLINT"},
		{"maxpktsize", "USMALLINT"},
		{"rmaxpktsize", "USMALLINT"},
		{"stdevpayload", "USMALLINT"},
		{"rstdevpayload", "USMALLINT"},
		{"reason", "VARCHAR"},
		{"mac", "VARCHAR"},
		{"rmac", "VARCHAR"},
		{"country", "VARCHAR"},
		{"rcountry", "VARCHAR"},
		{"asn", "UINTEGER"},
		{"rasn", "UINTEGER"},
		{"asnorg", "VARCHAR"},
		{"rasnorg", "VARCHAR"},
		{"orient", "VARCHAR"},
		{"tag", "VARCHAR[]"},
		{"anomaly_score", "DOUBLE"},
		{"anomaly_map", "MAP(VARCHAR, DOUBLE)"},
		{"appid", "VARCHAR"},
		{"category", "VARCHAR"},
		{"risk_bits", "UBIGINT"},
		{"risk_score", "UINTEGER"},
		{"risk_severity", "UTINYINT"},
		{"risk_list", "VARCHAR[]"},
		{"trigger", "TINYINT"},
	}
}

// DDL returns the CREATE TABLE statement for the flow table.
func DDL() string {
	columns := Columns()
	defs := make([]string, len(columns))
	for i, column := range columns {
		defs[i] = fmt.Sprintf("%q %s", column.Name, column.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", TableName, strings.Join(defs, ", "))
}
