// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package schema

import (
	"database/sql/driver"

	"github.com/marcboeker/go-duckdb"
)

// FlowRow is one enriched flow, ready for the store appender. Field
// order follows Columns().
type FlowRow struct {
	Version            uint32
	Observe            string
	STime              uint64
	ETime              uint64
	Dur                uint64
	RTT                uint64
	PCR                int32
	Proto              string
	Addr               string
	RAddr              string
	Port               uint16
	RPort              uint16
	IFlags             string
	UFlags             string
	TCPSeq             uint32
	RTCPSeq            uint32
	VLAN               uint16
	RVLAN              uint16
	Pkts               uint64
	RPkts              uint64
	Bytes              uint64
	RBytes             uint64
	Entropy            uint8
	REntropy           uint8
	IATMean            uint64
	RIATMean           uint64
	IATStdev           uint64
	RIATStdev          uint64
	SPD                string
	SmallPktCnt        uint32
	RSmallPktCnt       uint32
	LargePktCnt        uint32
	RLargePktCnt       uint32
	NonEmptyPktCnt     uint32
	RNonEmptyPktCnt    uint32
	FirstNonEmptySize  uint16
	RFirstNonEmptySize uint16
	MaxPktSize         uint16
	RMaxPktSize        uint16
	StdevPayload       uint16
	RStdevPayload      uint16
	Reason             string
	MAC                string
	RMAC               string
	Country            string
	RCountry           string
	ASN                uint32
	RASN               uint32
	ASNOrg             string
	RASNOrg            string
	Orient             string
	Tags               []string
	AnomalyScore       float64
	AnomalyMap         map[string]float64
	AppID              string
	Category           string
	RiskBits           uint64
	RiskScore          uint32
	RiskSeverity       uint8
	RiskList           []string
	Trigger            int8
}

// Values returns the row as appender values, in Columns() order. The
// row identifier is NULL until the bulk assignment at final close.
func (row *FlowRow) Values() []driver.Value {
	tags := row.Tags
	if tags == nil {
		tags = []string{}
	}
	risks := row.RiskList
	if risks == nil {
		risks = []string{}
	}
	anomalies := duckdb.Map{}
	for k, v := range row.AnomalyMap {
		anomalies[k] = v
	}
	return []driver.Value{
		row.Version,
		nil, // id
		row.Observe,
		row.STime,
		row.ETime,
		row.Dur,
		row.RTT,
		row.PCR,
		row.Proto,
		row.Addr,
		row.RAddr,
		row.Port,
		row.RPort,
		row.IFlags,
		row.UFlags,
		row.TCPSeq,
		row.RTCPSeq,
		row.VLAN,
		row.RVLAN,
		row.Pkts,
		row.RPkts,
		row.Bytes,
		row.RBytes,
		row.Entropy,
		row.REntropy,
		row.IATMean,
		row.RIATMean,
		row.IATStdev,
		row.RIATStdev,
		row.SPD,
		row.SmallPktCnt,
		row.RSmallPktCnt,
		row.LargePktCnt,
		row.RLargePktCnt,
		row.NonEmptyPktCnt,
		row.RNonEmptyPktCnt,
		row.FirstNonEmptySize,
		row.RFirstNonEmptySize,
		row.MaxPktSize,
		row.RMaxPktSize,
		row.StdevPayload,
		row.RStdevPayload,
		row.Reason,
		row.MAC,
		row.RMAC,
		row.Country,
		row.RCountry,
		row.ASN,
		row.RASN,
		row.ASNOrg,
		row.RASNOrg,
		row.Orient,
		tags,
		row.AnomalyScore,
		anomalies,
		row.AppID,
		row.Category,
		row.RiskBits,
		row.RiskScore,
		row.RiskSeverity,
		risks,
		row.Trigger,
	}
}
