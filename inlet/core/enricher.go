// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package core

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strings"

	"flowsift/common/schema"
	"flowsift/inlet/dpi"
	"flowsift/inlet/flow/decoder"
)

// errSkippedRecord marks a record the transform drops on purpose. It
// is counted separately from errors and written rows.
var errSkippedRecord = errors.New("record skipped")

// protocolNumbers maps IP protocol numbers to their names. Numbers
// absent from the table render as their decimal value.
var protocolNumbers = map[uint8]string{
	1:   "icmp",
	2:   "igmp",
	6:   "tcp",
	17:  "udp",
	41:  "ipv6",
	47:  "gre",
	50:  "esp",
	51:  "ah",
	58:  "ipv6-icmp",
	89:  "ospf",
	103: "pim",
	112: "vrrp",
	115: "l2tp",
	132: "sctp",
}

func protoName(number uint8) string {
	if name, ok := protocolNumbers[number]; ok {
		return name
	}
	return fmt.Sprintf("%d", number)
}

// tcpFlags is the rendering order of the flag strings: one uppercase
// slot for the forward direction, one lowercase slot for the reverse.
var tcpFlags = []struct {
	bit   uint8
	upper byte
	lower byte
}{
	{0x02, 'S', 's'},
	{0x10, 'A', 'a'},
	{0x04, 'R', 'r'},
	{0x01, 'F', 'f'},
	{0x40, 'E', 'e'},
	{0x80, 'C', 'c'},
	{0x20, 'U', 'u'},
	{0x08, 'P', 'p'},
}

func tcpFlagString(forward, reverse uint8) string {
	var out [16]byte
	for i, flag := range tcpFlags {
		out[2*i], out[2*i+1] = '.', '.'
		if forward&flag.bit != 0 {
			out[2*i] = flag.upper
		}
		if reverse&flag.bit != 0 {
			out[2*i+1] = flag.lower
		}
	}
	return string(out[:])
}

// directionString renders the first-eight-non-empty-packet-directions
// bitmap, most-significant bit first.
func directionString(directions uint8) string {
	var out [8]byte
	for i := range out {
		if directions&(1<<(7-i)) != 0 {
			out[i] = '1'
		} else {
			out[i] = '0'
		}
	}
	return string(out[:])
}

var endReasons = map[uint8]string{
	1: "idle",
	2: "active",
	3: "eof",
	4: "rsrc",
	5: "force",
}

func endReason(code uint8) string {
	if reason, ok := endReasons[code&0x7f]; ok {
		return reason
	}
	return "."
}

// pcrTenths computes the producer-consumer ratio scaled to tenths:
// (forward − reverse) / (forward + reverse) × 10, rounded to nearest.
// Defined as 0 when both counts are 0.
func pcrTenths(forward, reverse uint64) int32 {
	if forward == 0 && reverse == 0 {
		return 0
	}
	ratio := (float64(forward) - float64(reverse)) / (float64(forward) + float64(reverse))
	return int32(math.Round(10 * ratio))
}

func macString(mac [6]byte) string {
	return net.HardwareAddr(mac[:]).String()
}

// endpoint resolves the country label, ASN and organization for one
// endpoint. Non-public addresses never reach the geolocation
// collaborator; lookup misses degrade to default labels.
func (c *Component) endpoint(ip netip.Addr) (country string, asn uint32, org string) {
	switch classify(ip) {
	case classBroadcast:
		return "broadcast", 0, "broadcast"
	case classMulticast:
		return "multicast", 0, "multicast"
	case classPrivate:
		return "private", syntheticASN(ip), "private"
	}
	country, asn, org = "unk", 0, "na"
	if c.d.GeoIP != nil {
		if iso := c.d.GeoIP.LookupCountry(ip); iso != "" {
			country = strings.ToLower(iso)
		}
		if number, name := c.d.GeoIP.LookupASN(ip); number != 0 {
			asn = number
			if name != "" {
				org = strings.ToLower(name)
			}
		}
	}
	return country, asn, org
}

// enrich turns one decoded record into a row ready for the store, or
// signals a skip. It mutates nothing but the collaborators' counters.
func (c *Component) enrich(record *decoder.FlowRecord) (*schema.FlowRow, error) {
	if record == nil {
		return nil, errors.New("nil flow record")
	}
	if record.ProtocolIdentifier == 0 && record.DestinationIPv4Address == 0 {
		// IPv6 hop-by-hop option artifact of the metering process.
		return nil, errSkippedRecord
	}

	source := record.SourceAddr()
	destination := record.DestinationAddr()
	sourceCountry, sourceASN, sourceOrg := c.endpoint(source)
	destCountry, destASN, destOrg := c.endpoint(destination)
	orient := string([]byte{orientChar(classify(source)), orientChar(classify(destination))})

	appID := c.d.DPI.AppID(record.DPIMasterID, record.DPISubID)
	category := c.d.DPI.Category(record.DPIMasterID, record.DPISubID)
	if category == dpi.CategoryVPN {
		appID = "vpn." + appID
	}
	var score uint32
	var riskList []string
	if record.DPIRiskBits != 0 {
		score = c.d.DPI.RiskScore(record.DPIRiskBits)
		riskList = c.d.DPI.RiskNames(record.DPIRiskBits)
	}

	var duration uint64
	if record.FlowEndMilliseconds > record.FlowStartMilliseconds {
		duration = record.FlowEndMilliseconds - record.FlowStartMilliseconds
	}
	var rtt uint64
	if record.ReverseFlowDeltaMilliseconds > 0 {
		rtt = uint64(record.ReverseFlowDeltaMilliseconds)
	}

	return &schema.FlowRow{
		Version:            schema.Version,
		Observe:            c.config.Observe,
		STime:              record.FlowStartMilliseconds,
		ETime:              record.FlowEndMilliseconds,
		Dur:                duration,
		RTT:                rtt,
		PCR:                pcrTenths(record.OctetTotalCount, record.ReverseOctetTotalCount),
		Proto:              protoName(record.ProtocolIdentifier),
		Addr:               source.String(),
		RAddr:              destination.String(),
		Port:               record.SourceTransportPort,
		RPort:              record.DestinationTransportPort,
		IFlags:             tcpFlagString(record.InitialTCPFlags, record.ReverseInitialTCPFlags),
		UFlags:             tcpFlagString(record.UnionTCPFlags, record.ReverseUnionTCPFlags),
		TCPSeq:             record.TCPSequenceNumber,
		RTCPSeq:            record.ReverseTCPSequenceNumber,
		VLAN:               record.VlanID,
		RVLAN:              record.ReverseVlanID,
		Pkts:               record.PacketTotalCount,
		RPkts:              record.ReversePacketTotalCount,
		Bytes:              record.OctetTotalCount,
		RBytes:             record.ReverseOctetTotalCount,
		Entropy:            record.PayloadEntropy,
		REntropy:           record.ReversePayloadEntropy,
		IATMean:            record.AverageInterarrivalTime,
		RIATMean:           record.ReverseAverageInterarrival,
		IATStdev:           record.StdevInterarrivalTime,
		RIATStdev:          record.ReverseStdevInterarrival,
		SPD:                directionString(record.PacketDirections),
		SmallPktCnt:        record.SmallPacketCount,
		RSmallPktCnt:       record.ReverseSmallPacketCount,
		LargePktCnt:        record.LargePacketCount,
		RLargePktCnt:       record.ReverseLargePacketCount,
		NonEmptyPktCnt:     record.NonEmptyPacketCount,
		RNonEmptyPktCnt:    record.ReverseNonEmptyPacketCount,
		FirstNonEmptySize:  record.FirstNonEmptyPacketSize,
		RFirstNonEmptySize: record.ReverseFirstNonEmptySize,
		MaxPktSize:         record.MaxPacketSize,
		RMaxPktSize:        record.ReverseMaxPacketSize,
		StdevPayload:       record.StdevPayloadLength,
		RStdevPayload:      record.ReverseStdevPayloadLength,
		Reason:             endReason(record.FlowEndReason),
		MAC:                macString(record.SourceMacAddress),
		RMAC:               macString(record.DestinationMacAddress),
		Country:            sourceCountry,
		RCountry:           destCountry,
		ASN:                sourceASN,
		RASN:               destASN,
		ASNOrg:             sourceOrg,
		RASNOrg:            destOrg,
		Orient:             orient,
		AppID:              appID,
		Category:           category,
		RiskBits:           record.DPIRiskBits,
		RiskScore:          score,
		RiskSeverity:       c.d.DPI.RiskSeverity(score),
		RiskList:           riskList,
		Trigger:            c.d.DPI.Trigger(score),
	}, nil
}
