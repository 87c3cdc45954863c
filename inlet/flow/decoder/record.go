// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package decoder turns the binary records produced by the flow
// metering process into FlowRecord values.
//
// The record layout is a wire contract with the metering process: a
// packed big-endian template of fixed offsets and sizes. The template
// is spelled out explicitly and validated at startup instead of being
// assumed from a struct layout.
package decoder

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// RecordLength is the size in bytes of one encoded flow record.
const RecordLength = 225

// Field describes one field of the record template.
type Field struct {
	Name   string
	Offset int
	Size   int
}

// Template is the wire layout of a record, in offset order.
func Template() []Field {
	return []Field{
		{"flowStartMilliseconds", 0, 8},
		{"flowEndMilliseconds", 8, 8},
		{"reverseFlowDeltaMilliseconds", 16, 4},
		{"protocolIdentifier", 20, 1},
		{"flowEndReason", 21, 1},
		{"vlanId", 22, 2},
		{"reverseVlanId", 24, 2},
		{"sourceTransportPort", 26, 2},
		{"destinationTransportPort", 28, 2},
		{"sourceIPv6Address", 30, 16},
		{"destinationIPv6Address", 46, 16},
		{"sourceIPv4Address", 62, 4},
		{"destinationIPv4Address", 66, 4},
		{"initialTCPFlags", 70, 1},
		{"reverseInitialTCPFlags", 71, 1},
		{"unionTCPFlags", 72, 1},
		{"reverseUnionTCPFlags", 73, 1},
		{"tcpSequenceNumber", 74, 4},
		{"reverseTcpSequenceNumber", 78, 4},
		{"packetTotalCount", 82, 8},
		{"reversePacketTotalCount", 90, 8},
		{"octetTotalCount", 98, 8},
		{"reverseOctetTotalCount", 106, 8},
		{"payloadEntropy", 114, 1},
		{"reversePayloadEntropy", 115, 1},
		{"averageInterarrivalTime", 116, 8},
		{"reverseAverageInterarrivalTime", 124, 8},
		{"standardDeviationInterarrivalTime", 132, 8},
		{"reverseStandardDeviationInterarrivalTime", 140, 8},
		{"firstEightNonEmptyPacketDirections", 148, 1},
		{"smallPacketCount", 149, 4},
		{"reverseSmallPacketCount", 153, 4},
		{"largePacketCount", 157, 4},
		{"reverseLargePacketCount", 161, 4},
		{"nonEmptyPacketCount", 165, 4},
		{"reverseNonEmptyPacketCount", 169, 4},
		{"firstNonEmptyPacketSize", 173, 2},
		{"reverseFirstNonEmptyPacketSize", 175, 2},
		{"maxPacketSize", 177, 2},
		{"reverseMaxPacketSize", 179, 2},
		{"standardDeviationPayloadLength", 181, 2},
		{"reverseStandardDeviationPayloadLength", 183, 2},
		{"sourceMacAddress", 185, 6},
		{"destinationMacAddress", 191, 6},
		{"dpiMasterId", 197, 2},
		{"dpiSubId", 199, 2},
		{"dpiRiskBits", 201, 8},
		{"segmentId", 209, 4},
		{"mplsLabels", 213, 12},
	}
}

// ValidateTemplate checks the template is contiguous, starts at offset
// 0 and covers exactly RecordLength bytes. It is run at startup: a
// mismatch means this build disagrees with the metering process.
func ValidateTemplate() error {
	next := 0
	for _, field := range Template() {
		if field.Offset != next {
			return fmt.Errorf("field %s at offset %d, expected %d", field.Name, field.Offset, next)
		}
		if field.Size <= 0 {
			return fmt.Errorf("field %s has invalid size %d", field.Name, field.Size)
		}
		next = field.Offset + field.Size
	}
	if next != RecordLength {
		return fmt.Errorf("template covers %d bytes, expected %d", next, RecordLength)
	}
	return nil
}

// FlowRecord is one decoded flow record. It is immutable once decoded.
type FlowRecord struct {
	FlowStartMilliseconds        uint64
	FlowEndMilliseconds          uint64
	ReverseFlowDeltaMilliseconds int32
	ProtocolIdentifier           uint8
	FlowEndReason                uint8
	VlanID                       uint16
	ReverseVlanID                uint16
	SourceTransportPort          uint16
	DestinationTransportPort     uint16
	SourceIPv6Address            [16]byte
	DestinationIPv6Address       [16]byte
	SourceIPv4Address            uint32
	DestinationIPv4Address       uint32
	InitialTCPFlags              uint8
	ReverseInitialTCPFlags       uint8
	UnionTCPFlags                uint8
	ReverseUnionTCPFlags         uint8
	TCPSequenceNumber            uint32
	ReverseTCPSequenceNumber     uint32
	PacketTotalCount             uint64
	ReversePacketTotalCount      uint64
	OctetTotalCount              uint64
	ReverseOctetTotalCount       uint64
	PayloadEntropy               uint8
	ReversePayloadEntropy        uint8
	AverageInterarrivalTime      uint64
	ReverseAverageInterarrival   uint64
	StdevInterarrivalTime        uint64
	ReverseStdevInterarrival     uint64
	PacketDirections             uint8
	SmallPacketCount             uint32
	ReverseSmallPacketCount      uint32
	LargePacketCount             uint32
	ReverseLargePacketCount      uint32
	NonEmptyPacketCount          uint32
	ReverseNonEmptyPacketCount   uint32
	FirstNonEmptyPacketSize      uint16
	ReverseFirstNonEmptySize     uint16
	MaxPacketSize                uint16
	ReverseMaxPacketSize         uint16
	StdevPayloadLength           uint16
	ReverseStdevPayloadLength    uint16
	SourceMacAddress             [6]byte
	DestinationMacAddress        [6]byte
	DPIMasterID                  uint16
	DPISubID                     uint16
	DPIRiskBits                  uint64
	SegmentID                    uint32
	MPLSLabels                   [3]uint32
}

// Decode decodes one record from buf. buf must hold at least
// RecordLength bytes.
func Decode(buf []byte) (*FlowRecord, error) {
	if len(buf) < RecordLength {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrMalformed, len(buf), RecordLength)
	}
	record := FlowRecord{
		FlowStartMilliseconds:        binary.BigEndian.Uint64(buf[0:]),
		FlowEndMilliseconds:          binary.BigEndian.Uint64(buf[8:]),
		ReverseFlowDeltaMilliseconds: int32(binary.BigEndian.Uint32(buf[16:])),
		ProtocolIdentifier:           buf[20],
		FlowEndReason:                buf[21],
		VlanID:                       binary.BigEndian.Uint16(buf[22:]),
		ReverseVlanID:                binary.BigEndian.Uint16(buf[24:]),
		SourceTransportPort:          binary.BigEndian.Uint16(buf[26:]),
		DestinationTransportPort:     binary.BigEndian.Uint16(buf[28:]),
		SourceIPv4Address:            binary.BigEndian.Uint32(buf[62:]),
		DestinationIPv4Address:       binary.BigEndian.Uint32(buf[66:]),
		InitialTCPFlags:              buf[70],
		ReverseInitialTCPFlags:       buf[71],
		UnionTCPFlags:                buf[72],
		ReverseUnionTCPFlags:         buf[73],
		TCPSequenceNumber:            binary.BigEndian.Uint32(buf[74:]),
		ReverseTCPSequenceNumber:     binary.BigEndian.Uint32(buf[78:]),
		PacketTotalCount:             binary.BigEndian.Uint64(buf[82:]),
		ReversePacketTotalCount:      binary.BigEndian.Uint64(buf[90:]),
		OctetTotalCount:              binary.BigEndian.Uint64(buf[98:]),
		ReverseOctetTotalCount:       binary.BigEndian.Uint64(buf[106:]),
		PayloadEntropy:               buf[114],
		ReversePayloadEntropy:        buf[115],
		AverageInterarrivalTime:      binary.BigEndian.Uint64(buf[116:]),
		ReverseAverageInterarrival:   binary.BigEndian.Uint64(buf[124:]),
		StdevInterarrivalTime:        binary.BigEndian.Uint64(buf[132:]),
		ReverseStdevInterarrival:     binary.BigEndian.Uint64(buf[140:]),
		PacketDirections:             buf[148],
		SmallPacketCount:             binary.BigEndian.Uint32(buf[149:]),
		ReverseSmallPacketCount:      binary.BigEndian.Uint32(buf[153:]),
		LargePacketCount:             binary.BigEndian.Uint32(buf[157:]),
		ReverseLargePacketCount:      binary.BigEndian.Uint32(buf[161:]),
		NonEmptyPacketCount:          binary.BigEndian.Uint32(buf[165:]),
		ReverseNonEmptyPacketCount:   binary.BigEndian.Uint32(buf[169:]),
		FirstNonEmptyPacketSize:      binary.BigEndian.Uint16(buf[173:]),
		ReverseFirstNonEmptySize:     binary.BigEndian.Uint16(buf[175:]),
		MaxPacketSize:                binary.BigEndian.Uint16(buf[177:]),
		ReverseMaxPacketSize:         binary.BigEndian.Uint16(buf[179:]),
		StdevPayloadLength:           binary.BigEndian.Uint16(buf[181:]),
		ReverseStdevPayloadLength:    binary.BigEndian.Uint16(buf[183:]),
		DPIMasterID:                  binary.BigEndian.Uint16(buf[197:]),
		DPISubID:                     binary.BigEndian.Uint16(buf[199:]),
		DPIRiskBits:                  binary.BigEndian.Uint64(buf[201:]),
		SegmentID:                    binary.BigEndian.Uint32(buf[209:]),
	}
	copy(record.SourceIPv6Address[:], buf[30:46])
	copy(record.DestinationIPv6Address[:], buf[46:62])
	copy(record.SourceMacAddress[:], buf[185:191])
	copy(record.DestinationMacAddress[:], buf[191:197])
	for i := range record.MPLSLabels {
		record.MPLSLabels[i] = binary.BigEndian.Uint32(buf[213+4*i:])
	}
	return &record, nil
}

// SourceAddr returns the source address, preferring IPv4 when set.
func (record *FlowRecord) SourceAddr() netip.Addr {
	if record.SourceIPv4Address != 0 {
		var v4 [4]byte
		binary.BigEndian.PutUint32(v4[:], record.SourceIPv4Address)
		return netip.AddrFrom4(v4)
	}
	return netip.AddrFrom16(record.SourceIPv6Address).Unmap()
}

// DestinationAddr returns the destination address, preferring IPv4 when set.
func (record *FlowRecord) DestinationAddr() netip.Addr {
	if record.DestinationIPv4Address != 0 {
		var v4 [4]byte
		binary.BigEndian.PutUint32(v4[:], record.DestinationIPv4Address)
		return netip.AddrFrom4(v4)
	}
	return netip.AddrFrom16(record.DestinationIPv6Address).Unmap()
}
