// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package decoder

import "encoding/binary"

// EncodeRecord encodes a record to its wire form. Only used in tests:
// in production the metering process is the only writer.
func EncodeRecord(record *FlowRecord) []byte {
	buf := make([]byte, RecordLength)
	binary.BigEndian.PutUint64(buf[0:], record.FlowStartMilliseconds)
	binary.BigEndian.PutUint64(buf[8:], record.FlowEndMilliseconds)
	binary.BigEndian.PutUint32(buf[16:], uint32(record.ReverseFlowDeltaMilliseconds))
	buf[20] = record.ProtocolIdentifier
	buf[21] = record.FlowEndReason
	binary.BigEndian.PutUint16(buf[22:], record.VlanID)
	binary.BigEndian.PutUint16(buf[24:], record.ReverseVlanID)
	binary.BigEndian.PutUint16(buf[26:], record.SourceTransportPort)
	binary.BigEndian.PutUint16(buf[28:], record.DestinationTransportPort)
	copy(buf[30:46], record.SourceIPv6Address[:])
	copy(buf[46:62], record.DestinationIPv6Address[:])
	binary.BigEndian.PutUint32(buf[62:], record.SourceIPv4Address)
	binary.BigEndian.PutUint32(buf[66:], record.DestinationIPv4Address)
	buf[70] = record.InitialTCPFlags
	buf[71] = record.ReverseInitialTCPFlags
	buf[72] = record.UnionTCPFlags
	buf[73] = record.ReverseUnionTCPFlags
	binary.BigEndian.PutUint32(buf[74:], record.TCPSequenceNumber)
	binary.BigEndian.PutUint32(buf[78:], record.ReverseTCPSequenceNumber)
	binary.BigEndian.PutUint64(buf[82:], record.PacketTotalCount)
	binary.BigEndian.PutUint64(buf[90:], record.ReversePacketTotalCount)
	binary.BigEndian.PutUint64(buf[98:], record.OctetTotalCount)
	binary.BigEndian.PutUint64(buf[106:], record.ReverseOctetTotalCount)
	buf[114] = record.PayloadEntropy
	buf[115] = record.ReversePayloadEntropy
	binary.BigEndian.PutUint64(buf[116:], record.AverageInterarrivalTime)
	binary.BigEndian.PutUint64(buf[124:], record.ReverseAverageInterarrival)
	binary.BigEndian.PutUint64(buf[132:], record.StdevInterarrivalTime)
	binary.BigEndian.PutUint64(buf[140:], record.ReverseStdevInterarrival)
	buf[148] = record.PacketDirections
	binary.BigEndian.PutUint32(buf[149:], record.SmallPacketCount)
	binary.BigEndian.PutUint32(buf[153:], record.ReverseSmallPacketCount)
	binary.BigEndian.PutUint32(buf[157:], record.LargePacketCount)
	binary.BigEndian.PutUint32(buf[161:], record.ReverseLargePacketCount)
	binary.BigEndian.PutUint32(buf[165:], record.NonEmptyPacketCount)
	binary.BigEndian.PutUint32(buf[169:], record.ReverseNonEmptyPacketCount)
	binary.BigEndian.PutUint16(buf[173:], record.FirstNonEmptyPacketSize)
	binary.BigEndian.PutUint16(buf[175:], record.ReverseFirstNonEmptySize)
	binary.BigEndian.PutUint16(buf[177:], record.MaxPacketSize)
	binary.BigEndian.PutUint16(buf[179:], record.ReverseMaxPacketSize)
	binary.BigEndian.PutUint16(buf[181:], record.StdevPayloadLength)
	binary.BigEndian.PutUint16(buf[183:], record.ReverseStdevPayloadLength)
	copy(buf[185:191], record.SourceMacAddress[:])
	copy(buf[191:197], record.DestinationMacAddress[:])
	binary.BigEndian.PutUint16(buf[197:], record.DPIMasterID)
	binary.BigEndian.PutUint16(buf[199:], record.DPISubID)
	binary.BigEndian.PutUint64(buf[201:], record.DPIRiskBits)
	binary.BigEndian.PutUint32(buf[209:], record.SegmentID)
	for i := range record.MPLSLabels {
		binary.BigEndian.PutUint32(buf[213+4*i:], record.MPLSLabels[i])
	}
	return buf
}

// EncodeMessage frames the provided records into one message.
func EncodeMessage(records ...*FlowRecord) []byte {
	payload := []byte{}
	for _, record := range records {
		payload = append(payload, EncodeRecord(record)...)
	}
	buf := make([]byte, HeaderLength, HeaderLength+len(payload))
	binary.BigEndian.PutUint16(buf[0:], MessageMagic)
	binary.BigEndian.PutUint16(buf[2:], MessageVersion)
	binary.BigEndian.PutUint32(buf[4:], uint32(len(payload)))
	return append(buf, payload...)
}
