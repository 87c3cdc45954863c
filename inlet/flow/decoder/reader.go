// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Message framing constants. Each message is an 8-byte header followed
// by a payload holding a whole number of records.
const (
	MessageMagic   uint16 = 0x4653
	MessageVersion uint16 = 1
	// HeaderLength is the size of the message header.
	HeaderLength = 8
	// MaxMessageLength bounds the payload size a peer may announce.
	MaxMessageLength = 1 << 20
)

// Sentinel errors classifying the outcome of a read attempt. Anything
// else returned by Next is a connection/read error.
var (
	// ErrEndOfMessage is returned once when the current message is
	// drained. More data may arrive on the same stream.
	ErrEndOfMessage = errors.New("end of message")
	// ErrNoData is returned when a non-blocking read yielded
	// nothing yet.
	ErrNoData = errors.New("no data available")
	// ErrMessageOversized is returned when a peer announces a
	// payload larger than MaxMessageLength.
	ErrMessageOversized = errors.New("message oversized")
	// ErrMalformed is returned when a message cannot be understood.
	ErrMalformed = errors.New("malformed message")
)

// Reader decodes framed flow records from a stream. A read deadline
// may expire in the middle of a header or payload; the bytes already
// consumed are retained and the read resumes on the next call, so a
// slow peer never desynchronizes the stream.
type Reader struct {
	r           io.Reader
	header      [HeaderLength]byte
	headerFill  int
	payload     []byte
	payloadFill int
	filling     bool
	offset      int
	drained     bool
}

// NewReader creates a Reader decoding records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next record from the current message, or a
// classification error: ErrEndOfMessage, ErrNoData, io.EOF,
// ErrMessageOversized, ErrMalformed. Any other error is a read error.
func (d *Reader) Next() (*FlowRecord, error) {
	if !d.filling && d.offset < len(d.payload) {
		record, err := Decode(d.payload[d.offset:])
		if err != nil {
			return nil, err
		}
		d.offset += RecordLength
		if d.offset >= len(d.payload) {
			d.drained = true
		}
		return record, nil
	}
	if d.drained {
		// Report the message boundary once, then read a new header.
		d.drained = false
		d.payload = d.payload[:0]
		d.offset = 0
		return nil, ErrEndOfMessage
	}

	if !d.filling {
		n, err := io.ReadFull(d.r, d.header[d.headerFill:])
		d.headerFill += n
		if err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				// Deadline mid-header: resume from the same
				// offset on the next call.
				return nil, ErrNoData
			case errors.Is(err, io.EOF) && d.headerFill == 0:
				return nil, io.EOF
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				return nil, fmt.Errorf("%w: truncated header", ErrMalformed)
			default:
				return nil, err
			}
		}
		d.headerFill = 0
		magic := binary.BigEndian.Uint16(d.header[0:])
		version := binary.BigEndian.Uint16(d.header[2:])
		length := binary.BigEndian.Uint32(d.header[4:])
		if magic != MessageMagic {
			return nil, fmt.Errorf("%w: bad magic %#04x", ErrMalformed, magic)
		}
		if version != MessageVersion {
			return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, version)
		}
		if length > MaxMessageLength {
			return nil, fmt.Errorf("%w: %d bytes announced", ErrMessageOversized, length)
		}
		if length%RecordLength != 0 {
			return nil, fmt.Errorf("%w: payload of %d bytes is not a whole number of records",
				ErrMalformed, length)
		}
		if length == 0 {
			return nil, ErrEndOfMessage
		}
		if cap(d.payload) < int(length) {
			d.payload = make([]byte, length)
		} else {
			d.payload = d.payload[:length]
		}
		d.payloadFill = 0
		d.filling = true
	}

	n, err := io.ReadFull(d.r, d.payload[d.payloadFill:])
	d.payloadFill += n
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			// Deadline mid-payload: resume on the next call.
			return nil, ErrNoData
		}
		// A truncated payload after a valid header is a stream
		// failure, not a tolerable condition.
		return nil, fmt.Errorf("truncated message payload: %w", err)
	}
	d.filling = false
	d.offset = 0
	return d.Next()
}
