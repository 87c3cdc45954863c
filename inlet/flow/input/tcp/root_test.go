// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package tcp

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"flowsift/common/reporter"
	"flowsift/inlet/flow/decoder"
)

func startInput(t *testing.T) *Input {
	t.Helper()
	r := reporter.NewMock(t)
	config := DefaultConfiguration()
	config.Listen = "127.0.0.1:0"
	config.ReadTimeout = 50 * time.Millisecond
	in, err := config.New(r)
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	if err := in.Open(); err != nil {
		t.Fatalf("Open() error:\n%+v", err)
	}
	t.Cleanup(func() { in.Close() })
	return in.(*Input)
}

// drain pulls from the input until the predicate returns true or the
// deadline expires.
func drain(t *testing.T, in *Input, done func(*decoder.FlowRecord, error) (bool, error)) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, err := in.Next()
		if errors.Is(err, decoder.ErrNoData) || errors.Is(err, decoder.ErrEndOfMessage) {
			continue
		}
		ok, fatal := done(record, err)
		if fatal != nil {
			t.Fatalf("Next() error:\n%+v", fatal)
		}
		if ok {
			return
		}
	}
	t.Fatal("timeout waiting for records")
}

func TestListenerReceive(t *testing.T) {
	in := startInput(t)

	conn, err := net.Dial("tcp", in.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial() error:\n%+v", err)
	}
	defer conn.Close()
	record := &decoder.FlowRecord{
		ProtocolIdentifier:     17,
		SourceIPv4Address:      0xc0000201,
		DestinationIPv4Address: 0xcb007101,
	}
	if _, err := conn.Write(decoder.EncodeMessage(record, record)); err != nil {
		t.Fatalf("Write() error:\n%+v", err)
	}

	got := 0
	drain(t, in, func(record *decoder.FlowRecord, err error) (bool, error) {
		if err != nil {
			return false, err
		}
		got++
		return got == 2, nil
	})
}

func TestListenerPeerClose(t *testing.T) {
	in := startInput(t)

	conn, err := net.Dial("tcp", in.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial() error:\n%+v", err)
	}
	record := &decoder.FlowRecord{ProtocolIdentifier: 6, DestinationIPv4Address: 1}
	if _, err := conn.Write(decoder.EncodeMessage(record)); err != nil {
		t.Fatalf("Write() error:\n%+v", err)
	}
	conn.Close()

	sawRecord := false
	drain(t, in, func(record *decoder.FlowRecord, err error) (bool, error) {
		if err == nil {
			sawRecord = true
			return false, nil
		}
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		return false, err
	})
	if !sawRecord {
		t.Error("no record received before peer close")
	}

	// The listener accepts a new connection after a peer close.
	conn, err = net.Dial("tcp", in.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial() after close error:\n%+v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(decoder.EncodeMessage(record)); err != nil {
		t.Fatalf("Write() error:\n%+v", err)
	}
	drain(t, in, func(record *decoder.FlowRecord, err error) (bool, error) {
		if err == nil {
			return true, nil
		}
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	})
}

func TestListenerOversized(t *testing.T) {
	in := startInput(t)

	conn, err := net.Dial("tcp", in.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial() error:\n%+v", err)
	}
	defer conn.Close()
	// Announce an oversized payload.
	header := []byte{0x46, 0x53, 0x00, 0x01, 0xff, 0xff, 0xff, 0xff}
	if _, err := conn.Write(header); err != nil {
		t.Fatalf("Write() error:\n%+v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, err := in.Next()
		if errors.Is(err, decoder.ErrNoData) {
			continue
		}
		if errors.Is(err, decoder.ErrMessageOversized) {
			// Connection was dropped, the listener accepts again.
			if in.conn != nil {
				t.Error("connection should have been dropped")
			}
			return
		}
		if err != nil {
			t.Fatalf("Next() error:\n%+v", err)
		}
	}
	t.Fatal("timeout waiting for oversized classification")
}

func TestListenerNoData(t *testing.T) {
	in := startInput(t)
	if _, err := in.Next(); !errors.Is(err, decoder.ErrNoData) {
		t.Fatalf("Next() error %v, expected ErrNoData", err)
	}
}
