// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package tcp handles a live TCP listener receiving flow records from
// the metering process. A single connection is active at a time; a
// clean peer disconnection puts the listener back into accepting mode.
package tcp

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"flowsift/common/reporter"
	"flowsift/inlet/flow/decoder"
	"flowsift/inlet/flow/input"
)

// Input represents the state of a TCP listener.
type Input struct {
	r         *reporter.Reporter
	config    Configuration
	tlsConfig *tls.Config

	listener *net.TCPListener
	conn     net.Conn
	reader   *decoder.Reader

	metrics struct {
		connections *reporter.CounterVec
		bytes       *reporter.CounterVec
		drops       *reporter.CounterVec
	}
}

var _ input.Configuration = Configuration{}

// New instantiates a new TCP listener from the provided configuration.
func (configuration Configuration) New(r *reporter.Reporter) (input.Input, error) {
	tlsConfig, err := configuration.tlsConfig()
	if err != nil {
		return nil, err
	}
	in := &Input{
		r:         r,
		config:    configuration,
		tlsConfig: tlsConfig,
	}
	in.metrics.connections = r.CounterVec(
		reporter.CounterOpts{
			Name: "connections_total",
			Help: "Connections accepted by the listener.",
		},
		[]string{"listener", "peer"},
	)
	in.metrics.bytes = r.CounterVec(
		reporter.CounterOpts{
			Name: "bytes_total",
			Help: "Bytes received by the listener.",
		},
		[]string{"listener", "peer"},
	)
	in.metrics.drops = r.CounterVec(
		reporter.CounterOpts{
			Name: "dropped_connections_total",
			Help: "Connections dropped after a protocol violation.",
		},
		[]string{"listener", "reason"},
	)
	return in, nil
}

// Open starts listening on the configured address.
func (in *Input) Open() error {
	listenAddr, err := net.ResolveTCPAddr("tcp", in.config.Listen)
	if err != nil {
		return fmt.Errorf("unable to resolve %v: %w", in.config.Listen, err)
	}
	listener, err := net.ListenTCP("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("unable to listen to %v: %w", listenAddr, err)
	}
	in.listener = listener
	in.r.Info().Str("listen", listener.Addr().String()).Msg("TCP listener started")
	return nil
}

// LocalAddr returns the address the listener is bound to.
func (in *Input) LocalAddr() net.Addr {
	return in.listener.Addr()
}

// Next returns the next record from the active connection. When no
// connection is active, it waits for one, bounded by the configured
// read timeout.
func (in *Input) Next() (*decoder.FlowRecord, error) {
	if in.conn == nil {
		if err := in.accept(); err != nil {
			return nil, err
		}
		if in.conn == nil {
			return nil, decoder.ErrNoData
		}
	}

	in.conn.SetReadDeadline(time.Now().Add(in.config.ReadTimeout))
	record, err := in.reader.Next()
	switch {
	case err == nil:
		return record, nil
	case errors.Is(err, decoder.ErrEndOfMessage), errors.Is(err, decoder.ErrNoData):
		return nil, err
	case errors.Is(err, io.EOF):
		// Clean peer disconnection. Await a new connection.
		in.r.Info().Str("peer", in.conn.RemoteAddr().String()).Msg("peer closed connection")
		in.dropConnection()
		return nil, io.EOF
	case errors.Is(err, decoder.ErrMessageOversized):
		in.r.Warn().Str("peer", in.conn.RemoteAddr().String()).
			Err(err).Msg("dropping connection")
		in.metrics.drops.WithLabelValues(in.config.Listen, "oversized").Inc()
		in.dropConnection()
		return nil, err
	default:
		// Malformed messages and read errors end the session.
		in.dropConnection()
		return nil, err
	}
}

// accept waits for a new connection, bounded by the read timeout.
func (in *Input) accept() error {
	in.listener.SetDeadline(time.Now().Add(in.config.ReadTimeout))
	conn, err := in.listener.Accept()
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil
		}
		return err
	}
	if in.tlsConfig != nil {
		tlsConn := tls.Server(conn, in.tlsConfig)
		tlsConn.SetDeadline(time.Now().Add(in.config.ReadTimeout))
		if err := tlsConn.Handshake(); err != nil {
			in.r.Warn().Str("peer", conn.RemoteAddr().String()).
				Err(err).Msg("TLS handshake failed")
			in.metrics.drops.WithLabelValues(in.config.Listen, "tls").Inc()
			conn.Close()
			return nil
		}
		conn = tlsConn
	}
	peer := conn.RemoteAddr().String()
	in.r.Info().Str("peer", peer).Msg("connection accepted")
	in.metrics.connections.WithLabelValues(in.config.Listen, peer).Inc()
	in.conn = conn
	in.reader = decoder.NewReader(&countingReader{
		conn:  conn,
		count: in.metrics.bytes.WithLabelValues(in.config.Listen, peer),
	})
	return nil
}

func (in *Input) dropConnection() {
	if in.conn != nil {
		in.conn.Close()
		in.conn = nil
		in.reader = nil
	}
}

// Live returns true: a listener rotates the store on a timer and
// survives peer disconnections.
func (in *Input) Live() bool {
	return true
}

// Close stops the listener and drops the active connection.
func (in *Input) Close() error {
	in.dropConnection()
	if in.listener == nil {
		return nil
	}
	err := in.listener.Close()
	in.listener = nil
	in.r.Info().Str("listen", in.config.Listen).Msg("TCP listener stopped")
	return err
}

// countingReader counts received bytes.
type countingReader struct {
	conn  net.Conn
	count reporter.Counter
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	c.count.Add(float64(n))
	return n, err
}
