// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package core binds the flow source, the enrichment transform and the
// rotating store together. A single goroutine drains the source,
// enriches each record and appends it, checking the quit signal and
// the rotation deadline once per iteration.
package core

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
	"gopkg.in/tomb.v2"

	"flowsift/common/daemon"
	"flowsift/common/reporter"
	"flowsift/common/schema"
	"flowsift/inlet/dpi"
	"flowsift/inlet/flow/decoder"
)

// Source yields decoded flow records.
type Source interface {
	Next() (*decoder.FlowRecord, error)
	Live() bool
}

// GeoLookup resolves addresses to country and AS identity. Zero
// values mean a miss or an absent database.
type GeoLookup interface {
	LookupCountry(ip netip.Addr) string
	LookupASN(ip netip.Addr) (uint32, string)
}

// Sink persists enriched rows into rotating epochs. Final close is
// owned by the store component itself, not by the loop.
type Sink interface {
	Open() error
	Append(row *schema.FlowRow) error
	Rotate() error
	EpochStart() time.Time
}

// Component represents the core component.
type Component struct {
	r      *reporter.Reporter
	d      *Dependencies
	t      tomb.Tomb
	config Configuration
	clock  clock.Clock

	written uint64
	skipped uint64

	metrics struct {
		written     reporter.Counter
		skipped     reporter.Counter
		errors      *reporter.CounterVec
		drainEvents *reporter.CounterVec
	}
}

// Dependencies define the dependencies of the core component.
type Dependencies struct {
	Daemon daemon.Component
	Source Source
	GeoIP  GeoLookup
	DPI    *dpi.Component
	Sink   Sink
}

// New creates a new core component.
func New(r *reporter.Reporter, configuration Configuration, dependencies Dependencies) (*Component, error) {
	if configuration.Observe == "" {
		return nil, errors.New("no observation tag configured")
	}
	c := Component{
		r:      r,
		d:      &dependencies,
		config: configuration,
		clock:  clock.New(),
	}
	c.d.Daemon.Track(&c.t, "inlet/core")
	c.metrics.written = c.r.Counter(
		reporter.CounterOpts{
			Name: "records_written_total",
			Help: "Number of records enriched and appended to the store.",
		},
	)
	c.metrics.skipped = c.r.Counter(
		reporter.CounterOpts{
			Name: "records_skipped_total",
			Help: "Number of records skipped by the enrichment transform.",
		},
	)
	c.metrics.errors = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "errors_total",
			Help: "Number of fatal errors ending the run.",
		},
		[]string{"error"},
	)
	c.metrics.drainEvents = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "drain_events_total",
			Help: "Source drain outcomes other than a record.",
		},
		[]string{"status"},
	)
	return &c, nil
}

// Start opens the first store epoch and starts the ingestion loop.
func (c *Component) Start() error {
	c.r.Info().Msg("starting core component")
	if err := c.d.Sink.Open(); err != nil {
		return fmt.Errorf("cannot open initial epoch: %w", err)
	}
	c.t.Go(c.run)
	return nil
}

// run is the ingestion loop. It exits on a quit request, on end of
// input in replay mode, or with an error on a fatal condition.
func (c *Component) run() error {
	live := c.d.Source.Live()
	for {
		select {
		case <-c.t.Dying():
			c.logCompletion()
			return nil
		default:
		}
		if live && c.clock.Now().Sub(c.d.Sink.EpochStart()) >= c.config.RotationInterval {
			if err := c.d.Sink.Rotate(); err != nil {
				return c.fatal("rotate", err)
			}
		}

		record, err := c.d.Source.Next()
		if err == nil {
			row, err := c.enrich(record)
			switch {
			case errors.Is(err, errSkippedRecord):
				c.skipped++
				c.metrics.skipped.Inc()
			case err != nil:
				return c.fatal("enrich", err)
			default:
				if err := c.d.Sink.Append(row); err != nil {
					return c.fatal("append", err)
				}
				c.written++
				c.metrics.written.Inc()
			}
			continue
		}

		switch {
		case errors.Is(err, decoder.ErrEndOfMessage):
			c.metrics.drainEvents.WithLabelValues("eom").Inc()
		case errors.Is(err, decoder.ErrNoData):
			c.metrics.drainEvents.WithLabelValues("nodata").Inc()
		case errors.Is(err, io.EOF):
			c.metrics.drainEvents.WithLabelValues("eof").Inc()
			if live {
				// Peer disconnected: publish the current epoch
				// and await a new connection.
				if err := c.d.Sink.Rotate(); err != nil {
					return c.fatal("rotate", err)
				}
				continue
			}
			c.r.Info().Msg("end of input")
			c.logCompletion()
			c.d.Daemon.Terminate()
			return nil
		case errors.Is(err, decoder.ErrMessageOversized):
			c.metrics.drainEvents.WithLabelValues("oversized").Inc()
			if live {
				// The input already dropped the offending
				// connection. Keep serving.
				continue
			}
			return c.fatal("oversized", err)
		default:
			// Malformed messages and connection/read errors.
			return c.fatal("read", err)
		}
	}
}

// fatal records a fatal condition and ends the run. The daemon picks
// the tomb's death up and terminates the process.
func (c *Component) fatal(kind string, err error) error {
	c.metrics.errors.WithLabelValues(kind).Inc()
	c.r.Err(err).Str("error", kind).Msg("fatal error, ending run")
	c.logCompletion()
	return err
}

func (c *Component) logCompletion() {
	c.r.Info().
		Uint64("written", c.written).
		Uint64("skipped", c.skipped).
		Msg("run completed")
}

// Stop stops the core component and reports the run's outcome: a
// non-nil error means the run ended on a fatal condition.
func (c *Component) Stop() error {
	c.r.Info().Msg("stopping core component")
	defer c.r.Info().Msg("core component stopped")
	c.t.Kill(nil)
	return c.t.Wait()
}
