// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package store persists enriched flows into rotating columnar files.
//
// Each rotation epoch is an in-memory DuckDB table fed through an
// appender. On rotation the table is exported to a dot-prefixed
// temporary file and atomically renamed into the output directory.
// The rename is the publication point: consumers globbing the
// directory never observe a partially written file. Epochs with no
// rows publish nothing.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/marcboeker/go-duckdb"

	"flowsift/common/daemon"
	"flowsift/common/reporter"
	"flowsift/common/schema"
)

// Component represents the store component.
type Component struct {
	r      *reporter.Reporter
	d      *Dependencies
	config Configuration
	clock  clock.Clock

	connector  *duckdb.Connector
	db         *sql.DB
	appender   *duckdb.Appender
	epochStart time.Time
	epochRows  uint64
	failed     bool

	metrics struct {
		filesOpened     reporter.Counter
		filesWritten    reporter.Counter
		flowsWritten    reporter.Counter
		epochsDiscarded reporter.Counter
	}
}

// Dependencies define the dependencies of the store component.
type Dependencies struct {
	Daemon daemon.Component
}

// New creates a new store component.
func New(r *reporter.Reporter, configuration Configuration, dependencies Dependencies) (*Component, error) {
	if configuration.Directory == "" {
		return nil, fmt.Errorf("no output directory configured")
	}
	c := Component{
		r:      r,
		d:      &dependencies,
		config: configuration,
		clock:  clock.New(),
	}
	c.metrics.filesOpened = c.r.Counter(
		reporter.CounterOpts{
			Name: "epochs_opened_total",
			Help: "Number of rotation epochs opened.",
		},
	)
	c.metrics.filesWritten = c.r.Counter(
		reporter.CounterOpts{
			Name: "files_published_total",
			Help: "Number of columnar files published to the output directory.",
		},
	)
	c.metrics.flowsWritten = c.r.Counter(
		reporter.CounterOpts{
			Name: "flows_written_total",
			Help: "Number of flows appended to the current epoch.",
		},
	)
	c.metrics.epochsDiscarded = c.r.Counter(
		reporter.CounterOpts{
			Name: "epochs_discarded_total",
			Help: "Number of epochs discarded after an append failure.",
		},
	)
	return &c, nil
}

// Open starts a new rotation epoch: a fresh in-memory table and an
// appender bound to it. Any failure is fatal to the run.
func (c *Component) Open() error {
	if c.db != nil {
		return fmt.Errorf("epoch already open")
	}
	connector, err := duckdb.NewConnector("", nil)
	if err != nil {
		return fmt.Errorf("cannot create store connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if _, err := db.ExecContext(context.Background(), schema.DDL()); err != nil {
		db.Close()
		connector.Close()
		return fmt.Errorf("cannot create flow table: %w", err)
	}
	conn, err := connector.Connect(context.Background())
	if err != nil {
		db.Close()
		connector.Close()
		return fmt.Errorf("cannot connect to store: %w", err)
	}
	appender, err := duckdb.NewAppenderFromConn(conn, "", schema.TableName)
	if err != nil {
		db.Close()
		connector.Close()
		return fmt.Errorf("cannot create appender: %w", err)
	}
	c.connector = connector
	c.db = db
	c.appender = appender
	c.epochStart = c.clock.Now().UTC()
	c.epochRows = 0
	c.failed = false
	c.metrics.filesOpened.Inc()
	c.r.Debug().Time("epoch", c.epochStart).Msg("new epoch opened")
	return nil
}

// Append writes one enriched flow to the current epoch. An append
// failure marks the epoch failed: its contents are suspect and it will
// never be published. The session owning this store must terminate.
func (c *Component) Append(row *schema.FlowRow) error {
	if c.appender == nil {
		return fmt.Errorf("no open epoch")
	}
	if err := c.appender.AppendRow(row.Values()...); err != nil {
		c.failed = true
		return fmt.Errorf("cannot append flow: %w", err)
	}
	c.epochRows++
	c.metrics.flowsWritten.Inc()
	return nil
}

// Rows returns the number of rows appended to the current epoch.
func (c *Component) Rows() uint64 {
	return c.epochRows
}

// EpochStart returns the start time of the current epoch.
func (c *Component) EpochStart() time.Time {
	return c.epochStart
}

// Rotate closes the current epoch, publishes it if it holds any rows
// and opens a fresh one.
func (c *Component) Rotate() error {
	if err := c.close(false); err != nil {
		return err
	}
	return c.Open()
}

// Close closes the current epoch without opening a new one. This is
// the final close: rows get their identifier assigned in bulk before
// export, and the published file carries the listener-style name.
func (c *Component) Close() error {
	return c.close(true)
}

// close flushes and tears down the current epoch. The identifier
// assignment runs only at final close to keep rotation cheap.
func (c *Component) close(final bool) error {
	if c.db == nil {
		return nil
	}
	defer func() {
		c.db.Close()
		c.connector.Close()
		c.connector = nil
		c.db = nil
		c.appender = nil
	}()
	if c.failed {
		// Rows appended before the failure must never reach the
		// output directory. Tear down without exporting.
		if c.appender != nil {
			c.appender.Close()
		}
		c.metrics.epochsDiscarded.Inc()
		c.r.Warn().Uint64("rows", c.epochRows).Msg("discarding failed epoch")
		return nil
	}
	if err := c.appender.Close(); err != nil {
		return fmt.Errorf("cannot flush appender: %w", err)
	}
	c.appender = nil
	if final {
		query := fmt.Sprintf("UPDATE %s SET id = uuid() WHERE id IS NULL", schema.TableName)
		if _, err := c.db.ExecContext(context.Background(), query); err != nil {
			return fmt.Errorf("cannot assign row identifiers: %w", err)
		}
	}
	if c.epochRows == 0 {
		c.r.Debug().Msg("empty epoch, nothing to publish")
		return nil
	}
	return c.export(final)
}

// export publishes the current table. The write goes to a dot-prefixed
// temporary name first, then an atomic rename makes it visible.
func (c *Component) export(final bool) error {
	name := c.fileName(final)
	tempPath := filepath.Join(c.config.Directory, "."+name)
	finalPath := filepath.Join(c.config.Directory, name)
	query := fmt.Sprintf("COPY (SELECT * FROM %s) TO '%s' (FORMAT 'parquet', CODEC '%s', ROW_GROUP_SIZE %d)",
		schema.TableName, tempPath, c.config.Codec, c.config.RowGroupSize)
	if _, err := c.db.ExecContext(context.Background(), query); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("cannot export epoch: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("cannot publish %s: %w", name, err)
	}
	c.metrics.filesWritten.Inc()
	c.r.Info().
		Str("file", finalPath).
		Uint64("rows", c.epochRows).
		Msg("epoch published")
	return nil
}

// fileName builds the published file name for the current epoch. Both
// forms embed the observation tag and a microsecond timestamp, keeping
// names unique across rotations and across sensors sharing a
// directory.
func (c *Component) fileName(final bool) string {
	if final && c.config.LiveNaming {
		stamp := c.epochStart.Format("2006-01-02T15:04:05.000000Z07:00")
		return fmt.Sprintf("%s-%s.parquet", c.config.Observe, strings.ReplaceAll(stamp, ":", "-"))
	}
	return fmt.Sprintf("%s.%d.parquet", c.config.Observe, c.epochStart.UnixMicro())
}

// Start starts the store component. The first epoch is opened by the
// ingestion loop, not here: an epoch should not exist before a source
// is bound.
func (c *Component) Start() error {
	c.r.Info().Msg("starting store component")
	info, err := os.Stat(c.config.Directory)
	if err != nil {
		return fmt.Errorf("cannot access output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path %s is not a directory", c.config.Directory)
	}
	return nil
}

// Stop stops the store component, closing any epoch still open.
func (c *Component) Stop() error {
	c.r.Info().Msg("stopping store component")
	defer c.r.Info().Msg("store component stopped")
	return c.Close()
}
