// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package core

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"flowsift/common/daemon"
	"flowsift/common/helpers"
	"flowsift/common/reporter"
	"flowsift/common/schema"
	"flowsift/inlet/dpi"
	"flowsift/inlet/flow"
	"flowsift/inlet/flow/decoder"
	"flowsift/inlet/geoip"
	"flowsift/inlet/store"
)

// loopEvent is one outcome of a Next call on the stub source.
type loopEvent struct {
	record *decoder.FlowRecord
	err    error
}

// loopSource replays a canned sequence of drain outcomes, then keeps
// returning no-data.
type loopSource struct {
	mu     sync.Mutex
	events []loopEvent
	index  int
	live   bool
}

func (s *loopSource) Next() (*decoder.FlowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index >= len(s.events) {
		// Pace the loop the way a read timeout would.
		time.Sleep(time.Millisecond)
		return nil, decoder.ErrNoData
	}
	event := s.events[s.index]
	s.index++
	return event.record, event.err
}

func (s *loopSource) Live() bool {
	return s.live
}

// loopSink is an in-memory sink recording loop interactions.
type loopSink struct {
	mu         sync.Mutex
	rows       []*schema.FlowRow
	opened     int
	rotated    int
	epochStart time.Time
	appendErr  error
}

func (s *loopSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	return nil
}

func (s *loopSink) Append(row *schema.FlowRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.rows = append(s.rows, row)
	return nil
}

func (s *loopSink) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotated++
	// Stop further time-based rotations in this test run.
	s.epochStart = time.Now().Add(time.Hour)
	return nil
}

func (s *loopSink) EpochStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epochStart
}

func (s *loopSink) stats() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows), s.opened, s.rotated
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func loopComponent(t *testing.T, source *loopSource, sink *loopSink) *Component {
	t.Helper()
	r := reporter.NewMock(t)
	dpiComponent, err := dpi.New(r, dpi.DefaultConfiguration())
	if err != nil {
		t.Fatalf("dpi.New() error:\n%+v", err)
	}
	config := DefaultConfiguration()
	config.Observe = "sensor1"
	c, err := New(r, config, Dependencies{
		Daemon: daemon.NewMock(t),
		Source: source,
		GeoIP:  testGeoLookup{},
		DPI:    dpiComponent,
		Sink:   sink,
	})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	return c
}

func TestLoopReplay(t *testing.T) {
	source := &loopSource{
		events: []loopEvent{
			{record: ipv4Record("192.168.1.10", "8.8.8.8")},
			{record: &decoder.FlowRecord{}}, // skip rule
			{record: ipv4Record("192.168.1.10", "8.8.4.4")},
			{err: decoder.ErrEndOfMessage},
			{err: io.EOF},
		},
	}
	sink := &loopSink{epochStart: time.Now()}
	c := loopComponent(t, source, sink)
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error:\n%+v", err)
	}

	// End of input in replay mode requests termination.
	select {
	case <-c.d.Daemon.Terminated():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for termination")
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error:\n%+v", err)
	}
	rows, opened, _ := sink.stats()
	if rows != 2 {
		t.Errorf("rows written got %d, expected 2", rows)
	}
	if opened != 1 {
		t.Errorf("epochs opened got %d, expected 1", opened)
	}
	if c.written != 2 || c.skipped != 1 {
		t.Errorf("counters got written=%d skipped=%d, expected 2/1", c.written, c.skipped)
	}
}

func TestLoopPeerCloseRotates(t *testing.T) {
	source := &loopSource{
		live: true,
		events: []loopEvent{
			{record: ipv4Record("192.168.1.10", "8.8.8.8")},
			{err: io.EOF}, // peer closed, listener keeps serving
			{record: ipv4Record("192.168.1.10", "8.8.4.4")},
		},
	}
	sink := &loopSink{epochStart: time.Now()}
	c := loopComponent(t, source, sink)
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error:\n%+v", err)
	}
	waitFor(t, "rotation after peer close", func() bool {
		rows, _, rotated := sink.stats()
		return rotated == 1 && rows == 2
	})
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error:\n%+v", err)
	}
}

func TestLoopTimedRotation(t *testing.T) {
	source := &loopSource{live: true}
	sink := &loopSink{epochStart: time.Now()}
	c := loopComponent(t, source, sink)
	mock := clock.NewMock()
	mock.Set(sink.EpochStart())
	c.clock = mock

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error:\n%+v", err)
	}
	_, _, rotated := sink.stats()
	if rotated != 0 {
		t.Fatalf("rotated %d times before the interval elapsed", rotated)
	}
	mock.Add(c.config.RotationInterval + time.Second)
	waitFor(t, "timed rotation", func() bool {
		_, _, rotated := sink.stats()
		return rotated == 1
	})
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error:\n%+v", err)
	}
}

func TestLoopAppendFailureIsFatal(t *testing.T) {
	source := &loopSource{
		events: []loopEvent{
			{record: ipv4Record("192.168.1.10", "8.8.8.8")},
		},
	}
	sink := &loopSink{epochStart: time.Now(), appendErr: errors.New("disk on fire")}
	c := loopComponent(t, source, sink)
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error:\n%+v", err)
	}
	waitFor(t, "loop death", func() bool {
		select {
		case <-c.t.Dead():
			return true
		default:
			return false
		}
	})
	if err := c.Stop(); err == nil {
		t.Fatal("Stop() should report the fatal append error")
	}
}

func TestLoopOversizedFatalInReplay(t *testing.T) {
	source := &loopSource{
		events: []loopEvent{
			{err: decoder.ErrMessageOversized},
		},
	}
	sink := &loopSink{epochStart: time.Now()}
	c := loopComponent(t, source, sink)
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error:\n%+v", err)
	}
	waitFor(t, "loop death", func() bool {
		select {
		case <-c.t.Dead():
			return true
		default:
			return false
		}
	})
	if err := c.Stop(); !errors.Is(err, decoder.ErrMessageOversized) {
		t.Fatalf("Stop() error %v, expected oversized", err)
	}
}

func TestLoopOversizedToleratedLive(t *testing.T) {
	source := &loopSource{
		live: true,
		events: []loopEvent{
			{err: decoder.ErrMessageOversized},
			{record: ipv4Record("192.168.1.10", "8.8.8.8")},
		},
	}
	sink := &loopSink{epochStart: time.Now()}
	c := loopComponent(t, source, sink)
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error:\n%+v", err)
	}
	waitFor(t, "record after oversized message", func() bool {
		rows, _, _ := sink.stats()
		return rows == 1
	})
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error:\n%+v", err)
	}
}

// TestEndToEndReplay exercises the whole pipeline: file input, real
// enrichment without databases, real store, one published file.
func TestEndToEndReplay(t *testing.T) {
	r := reporter.NewMock(t)
	daemonComponent := daemon.NewMock(t)
	outputDir := t.TempDir()

	records := []*decoder.FlowRecord{
		ipv4Record("192.168.1.10", "8.8.8.8"),
		{}, // skip rule
		ipv4Record("10.0.0.1", "93.184.216.34"),
	}
	records[0].SourceTransportPort = 51234
	path := filepath.Join(t.TempDir(), "flows.bin")
	if err := os.WriteFile(path, decoder.EncodeMessage(records...), 0o644); err != nil {
		t.Fatalf("WriteFile() error:\n%+v", err)
	}

	flowConfig := flow.DefaultConfiguration()
	flowConfig.Kind = "file"
	flowConfig.File.Path = path
	flowComponent, err := flow.New(r, flowConfig, flow.Dependencies{Daemon: daemonComponent})
	if err != nil {
		t.Fatalf("flow.New() error:\n%+v", err)
	}

	geoComponent, err := geoip.New(r, geoip.DefaultConfiguration(), geoip.Dependencies{Daemon: daemonComponent})
	if err != nil {
		t.Fatalf("geoip.New() error:\n%+v", err)
	}
	dpiComponent, err := dpi.New(r, dpi.DefaultConfiguration())
	if err != nil {
		t.Fatalf("dpi.New() error:\n%+v", err)
	}
	storeConfig := store.DefaultConfiguration()
	storeConfig.Directory = outputDir
	storeConfig.Observe = "sensor1"
	storeComponent, err := store.New(r, storeConfig, store.Dependencies{Daemon: daemonComponent})
	if err != nil {
		t.Fatalf("store.New() error:\n%+v", err)
	}

	coreConfig := DefaultConfiguration()
	coreConfig.Observe = "sensor1"
	coreComponent, err := New(r, coreConfig, Dependencies{
		Daemon: daemonComponent,
		Source: flowComponent,
		GeoIP:  geoComponent,
		DPI:    dpiComponent,
		Sink:   storeComponent,
	})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}

	helpers.StartStop(t, geoComponent)
	helpers.StartStop(t, storeComponent)
	helpers.StartStop(t, flowComponent)
	if err := coreComponent.Start(); err != nil {
		t.Fatalf("Start() error:\n%+v", err)
	}
	select {
	case <-daemonComponent.Terminated():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for end of replay")
	}
	if err := coreComponent.Stop(); err != nil {
		t.Fatalf("Stop() error:\n%+v", err)
	}
	// Publish the epoch before checking the directory.
	if err := storeComponent.Close(); err != nil {
		t.Fatalf("store Close() error:\n%+v", err)
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		t.Fatalf("ReadDir() error:\n%+v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("published files got %d, expected 1", len(entries))
	}
	if coreComponent.written != 2 || coreComponent.skipped != 1 {
		t.Errorf("counters got written=%d skipped=%d, expected 2/1",
			coreComponent.written, coreComponent.skipped)
	}

	gotMetrics := r.GetMetrics("flowsift_inlet_core_", "records_")
	expectedMetrics := map[string]string{
		`records_written_total`: "2",
		`records_skipped_total`: "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Errorf("metrics (-got, +want):\n%s", diff)
	}
}
