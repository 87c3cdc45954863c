// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"flowsift/common/daemon"
	"flowsift/common/helpers"
	"flowsift/common/reporter"
	"flowsift/common/schema"
)

func testConfiguration(t *testing.T) Configuration {
	config := DefaultConfiguration()
	config.Directory = t.TempDir()
	config.Observe = "sensor1"
	return config
}

func testRow() *schema.FlowRow {
	return &schema.FlowRow{
		Version: schema.Version,
		Observe: "sensor1",
		STime:   1700000000000,
		ETime:   1700000001000,
		Dur:     1000,
		Proto:   "tcp",
		Addr:    "192.168.1.10",
		RAddr:   "93.184.216.34",
		Port:    51234,
		RPort:   443,
		IFlags:  "S.a.............",
		UFlags:  "SAr.............",
		SPD:     "10110000",
		Reason:  "idle",
		MAC:     "02:00:00:00:00:01",
		RMAC:    "02:00:00:00:00:02",
		Country: "private",
		ASN:     64512,
		ASNOrg:  "private",
		Orient:  "io",
		AppID:   "tls",
	}
}

func publishedFiles(t *testing.T, directory string) []string {
	t.Helper()
	entries, err := os.ReadDir(directory)
	if err != nil {
		t.Fatalf("ReadDir() error:\n%+v", err)
	}
	files := []string{}
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	return files
}

func TestRotateWithRows(t *testing.T) {
	config := testConfiguration(t)
	r := reporter.NewMock(t)
	c, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t)})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	c.clock = mock

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error:\n%+v", err)
	}
	if err := c.Open(); err != nil {
		t.Fatalf("Open() error:\n%+v", err)
	}
	for i := 0; i < 3; i++ {
		if err := c.Append(testRow()); err != nil {
			t.Fatalf("Append() error:\n%+v", err)
		}
	}
	if c.Rows() != 3 {
		t.Errorf("Rows() got %d, expected 3", c.Rows())
	}
	if err := c.Rotate(); err != nil {
		t.Fatalf("Rotate() error:\n%+v", err)
	}

	expected := fmt.Sprintf("sensor1.%d.parquet",
		time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMicro())
	files := publishedFiles(t, config.Directory)
	if len(files) != 1 || files[0] != expected {
		t.Errorf("published files got %v, expected [%s]", files, expected)
	}

	// Rotation opened a fresh epoch.
	if c.Rows() != 0 {
		t.Errorf("Rows() got %d after rotation, expected 0", c.Rows())
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error:\n%+v", err)
	}
}

func TestEmptyEpochPublishesNothing(t *testing.T) {
	config := testConfiguration(t)
	r := reporter.NewMock(t)
	c, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t)})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error:\n%+v", err)
	}
	if err := c.Open(); err != nil {
		t.Fatalf("Open() error:\n%+v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error:\n%+v", err)
	}
	if files := publishedFiles(t, config.Directory); len(files) != 0 {
		t.Errorf("published files got %v, expected none", files)
	}
}

func TestFinalCloseNaming(t *testing.T) {
	config := testConfiguration(t)
	config.LiveNaming = true
	r := reporter.NewMock(t)
	c, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t)})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	c.clock = mock

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error:\n%+v", err)
	}
	if err := c.Append(testRow()); err != nil {
		t.Fatalf("Append() error:\n%+v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error:\n%+v", err)
	}

	files := publishedFiles(t, config.Directory)
	if len(files) != 1 {
		t.Fatalf("published files got %v, expected one", files)
	}
	if strings.Contains(files[0], ":") {
		t.Errorf("final file name %q should carry a colon-free timestamp", files[0])
	}
	if files[0] != "sensor1-2024-03-01T12-00-00.000000Z.parquet" {
		t.Errorf("final file name got %q, expected %q",
			files[0], "sensor1-2024-03-01T12-00-00.000000Z.parquet")
	}
}

func TestNoTempFileLeftBehind(t *testing.T) {
	config := testConfiguration(t)
	r := reporter.NewMock(t)
	c, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t)})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	if err := c.Open(); err != nil {
		t.Fatalf("Open() error:\n%+v", err)
	}
	if err := c.Append(testRow()); err != nil {
		t.Fatalf("Append() error:\n%+v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error:\n%+v", err)
	}
	matches, err := filepath.Glob(filepath.Join(config.Directory, ".*"))
	if err != nil {
		t.Fatalf("Glob() error:\n%+v", err)
	}
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestAppendFailureDiscardsEpoch(t *testing.T) {
	config := testConfiguration(t)
	r := reporter.NewMock(t)
	c, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t)})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	if err := c.Open(); err != nil {
		t.Fatalf("Open() error:\n%+v", err)
	}
	if err := c.Append(testRow()); err != nil {
		t.Fatalf("Append() error:\n%+v", err)
	}

	// Force the next append to fail by closing the appender under
	// the component's feet.
	if err := c.appender.Close(); err != nil {
		t.Fatalf("appender.Close() error:\n%+v", err)
	}
	if err := c.Append(testRow()); err == nil {
		t.Fatal("Append() should fail on a closed appender")
	}

	// The rows appended before the failure must not be published,
	// neither under the final name nor as a leftover temporary.
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error:\n%+v", err)
	}
	if files := publishedFiles(t, config.Directory); len(files) != 0 {
		t.Errorf("published files got %v, expected none", files)
	}
	gotMetrics := r.GetMetrics("flowsift_inlet_store_", "epochs_discarded_")
	expectedMetrics := map[string]string{
		"epochs_discarded_total": "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Errorf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestAppendWithoutEpoch(t *testing.T) {
	config := testConfiguration(t)
	r := reporter.NewMock(t)
	c, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t)})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	if err := c.Append(testRow()); err == nil {
		t.Fatal("Append() should fail without an open epoch")
	}
}

func TestMissingDirectory(t *testing.T) {
	config := testConfiguration(t)
	config.Directory = filepath.Join(config.Directory, "nonexistent")
	r := reporter.NewMock(t)
	c, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t)})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	if err := c.Start(); err == nil {
		t.Fatal("Start() should fail on a missing output directory")
	}
}
