// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"flowsift/common/reporter"
)

func TestIngestStart(t *testing.T) {
	r := reporter.NewMock(t)
	config := IngestConfiguration{}
	config.Reset()
	config.Core.Observe = "sensor1"
	config.Store.Directory = t.TempDir()
	if err := ingestStart(r, config, true); err != nil {
		t.Fatalf("ingestStart() error:\n%+v", err)
	}
}

func TestIngestStartMissingObserve(t *testing.T) {
	r := reporter.NewMock(t)
	config := IngestConfiguration{}
	config.Reset()
	config.Store.Directory = t.TempDir()
	if err := ingestStart(r, config, true); err == nil {
		t.Fatal("ingestStart() did not error on missing observation tag")
	}
}

func TestIngest(t *testing.T) {
	config := fmt.Sprintf(`---
flow:
 kind: tcp
core:
 observe: sensor1
store:
 directory: %s
`, t.TempDir())
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(config), 0o644); err != nil {
		t.Fatalf("WriteFile() error:\n%+v", err)
	}

	root := RootCmd
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"ingest", "--check", configFile})
	if err := root.Execute(); err != nil {
		t.Errorf("`ingest` error:\n%+v", err)
	}
}
