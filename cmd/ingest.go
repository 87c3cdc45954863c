// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"flowsift/common/daemon"
	"flowsift/common/reporter"
	"flowsift/inlet/core"
	"flowsift/inlet/dpi"
	"flowsift/inlet/flow"
	"flowsift/inlet/geoip"
	"flowsift/inlet/store"
)

// IngestConfiguration represents the configuration file for the ingest command.
type IngestConfiguration struct {
	Reporting reporter.Configuration
	Flow      flow.Configuration
	GeoIP     geoip.Configuration
	DPI       dpi.Configuration
	Store     store.Configuration
	Core      core.Configuration
}

// Reset resets the configuration for the ingest command to its default value.
func (c *IngestConfiguration) Reset() {
	*c = IngestConfiguration{
		Reporting: reporter.DefaultConfiguration(),
		Flow:      flow.DefaultConfiguration(),
		GeoIP:     geoip.DefaultConfiguration(),
		DPI:       dpi.DefaultConfiguration(),
		Store:     store.DefaultConfiguration(),
		Core:      core.DefaultConfiguration(),
	}
}

type ingestOptions struct {
	ConfigRelatedOptions
	CheckMode bool
}

// IngestOptions stores the command-line option values for the ingest
// command.
var IngestOptions ingestOptions

var ingestCmd = &cobra.Command{
	Use:   "ingest config.yaml",
	Short: "Start the ingestion pipeline",
	Long: `Flowsift ingests flow telemetry records, enriches them with address
classification, geolocation and application labels, and publishes them as
rotating columnar files.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := IngestConfiguration{}
		config.Reset()
		IngestOptions.Path = args[0]
		if err := IngestOptions.Parse(cmd.OutOrStdout(), "ingest", &config); err != nil {
			return err
		}

		r, err := reporter.New(config.Reporting)
		if err != nil {
			return fmt.Errorf("unable to initialize reporter: %w", err)
		}
		return ingestStart(r, config, IngestOptions.CheckMode)
	},
}

func init() {
	RootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVarP(&IngestOptions.ConfigRelatedOptions.Dump, "dump", "D", false,
		"Dump configuration before starting")
	ingestCmd.Flags().BoolVarP(&IngestOptions.CheckMode, "check", "C", false,
		"Check configuration, but does not start")
}

func ingestStart(r *reporter.Reporter, config IngestConfiguration, checkOnly bool) error {
	// The store shares the observation tag with the enricher and
	// names files after the input kind.
	if config.Store.Observe == "" {
		config.Store.Observe = config.Core.Observe
	}
	config.Store.LiveNaming = config.Flow.Kind == "tcp"

	// Initialize the various components
	daemonComponent, err := daemon.New(r)
	if err != nil {
		return fmt.Errorf("unable to initialize daemon component: %w", err)
	}
	flowComponent, err := flow.New(r, config.Flow, flow.Dependencies{
		Daemon: daemonComponent,
	})
	if err != nil {
		return fmt.Errorf("unable to initialize flow component: %w", err)
	}
	geoipComponent, err := geoip.New(r, config.GeoIP, geoip.Dependencies{
		Daemon: daemonComponent,
	})
	if err != nil {
		return fmt.Errorf("unable to initialize GeoIP component: %w", err)
	}
	dpiComponent, err := dpi.New(r, config.DPI)
	if err != nil {
		return fmt.Errorf("unable to initialize DPI component: %w", err)
	}
	storeComponent, err := store.New(r, config.Store, store.Dependencies{
		Daemon: daemonComponent,
	})
	if err != nil {
		return fmt.Errorf("unable to initialize store component: %w", err)
	}
	coreComponent, err := core.New(r, config.Core, core.Dependencies{
		Daemon: daemonComponent,
		Source: flowComponent,
		GeoIP:  geoipComponent,
		DPI:    dpiComponent,
		Sink:   storeComponent,
	})
	if err != nil {
		return fmt.Errorf("unable to initialize core component: %w", err)
	}

	versionMetrics(r)

	// If we only asked for a check, stop here.
	if checkOnly {
		return nil
	}

	// Start all the components. The core comes last: it needs the
	// source and the sink alive before the loop runs, and they must
	// outlive it on shutdown.
	components := []interface{}{
		geoipComponent,
		storeComponent,
		flowComponent,
		coreComponent,
	}
	return StartStopComponents(r, daemonComponent, components)
}
