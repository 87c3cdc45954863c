// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"runtime"

	"github.com/spf13/cobra"

	"flowsift/common/reporter"
	"flowsift/common/schema"
)

// Version and BuildDate are set at build time.
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func init() {
	RootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Long:  `Display version and build information about flowsift.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("flowsift %s\n", Version)
		cmd.Printf("  Build date: %s\n", BuildDate)
		cmd.Printf("  Built with: %s\n", runtime.Version())
		cmd.Printf("  Row schema: %d\n", schema.Version)
	},
}

func versionMetrics(r *reporter.Reporter) {
	r.GaugeVec(reporter.GaugeOpts{
		Name: "info",
		Help: "Flowsift build information",
	}, []string{"version", "compiler"}).
		WithLabelValues(Version, runtime.Version()).Set(1)
}
