// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package dpi

// Configuration describes the configuration for the DPI labeling
// component.
type Configuration struct {
	// RiskThreshold is the risk score at or above which a flow gets
	// its trigger flag set. 0 disables the trigger.
	RiskThreshold uint32
}

// DefaultConfiguration represents the default configuration for the
// DPI labeling component.
func DefaultConfiguration() Configuration {
	return Configuration{}
}
