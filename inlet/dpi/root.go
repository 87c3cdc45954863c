// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package dpi maps the protocol identifiers and risk bitmask produced
// by the metering process to human-readable application labels,
// categories and risk scores. The tables are embedded: the signature
// engine itself runs in the metering process, not here.
package dpi

import (
	"flowsift/common/reporter"
)

// Component represents the DPI labeling component.
type Component struct {
	r      *reporter.Reporter
	config Configuration

	metrics struct {
		unknownProtocol reporter.Counter
	}
}

// New creates a new DPI labeling component.
func New(r *reporter.Reporter, configuration Configuration) (*Component, error) {
	c := Component{
		r:      r,
		config: configuration,
	}
	c.metrics.unknownProtocol = c.r.Counter(
		reporter.CounterOpts{
			Name: "unknown_protocols_total",
			Help: "Number of protocol identifiers not present in the label table.",
		},
	)
	return &c, nil
}

// Trigger tells whether a risk score reaches the configured trigger
// threshold. A zero threshold disables triggering.
func (c *Component) Trigger(score uint32) int8 {
	if c.config.RiskThreshold > 0 && score >= c.config.RiskThreshold {
		return 1
	}
	return 0
}
