// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package flow handles the source of flow records: a replayed capture
// file or a live TCP listener.
package flow

import (
	"fmt"

	"flowsift/common/daemon"
	"flowsift/common/reporter"
	"flowsift/inlet/flow/decoder"
	"flowsift/inlet/flow/input"
)

// Component represents the flow component.
type Component struct {
	r      *reporter.Reporter
	d      *Dependencies
	config Configuration

	input input.Input
}

// Dependencies are the dependencies of the flow component.
type Dependencies struct {
	Daemon daemon.Component
}

// New creates a new flow component.
func New(r *reporter.Reporter, configuration Configuration, dependencies Dependencies) (*Component, error) {
	// The record layout is a contract with the metering process.
	// Refuse to start on a mismatch.
	if err := decoder.ValidateTemplate(); err != nil {
		return nil, fmt.Errorf("record template mismatch: %w", err)
	}

	c := Component{
		r:      r,
		d:      &dependencies,
		config: configuration,
	}
	var inputConfiguration input.Configuration
	switch configuration.Kind {
	case "file":
		inputConfiguration = configuration.File
	case "tcp":
		inputConfiguration = configuration.TCP
	default:
		return nil, fmt.Errorf("unknown input kind %q", configuration.Kind)
	}
	var err error
	if c.input, err = inputConfiguration.New(r); err != nil {
		return nil, err
	}
	return &c, nil
}

// Start opens the configured input.
func (c *Component) Start() error {
	c.r.Info().Str("kind", c.config.Kind).Msg("starting flow component")
	return c.input.Open()
}

// Next returns the next record from the input.
func (c *Component) Next() (*decoder.FlowRecord, error) {
	return c.input.Next()
}

// Live reports whether the input is a live listener.
func (c *Component) Live() bool {
	return c.input.Live()
}

// Input returns the underlying input, for testing purposes.
func (c *Component) Input() input.Input {
	return c.input
}

// Stop closes the input.
func (c *Component) Stop() error {
	defer c.r.Info().Msg("flow component stopped")
	return c.input.Close()
}
