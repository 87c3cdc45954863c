// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package flow

import (
	"flowsift/inlet/flow/input/file"
	"flowsift/inlet/flow/input/tcp"
)

// Configuration describes the configuration for the flow component.
type Configuration struct {
	// Kind selects the input: "file" replays a capture file, "tcp"
	// listens for a metering process.
	Kind string `validate:"required,oneof=file tcp"`
	// File configures the file input.
	File file.Configuration
	// TCP configures the TCP listener input.
	TCP tcp.Configuration
}

// DefaultConfiguration represents the default configuration for the
// flow component.
func DefaultConfiguration() Configuration {
	return Configuration{
		Kind: "tcp",
		File: file.DefaultConfiguration(),
		TCP:  tcp.DefaultConfiguration(),
	}
}
