// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package core

import "time"

// Configuration describes the configuration for the core component.
type Configuration struct {
	// Observe is the observation tag identifying the sensor. It is
	// stamped on every row.
	Observe string `validate:"required"`
	// RotationInterval is how often the store rotates in live mode.
	// File replay ignores it and rotates once, at end of input.
	RotationInterval time.Duration `validate:"min=1s"`
}

// DefaultConfiguration represents the default configuration for the
// core component.
func DefaultConfiguration() Configuration {
	return Configuration{
		RotationInterval: time.Minute,
	}
}
