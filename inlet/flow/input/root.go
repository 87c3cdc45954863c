// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package input defines the interface of a flow record source.
package input

import (
	"flowsift/common/reporter"
	"flowsift/inlet/flow/decoder"
)

// Input is a source of flow records. Implementations are pulled from a
// single goroutine: Next is never called concurrently.
type Input interface {
	// Open acquires the underlying resource (file, listener).
	Open() error
	// Next returns the next record or one of the decoder sentinel
	// errors to classify the condition.
	Next() (*decoder.FlowRecord, error)
	// Close releases the underlying resource. It must be safe to
	// call after a failed Open.
	Close() error
	// Live reports whether the source is a live listener. Live
	// sources rotate the store on a timer and survive peer
	// disconnections; replayed sources rotate once at end of input.
	Live() bool
}

// Configuration defines the interface to instantiate an input from its
// configuration.
type Configuration interface {
	// New instantiates a new input from its configuration.
	New(r *reporter.Reporter) (Input, error)
}
