// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package file replays flow records from a capture file. The run ends
// when the file is exhausted.
package file

import (
	"errors"
	"fmt"
	"os"

	"flowsift/common/reporter"
	"flowsift/inlet/flow/decoder"
	"flowsift/inlet/flow/input"
)

// Input represents the state of a file input.
type Input struct {
	r      *reporter.Reporter
	config Configuration

	file   *os.File
	reader *decoder.Reader
}

// Configuration describes the configuration of a file input.
type Configuration struct {
	// Path is the file to replay.
	Path string
}

// DefaultConfiguration describes the default configuration of a file input.
func DefaultConfiguration() Configuration {
	return Configuration{}
}

var _ input.Configuration = Configuration{}

// New instantiates a new file input from the provided configuration.
func (configuration Configuration) New(r *reporter.Reporter) (input.Input, error) {
	if configuration.Path == "" {
		return nil, errors.New("no input file configured")
	}
	return &Input{
		r:      r,
		config: configuration,
	}, nil
}

// Open opens the input file and binds a decoder to it.
func (in *Input) Open() error {
	f, err := os.Open(in.config.Path)
	if err != nil {
		return fmt.Errorf("cannot open %q: %w", in.config.Path, err)
	}
	in.r.Info().Str("file", in.config.Path).Msg("replaying flow records")
	in.file = f
	in.reader = decoder.NewReader(f)
	return nil
}

// Next returns the next record from the file.
func (in *Input) Next() (*decoder.FlowRecord, error) {
	return in.reader.Next()
}

// Live returns false: a file replay ends at end of input.
func (in *Input) Live() bool {
	return false
}

// Close closes the input file.
func (in *Input) Close() error {
	if in.file == nil {
		return nil
	}
	err := in.file.Close()
	in.file = nil
	in.reader = nil
	return err
}
