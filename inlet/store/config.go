// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package store

// Configuration describes the configuration for the store component.
type Configuration struct {
	// Directory is where published files land. It must exist.
	Directory string `validate:"required"`
	// Observe is the observation tag embedded in file names. When
	// empty, it is inherited from the enricher.
	Observe string
	// Codec is the compression codec of published files.
	Codec string `validate:"oneof=snappy gzip zstd uncompressed"`
	// RowGroupSize is the row group size of published files.
	RowGroupSize int `validate:"min=1"`
	// LiveNaming selects the listener-style name for the file
	// published at final close. It is derived from the input kind.
	LiveNaming bool
}

// DefaultConfiguration represents the default configuration for the
// store component.
func DefaultConfiguration() Configuration {
	return Configuration{
		Codec:        "snappy",
		RowGroupSize: 100000,
	}
}
