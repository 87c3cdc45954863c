// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package helpers

import (
	"net/netip"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var diffCmpOptions = cmp.Options{
	cmpopts.EquateComparable(netip.Addr{}),
	cmpopts.EquateComparable(netip.Prefix{}),
	cmpopts.EquateErrors(),
}

// Diff returns a human-readable diff of two objects, or an empty
// string when they are equal.
func Diff(a, b any, options ...cmp.Option) string {
	options = append(options, diffCmpOptions...)
	return cmp.Diff(a, b, options...)
}
